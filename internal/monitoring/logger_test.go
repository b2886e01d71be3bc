package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Logf("[sweep] trial %d finished", 3)
	if len(lines) != 1 || lines[0] != "[sweep] trial 3 finished" {
		t.Errorf("unexpected captured lines %v", lines)
	}
}

func TestSetLoggerNil(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	// Must be a silent no-op, not a nil function.
	Logf("dropped")
	if called {
		t.Error("nil logger should mute output, not forward it")
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must have a default backend")
	}
}
