package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNodeGetSet(t *testing.T) {
	n := NewNode()
	if err := n.Set("run.seed", 42); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := n.Set("run.name", "baseline"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok := n.Get("run.seed")
	if !ok || v != 42 {
		t.Errorf("Get(run.seed) = %v, %v; want 42, true", v, ok)
	}
	if got := n.GetString("run.name"); got != "baseline" {
		t.Errorf("GetString(run.name) = %q; want baseline", got)
	}
	if _, ok := n.Get("run.missing"); ok {
		t.Error("Get(run.missing) reported present")
	}
	if _, ok := n.Get("run.seed.deeper"); ok {
		t.Error("Get through a scalar reported present")
	}
}

func TestNodeSetThroughScalar(t *testing.T) {
	n := NewNode()
	if err := n.Set("a", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := n.Set("a.b", 2); err == nil {
		t.Error("expected error setting through scalar, got nil")
	}
}

func TestMergeDeep(t *testing.T) {
	base, err := ParseNode([]byte("world:\n  width: 32\n  drift: false\nrun:\n  seed: 1\n"))
	if err != nil {
		t.Fatalf("ParseNode: %v", err)
	}
	overlay, err := ParseNode([]byte("world:\n  drift: true\n"))
	if err != nil {
		t.Fatalf("ParseNode: %v", err)
	}

	base.Merge(overlay)

	want := map[string]any{
		"world": map[string]any{"width": 32, "drift": true},
		"run":   map[string]any{"seed": 1},
	}
	if diff := cmp.Diff(want, base.Map()); diff != "" {
		t.Errorf("merged tree mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeReplacesSequences(t *testing.T) {
	base, _ := ParseNode([]byte("xs: [1, 2, 3]\n"))
	overlay, _ := ParseNode([]byte("xs: [4]\n"))
	base.Merge(overlay)

	v, _ := base.Get("xs")
	if diff := cmp.Diff([]any{4}, v); diff != "" {
		t.Errorf("sequence not replaced (-want +got):\n%s", diff)
	}
}

// Applying the same overlay twice must equal applying it once.
func TestMergeIdempotent(t *testing.T) {
	doc := "run:\n  seed: 1\nworld:\n  width: 32\n  objects: 3\n"
	overlay := "world:\n  objects: 5\nrun:\n  name: sweep\n"

	once, _ := ParseNode([]byte(doc))
	ov1, _ := ParseNode([]byte(overlay))
	once.Merge(ov1)

	twice, _ := ParseNode([]byte(doc))
	ov2, _ := ParseNode([]byte(overlay))
	ov3, _ := ParseNode([]byte(overlay))
	twice.Merge(ov2)
	twice.Merge(ov3)

	if diff := cmp.Diff(once.Map(), twice.Map()); diff != "" {
		t.Errorf("merge not idempotent (-once +twice):\n%s", diff)
	}
}

func TestMergeDoesNotAliasOverlay(t *testing.T) {
	base, _ := ParseNode([]byte("a:\n  b: 1\n"))
	overlay, _ := ParseNode([]byte("c:\n  d: 2\n"))
	base.Merge(overlay)

	if err := base.Set("c.d", 99); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := overlay.Get("c.d"); v == 99 {
		t.Error("merge aliased the overlay tree")
	}
}

func TestParseNodeRejectsNonMapping(t *testing.T) {
	if _, err := ParseNode([]byte("- 1\n- 2\n")); err == nil {
		t.Error("expected error for sequence document, got nil")
	}
	if _, err := ParseNode([]byte("{{not yaml")); err == nil {
		t.Error("expected error for malformed document, got nil")
	}
}

func TestCoerceScalar(t *testing.T) {
	testCases := []struct {
		input    string
		expected any
	}{
		{"true", true},
		{"false", false},
		{"null", nil},
		{"42", 42},
		{"-7", -7},
		{"0.001", 0.001},
		{"3e-4", 3e-4},
		{"fmppo", "fmppo"},
		{"[1, 2, 3]", []any{1, 2, 3}},
		{"[]", []any{}},
	}
	for _, tc := range testCases {
		got := coerceScalar(tc.input)
		if diff := cmp.Diff(tc.expected, got); diff != "" {
			t.Errorf("coerceScalar(%q) mismatch (-want +got):\n%s", tc.input, diff)
		}
	}
}
