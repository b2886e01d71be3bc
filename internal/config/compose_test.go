package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// writeConfigTree lays out a config directory for composition tests.
func writeConfigTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func baseTree() map[string]string {
	return map[string]string{
		"config.yaml": `
defaults:
  - world: moonlander
  - algorithm: fmppo
  - _self_
run:
  name: baseline
  seed: 7
  total_steps: 10000
  output_dir: runs/${run.name}
`,
		"world/moonlander.yaml": `
width: 32
height: 32
difficulty: easy
`,
		"world/crater.yaml": `
width: 48
height: 48
difficulty: hard
`,
		"algorithm/fmppo.yaml": `
name: fmppo
learning_rate: 3.0e-4
forward_model: true
`,
		"algorithm/ppo.yaml": `
name: ppo
learning_rate: 1.0e-3
forward_model: false
`,
	}
}

func TestComposeDefaults(t *testing.T) {
	dir := writeConfigTree(t, baseTree())
	node, err := NewComposer(dir).Compose("config", nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if got := node.GetString("world.difficulty"); got != "easy" {
		t.Errorf("world.difficulty = %q; want easy", got)
	}
	if got := node.GetString("algorithm.name"); got != "fmppo" {
		t.Errorf("algorithm.name = %q; want fmppo", got)
	}
	if got := node.GetString("run.output_dir"); got != "runs/baseline" {
		t.Errorf("run.output_dir = %q; want runs/baseline", got)
	}
	if _, ok := node.Get("defaults"); ok {
		t.Error("defaults list leaked into composed tree")
	}
}

func TestComposeGroupSwap(t *testing.T) {
	dir := writeConfigTree(t, baseTree())
	node, err := NewComposer(dir).Compose("config", []string{"algorithm=ppo", "world=crater"})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if got := node.GetString("algorithm.name"); got != "ppo" {
		t.Errorf("algorithm.name = %q; want ppo", got)
	}
	if v, _ := node.Get("world.width"); v != 48 {
		t.Errorf("world.width = %v; want 48", v)
	}
}

func TestComposeLeafOverrides(t *testing.T) {
	dir := writeConfigTree(t, baseTree())
	overrides := []string{
		"run.seed=99",
		"algorithm.learning_rate=1e-4",
		"world.drift=true",
	}
	node, err := NewComposer(dir).Compose("config", overrides)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if v, _ := node.Get("run.seed"); v != 99 {
		t.Errorf("run.seed = %v; want 99", v)
	}
	if v, _ := node.Get("algorithm.learning_rate"); v != 1e-4 {
		t.Errorf("algorithm.learning_rate = %v; want 1e-4", v)
	}
	if v, _ := node.Get("world.drift"); v != true {
		t.Errorf("world.drift = %v; want true", v)
	}
}

// Composing with the same override twice must equal composing with it once.
func TestComposeOverrideIdempotent(t *testing.T) {
	dir := writeConfigTree(t, baseTree())
	c := NewComposer(dir)

	once, err := c.Compose("config", []string{"run.seed=5"})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	twice, err := c.Compose("config", []string{"run.seed=5", "run.seed=5"})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if diff := cmp.Diff(once.Map(), twice.Map()); diff != "" {
		t.Errorf("override application not idempotent (-once +twice):\n%s", diff)
	}
}

func TestComposeMissingGroupDocument(t *testing.T) {
	tree := baseTree()
	delete(tree, "algorithm/fmppo.yaml")
	dir := writeConfigTree(t, tree)

	_, err := NewComposer(dir).Compose("config", nil)
	if err == nil {
		t.Fatal("expected error for missing sub-document, got nil")
	}
	if !strings.Contains(err.Error(), "algorithm=fmppo") {
		t.Errorf("error %q does not name the defaults entry", err)
	}
}

func TestComposeInvalidOverride(t *testing.T) {
	dir := writeConfigTree(t, baseTree())
	if _, err := NewComposer(dir).Compose("config", []string{"run.seed"}); err == nil {
		t.Error("expected error for override without '=', got nil")
	}
}

func TestInterpolationChain(t *testing.T) {
	dir := writeConfigTree(t, map[string]string{
		"config.yaml": `
run:
  name: trial
  tag: ${run.name}-v2
  dir: out/${run.tag}
`,
	})
	node, err := NewComposer(dir).Compose("config", nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if got := node.GetString("run.dir"); got != "out/trial-v2" {
		t.Errorf("run.dir = %q; want out/trial-v2", got)
	}
}

func TestInterpolationPreservesType(t *testing.T) {
	dir := writeConfigTree(t, map[string]string{
		"config.yaml": `
run:
  seed: 42
sweep:
  seed: ${run.seed}
`,
	})
	node, err := NewComposer(dir).Compose("config", nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if v, _ := node.Get("sweep.seed"); v != 42 {
		t.Errorf("sweep.seed = %v (%T); want int 42", v, v)
	}
}

func TestInterpolationCycle(t *testing.T) {
	dir := writeConfigTree(t, map[string]string{
		"config.yaml": `
a: ${b}
b: ${a}
`,
	})
	if _, err := NewComposer(dir).Compose("config", nil); err == nil {
		t.Error("expected error for interpolation cycle, got nil")
	}
}

func TestInterpolationUnresolved(t *testing.T) {
	dir := writeConfigTree(t, map[string]string{
		"config.yaml": "a: ${missing.key}\n",
	})
	if _, err := NewComposer(dir).Compose("config", nil); err == nil {
		t.Error("expected error for unresolved reference, got nil")
	}
}

func TestInterpolationEnv(t *testing.T) {
	dir := writeConfigTree(t, map[string]string{
		"config.yaml": "tracking:\n  host: ${env:TRACKER_HOST}\n",
	})
	c := NewComposer(dir)
	c.LookupEnv = func(name string) (string, bool) {
		if name == "TRACKER_HOST" {
			return "tracker.local", true
		}
		return "", false
	}
	node, err := c.Compose("config", nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if got := node.GetString("tracking.host"); got != "tracker.local" {
		t.Errorf("tracking.host = %q; want tracker.local", got)
	}

	c.LookupEnv = func(string) (string, bool) { return "", false }
	if _, err := c.Compose("config", nil); err == nil {
		t.Error("expected error for unset environment variable, got nil")
	}
}

func TestParseDefaultsErrors(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"non_sequence", "defaults: fmppo\n"},
		{"unknown_string", "defaults:\n  - fmppo\n"},
		{"multi_key_entry", "defaults:\n  - world: a\n    algorithm: b\n"},
		{"duplicate_group", "defaults:\n  - world: a\n  - world: b\n"},
		{"non_string_selection", "defaults:\n  - world: 3\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			node, err := ParseNode([]byte(tc.doc))
			if err != nil {
				t.Fatalf("ParseNode: %v", err)
			}
			if _, err := parseDefaults(node); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
