// Package config implements composition of layered YAML configuration
// documents: a root document selects named sub-documents per group, override
// documents and command-line overrides are deep-merged on top, and ${...}
// interpolations are resolved against the merged tree.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is a parsed configuration document: a nested tree of
// map[string]any, []any and scalars as produced by yaml.v3.
type Node struct {
	root map[string]any
}

// NewNode returns an empty Node.
func NewNode() *Node {
	return &Node{root: map[string]any{}}
}

// ParseNode parses a YAML document into a Node. An empty document yields an
// empty Node; a non-mapping top level is an error.
func ParseNode(data []byte) (*Node, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config document: %w", err)
	}
	if raw == nil {
		return NewNode(), nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config document must be a mapping, got %T", raw)
	}
	return &Node{root: m}, nil
}

// Map returns the underlying tree. Callers must not mutate it.
func (n *Node) Map() map[string]any {
	return n.root
}

// Get returns the value at a dotted path ("run.seed"). The second return is
// false if any segment is missing or a non-mapping is traversed.
func (n *Node) Get(path string) (any, bool) {
	cur := any(n.root)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString returns the value at path as a string, or "" if absent.
func (n *Node) GetString(path string) string {
	v, ok := n.Get(path)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Set writes a value at a dotted path, creating intermediate mappings.
// Traversing an existing non-mapping value is an error.
func (n *Node) Set(path string, value any) error {
	segs := strings.Split(path, ".")
	cur := n.root
	for i, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set %q: %q is not a mapping", path, strings.Join(segs[:i+1], "."))
		}
		cur = m
	}
	cur[segs[len(segs)-1]] = value
	return nil
}

// Merge deep-merges other into n. Mappings merge recursively; all other
// values, including sequences, are replaced by the later document.
func (n *Node) Merge(other *Node) {
	n.root = mergeMaps(n.root, other.root)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	return &Node{root: copyMap(n.root)}
}

// Marshal renders the tree back to YAML with stable key order.
func (n *Node) Marshal() ([]byte, error) {
	return yaml.Marshal(n.root)
}

// Keys returns the sorted top-level keys.
func (n *Node) Keys() []string {
	keys := make([]string, 0, len(n.root))
	for k := range n.root {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delete removes the value at a dotted path. Missing paths are ignored.
func (n *Node) Delete(path string) {
	segs := strings.Split(path, ".")
	cur := n.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, segs[len(segs)-1])
}

func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		bv, exists := out[k]
		bm, baseIsMap := bv.(map[string]any)
		om, overlayIsMap := v.(map[string]any)
		if exists && baseIsMap && overlayIsMap {
			out[k] = mergeMaps(bm, om)
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// coerceScalar converts a command-line override value string to the YAML
// scalar it would parse as: bool, int, float, null or string.
func coerceScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null", "~":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner := strings.TrimSpace(s[1 : len(s)-1])
		if inner == "" {
			return []any{}
		}
		parts := strings.Split(inner, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, coerceScalar(strings.TrimSpace(p)))
		}
		return out
	}
	return s
}
