package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// selfMarker positions the root document's own keys within the defaults
// merge order.
const selfMarker = "_self_"

// maxConfigFileSize bounds individual config documents.
const maxConfigFileSize = 1 * 1024 * 1024

// Composer loads and merges configuration documents from a directory tree.
// Group selections in the root document's defaults list resolve to
// <dir>/<group>/<name>.yaml mounted under the group key.
type Composer struct {
	dir string

	// LookupEnv resolves ${env:NAME} interpolations. Defaults to
	// os.LookupEnv; tests inject their own.
	LookupEnv func(string) (string, bool)
}

// NewComposer creates a Composer rooted at dir.
func NewComposer(dir string) *Composer {
	return &Composer{dir: dir, LookupEnv: os.LookupEnv}
}

// Compose loads the root document <dir>/<root>.yaml, resolves its defaults
// list, applies overrides in order and resolves interpolations. Override
// strings take the form "a.b.c=value"; a "group=name" override whose key
// names a defaults group swaps the selected sub-document instead.
func (c *Composer) Compose(root string, overrides []string) (*Node, error) {
	rootNode, err := c.loadDocument(filepath.Join(c.dir, root+".yaml"))
	if err != nil {
		return nil, err
	}

	defaults, err := parseDefaults(rootNode)
	if err != nil {
		return nil, fmt.Errorf("%s.yaml: %w", root, err)
	}

	// Group swaps from overrides apply before sub-documents load.
	var leafOverrides []string
	for _, ov := range overrides {
		key, value, ok := strings.Cut(ov, "=")
		if !ok {
			return nil, fmt.Errorf("invalid override %q: expected key=value", ov)
		}
		key = strings.TrimSpace(key)
		if swapped := defaults.swap(key, strings.TrimSpace(value)); swapped {
			continue
		}
		leafOverrides = append(leafOverrides, ov)
	}

	merged := NewNode()
	selfSeen := false
	for _, entry := range defaults.entries {
		if entry.group == selfMarker {
			merged.Merge(rootNode)
			selfSeen = true
			continue
		}
		sub, err := c.loadDocument(filepath.Join(c.dir, entry.group, entry.name+".yaml"))
		if err != nil {
			return nil, fmt.Errorf("defaults entry %s=%s: %w", entry.group, entry.name, err)
		}
		wrapped := NewNode()
		if err := wrapped.Set(entry.group, sub.Map()); err != nil {
			return nil, err
		}
		merged.Merge(wrapped)
	}
	if !selfSeen {
		merged.Merge(rootNode)
	}
	merged.Delete("defaults")

	for _, ov := range leafOverrides {
		key, value, _ := strings.Cut(ov, "=")
		if err := merged.Set(strings.TrimSpace(key), coerceScalar(strings.TrimSpace(value))); err != nil {
			return nil, fmt.Errorf("applying override %q: %w", ov, err)
		}
	}

	if err := c.interpolate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Composer) loadDocument(path string) (*Node, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have a .yaml extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s too large: %d bytes (max %d)", clean, info.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	node, err := ParseNode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}
	return node, nil
}

// defaultsList is the ordered group selection parsed from a root document.
type defaultsList struct {
	entries []defaultsEntry
}

type defaultsEntry struct {
	group string
	name  string
}

// swap replaces the selection for group, returning false if the group is
// not part of the defaults list.
func (d *defaultsList) swap(group, name string) bool {
	for i := range d.entries {
		if d.entries[i].group == group {
			d.entries[i].name = name
			return true
		}
	}
	return false
}

// parseDefaults reads the root document's defaults list. Entries are either
// single-pair mappings ({algorithm: fmppo}) or the literal _self_ marker.
func parseDefaults(root *Node) (*defaultsList, error) {
	raw, ok := root.Get("defaults")
	if !ok {
		return &defaultsList{}, nil
	}
	seq, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("defaults must be a sequence, got %T", raw)
	}
	list := &defaultsList{}
	seen := map[string]bool{}
	for i, entry := range seq {
		switch e := entry.(type) {
		case string:
			if e != selfMarker {
				return nil, fmt.Errorf("defaults[%d]: unknown entry %q", i, e)
			}
			list.entries = append(list.entries, defaultsEntry{group: selfMarker})
		case map[string]any:
			if len(e) != 1 {
				return nil, fmt.Errorf("defaults[%d]: entry must have exactly one group", i)
			}
			for group, name := range e {
				nameStr, ok := name.(string)
				if !ok {
					return nil, fmt.Errorf("defaults[%d]: selection for group %q must be a string", i, group)
				}
				if seen[group] {
					return nil, fmt.Errorf("defaults[%d]: duplicate group %q", i, group)
				}
				seen[group] = true
				list.entries = append(list.entries, defaultsEntry{group: group, name: nameStr})
			}
		default:
			return nil, fmt.Errorf("defaults[%d]: unsupported entry type %T", i, entry)
		}
	}
	return list, nil
}

var interpPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// maxInterpDepth bounds chained interpolation so reference cycles fail
// instead of looping.
const maxInterpDepth = 16

// interpolate resolves ${a.b.c} and ${env:NAME} references in every string
// leaf of the tree.
func (c *Composer) interpolate(n *Node) error {
	return c.interpWalk(n, n.root, "")
}

func (c *Composer) interpWalk(n *Node, v any, path string) error {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if s, ok := child.(string); ok {
				resolved, err := c.resolveString(n, s, 0)
				if err != nil {
					return fmt.Errorf("interpolating %q: %w", childPath, err)
				}
				val[k] = resolved
				continue
			}
			if err := c.interpWalk(n, child, childPath); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range val {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if s, ok := child.(string); ok {
				resolved, err := c.resolveString(n, s, 0)
				if err != nil {
					return fmt.Errorf("interpolating %q: %w", childPath, err)
				}
				val[i] = resolved
				continue
			}
			if err := c.interpWalk(n, child, childPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveString expands interpolations in s. A reference whose target is
// itself exactly one interpolation preserves the target's type; embedded
// references stringify.
func (c *Composer) resolveString(n *Node, s string, depth int) (any, error) {
	if depth > maxInterpDepth {
		return nil, fmt.Errorf("interpolation depth exceeded (reference cycle?)")
	}
	matches := interpPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string single reference: preserve the referenced type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		ref := s[matches[0][2]:matches[0][3]]
		target, err := c.lookupRef(n, ref)
		if err != nil {
			return nil, err
		}
		if ts, ok := target.(string); ok {
			return c.resolveString(n, ts, depth+1)
		}
		return target, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		ref := s[m[2]:m[3]]
		target, err := c.lookupRef(n, ref)
		if err != nil {
			return nil, err
		}
		if ts, ok := target.(string); ok {
			resolved, err := c.resolveString(n, ts, depth+1)
			if err != nil {
				return nil, err
			}
			target = resolved
		}
		fmt.Fprintf(&b, "%v", target)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func (c *Composer) lookupRef(n *Node, ref string) (any, error) {
	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		v, found := c.LookupEnv(name)
		if !found {
			return nil, fmt.Errorf("environment variable %q is not set", name)
		}
		return v, nil
	}
	v, found := n.Get(ref)
	if !found {
		return nil, fmt.Errorf("reference %q does not resolve", ref)
	}
	return v, nil
}
