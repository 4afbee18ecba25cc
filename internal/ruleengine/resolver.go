package ruleengine

import "strings"

// Resolve walks a dot-separated field path through the snapshot and returns
// the value it lands on. The second return reports whether the path resolved
// at all: an absent key and a key holding JSON null are different outcomes
// ((nil, false) vs (nil, true)), and matchers rely on that distinction.
//
// Every path segment must descend through a mapping. A segment that hits a
// scalar or a list fails resolution rather than erroring: rules routinely
// probe fields that only some device snapshots carry.
func (s Snapshot) Resolve(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = map[string]any(s)
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}

		node, ok := asMapping(current)
		if !ok {
			return nil, false
		}

		value, exists := node[segment]
		if !exists {
			return nil, false
		}
		current = value
	}

	return current, true
}

// asMapping normalizes the two mapping shapes a snapshot can contain:
// decoded JSON objects (map[string]any) and nested Snapshot literals from
// hand-built test data.
func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Snapshot:
		return m, true
	default:
		return nil, false
	}
}
