// Package document implements path-addressed reads, writes and deep merges
// over generic JSON trees (map[string]any as decoded by encoding/json).
//
// The server's authoritative lobby state and any client-side mirror must use
// byte-identical merge semantics or patches drift, so this is the single
// shared implementation. Values handed to this package are treated as
// immutable: Set copies the nodes along the written path and shares the
// rest, so holders of a prior snapshot never observe later writes.
package document

import (
	"bytes"
	"encoding/json"
)

// Get walks path from the root of doc. The second return is false if any
// intermediate node is missing or not an object.
func Get(doc any, path []string) (any, bool) {
	cur := doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set returns a new document with value assigned at path. The original is
// never mutated. An empty path replaces the whole document with value.
// Missing intermediate nodes are created as empty objects; a nil value
// deletes the leaf (and only the leaf) instead of assigning it.
func Set(doc any, path []string, value any) any {
	if len(path) == 0 {
		return value
	}

	root := cloneNode(doc)
	cur := root
	for _, key := range path[:len(path)-1] {
		child, ok := cur[key].(map[string]any)
		if ok {
			child = cloneShallow(child)
		} else {
			child = map[string]any{}
		}
		cur[key] = child
		cur = child
	}

	last := path[len(path)-1]
	if value == nil {
		delete(cur, last)
	} else {
		cur[last] = value
	}
	return root
}

// Merge deep-unions two tree values, key by key:
//
//   - if either operand is not an object, b wins outright (arrays are
//     replaced, never concatenated)
//   - a nil value in b is a tombstone: the key is removed from the result
//   - keys present in both as objects merge recursively
//   - otherwise b's value wins
//
// Merging into a key absent from a adopts b's subtree wholesale.
func Merge(a, b any) any {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if !aok || !bok {
		return b
	}

	out := make(map[string]any, len(am)+len(bm))
	for k, v := range am {
		out[k] = v
	}
	for k, v := range bm {
		if v == nil {
			delete(out, k)
			continue
		}
		if old, ok := out[k]; ok {
			out[k] = Merge(old, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// Apply applies one wire-level update to doc and returns the new document.
// A JSON null tombstone deletes the subtree at path. An object value
// landing on an existing object node deep-merges into it; any other shape
// replaces the node.
func Apply(doc any, path []string, raw json.RawMessage) (any, error) {
	if IsTombstone(raw) {
		return Set(doc, path, nil), nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return doc, err
	}
	if vm, ok := value.(map[string]any); ok {
		if existing, found := Get(doc, path); found {
			if em, isObj := existing.(map[string]any); isObj {
				value = Merge(em, vm)
			}
		}
	}
	return Set(doc, path, value), nil
}

// IsTombstone reports whether raw is an explicit JSON null or absent, the
// wire sentinel for "delete this field".
func IsTombstone(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Clone deep-copies a tree. Used where a caller needs a snapshot it may
// hold across later writes without going through serialization.
func Clone(doc any) any {
	switch v := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Clone(e)
		}
		return out
	default:
		return doc
	}
}

func cloneNode(doc any) map[string]any {
	if m, ok := doc.(map[string]any); ok {
		return cloneShallow(m)
	}
	return map[string]any{}
}

func cloneShallow(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
