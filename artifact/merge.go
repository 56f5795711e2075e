// Package artifact provides the structured-artifact models and the
// ID-keyed patch/merge engine used by the artifact node.
package artifact

import (
	"log/slog"
	"reflect"
)

// Transient diff markers. They describe the changes of a single turn and
// are cleared at the start of every merge.
const (
	DiffKey      = "_diff"
	PrevKey      = "_prev"
	DiffAdded    = "added"
	DiffModified = "modified"
)

// Merge applies patch onto original and returns the merged artifact.
// It is pure: neither input is mutated. Diff markers on the result
// describe only the changes made by this patch; markers carried by
// original are stripped first.
//
// A patch that is not a mapping is refused: the caller gets a deep copy
// of original back and a warning is logged.
func Merge(original map[string]any, patch any, logger *slog.Logger) map[string]any {
	if logger == nil {
		logger = slog.Default()
	}

	base, _ := StripTransient(deepCopy(original)).(map[string]any)
	if base == nil {
		base = map[string]any{}
	}

	patchMap, ok := patch.(map[string]any)
	if !ok {
		logger.Warn("Refusing non-mapping artifact patch",
			"patch_type", reflect.TypeOf(patch))
		return base
	}

	return mergeMap(base, patchMap)
}

// StripTransient removes _diff and _prev markers recursively, in place,
// and returns v for chaining. Used before comparing stored artifacts
// with fresh patches.
func StripTransient(v any) any {
	switch val := v.(type) {
	case map[string]any:
		delete(val, DiffKey)
		delete(val, PrevKey)
		for _, child := range val {
			StripTransient(child)
		}
	case []any:
		for _, child := range val {
			StripTransient(child)
		}
	}
	return v
}

// mergeMap merges patch into base (base is already a private copy).
func mergeMap(base, patch map[string]any) map[string]any {
	for key, patchVal := range patch {
		baseVal, exists := base[key]
		if !exists {
			base[key] = StripTransient(deepCopy(patchVal))
			continue
		}

		baseMap, baseIsMap := baseVal.(map[string]any)
		patchMap, patchIsMap := patchVal.(map[string]any)
		if baseIsMap && patchIsMap {
			base[key] = mergeMap(baseMap, StripTransient(deepCopy(patchMap)).(map[string]any))
			continue
		}

		baseList, baseIsList := baseVal.([]any)
		patchList, patchIsList := patchVal.([]any)
		if baseIsList && patchIsList {
			base[key] = mergeList(baseList, StripTransient(deepCopy(patchList)).([]any))
			continue
		}

		base[key] = StripTransient(deepCopy(patchVal))
	}
	return base
}

// mergeList merges two lists. Lists whose elements carry an "id" field
// are keyed: patched items update their counterpart by id, new ids are
// appended, and unmentioned originals are kept untouched. Lists without
// ids are overwritten wholesale by the patch.
func mergeList(base, patch []any) []any {
	if !isKeyedList(base) && !isKeyedList(patch) {
		return patch
	}

	// Index base items by id, preserving order.
	result := make([]any, len(base))
	copy(result, base)
	index := make(map[string]int, len(base))
	for i, item := range base {
		if id := itemID(item); id != "" {
			index[id] = i
		}
	}

	for _, patchItem := range patch {
		patchMap, ok := patchItem.(map[string]any)
		if !ok {
			// Non-mapping element in a keyed list: append as-is.
			result = append(result, patchItem)
			continue
		}
		id := itemID(patchMap)
		if id == "" {
			result = append(result, patchMap)
			continue
		}

		pos, exists := index[id]
		if !exists {
			patchMap[DiffKey] = DiffAdded
			result = append(result, patchMap)
			index[id] = len(result) - 1
			continue
		}

		baseItem, ok := result[pos].(map[string]any)
		if !ok {
			result[pos] = patchMap
			continue
		}
		result[pos] = mergeItem(baseItem, patchMap)
	}

	return result
}

// mergeItem deep-merges a patched item into its base counterpart,
// tagging it modified and recording previous values for exactly the
// fields whose values actually changed.
func mergeItem(base, patch map[string]any) map[string]any {
	prev := map[string]any{}
	changed := false

	for key, patchVal := range patch {
		if key == "id" {
			continue
		}
		baseVal, exists := base[key]

		// Nested structures merge recursively without field-level
		// previous capture; the item-level marker is enough.
		baseMap, baseIsMap := baseVal.(map[string]any)
		patchMap, patchIsMap := patchVal.(map[string]any)
		if exists && baseIsMap && patchIsMap {
			snapshot := deepCopy(baseVal)
			merged := mergeMap(baseMap, patchMap)
			base[key] = merged
			if !reflect.DeepEqual(snapshot, merged) {
				changed = true
			}
			continue
		}

		baseList, baseIsList := baseVal.([]any)
		patchList, patchIsList := patchVal.([]any)
		if exists && baseIsList && patchIsList {
			snapshot := deepCopy(baseVal)
			merged := mergeList(baseList, patchList)
			base[key] = merged
			if !reflect.DeepEqual(snapshot, merged) {
				changed = true
			}
			continue
		}

		if exists && reflect.DeepEqual(baseVal, patchVal) {
			continue
		}
		if exists {
			// Previous values are recorded only for replaced scalars:
			// the sparse snapshot the diff renderer needs.
			prev[key] = baseVal
		}
		base[key] = patchVal
		changed = true
	}

	if changed {
		base[DiffKey] = DiffModified
		if len(prev) > 0 {
			base[PrevKey] = prev
		}
	}
	return base
}

// isKeyedList reports whether a list's first mapping element carries an
// id, which switches list merging to keyed mode.
func isKeyedList(list []any) bool {
	if len(list) == 0 {
		return false
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return false
	}
	return itemID(first) != ""
}

// itemID extracts the string id of a list item, or "".
func itemID(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}

// deepCopy clones JSON-shaped values (maps, slices, scalars).
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
