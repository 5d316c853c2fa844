package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRevID splits "<generation>-<suffix>". ok is false when the prefix
// is not a positive integer or either part is empty.
func ParseRevID(revID string) (generation int, suffix string, ok bool) {
	prefix, suffix, found := strings.Cut(revID, "-")
	if !found || prefix == "" || suffix == "" {
		return 0, "", false
	}
	gen, err := strconv.Atoi(prefix)
	if err != nil || gen <= 0 {
		return 0, "", false
	}
	return gen, suffix, true
}

// GenerationFromRevID returns the generation of revID, or 0 if malformed.
func GenerationFromRevID(revID string) int {
	gen, _, _ := ParseRevID(revID)
	return gen
}

// CompareRevIDs orders revision IDs by generation, then by suffix. Malformed
// IDs sort before well-formed ones and compare lexically among themselves.
// The winning revision of a document is the greatest current one under this
// order, so it must be identical on every replica.
func CompareRevIDs(a, b string) int {
	genA, sufA, okA := ParseRevID(a)
	genB, sufB, okB := ParseRevID(b)
	switch {
	case okA && okB:
		if genA != genB {
			if genA < genB {
				return -1
			}
			return 1
		}
		return strings.Compare(sufA, sufB)
	case okA:
		return 1
	case okB:
		return -1
	}
	return strings.Compare(a, b)
}

// MakeRevisionHistoryDict encodes a newest-first history as the _revisions
// object. Consecutive generations are compressed to {start, ids}.
func MakeRevisionHistoryDict(history []string) Value {
	if len(history) == 0 {
		return Null()
	}
	start := -1
	suffixes := make([]string, 0, len(history))
	for i, revID := range history {
		gen, suffix, ok := ParseRevID(revID)
		if !ok {
			start = -1
			break
		}
		if i == 0 {
			start = gen
		} else if gen != start-i {
			start = -1
			break
		}
		suffixes = append(suffixes, suffix)
	}
	if start < 0 {
		return Object(map[string]Value{"ids": Strings(history)})
	}
	return Object(map[string]Value{
		"start": Int(int64(start)),
		"ids":   Strings(suffixes),
	})
}

// ParseRevisionHistory decodes a _revisions object into a newest-first list
// of full revision IDs.
func ParseRevisionHistory(dict Value) ([]string, error) {
	idsVal, ok := dict.Get("ids")
	if !ok {
		return nil, fmt.Errorf("revision history has no ids")
	}
	items, ok := idsVal.AsArray()
	if !ok {
		return nil, fmt.Errorf("revision history ids must be an array")
	}
	ids := make([]string, len(items))
	for i, item := range items {
		s, ok := item.AsString()
		if !ok {
			return nil, fmt.Errorf("revision history id %d is not a string", i)
		}
		ids[i] = s
	}

	startVal, ok := dict.Get("start")
	if !ok {
		return ids, nil
	}
	start, ok := startVal.AsInt64()
	if !ok || start < int64(len(ids)) {
		return nil, fmt.Errorf("invalid revision history start %s", startVal)
	}
	revIDs := make([]string, len(ids))
	for i, suffix := range ids {
		revIDs[i] = fmt.Sprintf("%d-%s", start-int64(i), suffix)
	}
	return revIDs, nil
}
