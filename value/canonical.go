package value

import "bytes"

// isKeyLess orders keys byte-lexicographically: a shorter common prefix
// loses ties to length.
func isKeyLess(lhs, rhs []byte) bool {
	n := len(lhs)
	if len(rhs) < n {
		n = len(rhs)
	}
	for i := 0; i < n; i++ {
		if lhs[i] != rhs[i] {
			return lhs[i] < rhs[i]
		}
	}
	return len(lhs) < len(rhs)
}

// pruneDuplicates keeps the last occurrence of any duplicate key,
// preserving the relative order of the surviving entries so sortKeys's
// stability is meaningful.
func pruneDuplicates(pairs []Pair) []Pair {
	keep := make([]bool, len(pairs))
	for i := range pairs {
		keep[i] = true
		for j := i + 1; j < len(pairs); j++ {
			if bytes.Equal(pairs[j].Key, pairs[i].Key) {
				keep[i] = false
				break
			}
		}
	}
	out := pairs[:0]
	for i, k := range keep {
		if k {
			out = append(out, pairs[i])
		}
	}
	return out
}

// sortKeys stable-sorts pairs by key using insertion sort, matching
// src/map_canonical.c's sort_keys exactly (so the resulting order for
// duplicate pre-pruning input is identical to the reference).
func sortKeys(pairs []Pair) {
	for i := 1; i < len(pairs); i++ {
		j := i
		for j > 0 && isKeyLess(pairs[j].Key, pairs[j-1].Key) {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
			j--
		}
	}
}

// CanonicalizeMapShallow dedups (last-write-wins) then stable-sorts pairs
// by key, matching gg_map_canonicalize_shallow.
func CanonicalizeMapShallow(pairs []Pair) []Pair {
	pairs = pruneDuplicates(pairs)
	sortKeys(pairs)
	return pairs
}

// IsCanonicalMap reports whether pairs are strictly increasing by key
// (no duplicates, sorted), matching gg_map_is_canonical.
func IsCanonicalMap(pairs []Pair) bool {
	for i := 1; i < len(pairs); i++ {
		if !isKeyLess(pairs[i-1].Key, pairs[i].Key) {
			return false
		}
	}
	return true
}

// Canonicalize recursively canonicalizes every nested map in v, matching
// gg_obj_canonicalize's visitor (src/object_canonical.c). Lists and
// scalars are returned unchanged except for their canonicalized children.
func Canonicalize(v Value) Value {
	switch v.kind {
	case KindMap:
		out := make([]Pair, len(v.m))
		copy(out, v.m)
		for i := range out {
			out[i].Value = Canonicalize(out[i].Value)
		}
		return Map(CanonicalizeMapShallow(out))
	case KindList:
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = Canonicalize(item)
		}
		return List(out)
	default:
		return v
	}
}

// IsCanonical reports whether every nested map in v is canonical, matching
// gg_obj_is_canonical.
func IsCanonical(v Value) bool {
	switch v.kind {
	case KindMap:
		if !IsCanonicalMap(v.m) {
			return false
		}
		for _, p := range v.m {
			if !IsCanonical(p.Value) {
				return false
			}
		}
		return true
	case KindList:
		for _, item := range v.list {
			if !IsCanonical(item) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
