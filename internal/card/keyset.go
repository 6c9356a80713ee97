package card

import "sort"

// KeySet is a set of card keys.
type KeySet map[Key]struct{}

// Keys collects the identities of cards.
func Keys(cards []Card) KeySet {
	set := make(KeySet, len(cards))
	for _, c := range cards {
		set[c.Key()] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Add inserts k and reports whether it was absent.
func (s KeySet) Add(k Key) bool {
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

// Sorted returns the keys ordered by their string form.
func (s KeySet) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Diff returns next \ prev and prev \ next, both sorted. The results are disjoint.
func Diff(prev, next KeySet) (added, removed []Key) {
	for k := range next {
		if !prev.Has(k) {
			added = append(added, k)
		}
	}
	for k := range prev {
		if !next.Has(k) {
			removed = append(removed, k)
		}
	}
	sortKeys(added)
	sortKeys(removed)
	return added, removed
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
