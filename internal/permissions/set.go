package permissions

import "sort"

// Set is an unordered collection of permission tokens.
type Set map[string]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// FullSet returns the whole vocabulary.
func FullSet() Set {
	return NewSet(All()...)
}

// Has reports membership.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Union returns a new set containing both operands.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Missing returns the first needed token not in s, in vocabulary order.
func (s Set) Missing(needed ...string) (string, bool) {
	for _, id := range NewSet(needed...).Slice() {
		if !s.Has(id) {
			return id, true
		}
	}
	return "", false
}

// Slice lists the tokens in vocabulary order; unregistered tokens sort last alphabetically.
func (s Set) Slice() []string {
	if len(s) == 0 {
		return nil
	}

	rank := make(map[string]int, len(s))
	for i, id := range All() {
		rank[id] = i
	}

	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}
