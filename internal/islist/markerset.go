package islist

import "github.com/softdb/softdb/internal/interval"

// markerSet is the owned, per-node/per-edge vector of intervals riding a
// marker (spec §9's note re-expressing the source's singly-linked
// IntervalList as a small owned slice). Insert and Copy are union
// operations: duplicates are never filtered because the ISL's own
// algorithms guarantee a marker is placed on an edge/node at most once.
type markerSet struct {
	items []*interval.Interval
}

// Count returns the number of markers in the set.
func (s *markerSet) Count() int { return len(s.items) }

// Insert adds I to the set.
func (s *markerSet) Insert(i *interval.Interval) {
	s.items = append(s.items, i)
}

// Remove drops the first occurrence of i, if present.
func (s *markerSet) Remove(i *interval.Interval) {
	for idx, v := range s.items {
		if v == i {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
			return
		}
	}
}

// RemoveAll removes every interval present in other from s.
func (s *markerSet) RemoveAll(other *markerSet) {
	for _, i := range other.items {
		s.Remove(i)
	}
}

// Copy appends every interval in from to s (a union-append, not a
// replace — see spec §4.5's Insert contract).
func (s *markerSet) Copy(from *markerSet) {
	s.items = append(s.items, from.items...)
}

// Contains reports whether i is present.
func (s *markerSet) Contains(i *interval.Interval) bool {
	for _, v := range s.items {
		if v == i {
			return true
		}
	}
	return false
}

// Clear empties the set.
func (s *markerSet) Clear() {
	s.items = s.items[:0]
}

// First returns the first interval in the set, or nil if empty. Used by
// the compaction frontier check, which only ever expects at most one
// marker on a startMarker set at a time.
func (s *markerSet) First() *interval.Interval {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[0]
}

// AppendUniqueTo appends every interval in s not already present in dst. The
// stabbing descent can meet the same interval twice — once on a crossed
// high-level edge and once in the landing node's eqMarkers — so query
// results are collected uniquely, as the reference implementation does.
func (s *markerSet) AppendUniqueTo(dst []*interval.Interval) []*interval.Interval {
outer:
	for _, iv := range s.items {
		for _, d := range dst {
			if d == iv {
				continue outer
			}
		}
		dst = append(dst, iv)
	}
	return dst
}
