package islist

import "github.com/softdb/softdb/internal/interval"

// This file holds the marker-invariant maintenance algorithms: placing and
// removing markers along the staircase between an interval's endpoints, and
// promoting/demoting markers past a node that has just been spliced in or is
// about to be spliced out. All four are direct ports of
// original_source/db/nvm_index.h's placeMarkers / deleteMarkers /
// adjustMarkersOnInsert / adjustMarkersOnDelete — the phase order (outgoing
// edges, then incoming edges for insert; left of x, then right of x for
// delete) must match exactly for marker invariant I3 to hold, so it is
// reproduced here even where a shorter equivalent might exist.

// removeMarkFromLevel strips m from every level-i marker (and matching
// eqMarkers) on the path from lo up to (not including) hi, then removes m
// from hi's eqMarkers as well.
func (s *ISL) removeMarkFromLevel(m *interval.Interval, i int, lo, hi *node) {
	x := lo
	for x != nil && x != hi {
		x.markers[i].Remove(m)
		x.eqMarkers.Remove(m)
		x = x.forward[i]
	}
	if x != nil {
		x.eqMarkers.Remove(m)
	}
}

// placeMarkers lays down iv's markers along the ascending-then-non-ascending
// staircase from left to right (spec §4.5): climb while the next edge up
// stays inside [inf,sup], mark the highest contained edge, descend onto the
// far node, repeat. eqMarkers is populated on every node the walk lands on.
func (s *ISL) placeMarkers(left, right *node, iv *interval.Interval) {
	x := left
	if s.contains(iv, x.key) {
		x.eqMarkers.Insert(iv)
	}

	i := 0 // start at level 0 and ascend
	for x.forward[i] != nil && s.containsInterval(iv, x.key, x.forward[i].key) {
		for i != x.level()-1 && x.forward[i+1] != nil && s.containsInterval(iv, x.key, x.forward[i+1].key) {
			i++
		}
		if x.forward[i] != nil {
			x.markers[i].Insert(iv)
			x = x.forward[i]
			if s.contains(iv, x.key) {
				x.eqMarkers.Insert(iv)
			}
		}
	}

	// non-ascending path to right
	for s.rawCompare(x.key, right.key) != 0 {
		for i != 0 && (x.forward[i] == nil || !s.containsInterval(iv, x.key, x.forward[i].key)) {
			i--
		}
		x.markers[i].Insert(iv)
		x = x.forward[i]
		if s.contains(iv, x.key) {
			x.eqMarkers.Insert(iv)
		}
	}
}

// deleteMarkers mirrors placeMarkers exactly, removing instead of inserting,
// along the same staircase (spec §4.5 Remove).
func (s *ISL) deleteMarkers(left *node, iv *interval.Interval) {
	x := left
	if s.contains(iv, x.key) {
		x.eqMarkers.Remove(iv)
	}

	i := 0
	for x.forward[i] != nil && s.containsInterval(iv, x.key, x.forward[i].key) {
		for i != x.level()-1 && x.forward[i+1] != nil && s.containsInterval(iv, x.key, x.forward[i+1].key) {
			i++
		}
		if x.forward[i] != nil {
			x.markers[i].Remove(iv)
			x = x.forward[i]
			if s.contains(iv, x.key) {
				x.eqMarkers.Remove(iv)
			}
		}
	}

	for s.rawCompare(x.key, iv.Sup) != 0 {
		for i != 0 && (x.forward[i] == nil || !s.containsInterval(iv, x.key, x.forward[i].key)) {
			i--
		}
		x.markers[i].Remove(iv)
		x = x.forward[i]
		if s.contains(iv, x.key) {
			x.eqMarkers.Remove(iv)
		}
	}
}

// adjustMarkersOnInsert restores the marker invariant after x has just been
// spliced into the list with update vector update (update[i] is x's
// predecessor at level i). Phase 1 handles edges leading out of x
// (promoting markers from update[i]'s old edge up through x's own levels as
// far as they still span); Phase 2 handles edges leading into x
// symmetrically from the other side. Every marker whose interval now
// contains x.key is also added to x's eqMarkers at the end.
func (s *ISL) adjustMarkersOnInsert(x *node, update []*node) {
	var promoted, newPromoted, removePromoted markerSet

	// Phase 1: edges out of x.
	i := 0
	for i <= x.level()-2 && x.forward[i+1] != nil {
		markList := update[i].markers[i]
		for _, iv := range markList.items {
			if s.containsInterval(iv, x.key, x.forward[i+1].key) {
				s.removeMarkFromLevel(iv, i, x.forward[i], x.forward[i+1])
				newPromoted.Insert(iv)
			} else {
				x.markers[i].Insert(iv)
			}
		}
		for _, iv := range promoted.items {
			if !s.containsInterval(iv, x.key, x.forward[i+1].key) {
				x.markers[i].Insert(iv)
				if s.contains(iv, x.forward[i].key) {
					x.forward[i].eqMarkers.Insert(iv)
				}
				removePromoted.Insert(iv)
			} else {
				s.removeMarkFromLevel(iv, i, x.forward[i], x.forward[i+1])
			}
		}
		promoted.RemoveAll(&removePromoted)
		removePromoted.Clear()
		promoted.Copy(&newPromoted)
		newPromoted.Clear()
		i++
	}
	// Combine promoted + update[i].markers[i] onto the top non-null edge
	// out of x.
	x.markers[i].Copy(&promoted)
	x.markers[i].Copy(update[i].markers[i])
	if x.forward[i] != nil {
		for _, iv := range promoted.items {
			if s.contains(iv, x.forward[i].key) {
				x.forward[i].eqMarkers.Insert(iv)
			}
		}
	}

	// Phase 2: edges into x.
	promoted.Clear()
	var tempMarkList markerSet
	i = 0
	for i <= x.level()-2 && !update[i+1].isHeader {
		tempMarkList.Copy(update[i].markers[i])
		for _, iv := range tempMarkList.items {
			if s.containsInterval(iv, update[i+1].key, x.key) {
				newPromoted.Insert(iv)
				s.removeMarkFromLevel(iv, i, update[i+1], x)
			}
		}
		tempMarkList.Clear()

		for _, iv := range promoted.items {
			if !update[i].isHeader && s.containsInterval(iv, update[i].key, x.key) &&
				!update[i+1].isHeader && !s.containsInterval(iv, update[i+1].key, x.key) {
				update[i].markers[i].Insert(iv)
				if s.contains(iv, update[i].key) {
					update[i].eqMarkers.Insert(iv)
				}
				removePromoted.Insert(iv)
			} else {
				s.removeMarkFromLevel(iv, i, update[i+1], x)
			}
		}
		promoted.RemoveAll(&removePromoted)
		removePromoted.Clear()
		promoted.Copy(&newPromoted)
		newPromoted.Clear()
		i++
	}
	update[i].markers[i].Copy(&promoted)
	if !update[i].isHeader {
		for _, iv := range promoted.items {
			if s.contains(iv, update[i].key) {
				update[i].eqMarkers.Insert(iv)
			}
		}
	}

	// x is new: every marker entering or leaving it also covers it.
	for lvl := 0; lvl < x.level(); lvl++ {
		x.eqMarkers.Copy(x.markers[lvl])
	}
}

// adjustMarkersOnDelete demotes markers that were riding on a level only
// because x was there, in preparation for splicing x out. Phase 1 lowers
// markers on edges into x; Phase 2 lowers markers on edges out of x. x is
// still linked in the list when this runs.
func (s *ISL) adjustMarkersOnDelete(x *node, update []*node) {
	var demoted, newDemoted, tempRemoved markerSet

	// Phase 1: left of x.
	for i := x.level() - 1; i >= 0; i-- {
		for _, iv := range update[i].markers[i].items {
			if x.forward[i] == nil || !s.containsInterval(iv, update[i].key, x.forward[i].key) {
				newDemoted.Insert(iv)
			}
		}
		update[i].markers[i].RemoveAll(&newDemoted)

		for _, iv := range demoted.items {
			y := update[i+1]
			for y != nil && y != update[i] {
				if y != update[i+1] && s.contains(iv, y.key) {
					y.eqMarkers.Insert(iv)
				}
				y.markers[i].Insert(iv)
				y = y.forward[i]
			}
			if y != nil && y != update[i+1] && s.contains(iv, y.key) {
				y.eqMarkers.Insert(iv)
			}

			if x.forward[i] != nil && s.containsInterval(iv, update[i].key, x.forward[i].key) {
				update[i].markers[i].Insert(iv)
				tempRemoved.Insert(iv)
			}
		}
		demoted.RemoveAll(&tempRemoved)
		tempRemoved.Clear()
		demoted.Copy(&newDemoted)
		newDemoted.Clear()
	}

	// Phase 2: right of x.
	demoted.Clear()
	for i := x.level() - 1; i >= 0; i-- {
		for _, iv := range x.markers[i].items {
			if x.forward[i] != nil && (update[i].isHeader || !s.containsInterval(iv, update[i].key, x.forward[i].key)) {
				newDemoted.Insert(iv)
			}
		}

		for _, iv := range demoted.items {
			var limit *node
			if i+1 < x.level() {
				limit = x.forward[i+1]
			}
			for y := x.forward[i]; y != nil && y != limit; y = y.forward[i] {
				y.eqMarkers.Insert(iv)
				y.markers[i].Insert(iv)
			}
			if x.forward[i] != nil && !update[i].isHeader && s.containsInterval(iv, update[i].key, x.forward[i].key) {
				tempRemoved.Insert(iv)
			}
		}
		demoted.RemoveAll(&tempRemoved)
		tempRemoved.Clear()
		demoted.Copy(&newDemoted)
		newDemoted.Clear()
	}
}
