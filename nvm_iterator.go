package softdb

import (
	"github.com/softdb/softdb/internal/base"
	"github.com/softdb/softdb/internal/interval"
)

type iterDirection int8

const (
	dirForward iterDirection = iota
	dirBackward
)

// NvmIterator walks the NVM tier across interval boundaries, re-seeking the
// ISL whenever the merge it is currently positioned over runs dry (spec
// §4.6's NewIterator / §2's "Cursor abstractions that walk across interval
// boundaries by re-seeking the ISL"). It is defined over a snapshot fixed at
// construction: every interval it touches is Ref'd before use, so a
// concurrent compaction that removes those intervals from the ISL cannot
// invalidate entries the iterator has not yet visited (spec P3, scenario 5).
type NvmIterator struct {
	vs     *VersionSet
	seqNum uint64
	cmp    base.Compare
	dir    iterDirection

	intervals  []*interval.Interval
	rangeRight []byte // next interval-start boundary past the current merge; nil if none
	rangeLeft  []byte // node key at or before the current merge's stab point; nil if none

	merge *mergeCursor
	rev   *revMergeCursor

	// revLow is the smallest raw entry the reverse merge has stepped past,
	// used as the exclusive upper bound when re-seeking the previous cluster.
	revLow []byte

	hasCurrentUserKey bool
	currentUserKey    []byte

	raw   []byte
	valid bool
}

// newNvmIterator returns an iterator over vs's index as of seqNum. Position
// it with First, Last, or SeekGE before reading.
func newNvmIterator(vs *VersionSet, seqNum uint64) *NvmIterator {
	return &NvmIterator{vs: vs, seqNum: seqNum, cmp: vs.cmp}
}

// Close releases every interval this iterator is currently holding a
// reference to. Must be called exactly once when the iterator is done.
func (it *NvmIterator) Close() {
	it.releaseIntervals()
}

func (it *NvmIterator) releaseIntervals() {
	for _, iv := range it.intervals {
		iv.Unref()
	}
	it.intervals = nil
	it.merge = nil
	it.rev = nil
}

// loadRange re-seeks the ISL at point, refs the newly stabbed interval set,
// releases the previous set, and rebuilds the forward merge cursor positioned
// at or after point. Dedup state across the same user key is intentionally
// left untouched: the node the ISL hands back as the new cluster's starting
// boundary can still hold an older version of the key the previous cluster
// was also serving.
func (it *NvmIterator) loadRange(point []byte) {
	intervals, left, right := it.vs.isl.RangeEnumerate(point)
	it.releaseIntervals()
	it.intervals = intervals
	it.rangeLeft = left
	it.rangeRight = right

	pointKey, _, _, err := base.DecodeEntry(point)
	sources := make([]base.Cursor, 0, len(intervals))
	for _, iv := range intervals {
		tit := iv.Table.NewIterator()
		if err == nil {
			tit.Seek(pointKey)
		} else {
			tit.SeekToFirst()
		}
		sources = append(sources, tit)
	}
	it.merge = newMergeCursor(it.cmp, sources)
}

// loadRangeBackward mirrors loadRange for backward scans: it re-seeks the
// ISL at point and positions every table iterator at its last entry strictly
// below bound (or at its last entry when bound is nil).
func (it *NvmIterator) loadRangeBackward(point, bound []byte) {
	intervals, left, right := it.vs.isl.RangeEnumerate(point)
	it.releaseIntervals()
	it.intervals = intervals
	it.rangeLeft = left
	it.rangeRight = right

	var boundKey base.InternalKey
	haveBound := false
	if bound != nil {
		if k, _, _, err := base.DecodeEntry(bound); err == nil {
			boundKey = k
			haveBound = true
		}
	}
	sources := make([]reversibleCursor, 0, len(intervals))
	for _, iv := range intervals {
		tit := iv.Table.NewIterator()
		if haveBound {
			tit.Seek(boundKey)
			if tit.Valid() {
				tit.Prev()
			} else {
				tit.SeekToLast()
			}
		} else {
			tit.SeekToLast()
		}
		sources = append(sources, tit)
	}
	it.rev = newRevMergeCursor(it.cmp, sources)
}

// First positions at the smallest visible user key.
func (it *NvmIterator) First() {
	it.hasCurrentUserKey = false
	it.dir = dirForward
	key := it.vs.isl.FirstKey()
	if key == nil {
		it.valid = false
		return
	}
	it.loadRange(key)
	it.advanceToVisible()
}

// Last positions at the largest visible user key.
func (it *NvmIterator) Last() {
	it.hasCurrentUserKey = false
	it.dir = dirBackward
	it.revLow = nil
	key := it.vs.isl.LastKey()
	if key == nil {
		it.valid = false
		return
	}
	it.loadRangeBackward(key, nil)
	it.retreatToVisible()
}

// SeekGE positions at the smallest visible user key >= userKey.
func (it *NvmIterator) SeekGE(userKey []byte) {
	it.hasCurrentUserKey = false
	it.dir = dirForward
	target := base.EncodeEntry(nil, base.MakeInternalKey(userKey, it.seqNum, base.ValueTypeValue), nil)
	it.loadRange(target)
	it.advanceToVisible()
}

// Next advances to the next visible user key. Called after a backward step,
// it re-seeks past the current user key's entry group before advancing.
func (it *NvmIterator) Next() {
	if !it.valid {
		return
	}
	if it.dir == dirBackward {
		it.dir = dirForward
		// First entry past the current key group: trailer 0 sorts after
		// every real entry of the same user key.
		target := base.EncodeEntry(nil, base.InternalKey{UserKey: it.currentUserKey}, nil)
		it.loadRange(target)
		it.advanceToVisible()
		return
	}
	it.merge.Next()
	it.advanceToVisible()
}

// Prev retreats to the previous visible user key. Called after a forward
// step, it re-seeks below the current user key's entry group first.
func (it *NvmIterator) Prev() {
	if !it.valid {
		return
	}
	if it.dir == dirForward {
		it.dir = dirBackward
		// Group start: the highest-sequence slot for the current user key
		// sorts before every stored entry of that key.
		bound := base.EncodeEntry(nil, base.MakeInternalKey(it.currentUserKey, base.SeqNumMax, base.ValueTypeValue), nil)
		it.revLow = bound
		it.loadRangeBackward(bound, bound)
	}
	it.retreatToVisible()
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *NvmIterator) Valid() bool { return it.valid }

// Key returns the current entry's internal key.
func (it *NvmIterator) Key() base.InternalKey {
	k, _, _, _ := base.DecodeEntry(it.raw)
	return k
}

// Value returns the current entry's value.
func (it *NvmIterator) Value() []byte {
	_, v, _, _ := base.DecodeEntry(it.raw)
	return v
}

// advanceToVisible scans forward from the merge's current position,
// skipping entries newer than the snapshot, entries shadowed by a
// newer-or-equal version of the same user key already surfaced, and
// tombstones (whose user key is then absent at this snapshot). The moment
// the merge crosses rangeRight — the next node where an interval starts —
// the ISL is re-sought there, picking up the tables of the cluster the
// cursor is entering; an interval can begin in the middle of the current
// tables' remaining span, so waiting for the merge to run dry would serve
// its keys out of order. A dry merge with no further boundary ends the
// scan.
func (it *NvmIterator) advanceToVisible() {
	for {
		if it.merge == nil || !it.merge.Valid() {
			if it.rangeRight == nil {
				it.valid = false
				return
			}
			it.loadRange(it.rangeRight)
			continue
		}
		raw := it.merge.Raw()
		if it.rangeRight != nil && base.RawCompare(it.cmp, raw, it.rangeRight) >= 0 {
			it.loadRange(it.rangeRight)
			continue
		}
		key, _, _, err := base.DecodeEntry(raw)
		if err != nil || key.SeqNum() > it.seqNum ||
			(it.hasCurrentUserKey && it.cmp(key.UserKey, it.currentUserKey) == 0) {
			it.merge.Next()
			continue
		}
		it.currentUserKey = append(it.currentUserKey[:0], key.UserKey...)
		it.hasCurrentUserKey = true
		if key.Kind() == base.ValueTypeDeletion {
			it.merge.Next()
			continue
		}
		it.raw = raw
		it.valid = true
		return
	}
}

// retreatToVisible scans backward. Within one user key's entry group the
// reverse merge meets versions oldest-first, so the group is accumulated to
// its end remembering the newest entry at or below the snapshot; that
// survivor answers for the key unless it is a tombstone. Crossing below
// rangeLeft re-seeks the ISL there before the entry is consumed — the
// entries past the boundary may be interleaved with tables this merge never
// loaded — bounded above by the lowest raw entry already stepped past so
// nothing is served twice. A group may straddle a re-seek; its state lives
// outside the boundary handling. rangeLeft strictly decreases across
// re-seeks (re-seeking at a node key lands on it and hands back its strict
// predecessor), so the walk terminates at the index's lower edge.
func (it *NvmIterator) retreatToVisible() {
	var candidate []byte
	var groupKey []byte
	haveGroup := false

	// emit finishes the accumulated group: true if its survivor is a live
	// value the iterator can land on.
	emit := func() bool {
		if !haveGroup {
			return false
		}
		it.currentUserKey = append(it.currentUserKey[:0], groupKey...)
		it.hasCurrentUserKey = true
		haveGroup = false
		if candidate != nil {
			if k, _, _, err := base.DecodeEntry(candidate); err == nil && k.Kind() != base.ValueTypeDeletion {
				it.raw = candidate
				it.valid = true
				return true
			}
		}
		candidate = nil
		return false
	}

	reseek := func() {
		prevLeft := it.rangeLeft
		it.loadRangeBackward(prevLeft, it.revLow)
		if it.rangeLeft != nil && base.RawCompare(it.cmp, it.rangeLeft, prevLeft) >= 0 {
			// No leftward progress: treat the region below as exhausted
			// once the freshly loaded merge drains.
			it.rangeLeft = nil
		}
	}

	for {
		if it.rev == nil || !it.rev.Valid() {
			if it.rangeLeft == nil {
				if emit() {
					return
				}
				it.valid = false
				return
			}
			reseek()
			continue
		}
		raw := it.rev.Raw()
		if it.rangeLeft != nil && base.RawCompare(it.cmp, raw, it.rangeLeft) < 0 {
			reseek()
			continue
		}
		key, _, _, err := base.DecodeEntry(raw)
		if err != nil {
			it.revLow = raw
			it.rev.Prev()
			continue
		}
		if it.hasCurrentUserKey && it.cmp(key.UserKey, it.currentUserKey) == 0 {
			it.revLow = raw
			it.rev.Prev()
			continue
		}
		if haveGroup && it.cmp(key.UserKey, groupKey) != 0 {
			if emit() {
				return
			}
			continue // raw not consumed; it starts the next group
		}
		if !haveGroup {
			groupKey = append(groupKey[:0], key.UserKey...)
			haveGroup = true
			candidate = nil
		}
		if key.SeqNum() <= it.seqNum {
			candidate = raw
		}
		it.revLow = raw
		it.rev.Prev()
	}
}
