package softdb

import (
	"container/heap"

	"github.com/softdb/softdb/internal/base"
)

// mergeSource is one table iterator contributing raw entries to a merge.
type mergeSource struct {
	cur base.Cursor
}

// mergeHeap orders active sources by their current raw entry in ascending
// internal-key order. The comparator is captured once at construction (spec
// §9's note on comparator dispatch through a type parameter — here a
// closure plays that role, since Go has no non-generic equivalent of C++
// template dispatch for this teacher's vintage).
type mergeHeap struct {
	cmp     base.Compare
	sources []*mergeSource
}

func (h *mergeHeap) Len() int { return len(h.sources) }

func (h *mergeHeap) Less(i, j int) bool {
	return base.RawCompare(h.cmp, h.sources[i].cur.Raw(), h.sources[j].cur.Raw()) < 0
}

func (h *mergeHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }

func (h *mergeHeap) Push(x any) { h.sources = append(h.sources, x.(*mergeSource)) }

func (h *mergeHeap) Pop() any {
	old := h.sources
	n := len(old)
	item := old[n-1]
	h.sources = old[:n-1]
	return item
}

// mergeCursor k-way merges several table iterators into ascending
// internal-key order: user key ascending, and on a user-key tie, sequence
// descending, so the newest entry for a key always precedes older entries
// for the same key (spec §3's internal key order). Used by both
// CompactIterator and NvmIterator to merge the NvmTables of the intervals
// they are currently positioned over.
type mergeCursor struct {
	h   *mergeHeap
	cur *mergeSource
}

func newMergeCursor(cmp base.Compare, sources []base.Cursor) *mergeCursor {
	h := &mergeHeap{cmp: cmp}
	for _, s := range sources {
		if s.Valid() {
			h.sources = append(h.sources, &mergeSource{cur: s})
		}
	}
	heap.Init(h)
	mc := &mergeCursor{h: h}
	mc.settle()
	return mc
}

func (mc *mergeCursor) settle() {
	if mc.h.Len() == 0 {
		mc.cur = nil
		return
	}
	mc.cur = mc.h.sources[0]
}

func (mc *mergeCursor) Valid() bool { return mc.cur != nil }

func (mc *mergeCursor) Raw() []byte {
	if mc.cur == nil {
		return nil
	}
	return mc.cur.cur.Raw()
}

// Next advances the merge: the currently-minimum source steps forward and is
// re-pushed into the heap if still valid, then the new minimum becomes
// current.
func (mc *mergeCursor) Next() {
	if mc.cur == nil {
		return
	}
	top := heap.Pop(mc.h).(*mergeSource)
	top.cur.Next()
	if top.cur.Valid() {
		heap.Push(mc.h, top)
	}
	mc.settle()
}

// reversibleCursor is the backward-capable cursor contract the reverse merge
// needs; every TableIterator satisfies it.
type reversibleCursor interface {
	base.Cursor
	Prev()
	SeekToLast()
}

// revMergeCursor k-way merges table iterators in descending internal-key
// order for backward scans. The source count is the stab width at one point
// of the index (bounded by the compaction trigger), so a linear max-scan per
// step is cheaper than maintaining a second heap variant.
type revMergeCursor struct {
	cmp     base.Compare
	sources []reversibleCursor
	cur     reversibleCursor
}

func newRevMergeCursor(cmp base.Compare, sources []reversibleCursor) *revMergeCursor {
	rc := &revMergeCursor{cmp: cmp, sources: sources}
	rc.settle()
	return rc
}

func (rc *revMergeCursor) settle() {
	rc.cur = nil
	for _, s := range rc.sources {
		if !s.Valid() {
			continue
		}
		if rc.cur == nil || base.RawCompare(rc.cmp, s.Raw(), rc.cur.Raw()) > 0 {
			rc.cur = s
		}
	}
}

func (rc *revMergeCursor) Valid() bool { return rc.cur != nil }

func (rc *revMergeCursor) Raw() []byte {
	if rc.cur == nil {
		return nil
	}
	return rc.cur.Raw()
}

// Prev retreats the merge: the currently-maximum source steps backward, then
// the new maximum becomes current.
func (rc *revMergeCursor) Prev() {
	if rc.cur == nil {
		return
	}
	rc.cur.Prev()
	rc.settle()
}
