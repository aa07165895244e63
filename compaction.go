package softdb

import (
	"sync/atomic"

	"github.com/softdb/softdb/internal/base"
	"github.com/softdb/softdb/internal/interval"
	"github.com/softdb/softdb/internal/nvm"
)

// DoCompactionWork runs one round of point-overlap-triggered compaction
// rooted at hotkey (spec §4.6). It reserves a timestamp for the round's
// replacement tables before touching the index, so any interval flushed
// concurrently is strictly newer and therefore excluded; expands the
// compaction window leftward and rightward while the window still has
// overlapping eligible neighbors; merges every table in the window through
// a CompactIterator applying the obsolete-key rule; and finally swaps the
// produced replacement intervals in for the originals.
func (vs *VersionSet) DoCompactionWork(hotkey []byte) error {
	if vs.isShuttingDown() {
		return base.ErrShuttingDown
	}
	var start int64
	if c := vs.opts.Clock; c != nil {
		start = c.Now()
	}

	// Step 1: reserve the round's timestamp. Existing intervals all have
	// timestamp < mergeTimeLine; IncTimestamp bumps the counter past it so
	// concurrently flushed intervals land strictly above time_border too.
	mergeTimeLine := vs.isl.NewTimestamp()
	vs.isl.IncTimestamp()
	timeBorder := mergeTimeLine - 1

	// Steps 2-3: find and expand the overlapping cluster under the time cut.
	left, right := vs.compactionFrontier(hotkey, timeBorder)
	if left == nil {
		// Nothing eligible: lost the race to a compaction that already
		// cleared this overlap, or the flush that triggered us was already
		// superseded.
		return nil
	}

	tables, oldIntervals := vs.collectCompactionInput(left, right, timeBorder)
	if len(tables) == 0 {
		return nil
	}
	vs.opts.EventListener.compactionBegin(hotkey, len(oldIntervals))

	snapshotFloor := vs.LastSequence()
	if vs.opts.SnapshotFloor != nil {
		snapshotFloor = min64(vs.opts.SnapshotFloor(), snapshotFloor)
	}

	// Step 4: merge and rebuild in batches of avg_count = last_sequence_ /
	// index.size() keys per table.
	indexSize := vs.isl.Size()
	if indexSize == 0 {
		indexSize = 1
	}
	avgCount := int(vs.LastSequence()) / indexSize
	if avgCount < 1 {
		avgCount = 1
	}

	ci := newCompactIterator(vs.cmp, tables, snapshotFloor)
	var produced []*interval.Interval
	var cerr error
	for ci.Valid() {
		if atomic.LoadInt32(&vs.shuttingDown) != 0 {
			cerr = base.ErrShuttingDown
			break
		}
		// Step 5: every produced table shares mergeTimeLine, so the
		// replacement intervals are coeval and non-overlapping.
		iv, err := vs.BuildTable(ci, avgCount, mergeTimeLine)
		if err != nil {
			cerr = err
			break
		}
		produced = append(produced, iv)
	}

	if cerr != nil {
		// Abandon the batch without the end mutation: replacement tables
		// already linked stay (readers prefer their newer timestamp) and so
		// do the originals, so no entry is lost. Only the collection
		// references are dropped.
		for _, iv := range oldIntervals {
			iv.Unref()
		}
		vs.opts.EventListener.compactionEnd(mergeTimeLine, len(oldIntervals), len(produced), cerr)
		return cerr
	}

	// Step 6: remove the originals, dropping both the ISL's membership
	// reference and the collection reference taken while gathering the
	// input set. Whichever Unref lands last frees the table.
	for _, iv := range oldIntervals {
		if vs.isl.Remove(iv) {
			iv.Unref()
		}
		iv.Unref()
	}

	if c := vs.opts.Clock; c != nil {
		vs.log.Infof("softdb: compaction @%d merged %d tables into %d in %d ticks",
			mergeTimeLine, len(oldIntervals), len(produced), c.Now()-start)
	}
	vs.opts.EventListener.compactionEnd(mergeTimeLine, len(oldIntervals), len(produced), nil)
	return nil
}

// compactionFrontier finds the union of intervals stabbed at hotkey whose
// timestamp is eligible for this round, then expands left and right while
// either boundary still overlaps a further eligible interval, closing a
// maximal overlapping cluster (spec §4.6 steps 2-3). Returns nil, nil if no
// eligible interval stabs hotkey at all.
func (vs *VersionSet) compactionFrontier(hotkey []byte, timeBorder uint64) (left, right []byte) {
	cands := vs.stabEligible(hotkey, timeBorder)
	if len(cands) == 0 {
		return nil, nil
	}
	left, right = cands[0].Inf, cands[0].Sup
	for _, c := range cands[1:] {
		if vs.rawLess(c.Inf, left) {
			left = c.Inf
		}
		if vs.rawLess(right, c.Sup) {
			right = c.Sup
		}
	}

	for {
		expanded := false
		for _, c := range vs.stabEligible(left, timeBorder) {
			if vs.rawLess(c.Inf, left) {
				left = c.Inf
				expanded = true
			}
		}
		if !expanded {
			break
		}
	}
	for {
		expanded := false
		for _, c := range vs.stabEligible(right, timeBorder) {
			if vs.rawLess(right, c.Sup) {
				right = c.Sup
				expanded = true
			}
		}
		if !expanded {
			break
		}
	}
	return left, right
}

// stabEligible stabs point and returns the bounds of every interval with
// timestamp <= timeBorder, immediately Unref'ing each (the ISL's own
// membership reference keeps them alive across this purely exploratory
// measurement; none of these intervals are removed here).
func (vs *VersionSet) stabEligible(point []byte, timeBorder uint64) []eligibleBounds {
	ivs := vs.isl.Stab(point)
	out := make([]eligibleBounds, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Timestamp <= timeBorder {
			out = append(out, eligibleBounds{Inf: iv.Inf, Sup: iv.Sup})
		}
		iv.Unref()
	}
	return out
}

type eligibleBounds struct {
	Inf, Sup []byte
}

// collectCompactionInput gathers every distinct interval participating in
// [left, right] under timeBorder: it walks the ISL's start-marker chain from
// left to right via CompactionEnumerate (which finds intervals nested
// strictly between the endpoints), then also stabs left and right directly
// to catch any interval touching a boundary without starting inside it.
// Returns each table alongside the interval list so the caller can later
// remove the originals from the ISL. Every returned interval carries one
// collection reference (taken under the ISL read lock) that keeps its table
// alive through the merge; the caller owns dropping it.
func (vs *VersionSet) collectCompactionInput(left, right []byte, timeBorder uint64) ([]*nvm.Table, []*interval.Interval) {
	seen := make(map[*interval.Interval]bool)
	var ordered []*interval.Interval

	add := func(ivs []*interval.Interval) {
		for _, iv := range ivs {
			if iv.Timestamp > timeBorder || seen[iv] {
				iv.Unref()
				continue
			}
			seen[iv] = true
			ordered = append(ordered, iv)
		}
	}

	point := left
	for {
		ivs, nextStart := vs.isl.CompactionEnumerate(point, timeBorder+1, right)
		add(ivs)
		if nextStart == nil || vs.rawLess(right, nextStart) {
			break
		}
		point = nextStart
	}
	add(vs.isl.Stab(left))
	add(vs.isl.Stab(right))

	tables := make([]*nvm.Table, len(ordered))
	for i, iv := range ordered {
		tables[i] = iv.Table
	}
	return tables, ordered
}

func (vs *VersionSet) rawLess(a, b []byte) bool {
	return base.RawCompare(vs.cmp, a, b) < 0
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
