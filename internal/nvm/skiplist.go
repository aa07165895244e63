package nvm

import (
	"math/rand"

	"github.com/softdb/softdb/internal/base"
)

// maxHeight caps tower height, per spec §4.2.
const maxHeight = 12

// branching drives the geometric height distribution: P(height > h) =
// branching^-h.
const branching = 4

// slNode is one array slot: an entry plus its forward-pointer tower. The
// tower is expressed as indices into SkipList.nodes rather than pointers,
// since the whole structure lives in one contiguous, flushable array (see
// spec §4.2 and §9's note on re-expressing header pointers as owned
// vectors).
type slNode struct {
	entry    []byte
	forward  []int32 // len == height; forward[i] is a node index, or tailIdx
	obsolete bool
}

// SkipList is a multi-level skip list built over a fixed-capacity node
// array rather than through per-node allocation. Node heights are drawn
// from a geometric distribution (branching 4, capped at 12 levels). Array
// indexing gives O(1) SeekToFirst/SeekToLast/Jump. Built once by a single
// Worker; read-only and lock-free thereafter.
type SkipList struct {
	cmp       base.Compare
	capacity  int
	num       int
	nodes     []slNode // index 0 = head sentinel, index num+1 = tail sentinel once full
	maxHeight int
	rnd       *rand.Rand
}

const headIdx = 0

// NewSkipList allocates a SkipList with room for cap entries.
func NewSkipList(cmp base.Compare, cap int) *SkipList {
	l := &SkipList{
		cmp:       cmp,
		capacity:  cap,
		nodes:     make([]slNode, cap+2),
		maxHeight: 1,
		// Fixed seed: height assignment need not be unpredictable, only
		// well-distributed, and a fixed seed makes table layout
		// reproducible across runs of the same input (ported from the
		// original's Random(0xdeadbeef)).
		rnd: rand.New(rand.NewSource(0xdeadbeef)),
	}
	l.nodes[headIdx].forward = make([]int32, maxHeight)
	tail := int32(l.tailIdx())
	for i := range l.nodes[headIdx].forward {
		l.nodes[headIdx].forward[i] = tail
	}
	return l
}

func (l *SkipList) tailIdx() int { return l.capacity + 1 }

// Count returns the number of entries inserted so far.
func (l *SkipList) Count() int { return l.num }

// Capacity returns the list's fixed capacity.
func (l *SkipList) Capacity() int { return l.capacity }

func (l *SkipList) getMaxHeight() int { return l.maxHeight }

// keyIsAfterNode reports whether entry sorts after nodes[idx]'s entry.
// The tail sentinel is treated as infinite.
func (l *SkipList) keyIsAfterNode(entry []byte, idx int) bool {
	return idx != l.tailIdx() && l.cmp(l.nodes[idx].entry, entry) < 0
}

func (l *SkipList) randomHeight() int {
	height := 1
	for height < maxHeight && l.rnd.Intn(branching) == 0 {
		height++
	}
	return height
}

// findGreaterOrEqual returns the index of the first node whose entry is >=
// entry, or tailIdx() if none. When prev != nil, prev[level] is filled
// with the predecessor index at every level in [0, maxHeight-1].
func (l *SkipList) findGreaterOrEqual(entry []byte, prev []int32) int {
	x := headIdx
	level := l.getMaxHeight() - 1
	next := int(l.nodes[x].forward[level])
	tmp := -1
	for {
		if next != tmp && l.keyIsAfterNode(entry, next) {
			x = next
		} else {
			if prev != nil {
				prev[level] = int32(x)
			}
			if level == 0 {
				return next
			}
			level--
			tmp = next
		}
		next = int(l.forwardAt(x, level))
	}
}

// forwardAt returns node idx's forward pointer at level. The head sentinel
// needs no special case: its tower is always maxHeight tall.
func (l *SkipList) forwardAt(idx, level int) int32 {
	return l.nodes[idx].forward[level]
}

// waveSearch implements the anchor-relative search described in spec §4.2:
// from an anchor known to be the first occurrence (highest sequence) of a
// user key, finds the first internal key >= entry.
func (l *SkipList) waveSearch(anchor int, entry []byte) int {
	if !l.keyIsAfterNode(entry, anchor) {
		return anchor
	}
	x := anchor
	height := len(l.nodes[x].forward)
	next := int(l.forwardAt(x, height-1))
	for l.keyIsAfterNode(entry, next) {
		x = next
		next = int(l.forwardAt(x, len(l.nodes[x].forward)-1))
	}
	level := len(l.nodes[x].forward) - 1
	next = int(l.forwardAt(x, level))
	tmp := -1
	for {
		if next != tmp && l.keyIsAfterNode(entry, next) {
			x = next
		} else {
			if level == 0 {
				return next
			}
			level--
			tmp = next
		}
		next = int(l.forwardAt(x, level))
	}
}

// Contains reports whether an entry comparing equal to entry is present.
func (l *SkipList) Contains(entry []byte) bool {
	idx := l.findGreaterOrEqual(entry, nil)
	return idx != l.tailIdx() && l.cmp(entry, l.nodes[idx].entry) == 0
}

// SkipWorker bulk-loads a SkipList in a single forward pass, maintaining a
// per-level "previous node" tower as each key arrives (spec §4.2).
type SkipWorker struct {
	list *SkipList
	pos  int
	prev []int32
}

// NewSkipWorker returns a bulk loader for list.
func NewSkipWorker(list *SkipList) *SkipWorker {
	prev := make([]int32, maxHeight)
	for i := range prev {
		prev[i] = headIdx
	}
	return &SkipWorker{list: list, pos: 1, prev: prev}
}

// Insert appends entry with a randomly drawn height, splicing it onto
// every level below that height. Returns false once the list reaches
// capacity.
func (w *SkipWorker) Insert(entry []byte) bool {
	l := w.list
	height := l.randomHeight()
	l.nodes[w.pos] = slNode{entry: entry, forward: make([]int32, height)}
	if height > l.maxHeight {
		l.maxHeight = height
	}
	for i := 0; i < height; i++ {
		l.nodes[w.prev[i]].forward[i] = int32(w.pos)
		w.prev[i] = int32(w.pos)
	}
	l.num++
	w.pos++
	return l.num != l.capacity
}

// Finish must be called after the last Insert to link every level's tail
// into the tail sentinel.
func (w *SkipWorker) Finish() {
	l := w.list
	tail := int32(l.tailIdx())
	for i := 0; i < maxHeight; i++ {
		// prev[i] is either head_ (always tower-maxHeight) or the last
		// inserted node whose own height exceeded i, so index i is always
		// in range.
		l.nodes[w.prev[i]].forward[i] = tail
	}
}

// SkipIterator walks a SkipList forward, backward, or via seek/jump/wave.
type SkipIterator struct {
	list *SkipList
	pos  int
}

// NewSkipIterator returns an iterator positioned before the first entry.
func NewSkipIterator(list *SkipList) *SkipIterator {
	return &SkipIterator{list: list, pos: headIdx}
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *SkipIterator) Valid() bool {
	return it.pos != headIdx && it.pos != it.list.tailIdx()
}

// Entry returns the raw entry bytes at the current position.
func (it *SkipIterator) Entry() []byte {
	return it.list.nodes[it.pos].entry
}

// Next advances by one array slot (valid because slots are filled in
// sorted order by the Worker).
func (it *SkipIterator) Next() { it.pos++ }

// Prev retreats by one array slot.
func (it *SkipIterator) Prev() { it.pos-- }

// Seek positions at the first entry >= target.
func (it *SkipIterator) Seek(target []byte) {
	it.pos = it.list.findGreaterOrEqual(target, nil)
}

// SeekToFirst positions at the first live entry.
func (it *SkipIterator) SeekToFirst() { it.pos = 1 }

// SeekToLast positions at the last live entry.
func (it *SkipIterator) SeekToLast() { it.pos = it.list.num }

// Jump positions directly at pos (1-indexed), as handed back by a cuckoo
// hash hit.
func (it *SkipIterator) Jump(pos int) { it.pos = pos }

// WaveSearch advances from the current (anchor) position to the first
// internal key >= target, exploiting that the anchor holds the highest
// sequence for its user key.
func (it *SkipIterator) WaveSearch(target []byte) {
	it.pos = it.list.waveSearch(it.pos, target)
}

// Abandon flags the current entry obsolete; never consulted by Get or
// iteration (see spec §9 Open Question on Abandon).
func (it *SkipIterator) Abandon() {
	it.list.nodes[it.pos].obsolete = true
}

// KeyIsObsolete reports the current entry's obsolete flag.
func (it *SkipIterator) KeyIsObsolete() bool {
	return it.list.nodes[it.pos].obsolete
}
