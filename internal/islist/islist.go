// Package islist implements the Interval Skip List (spec §4.5): a
// concurrent, reader-writer-locked index mapping [inf, sup] key ranges of
// NvmTables to Interval handles, supporting stabbing queries, range
// enumeration for iterators, and the timestamp-bounded enumeration the
// compactor uses to find its frontier.
//
// The node layout, marker-promotion/demotion algorithm (adjustMarkersOnInsert
// / adjustMarkersOnDelete) and the placeMarkers/deleteMarkers staircase walk
// are a direct port of the reference implementation's IntervalSkipList
// (original_source/db/nvm_index.h), re-expressed per spec §9: header
// pointers and marker linked lists become owned node fields and small owned
// marker sets, and the raw pthread_rwlock becomes a single writer-preferring
// sync.RWMutex.
package islist

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/softdb/softdb/internal/base"
	"github.com/softdb/softdb/internal/interval"
	"github.com/softdb/softdb/internal/nvm"
)

// maxForward bounds tower height, mirroring the reference's MAX_FORWARD.
const maxForward = 32

// islBranching drives height selection, matching spec §4.2's branching
// factor so the index and the NVM tier have the same height distribution
// shape (capped at maxForward rather than the NVM tier's 12).
const islBranching = 4

// ISL is the concurrent range index described in spec §4.5. One writer
// (Insert/Remove/timestamp bump) at a time; many concurrent Stab/enumerate
// readers. The zero value is not usable; construct with New.
type ISL struct {
	mu sync.RWMutex

	ucmp     base.Compare // user-key comparator
	maxLevel int
	head     *node
	rnd      *rand.Rand

	timestamp uint64
	count     int
}

// New returns an empty ISL ordered by cmp (a user-key comparator; internal
// keys embedded in raw entries are ordered via base.RawCompare built on it).
func New(cmp base.Compare) *ISL {
	return &ISL{
		ucmp:      cmp,
		head:      newHeaderNode(maxForward),
		rnd:       rand.New(rand.NewSource(0xdeadbeef)),
		timestamp: 1,
	}
}

// Size returns the number of intervals currently indexed.
func (s *ISL) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// NewTimestamp returns the timestamp that the next auto-assigned Insert
// would use, without consuming it.
func (s *ISL) NewTimestamp() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timestamp
}

// IncTimestamp bumps the timestamp counter without creating an interval;
// the compactor calls this to reserve a time border before scanning (spec
// §4.6 step 1).
func (s *ISL) IncTimestamp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestamp++
}

func (s *ISL) rawCompare(a, b []byte) int {
	return base.RawCompare(s.ucmp, a, b)
}

func (s *ISL) userKeyEqual(a, b []byte) bool {
	ak, _, _, aerr := base.DecodeEntry(a)
	bk, _, _, berr := base.DecodeEntry(b)
	if aerr != nil || berr != nil {
		return false
	}
	return s.ucmp(ak.UserKey, bk.UserKey) == 0
}

func (s *ISL) contains(iv *interval.Interval, key []byte) bool {
	return s.rawCompare(iv.Inf, key) <= 0 && s.rawCompare(key, iv.Sup) <= 0
}

func (s *ISL) containsInterval(iv *interval.Interval, lo, hi []byte) bool {
	return s.rawCompare(iv.Inf, lo) <= 0 && s.rawCompare(hi, iv.Sup) <= 0
}

func (s *ISL) randomLevel() int {
	height := 1
	for height < maxForward && s.rnd.Intn(islBranching) == 0 {
		height++
	}
	return height
}

// search descends from the header building the per-level update vector
// (update[i] = predecessor of searchKey at level i) and returns the node
// immediately at or after searchKey (nil if none).
func (s *ISL) search(searchKey []byte, update []*node) *node {
	x := s.head
	for i := s.maxLevel; i >= 0; i-- {
		for x.forward[i] != nil && s.rawCompare(x.forward[i].key, searchKey) < 0 {
			x = x.forward[i]
		}
		update[i] = x
	}
	return x.forward[0]
}

// insertNode returns the node for searchKey, creating it (and fixing up
// markers via adjustMarkersOnInsert) if it does not already exist.
func (s *ISL) insertNode(searchKey []byte) *node {
	update := make([]*node, maxForward)
	x := s.search(searchKey, update)
	if x != nil && s.rawCompare(x.key, searchKey) == 0 {
		return x
	}

	newLevel := s.randomLevel()
	if newLevel-1 > s.maxLevel {
		for i := s.maxLevel + 1; i <= newLevel-1; i++ {
			update[i] = s.head
		}
		s.maxLevel = newLevel - 1
	}

	x = newNode(searchKey, newLevel)
	for i := 0; i < newLevel; i++ {
		x.forward[i] = update[i].forward[i]
		update[i].forward[i] = x
	}

	s.adjustMarkersOnInsert(x, update)
	return x
}

// Insert creates an Interval over [inf, sup] backed by table and links it
// into the index (spec §4.5 Insert). timestamp == 0 means "assign the next
// auto-incrementing timestamp"; the compactor passes an explicit
// already-reserved timestamp for coeval replacement intervals.
func (s *ISL) Insert(inf, sup []byte, table *nvm.Table, timestamp uint64) *interval.Interval {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark := timestamp
	if timestamp == 0 {
		mark = s.timestamp
		s.timestamp++
	}
	iv := interval.New(inf, sup, mark, table)

	left := s.insertNode(inf)
	right := s.insertNode(sup)
	left.ownerCount++
	left.startMarker.Insert(iv)
	right.ownerCount++
	right.endMarker.Insert(iv)

	s.placeMarkers(left, right, iv)
	s.count++
	return iv
}

// Remove unlinks iv from the index (spec §4.5 Remove). It does not touch
// iv's refcount — the caller (typically the compactor) Unrefs after a
// successful Remove, per spec I4. Returns false as a no-op if iv was never
// inserted (or was already removed).
func (s *ISL) Remove(iv *interval.Interval) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*node, maxForward)
	left := s.search(iv.Inf, update)
	if left == nil || s.rawCompare(left.key, iv.Inf) != 0 || left.ownerCount <= 0 || !left.startMarker.Contains(iv) {
		return false
	}

	s.deleteMarkers(left, iv)
	left.startMarker.Remove(iv)
	left.ownerCount--
	if left.ownerCount == 0 {
		s.removeNode(left, update)
	}

	// Re-search for right: left's removal may have spliced out nodes that
	// update's pointers referred to.
	right := s.search(iv.Sup, update)
	if right == nil || s.rawCompare(right.key, iv.Sup) != 0 || right.ownerCount <= 0 {
		return false
	}
	right.endMarker.Remove(iv)
	right.ownerCount--
	if right.ownerCount == 0 {
		s.removeNode(right, update)
	}

	s.count--
	return true
}

func (s *ISL) removeNode(x *node, update []*node) {
	s.adjustMarkersOnDelete(x, update)
	for i := 0; i < x.level(); i++ {
		update[i].forward[i] = x.forward[i]
	}
}

// findIntervals performs the top-to-bottom stabbing descent (spec §4.5
// Stab): at each level, markers riding the edge stepped over (or eqMarkers
// when landing exactly on point) are collected. A final peek one step past
// the landing node gathers the startMarker of any node at the same user
// key, so that writes and deletes for the same user key that straddle an
// interval boundary are both visible. Caller holds at least the read lock.
func (s *ISL) findIntervals(point []byte) []*interval.Interval {
	var out []*interval.Interval
	x := s.head
	for i := s.maxLevel; i >= 0 && (x.isHeader || s.rawCompare(x.key, point) != 0); i-- {
		for x.forward[i] != nil && s.rawCompare(point, x.forward[i].key) >= 0 {
			x = x.forward[i]
		}
		if !x.isHeader && s.rawCompare(x.key, point) != 0 {
			out = x.markers[i].AppendUniqueTo(out)
		} else if !x.isHeader {
			out = x.eqMarkers.AppendUniqueTo(out)
		}
	}
	if x.forward[0] != nil && s.userKeyEqual(x.forward[0].key, point) {
		out = x.forward[0].startMarker.AppendUniqueTo(out)
	}
	return out
}

// Stab returns every interval containing point (spec P1), newest first.
// Returned intervals are Ref'd before the read lock is released (spec §5);
// callers must Unref each one after use.
func (s *ISL) Stab(point []byte) []*interval.Interval {
	s.mu.RLock()
	out := s.findIntervals(point)
	for _, iv := range out {
		iv.Ref()
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// StabCount is a fast admission test: the number of intervals stabbed at
// point, without Ref'ing the result (spec §4.6 BuildTable overlap check).
func (s *ISL) StabCount(point []byte) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.findIntervals(point))
}

// RangeEnumerate is Stab plus the neighboring node keys an NvmIterator needs
// to know when to re-seek (spec §4.5 RangeEnumerate). left is the key of
// the node at or immediately before point (nil if point precedes every
// node); right is the key of the nearest following node that starts an
// interval (nil if none). Besides the intervals containing point, the
// result holds the intervals ending at left, so a backward scan over
// [left, point] sees every table holding the left boundary entry. Intervals
// starting at right are not included.
func (s *ISL) RangeEnumerate(point []byte) (intervals []*interval.Interval, left, right []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil, nil, nil
	}

	var out []*interval.Interval
	x := s.head
	before := s.head
	equal := false
	i := s.maxLevel
	for ; i >= 0 && (x.isHeader || s.rawCompare(x.key, point) != 0); i-- {
		for x.forward[i] != nil && s.rawCompare(point, x.forward[i].key) >= 0 {
			before = x
			x = x.forward[i]
		}
		if !x.isHeader && s.rawCompare(x.key, point) != 0 {
			out = x.markers[i].AppendUniqueTo(out)
		} else if !x.isHeader {
			out = x.eqMarkers.AppendUniqueTo(out)
			equal = true
		}
	}

	if !equal {
		before = x
	} else {
		for ; i >= 0; i-- {
			for before.forward[i] != x {
				before = before.forward[i]
			}
		}
	}

	if before != s.head {
		out = before.endMarker.AppendUniqueTo(out)
	}
	left = before.key

	x = x.forward[0]
	for x != nil && x.startMarker.Count() == 0 {
		x = x.forward[0]
	}
	if x != nil {
		right = x.key
	}

	for _, iv := range out {
		iv.Ref()
	}
	return out, left, right
}

// FirstKey returns the smallest key currently present in the index, or nil
// if the index is empty. Used by NvmIterator.First.
func (s *ISL) FirstKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.head.forward[0] == nil {
		return nil
	}
	return s.head.forward[0].key
}

// LastKey returns the largest key currently present in the index, or nil if
// the index is empty. Used by NvmIterator.Last.
func (s *ISL) LastKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	x := s.head
	for i := s.maxLevel; i >= 0; i-- {
		for x.forward[i] != nil {
			x = x.forward[i]
		}
	}
	if x == s.head {
		return nil
	}
	return x.key
}

// CompactionEnumerate returns the intervals stabbed at point, plus the key
// of the next interval that starts in (point, rightBorder) with
// timestamp < timeBorder (spec §4.6's compaction frontier walk); every
// interval starting at that next node is appended to the returned
// intervals as well. Only the first start marker's timestamp is checked
// against timeBorder. point must
// already be a node key (the hot key or a previously expanded boundary).
// nextStart is nil if no such interval exists before rightBorder.
func (s *ISL) CompactionEnumerate(point []byte, timeBorder uint64, rightBorder []byte) (intervals []*interval.Interval, nextStart []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	x := s.head
	var out []*interval.Interval
	for i := s.maxLevel; i >= 0 && (x.isHeader || s.rawCompare(x.key, point) != 0); i-- {
		for x.forward[i] != nil && s.rawCompare(point, x.forward[i].key) >= 0 {
			x = x.forward[i]
		}
		if !x.isHeader && s.rawCompare(x.key, point) != 0 {
			out = x.markers[i].AppendUniqueTo(out)
		} else if !x.isHeader {
			out = x.eqMarkers.AppendUniqueTo(out)
		}
	}
	if x.isHeader {
		return nil, nil
	}

	after := x.forward[0]
	for after != nil && (rightBorder == nil || s.rawCompare(after.key, rightBorder) != 0) {
		if after.startMarker.Count() != 0 && after.startMarker.First().Timestamp < timeBorder {
			out = after.startMarker.AppendUniqueTo(out)
			nextStart = after.key
			break
		}
		after = after.forward[0]
	}

	for _, iv := range out {
		iv.Ref()
	}
	return out, nextStart
}
