package softdb

import (
	"github.com/softdb/softdb/internal/base"
	"github.com/softdb/softdb/internal/nvm"
)

// CompactIterator merges the NvmTable iterators of every interval a
// compaction round pulls in and applies the obsolete-key rule (spec §4.6):
// the newest entry for each user key survives unconditionally; a later
// (older) entry for the same key is dropped once it is provably
// unobservable by any active snapshot. It implements base.Cursor so it can
// be fed directly into VersionSet.BuildTable's Transport call, donating its
// entry bytes rather than copying them (the `is_compaction` contract of
// spec §4.4/§6).
type CompactIterator struct {
	cmp              base.Compare
	merge            *mergeCursor
	smallestSnapshot uint64

	hasCurrentUserKey bool
	currentUserKey    []byte
	lastSeqForKey     uint64

	raw   []byte
	valid bool
}

// newCompactIterator builds a CompactIterator over the TableIterators of
// every supplied table, already restricted by the caller to the interval set
// participating in this compaction round.
func newCompactIterator(cmp base.Compare, tables []*nvm.Table, smallestSnapshot uint64) *CompactIterator {
	sources := make([]base.Cursor, 0, len(tables))
	for _, t := range tables {
		it := t.NewIterator()
		it.SeekToFirst()
		sources = append(sources, it)
	}
	ci := &CompactIterator{
		cmp:              cmp,
		merge:            newMergeCursor(cmp, sources),
		smallestSnapshot: smallestSnapshot,
		lastSeqForKey:    base.SeqNumMax,
	}
	ci.findNext()
	return ci
}

// findNext advances past dropped entries to land on the next entry to keep,
// or marks the iterator invalid once the merge is exhausted. This is the
// classic LevelDB/RocksDB compaction drop logic: rule A drops a later entry
// for a key already shadowed by a newer one at or below the snapshot floor;
// rule B drops a tombstone once no active snapshot can still observe it.
// Parse errors keep the entry (paranoid preservation) and reset the
// same-key tracking, matching spec §4.6's obsolete-key rule exactly.
func (ci *CompactIterator) findNext() {
	for ci.merge.Valid() {
		raw := ci.merge.Raw()
		key, _, _, err := base.DecodeEntry(raw)
		drop := false
		if err != nil {
			ci.hasCurrentUserKey = false
			ci.lastSeqForKey = base.SeqNumMax
		} else {
			if !ci.hasCurrentUserKey || ci.cmp(key.UserKey, ci.currentUserKey) != 0 {
				ci.currentUserKey = append(ci.currentUserKey[:0], key.UserKey...)
				ci.hasCurrentUserKey = true
				ci.lastSeqForKey = base.SeqNumMax
			}
			switch {
			case ci.lastSeqForKey <= ci.smallestSnapshot:
				drop = true // rule A
			case key.Kind() == base.ValueTypeDeletion && key.SeqNum() <= ci.smallestSnapshot:
				drop = true // rule B
			}
			ci.lastSeqForKey = key.SeqNum()
		}
		if !drop {
			ci.raw = raw
			ci.valid = true
			return
		}
		ci.merge.Next()
	}
	ci.valid = false
}

// Valid implements base.Cursor.
func (ci *CompactIterator) Valid() bool { return ci.valid }

// Next implements base.Cursor.
func (ci *CompactIterator) Next() {
	ci.merge.Next()
	ci.findNext()
}

// Seek implements base.Cursor. A compaction never re-seeks its own merge
// (it only ever walks forward from construction), so this is unsupported.
func (ci *CompactIterator) Seek(base.InternalKey) {
	panic("softdb: CompactIterator does not support Seek")
}

// Key implements base.Cursor.
func (ci *CompactIterator) Key() base.InternalKey {
	k, _, _, _ := base.DecodeEntry(ci.raw)
	return k
}

// Value implements base.Cursor.
func (ci *CompactIterator) Value() []byte {
	_, v, _, _ := base.DecodeEntry(ci.raw)
	return v
}

// Raw implements base.Cursor.
func (ci *CompactIterator) Raw() []byte { return ci.raw }
