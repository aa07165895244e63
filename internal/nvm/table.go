package nvm

import (
	"github.com/softdb/softdb/internal/base"
)

// LookupResult is the outcome of a point Get against a Table.
type LookupResult int

const (
	// Missing means no entry for the user key was found in this table.
	Missing LookupResult = iota
	// Found means a live value was found.
	Found
	// FoundTombstone means the newest entry for the user key in this
	// table is a deletion.
	FoundTombstone
)

// Table is one immutable generation: an array-backed skip list of encoded
// entries plus an optional cuckoo-hash side-index (spec §4.4). Built once
// via Transport, then read-only for its entire lifetime, which is governed
// by the refcount of the Interval that owns it.
type Table struct {
	cmp  base.Compare
	list *SkipList
	hash *CuckooHash
}

// NewTable allocates a Table sized for capacity entries. useHash enables
// the per-table cuckoo side-index (Options.UseCuckoo, spec §6).
func NewTable(cmp base.Compare, capacity int, useHash bool) *Table {
	rawCmp := func(a, b []byte) int { return base.RawCompare(cmp, a, b) }
	t := &Table{
		cmp:  cmp,
		list: NewSkipList(rawCmp, capacity),
	}
	if useHash {
		t.hash = NewCuckooHash(capacity)
	}
	return t
}

// Count returns the number of entries stored.
func (t *Table) Count() int { return t.list.Count() }

// First returns the raw bytes of the table's first entry (its inf key for
// the owning Interval). Requires Count() > 0.
func (t *Table) First() []byte {
	it := NewSkipIterator(t.list)
	it.SeekToFirst()
	return it.Entry()
}

// Last returns the raw bytes of the table's last entry (its sup key for
// the owning Interval). Requires Count() > 0.
func (t *Table) Last() []byte {
	it := NewSkipIterator(t.list)
	it.SeekToLast()
	return it.Entry()
}

// NewIterator returns a forward/backward cursor over the table's entries.
func (t *Table) NewIterator() *TableIterator {
	return &TableIterator{it: NewSkipIterator(t.list), cmp: t.cmp}
}

// Flush issues the persist barrier over every entry's backing bytes,
// mirroring the original's per-node clflush pass over the array (spec
// §4.2, §6). A no-op under Options.RunInDRAM. The forward-pointer towers
// themselves are ordinary Go heap objects rather than NVM-resident memory
// in this port, so only entry bytes need the barrier here.
func (t *Table) Flush(runInDRAM bool) error {
	if runInDRAM {
		return nil
	}
	for i := 1; i <= t.list.num; i++ {
		if err := persistBarrier(t.list.nodes[i].entry, runInDRAM); err != nil {
			return err
		}
	}
	return nil
}

// Transport bulk-loads the table from src (spec §4.4). If hashing is
// enabled, every entry that starts a new user key has its *previous*
// user-key's first-occurrence position recorded (the first entry seen for
// a user key is the one with the highest sequence number, since entries
// arrive in internal-key order). When isCompaction is true the table
// reuses src's raw entry bytes instead of copying them (compaction donates
// ownership to avoid churn). Stops when the skip list reaches capacity; if
// that happens mid-compaction, src is advanced one further step so the
// next table begins strictly after this one ends.
func Transport(t *Table, src base.Cursor, isCompaction bool) error {
	if !src.Valid() {
		return base.ErrInvalidArgument
	}
	w := NewSkipWorker(t.list)

	pos := 0
	currentUserKey := append([]byte(nil), src.Key().UserKey...)
	currentPos := 1

	for src.Valid() {
		if t.hash != nil {
			pos++
			tmp := src.Key().UserKey
			if t.cmp(tmp, currentUserKey) != 0 {
				t.hash.Add(currentUserKey, uint32(currentPos))
				currentUserKey = append([]byte(nil), tmp...)
				currentPos = pos
			}
		}

		raw := src.Raw()
		var entry []byte
		if isCompaction {
			entry = raw
		} else {
			entry = append([]byte(nil), raw...)
		}
		if !w.Insert(entry) {
			break
		}
		src.Next()
	}
	if t.hash != nil {
		t.hash.Add(currentUserKey, uint32(currentPos))
	}
	w.Finish()
	if isCompaction && src.Valid() {
		// Preserve the invariant that the next table begins strictly
		// after this one ends: the entry src is parked on was already
		// consumed by the Insert above.
		src.Next()
	}
	return nil
}

// Get performs a point lookup (spec §4.4). target is an internal key built
// from the caller's lookup key at the maximum sequence number the caller
// may observe; the newest entry with a user key match is what answers the
// query.
func (t *Table) Get(target base.InternalKey, targetRaw []byte) (LookupResult, []byte) {
	it := NewSkipIterator(t.list)
	landed := false
	if t.hash != nil {
		if pos, ok := t.hash.Find(target.UserKey); ok && pos >= 1 && int(pos) <= t.list.num {
			it.Jump(int(pos))
			if t.cmp(sliceUserKey(it.Entry()), target.UserKey) == 0 {
				it.WaveSearch(targetRaw)
				landed = true
			}
		}
	}
	if !landed {
		it.Seek(targetRaw)
	}
	if !it.Valid() {
		return Missing, nil
	}
	gotKey, value, _, err := base.DecodeEntry(it.Entry())
	if err != nil {
		return Missing, nil
	}
	if t.cmp(gotKey.UserKey, target.UserKey) != 0 {
		return Missing, nil
	}
	if gotKey.Kind() == base.ValueTypeDeletion {
		return FoundTombstone, nil
	}
	return Found, value
}

func sliceUserKey(raw []byte) []byte {
	k, _, _, err := base.DecodeEntry(raw)
	if err != nil {
		return nil
	}
	return k.UserKey
}

// TableIterator is a forward/backward cursor over one Table's entries,
// implementing base.Cursor so it can feed a merging iterator.
type TableIterator struct {
	it  *SkipIterator
	cmp base.Compare
}

// Valid implements base.Cursor.
func (c *TableIterator) Valid() bool { return c.it.Valid() }

// Next implements base.Cursor.
func (c *TableIterator) Next() { c.it.Next() }

// Prev advances backward.
func (c *TableIterator) Prev() { c.it.Prev() }

// Seek implements base.Cursor.
func (c *TableIterator) Seek(key base.InternalKey) {
	c.it.Seek(base.EncodeEntry(nil, key, nil))
}

// SeekToFirst positions at the first entry.
func (c *TableIterator) SeekToFirst() { c.it.SeekToFirst() }

// SeekToLast positions at the last entry.
func (c *TableIterator) SeekToLast() { c.it.SeekToLast() }

// Key implements base.Cursor.
func (c *TableIterator) Key() base.InternalKey {
	k, _, _, _ := base.DecodeEntry(c.it.Entry())
	return k
}

// Value implements base.Cursor.
func (c *TableIterator) Value() []byte {
	_, v, _, _ := base.DecodeEntry(c.it.Entry())
	return v
}

// Raw implements base.Cursor.
func (c *TableIterator) Raw() []byte { return c.it.Entry() }
