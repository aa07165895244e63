package softdb

import (
	"sort"

	"github.com/softdb/softdb/internal/base"
)

// EntryBatch is the write-side adapter delivering a validated cursor and a
// count to BuildTable (spec §9's "Write path variants ... modeled as a
// write-side interface"). The external memtable and write-ahead log are out
// of scope; a host that has drained either into memory hands the entries to
// the core through this type. Entries are encoded eagerly (spec §3's stable
// layout) and sorted by internal-key order when a cursor is requested.
type EntryBatch struct {
	cmp     base.Compare
	entries [][]byte
	sorted  bool
}

// NewEntryBatch returns an empty batch ordered by cmp.
func NewEntryBatch(cmp base.Compare) *EntryBatch {
	return &EntryBatch{cmp: cmp, sorted: true}
}

// Set records a Put of key=value at seqNum.
func (b *EntryBatch) Set(key []byte, seqNum uint64, value []byte) {
	b.add(base.MakeInternalKey(key, seqNum, base.ValueTypeValue), value)
}

// Delete records a tombstone for key at seqNum.
func (b *EntryBatch) Delete(key []byte, seqNum uint64) {
	b.add(base.MakeInternalKey(key, seqNum, base.ValueTypeDeletion), nil)
}

func (b *EntryBatch) add(key base.InternalKey, value []byte) {
	b.entries = append(b.entries, base.EncodeEntry(nil, key, value))
	b.sorted = false
}

// Len returns the number of entries recorded, the count BuildTable sizes its
// table for.
func (b *EntryBatch) Len() int { return len(b.entries) }

// Cursor sorts the batch into internal-key order and returns a cursor over
// it, positioned at the first entry.
func (b *EntryBatch) Cursor() base.Cursor {
	if !b.sorted {
		sort.SliceStable(b.entries, func(i, j int) bool {
			return base.RawCompare(b.cmp, b.entries[i], b.entries[j]) < 0
		})
		b.sorted = true
	}
	return &batchCursor{batch: b}
}

// batchCursor implements base.Cursor over a sorted EntryBatch.
type batchCursor struct {
	batch *EntryBatch
	pos   int
}

func (c *batchCursor) Valid() bool {
	return c.pos >= 0 && c.pos < len(c.batch.entries)
}

func (c *batchCursor) Next() { c.pos++ }

func (c *batchCursor) Seek(key base.InternalKey) {
	target := base.EncodeEntry(nil, key, nil)
	c.pos = sort.Search(len(c.batch.entries), func(i int) bool {
		return base.RawCompare(c.batch.cmp, c.batch.entries[i], target) >= 0
	})
}

func (c *batchCursor) Key() base.InternalKey {
	k, _, _, _ := base.DecodeEntry(c.batch.entries[c.pos])
	return k
}

func (c *batchCursor) Value() []byte {
	_, v, _, _ := base.DecodeEntry(c.batch.entries[c.pos])
	return v
}

func (c *batchCursor) Raw() []byte { return c.batch.entries[c.pos] }
