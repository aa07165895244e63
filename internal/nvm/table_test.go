package nvm

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/softdb/softdb/internal/base"
)

// testCursor feeds encoded entries to Transport the way the external flush
// path would.
type testCursor struct {
	cmp     base.Compare
	entries [][]byte
	pos     int
}

func newTestCursor(cmp base.Compare, entries [][]byte) *testCursor {
	sort.SliceStable(entries, func(i, j int) bool {
		return base.RawCompare(cmp, entries[i], entries[j]) < 0
	})
	return &testCursor{cmp: cmp, entries: entries}
}

func (c *testCursor) Valid() bool { return c.pos < len(c.entries) }
func (c *testCursor) Next()       { c.pos++ }

func (c *testCursor) Seek(key base.InternalKey) {
	target := base.EncodeEntry(nil, key, nil)
	c.pos = sort.Search(len(c.entries), func(i int) bool {
		return base.RawCompare(c.cmp, c.entries[i], target) >= 0
	})
}

func (c *testCursor) Key() base.InternalKey {
	k, _, _, _ := base.DecodeEntry(c.entries[c.pos])
	return k
}

func (c *testCursor) Value() []byte {
	_, v, _, _ := base.DecodeEntry(c.entries[c.pos])
	return v
}

func (c *testCursor) Raw() []byte { return c.entries[c.pos] }

func encode(key string, seq uint64, kind base.ValueType, val string) []byte {
	return base.EncodeEntry(nil, base.MakeInternalKey([]byte(key), seq, kind), []byte(val))
}

func buildTable(t *testing.T, useHash bool, entries [][]byte) *Table {
	t.Helper()
	tbl := NewTable(bytes.Compare, len(entries), useHash)
	require.NoError(t, Transport(tbl, newTestCursor(bytes.Compare, entries), false))
	require.Equal(t, len(entries), tbl.Count())
	return tbl
}

func lookup(tbl *Table, key string, seq uint64) (LookupResult, []byte) {
	ik := base.MakeInternalKey([]byte(key), seq, base.ValueTypeValue)
	return tbl.Get(ik, base.EncodeEntry(nil, ik, nil))
}

func TestTableTransportGetRoundTrip(t *testing.T) {
	for _, useHash := range []bool{false, true} {
		t.Run(fmt.Sprintf("hash=%t", useHash), func(t *testing.T) {
			entries := [][]byte{
				encode("a", 1, base.ValueTypeValue, "va"),
				encode("b", 2, base.ValueTypeValue, "vb"),
				encode("c", 3, base.ValueTypeDeletion, ""),
				encode("d", 4, base.ValueTypeValue, "vd"),
			}
			tbl := buildTable(t, useHash, entries)

			res, val := lookup(tbl, "a", 10)
			require.Equal(t, Found, res)
			require.Equal(t, "va", string(val))

			res, _ = lookup(tbl, "c", 10)
			require.Equal(t, FoundTombstone, res)

			res, _ = lookup(tbl, "x", 10)
			require.Equal(t, Missing, res)

			// A lookup bounded below the entry's sequence misses it.
			res, _ = lookup(tbl, "d", 3)
			require.Equal(t, Missing, res)
		})
	}
}

func TestTableGetNewestVersionWins(t *testing.T) {
	for _, useHash := range []bool{false, true} {
		t.Run(fmt.Sprintf("hash=%t", useHash), func(t *testing.T) {
			entries := [][]byte{
				encode("k", 3, base.ValueTypeValue, "v3"),
				encode("k", 7, base.ValueTypeValue, "v7"),
				encode("k", 9, base.ValueTypeDeletion, ""),
			}
			tbl := buildTable(t, useHash, entries)

			res, _ := lookup(tbl, "k", 100)
			require.Equal(t, FoundTombstone, res)

			res, val := lookup(tbl, "k", 8)
			require.Equal(t, Found, res)
			require.Equal(t, "v7", string(val))

			res, val = lookup(tbl, "k", 3)
			require.Equal(t, Found, res)
			require.Equal(t, "v3", string(val))

			res, _ = lookup(tbl, "k", 2)
			require.Equal(t, Missing, res)
		})
	}
}

func TestTableFirstLast(t *testing.T) {
	entries := [][]byte{
		encode("m", 1, base.ValueTypeValue, "1"),
		encode("a", 2, base.ValueTypeValue, "2"),
		encode("z", 3, base.ValueTypeValue, "3"),
	}
	tbl := buildTable(t, false, entries)
	fk, _, _, err := base.DecodeEntry(tbl.First())
	require.NoError(t, err)
	require.Equal(t, "a", string(fk.UserKey))
	lk, _, _, err := base.DecodeEntry(tbl.Last())
	require.NoError(t, err)
	require.Equal(t, "z", string(lk.UserKey))
}

func TestTransportStopsAtCapacity(t *testing.T) {
	var entries [][]byte
	for i := 0; i < 10; i++ {
		entries = append(entries, encode(fmt.Sprintf("k%02d", i), uint64(i+1), base.ValueTypeValue, "v"))
	}
	cur := newTestCursor(bytes.Compare, entries)
	tbl := NewTable(bytes.Compare, 4, false)
	require.NoError(t, Transport(tbl, cur, true))
	require.Equal(t, 4, tbl.Count())

	// During a compaction the source is advanced one step past the last
	// inserted key, so the next table begins strictly after this one ends.
	require.True(t, cur.Valid())
	lk, _, _, _ := base.DecodeEntry(tbl.Last())
	require.Equal(t, 1, bytes.Compare(cur.Key().UserKey, lk.UserKey))
}

func TestTransportInvalidCursor(t *testing.T) {
	tbl := NewTable(bytes.Compare, 4, false)
	cur := &testCursor{cmp: bytes.Compare}
	require.ErrorIs(t, Transport(tbl, cur, false), base.ErrInvalidArgument)
}

func TestTransportCopiesUnlessCompaction(t *testing.T) {
	entries := [][]byte{encode("a", 1, base.ValueTypeValue, "v")}
	src := append([]byte(nil), entries[0]...)

	tbl := NewTable(bytes.Compare, 1, false)
	require.NoError(t, Transport(tbl, newTestCursor(bytes.Compare, [][]byte{src}), false))
	src[len(src)-1] = 'X' // mutate the donor's copy
	res, val := lookup(tbl, "a", 10)
	require.Equal(t, Found, res)
	require.Equal(t, "v", string(val))

	tbl2 := NewTable(bytes.Compare, 1, false)
	src2 := append([]byte(nil), entries[0]...)
	require.NoError(t, Transport(tbl2, newTestCursor(bytes.Compare, [][]byte{src2}), true))
	// Compaction donates the backing bytes rather than copying.
	require.Same(t, &src2[0], &tbl2.First()[0])
}

func TestTableRandomizedAgainstMap(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, useHash := range []bool{false, true} {
		var entries [][]byte
		newest := map[string]struct {
			seq  uint64
			kind base.ValueType
			val  string
		}{}
		seq := uint64(1)
		for i := 0; i < 500; i++ {
			key := fmt.Sprintf("user%03d", rng.Intn(120))
			kind := base.ValueTypeValue
			if rng.Intn(4) == 0 {
				kind = base.ValueTypeDeletion
			}
			val := fmt.Sprintf("v%d", seq)
			entries = append(entries, encode(key, seq, kind, val))
			if cur, ok := newest[key]; !ok || seq > cur.seq {
				newest[key] = struct {
					seq  uint64
					kind base.ValueType
					val  string
				}{seq, kind, val}
			}
			seq++
		}
		tbl := buildTable(t, useHash, entries)
		for key, want := range newest {
			res, val := lookup(tbl, key, seq)
			if want.kind == base.ValueTypeDeletion {
				require.Equal(t, FoundTombstone, res, "key %s hash=%t", key, useHash)
			} else {
				require.Equal(t, Found, res, "key %s hash=%t", key, useHash)
				require.Equal(t, want.val, string(val))
			}
		}
	}
}

func TestTableIteratorSeek(t *testing.T) {
	entries := [][]byte{
		encode("a", 1, base.ValueTypeValue, "1"),
		encode("c", 2, base.ValueTypeValue, "2"),
		encode("e", 3, base.ValueTypeValue, "3"),
	}
	tbl := buildTable(t, false, entries)
	it := tbl.NewIterator()
	it.Seek(base.MakeInternalKey([]byte("b"), base.SeqNumMax, base.ValueTypeValue))
	require.True(t, it.Valid())
	require.Equal(t, "c", string(it.Key().UserKey))
	it.Next()
	require.Equal(t, "e", string(it.Key().UserKey))
	it.Next()
	require.False(t, it.Valid())

	it.SeekToLast()
	require.Equal(t, "e", string(it.Key().UserKey))
	it.Prev()
	require.Equal(t, "c", string(it.Key().UserKey))
}
