package softdb

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"
)

func scanForward(it *NvmIterator) []string {
	var out []string
	for it.First(); it.Valid(); it.Next() {
		out = append(out, fmt.Sprintf("%s=%s", it.Key().UserKey, it.Value()))
	}
	return out
}

func scanBackward(it *NvmIterator) []string {
	var out []string
	for it.Last(); it.Valid(); it.Prev() {
		out = append(out, fmt.Sprintf("%s=%s", it.Key().UserKey, it.Value()))
	}
	return out
}

func requireSameLines(t *testing.T, want, got []string) {
	t.Helper()
	if diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(strings.Join(want, "\n") + "\n"),
		B:        difflib.SplitLines(strings.Join(got, "\n") + "\n"),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	}); diff != "" {
		t.Fatalf("scan mismatch:\n%s", diff)
	}
}

func TestIteratorSingleTable(t *testing.T) {
	opts := testOptions()
	opts.MaxOverlap = 10
	vs := NewVersionSet(opts)
	defer vs.Close()

	b := NewEntryBatch(bytes.Compare)
	b.Set([]byte("a"), 1, []byte("1"))
	b.Set([]byte("c"), 2, []byte("2"))
	b.Delete([]byte("b"), 3)
	b.Set([]byte("d"), 4, []byte("4"))
	vs.SetLastSequence(4)
	flush(t, vs, b)

	it := vs.NewIterator(100)
	defer it.Close()
	requireSameLines(t, []string{"a=1", "c=2", "d=4"}, scanForward(it))
	requireSameLines(t, []string{"d=4", "c=2", "a=1"}, scanBackward(it))

	it.SeekGE([]byte("b"))
	require.True(t, it.Valid())
	require.Equal(t, "c", string(it.Key().UserKey))
	it.SeekGE([]byte("e"))
	require.False(t, it.Valid())
}

func TestIteratorAcrossClusters(t *testing.T) {
	opts := testOptions()
	opts.MaxOverlap = 10
	vs := NewVersionSet(opts)
	defer vs.Close()

	// Two disjoint clusters with a gap between them forces the iterator to
	// re-seek the ISL at the cluster boundary.
	b1 := NewEntryBatch(bytes.Compare)
	b1.Set([]byte("a"), 1, []byte("1"))
	b1.Set([]byte("b"), 2, []byte("2"))
	b2 := NewEntryBatch(bytes.Compare)
	b2.Set([]byte("x"), 3, []byte("3"))
	b2.Set([]byte("y"), 4, []byte("4"))
	vs.SetLastSequence(4)
	flush(t, vs, b1)
	flush(t, vs, b2)

	it := vs.NewIterator(100)
	defer it.Close()
	requireSameLines(t, []string{"a=1", "b=2", "x=3", "y=4"}, scanForward(it))
	requireSameLines(t, []string{"y=4", "x=3", "b=2", "a=1"}, scanBackward(it))

	it.SeekGE([]byte("c"))
	require.True(t, it.Valid())
	require.Equal(t, "x", string(it.Key().UserKey))
}

func TestIteratorMergesOverlap(t *testing.T) {
	opts := testOptions()
	opts.MaxOverlap = 10
	vs := NewVersionSet(opts)
	defer vs.Close()

	b1 := NewEntryBatch(bytes.Compare)
	b1.Set([]byte("a"), 1, []byte("old-a"))
	b1.Set([]byte("c"), 2, []byte("c"))
	b2 := NewEntryBatch(bytes.Compare)
	b2.Set([]byte("a"), 3, []byte("new-a"))
	b2.Set([]byte("b"), 4, []byte("b"))
	vs.SetLastSequence(4)
	flush(t, vs, b1)
	flush(t, vs, b2)

	it := vs.NewIterator(100)
	defer it.Close()
	// Duplicate user keys across the overlapping tables are deduplicated,
	// newest version winning.
	requireSameLines(t, []string{"a=new-a", "b=b", "c=c"}, scanForward(it))
	requireSameLines(t, []string{"c=c", "b=b", "a=new-a"}, scanBackward(it))
}

func TestIteratorDirectionSwitch(t *testing.T) {
	opts := testOptions()
	opts.MaxOverlap = 10
	vs := NewVersionSet(opts)
	defer vs.Close()

	b := NewEntryBatch(bytes.Compare)
	for i, k := range []string{"a", "b", "c", "d"} {
		b.Set([]byte(k), uint64(i+1), []byte(k))
	}
	vs.SetLastSequence(4)
	flush(t, vs, b)

	it := vs.NewIterator(100)
	defer it.Close()

	it.First()
	it.Next()
	require.Equal(t, "b", string(it.Key().UserKey))
	it.Prev()
	require.Equal(t, "a", string(it.Key().UserKey))
	it.Next()
	require.Equal(t, "b", string(it.Key().UserKey))

	it.Last()
	require.Equal(t, "d", string(it.Key().UserKey))
	it.Prev()
	require.Equal(t, "c", string(it.Key().UserKey))
	it.Next()
	require.Equal(t, "d", string(it.Key().UserKey))
}

// TestIteratorSeesSnapshot is property P3: an iterator bound to a sequence
// sees exactly the keys live at that sequence, each exactly once, with the
// newest value at or below the bound.
func TestIteratorSeesSnapshot(t *testing.T) {
	opts := testOptions()
	opts.MaxOverlap = 10
	vs := NewVersionSet(opts)
	defer vs.Close()

	b1 := NewEntryBatch(bytes.Compare)
	b1.Set([]byte("a"), 1, []byte("a1"))
	b1.Set([]byte("b"), 2, []byte("b2"))
	b1.Set([]byte("c"), 3, []byte("c3"))
	b2 := NewEntryBatch(bytes.Compare)
	b2.Set([]byte("a"), 4, []byte("a4"))
	b2.Delete([]byte("b"), 5)
	b2.Set([]byte("d"), 6, []byte("d6"))
	vs.SetLastSequence(6)
	flush(t, vs, b1)
	flush(t, vs, b2)

	cases := []struct {
		seq  uint64
		want []string
	}{
		{1, []string{"a=a1"}},
		{3, []string{"a=a1", "b=b2", "c=c3"}},
		{4, []string{"a=a4", "b=b2", "c=c3"}},
		{5, []string{"a=a4", "c=c3"}},
		{6, []string{"a=a4", "c=c3", "d=d6"}},
	}
	for _, tc := range cases {
		it := vs.NewIterator(tc.seq)
		requireSameLines(t, tc.want, scanForward(it))
		reversed := make([]string, len(tc.want))
		for i := range tc.want {
			reversed[i] = tc.want[len(tc.want)-1-i]
		}
		requireSameLines(t, reversed, scanBackward(it))
		it.Close()
	}
}

// TestIteratorSurvivesCompaction is spec scenario 5: a positioned iterator
// keeps the intervals a concurrent compaction removes alive through its
// references, and finishes its scan without loss.
func TestIteratorSurvivesCompaction(t *testing.T) {
	opts := testOptions()
	opts.MaxOverlap = 100 // compact only by hand
	vs := NewVersionSet(opts)
	defer vs.Close()

	b1 := NewEntryBatch(bytes.Compare)
	b1.Set([]byte("a"), 5, []byte("1"))
	b1.Set([]byte("c"), 6, []byte("2"))
	b2 := NewEntryBatch(bytes.Compare)
	b2.Set([]byte("b"), 7, []byte("3"))
	b2.Set([]byte("d"), 8, []byte("4"))
	vs.SetLastSequence(8)
	i1 := flush(t, vs, b1)
	i2 := flush(t, vs, b2)

	it := vs.NewIterator(100)
	it.First()
	require.True(t, it.Valid())
	require.Equal(t, "a", string(it.Key().UserKey))

	// The iterator's current cluster holds i1; i2 is only reachable through
	// a future re-seek.
	require.Equal(t, int32(2), i1.RefCount())

	// Compaction rewrites both intervals while the iterator is positioned.
	require.NoError(t, vs.DoCompactionWork(rawProbe("b", 100)))
	require.Equal(t, 1, vs.isl.Size())
	require.Equal(t, int32(1), i1.RefCount()) // iterator's reference survives
	require.Equal(t, int32(0), i2.RefCount()) // never held; freed with its removal

	var rest []string
	for ; it.Valid(); it.Next() {
		rest = append(rest, fmt.Sprintf("%s=%s", it.Key().UserKey, it.Value()))
	}
	requireSameLines(t, []string{"a=1", "b=3", "c=2", "d=4"}, rest)

	it.Close()
	require.Equal(t, int32(0), i1.RefCount())
}

// TestIteratorRandomized cross-checks forward and backward scans at random
// snapshots against a model, across many flushed generations and a few
// compactions.
func TestIteratorRandomized(t *testing.T) {
	opts := testOptions()
	opts.MaxOverlap = 1000
	// The scan phase reads as of snapshots all the way back to sequence 1,
	// so the obsolete-key rule must treat them all as live.
	opts.SnapshotFloor = func() uint64 { return 1 }
	vs := NewVersionSet(opts)
	defer vs.Close()

	rng := rand.New(rand.NewSource(19))
	type write struct {
		seq uint64
		del bool
		val string
	}
	model := map[string][]write{}
	seq := uint64(1)
	for g := 0; g < 8; g++ {
		b := NewEntryBatch(bytes.Compare)
		for n := 0; n < 6; n++ {
			key := fmt.Sprintf("key%02d", rng.Intn(15))
			if rng.Intn(5) == 0 {
				b.Delete([]byte(key), seq)
				model[key] = append(model[key], write{seq: seq, del: true})
			} else {
				val := fmt.Sprintf("v%d", seq)
				b.Set([]byte(key), seq, []byte(val))
				model[key] = append(model[key], write{seq: seq, val: val})
			}
			seq++
		}
		vs.SetLastSequence(seq - 1)
		flush(t, vs, b)
		if g == 3 || g == 6 {
			require.NoError(t, vs.DoCompactionWork(rawProbe("key07", seq)))
		}
	}

	expect := func(snap uint64) []string {
		keys := make([]string, 0, len(model))
		for k := range model {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			var newest *write
			for i := range model[k] {
				w := model[k][i]
				if w.seq <= snap && (newest == nil || w.seq > newest.seq) {
					newest = &model[k][i]
				}
			}
			if newest != nil && !newest.del {
				out = append(out, fmt.Sprintf("%s=%s", k, newest.val))
			}
		}
		return out
	}

	for _, snap := range []uint64{1, 7, 13, 25, 40, seq} {
		it := vs.NewIterator(snap)
		want := expect(snap)
		requireSameLines(t, want, scanForward(it))
		reversed := make([]string, len(want))
		for i := range want {
			reversed[i] = want[len(want)-1-i]
		}
		requireSameLines(t, reversed, scanBackward(it))
		it.Close()
	}
}
