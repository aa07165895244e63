package nvm

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadSkipList(t *testing.T, keys []string) *SkipList {
	t.Helper()
	l := NewSkipList(bytes.Compare, len(keys))
	w := NewSkipWorker(l)
	for i, k := range keys {
		ok := w.Insert([]byte(k))
		require.Equal(t, i < len(keys)-1, ok)
	}
	w.Finish()
	return l
}

func sortedKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%04d", i*2)
	}
	return keys
}

func TestSkipListSeek(t *testing.T) {
	keys := sortedKeys(200)
	l := loadSkipList(t, keys)
	require.Equal(t, 200, l.Count())

	it := NewSkipIterator(l)
	for i := 0; i < 200; i++ {
		// Exact hit.
		it.Seek([]byte(fmt.Sprintf("key%04d", i*2)))
		require.True(t, it.Valid())
		require.Equal(t, keys[i], string(it.Entry()))
		// Between keys: lands on the next one.
		it.Seek([]byte(fmt.Sprintf("key%04d", i*2-1)))
		require.True(t, it.Valid())
		require.Equal(t, keys[i], string(it.Entry()))
	}
	it.Seek([]byte("key9999"))
	require.False(t, it.Valid())
}

func TestSkipListContains(t *testing.T) {
	l := loadSkipList(t, sortedKeys(64))
	require.True(t, l.Contains([]byte("key0024")))
	require.False(t, l.Contains([]byte("key0023")))
}

func TestSkipListFirstLast(t *testing.T) {
	keys := sortedKeys(50)
	l := loadSkipList(t, keys)
	it := NewSkipIterator(l)
	it.SeekToFirst()
	require.Equal(t, keys[0], string(it.Entry()))
	it.SeekToLast()
	require.Equal(t, keys[len(keys)-1], string(it.Entry()))
}

func TestSkipListOrderedScan(t *testing.T) {
	keys := sortedKeys(100)
	l := loadSkipList(t, keys)
	it := NewSkipIterator(l)
	it.SeekToFirst()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Entry()))
	}
	require.Equal(t, keys, got)
}

func TestSkipListWaveSearch(t *testing.T) {
	keys := sortedKeys(300)
	l := loadSkipList(t, keys)
	rng := rand.New(rand.NewSource(7))

	it := NewSkipIterator(l)
	for i := 0; i < 100; i++ {
		anchor := 1 + rng.Intn(150)
		target := anchor + rng.Intn(150)
		it.Jump(anchor)
		it.WaveSearch([]byte(keys[target-1]))
		require.True(t, it.Valid())
		require.Equal(t, keys[target-1], string(it.Entry()))
	}

	// Target at or before the anchor: the anchor itself answers.
	it.Jump(10)
	it.WaveSearch([]byte(keys[9]))
	require.Equal(t, keys[9], string(it.Entry()))

	// Target past the end.
	it.Jump(5)
	it.WaveSearch([]byte("zzz"))
	require.False(t, it.Valid())
}

func TestSkipListObsoleteFlag(t *testing.T) {
	l := loadSkipList(t, sortedKeys(4))
	it := NewSkipIterator(l)
	it.SeekToFirst()
	require.False(t, it.KeyIsObsolete())
	it.Abandon()
	require.True(t, it.KeyIsObsolete())
	it.Seek([]byte("key0000"))
	require.True(t, it.Valid())
}
