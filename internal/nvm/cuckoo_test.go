package nvm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCuckooAddFind(t *testing.T) {
	h := NewCuckooHash(128)
	for i := 1; i <= 100; i++ {
		require.True(t, h.Add([]byte(fmt.Sprintf("key%03d", i)), uint32(i)))
	}
	require.Equal(t, 100, h.Size())
	for i := 1; i <= 100; i++ {
		pos, ok := h.Find([]byte(fmt.Sprintf("key%03d", i)))
		require.True(t, ok, "key%03d", i)
		require.Equal(t, uint32(i), pos)
	}
	_, ok := h.Find([]byte("never-inserted"))
	require.False(t, ok)
}

func TestCuckooDelete(t *testing.T) {
	h := NewCuckooHash(64)
	for i := 1; i <= 40; i++ {
		require.True(t, h.Add([]byte(fmt.Sprintf("key%03d", i)), uint32(i)))
	}
	require.True(t, h.Delete([]byte("key007")))
	_, ok := h.Find([]byte("key007"))
	require.False(t, ok)
	require.Equal(t, 39, h.Size())

	require.False(t, h.Delete([]byte("key007")))
	require.False(t, h.Delete([]byte("absent")))
}

func TestCuckooOverflowUsesVictim(t *testing.T) {
	// A table sized for very few keys: force the kick chain to spill into
	// the single-item victim slot, after which every further Add fails.
	h := NewCuckooHash(4)
	added := 0
	for i := 0; added < 2000 && i < 4000; i++ {
		if !h.Add([]byte(fmt.Sprintf("overflow%04d", i)), uint32(i+1)) {
			break
		}
		added++
	}
	require.Greater(t, added, 4, "expected at least one bucket's worth of inserts")
	// Once the victim slot is taken, Add must refuse.
	require.False(t, h.Add([]byte("one-more-a"), 9999) && h.Add([]byte("one-more-b"), 9998) &&
		h.Add([]byte("one-more-c"), 9997) && h.Add([]byte("one-more-d"), 9996) &&
		h.Add([]byte("one-more-e"), 9995))
}

func TestCuckooAdvisoryMismatch(t *testing.T) {
	// A position recorded for one key is never silently served for another:
	// either Find misses, or the caller's user-key verification catches the
	// tag collision. This test pins the first half of that contract.
	h := NewCuckooHash(32)
	require.True(t, h.Add([]byte("alpha"), 3))
	pos, ok := h.Find([]byte("alpha"))
	require.True(t, ok)
	require.Equal(t, uint32(3), pos)
	_, ok = h.Find([]byte("beta"))
	require.False(t, ok)
}
