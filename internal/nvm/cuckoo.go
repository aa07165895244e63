package nvm

import (
	"github.com/cespare/xxhash/v2"
)

// cuckooAssoc is the bucket associativity (slots per bucket), fixed at 4
// per spec §4.3.
const cuckooAssoc = 4

// maxCuckooKicks bounds the relocation chain before an insert falls back to
// the victim cache (original_source/util/hashtable.h, util/cuckoofilter.h).
const maxCuckooKicks = 500

// cuckooMurmurSeedMultiplier is the fixed seed the reference implementation
// hashes every key with. The value is kept, but here its bytes are appended
// to the key before hashing with xxhash (see seedKey), so bucket placement
// differs from the original's MurmurHash64A.
const cuckooMurmurSeedMultiplier = 816922183

type cuckooSlot struct {
	used     bool
	tag      uint32
	position uint32
}

type cuckooBucket [cuckooAssoc]cuckooSlot

// CuckooHash is a side-index mapping a user key to its first-occurrence
// position inside one NvmTable's array (spec §4.3). A miss, or a
// wrong-bucket hit, must fall back to a skip-list seek: the hash is
// advisory and correctness never depends on it.
type CuckooHash struct {
	buckets []cuckooBucket
	numKeys int

	victimUsed bool
	victimIdx  int
	victimTag  uint32
	victimPos  uint32
}

// NewCuckooHash allocates a table sized for maxKeys items.
func NewCuckooHash(maxKeys int) *CuckooHash {
	numBuckets := upperPowerOfTwo(maxIntArg(1, maxKeys/cuckooAssoc))
	if maxKeys > 0 {
		frac := float64(maxKeys) / float64(numBuckets) / cuckooAssoc
		if frac > 0.96 {
			numBuckets <<= 1
		}
	}
	return &CuckooHash{buckets: make([]cuckooBucket, numBuckets)}
}

func maxIntArg(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func upperPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (h *CuckooHash) indexHash(hv uint32) int {
	return int(hv) & (len(h.buckets) - 1)
}

func (h *CuckooHash) tagHash(hv uint32) uint32 {
	tag := hv & 0xffffffff
	if tag == 0 {
		tag = 1
	}
	return tag
}

func (h *CuckooHash) generateIndexTag(key []byte) (index int, tag uint32) {
	// MurmurHash64A in the original is seeded per-call; unseeded xxhash over
	// the key with the seed bytes appended (seedKey) plays the same role (a
	// fast, well-distributed 64-bit hash),
	// substituting the teacher-pack's own hash library for the portable
	// hash primitive the original hand-rolled.
	hash := xxhash.Sum64(seedKey(key))
	index = h.indexHash(uint32(hash >> 32))
	tag = h.tagHash(uint32(hash))
	return index, tag
}

func seedKey(key []byte) []byte {
	out := make([]byte, len(key)+4)
	copy(out, key)
	seed := uint32(cuckooMurmurSeedMultiplier)
	out[len(key)+0] = byte(seed)
	out[len(key)+1] = byte(seed >> 8)
	out[len(key)+2] = byte(seed >> 16)
	out[len(key)+3] = byte(seed >> 24)
	return out
}

func (h *CuckooHash) altIndex(index int, tag uint32) int {
	return h.indexHash(uint32(index) ^ (tag * 0x5bd1e995))
}

// Add inserts a position record for key. Returns false only when the
// victim slot is already occupied (see spec §4.3).
func (h *CuckooHash) Add(key []byte, position uint32) bool {
	if h.victimUsed {
		return false
	}
	index, tag := h.generateIndexTag(key)
	return h.addImpl(index, tag, position)
}

func (h *CuckooHash) addImpl(index int, tag uint32, position uint32) bool {
	curIndex := index
	curTag := tag
	curPos := position
	for count := 0; count < maxCuckooKicks; count++ {
		kickout := count > 0
		ok, oldTag, oldPos := h.insertSlotToBucket(curIndex, curTag, curPos, kickout)
		if ok {
			h.numKeys++
			return true
		}
		if kickout {
			curTag, curPos = oldTag, oldPos
		}
		curIndex = h.altIndex(curIndex, curTag)
	}
	h.victimIdx = curIndex
	h.victimTag = curTag
	h.victimPos = curPos
	h.victimUsed = true
	h.numKeys++
	return true
}

// insertSlotToBucket tries to place (tag, pos) into bucket index. If every
// slot is full and kickout is true, it evicts the first slot and returns
// its prior contents for the caller to re-insert elsewhere.
func (h *CuckooHash) insertSlotToBucket(index int, tag uint32, pos uint32, kickout bool) (inserted bool, oldTag uint32, oldPos uint32) {
	b := &h.buckets[index]
	for i := range b {
		if !b[i].used {
			b[i] = cuckooSlot{used: true, tag: tag, position: pos}
			return true, 0, 0
		}
	}
	if kickout {
		oldTag, oldPos = b[0].tag, b[0].position
		b[0] = cuckooSlot{used: true, tag: tag, position: pos}
		return false, oldTag, oldPos
	}
	return false, 0, 0
}

// Find returns the recorded position for key and true, or (0, false) if
// absent. A false result (or a position that a caller later finds doesn't
// match) must fall back to a skip-list seek.
func (h *CuckooHash) Find(key []byte) (uint32, bool) {
	i1, tag := h.generateIndexTag(key)
	i2 := h.altIndex(i1, tag)

	if h.victimUsed && tag == h.victimTag && (i1 == h.victimIdx || i2 == h.victimIdx) {
		return h.victimPos, true
	}
	if pos, ok := h.findInBucket(i1, tag); ok {
		return pos, true
	}
	if pos, ok := h.findInBucket(i2, tag); ok {
		return pos, true
	}
	return 0, false
}

func (h *CuckooHash) findInBucket(index int, tag uint32) (uint32, bool) {
	b := &h.buckets[index]
	for i := range b {
		if b[i].used && b[i].tag == tag {
			return b[i].position, true
		}
	}
	return 0, false
}

// Delete removes key's entry, rebalancing the victim cache if freeing a
// regular slot lets the victim be re-admitted (spec §4.3).
func (h *CuckooHash) Delete(key []byte) bool {
	i1, tag := h.generateIndexTag(key)
	i2 := h.altIndex(i1, tag)

	if h.deleteFromBucket(i1, tag) || h.deleteFromBucket(i2, tag) {
		h.numKeys--
		if h.victimUsed {
			h.numKeys--
			h.victimUsed = false
			h.addImpl(h.victimIdx, h.victimTag, h.victimPos)
		}
		return true
	}
	if h.victimUsed && tag == h.victimTag && (i1 == h.victimIdx || i2 == h.victimIdx) {
		h.numKeys--
		h.victimUsed = false
		return true
	}
	return false
}

func (h *CuckooHash) deleteFromBucket(index int, tag uint32) bool {
	b := &h.buckets[index]
	for i := range b {
		if b[i].used && b[i].tag == tag {
			b[i] = cuckooSlot{}
			return true
		}
	}
	return false
}

// Size returns the number of keys currently recorded.
func (h *CuckooHash) Size() int { return h.numKeys }
