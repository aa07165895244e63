// Package base defines the primitive types shared by every layer of the
// core: the internal-key encoding, the user comparator contract, error
// kinds, and the logging interface. Nothing here depends on the ISL, the
// NVM tier, or the version set.
package base

import (
	"bytes"
	"encoding/binary"
)

// ValueType distinguishes a live value from a tombstone. It occupies the low
// byte of a trailer.
type ValueType uint8

const (
	// ValueTypeDeletion marks a tombstone: the key is logically absent as of
	// this sequence number.
	ValueTypeDeletion ValueType = 0
	// ValueTypeValue marks a live value.
	ValueTypeValue ValueType = 1
)

// SeqNumMax is the largest sequence number representable in a trailer (56
// bits); trailers reserve the low 8 bits for the ValueType.
const SeqNumMax = uint64(1)<<56 - 1

// Trailer packs a sequence number and a ValueType into the 8-byte tag that
// follows a user key in the entry encoding: (sequence << 8) | value_type.
type Trailer uint64

// MakeTrailer packs seqNum and kind into a Trailer.
func MakeTrailer(seqNum uint64, kind ValueType) Trailer {
	return Trailer(seqNum<<8 | uint64(kind))
}

// SeqNum extracts the sequence number.
func (t Trailer) SeqNum() uint64 {
	return uint64(t) >> 8
}

// Kind extracts the value type.
func (t Trailer) Kind() ValueType {
	return ValueType(t)
}

// InternalKey is a user key plus its trailer, the unit the core orders,
// compares, and stores entries by.
type InternalKey struct {
	UserKey []byte
	Trailer Trailer
}

// MakeInternalKey builds an InternalKey from its parts.
func MakeInternalKey(userKey []byte, seqNum uint64, kind ValueType) InternalKey {
	return InternalKey{UserKey: userKey, Trailer: MakeTrailer(seqNum, kind)}
}

// SeqNum returns the packed sequence number.
func (k InternalKey) SeqNum() uint64 { return k.Trailer.SeqNum() }

// Kind returns the packed value type.
func (k InternalKey) Kind() ValueType { return k.Trailer.Kind() }

// Compare is a user-key comparator: negative/zero/positive as a<b, a==b,
// a>b. The core is parameterized over this type so that the compiler can
// inline comparisons in the ISL's and skip list's tight inner loops (see
// spec's design note on comparator dispatch).
type Compare func(a, b []byte) int

// InternalCompare orders two internal keys: by user key under cmp, and on a
// user-key tie by trailer descending (higher sequence sorts first, i.e.
// newer-for-the-same-key sorts before older).
func InternalCompare(cmp Compare, a, b InternalKey) int {
	if c := cmp(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Trailer > b.Trailer:
		return -1
	case a.Trailer < b.Trailer:
		return 1
	default:
		return 0
	}
}

// RawCompare orders two raw, length-prefixed entries (as produced by
// EncodeEntry) by decoding just enough of each to compare internal keys.
// This is the comparator the NVM tier and the ISL use: their "key" type is
// a pointer into an Entry's raw bytes, never a separately-allocated
// InternalKey (see spec §3, ISL Node).
func RawCompare(cmp Compare, a, b []byte) int {
	ak, _, _, aerr := DecodeEntry(a)
	bk, _, _, berr := DecodeEntry(b)
	if aerr != nil || berr != nil {
		// Malformed entries still need a total order for the skip list;
		// fall back to a raw byte comparison rather than panicking.
		return bytes.Compare(a, b)
	}
	return InternalCompare(cmp, ak, bk)
}

// DecodeEntry parses one length-prefixed record off the front of buf,
// returning the parsed internal key, its value slice, and the number of
// bytes consumed. Layout (see entry encoding):
//
//	key_len : varint32
//	user_key: bytes[key_len-8]
//	tag     : uint64 LE
//	val_len : varint32
//	value   : bytes[val_len]
func DecodeEntry(buf []byte) (key InternalKey, value []byte, n int, err error) {
	keyLen, m := binary.Uvarint(buf)
	if m <= 0 {
		return InternalKey{}, nil, 0, CorruptionErrorf("softdb: invalid entry: bad key_len varint")
	}
	off := m
	if keyLen < 8 || off+int(keyLen) > len(buf) {
		return InternalKey{}, nil, 0, CorruptionErrorf("softdb: invalid entry: key_len out of range")
	}
	userKey := buf[off : off+int(keyLen)-8]
	tag := binary.LittleEndian.Uint64(buf[off+int(keyLen)-8 : off+int(keyLen)])
	off += int(keyLen)
	valLen, m2 := binary.Uvarint(buf[off:])
	if m2 <= 0 {
		return InternalKey{}, nil, 0, CorruptionErrorf("softdb: invalid entry: bad val_len varint")
	}
	off += m2
	if off+int(valLen) > len(buf) {
		return InternalKey{}, nil, 0, CorruptionErrorf("softdb: invalid entry: val_len out of range")
	}
	value = buf[off : off+int(valLen)]
	off += int(valLen)
	return InternalKey{UserKey: userKey, Trailer: Trailer(tag)}, value, off, nil
}

// EncodeEntry appends the length-prefixed encoding of (key, value) to dst
// and returns the extended slice.
func EncodeEntry(dst []byte, key InternalKey, value []byte) []byte {
	keyLen := len(key.UserKey) + 8
	var tmp [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(tmp[:], uint64(keyLen))
	dst = append(dst, tmp[:n]...)
	dst = append(dst, key.UserKey...)
	var tag [8]byte
	binary.LittleEndian.PutUint64(tag[:], uint64(key.Trailer))
	dst = append(dst, tag[:]...)
	n = binary.PutUvarint(tmp[:], uint64(len(value)))
	dst = append(dst, tmp[:n]...)
	dst = append(dst, value...)
	return dst
}
