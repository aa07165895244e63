package base

// Cursor is the generic bulk-load / iteration contract the core consumes
// from its upstream collaborators (the memtable flush path, the merged
// user-facing iterator) and produces internally (NvmIterator,
// CompactIterator). Raw returns a stable pointer to the length-prefixed
// entry bytes backing the current position, used by the ISL to key
// Interval endpoints without re-encoding.
type Cursor interface {
	Valid() bool
	Next()
	Seek(key InternalKey)
	Key() InternalKey
	Value() []byte
	Raw() []byte
}
