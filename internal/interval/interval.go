// Package interval defines the reference-counted handle that pairs a key
// range with the NvmTable storing those keys (spec §4.5, §9's note on
// re-expressing the source's raw-pointer-plus-atomic-int pattern as an
// owned handle).
package interval

import (
	"sync/atomic"

	"github.com/softdb/softdb/internal/nvm"
)

// Interval is {inf_key, sup_key, timestamp, table}: a reference-counted
// handle created exactly once per BuildTable. The ISL holds the first
// strong reference (refcount starts at 1); readers bump it transiently
// while using the table; the compactor's removal drops the ISL's
// reference, and whichever Unref call brings the count to zero frees the
// table and its entry bytes (spec I4).
type Interval struct {
	Inf       []byte // raw entry bytes: the table's first key
	Sup       []byte // raw entry bytes: the table's last key
	Timestamp uint64
	Table     *nvm.Table

	refs int32
}

// New creates an Interval over table with the given bounds and timestamp.
// The returned Interval has refcount 1, as if freshly inserted into the
// ISL; the caller (ISL.Insert) does not need to call Ref again.
func New(inf, sup []byte, timestamp uint64, table *nvm.Table) *Interval {
	return &Interval{Inf: inf, Sup: sup, Timestamp: timestamp, Table: table, refs: 1}
}

// Ref bumps the reference count. Callers must Ref before releasing the
// ISL's read lock and dropping a pointer they intend to keep using (spec
// §5).
func (iv *Interval) Ref() {
	atomic.AddInt32(&iv.refs, 1)
}

// Unref drops the reference count. When it reaches zero the Interval's
// table (and therefore every entry byte array it owns) becomes
// unreachable and is left for the garbage collector — the Go analogue of
// the original's explicit free in the same spot (spec I4, P5).
func (iv *Interval) Unref() {
	if atomic.AddInt32(&iv.refs, -1) == 0 {
		iv.Table = nil
	}
}

// RefCount returns the current reference count, for tests and metrics.
func (iv *Interval) RefCount() int32 {
	return atomic.LoadInt32(&iv.refs)
}
