// Package softdb is the root package: it exposes the persistent-memory data
// plane described by the core — Options, VersionSet, and the
// NvmIterator/CompactIterator cursor types — built on internal/base,
// internal/nvm, internal/interval, and internal/islist.
package softdb

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/softdb/softdb/internal/base"
	"github.com/softdb/softdb/internal/interval"
	"github.com/softdb/softdb/internal/islist"
	"github.com/softdb/softdb/internal/nvm"
)

// VersionSet owns the ISL and the counters the external log/recovery
// subsystem consults (spec §3, §4.6). It drives table births on flush and
// compaction, and the point-overlap-triggered compaction loop. The zero
// value is not usable; construct with NewVersionSet.
type VersionSet struct {
	id   uuid.UUID
	opts *Options
	cmp  base.Compare
	isl  *islist.ISL
	log  base.Logger

	mu             sync.Mutex // stands in for the external database mutex (spec §5) guarding the counters below
	nextFileNumber uint64
	lastSequence   uint64
	logNumber      uint64
	prevLogNumber  uint64
	hotkey         []byte

	shuttingDown int32
	compacting   int32

	bgMu  sync.Mutex
	bgErr error

	// eg joins every background compaction goroutine on Close, the way the
	// teacher joins its own background workers before a clean shutdown.
	eg *errgroup.Group
}

// NewVersionSet constructs a VersionSet over a fresh, empty index.
// opts.Comparer is required; NewVersionSet panics if it is nil.
func NewVersionSet(opts *Options) *VersionSet {
	if opts.Comparer == nil {
		panic("softdb: Options.Comparer is required")
	}
	opts.EnsureDefaults()
	return &VersionSet{
		id:             uuid.New(),
		opts:           opts,
		cmp:            opts.Comparer,
		isl:            islist.New(opts.Comparer),
		log:            opts.Logger,
		nextFileNumber: 1,
		eg:             &errgroup.Group{},
	}
}

// ID returns this VersionSet's instance identity, suitable for log lines and
// metrics registry labels distinguishing concurrently running engines.
func (vs *VersionSet) ID() uuid.UUID { return vs.id }

// NewFileNumber returns a fresh, monotonically increasing file number.
func (vs *VersionSet) NewFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	n := vs.nextFileNumber
	vs.nextFileNumber++
	return n
}

// ReuseFileNumber rolls the counter back by one, but only if fileNumber is
// exactly the number that was last handed out (original_source/db/version_set.h's
// documented rollback condition).
func (vs *VersionSet) ReuseFileNumber(fileNumber uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.nextFileNumber == fileNumber+1 {
		vs.nextFileNumber = fileNumber
	}
}

// MarkFileNumberUsed advances the counter to at least number+1.
func (vs *VersionSet) MarkFileNumberUsed(number uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.nextFileNumber <= number {
		vs.nextFileNumber = number + 1
	}
}

// LastSequence returns the highest sequence number assigned so far.
func (vs *VersionSet) LastSequence() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.lastSequence
}

// SetLastSequence records s as the highest sequence number assigned. s must
// not be smaller than the current value.
func (vs *VersionSet) SetLastSequence(s uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if s < vs.lastSequence {
		vs.log.Fatalf("softdb: SetLastSequence(%d) precedes current %d", s, vs.lastSequence)
		return
	}
	vs.lastSequence = s
}

// LogNumber returns the current write-ahead log's file number.
func (vs *VersionSet) LogNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.logNumber
}

// PrevLogNumber returns the previous (being-drained) log's file number.
func (vs *VersionSet) PrevLogNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.prevLogNumber
}

// SetLogNumber records the current log's file number.
func (vs *VersionSet) SetLogNumber(n uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.logNumber = n
}

// SetPrevLogNumber records the previous log's file number.
func (vs *VersionSet) SetPrevLogNumber(n uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.prevLogNumber = n
}

// NewTimestamp returns the timestamp the next auto-assigned interval would
// receive, without consuming it.
func (vs *VersionSet) NewTimestamp() uint64 { return vs.isl.NewTimestamp() }

// IncTimestamp reserves the current timestamp without creating an interval.
func (vs *VersionSet) IncTimestamp() { vs.isl.IncTimestamp() }

// IndexSize returns the number of intervals currently linked into the ISL.
func (vs *VersionSet) IndexSize() int { return vs.isl.Size() }

// StabCount returns the point overlap observed at userKey, the compaction
// admission signal (spec §4.6). The probe is placed at the newest possible
// sequence for the key, the same position a fresh Get would stab.
func (vs *VersionSet) StabCount(userKey []byte) int {
	probe := base.EncodeEntry(nil, base.MakeInternalKey(userKey, base.SeqNumMax, base.ValueTypeValue), nil)
	return vs.isl.StabCount(probe)
}

// IndexSizeExceedsPeak reports whether the index holds more intervals than
// Options.Peak. Advisory only (spec §9 Open Question): the core never
// enforces it, leaving write admission control to the caller.
func (vs *VersionSet) IndexSizeExceedsPeak() bool {
	if vs.opts.Peak <= 0 {
		return false
	}
	return vs.isl.Size() > vs.opts.Peak
}

// BGError returns the first error the background compactor encountered, if
// any. Once set, MaybeScheduleCompaction becomes a permanent no-op (spec
// §7).
func (vs *VersionSet) BGError() error {
	vs.bgMu.Lock()
	defer vs.bgMu.Unlock()
	return vs.bgErr
}

func (vs *VersionSet) setBGError(err error) {
	vs.bgMu.Lock()
	if vs.bgErr == nil {
		vs.bgErr = err
	}
	vs.bgMu.Unlock()
}

func (vs *VersionSet) isShuttingDown() bool { return atomic.LoadInt32(&vs.shuttingDown) != 0 }

// Close signals shutdown and blocks until any in-flight compaction has
// finished its current batch and returned (spec scenario 6). It returns the
// first background error the compactor recorded, if any.
func (vs *VersionSet) Close() error {
	atomic.StoreInt32(&vs.shuttingDown, 1)
	if err := vs.eg.Wait(); err != nil {
		return err
	}
	return vs.BGError()
}

// BuildTable creates an NvmTable sized for count entries, bulk-loads iter
// into it, and inserts the resulting Interval into the ISL (spec §4.6).
// timestamp == 0 means "this is a memtable flush": the table donates no
// bytes (Transport copies), the interval gets the next auto-incrementing
// timestamp, and BuildTable runs the point-overlap admission test at both of
// the new interval's endpoints, scheduling a compaction if either meets
// Options.MaxOverlap. A non-zero timestamp means "this is a compaction
// replacement table": bytes are donated (Transport reuses iter's backing
// array) and the explicit timestamp is used verbatim, skipping the
// admission test (compaction-produced intervals are coeval and
// non-overlapping by construction).
func (vs *VersionSet) BuildTable(iter base.Cursor, count int, timestamp uint64) (*interval.Interval, error) {
	if count <= 0 || !iter.Valid() {
		return nil, base.ErrInvalidArgument
	}
	table := nvm.NewTable(vs.cmp, count, vs.opts.UseCuckoo)
	isCompaction := timestamp != 0
	if err := nvm.Transport(table, iter, isCompaction); err != nil {
		return nil, err
	}
	if table.Count() == 0 {
		return nil, base.ErrInvalidArgument
	}
	// Persist barrier before the table becomes reachable through the index
	// (spec §6's persistent layout contract). No-op under RunInDRAM.
	if err := table.Flush(vs.opts.RunInDRAM); err != nil {
		return nil, err
	}

	lRaw := table.First()
	rRaw := table.Last()
	iv := vs.isl.Insert(lRaw, rRaw, table, timestamp)
	vs.opts.EventListener.tableCreated(iv.Timestamp, table.Count())

	if !isCompaction {
		leftCount := vs.isl.StabCount(lRaw)
		rightCount := vs.isl.StabCount(rRaw)
		overlap, hotkey := leftCount, lRaw
		if rightCount > overlap {
			overlap, hotkey = rightCount, rRaw
		}
		if overlap >= vs.opts.MaxOverlap {
			vs.MaybeScheduleCompaction(hotkey, overlap)
		}
	}
	return iv, nil
}

// Get performs a point lookup at the internal key's sequence bound (spec
// §4.6): it stabs the ISL, refs every stabbed interval under the read lock,
// then probes each table's NvmTable.Get in descending-timestamp order
// (the order Stab already returns them in) until a value or tombstone is
// produced. It may schedule a compaction afterwards if the overlap observed
// at this key is large enough.
func (vs *VersionSet) Get(key base.InternalKey) ([]byte, error) {
	targetRaw := base.EncodeEntry(nil, key, nil)
	intervals := vs.isl.Stab(targetRaw)
	defer func() {
		for _, iv := range intervals {
			iv.Unref()
		}
	}()

	// The newest entry across all stabbed tables answers the query: Found
	// returns its value, FoundTombstone and Missing both fall through to
	// NotFound (a live deletion is indistinguishable from absence to the
	// caller, spec §7).
	var result []byte
	for _, iv := range intervals {
		res, value := iv.Table.Get(key, targetRaw)
		if res == nvm.Missing {
			continue
		}
		if res == nvm.Found {
			result = append([]byte{}, value...)
		}
		break
	}

	if overlap := len(intervals); overlap >= vs.opts.MaxOverlap {
		vs.MaybeScheduleCompaction(targetRaw, overlap)
	}

	if result == nil {
		return nil, base.ErrNotFound
	}
	return result, nil
}

// NewIterator returns an NvmIterator reading as of seqNum (spec §4.6).
// Callers must Close it when done.
func (vs *VersionSet) NewIterator(seqNum uint64) *NvmIterator {
	return newNvmIterator(vs, seqNum)
}

// MaybeScheduleCompaction submits a background compaction for hotkey (a raw
// entry marking the stab point) if one is not already in flight, the set has
// not encountered a prior error, the host has not signaled shutdown, and
// overlap meets Options.MaxOverlap (spec §4.6). Submission goes through
// Options.Scheduler, the host-injected collaborator (spec §9): the default
// inline scheduler runs the compaction on the calling goroutine, so flushes
// and gets observe its effects deterministically, while a host worker pool
// makes it background work. An errgroup goroutine joins each submission's
// completion so Close can wait for in-flight work either way.
func (vs *VersionSet) MaybeScheduleCompaction(hotkey []byte, overlap int) {
	if vs.isShuttingDown() || vs.BGError() != nil || overlap < vs.opts.MaxOverlap {
		return
	}
	if !atomic.CompareAndSwapInt32(&vs.compacting, 0, 1) {
		return
	}
	hk := append([]byte(nil), hotkey...)
	vs.mu.Lock()
	vs.hotkey = hk
	vs.mu.Unlock()

	done := make(chan struct{})
	vs.eg.Go(func() error {
		<-done
		return nil
	})
	vs.opts.Scheduler.Schedule(func() {
		defer close(done)
		defer atomic.StoreInt32(&vs.compacting, 0)
		if err := vs.DoCompactionWork(hk); err != nil && err != base.ErrShuttingDown {
			vs.setBGError(err)
		}
	})
}

// CompactScheduled reports whether a compaction is currently in flight.
func (vs *VersionSet) CompactScheduled() bool {
	return atomic.LoadInt32(&vs.compacting) != 0
}

// HotKey returns the raw entry most recently handed to the compactor as its
// stab point, or nil if no compaction has been scheduled yet. It is set only
// when a compaction is actually submitted: a hot key seen while another
// compaction is in flight is not recorded, and the core itself never reads
// this value back.
func (vs *VersionSet) HotKey() []byte {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.hotkey
}
