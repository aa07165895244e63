package softdb

import (
	"github.com/softdb/softdb/internal/base"
)

// Clock is the host-provided time source (spec §9: inject rather than call a
// global). Only Now is needed by the core today; it exists as its own
// collaborator interface (rather than a bare func field) so a host can swap
// in a fake clock in tests without reaching into VersionSet internals.
type Clock interface {
	Now() int64
}

// Scheduler runs background work exactly once at a time per caller (spec
// §6's "Scheduler hook"). VersionSet submits its compactor through this
// interface instead of spawning a goroutine directly, so a host can bound
// concurrency or substitute a synchronous scheduler in tests.
type Scheduler interface {
	Schedule(fn func())
}

// EventListener is a set of optional hooks fired as the core reaches
// noteworthy points in its lifecycle. Every field may be nil. This is purely
// ambient observability (spec §1.A) — the core never consults a listener's
// return value and never blocks meaningfully waiting on one.
type EventListener struct {
	// TableCreated fires after BuildTable seals a new NvmTable and has linked
	// its interval into the ISL; timestamp is the interval's ISL timestamp.
	TableCreated func(timestamp uint64, count int)
	// CompactionBegin fires when DoCompactionWork starts a compaction round.
	CompactionBegin func(hotkey []byte, overlap int)
	// CompactionEnd fires after a compaction round's replacement intervals
	// have been linked in and the old intervals removed, or, with a non-nil
	// err, when a round is abandoned and the old intervals stay in place.
	CompactionEnd func(timestamp uint64, tablesIn, tablesOut int, err error)
}

func (l *EventListener) tableCreated(timestamp uint64, count int) {
	if l != nil && l.TableCreated != nil {
		l.TableCreated(timestamp, count)
	}
}

func (l *EventListener) compactionBegin(hotkey []byte, overlap int) {
	if l != nil && l.CompactionBegin != nil {
		l.CompactionBegin(hotkey, overlap)
	}
}

func (l *EventListener) compactionEnd(timestamp uint64, in, out int, err error) {
	if l != nil && l.CompactionEnd != nil {
		l.CompactionEnd(timestamp, in, out, err)
	}
}

// Options configures a VersionSet (spec §6 "Options recognized by the
// core"). The zero value is not usable: Comparer is required. Call
// Options.EnsureDefaults (or just pass through NewVersionSet, which does it
// for you) before use.
type Options struct {
	// Comparer orders user keys. Required.
	Comparer base.Compare

	// WriteBufferSize is the upstream memtable's flush threshold. The core
	// only consumes the resulting entry count passed to BuildTable; it does
	// not read this field itself, but carries it so a single Options value
	// can configure both the external write path and the core (spec §6).
	WriteBufferSize int

	// UseCuckoo enables the per-NvmTable cuckoo hash side-index.
	UseCuckoo bool

	// MaxOverlap is the point-overlap threshold that triggers compaction.
	// Defaults to 2 (spec §6).
	MaxOverlap int

	// RunInDRAM disables persist barriers, for tests and non-NVM hosts.
	RunInDRAM bool

	// Peak is a soft cap on index size, advisory only (spec §9 Open
	// Question): VersionSet.IndexSizeExceedsPeak reports against it, but the
	// core never enforces it.
	Peak int

	// Logger receives structured progress/diagnostic lines. Defaults to a
	// no-op logger.
	Logger base.Logger

	// Clock and Scheduler are the host-provided collaborators the
	// compactor runs under (spec §9: "inject the scheduler, clock... as
	// explicit handles"). Scheduler defaults to running fn synchronously on
	// the calling goroutine if nil at EnsureDefaults time — tests rely on
	// this to make compaction deterministic.
	Clock     Clock
	Scheduler Scheduler

	// EventListener is an optional set of lifecycle hooks (see above).
	EventListener *EventListener

	// SnapshotFloor returns the oldest active reader's sequence number (the
	// spec glossary's "smallest snapshot"), the floor DoCompactionWork's
	// obsolete-key rule uses to decide what it can safely drop. The active
	// snapshot list itself is an external database-façade concern (spec §1);
	// this is the one hook the core needs into it. If nil, VersionSet
	// behaves as if no snapshot is held: the floor is LastSequence().
	SnapshotFloor func() uint64
}

// EnsureDefaults fills unset fields with their documented defaults and
// returns o for chaining. It is idempotent.
func (o *Options) EnsureDefaults() *Options {
	if o.MaxOverlap <= 0 {
		o.MaxOverlap = 2
	}
	if o.Logger == nil {
		o.Logger = base.NoopLogger{}
	}
	if o.Scheduler == nil {
		o.Scheduler = inlineScheduler{}
	}
	return o
}

// inlineScheduler runs work synchronously on the calling goroutine. It is
// the default Scheduler so that VersionSet is usable (and its compaction
// deterministic in tests) without a host wiring up a real worker pool.
type inlineScheduler struct{}

func (inlineScheduler) Schedule(fn func()) { fn() }
