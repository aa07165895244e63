package base

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Sentinel errors surfaced by the core. Callers match against these with
// errors.Is; the core never returns a bare string error.
var (
	// ErrNotFound is returned when a Get finds no live entry for a key,
	// including the case where the newest entry is a tombstone.
	ErrNotFound = errors.New("softdb: not found")
	// ErrShuttingDown is returned by operations abandoned because the host
	// signaled shutdown.
	ErrShuttingDown = errors.New("softdb: shutting down")
	// ErrInvalidArgument flags a zero-capacity table or an initially-invalid
	// bulk-load cursor.
	ErrInvalidArgument = errors.New("softdb: invalid argument")
)

// CorruptionErrorf builds an error representing a malformed entry: a bad
// length-prefix or tag. Modeled on pebble's base.CorruptionErrorf.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errCorruption)
}

// IOErrorf builds an error representing a failed persist barrier or
// host-provided I/O call.
func IOErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errIOError)
}

var (
	errCorruption = errors.New("softdb: corruption")
	errIOError    = errors.New("softdb: I/O error")
)

// IsCorruptionError reports whether err was constructed by CorruptionErrorf.
func IsCorruptionError(err error) bool {
	return errors.Is(err, errCorruption)
}

// IsIOError reports whether err was constructed by IOErrorf.
func IsIOError(err error) bool {
	return errors.Is(err, errIOError)
}

// RedactedKey renders a raw user key for inclusion in an error message or
// log line without exposing its bytes: the result carries only the key's
// length, marked safe, and the key itself is never formatted.
func RedactedKey(key []byte) redact.RedactableString {
	return redact.Sprintf("%s", redact.Safe(len(key))).Redact()
}
