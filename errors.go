package softdb

import "github.com/softdb/softdb/internal/base"

// Re-exported so callers never need to import internal/base directly,
// mirroring pebble's own top-level re-export of its base error sentinels.
var (
	ErrNotFound        = base.ErrNotFound
	ErrShuttingDown    = base.ErrShuttingDown
	ErrInvalidArgument = base.ErrInvalidArgument
)
