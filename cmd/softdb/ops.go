package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/softdb/softdb"
	"github.com/softdb/softdb/internal/base"
)

// loadArgs parses key=value pairs (a bare "key-" is a deletion), writes them
// as one flushed generation per --batch entries, and returns the engine.
// Sequence numbers are assigned in argument order.
func loadArgs(opts *softdb.Options, args []string, batchSize int) (*softdb.VersionSet, error) {
	vs := softdb.NewVersionSet(opts)
	b := softdb.NewEntryBatch(opts.Comparer)
	seq := uint64(0)
	flushBatch := func() error {
		if b.Len() == 0 {
			return nil
		}
		vs.SetLastSequence(seq)
		if _, err := vs.BuildTable(b.Cursor(), b.Len(), 0); err != nil {
			return err
		}
		b = softdb.NewEntryBatch(opts.Comparer)
		return nil
	}
	for _, arg := range args {
		seq++
		if key, ok := strings.CutSuffix(arg, "-"); ok && !strings.Contains(arg, "=") {
			b.Delete([]byte(key), seq)
		} else {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return nil, errors.Newf("malformed entry %q: want key=value or key-", arg)
			}
			b.Set([]byte(key), seq, []byte(value))
		}
		if b.Len() >= batchSize {
			if err := flushBatch(); err != nil {
				return nil, err
			}
		}
	}
	if err := flushBatch(); err != nil {
		return nil, err
	}
	return vs, nil
}

func engineOptions(useCuckoo bool, maxOverlap int) *softdb.Options {
	return &softdb.Options{
		Comparer:   bytes.Compare,
		UseCuckoo:  useCuckoo,
		MaxOverlap: maxOverlap,
		RunInDRAM:  true,
		Logger:     stderrLogger{},
		Clock:      microsClock{},
	}
}

// microsClock reports monotonic microseconds since process start.
type microsClock struct{}

func (microsClock) Now() int64 { return time.Since(processStart).Microseconds() }

var processStart = time.Now()

func newGetCmd() *cobra.Command {
	var (
		useCuckoo  bool
		maxOverlap int
		batchSize  int
	)
	cmd := &cobra.Command{
		Use:   "get <key> <key=value|key- ...>",
		Short: "load key=value pairs and point-look-up one key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := loadArgs(engineOptions(useCuckoo, maxOverlap), args[1:], batchSize)
			if err != nil {
				return err
			}
			defer vs.Close()
			v, err := vs.Get(base.MakeInternalKey([]byte(args[0]), base.SeqNumMax, base.ValueTypeValue))
			if errors.Is(err, softdb.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useCuckoo, "cuckoo", false, "enable the per-table cuckoo side-index")
	cmd.Flags().IntVar(&maxOverlap, "max-overlap", 2, "point-overlap compaction threshold")
	cmd.Flags().IntVar(&batchSize, "batch", 4, "entries per flushed generation")
	return cmd
}

func newScanCmd() *cobra.Command {
	var (
		useCuckoo  bool
		maxOverlap int
		batchSize  int
		reverse    bool
	)
	cmd := &cobra.Command{
		Use:   "scan <key=value|key- ...>",
		Short: "load key=value pairs and scan the merged live view",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := loadArgs(engineOptions(useCuckoo, maxOverlap), args, batchSize)
			if err != nil {
				return err
			}
			defer vs.Close()
			it := vs.NewIterator(base.SeqNumMax)
			defer it.Close()
			if reverse {
				for it.Last(); it.Valid(); it.Prev() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", it.Key().UserKey, it.Value())
				}
			} else {
				for it.First(); it.Valid(); it.Next() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", it.Key().UserKey, it.Value())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useCuckoo, "cuckoo", false, "enable the per-table cuckoo side-index")
	cmd.Flags().IntVar(&maxOverlap, "max-overlap", 2, "point-overlap compaction threshold")
	cmd.Flags().IntVar(&batchSize, "batch", 4, "entries per flushed generation")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "scan backward")
	return cmd
}
