package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/softdb/softdb"
	"github.com/softdb/softdb/internal/base"
	"github.com/softdb/softdb/internal/metrics"
)

// newBenchCmd runs a write-heavy workload against a fresh engine and charts
// the point-overlap count observed at the hottest key over time — the
// signal the compaction admission test fires on.
func newBenchCmd() *cobra.Command {
	var (
		batches    int
		batchSize  int
		keyspace   int
		seed       int64
		useCuckoo  bool
		maxOverlap int
		reads      int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "run a randomized write/read workload and report overlap, compactions, and latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := metrics.New("softdb", "bench")
			reg := prometheus.NewRegistry()
			if err := m.Register(reg); err != nil {
				return err
			}

			opts := engineOptions(useCuckoo, maxOverlap)
			opts.EventListener = &softdb.EventListener{
				TableCreated: func(timestamp uint64, count int) {
					m.IntervalsAlive.Inc()
				},
				CompactionBegin: func(hotkey []byte, overlap int) {
					m.HotKeyOverlap.Observe(float64(overlap))
				},
				CompactionEnd: func(timestamp uint64, in, out int, err error) {
					if err != nil {
						m.CompactionErrors.Inc()
						return
					}
					m.CompactionsRun.Inc()
					m.IntervalsAlive.Sub(float64(in))
				},
			}
			vs := softdb.NewVersionSet(opts)
			defer vs.Close()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "engine %s: %d batches x %d entries over %d keys (max-overlap=%d cuckoo=%t)\n",
				vs.ID(), batches, batchSize, keyspace, maxOverlap, useCuckoo)

			rng := rand.New(rand.NewSource(seed))
			hot := []byte(fmt.Sprintf("key%06d", keyspace/2))
			overlapSeries := make([]float64, 0, batches)
			sizeSeries := make([]float64, 0, batches)

			seq := uint64(0)
			for i := 0; i < batches; i++ {
				b := softdb.NewEntryBatch(bytes.Compare)
				for j := 0; j < batchSize; j++ {
					seq++
					key := fmt.Sprintf("key%06d", rng.Intn(keyspace))
					b.Set([]byte(key), seq, []byte(fmt.Sprintf("value-%d", seq)))
				}
				vs.SetLastSequence(seq)
				if _, err := vs.BuildTable(b.Cursor(), b.Len(), 0); err != nil {
					return err
				}
				overlapSeries = append(overlapSeries, float64(vs.StabCount(hot)))
				sizeSeries = append(sizeSeries, float64(vs.IndexSize()))
			}

			for i := 0; i < reads; i++ {
				key := fmt.Sprintf("key%06d", rng.Intn(keyspace))
				start := time.Now()
				_, err := vs.Get(base.MakeInternalKey([]byte(key), seq, base.ValueTypeValue))
				m.RecordGet(time.Since(start))
				if err != nil && err != softdb.ErrNotFound {
					return err
				}
			}

			fmt.Fprintf(out, "\npoint overlap at %s per batch:\n%s\n", hot,
				asciigraph.Plot(overlapSeries, asciigraph.Height(8), asciigraph.Caption("overlap")))
			fmt.Fprintf(out, "\nindex size per batch:\n%s\n",
				asciigraph.Plot(sizeSeries, asciigraph.Height(8), asciigraph.Caption("intervals")))

			fmt.Fprintf(out, "\nget latency: p50=%dus p99=%dus\n",
				m.GetLatencyPercentile(50), m.GetLatencyPercentile(99))
			if last := vs.HotKey(); last != nil {
				fmt.Fprintf(out, "last compaction hot point: %d raw bytes\n", len(last))
			}

			families, err := reg.Gather()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "\ncounters:")
			for _, mf := range families {
				if mf.GetType() != dto.MetricType_COUNTER && mf.GetType() != dto.MetricType_GAUGE {
					continue
				}
				for _, metric := range mf.GetMetric() {
					switch mf.GetType() {
					case dto.MetricType_COUNTER:
						fmt.Fprintf(out, "  %s %v\n", mf.GetName(), metric.GetCounter().GetValue())
					case dto.MetricType_GAUGE:
						fmt.Fprintf(out, "  %s %v\n", mf.GetName(), metric.GetGauge().GetValue())
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batches, "batches", 64, "number of flushed generations")
	cmd.Flags().IntVar(&batchSize, "batch-size", 128, "entries per generation")
	cmd.Flags().IntVar(&keyspace, "keyspace", 512, "distinct user keys")
	cmd.Flags().Int64Var(&seed, "seed", 1, "workload RNG seed")
	cmd.Flags().BoolVar(&useCuckoo, "cuckoo", true, "enable the per-table cuckoo side-index")
	cmd.Flags().IntVar(&maxOverlap, "max-overlap", 2, "point-overlap compaction threshold")
	cmd.Flags().IntVar(&reads, "reads", 1000, "point reads after the write phase")
	return cmd
}
