// Command softdb exercises the engine from the command line: one-shot
// get/scan over an ad-hoc data set, and a write benchmark that charts the
// point-overlap signal driving compaction admission.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "softdb",
		Short:         "softdb exercises the interval-indexed NVM key-value engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGetCmd(), newScanCmd(), newBenchCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stderrLogger adapts the standard log package to the engine's logging
// interface.
type stderrLogger struct{}

func (stderrLogger) Infof(format string, args ...interface{}) {
	log.Printf(format, args...)
}

func (stderrLogger) Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}
