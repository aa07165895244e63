package islist

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"

	"github.com/softdb/softdb/internal/interval"
)

// TestDataDriven scripts the ISL through insert/remove/stab schedules. Each
// interval is named at insert time; stab output lists the covering intervals
// newest-first, the order readers consume them in.
func TestDataDriven(t *testing.T) {
	var s *ISL
	handles := map[string]*interval.Interval{}

	datadriven.RunTest(t, "testdata/isl", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "reset":
			s = New(bytes.Compare)
			handles = map[string]*interval.Interval{}
			return ""

		case "insert":
			var name, lo, hi string
			d.ScanArgs(t, "name", &name)
			d.ScanArgs(t, "lo", &lo)
			d.ScanArgs(t, "hi", &hi)
			iv := s.Insert(rawKey(lo, 1), rawKey(hi, 1), nil, 0)
			handles[name] = iv
			return fmt.Sprintf("%s@%d size=%d", name, iv.Timestamp, s.Size())

		case "remove":
			name := d.CmdArgs[0].Key
			iv, ok := handles[name]
			if !ok {
				d.Fatalf(t, "unknown interval %q", name)
			}
			removed := s.Remove(iv)
			if removed {
				iv.Unref()
				delete(handles, name)
			}
			return fmt.Sprintf("removed=%t size=%d", removed, s.Size())

		case "stab":
			point := d.CmdArgs[0].Key
			got := s.Stab(rawKey(point, 1))
			byIv := map[*interval.Interval]string{}
			for name, iv := range handles {
				byIv[iv] = name
			}
			names := make([]string, len(got))
			for i, iv := range got {
				names[i] = fmt.Sprintf("%s@%d", byIv[iv], iv.Timestamp)
				iv.Unref()
			}
			if len(names) == 0 {
				return "(none)"
			}
			return strings.Join(names, " ")

		case "count":
			point := d.CmdArgs[0].Key
			return fmt.Sprintf("%d", s.StabCount(rawKey(point, 1)))

		default:
			d.Fatalf(t, "unknown command %q", d.Cmd)
			return ""
		}
	})
}
