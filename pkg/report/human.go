package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/umputun/fleetplay/pkg/executor"
)

// WriteHuman renders the accumulated report in a colorized, per-host-prefixed
// style (executor.ColorizedWriter/hostColorizer), generalized from
// per-command lines to per-task banners followed by one status line per
// host, and a final recap table.
func (r *Reporter) WriteHuman(w io.Writer) {
	doc := r.Document()

	for _, play := range doc.Plays {
		fmt.Fprintf(w, "\nPLAY [%s] %s\n", play.Name, dashFill(len(play.Name)+8))
		for _, task := range play.Tasks {
			fmt.Fprintf(w, "\nTASK [%s] %s\n", task.Name, dashFill(len(task.Name)+8))
			for _, host := range play.Hosts {
				res, ok := task.PerHost[host]
				if !ok {
					continue // host was excluded before this task ran (unreachable earlier, or loop-skip)
				}
				cw := executor.NewColorizedWriter(w, "", host, "")
				fmt.Fprintf(cw, "%s\n", statusLine(res))
			}
		}
		fmt.Fprintf(w, "\nRECAP %s\n", dashFill(40))
		writeRecap(w, play.Hosts, doc.Stats)
	}
}

func statusLine(res HostResult) string {
	switch res.Status {
	case StatusOK:
		return "ok"
	case StatusChanged:
		return "changed"
	case StatusSkipped:
		reason := res.Msg
		if reason == "" {
			return "skipped"
		}
		return "skipped: " + reason
	case StatusUnreachable:
		return "unreachable: " + res.Msg
	case StatusFailed:
		return "FAILED: " + res.Msg
	default:
		return string(res.Status)
	}
}

func writeRecap(w io.Writer, hosts []string, stats map[string]Stats) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "host\tok\tchanged\tfailed\tskipped\tunreachable")
	for _, h := range hosts {
		s := stats[h]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", h, s.OK, s.Changed, s.Failed, s.Skipped, s.Unreachable)
	}
	_ = tw.Flush()
}

func dashFill(n int) string {
	if n > 60 {
		n = 60
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = '*'
	}
	return string(out)
}
