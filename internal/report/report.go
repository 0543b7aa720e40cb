// Package report renders host outcomes and the fleet tally for the console.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/DIPx2/WASSERFALL/internal/dispatch"
	"github.com/DIPx2/WASSERFALL/internal/pipeline"
	"github.com/DIPx2/WASSERFALL/internal/runner"
)

// ConsoleReporter writes one status line per host as outcomes arrive, plus
// optional per-unit output in verbose mode. The dispatcher serializes
// HostDone calls; the mutex additionally protects Summarize racing a late
// writer when the reporter is reused.
type ConsoleReporter struct {
	writer  io.Writer
	verbose bool
	mu      sync.Mutex
}

// NewConsoleReporter creates a reporter writing to w, defaulting to stdout.
func NewConsoleReporter(w io.Writer, verbose bool) *ConsoleReporter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleReporter{writer: w, verbose: verbose}
}

// HostDone renders one finished host.
func (r *ConsoleReporter) HostDone(out pipeline.HostOutcome, bucket dispatch.Bucket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case out.DryRun:
		for _, u := range out.Units {
			fmt.Fprintf(r.writer, "[DRY-RUN] %s: %s\n", out.Host, strings.TrimPrefix(u.Stdout, "[DRY-RUN] "))
		}
		if out.Err != "" {
			fmt.Fprintf(r.writer, "[FAIL] %s - %s\n", out.Host, out.Err)
		}
	case bucket == dispatch.Success:
		fmt.Fprintf(r.writer, "[OK] %s\n", out.Host)
	case bucket == dispatch.Partial:
		fmt.Fprintf(r.writer, "[PARTIAL] %s - %d/%d units succeeded (%s)\n",
			out.Host, out.OKUnits(), len(out.Units), failedUnits(out))
	default:
		fmt.Fprintf(r.writer, "[FAIL] %s - %s\n", out.Host, failReason(out))
	}

	if r.verbose && !out.DryRun {
		r.writeUnitDetail(out)
	}
}

// Summarize renders the fleet tally.
func (r *ConsoleReporter) Summarize(sum dispatch.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.writer, "\n%d hosts: %d ok, %d partial, %d failed\n",
		sum.Total(), sum.Success, sum.Partial, sum.Fail)
}

// failedUnits lists the failing unit labels with their codes.
func failedUnits(out pipeline.HostOutcome) string {
	var parts []string
	for _, u := range out.Units {
		if !u.OK {
			parts = append(parts, fmt.Sprintf("%s: %s", unitLabel(u.Unit), u.Code))
		}
	}
	return strings.Join(parts, ", ")
}

func failReason(out pipeline.HostOutcome) string {
	if out.Err != "" {
		return out.Err
	}
	// All units executed and all failed.
	return fmt.Sprintf("0/%d units succeeded (%s)", len(out.Units), failedUnits(out))
}

func unitLabel(unit string) string {
	if unit == runner.ShellUnit {
		return "shell"
	}
	return unit
}

// writeUnitDetail prints per-unit stdout/stderr and decoded rows, each line
// prefixed with the host so interleaved fleets stay readable.
func (r *ConsoleReporter) writeUnitDetail(out pipeline.HostOutcome) {
	for _, u := range out.Units {
		prefix := fmt.Sprintf("  [%s/%s]", out.Host, unitLabel(u.Unit))

		if u.Data != nil {
			if encoded, err := json.Marshal(u.Data); err == nil {
				fmt.Fprintf(r.writer, "%s %s\n", prefix, encoded)
				continue
			}
		}
		writePrefixed(r.writer, prefix, u.Stdout)
		writePrefixed(r.writer, prefix+" stderr:", u.Stderr)
	}
}

func writePrefixed(w io.Writer, prefix, text string) {
	if text == "" {
		return
	}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		fmt.Fprintf(w, "%s %s\n", prefix, scanner.Text())
	}
}
