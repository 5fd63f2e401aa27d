package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/yairfalse/cyclictest/internal/allocbench"
	"github.com/yairfalse/cyclictest/internal/engine"
	"github.com/yairfalse/cyclictest/internal/rtenv"
	"github.com/yairfalse/cyclictest/pkg/domain"
)

// HumanFormatter prints the histogram table: one row per bucket, one
// column per thread, followed by a summary line per thread
type HumanFormatter struct {
	w io.Writer
}

// NewHumanFormatter creates a human formatter writing to w
func NewHumanFormatter(w io.Writer) *HumanFormatter {
	return &HumanFormatter{w: w}
}

// PrintRun prints one run
func (f *HumanFormatter) PrintRun(result *engine.Result) error {
	p := &printer{w: f.w}

	p.printf("%s\n", Colors.Heading(fmt.Sprintf("# %s run %s: %d threads, interval %v, %d cycles",
		result.Mode.Description(), result.RunID, len(result.Threads), result.Interval, result.Cycles)))
	if result.Setup != nil {
		f.printSetup(p, result.Setup)
	}
	if len(result.Threads) > 0 {
		f.printHistogram(p, result)
		f.printSummary(p, result.Threads)
	}
	if result.Incomplete {
		f.printIncomplete(p, result)
	}
	return p.err
}

func (f *HumanFormatter) printSetup(p *printer, report *rtenv.Report) {
	parts := make([]string, 0, len(report.Steps))
	for _, s := range report.Steps {
		switch s.Status {
		case rtenv.StepOK:
			parts = append(parts, fmt.Sprintf("%s=%s", s.Step, Colors.Success(string(s.Status))))
		case rtenv.StepFailed:
			kind := ""
			if s.Err != nil {
				kind = string(s.Err.Kind)
			}
			parts = append(parts, fmt.Sprintf("%s=%s", s.Step, Colors.Warning(fmt.Sprintf("failed(%s)", kind))))
		default:
			parts = append(parts, fmt.Sprintf("%s=%s", s.Step, s.Status))
		}
	}
	p.printf("# setup: %s\n", strings.Join(parts, " "))
}

func (f *HumanFormatter) printHistogram(p *printer, result *engine.Result) {
	width := result.Layout.BucketWidth
	if width <= 0 || len(result.Threads[0].Histogram) == 0 {
		return
	}

	p.printf("# %-10s", "bucket(us)")
	for _, s := range result.Threads {
		p.printf(" %10s", fmt.Sprintf("T%d", s.Thread))
	}
	p.printf("\n")

	for b := range result.Threads[0].Histogram {
		p.printf("  %-10s", formatMicros(uint64(b)*uint64(width)))
		for _, s := range result.Threads {
			var count uint64
			if b < len(s.Histogram) {
				count = s.Histogram[b]
			}
			p.printf(" %10d", count)
		}
		p.printf("\n")
	}
}

func (f *HumanFormatter) printSummary(p *printer, threads []domain.ThreadStatistics) {
	for _, s := range threads {
		if s.Count == 0 {
			p.printf("# T%d: no samples\n", s.Thread)
			continue
		}
		p.printf("# T%d: min %s us, avg %s us, max %s us, overflow %d",
			s.Thread, formatMicros(s.Min), formatMicros(s.Avg), formatMicros(s.Max), s.Overflow)
		if s.Interrupted > 0 {
			p.printf(", interrupted %d", s.Interrupted)
		}
		p.printf("\n")
	}
}

func (f *HumanFormatter) printIncomplete(p *printer, result *engine.Result) {
	var reasons []string
	if failed := result.FailedThreads(); len(failed) > 0 {
		reasons = append(reasons, fmt.Sprintf("threads %s failed", joinInts(failed)))
	}
	if len(result.Stopped) > 0 {
		reasons = append(reasons, fmt.Sprintf("threads %s stopped early", joinInts(result.Stopped)))
	}
	p.printf("%s %s\n", Colors.Error("# INCOMPLETE:"), strings.Join(reasons, ", "))
	for _, fail := range result.Failures {
		p.printf("#   %v\n", fail)
	}
}

// PrintBench prints allocation benchmark results
func (f *HumanFormatter) PrintBench(results []allocbench.Result) error {
	p := &printer{w: f.w}
	p.printf("%s\n", Colors.Heading("# allocation benchmarks"))
	for _, r := range results {
		p.printf("%-6s %6d samples: average %s us, maximum %s us\n",
			r.Kind, r.Samples, formatMicros(uint64(r.Avg)), formatMicros(uint64(r.Max)))
	}
	return p.err
}

// formatMicros renders nanoseconds as microseconds with one decimal
func formatMicros(ns uint64) string {
	return fmt.Sprintf("%d.%d", ns/1000, ns%1000/100)
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

// printer keeps the first write error
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
