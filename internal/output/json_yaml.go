package output

import (
	"encoding/json"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/google/uuid"
	"github.com/yairfalse/cyclictest/internal/allocbench"
	"github.com/yairfalse/cyclictest/internal/engine"
	"github.com/yairfalse/cyclictest/internal/rtenv"
	"github.com/yairfalse/cyclictest/internal/stats"
	"github.com/yairfalse/cyclictest/pkg/domain"
)

// runDocument is the structured form of a run
type runDocument struct {
	RunID    uuid.UUID        `json:"run_id" yaml:"run_id"`
	Mode     domain.SleepMode `json:"mode" yaml:"mode"`
	Interval time.Duration    `json:"interval_ns" yaml:"interval"`
	Cycles   uint64           `json:"cycles" yaml:"cycles"`
	Layout   stats.Layout     `json:"layout" yaml:"layout"`

	Setup   []setupStep    `json:"setup,omitempty" yaml:"setup,omitempty"`
	Threads []threadReport `json:"threads" yaml:"threads"`

	Incomplete bool            `json:"incomplete" yaml:"incomplete"`
	Failures   []failureReport `json:"failures,omitempty" yaml:"failures,omitempty"`
	Stopped    []int           `json:"stopped,omitempty" yaml:"stopped,omitempty"`

	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration"`
}

type setupStep struct {
	Step   domain.SetupStep `json:"step" yaml:"step"`
	Status rtenv.StepStatus `json:"status" yaml:"status"`
	Fatal  bool             `json:"fatal,omitempty" yaml:"fatal,omitempty"`
	Kind   domain.ErrorKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Detail string           `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// threadReport leaves Min out until the first sample so the sentinel never
// reaches consumers. Percentiles are omitted when they fall in the overflow
// region.
type threadReport struct {
	Thread      int      `json:"thread" yaml:"thread"`
	Count       uint64   `json:"count" yaml:"count"`
	Min         *uint64  `json:"min_ns,omitempty" yaml:"min_ns,omitempty"`
	Avg         uint64   `json:"avg_ns" yaml:"avg_ns"`
	Max         uint64   `json:"max_ns" yaml:"max_ns"`
	P50         *uint64  `json:"p50_ns,omitempty" yaml:"p50_ns,omitempty"`
	P99         *uint64  `json:"p99_ns,omitempty" yaml:"p99_ns,omitempty"`
	Histogram   []uint64 `json:"histogram" yaml:"histogram,flow"`
	Overflow    uint64   `json:"overflow" yaml:"overflow"`
	Interrupted uint64   `json:"interrupted" yaml:"interrupted"`
}

func percentile(s *domain.ThreadStatistics, layout stats.Layout, p float64) *uint64 {
	d, ok := stats.Percentile(s, layout, p)
	if !ok {
		return nil
	}
	ns := uint64(d)
	return &ns
}

type failureReport struct {
	Thread   int    `json:"thread" yaml:"thread"`
	Error    string `json:"error" yaml:"error"`
	Panicked bool   `json:"panicked,omitempty" yaml:"panicked,omitempty"`
}

func newRunDocument(result *engine.Result) runDocument {
	doc := runDocument{
		RunID:      result.RunID,
		Mode:       result.Mode,
		Interval:   result.Interval,
		Cycles:     result.Cycles,
		Layout:     result.Layout,
		Incomplete: result.Incomplete,
		Stopped:    result.Stopped,
		StartedAt:  result.StartedAt,
		Duration:   result.Duration,
		Threads:    make([]threadReport, 0, len(result.Threads)),
	}

	if result.Setup != nil {
		for _, s := range result.Setup.Steps {
			step := setupStep{Step: s.Step, Status: s.Status, Fatal: s.Fatal, Detail: s.Detail}
			if s.Err != nil {
				step.Kind = s.Err.Kind
			}
			doc.Setup = append(doc.Setup, step)
		}
	}

	for _, s := range result.Threads {
		tr := threadReport{
			Thread:      s.Thread,
			Count:       s.Count,
			Avg:         s.Avg,
			Max:         s.Max,
			Histogram:   s.Histogram,
			Overflow:    s.Overflow,
			Interrupted: s.Interrupted,
		}
		if s.Count > 0 {
			lo := s.Min
			tr.Min = &lo
		}
		tr.P50 = percentile(&s, result.Layout, 0.50)
		tr.P99 = percentile(&s, result.Layout, 0.99)
		doc.Threads = append(doc.Threads, tr)
	}

	for _, f := range result.Failures {
		doc.Failures = append(doc.Failures, failureReport{
			Thread:   f.Index,
			Error:    f.Error(),
			Panicked: f.Panic != nil,
		})
	}
	return doc
}

type benchDocument struct {
	Benchmarks []allocbench.Result `json:"benchmarks" yaml:"benchmarks"`
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Writer io.Writer
	Indent bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(w io.Writer, indent bool) *JSONFormatter {
	return &JSONFormatter{
		Writer: w,
		Indent: indent,
	}
}

// PrintRun encodes one run as a JSON document
func (f *JSONFormatter) PrintRun(result *engine.Result) error {
	return f.encode(newRunDocument(result))
}

// PrintBench encodes benchmark results
func (f *JSONFormatter) PrintBench(results []allocbench.Result) error {
	return f.encode(benchDocument{Benchmarks: results})
}

func (f *JSONFormatter) encode(v interface{}) error {
	encoder := json.NewEncoder(f.Writer)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

// YAMLFormatter formats output as YAML, one "---" separated document per
// call
type YAMLFormatter struct {
	Writer io.Writer
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(w io.Writer) *YAMLFormatter {
	return &YAMLFormatter{Writer: w}
}

// PrintRun encodes one run as a YAML document
func (f *YAMLFormatter) PrintRun(result *engine.Result) error {
	return f.encode(newRunDocument(result))
}

// PrintBench encodes benchmark results
func (f *YAMLFormatter) PrintBench(results []allocbench.Result) error {
	return f.encode(benchDocument{Benchmarks: results})
}

func (f *YAMLFormatter) encode(v interface{}) error {
	if _, err := io.WriteString(f.Writer, "---\n"); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}
