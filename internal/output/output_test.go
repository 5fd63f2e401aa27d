package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/cyclictest/internal/allocbench"
	"github.com/yairfalse/cyclictest/internal/engine"
	"github.com/yairfalse/cyclictest/internal/rtenv"
	"github.com/yairfalse/cyclictest/internal/stats"
	"github.com/yairfalse/cyclictest/pkg/domain"
)

func init() {
	color.NoColor = true
}

func sampleResult() *engine.Result {
	layout := stats.Layout{Buckets: 4, BucketWidth: time.Microsecond}

	t0 := domain.NewThreadStatistics(0, layout.Buckets)
	t0.Min, t0.Max, t0.Avg, t0.Sum, t0.Count = 1_250, 7_990, 3_000, 9_000, 3
	t0.Histogram = []uint64{0, 1, 1, 0}
	t0.Overflow = 1
	t0.Interrupted = 2

	t1 := domain.NewThreadStatistics(1, layout.Buckets)

	return &engine.Result{
		RunID:    uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Mode:     domain.SleepModeClockNanosleep,
		Interval: time.Millisecond,
		Cycles:   3,
		Layout:   layout,
		Setup: &rtenv.Report{Steps: []rtenv.StepResult{
			{Step: domain.StepLockMemory, Status: rtenv.StepOK, Detail: "current and future pages locked"},
			{Step: domain.StepSchedPolicy, Status: rtenv.StepFailed,
				Err: domain.NewSetupError(domain.StepSchedPolicy, syscall.EPERM), Detail: "operation not permitted"},
			{Step: domain.StepAffinity, Status: rtenv.StepSkipped},
		}},
		Threads:    []domain.ThreadStatistics{t0, t1},
		Failures:   []*domain.WorkerFailure{{Index: 1, Err: errors.New("sleep failed")}},
		Incomplete: true,
	}
}

func TestHumanFormatter_PrintRun(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewHumanFormatter(&buf).PrintRun(sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "# clock_nanosleep clock_gettime run 6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Contains(t, out, "lock_memory=ok")
	assert.Contains(t, out, "sched_policy=failed(privilege)")
	assert.Contains(t, out, "cpu_affinity=skipped")

	lines := strings.Split(out, "\n")
	var rows []string
	for _, l := range lines {
		if strings.HasPrefix(l, "  ") {
			rows = append(rows, strings.Fields(l)[0]+" "+strings.Join(strings.Fields(l)[1:], " "))
		}
	}
	assert.Equal(t, []string{"0.0 0 0", "1.0 1 0", "2.0 1 0", "3.0 0 0"}, rows)

	assert.Contains(t, out, "# T0: min 1.2 us, avg 3.0 us, max 7.9 us, overflow 1, interrupted 2")
	assert.Contains(t, out, "# T1: no samples")
	assert.Contains(t, out, "# INCOMPLETE: threads 1 failed")
	assert.Contains(t, out, "worker 1 failed: sleep failed")
}

func TestHumanFormatter_CompleteRunHasNoFlag(t *testing.T) {
	result := sampleResult()
	result.Incomplete = false
	result.Failures = nil

	var buf bytes.Buffer
	require.NoError(t, NewHumanFormatter(&buf).PrintRun(result))
	assert.NotContains(t, buf.String(), "INCOMPLETE")
}

func TestJSONFormatter_PrintRun(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONFormatter(&buf, true).PrintRun(sampleResult()))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", doc["run_id"])
	assert.Equal(t, "clock-nanosleep", doc["mode"])
	assert.Equal(t, true, doc["incomplete"])

	threads := doc["threads"].([]interface{})
	require.Len(t, threads, 2)
	t0 := threads[0].(map[string]interface{})
	assert.Equal(t, float64(1250), t0["min_ns"])
	assert.Equal(t, float64(3000), t0["p50_ns"])
	_, hasP99 := t0["p99_ns"]
	assert.False(t, hasP99, "p99 lands in the overflow region")
	t1 := threads[1].(map[string]interface{})
	_, hasMin := t1["min_ns"]
	assert.False(t, hasMin, "untouched thread must not expose the min sentinel")

	setup := doc["setup"].([]interface{})
	assert.Equal(t, "privilege", setup[1].(map[string]interface{})["kind"])

	failures := doc["failures"].([]interface{})
	assert.Equal(t, float64(1), failures[0].(map[string]interface{})["thread"])
}

func TestYAMLFormatter_PrintRun(t *testing.T) {
	var buf bytes.Buffer
	f := NewYAMLFormatter(&buf)
	require.NoError(t, f.PrintRun(sampleResult()))
	require.NoError(t, f.PrintRun(sampleResult()))

	dec := yaml.NewDecoder(&buf)
	docs := 0
	for {
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			break
		}
		docs++
		assert.Equal(t, "clock-nanosleep", doc["mode"])
		assert.Equal(t, "1ms", doc["interval"])
	}
	assert.Equal(t, 2, docs)
}

func TestFormatters_PrintBench(t *testing.T) {
	results := []allocbench.Result{
		{Case: allocbench.Case{Kind: allocbench.KindPush, Samples: 10}, Avg: 150 * time.Nanosecond, Max: 2_340 * time.Nanosecond},
		{Case: allocbench.Case{Kind: allocbench.KindLarge, Samples: 1}, Avg: 812_000 * time.Nanosecond, Max: 812_000 * time.Nanosecond},
	}

	var human bytes.Buffer
	require.NoError(t, NewHumanFormatter(&human).PrintBench(results))
	assert.Contains(t, human.String(), "push       10 samples: average 0.1 us, maximum 2.3 us")
	assert.Contains(t, human.String(), "large       1 samples: average 812.0 us, maximum 812.0 us")

	var js bytes.Buffer
	require.NoError(t, NewJSONFormatter(&js, false).PrintBench(results))
	assert.Contains(t, js.String(), `"kind":"push"`)
	assert.Contains(t, js.String(), `"samples":10`)

	var ym bytes.Buffer
	require.NoError(t, NewYAMLFormatter(&ym).PrintBench(results))
	assert.Contains(t, ym.String(), "kind: large")
}

func TestParseAndValidateFormat(t *testing.T) {
	assert.Equal(t, "json", ParseFormat("JSON"))
	assert.Equal(t, "yaml", ParseFormat("yml"))
	assert.Equal(t, "human", ParseFormat(""))
	assert.Equal(t, "human", ParseFormat("text"))

	assert.NoError(t, ValidateFormat("yaml"))
	assert.Error(t, ValidateFormat("xml"))

	assert.IsType(t, &JSONFormatter{}, NewFormatterWithWriter("json", &bytes.Buffer{}))
	assert.IsType(t, &YAMLFormatter{}, NewFormatterWithWriter("yaml", &bytes.Buffer{}))
	assert.IsType(t, &HumanFormatter{}, NewFormatterWithWriter("human", &bytes.Buffer{}))
}
