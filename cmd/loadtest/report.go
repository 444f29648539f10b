package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// report: итог прогона; scenario-поля дублируют шаг stepScenario.
type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

type stepSamples struct {
	ok       int64
	statuses map[string]int64
	took     []time.Duration
}

func (s *stepSamples) report() stepReport {
	calls := int64(len(s.took))
	return stepReport{
		Calls:     calls,
		Success:   s.ok,
		Failed:    calls - s.ok,
		ErrorRate: ratio(calls-s.ok, calls),
		Statuses:  maps.Clone(s.statuses),
		LatencyMs: summarize(s.took),
	}
}

// collector копит вызовы по шагам; HTTP-статус 0 означает ошибку транспорта.
type collector struct {
	mu    sync.Mutex
	steps map[string]*stepSamples
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*stepSamples)}
}

func (c *collector) record(step string, latency time.Duration, status int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.steps[step]
	if s == nil {
		s = &stepSamples{statuses: make(map[string]int64)}
		c.steps[step] = s
	}
	if ok {
		s.ok++
	}
	s.statuses[statusLabel(status)]++
	s.took = append(s.took, latency)
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}
	for name, s := range c.steps {
		out.Steps[name] = s.report()
	}

	scenario := out.Steps[stepScenario]
	out.TotalScenarios = scenario.Calls
	out.SuccessScenarios = scenario.Success
	out.FailedScenarios = scenario.Failed
	out.ErrorRate = scenario.ErrorRate
	out.ScenarioLatencyMs = scenario.LatencyMs
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

// writeJSONReport пишет отчёт только внутри текущего каталога.
func writeJSONReport(path string, result report) error {
	root, err := os.OpenRoot(".")
	if err != nil {
		return err
	}
	defer root.Close()

	file, err := root.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	fmt.Fprintf(w, "Load test summary\nmode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tCALLS\tOK\tFAILED\tERROR_RATE\tP50_MS\tP95_MS\tP99_MS")
	for _, name := range slices.Sorted(maps.Keys(result.Steps)) {
		if name == stepScenario {
			continue
		}
		s := result.Steps[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.2f\t%.2f\t%.2f\n",
			name, s.Calls, s.Success, s.Failed, s.ErrorRate, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99)
	}
	_ = tw.Flush()
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

// summarize считает перцентили с линейной интерполяцией, значения в миллисекундах.
func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}

	ms := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		ms[i] = float64(d.Microseconds()) / 1000
		sum += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: sum / float64(len(ms)),
		P50: percentile(ms, 50),
		P95: percentile(ms, 95),
		P99: percentile(ms, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo, hi := int(math.Floor(rank)), int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
