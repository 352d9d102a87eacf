// Package metrics is the backend-neutral metrics surface used by the
// pipeline. Backends buffer or export; the core only names metrics.
package metrics

import "time"

// Metric names.
const (
	StepTotal           = "sheetetl_step_total"            // labels: step, status
	StepDurationSeconds = "sheetetl_step_duration_seconds" // labels: step, status
	RowsTotal           = "sheetetl_rows_total"            // labels: table
	DimensionDatesTotal = "sheetetl_dimension_dates_total" // labels: status (cached|resolved)
)

type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use and ignore metric names they do not know.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

// Step records one step outcome: a StepTotal increment and a
// StepDurationSeconds observation.
func Step(b Backend, step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

var _ Backend = Nop{}
