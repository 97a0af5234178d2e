// Package types contains public result types for txstress runs.
// These types are shared by the CLI, the MCP server and the report store.
package types

import "time"

// Mode identifies a dispatch strategy.
type Mode string

const (
	ModeSlow  Mode = "slow"  // one transaction in flight at a time
	ModeBurst Mode = "burst" // sized concurrent batches
	ModeTimed Mode = "timed" // one round of sends per new block
)

// RunState is the lifecycle state of a strategy driver.
type RunState string

const (
	StateInitializing RunState = "initializing"
	StateRunning      RunState = "running"
	StateDraining     RunState = "draining"
	StateDone         RunState = "done"
	StateFailed       RunState = "failed"
)

// AllStates lists every RunState, in lifecycle order.
var AllStates = []RunState{StateInitializing, StateRunning, StateDraining, StateDone, StateFailed}

// LatencyStats holds confirmation latency statistics.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"` // ms
	Max   float64 `json:"max"` // ms
	Avg   float64 `json:"avg"` // ms
	P50   float64 `json:"p50"` // ms
	P90   float64 `json:"p90"` // ms
	P99   float64 `json:"p99"` // ms
}

// RunReport is the final summary of one run.
type RunReport struct {
	ID         int64         `json:"id,omitempty"`
	Mode       Mode          `json:"mode"`
	State      RunState      `json:"state"`
	NodeURL    string        `json:"nodeUrl"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Requested  int           `json:"requested"`
	Sent       int           `json:"sent"`    // dispatch attempts (success or failure)
	Failed     int           `json:"failed"`  // dispatch failures
	Skipped    int           `json:"skipped"` // wallet picks skipped for low balance
	Completed  int           `json:"completed"`
	Pending    int           `json:"pending"`
	AvgLatency time.Duration `json:"avgLatency"`
	Latency    *LatencyStats `json:"latency,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Duration returns the wall-clock duration of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
