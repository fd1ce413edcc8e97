package types

import "time"

// FailureKind classifies a failed transmission or query attempt.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureConnect     FailureKind = "connect"
	FailureAssociation FailureKind = "association_rejected"
	FailureTimeout     FailureKind = "timeout"
	FailureTransport   FailureKind = "transport"
)

// Sample is the outcome of exactly one transmission attempt. It is created
// once by the worker that performed the attempt and never mutated after being
// handed to the collector.
type Sample struct {
	StudyUID string        `json:"study_uid"`
	Worker   int           `json:"worker"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Latency  time.Duration `json:"latency_ns"`
	Success  bool          `json:"success"`
	Failure  FailureKind   `json:"failure,omitempty"`
}

// MetricsSnapshot is a point-in-time aggregate over recorded samples. It is
// derived on demand and never stored.
type MetricsSnapshot struct {
	Count       int                 `json:"count"`
	Failed      int                 `json:"failed"`
	ErrorRate   float64             `json:"error_rate"`
	MinLatency  time.Duration       `json:"min_latency_ns"`
	MeanLatency time.Duration       `json:"mean_latency_ns"`
	P95Latency  time.Duration       `json:"p95_latency_ns"`
	Failures    map[FailureKind]int `json:"failures,omitempty"`
	Elapsed     time.Duration       `json:"elapsed_ns"`
	Throughput  float64             `json:"throughput_per_sec"`
}

// RunReport is the run-level result handed back to the caller of a load run.
// Threshold values are echoed for downstream assertions; the engine itself
// does not enforce them.
type RunReport struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	TotalAttempted int             `json:"total_attempted"`
	Snapshot       MetricsSnapshot `json:"snapshot"`
	MaxErrorRate   float64         `json:"max_error_rate"`
	MaxP95Latency  time.Duration   `json:"max_p95_latency_ns"`
}
