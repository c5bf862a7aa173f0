package types

import (
	"encoding/json"
	"slices"
	"time"
)

// TestType distinguishes stored test records.
type TestType string

const (
	TestTypeProxy    TestType = "proxy"
	TestTypeUnlocker TestType = "unlocker"
)

// RunState is the orchestrator state of a run as seen through the registry.
type RunState string

const (
	RunStarting          RunState = "starting"
	RunRunningParallel   RunState = "running_parallel"
	RunRunningSequential RunState = "running_sequential"
	RunCompleted         RunState = "completed"
	RunStopped           RunState = "stopped"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunStopped
}

// RunPhase labels run-level progress events.
type RunPhase string

const (
	PhaseStarting  RunPhase = "starting"
	PhaseStopped   RunPhase = "stopped"
	PhaseCompleted RunPhase = "completed"
)

// RunStatus is the payload of a run-level (instanceNum 0) progress event.
type RunStatus struct {
	Status             RunPhase `json:"status"`
	RequestID          string   `json:"requestId"`
	URL                string   `json:"url"`
	Instances          int      `json:"instances"`
	Delay              int      `json:"delay"`
	CompletedInstances *int     `json:"completedInstances,omitempty"`
	SuccessRate        string   `json:"successRate,omitempty"`
	ResponseTime       string   `json:"responseTime,omitempty"`
	Message            string   `json:"message,omitempty"`
	Timestamp          string   `json:"timestamp"`
}

// RunAggregate is the mutable accumulation of one run.
// Instances is keyed by instance number; updates overwrite.
type RunAggregate struct {
	RequestID    string
	URL          string
	State        RunState
	Requested    int
	Instances    map[int]InstanceResult
	SuccessRate  string
	ResponseTime string
	Success      bool
	Stopped      bool
	Complete     bool
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// NewRunAggregate creates an empty aggregate in the starting state.
func NewRunAggregate(requestID, url string, requested int, now time.Time) *RunAggregate {
	return &RunAggregate{
		RequestID:    requestID,
		URL:          url,
		State:        RunStarting,
		Requested:    requested,
		Instances:    make(map[int]InstanceResult),
		SuccessRate:  "0/0 (0%)",
		ResponseTime: "0",
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// InstanceResults returns the recorded instances ordered by number.
func (a *RunAggregate) InstanceResults() []InstanceResult {
	keys := make([]int, 0, len(a.Instances))
	for k := range a.Instances {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]InstanceResult, 0, len(keys))
	for _, k := range keys {
		out = append(out, a.Instances[k])
	}
	return out
}

// TerminalResults returns only completed instances ordered by number.
func (a *RunAggregate) TerminalResults() []InstanceResult {
	var out []InstanceResult
	for _, r := range a.InstanceResults() {
		if r.Terminal() {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to readers.
func (a *RunAggregate) Clone() *RunAggregate {
	c := *a
	c.Instances = make(map[int]InstanceResult, len(a.Instances))
	for k, v := range a.Instances {
		if v.StatusCode != nil {
			v.StatusCode = IntPtr(*v.StatusCode)
		}
		c.Instances[k] = v
	}
	return &c
}

type runAggregateJSON struct {
	RequestID       string           `json:"requestId"`
	URL             string           `json:"url"`
	State           RunState         `json:"state"`
	Instances       int              `json:"instances"`
	Success         bool             `json:"success"`
	ResponseTime    string           `json:"responseTime"`
	SuccessRate     string           `json:"successRate"`
	Stopped         bool             `json:"stopped"`
	Complete        bool             `json:"complete"`
	InstanceResults []InstanceResult `json:"instanceResults"`
	StartedAt       string           `json:"startedAt"`
	UpdatedAt       string           `json:"updatedAt"`
}

// MarshalJSON renders the aggregate with instances as an ordered list.
func (a *RunAggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(runAggregateJSON{
		RequestID:       a.RequestID,
		URL:             a.URL,
		State:           a.State,
		Instances:       a.Requested,
		Success:         a.Success,
		ResponseTime:    a.ResponseTime,
		SuccessRate:     a.SuccessRate,
		Stopped:         a.Stopped,
		Complete:        a.Complete,
		InstanceResults: a.InstanceResults(),
		StartedAt:       Timestamp(a.StartedAt),
		UpdatedAt:       Timestamp(a.UpdatedAt),
	})
}

// VariantResult is one side of an A/B comparison.
type VariantResult struct {
	Success      bool   `json:"success"`
	StatusCode   *int   `json:"statusCode,omitempty"`
	ResponseTime string `json:"responseTime"`
	ContentType  string `json:"contentType,omitempty"`
	Content      string `json:"content,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ABComparison carries both sides of an A/B run.
type ABComparison struct {
	ABTesting bool          `json:"abTesting"`
	ResultA   VariantResult `json:"resultA"`
	ResultB   VariantResult `json:"resultB"`
}

// RunResult is the synchronous outcome of a run. AB is set only for
// A/B runs, whose fields are inlined on the wire.
type RunResult struct {
	Success         bool             `json:"success"`
	URL             string           `json:"url"`
	TestType        TestType         `json:"testType"`
	ResponseTime    string           `json:"responseTime"`
	Instances       int              `json:"instances"`
	InstanceResults []InstanceResult `json:"instanceResults,omitempty"`
	SuccessRate     string           `json:"successRate,omitempty"`
	StatusCode      *int             `json:"statusCode,omitempty"`
	ContentType     string           `json:"contentType,omitempty"`
	Content         string           `json:"content,omitempty"`
	Error           string           `json:"error,omitempty"`
	Stopped         bool             `json:"stopped,omitempty"`

	*ABComparison
}

// IsAB reports whether the result is an A/B comparison.
func (r *RunResult) IsAB() bool {
	return r.ABComparison != nil
}

// GeoData is the egress location reported by the geo verification URL.
type GeoData struct {
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	Region       string `json:"region,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	Latitude     string `json:"latitude,omitempty"`
	Longitude    string `json:"longitude,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	ASN          string `json:"asn,omitempty"`
	Organization string `json:"organization,omitempty"`
}
