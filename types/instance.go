package types

import (
	"fmt"
	"time"
)

// DefaultContentType is reported when a response carries no Content-Type.
const DefaultContentType = "text/plain"

// TimestampLayout is the millisecond UTC timestamp format used on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t in TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatSeconds renders a duration as seconds with two decimals.
func FormatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Seconds())
}

// InstanceStatus is the lifecycle of one instance.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceRunning   InstanceStatus = "running"
	InstanceCompleted InstanceStatus = "completed"
)

// Terminal reports whether the status is final.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted
}

// InstanceResult is the outcome of one fetch within a run.
type InstanceResult struct {
	InstanceNum  int            `json:"instanceNum"`
	Name         string         `json:"name,omitempty"`
	Status       InstanceStatus `json:"status"`
	Success      bool           `json:"success"`
	StatusCode   *int           `json:"statusCode,omitempty"`
	ResponseTime string         `json:"responseTime,omitempty"`
	ContentType  string         `json:"contentType,omitempty"`
	Content      string         `json:"content"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    string         `json:"createdAt"`
}

// Terminal reports whether the instance has finished.
func (r InstanceResult) Terminal() bool {
	return r.Status.Terminal()
}

// InstanceName renders the display name for an instance outcome.
func InstanceName(n int, statusCode *int, success bool) string {
	if statusCode == nil {
		return fmt.Sprintf("Request %d - Failed", n)
	}
	verdict := "Error"
	if success {
		verdict = "Success"
	}
	return fmt.Sprintf("Request %d - %d %s", n, *statusCode, verdict)
}

// RunningInstance is the transition event for an instance that started.
func RunningInstance(n int, startedAt time.Time) InstanceResult {
	return InstanceResult{
		InstanceNum: n,
		Status:      InstanceRunning,
		CreatedAt:   Timestamp(startedAt),
	}
}

// FailedInstance is a terminal failure with no HTTP status.
func FailedInstance(n int, startedAt time.Time, elapsed time.Duration, msg string) InstanceResult {
	return InstanceResult{
		InstanceNum:  n,
		Name:         InstanceName(n, nil, false),
		Status:       InstanceCompleted,
		ResponseTime: FormatSeconds(elapsed),
		Error:        msg,
		CreatedAt:    Timestamp(startedAt),
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
