package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RequestID   string  `json:"request_id"`
	URL         string  `json:"url"`
	Outcome     Outcome `json:"outcome"`
	ExitCode    int     `json:"exit_code"`
	DurationMs  int64   `json:"duration_ms"`
	Instances   int     `json:"instances"`
	SuccessRate string  `json:"success_rate,omitempty"`
	Error       string  `json:"error,omitempty"`
	ABTesting   bool    `json:"ab_testing,omitempty"`

	Results []ReportInstance  `json:"results"`
	Metrics *metrics.Snapshot `json:"metrics"`

	// ProxyUser is the masked credential the run dialed with.
	ProxyUser string `json:"proxy_user,omitempty"`
}

// ReportInstance is one instance row in the report. Content is omitted.
type ReportInstance struct {
	InstanceNum  int    `json:"instance_num"`
	Success      bool   `json:"success"`
	StatusCode   *int   `json:"status_code,omitempty"`
	ResponseTime string `json:"response_time"`
	ContentBytes int    `json:"content_bytes"`
	Error        string `json:"error,omitempty"`
}

// BuildRunReport composes a RunReport from a result and metrics snapshot.
func BuildRunReport(requestID string, result *types.RunResult, snap metrics.Snapshot, duration time.Duration, proxyUser string) *RunReport {
	report := &RunReport{
		RequestID:   requestID,
		URL:         result.URL,
		Outcome:     DetermineOutcome(result),
		ExitCode:    ExitCode(result),
		DurationMs:  duration.Milliseconds(),
		Instances:   result.Instances,
		SuccessRate: result.SuccessRate,
		Error:       result.Error,
		ABTesting:   result.IsAB(),
		Results:     make([]ReportInstance, 0, len(result.InstanceResults)),
		Metrics:     &snap,
		ProxyUser:   proxyUser,
	}
	for _, r := range result.InstanceResults {
		report.Results = append(report.Results, ReportInstance{
			InstanceNum:  r.InstanceNum,
			Success:      r.Success,
			StatusCode:   r.StatusCode,
			ResponseTime: r.ResponseTime,
			ContentBytes: len(r.Content),
			Error:        r.Error,
		})
	}
	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeRunReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
