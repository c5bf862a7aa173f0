package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pithecene-io/unlockbench/types"
)

// MaskCredentials renders stored credentials with the password hidden.
// Unparseable input is dropped rather than stored verbatim.
func MaskCredentials(raw string) string {
	if raw == "" {
		return ""
	}
	c, err := types.ParseCredentials(raw)
	if err != nil {
		return ""
	}
	return c.Masked()
}

// NewProxyRecord builds the record stored after a proxy verification.
func NewProxyRecord(creds types.Credentials, port string, success bool, elapsed time.Duration, geo *types.GeoData, errMsg string, now time.Time) (*Record, error) {
	rec := &Record{
		Credentials:  creds.Masked(),
		Port:         port,
		Success:      success,
		ResponseTime: types.FormatSeconds(elapsed),
		ErrorMessage: errMsg,
		CreatedAt:    now,
		TestType:     types.TestTypeProxy,
		Instances:    1,
	}
	if geo != nil {
		data, err := json.Marshal(geo)
		if err != nil {
			return nil, fmt.Errorf("failed to encode geo data: %w", err)
		}
		rec.ResponseData = string(data)
	}
	return rec, nil
}

// NewRunRecord builds the record stored after an unlocker run.
func NewRunRecord(runID string, req types.RunRequest, result *types.RunResult, now time.Time) (*Record, error) {
	rec := &Record{
		Credentials:      MaskCredentials(req.Credentials),
		Port:             req.Port,
		Success:          result.Success,
		ResponseTime:     result.ResponseTime,
		ErrorMessage:     result.Error,
		CreatedAt:        now,
		TestType:         types.TestTypeUnlocker,
		TestGroup:        runID,
		URL:              result.URL,
		StatusCode:       result.StatusCode,
		ContentType:      result.ContentType,
		Content:          result.Content,
		Rules:            req.Rules,
		Instances:        result.Instances,
		Delay:            req.Delay,
		SuccessRate:      result.SuccessRate,
		ABTestingEnabled: result.IsAB(),
	}
	if rec.Instances == 0 {
		rec.Instances = 1
	}

	if len(result.InstanceResults) > 0 {
		data, err := json.Marshal(result.InstanceResults)
		if err != nil {
			return nil, fmt.Errorf("failed to encode instance results: %w", err)
		}
		rec.InstanceResults = string(data)
	}
	if result.IsAB() {
		data, err := json.Marshal(result.ABComparison)
		if err != nil {
			return nil, fmt.Errorf("failed to encode a/b comparison: %w", err)
		}
		rec.ResponseData = string(data)
	}
	return rec, nil
}
