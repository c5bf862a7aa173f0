package lode

import (
	"time"

	"github.com/pithecene-io/unlockbench/types"
)

// Record kinds. The kind is also the first Hive partition key.
const (
	RecordKindRun        = "run"
	RecordKindProxyCheck = "proxy_check"
)

// Partition keys, in layout order.
var partitionKeys = []string{"kind", "day", "run_id"}

// DeriveDay computes the partition day from a timestamp (YYYY-MM-DD UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ProxyCheck is the archived outcome of one proxy verification.
type ProxyCheck struct {
	CheckID      string
	Credentials  types.Credentials
	Port         string
	UseTLS       bool
	Success      bool
	ResponseTime string
	Geo          *types.GeoData
	Error        string
}

// toRunRecordMap flattens a finished run into a JSONL record. Instance
// bodies are reduced to their byte length; full bodies go to sidecar files.
func toRunRecordMap(runID string, at time.Time, req types.RunRequest, result *types.RunResult) map[string]any {
	instances := make([]any, 0, len(result.InstanceResults))
	for _, r := range result.InstanceResults {
		inst := map[string]any{
			"instance_num":  r.InstanceNum,
			"success":       r.Success,
			"response_time": r.ResponseTime,
			"content_bytes": len(r.Content),
			"created_at":    r.CreatedAt,
		}
		if r.StatusCode != nil {
			inst["status_code"] = *r.StatusCode
		}
		if r.Error != "" {
			inst["error"] = r.Error
		}
		instances = append(instances, inst)
	}

	record := map[string]any{
		"record_kind":      RecordKindRun,
		"kind":             RecordKindRun,
		"day":              DeriveDay(at),
		"run_id":           runID,
		"ts":               types.Timestamp(at),
		"url":              result.URL,
		"success":          result.Success,
		"instances":        result.Instances,
		"delay":            req.Delay,
		"success_rate":     result.SuccessRate,
		"response_time":    result.ResponseTime,
		"stopped":          result.Stopped,
		"ab_testing":       result.IsAB(),
		"country":          req.Country,
		"has_rules":        req.Rules != "",
		"instance_results": instances,
	}
	if result.StatusCode != nil {
		record["status_code"] = *result.StatusCode
	}
	if result.Error != "" {
		record["error"] = result.Error
	}
	if result.IsAB() {
		record["result_a_success"] = result.ResultA.Success
		record["result_b_success"] = result.ResultB.Success
	}
	return record
}

func toProxyCheckRecordMap(c ProxyCheck, at time.Time) map[string]any {
	record := map[string]any{
		"record_kind":   RecordKindProxyCheck,
		"kind":          RecordKindProxyCheck,
		"day":           DeriveDay(at),
		"run_id":        c.CheckID,
		"ts":            types.Timestamp(at),
		"credentials":   c.Credentials.Masked(),
		"port":          c.Port,
		"use_tls":       c.UseTLS,
		"success":       c.Success,
		"response_time": c.ResponseTime,
	}
	if c.Error != "" {
		record["error"] = c.Error
	}
	if c.Geo != nil {
		record["country"] = c.Geo.Country
		record["city"] = c.Geo.City
		record["asn"] = c.Geo.ASN
	}
	return record
}
