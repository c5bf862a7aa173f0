package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"example.com", "https://example.com"},
		{"  example.com/path ", "https://example.com/path"},
		{"http://example.com", "http://example.com"},
		{"https://example.com", "https://example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.input); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRunRequest_Normalize(t *testing.T) {
	headers := []Field{{Name: "X-A", Value: "1"}}
	req := RunRequest{URL: "example.com", Instances: 42, Delay: -3, Headers: headers}

	got, err := req.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got.URL != "https://example.com" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.Instances != MaxInstances {
		t.Errorf("Instances = %d, want %d", got.Instances, MaxInstances)
	}
	if got.Delay != 0 {
		t.Errorf("Delay = %d, want 0", got.Delay)
	}

	headers[0].Value = "mutated"
	if got.Headers[0].Value != "1" {
		t.Error("normalized request aliases caller headers")
	}
}

func TestRunRequest_NormalizeMissingURL(t *testing.T) {
	_, err := RunRequest{URL: "   "}.Normalize()
	if !errors.Is(err, ErrURLRequired) {
		t.Errorf("error = %v, want ErrURLRequired", err)
	}
}

func TestClampInstances(t *testing.T) {
	for in, want := range map[int]int{-1: 1, 0: 1, 1: 1, 5: 5, 10: 10, 11: 10} {
		if got := ClampInstances(in); got != want {
			t.Errorf("ClampInstances(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRunRequest_WantsAB(t *testing.T) {
	if (RunRequest{ABTesting: true}).WantsAB() {
		t.Error("A/B without rules B should not apply")
	}
	if (RunRequest{RulesB: "{}"}).WantsAB() {
		t.Error("rules B without flag should not apply")
	}
	if !(RunRequest{ABTesting: true, RulesB: "{}"}).WantsAB() {
		t.Error("expected A/B to apply")
	}
}

func TestInstanceName(t *testing.T) {
	if got := InstanceName(2, IntPtr(200), true); got != "Request 2 - 200 Success" {
		t.Errorf("got %q", got)
	}
	if got := InstanceName(3, IntPtr(503), false); got != "Request 3 - 503 Error" {
		t.Errorf("got %q", got)
	}
	if got := InstanceName(4, nil, false); got != "Request 4 - Failed" {
		t.Errorf("got %q", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := FormatSeconds(1234 * time.Millisecond); got != "1.23" {
		t.Errorf("FormatSeconds = %q, want 1.23", got)
	}
	if got := FormatSeconds(0); got != "0.00" {
		t.Errorf("FormatSeconds(0) = %q", got)
	}
}

func TestRunAggregate_MarshalOrdered(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewRunAggregate("test-1", "https://example.com", 3, now)
	agg.Instances[3] = InstanceResult{InstanceNum: 3, Status: InstanceCompleted}
	agg.Instances[1] = InstanceResult{InstanceNum: 1, Status: InstanceCompleted}
	agg.Instances[2] = InstanceResult{InstanceNum: 2, Status: InstanceRunning}

	data, err := json.Marshal(agg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded struct {
		RequestID       string           `json:"requestId"`
		Instances       int              `json:"instances"`
		SuccessRate     string           `json:"successRate"`
		InstanceResults []InstanceResult `json:"instanceResults"`
		StartedAt       string           `json:"startedAt"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.RequestID != "test-1" || decoded.Instances != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.SuccessRate != "0/0 (0%)" {
		t.Errorf("SuccessRate = %q", decoded.SuccessRate)
	}
	for i, r := range decoded.InstanceResults {
		if r.InstanceNum != i+1 {
			t.Errorf("instanceResults[%d].instanceNum = %d", i, r.InstanceNum)
		}
	}
	if decoded.StartedAt != "2026-03-01T12:00:00.000Z" {
		t.Errorf("StartedAt = %q", decoded.StartedAt)
	}

	if got := len(agg.TerminalResults()); got != 2 {
		t.Errorf("TerminalResults = %d, want 2", got)
	}
}

func TestRunAggregate_CloneIsDeep(t *testing.T) {
	agg := NewRunAggregate("test-1", "u", 1, time.Now())
	agg.Instances[1] = InstanceResult{InstanceNum: 1, StatusCode: IntPtr(200)}

	c := agg.Clone()
	agg.Instances[2] = InstanceResult{InstanceNum: 2}
	*agg.Instances[1].StatusCode = 500

	if len(c.Instances) != 1 {
		t.Errorf("clone has %d instances, want 1", len(c.Instances))
	}
	if *c.Instances[1].StatusCode != 200 {
		t.Errorf("clone status code = %d, want 200", *c.Instances[1].StatusCode)
	}
}

func TestRunResult_ABInlined(t *testing.T) {
	r := &RunResult{
		Success:  true,
		URL:      "https://example.com",
		TestType: TestTypeUnlocker,
		ABComparison: &ABComparison{
			ABTesting: true,
			ResultA:   VariantResult{Success: true, StatusCode: IntPtr(200), ResponseTime: "0.10"},
			ResultB:   VariantResult{Success: false, StatusCode: IntPtr(403), ResponseTime: "0.20"},
		},
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"abTesting":true`, `"resultA":{`, `"resultB":{`, `"testType":"unlocker"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}

	plain, err := json.Marshal(&RunResult{URL: "u", TestType: TestTypeUnlocker})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(plain), "abTesting") {
		t.Errorf("plain result carries A/B fields: %s", plain)
	}
}

func TestInstanceResult_EmptyContentKept(t *testing.T) {
	data, err := json.Marshal(InstanceResult{InstanceNum: 1, Status: InstanceCompleted, StatusCode: IntPtr(204), ResponseTime: "0.05"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"content":""`) {
		t.Errorf("empty body dropped from %s", data)
	}
}
