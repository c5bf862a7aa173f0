package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/unlockbench/proxy"
	"github.com/pithecene-io/unlockbench/types"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseFormat("csv"); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should mention valid formats, got: %v", err)
	}
}

func render(t *testing.T, format Format, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewRendererWithWriter(format, false, &buf).Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf.String()
}

func TestRenderer_Generic(t *testing.T) {
	type item struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	tests := []struct {
		name   string
		format Format
		data   any
		want   []string
	}{
		{"json map", FormatJSON, map[string]string{"key": "value"}, []string{`"key"`, `"value"`}},
		{"yaml map", FormatYAML, map[string]string{"key": "value"}, []string{"key:", "value"}},
		{"table struct", FormatTable, item{ID: "1", Name: "test"}, []string{"id:", "name:", "test"}},
		{"table slice", FormatTable, []item{{"1", "first"}, {"2", "second"}}, []string{"id", "name", "first", "second"}},
		{"table empty slice", FormatTable, []string{}, []string{"(no results)"}},
		{"table sorted map", FormatTable, map[string]any{"b": 2, "a": 1}, []string{"a:", "b:"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, tt.format, tt.data)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%s", w, got)
				}
			}
		})
	}

	got := render(t, FormatTable, map[string]any{"b": 2, "a": 1})
	if strings.Index(got, "a:") > strings.Index(got, "b:") {
		t.Errorf("map keys not sorted:\n%s", got)
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	var color, plain bytes.Buffer
	data := map[string]string{"key": "value"}
	if err := NewRendererWithWriter(FormatJSON, false, &color).Render(data); err != nil {
		t.Fatal(err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &plain).Render(data); err != nil {
		t.Fatal(err)
	}
	if color.String() != plain.String() {
		t.Error("--no-color should not affect JSON output")
	}
}

func sampleRun() RunView {
	return RunView{
		RequestID: "test-1-abc",
		Result: &types.RunResult{
			URL:          "https://example.com",
			Success:      true,
			ResponseTime: "1.20",
			Instances:    2,
			SuccessRate:  "1/2 (50%)",
			InstanceResults: []types.InstanceResult{
				{InstanceNum: 1, Success: true, StatusCode: types.IntPtr(200), ResponseTime: "0.50", Content: "hello"},
				{InstanceNum: 2, ResponseTime: "1.20", Error: "Connection refused"},
			},
		},
	}
}

func TestRunView_Table(t *testing.T) {
	got := render(t, FormatTable, sampleRun())
	for _, w := range []string{"request:", "test-1-abc", "success rate:", "1/2 (50%)", "INSTANCE", "200", "Connection refused"} {
		if !strings.Contains(got, w) {
			t.Errorf("table missing %q:\n%s", w, got)
		}
	}
	lines := strings.Split(strings.TrimSpace(got), "\n")
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "2 ") || !strings.Contains(last, " - ") {
		t.Errorf("failed instance row = %q", last)
	}
}

func TestRunView_JSONPayload(t *testing.T) {
	var out map[string]any
	if err := json.Unmarshal([]byte(render(t, FormatJSON, sampleRun())), &out); err != nil {
		t.Fatal(err)
	}
	if out["requestId"] != "test-1-abc" || out["successRate"] != "1/2 (50%)" {
		t.Errorf("payload = %v", out)
	}
	if _, ok := out["instanceResults"].([]any); !ok {
		t.Errorf("instanceResults missing: %v", out)
	}
}

func TestRunView_AB(t *testing.T) {
	v := RunView{RequestID: "r", Result: &types.RunResult{
		URL: "https://example.com",
		ABComparison: &types.ABComparison{
			ABTesting: true,
			ResultA:   types.VariantResult{Success: true, StatusCode: types.IntPtr(200), ResponseTime: "0.4"},
			ResultB:   types.VariantResult{ResponseTime: "0.6", Error: "timeout"},
		},
	}}
	rows := v.Rows()
	if len(rows) != 2 || rows[0][0] != "A" || rows[1][0] != "B" || rows[1][5] != "timeout" {
		t.Errorf("rows = %v", rows)
	}
}

func TestRecordList(t *testing.T) {
	created := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	list := RecordList{
		{ID: 2, TestType: types.TestTypeUnlocker, URL: "https://example.com", SuccessRate: "2/2 (100%)", ResponseTime: "0.80", CreatedAt: created},
		{ID: 1, TestType: types.TestTypeProxy, Credentials: "user:****", Port: "33335", ResponseTime: "1.10", CreatedAt: created},
	}
	rows := list.Rows()
	if rows[0][3] != "https://example.com" || rows[1][3] != "user:**** @33335" || rows[1][5] != "-" {
		t.Errorf("rows = %v", rows)
	}
	if got := render(t, FormatJSON, RecordList(nil)); strings.TrimSpace(got) != "[]" {
		t.Errorf("empty list json = %q", got)
	}
	if got := render(t, FormatTable, RecordList(nil)); !strings.Contains(got, "(no results)") {
		t.Errorf("empty list table = %q", got)
	}
}

func TestCheckView(t *testing.T) {
	v := CheckView{Proxy: "user:****@brd.superproxy.io:33335", Check: proxy.Verification{
		Success: true,
		GeoData: &types.GeoData{Country: "DE", City: "Berlin", Latitude: "52.5", Longitude: "13.4"},
	}}
	got := render(t, FormatTable, v)
	for _, w := range []string{"proxy:", "country", "DE", "location", "52.5,13.4"} {
		if !strings.Contains(got, w) {
			t.Errorf("table missing %q:\n%s", w, got)
		}
	}
	if strings.Contains(got, "timezone") {
		t.Errorf("empty geo fields rendered:\n%s", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a much longer line", 10, "a much..."},
		{"multi\nline\ttext", 20, "multi line text"},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
