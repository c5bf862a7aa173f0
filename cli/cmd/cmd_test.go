package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/unlockbench/cli/config"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/registry"
	"github.com/pithecene-io/unlockbench/types"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

// testApp runs the command tree with captured output and no process exit.
type testApp struct {
	t      *testing.T
	config string
	out    bytes.Buffer
	errOut bytes.Buffer
}

func newTestApp(t *testing.T, yaml string) *testApp {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unlockbench.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return &testApp{t: t, config: path}
}

// persistentConfig uses a sqlite store and fs archive under a temp dir so
// state survives across invocations.
func persistentConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	return fmt.Sprintf(`storage:
  backend: sqlite
  dsn: %s
archive:
  backend: fs
  path: %s
log:
  level: error
%s`, filepath.Join(dir, "results.db"), filepath.Join(dir, "archive"), extra)
}

// run executes args and returns stdout and the exit code.
func (a *testApp) run(args ...string) (string, int) {
	a.t.Helper()
	a.out.Reset()
	app := NewApp("test")
	app.Writer = &a.out
	app.ErrWriter = &a.errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	argv := append([]string{"unlockbench", "--config", a.config, "--env-file", filepath.Join(a.t.TempDir(), "missing.env")}, args...)
	err := app.Run(argv)
	return a.out.String(), exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("invalid json %q: %v", s, err)
	}
	return out
}

func targetServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html>hello %s</html>", r.Header.Get("X-Test"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []types.Field
		wantErr bool
	}{
		{"empty", nil, []types.Field{}, false},
		{"single", []string{"X-Test=1"}, []types.Field{{Name: "X-Test", Value: "1"}}, false},
		{"value with equals", []string{"token=a=b"}, []types.Field{{Name: "token", Value: "a=b"}}, false},
		{"empty value", []string{"flag="}, []types.Field{{Name: "flag", Value: ""}}, false},
		{"missing separator", []string{"novalue"}, nil, true},
		{"missing name", []string{"=x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFields(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("field %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRun_StoresAndArchives(t *testing.T) {
	target := targetServer(t)
	app := newTestApp(t, persistentConfig(t, ""))
	reportPath := filepath.Join(t.TempDir(), "report.json")

	out, code := app.run("run", "--url", target.URL, "--instances", "2",
		"--header", "X-Test=abc", "--report", reportPath, "--format", "json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, app.errOut.String())
	}
	result := decode(t, out)
	if result["successRate"] != "2/2 (100%)" {
		t.Errorf("successRate = %v", result["successRate"])
	}
	runID, _ := result["requestId"].(string)
	if !strings.HasPrefix(runID, "test-") {
		t.Fatalf("requestId = %q", runID)
	}
	insts, _ := result["instanceResults"].([]any)
	if len(insts) != 2 || !strings.Contains(fmt.Sprint(insts[0]), "hello abc") {
		t.Errorf("instanceResults = %v", insts)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	report := decode(t, string(data))
	if report["request_id"] != runID || report["outcome"] != "completed" {
		t.Errorf("report = %v", report)
	}

	out, code = app.run("results", "list", "--format", "json")
	if code != 0 {
		t.Fatalf("results list exit = %d", code)
	}
	var recs []map[string]any
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0]["testGroup"] != runID || recs[0]["successRate"] != "2/2 (100%)" {
		t.Errorf("records = %v", recs)
	}

	out, code = app.run("history", "--kind", "run", "--format", "json", runID)
	if code != 0 {
		t.Fatalf("history exit = %d, stderr:\n%s", code, app.errOut.String())
	}
	if rec := decode(t, out); rec["run_id"] != runID {
		t.Errorf("archived record = %v", rec)
	}

	if _, code := app.run("history", "--format", "json", "test-0-missing"); code != 1 {
		t.Errorf("unknown history exit = %d, want 1", code)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	target := targetServer(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unreachable target", []string{"--url", closedURL}, 1},
		{"invalid rules", []string{"--url", target.URL, "--rules", "{bad"}, 2},
		{"ab without rules b", []string{"--url", target.URL, "--ab"}, 2},
		{"bad header", []string{"--url", target.URL, "--header", "nope"}, 2},
		{"bad credentials", []string{"--url", target.URL, "--credentials", "nocolon"}, 2},
		{"bad format", []string{"--url", target.URL, "--format", "xml"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, "log:\n  level: error\n")
			_, code := app.run(append([]string{"run", "--format", "json"}, tt.args...)...)
			if code != tt.want {
				t.Errorf("exit code = %d, want %d; stderr:\n%s", code, tt.want, app.errOut.String())
			}
		})
	}
}

func TestRun_TableOutput(t *testing.T) {
	target := targetServer(t)
	app := newTestApp(t, "log:\n  level: error\n")
	out, code := app.run("run", "--url", target.URL, "--format", "table")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	for _, w := range []string{"request:", "INSTANCE", "200"} {
		if !strings.Contains(out, w) {
			t.Errorf("table missing %q:\n%s", w, out)
		}
	}
}

func TestConfigError(t *testing.T) {
	app := newTestApp(t, "storage:\n  backend: mongo\n")
	if _, code := app.run("results", "list"); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestCheck(t *testing.T) {
	var authSeen atomic.Bool
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Requests arrive in absolute form because this server is the proxy.
		authSeen.Store(r.Header.Get("Proxy-Authorization") != "")
		if r.URL.Host != "geo.test" {
			http.Error(w, "unexpected host", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "Country: DE\nCity: Berlin\n")
	}))
	t.Cleanup(proxySrv.Close)
	_, port, err := net.SplitHostPort(proxySrv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	prev := geoURL
	geoURL = "http://geo.test/welcome.txt"
	t.Cleanup(func() { geoURL = prev })

	app := newTestApp(t, persistentConfig(t, "proxy:\n  gateways: [\"127.0.0.1\"]\n"))
	out, code := app.run("check", "--credentials", "brd-customer-1:secret", "--port", port, "--country", "de", "--format", "json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, app.errOut.String())
	}
	if !authSeen.Load() {
		t.Error("proxy did not receive credentials")
	}
	res := decode(t, out)
	geo, _ := res["geoData"].(map[string]any)
	if res["success"] != true || geo["country"] != "DE" {
		t.Errorf("check = %v", res)
	}

	out, _ = app.run("results", "list", "--format", "json")
	if !strings.Contains(out, "brd-customer-1-country-de:****") {
		t.Errorf("stored check not masked or missing country:\n%s", out)
	}

	proxySrv.Close()
	if _, code := app.run("check", "--credentials", "u:p", "--port", port, "--format", "json"); code != 1 {
		t.Errorf("failed check exit = %d, want 1", code)
	}
}

func TestResults_ShowAndDelete(t *testing.T) {
	target := targetServer(t)
	app := newTestApp(t, persistentConfig(t, ""))

	if _, code := app.run("run", "--url", target.URL, "--instances", "2", "--format", "json"); code != 0 {
		t.Fatalf("seed run exit = %d", code)
	}

	out, code := app.run("results", "show", "--format", "json", "1")
	if code != 0 {
		t.Fatalf("show exit = %d", code)
	}
	if rec := decode(t, out); rec["instances"] != float64(2) {
		t.Errorf("record = %v", rec)
	}

	out, code = app.run("results", "delete", "--instance", "2", "1")
	if code != 0 || !strings.Contains(out, "deleted instance 2 of result 1") {
		t.Fatalf("delete instance = %q (%d)", out, code)
	}
	out, _ = app.run("results", "show", "--format", "json", "1")
	if rec := decode(t, out); rec["instances"] != float64(1) || rec["successRate"] != "1/1 (100%)" {
		t.Errorf("after instance delete = %v", rec)
	}

	if _, code := app.run("results", "delete", "--instance", "9", "1"); code != 1 {
		t.Errorf("missing instance exit = %d, want 1", code)
	}
	if out, code := app.run("results", "delete", "1"); code != 0 || !strings.Contains(out, "deleted result 1") {
		t.Errorf("delete = %q (%d)", out, code)
	}
	if _, code := app.run("results", "show", "1"); code != 1 {
		t.Errorf("show deleted exit = %d, want 1", code)
	}
	if _, code := app.run("results", "show", "abc"); code != 2 {
		t.Errorf("invalid id exit = %d, want 2", code)
	}
}

func TestResults_DeleteAll(t *testing.T) {
	target := targetServer(t)
	app := newTestApp(t, persistentConfig(t, ""))
	for range 2 {
		if _, code := app.run("run", "--url", target.URL, "--format", "json"); code != 0 {
			t.Fatalf("seed run exit = %d", code)
		}
	}
	if _, code := app.run("results", "delete", "--all", "1"); code != 2 {
		t.Errorf("--all with id exit = %d, want 2", code)
	}
	if out, code := app.run("results", "delete", "--all"); code != 0 || !strings.Contains(out, "deleted all results") {
		t.Fatalf("delete all = %q (%d)", out, code)
	}
	if out, _ := app.run("results", "list", "--format", "json"); strings.TrimSpace(out) != "[]" {
		t.Errorf("list after delete all = %q", out)
	}
}

func TestHistory_RequiresArchive(t *testing.T) {
	app := newTestApp(t, "log:\n  level: error\n")
	if _, code := app.run("history", "test-1-abc"); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if _, code := app.run("history", "--kind", "bogus", "test-1-abc"); code != 2 {
		t.Errorf("bad kind exit = %d, want 2", code)
	}
}

func TestVersion(t *testing.T) {
	app := newTestApp(t, "")
	out, code := app.run("version", "--format", "json")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if v := decode(t, out); v["version"] != types.Version || v["commit"] != "test" {
		t.Errorf("version = %v", v)
	}
	if _, code := app.run("version", "--tui"); code != 1 {
		t.Errorf("--tui exit = %d, want 1", code)
	}
}

func TestNewAdapter(t *testing.T) {
	mr := miniredis.RunT(t)
	retries := 0

	tests := []struct {
		name    string
		cfg     config.AdapterConfig
		wantNil bool
		wantErr bool
	}{
		{"none", config.AdapterConfig{}, true, false},
		{"redis", config.AdapterConfig{Type: "redis", URL: "redis://" + mr.Addr(), Retries: &retries}, false, false},
		{"webhook", config.AdapterConfig{Type: "webhook", URL: "http://127.0.0.1:1/hook"}, false, false},
		{"redis bad url", config.AdapterConfig{Type: "redis", URL: "://"}, false, true},
		{"unknown", config.AdapterConfig{Type: "kafka", URL: "x"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := newAdapter(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (a == nil) != tt.wantNil {
				t.Fatalf("adapter = %v, wantNil %v", a, tt.wantNil)
			}
			if a != nil {
				_ = a.Close()
			}
		})
	}
}

func TestBuildDeps_AdapterReceivesCompletion(t *testing.T) {
	mr := miniredis.RunT(t)
	target := targetServer(t)

	cfg := &config.Config{Adapter: config.AdapterConfig{Type: "redis", URL: "redis://" + mr.Addr(), Channel: "runs"}}
	cfg.ApplyDefaults(nil)

	d, err := buildDeps(t.Context(), cfg, log.Nop())
	if err != nil {
		t.Fatalf("buildDeps: %v", err)
	}

	sub := mr.NewSubscriber()
	sub.Subscribe("runs")
	defer sub.Close()
	received := make(chan miniredis.PubsubMessage, 1)
	go func() { received <- <-sub.Messages() }()

	req, err := types.RunRequest{URL: target.URL, Instances: 2}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if res := d.orch.Run(t.Context(), "test-1-redis", req); !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	// Close waits for the in-flight publish.
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case msg := <-received:
		if !strings.Contains(msg.Message, "test-1-redis") {
			t.Errorf("message = %s", msg.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no run completion published")
	}
}

func TestRunJanitor(t *testing.T) {
	reg := registry.New()
	if err := reg.Create("test-1-a", "https://example.com", 2); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Finish("test-1-a", types.RunCompleted); err != nil {
		t.Fatal(err)
	}
	if err := reg.Create("test-1-b", "https://example.com", 2); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runJanitor(ctx, reg, time.Nanosecond, time.Millisecond, log.Nop())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}
	if _, ok := reg.Get("test-1-b"); !ok {
		t.Error("in-flight run was evicted")
	}
}
