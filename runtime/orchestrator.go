// Package runtime orchestrates multi-instance unlocker runs.
//
// A run fans one logical request out into N fetches. Single-instance runs
// call the fetch executor directly. Larger runs are registered, executed
// in parallel (delay 0) or sequentially (delay > 0) and stream progress
// through a progress.Sink. Run never returns an error: every failure is
// recovered into a result.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pithecene-io/unlockbench/aggregate"
	"github.com/pithecene-io/unlockbench/fetch"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/progress"
	"github.com/pithecene-io/unlockbench/proxy"
	"github.com/pithecene-io/unlockbench/registry"
	"github.com/pithecene-io/unlockbench/rules"
	"github.com/pithecene-io/unlockbench/types"
)

// Config wires an Orchestrator. Only Executor is required.
type Config struct {
	Executor  fetch.Executor
	Registry  *registry.Registry
	Progress  progress.Sink
	Gateways  *proxy.Gateways
	Logger    *log.Logger
	Collector *metrics.Collector
	// FetchTimeout bounds each content fetch (default fetch.DefaultTimeout).
	FetchTimeout time.Duration
	// UserAgent overrides fetch.DefaultUserAgent.
	UserAgent string
}

// Orchestrator executes runs. Safe for concurrent use; each Run is
// independent apart from the shared registry.
type Orchestrator struct {
	executor  fetch.Executor
	registry  *registry.Registry
	progress  progress.Sink
	gateways  *proxy.Gateways
	logger    *log.Logger
	collector *metrics.Collector
	timeout   time.Duration
	userAgent string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type nopSink struct{}

func (nopSink) Publish(string, int, any, bool) {}

// New creates an orchestrator. A nil Registry gets a private one and a
// nil Progress discards events.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		executor:  cfg.Executor,
		registry:  cfg.Registry,
		progress:  cfg.Progress,
		gateways:  cfg.Gateways,
		logger:    cfg.Logger.WithComponent("orchestrator"),
		collector: cfg.Collector,
		timeout:   cfg.FetchTimeout,
		userAgent: cfg.UserAgent,
		now:       time.Now,
		sleep:     sleepContext,
	}
	if o.registry == nil {
		o.registry = registry.New()
	}
	if o.progress == nil {
		o.progress = nopSink{}
	}
	if o.timeout <= 0 {
		o.timeout = fetch.DefaultTimeout
	}
	return o
}

// Registry returns the run registry the orchestrator writes to.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes req under runID and returns its result.
func (o *Orchestrator) Run(ctx context.Context, runID string, req types.RunRequest) (result *types.RunResult) {
	logger := o.logger.WithRun(runID)
	o.collector.IncRunStarted()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", map[string]any{"panic": fmt.Sprint(r)})
			o.abandon(runID)
			result = o.failedRun(req.URL, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()

	norm, err := req.Normalize()
	if err != nil {
		return o.failedRun(req.URL, err.Error())
	}

	proxyURL, err := o.proxyURL(runID, norm)
	if err != nil {
		logger.Warn("proxy setup failed", map[string]any{"error": err.Error()})
		return o.failedRun(norm.URL, err.Error())
	}
	defer o.gateways.Release(runID)

	base := fetch.Request{
		URL:          norm.URL,
		Headers:      norm.Headers,
		Cookies:      norm.Cookies,
		Proxy:        proxyURL,
		Rules:        norm.Rules,
		ContentRules: norm.ContentRules,
		UserAgent:    o.userAgent,
		Timeout:      o.timeout,
	}

	logger.Info("run starting", map[string]any{
		"url":       norm.URL,
		"instances": norm.Instances,
		"delay":     norm.Delay,
		"proxy":     proxyURL != nil,
	})

	if norm.Instances == 1 {
		if norm.WantsAB() {
			return o.runAB(ctx, logger, base, norm)
		}
		return o.runSingle(ctx, base, norm)
	}
	return o.runMulti(ctx, logger, runID, base, norm)
}

func (o *Orchestrator) proxyURL(runID string, req types.RunRequest) (*url.URL, error) {
	if !req.UsesProxy() {
		return nil, nil
	}
	creds, err := types.ParseCredentials(req.Credentials)
	if err != nil {
		return nil, err
	}
	creds = types.SpliceCountry(creds, req.Country)

	ep, err := o.gateways.Endpoint(runID, types.ProxyProtocolHTTP, creds, req.Port)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	return ep.URL(), nil
}

// failedRun is the one-instance result for a run that could not execute.
func (o *Orchestrator) failedRun(rawURL, msg string) *types.RunResult {
	o.collector.IncRunFailed()
	inst := types.FailedInstance(1, o.now(), 0, msg)
	return &types.RunResult{
		Success:         false,
		URL:             rawURL,
		TestType:        types.TestTypeUnlocker,
		ResponseTime:    inst.ResponseTime,
		Instances:       1,
		InstanceResults: []types.InstanceResult{inst},
		Error:           msg,
	}
}

// abandon finishes a registered run left behind by a panic so pollers
// never see it running forever.
func (o *Orchestrator) abandon(runID string) {
	snap, ok := o.registry.Get(runID)
	if !ok || snap.Complete {
		return
	}
	_, _ = o.registry.Finish(runID, types.RunCompleted)
}

// fetchInstance performs one fetch and converts it to a terminal instance.
func (o *Orchestrator) fetchInstance(ctx context.Context, req fetch.Request, n int) types.InstanceResult {
	started := o.now()
	res := o.executor.Fetch(ctx, req)
	o.collector.RecordInstance(res.Success, string(res.Class))
	return instanceFromResult(n, started, res)
}

func instanceFromResult(n int, started time.Time, res fetch.Result) types.InstanceResult {
	if res.StatusCode == nil {
		return types.FailedInstance(n, started, res.Elapsed, res.Error)
	}
	return types.InstanceResult{
		InstanceNum:  n,
		Name:         types.InstanceName(n, res.StatusCode, res.Success),
		Status:       types.InstanceCompleted,
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		ResponseTime: types.FormatSeconds(res.Elapsed),
		ContentType:  res.ContentType,
		Content:      res.Content,
		CreatedAt:    types.Timestamp(started),
	}
}

func (o *Orchestrator) runSingle(ctx context.Context, base fetch.Request, req types.RunRequest) *types.RunResult {
	start := o.now()
	res := o.executor.Fetch(ctx, base)
	o.collector.RecordInstance(res.Success, string(res.Class))
	o.collector.IncRunCompleted()

	inst := instanceFromResult(1, start, res)
	results := []types.InstanceResult{inst}
	return &types.RunResult{
		Success:         res.Success,
		URL:             req.URL,
		TestType:        types.TestTypeUnlocker,
		ResponseTime:    types.FormatSeconds(o.now().Sub(start)),
		Instances:       1,
		InstanceResults: results,
		SuccessRate:     aggregate.RateOf(results),
		StatusCode:      res.StatusCode,
		ContentType:     res.ContentType,
		Content:         res.Content,
		Error:           res.Error,
	}
}

// runAB fetches with rules A then rules B. Invalid rules B degrade to a
// plain single fetch with rules A.
func (o *Orchestrator) runAB(ctx context.Context, logger *log.Logger, base fetch.Request, req types.RunRequest) *types.RunResult {
	if err := rules.ValidateJSON(req.RulesB); err != nil {
		logger.Warn("invalid rules B, running single fetch", map[string]any{"error": err.Error()})
		return o.runSingle(ctx, base, req)
	}

	start := o.now()
	reqA := base
	reqA.Rules = req.Rules
	resA := o.executor.Fetch(ctx, reqA)
	elapsedA := o.now().Sub(start)

	reqB := base
	reqB.Rules = req.RulesB
	startB := o.now()
	resB := o.executor.Fetch(ctx, reqB)
	elapsedB := o.now().Sub(startB)

	o.collector.RecordInstance(resA.Success, string(resA.Class))
	o.collector.RecordInstance(resB.Success, string(resB.Class))
	o.collector.IncRunCompleted()

	return &types.RunResult{
		Success:      resA.Success || resB.Success,
		URL:          req.URL,
		TestType:     types.TestTypeUnlocker,
		ResponseTime: types.FormatSeconds(o.now().Sub(start)),
		Instances:    1,
		ABComparison: &types.ABComparison{
			ABTesting: true,
			ResultA:   variant(resA, elapsedA),
			ResultB:   variant(resB, elapsedB),
		},
	}
}

func variant(res fetch.Result, elapsed time.Duration) types.VariantResult {
	return types.VariantResult{
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		ResponseTime: types.FormatSeconds(elapsed),
		ContentType:  res.ContentType,
		Content:      res.Content,
		Error:        res.Error,
	}
}

func (o *Orchestrator) runMulti(ctx context.Context, logger *log.Logger, runID string, base fetch.Request, req types.RunRequest) *types.RunResult {
	if err := o.registry.Create(runID, req.URL, req.Instances); err != nil {
		if errors.Is(err, registry.ErrExists) {
			return o.failedRun(req.URL, fmt.Sprintf("run %s already exists", runID))
		}
		return o.failedRun(req.URL, err.Error())
	}

	o.progress.Publish(runID, progress.RunLevel, types.RunStatus{
		Status:    types.PhaseStarting,
		RequestID: runID,
		URL:       req.URL,
		Instances: req.Instances,
		Delay:     req.Delay,
		Timestamp: types.Timestamp(o.now()),
	}, false)

	var stopped bool
	if req.Delay > 0 {
		o.setState(logger, runID, types.RunRunningSequential)
		stopped = o.runSequential(ctx, logger, runID, base, req)
	} else {
		o.setState(logger, runID, types.RunRunningParallel)
		o.runParallel(ctx, logger, runID, base, req)
	}

	state := types.RunCompleted
	phase := types.PhaseCompleted
	msg := ""
	if stopped {
		state, phase, msg = types.RunStopped, types.PhaseStopped, "Test stopped by user"
	}

	final, err := o.registry.Finish(runID, state)
	if err != nil {
		// Evicted mid-run; nothing left to report from.
		logger.Error("run vanished from registry", map[string]any{"error": err.Error()})
		return o.failedRun(req.URL, err.Error())
	}

	terminal := final.TerminalResults()
	o.progress.Publish(runID, progress.RunLevel, types.RunStatus{
		Status:             phase,
		RequestID:          runID,
		URL:                req.URL,
		Instances:          req.Instances,
		Delay:              req.Delay,
		CompletedInstances: types.IntPtr(len(terminal)),
		SuccessRate:        final.SuccessRate,
		ResponseTime:       final.ResponseTime,
		Message:            msg,
		Timestamp:          types.Timestamp(o.now()),
	}, true)

	if stopped {
		o.collector.IncRunStopped()
	} else {
		o.collector.IncRunCompleted()
	}
	logger.Info("run finished", map[string]any{
		"state":        string(state),
		"success_rate": final.SuccessRate,
		"elapsed":      final.ResponseTime,
	})

	return &types.RunResult{
		Success:         final.Success,
		URL:             req.URL,
		TestType:        types.TestTypeUnlocker,
		ResponseTime:    final.ResponseTime,
		Instances:       req.Instances,
		InstanceResults: terminal,
		SuccessRate:     final.SuccessRate,
		Stopped:         stopped,
	}
}

func (o *Orchestrator) setState(logger *log.Logger, runID string, state types.RunState) {
	if err := o.registry.SetState(runID, state); err != nil {
		logger.Warn("registry state update failed", map[string]any{"error": err.Error()})
	}
}

// record stores an instance result and publishes it.
func (o *Orchestrator) record(logger *log.Logger, runID string, inst types.InstanceResult) {
	if err := o.registry.Record(runID, inst); err != nil {
		logger.Warn("registry record failed", map[string]any{
			"instance_num": inst.InstanceNum,
			"error":        err.Error(),
		})
	}
	o.progress.Publish(runID, inst.InstanceNum, inst, false)
}
