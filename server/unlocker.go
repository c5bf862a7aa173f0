package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/unlockbench/registry"
	"github.com/pithecene-io/unlockbench/rules"
	"github.com/pithecene-io/unlockbench/runtime"
	"github.com/pithecene-io/unlockbench/store"
	"github.com/pithecene-io/unlockbench/types"
)

type unlockerTestBody struct {
	URL          string              `json:"url"`
	Instances    *int                `json:"instances"`
	Delay        int                 `json:"delay"`
	Headers      []types.Field       `json:"headers"`
	Cookies      []types.Field       `json:"cookies"`
	Country      string              `json:"country"`
	Rules        string              `json:"rules"`
	RulesB       string              `json:"rulesB"`
	ABTesting    bool                `json:"abTesting"`
	ContentRules []types.ContentRule `json:"contentRules"`
}

func (b unlockerTestBody) request() types.RunRequest {
	n := 1
	if b.Instances != nil {
		n = *b.Instances
	}
	return types.RunRequest{
		URL:          b.URL,
		Instances:    n,
		Delay:        b.Delay,
		Headers:      b.Headers,
		Cookies:      b.Cookies,
		Rules:        b.Rules,
		RulesB:       b.RulesB,
		ABTesting:    b.ABTesting,
		ContentRules: b.ContentRules,
		Country:      b.Country,
	}
}

// validateRules rejects rule payloads before a run id is minted. Rules B
// is left to the orchestrator, which falls back to a plain fetch when it
// does not parse.
func validateRules(req types.RunRequest) error {
	if err := rules.ValidateJSON(req.Rules); err != nil {
		return err
	}
	return rules.Validate(req.ContentRules)
}

// handleUnlockerTest starts a run. Single-instance runs complete within
// the request; larger runs return their request id immediately and report
// progress over the event stream.
func (s *Server) handleUnlockerTest(c *gin.Context) {
	var body unlockerTestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req, err := body.request().Normalize()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateRules(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.logger.Error("load settings failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if settings.ProxyCredentials != nil && *settings.ProxyCredentials != "" && settings.Port() != "" {
		req.Credentials = *settings.ProxyCredentials
		req.Port = settings.Port()
	}

	runID := runtime.NewRunID(s.now())

	if req.Instances == 1 {
		result := s.orch.Run(ctx, runID, req)
		s.persist(ctx, runID, req, result)
		c.JSON(http.StatusOK, gin.H{
			"requestId":   runID,
			"message":     "Test completed successfully",
			"instances":   req.Instances,
			"result":      result,
			"successRate": result.SuccessRate,
		})
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		result := s.orch.Run(s.runCtx, runID, req)
		s.persist(context.WithoutCancel(s.runCtx), runID, req, result)
	}()

	c.JSON(http.StatusOK, gin.H{
		"requestId": runID,
		"message":   "Test started successfully",
		"instances": req.Instances,
	})
}

// persist stores and archives a finished run. Failures are logged only.
func (s *Server) persist(ctx context.Context, runID string, req types.RunRequest, result *types.RunResult) {
	logger := s.logger.WithRun(runID)
	rec, err := store.NewRunRecord(runID, req, result, s.now())
	if err != nil {
		logger.Error("encode run record failed", map[string]any{"error": err.Error()})
		return
	}
	if _, err := s.store.CreateTest(ctx, rec); err != nil {
		logger.Error("store run record failed", map[string]any{"error": err.Error()})
	}
	if err := s.archive.WriteRun(ctx, runID, req, result); err != nil {
		logger.Warn("archive run failed", map[string]any{"error": err.Error()})
	}
}

func (s *Server) handleStop(c *gin.Context) {
	runID := c.Param("requestId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request ID is required"})
		return
	}
	if err := s.orch.Registry().MarkStopped(runID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Test not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	s.pub.Stopped(runID)
	s.logger.Info("run stop requested", map[string]any{"run_id": runID})
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test stopped successfully"})
}

func (s *Server) handleTestResults(c *gin.Context) {
	snap, ok := s.orch.Registry().Get(c.Param("requestId"))
	if !ok {
		fail(c, http.StatusNotFound, "Test result not found")
		return
	}
	c.JSON(http.StatusOK, snap)
}
