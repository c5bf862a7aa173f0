package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/unlockbench/lode"
	"github.com/pithecene-io/unlockbench/proxy"
	"github.com/pithecene-io/unlockbench/runtime"
	"github.com/pithecene-io/unlockbench/store"
	"github.com/pithecene-io/unlockbench/types"
)

type proxyTestBody struct {
	Credentials string `json:"credentials"`
	Port        string `json:"port"`
	Country     string `json:"country"`
}

func (b proxyTestBody) validate() string {
	var msgs []string
	if b.Credentials == "" {
		msgs = append(msgs, "Proxy credentials are required")
	}
	if b.Port == "" {
		msgs = append(msgs, "Port is required")
	}
	return strings.Join(msgs, ", ")
}

// handleProxyTest verifies proxy credentials against the geo endpoint and
// records the outcome.
func (s *Server) handleProxyTest(c *gin.Context) {
	var body proxyTestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := body.validate(); msg != "" {
		fail(c, http.StatusBadRequest, msg)
		return
	}
	creds, err := types.ParseCredentials(body.Credentials)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	useTLS := s.cfg.UseTLS
	if settings, err := s.store.GetSettings(ctx); err == nil && settings.UseTLS {
		useTLS = true
	}

	start := s.now()
	check := s.verifier.Verify(ctx, proxy.VerifyRequest{
		Credentials: creds,
		Port:        body.Port,
		UseTLS:      useTLS,
		Country:     body.Country,
	})
	elapsed := s.now().Sub(start)
	s.collector.IncProxyCheck(check.Success)

	spliced := types.SpliceCountry(creds, body.Country)
	errMsg := ""
	if !check.Success {
		errMsg = check.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
	}

	rec, err := store.NewProxyRecord(spliced, body.Port, check.Success, elapsed, check.GeoData, errMsg, s.now())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.store.CreateTest(ctx, rec); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.archive.WriteProxyCheck(ctx, lode.ProxyCheck{
		CheckID:      runtime.NewRunID(start),
		Credentials:  spliced,
		Port:         body.Port,
		UseTLS:       useTLS,
		Success:      check.Success,
		ResponseTime: rec.ResponseTime,
		Geo:          check.GeoData,
		Error:        errMsg,
	}); err != nil {
		s.logger.Warn("archive proxy check failed", map[string]any{"error": err.Error()})
	}

	c.JSON(http.StatusOK, check)
}
