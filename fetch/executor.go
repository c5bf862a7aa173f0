// Package fetch performs single HTTP(S) fetches through an optional
// forward proxy and normalizes the outcome.
package fetch

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/unlockbench/iox"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/rules"
	"github.com/pithecene-io/unlockbench/types"
)

const (
	// DefaultUserAgent is sent on content fetches unless a header overrides it.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// DefaultTimeout bounds a content fetch.
	DefaultTimeout = 60 * time.Second

	// RulesHeader carries the JSON rules payload to the unlocker.
	RulesHeader = "x-unblock-rules"
)

// Request is a fully prepared fetch descriptor.
type Request struct {
	URL          string
	Headers      []types.Field
	Cookies      []types.Field
	Proxy        *url.URL
	Rules        string
	ContentRules []types.ContentRule
	UserAgent    string
	Timeout      time.Duration
}

// Result is the normalized outcome of one fetch.
type Result struct {
	// Success is true only for status 200.
	Success bool
	// StatusCode is nil on transport failure.
	StatusCode  *int
	Elapsed     time.Duration
	ContentType string
	Content     string
	// Error is set only on transport failure.
	Error string
	Class ErrorClass
}

// Executor performs exactly one fetch per call. Implementations never
// retry and never return transport failures as Go errors.
type Executor interface {
	Fetch(ctx context.Context, req Request) Result
}

// HTTPExecutor is the net/http Executor.
type HTTPExecutor struct {
	logger *log.Logger
	now    func() time.Time
}

// NewHTTPExecutor creates a fetch executor.
func NewHTTPExecutor(logger *log.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		logger: logger.WithComponent("fetch"),
		now:    time.Now,
	}
}

// newClient builds a client per fetch so each request uses its own proxy.
// Certificate verification is off: unlocker gateways re-sign TLS.
func newClient(proxy *url.URL, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:             http.ProxyURL(proxy),
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // gateway certificates are not in the trust store
		DisableKeepAlives: true,
		ForceAttemptHTTP2: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Fetch implements Executor.
func (e *HTTPExecutor) Fetch(ctx context.Context, req Request) Result {
	start := e.now()

	httpReq, err := e.build(ctx, req)
	if err != nil {
		return e.failure(start, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := newClient(req.Proxy, timeout)
	defer client.CloseIdleConnections()

	resp, err := client.Do(httpReq)
	if err != nil {
		return e.failure(start, err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return e.failure(start, err)
	}

	content := string(body)
	if len(req.ContentRules) > 0 {
		content = rules.Apply(content, req.ContentRules, e.logger)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = types.DefaultContentType
	}

	return Result{
		Success:     resp.StatusCode == http.StatusOK,
		StatusCode:  types.IntPtr(resp.StatusCode),
		Elapsed:     e.now().Sub(start),
		ContentType: contentType,
		Content:     content,
	}
}

func (e *HTTPExecutor) build(ctx context.Context, req Request) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, err
	}

	ua := req.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	httpReq.Header.Set("User-Agent", ua)

	for _, h := range req.Headers {
		if h.Name == "" {
			continue
		}
		httpReq.Header.Set(h.Name, h.Value)
	}

	if len(req.Cookies) > 0 {
		httpReq.Header.Set("Cookie", CookieHeader(req.Cookies))
	}

	if strings.TrimSpace(req.Rules) != "" {
		if err := rules.ValidateJSON(req.Rules); err != nil {
			e.logger.Warn("invalid JSON for rules, header not sent", map[string]any{"url": req.URL})
		} else {
			httpReq.Header.Set(RulesHeader, req.Rules)
		}
	}

	return httpReq, nil
}

func (e *HTTPExecutor) failure(start time.Time, err error) Result {
	class, msg := Describe(err)
	e.logger.Debug("fetch failed", map[string]any{
		"class": string(class),
		"error": err.Error(),
	})
	return Result{
		Elapsed: e.now().Sub(start),
		Error:   msg,
		Class:   class,
	}
}

// CookieHeader joins cookies as name=value pairs separated by "; ".
func CookieHeader(cookies []types.Field) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

var _ Executor = (*HTTPExecutor)(nil)
