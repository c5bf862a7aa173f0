package proxy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/unlockbench/fetch"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/types"
)

const (
	// GeoURL reports the egress location of the connection as Key: value text.
	GeoURL = "https://geo.brdtest.com/welcome.txt"

	// VerifyTimeout bounds one verification fetch.
	VerifyTimeout = 30 * time.Second

	verifyStickyKey = "proxy-check"
	errorPrefix     = "Proxy error: "
)

// VerifyRequest describes a proxy connectivity check.
type VerifyRequest struct {
	Credentials types.Credentials
	Port        string
	UseTLS      bool
	Country     string
}

// Verification is the outcome of a proxy check.
type Verification struct {
	Success bool           `json:"success"`
	GeoData *types.GeoData `json:"geoData,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Verifier checks proxy credentials by fetching the geo URL through them.
type Verifier struct {
	executor fetch.Executor
	gateways *Gateways
	logger   *log.Logger
	geoURL   string
	timeout  time.Duration
}

// NewVerifier creates a verifier. gateways may be nil.
func NewVerifier(executor fetch.Executor, gateways *Gateways, logger *log.Logger) *Verifier {
	return &Verifier{
		executor: executor,
		gateways: gateways,
		logger:   logger.WithComponent("proxy"),
		geoURL:   GeoURL,
		timeout:  VerifyTimeout,
	}
}

// WithGeoURL overrides the verification URL.
func (v *Verifier) WithGeoURL(u string) *Verifier {
	v.geoURL = u
	return v
}

// WithTimeout overrides the verification timeout.
func (v *Verifier) WithTimeout(d time.Duration) *Verifier {
	if d > 0 {
		v.timeout = d
	}
	return v
}

// Verify fetches the geo URL through the proxy. Failures are reported in
// the Verification, never as a Go error.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) Verification {
	protocol := types.ProxyProtocolHTTP
	if req.UseTLS {
		protocol = types.ProxyProtocolHTTPS
	}
	creds := types.SpliceCountry(req.Credentials, req.Country)

	ep, err := v.gateways.Endpoint(verifyStickyKey, protocol, creds, req.Port)
	if err != nil {
		return Verification{Error: errorPrefix + err.Error()}
	}
	defer v.gateways.Release(verifyStickyKey)

	res := v.executor.Fetch(ctx, fetch.Request{
		URL:       v.geoURL,
		Proxy:     ep.URL(),
		UserAgent: types.ToolUserAgent,
		Timeout:   v.timeout,
	})

	if res.Success {
		geo := ParseGeo(res.Content)
		v.logger.Info("proxy verified", map[string]any{
			"proxy":   ep.Redact(),
			"country": geo.Country,
		})
		return Verification{Success: true, GeoData: &geo}
	}

	msg := failureMessage(res)
	v.logger.Warn("proxy verification failed", map[string]any{
		"proxy": ep.Redact(),
		"error": msg,
	})
	return Verification{Error: msg}
}

func failureMessage(res fetch.Result) string {
	if res.StatusCode != nil {
		class := fetch.ClassifyStatus(*res.StatusCode)
		return class.Message(fmt.Errorf("unexpected status %d", *res.StatusCode), errorPrefix)
	}
	if res.Class == fetch.ClassOther {
		return errorPrefix + strings.TrimPrefix(res.Error, "Request failed: ")
	}
	return res.Error
}

// geoKeys maps geo text keys to GeoData fields.
var geoKeys = map[string]func(g *types.GeoData, v string){
	"Country":               func(g *types.GeoData, v string) { g.Country = v },
	"City":                  func(g *types.GeoData, v string) { g.City = v },
	"Region":                func(g *types.GeoData, v string) { g.Region = v },
	"Postal Code":           func(g *types.GeoData, v string) { g.PostalCode = v },
	"Latitude":              func(g *types.GeoData, v string) { g.Latitude = v },
	"Longitude":             func(g *types.GeoData, v string) { g.Longitude = v },
	"Timezone":              func(g *types.GeoData, v string) { g.Timezone = v },
	"ASN number":            func(g *types.GeoData, v string) { g.ASN = v },
	"ASN Organization name": func(g *types.GeoData, v string) { g.Organization = v },
}

// ParseGeo parses "Key: value" lines. Unknown keys and lines without a
// separator are ignored; values keep any further ": ".
func ParseGeo(text string) types.GeoData {
	var geo types.GeoData
	for line := range strings.Lines(text) {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		if set, known := geoKeys[strings.TrimSpace(key)]; known {
			set(&geo, strings.TrimSpace(value))
		}
	}
	return geo
}
