package types

import (
	"errors"
	"strings"
)

// MaxInstances is the hard cap on instances per run.
const MaxInstances = 10

// ErrURLRequired is returned when a run request has no target URL.
var ErrURLRequired = errors.New("URL is required")

// Field is an ordered name/value pair used for headers and cookies.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// RuleKind is the closed set of legacy content rewrite operations.
type RuleKind string

const (
	RuleReplace RuleKind = "replace"
	RuleRegex   RuleKind = "regex"
	RuleAppend  RuleKind = "append"
	RulePrepend RuleKind = "prepend"
)

// Valid reports whether k is a known rule kind.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleReplace, RuleRegex, RuleAppend, RulePrepend:
		return true
	}
	return false
}

// ContentRule is a legacy rewrite directive applied to fetched content.
type ContentRule struct {
	Type    RuleKind `json:"type" yaml:"type"`
	Pattern string   `json:"pattern" yaml:"pattern"`
	Action  string   `json:"action" yaml:"action"`
}

// RunRequest is the input to one unlocker run.
type RunRequest struct {
	// URL is the target URL. A missing scheme is normalized to https.
	URL string `json:"url"`
	// Instances is the instance count, clamped to [1, MaxInstances].
	Instances int `json:"instances"`
	// Delay is the pause in seconds between sequential instances.
	// Zero selects the parallel strategy.
	Delay int `json:"delay"`
	// Headers are sent in order; later names override earlier ones.
	Headers []Field `json:"headers,omitempty"`
	// Cookies are joined into a single Cookie header.
	Cookies []Field `json:"cookies,omitempty"`
	// Rules is the primary JSON rules payload sent as x-unblock-rules.
	Rules string `json:"rules,omitempty"`
	// RulesB is the secondary rules payload for A/B comparison.
	RulesB string `json:"rulesB,omitempty"`
	// ABTesting enables the A/B variant on single-instance runs.
	ABTesting bool `json:"abTesting,omitempty"`
	// ContentRules are legacy rewrite directives applied to bodies.
	ContentRules []ContentRule `json:"contentRules,omitempty"`
	// Credentials is the optional proxy USER:PASS string.
	Credentials string `json:"proxyCredentials,omitempty"`
	// Port is the optional proxy port.
	Port string `json:"proxyPort,omitempty"`
	// Country optionally targets the proxy egress.
	Country string `json:"country,omitempty"`
}

// NormalizeURL trims the URL and prefixes https:// when neither
// http:// nor https:// is present.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}

// ClampInstances bounds n to [1, MaxInstances].
func ClampInstances(n int) int {
	return max(1, min(n, MaxInstances))
}

// Normalize returns a validated copy of the request with a normalized
// URL, clamped instance count and non-negative delay. Slices are copied
// so the returned request does not alias the caller's.
func (r RunRequest) Normalize() (RunRequest, error) {
	out := r
	out.URL = NormalizeURL(r.URL)
	if out.URL == "" {
		return RunRequest{}, ErrURLRequired
	}
	out.Instances = ClampInstances(r.Instances)
	out.Delay = max(r.Delay, 0)
	out.Headers = append([]Field(nil), r.Headers...)
	out.Cookies = append([]Field(nil), r.Cookies...)
	out.ContentRules = append([]ContentRule(nil), r.ContentRules...)
	return out, nil
}

// UsesProxy reports whether proxy credentials and port are both set.
func (r RunRequest) UsesProxy() bool {
	return r.Credentials != "" && r.Port != ""
}

// WantsAB reports whether the A/B variant applies.
func (r RunRequest) WantsAB() bool {
	return r.ABTesting && strings.TrimSpace(r.RulesB) != ""
}
