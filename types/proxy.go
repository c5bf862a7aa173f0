// Package types defines the core domain types for unlockbench.
package types

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultGatewayHost is the unlocker superproxy gateway.
const DefaultGatewayHost = "brd.superproxy.io"

// ErrInvalidCredentials is returned when a credential string is not
// in USER:PASS form.
var ErrInvalidCredentials = errors.New("Invalid credentials format. Use USER:PASS format.")

// ProxyProtocol is the scheme used to reach the proxy gateway.
type ProxyProtocol string

const (
	ProxyProtocolHTTP  ProxyProtocol = "http"
	ProxyProtocolHTTPS ProxyProtocol = "https"
)

// ProxyStrategy is the gateway selection strategy for pools.
type ProxyStrategy string

const (
	ProxyStrategyRoundRobin ProxyStrategy = "round_robin"
	ProxyStrategyRandom     ProxyStrategy = "random"
	ProxyStrategySticky     ProxyStrategy = "sticky"
)

// Credentials is a parsed proxy USER:PASS pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ParseCredentials parses a USER:PASS string. The password keeps any
// further colons.
func ParseCredentials(s string) (Credentials, error) {
	user, pass, ok := strings.Cut(s, ":")
	if !ok || user == "" {
		return Credentials{}, ErrInvalidCredentials
	}
	return Credentials{Username: user, Password: pass}, nil
}

// String returns the USER:PASS form.
func (c Credentials) String() string {
	return c.Username + ":" + c.Password
}

// Masked returns the credentials with the password hidden.
func (c Credentials) Masked() string {
	return c.Username + ":****"
}

// IsZero reports whether no credentials are set.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// countrySegment is the username token that precedes a country code.
const countrySegment = "country"

// SpliceCountry targets the credentials at a country. An existing
// -country-<code> segment in the username is replaced, otherwise one is
// appended. An empty code returns the credentials unchanged.
func SpliceCountry(c Credentials, country string) Credentials {
	country = strings.ToLower(strings.TrimSpace(country))
	if country == "" {
		return c
	}

	parts := strings.Split(c.Username, "-")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == countrySegment {
			parts[i+1] = country
			return Credentials{Username: strings.Join(parts, "-"), Password: c.Password}
		}
	}

	return Credentials{
		Username: c.Username + "-" + countrySegment + "-" + country,
		Password: c.Password,
	}
}

// ProxyEndpoint is a resolved proxy gateway the fetch executor can dial.
type ProxyEndpoint struct {
	// Protocol is the proxy scheme.
	Protocol ProxyProtocol `json:"protocol"`
	// Host is the gateway host.
	Host string `json:"host"`
	// Port is the gateway port (1-65535).
	Port int `json:"port"`
	// Username is the optional username for authentication.
	Username *string `json:"username,omitempty"`
	// Password is the optional password for authentication.
	Password *string `json:"password,omitempty"`
}

// NewProxyEndpoint builds an endpoint from gateway host, port string and
// credentials.
func NewProxyEndpoint(protocol ProxyProtocol, host, port string, creds Credentials) (*ProxyEndpoint, error) {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", port, err)
	}
	ep := &ProxyEndpoint{Protocol: protocol, Host: host, Port: p}
	if !creds.IsZero() {
		user, pass := creds.Username, creds.Password
		ep.Username = &user
		ep.Password = &pass
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	return ep, nil
}

// Validate validates a proxy endpoint.
func (p *ProxyEndpoint) Validate() error {
	switch p.Protocol {
	case ProxyProtocolHTTP, ProxyProtocolHTTPS:
	default:
		return fmt.Errorf("invalid protocol %q: must be http or https", p.Protocol)
	}

	if p.Host == "" {
		return errors.New("proxy host is required")
	}

	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", p.Port)
	}

	hasUsername := p.Username != nil && *p.Username != ""
	hasPassword := p.Password != nil && *p.Password != ""
	if hasUsername != hasPassword {
		return errors.New("username and password must be provided together")
	}

	return nil
}

// URL returns the proxy URL with embedded credentials.
func (p *ProxyEndpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.Protocol),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
	}
	if p.Username != nil && *p.Username != "" {
		pass := ""
		if p.Password != nil {
			pass = *p.Password
		}
		u.User = url.UserPassword(*p.Username, pass)
	}
	return u
}

// Redact returns a copy of the endpoint without the password.
func (p *ProxyEndpoint) Redact() ProxyEndpointRedacted {
	return ProxyEndpointRedacted{
		Protocol: p.Protocol,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
	}
}

// ProxyEndpointRedacted is a proxy endpoint without password.
// Used in run reports and logs.
type ProxyEndpointRedacted struct {
	Protocol ProxyProtocol `json:"protocol"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username *string       `json:"username,omitempty"`
}

// GatewayPool is a named set of gateway hosts and a rotation policy.
type GatewayPool struct {
	// Name is the pool name.
	Name string `json:"name" yaml:"name"`
	// Strategy is the selection strategy.
	Strategy ProxyStrategy `json:"strategy" yaml:"strategy"`
	// Hosts are the gateway hosts (must have at least one).
	Hosts []string `json:"hosts" yaml:"hosts"`
}

// Validate validates a gateway pool.
func (p *GatewayPool) Validate() error {
	if p.Name == "" {
		return errors.New("pool name is required")
	}

	switch p.Strategy {
	case ProxyStrategyRoundRobin, ProxyStrategyRandom, ProxyStrategySticky:
	default:
		return fmt.Errorf("invalid strategy %q: must be round_robin, random, or sticky", p.Strategy)
	}

	if len(p.Hosts) == 0 {
		return errors.New("pool must have at least one host")
	}
	for i, h := range p.Hosts {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("hosts[%d]: empty host", i)
		}
	}

	return nil
}
