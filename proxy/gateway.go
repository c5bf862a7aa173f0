package proxy

import (
	"github.com/pithecene-io/unlockbench/types"
)

// Gateways resolves the proxy endpoint a run dials. A nil *Gateways uses
// DefaultGatewayHost.
type Gateways struct {
	selector *Selector
	pool     string
}

// NewGateways binds a selector to one registered pool.
func NewGateways(selector *Selector, pool string) *Gateways {
	return &Gateways{selector: selector, pool: pool}
}

// Host returns the gateway host for a run, pinning sticky pools to the run.
func (g *Gateways) Host(runID string) (string, error) {
	if g == nil || g.selector == nil {
		return types.DefaultGatewayHost, nil
	}
	return g.selector.Select(SelectRequest{Pool: g.pool, StickyKey: runID, Commit: true})
}

// Release forgets a run's sticky assignment.
func (g *Gateways) Release(runID string) {
	if g == nil || g.selector == nil {
		return
	}
	g.selector.Release(runID)
}

// Endpoint builds the proxy endpoint for a run.
func (g *Gateways) Endpoint(runID string, protocol types.ProxyProtocol, creds types.Credentials, port string) (*types.ProxyEndpoint, error) {
	host, err := g.Host(runID)
	if err != nil {
		return nil, err
	}
	return types.NewProxyEndpoint(protocol, host, port, creds)
}
