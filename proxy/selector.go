// Package proxy selects unlocker gateway hosts and verifies proxy egress.
package proxy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/pithecene-io/unlockbench/types"
)

// Selector manages gateway selection from named pools.
// Thread-safe for concurrent access.
type Selector struct {
	mu    sync.Mutex
	pools map[string]*poolState
}

type poolState struct {
	pool    *types.GatewayPool
	rrIndex int64          // round-robin counter
	sticky  map[string]int // sticky key -> host index
}

// NewSelector creates an empty selector.
func NewSelector() *Selector {
	return &Selector{pools: make(map[string]*poolState)}
}

// RegisterPool registers or replaces a gateway pool.
func (s *Selector) RegisterPool(pool *types.GatewayPool) error {
	if err := pool.Validate(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.Name] = &poolState{pool: pool, sticky: make(map[string]int)}
	return nil
}

// SelectRequest contains parameters for host selection.
type SelectRequest struct {
	// Pool is the pool name to select from.
	Pool string
	// StickyKey pins sticky selection, normally the run identity.
	StickyKey string
	// Commit determines whether to advance rotation state.
	// When false, returns what would be selected without mutating state.
	Commit bool
}

// Select returns a gateway host from the named pool.
func (s *Selector) Select(req SelectRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[req.Pool]
	if !ok {
		return "", fmt.Errorf("pool %q not found", req.Pool)
	}

	var idx int
	var err error

	switch state.pool.Strategy {
	case types.ProxyStrategyRoundRobin:
		idx = int(state.rrIndex % int64(len(state.pool.Hosts)))
		if req.Commit {
			state.rrIndex++
		}
	case types.ProxyStrategyRandom:
		idx, err = randomIndex(len(state.pool.Hosts))
	case types.ProxyStrategySticky:
		idx, err = selectSticky(state, req)
	default:
		err = fmt.Errorf("unknown strategy %q", state.pool.Strategy)
	}
	if err != nil {
		return "", err
	}

	return state.pool.Hosts[idx], nil
}

func randomIndex(n int) (int, error) {
	if n == 1 {
		return 0, nil
	}
	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(bigIdx.Int64()), nil
}

func selectSticky(state *poolState, req SelectRequest) (int, error) {
	if req.StickyKey == "" {
		return 0, errors.New("sticky selection requires a sticky key")
	}
	if idx, ok := state.sticky[req.StickyKey]; ok {
		return idx, nil
	}

	idx, err := randomIndex(len(state.pool.Hosts))
	if err != nil {
		return 0, err
	}
	if req.Commit {
		state.sticky[req.StickyKey] = idx
	}
	return idx, nil
}

// Release drops a sticky assignment from every pool.
func (s *Selector) Release(stickyKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.pools {
		delete(state.sticky, stickyKey)
	}
}

// PoolStats returns statistics for a pool.
type PoolStats struct {
	RoundRobinIndex int64
	StickyEntries   int
}

// Stats returns statistics for a pool.
func (s *Selector) Stats(poolName string) (*PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", poolName)
	}
	return &PoolStats{
		RoundRobinIndex: state.rrIndex,
		StickyEntries:   len(state.sticky),
	}, nil
}
