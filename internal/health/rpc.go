package health

import (
	"context"
	"fmt"

	"github.com/devblac/quest-verify/internal/chain"
)

// ChainPinger is a gateway that can report the chain id its node is serving.
type ChainPinger interface {
	ChainID() uint64
	RemoteChainID(ctx context.Context) (uint64, error)
}

// RPCChecker combines the RPC health checks of every configured chain.
type RPCChecker struct {
	pingers []ChainPinger
}

// NewRPCChecker creates a checker for multiple chains.
func NewRPCChecker(pingers ...ChainPinger) *RPCChecker {
	return &RPCChecker{pingers: pingers}
}

// FromSet collects the pingable gateways of a chain set.
func FromSet(set *chain.Set) *RPCChecker {
	var pingers []ChainPinger
	for _, id := range set.IDs() {
		gw, _ := set.Get(id)
		if p, ok := gw.(ChainPinger); ok {
			pingers = append(pingers, p)
		}
	}
	return NewRPCChecker(pingers...)
}

// Ping checks all configured RPC endpoints. A node answering for another chain counts as down.
func (c *RPCChecker) Ping(ctx context.Context) error {
	var lastErr error
	for _, p := range c.pingers {
		remote, err := p.RemoteChainID(ctx)
		if err != nil {
			lastErr = fmt.Errorf("chain %d: %w", p.ChainID(), err)
			continue
		}
		if remote != p.ChainID() {
			lastErr = fmt.Errorf("chain %d: node reports chain id %d", p.ChainID(), remote)
		}
	}
	return lastErr
}
