package chain

import (
	"fmt"
	"sort"

	"github.com/devblac/quest-verify/internal/config"
	"github.com/ethereum/go-ethereum/common"
)

// Set holds one gateway per chain id plus the per-chain factory anchor and display name.
// It is built once at startup and only read afterwards.
type Set struct {
	gateways  map[uint64]Gateway
	factories map[uint64]common.Address
	names     map[uint64]string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{
		gateways:  map[uint64]Gateway{},
		factories: map[uint64]common.Address{},
		names:     map[uint64]string{},
	}
}

// Add registers a gateway under its chain id.
func (s *Set) Add(gw Gateway, name string, factory *common.Address) {
	id := gw.ChainID()
	s.gateways[id] = gw
	if name != "" {
		s.names[id] = name
	}
	if factory != nil {
		s.factories[id] = *factory
	}
}

// Get returns the gateway for a chain id.
func (s *Set) Get(id uint64) (Gateway, bool) {
	gw, ok := s.gateways[id]
	return gw, ok
}

// Factory returns the trusted deployment factory for a chain id.
func (s *Set) Factory(id uint64) (common.Address, bool) {
	f, ok := s.factories[id]
	return f, ok
}

// Name returns the configured or well-known network name.
func (s *Set) Name(id uint64) string {
	if n, ok := s.names[id]; ok {
		return n
	}
	return NetworkName(id)
}

// IDs returns the registered chain ids in ascending order.
func (s *Set) IDs() []uint64 {
	ids := make([]uint64, 0, len(s.gateways))
	for id := range s.gateways {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DialAll dials every configured chain.
func DialAll(chains []config.Chain) (*Set, error) {
	set := NewSet()
	for _, ch := range chains {
		gw, err := Dial(ch.RPCURL, ch.ID, ch.TimeoutDuration())
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", ch.ID, err)
		}
		var factory *common.Address
		if ch.Factory != "" {
			f := common.HexToAddress(ch.Factory)
			factory = &f
		}
		set.Add(gw, ch.Name, factory)
	}
	return set, nil
}

var knownNetworks = map[uint64]string{
	1:        "Ethereum",
	10:       "Optimism",
	56:       "BNB Smart Chain",
	100:      "Gnosis",
	137:      "Polygon",
	8453:     "Base",
	42161:    "Arbitrum One",
	42220:    "Celo",
	84532:    "Base Sepolia",
	11155111: "Sepolia",
}

// NetworkName maps a chain id to a human readable name.
func NetworkName(id uint64) string {
	if n, ok := knownNetworks[id]; ok {
		return n
	}
	return fmt.Sprintf("Chain %d", id)
}
