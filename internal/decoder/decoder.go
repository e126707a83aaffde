// Package decoder turns raw EVM logs into named events for the contracts the
// verifier trusts: the vendor, the lock factory, swap pools and the check-in contract.
package decoder

import (
	"bytes"
	"embed"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Interface names a known contract ABI.
type Interface string

const (
	Vendor      Interface = "vendor"
	LockFactory Interface = "lock_factory"
	SwapPool    Interface = "swap_pool"
	Checkin     Interface = "checkin"
)

//go:embed abi/*.json
var builtin embed.FS

// Event is the semantic projection of one log entry.
type Event struct {
	Name        string
	Address     common.Address
	LogIndex    uint
	BlockNumber uint64
	Args        map[string]any
}

// Decoder holds parsed ABIs keyed by interface. It is safe for concurrent use.
type Decoder struct {
	abis map[Interface]*abi.ABI
}

// New parses the embedded ABIs.
func New() (*Decoder, error) {
	d := &Decoder{abis: map[Interface]*abi.ABI{}}
	for _, iface := range []Interface{Vendor, LockFactory, SwapPool, Checkin} {
		raw, err := builtin.ReadFile("abi/" + string(iface) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read builtin abi %s: %w", iface, err)
		}
		a, err := abi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse builtin abi %s: %w", iface, err)
		}
		d.abis[iface] = &a
	}
	return d, nil
}

// Override replaces builtin ABIs with loaded ones whose file name matches an interface
// (e.g. abi/vendor.json). Returns the interfaces that were replaced.
func (d *Decoder) Override(loaded map[string]*abi.ABI) []Interface {
	var replaced []Interface
	for path, a := range loaded {
		name := Interface(strings.TrimSuffix(strings.ToLower(filepath.Base(path)), ".json"))
		if _, ok := d.abis[name]; ok {
			d.abis[name] = a
			replaced = append(replaced, name)
		}
	}
	return replaced
}

// Decode interprets a log against an interface. It reports false instead of failing when
// the log is not one of the interface's events or its layout does not match.
func (d *Decoder) Decode(iface Interface, lg *types.Log) (*Event, bool) {
	a := d.abis[iface]
	if a == nil || lg == nil || len(lg.Topics) == 0 {
		return nil, false
	}
	ev, err := a.EventByID(lg.Topics[0])
	if err != nil || ev.Anonymous {
		return nil, false
	}

	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(ev.Inputs)
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, false
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return nil, false
	}

	return &Event{
		Name:        ev.Name,
		Address:     lg.Address,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Args:        args,
	}, true
}

// DecodeFrom decodes every log emitted by the given contract, skipping the ones that do not decode.
func (d *Decoder) DecodeFrom(iface Interface, logs []*types.Log, emitter common.Address) []Event {
	var out []Event
	for _, lg := range logs {
		if lg == nil || lg.Address != emitter {
			continue
		}
		if ev, ok := d.Decode(iface, lg); ok {
			out = append(out, *ev)
		}
	}
	return out
}

// Pack encodes a method call.
func (d *Decoder) Pack(iface Interface, method string, args ...any) ([]byte, error) {
	a := d.abis[iface]
	if a == nil {
		return nil, fmt.Errorf("unknown interface %s", iface)
	}
	return a.Pack(method, args...)
}

// Unpack decodes a method's return data.
func (d *Decoder) Unpack(iface Interface, method string, data []byte) ([]any, error) {
	a := d.abis[iface]
	if a == nil {
		return nil, fmt.Errorf("unknown interface %s", iface)
	}
	return a.Unpack(method, data)
}

// EventSpec returns the ABI event definition by name.
func (d *Decoder) EventSpec(iface Interface, name string) (abi.Event, bool) {
	a := d.abis[iface]
	if a == nil {
		return abi.Event{}, false
	}
	ev, ok := a.Events[name]
	return ev, ok
}

// AddressArg reads an address argument.
func AddressArg(args map[string]any, name string) (common.Address, bool) {
	v, ok := args[name].(common.Address)
	return v, ok
}

// BigArg reads an integer argument wider than 64 bits.
func BigArg(args map[string]any, name string) (*big.Int, bool) {
	v, ok := args[name].(*big.Int)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
