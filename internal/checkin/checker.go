// Package checkin reads daily check-in state from the check-in contract.
package checkin

import (
	"context"
	"errors"
	"fmt"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/ethereum/go-ethereum/common"
)

// Checker answers "can this address still check in today".
type Checker struct {
	gw       chain.Gateway
	dec      *decoder.Decoder
	contract common.Address
}

func NewChecker(gw chain.Gateway, dec *decoder.Decoder, contract common.Address) *Checker {
	return &Checker{gw: gw, dec: dec, contract: contract}
}

// CanCheckinToday calls canCheckinToday(address) on the contract.
func (c *Checker) CanCheckinToday(ctx context.Context, user common.Address) (bool, error) {
	data, err := c.dec.Pack(decoder.Checkin, "canCheckinToday", user)
	if err != nil {
		return false, fmt.Errorf("pack canCheckinToday: %w", err)
	}
	out, err := c.gw.CallContract(ctx, c.contract, data)
	if err != nil {
		return false, fmt.Errorf("call canCheckinToday: %w", err)
	}
	vals, err := c.dec.Unpack(decoder.Checkin, "canCheckinToday", out)
	if err != nil {
		return false, fmt.Errorf("unpack canCheckinToday: %w", err)
	}
	if len(vals) != 1 {
		return false, errors.New("canCheckinToday: unexpected output")
	}
	can, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("canCheckinToday: unexpected type %T", vals[0])
	}
	return can, nil
}
