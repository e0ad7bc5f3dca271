// Package oracle provides price sources for the escrow ledger.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"fundme/internal/contracts"
	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Chainlink reads an AggregatorV3 price feed.
type Chainlink struct {
	address  common.Address
	contract *bind.BoundContract
	decimals uint8
}

// NewChainlink binds the feed at address. The feed's decimals never change,
// so they are read once here; the answer is read on every LatestPrice.
func NewChainlink(ctx context.Context, address common.Address, caller bind.ContractCaller) (*Chainlink, error) {
	parsedABI, err := abi.JSON(strings.NewReader(contracts.AggregatorV3ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	feed := &Chainlink{
		address:  address,
		contract: bind.NewBoundContract(address, parsedABI, caller, nil, nil),
	}

	var out []interface{}
	if err := feed.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return nil, fmt.Errorf("read feed decimals: %w", err)
	}
	feed.decimals = *abi.ConvertType(out[0], new(uint8)).(*uint8)
	return feed, nil
}

func (c *Chainlink) Address() common.Address { return c.address }

func (c *Chainlink) LatestPrice(ctx context.Context) (fundme.Price, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestRoundData"); err != nil {
		return fundme.Price{}, fmt.Errorf("latest round data: %w", err)
	}
	answer := abi.ConvertType(out[1], new(big.Int)).(*big.Int)
	return fundme.Price{Answer: answer, Decimals: c.decimals}, nil
}
