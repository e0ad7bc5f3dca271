package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"fundme/internal/contracts"
	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var feedAddress = common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")

type fakeFeed struct {
	abi      abi.ABI
	decimals uint8
	answer   *big.Int
	err      error
	reads    int
}

func newFakeFeed(t *testing.T, decimals uint8, answer *big.Int) *fakeFeed {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contracts.AggregatorV3ABI))
	require.NoError(t, err)
	return &fakeFeed{abi: parsed, decimals: decimals, answer: answer}
}

func (f *fakeFeed) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeFeed) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if msg.To == nil || *msg.To != feedAddress {
		return nil, fmt.Errorf("call to unexpected address %v", msg.To)
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(f.decimals)
	case "latestRoundData":
		f.reads++
		return method.Outputs.Pack(big.NewInt(7), f.answer, big.NewInt(1), big.NewInt(2), big.NewInt(7))
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func TestChainlinkLatestPrice(t *testing.T) {
	ctx := context.Background()
	feed := newFakeFeed(t, 8, big.NewInt(2000_00000000))

	cl, err := NewChainlink(ctx, feedAddress, feed)
	require.NoError(t, err)
	assert.Equal(t, feedAddress, cl.Address())

	price, err := cl.LatestPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), price.Decimals)
	assert.Equal(t, "200000000000", price.Answer.String())

	tenth, err := fundme.ParseEther("0.1")
	require.NoError(t, err)
	usd, err := price.Convert(tenth)
	require.NoError(t, err)
	assert.Equal(t, fundme.USDFromDollars(200), usd)
}

func TestChainlinkReadsFreshAnswer(t *testing.T) {
	ctx := context.Background()
	feed := newFakeFeed(t, 8, big.NewInt(2000_00000000))
	cl, err := NewChainlink(ctx, feedAddress, feed)
	require.NoError(t, err)

	_, err = cl.LatestPrice(ctx)
	require.NoError(t, err)
	feed.answer = big.NewInt(-5)
	price, err := cl.LatestPrice(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, feed.reads)
	assert.Equal(t, int64(-5), price.Answer.Int64())
}

func TestChainlinkPropagatesRPCErrors(t *testing.T) {
	ctx := context.Background()
	feed := newFakeFeed(t, 8, big.NewInt(1))
	cl, err := NewChainlink(ctx, feedAddress, feed)
	require.NoError(t, err)

	rpcErr := errors.New("connection refused")
	feed.err = rpcErr
	_, err = cl.LatestPrice(ctx)
	require.ErrorIs(t, err, rpcErr)

	_, err = NewChainlink(ctx, feedAddress, feed)
	require.ErrorIs(t, err, rpcErr)
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStaticDollars(8, 2000)

	price, err := s.LatestPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200000000000", price.Answer.String())

	s.UpdateAnswer(big.NewInt(3000_00000000))
	price, err = s.LatestPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "300000000000", price.Answer.String())

	// the returned answer is a copy
	price.Answer.SetInt64(1)
	again, err := s.LatestPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "300000000000", again.Answer.String())

	fault := errors.New("stale round")
	s.Fail(fault)
	_, err = s.LatestPrice(ctx)
	require.ErrorIs(t, err, fault)

	s.Fail(nil)
	_, err = s.LatestPrice(ctx)
	require.NoError(t, err)
}
