package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"fundme/internal/contracts"
	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeChain answers the FundMe calls the client makes. Methods the client
// never uses are left to the embedded nil interface.
type fakeChain struct {
	ethBackend
	abi          abi.ABI
	owner        common.Address
	integration  common.Address
	success      bool
	lockTime     int64
	answer       *big.Int
	balance      *big.Int
	contribution map[common.Address]*big.Int
	estimateErr  error
	receiptErr   error
	reverted     bool
	logs         []*types.Log
	sent         []*types.Transaction
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contracts.FundMeABI))
	require.NoError(t, err)
	return &fakeChain{
		abi:          parsed,
		lockTime:     3600,
		answer:       big.NewInt(2000_00000000),
		balance:      new(big.Int),
		contribution: make(map[common.Address]*big.Int),
	}
}

func (f *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChain) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "owner":
		return method.Outputs.Pack(f.owner)
	case "erc20Addr":
		return method.Outputs.Pack(f.integration)
	case "isFundSuccess":
		return method.Outputs.Pack(f.success)
	case "lockTime":
		return method.Outputs.Pack(big.NewInt(f.lockTime))
	case "getChainlinkDataFeedLatestAnswer":
		return method.Outputs.Pack(f.answer)
	case "fundersToAmount":
		amount := f.contribution[args[0].(common.Address)]
		if amount == nil {
			amount = new(big.Int)
		}
		return method.Outputs.Pack(amount)
	case "debugConvertUsd":
		usd := new(big.Int).Mul(args[0].(*big.Int), f.answer)
		return method.Outputs.Pack(usd.Div(usd, big.NewInt(1_00000000)))
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(42), BaseFee: big.NewInt(1)}, nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 50_000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			status := types.ReceiptStatusSuccessful
			if f.reverted {
				status = types.ReceiptStatusFailed
			}
			return &types.Receipt{Status: status, TxHash: hash, Logs: f.logs}, nil
		}
	}
	return nil, ethereum.NotFound
}

// revertError mimics the JSON-RPC error a node returns for a reverted call.
type revertError struct {
	data string
}

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorCode() int         { return 3 }
func (e revertError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return fmt.Sprintf("0x%x%x", selector, packed)
}

func newTestEthClient(t *testing.T, chain *fakeChain) (*EthClient, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(31337))
	require.NoError(t, err)
	client, err := newEthClient(chain, contractAddress, opts, EthClientConfig{
		FeedDecimals: 8,
		DeployedAt:   time.Unix(1_700_000_000, 0),
	})
	require.NoError(t, err)
	client.pollInterval = time.Millisecond
	return client, opts.From
}

func TestEthClientCampaign(t *testing.T) {
	chain := newFakeChain(t)
	chain.owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	chain.success = true
	chain.balance = big.NewInt(3e17)
	client, _ := newTestEthClient(t, chain)

	status, err := client.Campaign(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chain.owner, status.Owner)
	assert.True(t, status.Success)
	assert.Equal(t, time.Hour, status.LockDuration)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(time.Hour), status.WindowCloseTime)
	assert.Equal(t, "300000000000000000", status.Balance.String())
	assert.Equal(t, fundme.USDFromDollars(600), status.BalanceUSD)
	assert.Equal(t, uint8(8), status.Price.Decimals)
}

func TestEthClientViews(t *testing.T) {
	chain := newFakeChain(t)
	funderAddr := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	chain.contribution[funderAddr] = big.NewInt(1e17)
	client, _ := newTestEthClient(t, chain)
	ctx := context.Background()

	got, err := client.ContributionOf(ctx, funderAddr)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", got.String())

	usd, err := client.USDValue(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, fundme.USDFromDollars(200), usd)

	require.NoError(t, client.Ping(ctx))
}

func TestEthClientFundSendsValue(t *testing.T) {
	chain := newFakeChain(t)
	client, signer := newTestEthClient(t, chain)

	amount, err := fundme.ParseEther("0.1")
	require.NoError(t, err)
	res, err := client.Fund(context.Background(), FundRequest{Caller: signer, Amount: amount})
	require.NoError(t, err)

	require.Len(t, chain.sent, 1)
	tx := chain.sent[0]
	assert.Equal(t, tx.Hash().Hex(), res.TxHash)
	assert.Equal(t, amount.String(), tx.Value().String())
	assert.Equal(t, contractAddress, *tx.To())
	assert.Equal(t, chain.abi.Methods["fund"].ID, tx.Data()[:4])
}

func TestEthClientRejectsForeignCaller(t *testing.T) {
	chain := newFakeChain(t)
	client, _ := newTestEthClient(t, chain)

	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	_, err := client.GetFund(context.Background(), other)
	require.ErrorIs(t, err, fundme.ErrUnauthorized)
	assert.Empty(t, chain.sent)
}

func TestEthClientGetFundDecodesEvent(t *testing.T) {
	chain := newFakeChain(t)
	client, signer := newTestEthClient(t, chain)

	event := chain.abi.Events["FundWithdrawn"]
	data, err := event.Inputs.Pack(signer, big.NewInt(5e17))
	require.NoError(t, err)
	chain.logs = []*types.Log{
		{Address: common.HexToAddress("0x01"), Topics: []common.Hash{event.ID}, Data: data},
		{Address: contractAddress, Topics: []common.Hash{event.ID}, Data: data},
	}

	res, err := client.GetFund(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, signer, res.Owner)
	assert.Equal(t, "500000000000000000", res.Amount.String())
}

func TestEthClientGetFundWithoutEvent(t *testing.T) {
	chain := newFakeChain(t)
	client, signer := newTestEthClient(t, chain)

	_, err := client.GetFund(context.Background(), signer)
	require.ErrorContains(t, err, "no FundWithdrawn event")
}

func TestEthClientRefundReportsContribution(t *testing.T) {
	chain := newFakeChain(t)
	client, signer := newTestEthClient(t, chain)
	chain.contribution[signer] = big.NewInt(1e17)

	res, err := client.Refund(context.Background(), signer)
	require.NoError(t, err)
	assert.Equal(t, signer, res.Funder)
	assert.Equal(t, "100000000000000000", res.Amount.String())
}

func TestEthClientMapsReverts(t *testing.T) {
	chain := newFakeChain(t)
	client, signer := newTestEthClient(t, chain)
	chain.estimateErr = revertError{data: revertData(t, "window is not closed")}

	_, err := client.Refund(context.Background(), signer)
	require.ErrorIs(t, err, fundme.ErrWindowNotClosed)
	assert.True(t, fundme.IsPrecondition(err))
	assert.Empty(t, chain.sent)
}

func TestClassifyRevert(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"window closed", errors.New("execution reverted: window is closed"), fundme.ErrWindowClosed},
		{"minimum", errors.New("execution reverted: send more ETH"), fundme.ErrBelowMinimum},
		{"owner only", errors.New("execution reverted: only own can get the fund"), fundme.ErrUnauthorized},
		{"integration only", errors.New("execution reverted: you don't have permission to call this function"), fundme.ErrUnauthorized},
		{"target not reached", errors.New("execution reverted: balance must bigger than target"), fundme.ErrTargetNotReached},
		{"target reached", errors.New("execution reverted: balance must less than target"), fundme.ErrTargetReached},
		{"empty", revertError{data: revertData(t, "balance is empty")}, fundme.ErrNoContribution},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyRevert(tc.err)
			require.ErrorIs(t, got, tc.want)
			require.ErrorIs(t, got, tc.err)
		})
	}

	plain := errors.New("connection refused")
	assert.Equal(t, plain, classifyRevert(plain))
	unknown := errors.New("execution reverted: something else")
	assert.Equal(t, unknown, classifyRevert(unknown))
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	chain := newFakeChain(t)
	tx := types.NewTx(&types.LegacyTx{Nonce: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := WaitForReceipt(ctx, chain, tx, time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEthClientReceiptFailureAfterSend(t *testing.T) {
	chain := newFakeChain(t)
	client, signer := newTestEthClient(t, chain)
	chain.contribution[signer] = big.NewInt(1e17)
	chain.receiptErr = errors.New("connection reset by peer")

	_, err := client.Refund(context.Background(), signer)
	require.Error(t, err)
	require.Len(t, chain.sent, 1)

	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "refund", txErr.Method)
	assert.Equal(t, chain.sent[0].Hash(), txErr.TxHash)
	assert.ErrorIs(t, err, ErrTxUnconfirmed)
	assert.False(t, fundme.IsPrecondition(err))
}

func TestEthClientMinedRevert(t *testing.T) {
	chain := newFakeChain(t)
	client, signer := newTestEthClient(t, chain)
	chain.reverted = true

	_, err := client.GetFund(context.Background(), signer)
	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.ErrorIs(t, err, ErrTxReverted)
	assert.Equal(t, chain.sent[0].Hash(), txErr.TxHash)
}
