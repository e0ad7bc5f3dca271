package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"fundme/internal/contracts"
	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ethBackend is the subset of *ethclient.Client the escrow needs.
type ethBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EthClient drives a deployed FundMe contract.
type EthClient struct {
	backend      ethBackend
	contract     *bind.BoundContract
	abi          abi.ABI
	address      common.Address
	transacts    *bind.TransactOpts
	feedDecimals uint8
	deployedAt   time.Time
	pollInterval time.Duration
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	FundMeAddress string
	// FeedDecimals is the scale of the contract's data feed answer.
	FeedDecimals uint8
	// DeployedAt is optional; without it the window close time is unknown.
	DeployedAt time.Time
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.FundMeAddress) {
		return nil, fmt.Errorf("fundme address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for sending transactions")
	}
	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	// let the node estimate gas and price
	txOpts.GasLimit = 0
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	return newEthClient(cli, common.HexToAddress(cfg.FundMeAddress), txOpts, cfg)
}

func newEthClient(backend ethBackend, address common.Address, txOpts *bind.TransactOpts, cfg EthClientConfig) (*EthClient, error) {
	parsedABI, err := abi.JSON(strings.NewReader(contracts.FundMeABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &EthClient{
		backend:      backend,
		contract:     bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		abi:          parsedABI,
		address:      address,
		transacts:    txOpts,
		feedDecimals: cfg.FeedDecimals,
		deployedAt:   cfg.DeployedAt,
		pollInterval: 2 * time.Second,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Signer is the account every transaction is sent from.
func (c *EthClient) Signer() common.Address {
	return c.transacts.From
}

func (c *EthClient) Fund(ctx context.Context, req FundRequest) (TxResult, error) {
	opts, err := c.opts(ctx, req.Caller)
	if err != nil {
		return TxResult{}, err
	}
	opts.Value = req.Amount.Big()
	receipt, err := c.send(ctx, opts, "fund")
	if err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: receipt.TxHash.Hex()}, nil
}

func (c *EthClient) GetFund(ctx context.Context, caller common.Address) (WithdrawResult, error) {
	opts, err := c.opts(ctx, caller)
	if err != nil {
		return WithdrawResult{}, err
	}
	receipt, err := c.send(ctx, opts, "getFund")
	if err != nil {
		return WithdrawResult{}, err
	}
	event, err := c.fundWithdrawn(receipt)
	if err != nil {
		return WithdrawResult{}, err
	}
	return WithdrawResult{TxHash: receipt.TxHash.Hex(), Owner: event.Owner, Amount: event.Amount}, nil
}

// Refund emits no event, so the refunded amount is the caller's contribution
// read just before sending.
func (c *EthClient) Refund(ctx context.Context, caller common.Address) (RefundResult, error) {
	opts, err := c.opts(ctx, caller)
	if err != nil {
		return RefundResult{}, err
	}
	amount, err := c.ContributionOf(ctx, opts.From)
	if err != nil {
		return RefundResult{}, err
	}
	receipt, err := c.send(ctx, opts, "refund")
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{TxHash: receipt.TxHash.Hex(), Funder: opts.From, Amount: amount}, nil
}

func (c *EthClient) TransferOwner(ctx context.Context, caller, newOwner common.Address) (TxResult, error) {
	opts, err := c.opts(ctx, caller)
	if err != nil {
		return TxResult{}, err
	}
	receipt, err := c.send(ctx, opts, "transferOwner", newOwner)
	if err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: receipt.TxHash.Hex()}, nil
}

func (c *EthClient) SetIntegrationAddress(ctx context.Context, caller, addr common.Address) (TxResult, error) {
	opts, err := c.opts(ctx, caller)
	if err != nil {
		return TxResult{}, err
	}
	receipt, err := c.send(ctx, opts, "setErc20Addr", addr)
	if err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: receipt.TxHash.Hex()}, nil
}

func (c *EthClient) SetFunderAmount(ctx context.Context, req SetFunderAmountRequest) (TxResult, error) {
	opts, err := c.opts(ctx, req.Caller)
	if err != nil {
		return TxResult{}, err
	}
	receipt, err := c.send(ctx, opts, "setFunderToAmount", req.Funder, req.Amount.Big())
	if err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: receipt.TxHash.Hex()}, nil
}

func (c *EthClient) Campaign(ctx context.Context) (CampaignStatus, error) {
	var status CampaignStatus
	var err error
	if status.Owner, err = c.callAddress(ctx, "owner"); err != nil {
		return CampaignStatus{}, err
	}
	if status.IntegrationAddress, err = c.callAddress(ctx, "erc20Addr"); err != nil {
		return CampaignStatus{}, err
	}
	out, err := c.call(ctx, "isFundSuccess")
	if err != nil {
		return CampaignStatus{}, err
	}
	status.Success = *abi.ConvertType(out[0], new(bool)).(*bool)

	out, err = c.call(ctx, "lockTime")
	if err != nil {
		return CampaignStatus{}, err
	}
	lock := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !lock.IsInt64() || lock.Int64() > int64(time.Duration(1<<63-1)/time.Second) {
		return CampaignStatus{}, fmt.Errorf("lock time %s out of range", lock)
	}
	status.LockDuration = time.Duration(lock.Int64()) * time.Second
	if !c.deployedAt.IsZero() {
		status.WindowCloseTime = c.deployedAt.Add(status.LockDuration)
	}

	raw, err := c.backend.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return CampaignStatus{}, fmt.Errorf("balance: %w", err)
	}
	if status.Balance, err = fundme.WeiFromBig(raw); err != nil {
		return CampaignStatus{}, err
	}

	out, err = c.call(ctx, "getChainlinkDataFeedLatestAnswer")
	if err != nil {
		return CampaignStatus{}, fmt.Errorf("%w: %w", fundme.ErrOracleFault, err)
	}
	status.Price = fundme.Price{
		Answer:   abi.ConvertType(out[0], new(big.Int)).(*big.Int),
		Decimals: c.feedDecimals,
	}
	if status.BalanceUSD, err = status.Price.Convert(status.Balance); err != nil {
		return CampaignStatus{}, err
	}
	return status, nil
}

func (c *EthClient) ContributionOf(ctx context.Context, funder common.Address) (fundme.Wei, error) {
	out, err := c.call(ctx, "fundersToAmount", funder)
	if err != nil {
		return fundme.Wei{}, err
	}
	return fundme.WeiFromBig(abi.ConvertType(out[0], new(big.Int)).(*big.Int))
}

func (c *EthClient) USDValue(ctx context.Context, amount fundme.Wei) (fundme.USD, error) {
	out, err := c.call(ctx, "debugConvertUsd", amount.Big())
	if err != nil {
		return fundme.USD{}, err
	}
	return fundme.ParseUSD(abi.ConvertType(out[0], new(big.Int)).(*big.Int).String())
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.backend == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.backend.BlockNumber(ctx)
	return err
}

// opts binds a request to the signer. The contract sees msg.sender, so a
// request on behalf of any other address cannot be honoured.
func (c *EthClient) opts(ctx context.Context, caller common.Address) (*bind.TransactOpts, error) {
	if c.transacts == nil {
		return nil, fmt.Errorf("client is read-only")
	}
	if caller != (common.Address{}) && caller != c.transacts.From {
		return nil, fmt.Errorf("%w: caller %s is not the signer", fundme.ErrUnauthorized, caller.Hex())
	}
	opts := *c.transacts
	opts.Context = ctx
	return &opts, nil
}

func (c *EthClient) send(ctx context.Context, opts *bind.TransactOpts, method string, params ...interface{}) (*types.Receipt, error) {
	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s tx: %w", method, classifyRevert(err))
	}
	// From here on the transaction is out; failures carry its hash and
	// must not lead to a second send.
	receipt, err := WaitForReceipt(ctx, c.backend, tx, c.pollInterval)
	if err != nil {
		return nil, &TxError{Method: method, TxHash: tx.Hash(), Err: fmt.Errorf("%w: %w", ErrTxUnconfirmed, err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &TxError{Method: method, TxHash: tx.Hash(), Err: ErrTxReverted}
	}
	return receipt, nil
}

func (c *EthClient) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, classifyRevert(err))
	}
	return out, nil
}

func (c *EthClient) callAddress(ctx context.Context, method string) (common.Address, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// fundWithdrawn finds the FundWithdrawn event this contract emitted in receipt.
func (c *EthClient) fundWithdrawn(receipt *types.Receipt) (fundme.FundWithdrawn, error) {
	id := c.abi.Events["FundWithdrawn"].ID
	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) == 0 || log.Topics[0] != id {
			continue
		}
		var raw struct {
			Owner  common.Address
			Amount *big.Int
		}
		if err := c.contract.UnpackLog(&raw, "FundWithdrawn", *log); err != nil {
			return fundme.FundWithdrawn{}, fmt.Errorf("unpack FundWithdrawn: %w", err)
		}
		amount, err := fundme.WeiFromBig(raw.Amount)
		if err != nil {
			return fundme.FundWithdrawn{}, err
		}
		return fundme.FundWithdrawn{Owner: raw.Owner, Amount: amount}, nil
	}
	return fundme.FundWithdrawn{}, fmt.Errorf("no FundWithdrawn event in tx %s", receipt.TxHash.Hex())
}

// revertReasons maps the contract's require messages onto ledger errors.
var revertReasons = map[string]error{
	"window is closed":                                fundme.ErrWindowClosed,
	"send more ETH":                                   fundme.ErrBelowMinimum,
	"only own can get the fund":                       fundme.ErrUnauthorized,
	"you don't have permission to call this function": fundme.ErrUnauthorized,
	"balance must bigger than target":                 fundme.ErrTargetNotReached,
	"window is not closed":                            fundme.ErrWindowNotClosed,
	"balance must less than target":                   fundme.ErrTargetReached,
	"balance is empty":                                fundme.ErrNoContribution,
}

// classifyRevert wraps err with the ledger error matching its revert
// reason. Errors that are not reverts are returned as is.
func classifyRevert(err error) error {
	reason := revertReason(err)
	if reason == "" {
		return err
	}
	if sentinel, ok := revertReasons[reason]; ok {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	if _, reason, ok := strings.Cut(err.Error(), "execution reverted: "); ok {
		return strings.TrimSpace(reason)
	}
	return ""
}

type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, client receiptReader, tx *types.Transaction, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
