package escrow

import (
	"context"
	"encoding/binary"
	"sync"

	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalClient hosts a ledger in-process. It plays the part of the chain:
// calls run one at a time, and each successful mutation gets a
// deterministic transaction hash.
type LocalClient struct {
	mu     sync.Mutex
	ledger *fundme.Ledger
	nonce  uint64
}

func NewLocalClient(ledger *fundme.Ledger) *LocalClient {
	return &LocalClient{ledger: ledger}
}

func (c *LocalClient) Fund(ctx context.Context, req FundRequest) (TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ledger.Fund(ctx, req.Caller, req.Amount); err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: c.txHash("fund", req.Caller)}, nil
}

func (c *LocalClient) GetFund(ctx context.Context, caller common.Address) (WithdrawResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	event, err := c.ledger.GetFund(ctx, caller)
	if err != nil {
		return WithdrawResult{}, err
	}
	return WithdrawResult{
		TxHash: c.txHash("getFund", caller),
		Owner:  event.Owner,
		Amount: event.Amount,
	}, nil
}

func (c *LocalClient) Refund(ctx context.Context, caller common.Address) (RefundResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	amount, err := c.ledger.Refund(ctx, caller)
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{
		TxHash: c.txHash("refund", caller),
		Funder: caller,
		Amount: amount,
	}, nil
}

func (c *LocalClient) TransferOwner(_ context.Context, caller, newOwner common.Address) (TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ledger.TransferOwner(caller, newOwner); err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: c.txHash("transferOwner", caller)}, nil
}

func (c *LocalClient) SetIntegrationAddress(_ context.Context, caller, addr common.Address) (TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ledger.SetIntegrationAddress(caller, addr); err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: c.txHash("setErc20Addr", caller)}, nil
}

func (c *LocalClient) SetFunderAmount(_ context.Context, req SetFunderAmountRequest) (TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ledger.SetFunderAmount(req.Caller, req.Funder, req.Amount); err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: c.txHash("setFunderToAmount", req.Caller)}, nil
}

func (c *LocalClient) Campaign(ctx context.Context) (CampaignStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.ledger.State()
	price, err := c.ledger.OracleLatestPrice(ctx)
	if err != nil {
		return CampaignStatus{}, err
	}
	usd, err := price.Convert(state.Balance)
	if err != nil {
		return CampaignStatus{}, err
	}
	return CampaignStatus{
		Owner:              state.Owner,
		IntegrationAddress: state.IntegrationAddress,
		Success:            state.Success,
		Balance:            state.Balance,
		BalanceUSD:         usd,
		Price:              price,
		LockDuration:       state.LockDuration,
		WindowCloseTime:    state.WindowCloseTime,
	}, nil
}

func (c *LocalClient) ContributionOf(_ context.Context, funder common.Address) (fundme.Wei, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.ContributionOf(funder), nil
}

func (c *LocalClient) USDValue(ctx context.Context, amount fundme.Wei) (fundme.USD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.USDValue(ctx, amount)
}

// txHash must be called with mu held.
func (c *LocalClient) txHash(method string, caller common.Address) string {
	c.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], c.nonce)
	return crypto.Keccak256Hash([]byte(method), caller.Bytes(), nonce[:]).Hex()
}

// Payouts records value paid out of a local escrow, per recipient.
type Payouts struct {
	mu   sync.Mutex
	paid map[common.Address]fundme.Wei
}

func NewPayouts() *Payouts {
	return &Payouts{paid: make(map[common.Address]fundme.Wei)}
}

func (p *Payouts) Transfer(_ context.Context, to common.Address, amount fundme.Wei) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	total, err := p.paid[to].Add(amount)
	if err != nil {
		return err
	}
	p.paid[to] = total
	return nil
}

func (p *Payouts) PaidTo(addr common.Address) fundme.Wei {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paid[addr]
}
