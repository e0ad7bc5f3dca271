package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum/common"
)

// Client abstracts where the FundMe escrow runs: in-process or on-chain.
// Every mutating call acts on behalf of Caller.
type Client interface {
	Fund(ctx context.Context, req FundRequest) (TxResult, error)
	GetFund(ctx context.Context, caller common.Address) (WithdrawResult, error)
	Refund(ctx context.Context, caller common.Address) (RefundResult, error)
	TransferOwner(ctx context.Context, caller, newOwner common.Address) (TxResult, error)
	SetIntegrationAddress(ctx context.Context, caller, addr common.Address) (TxResult, error)
	SetFunderAmount(ctx context.Context, req SetFunderAmountRequest) (TxResult, error)

	Campaign(ctx context.Context) (CampaignStatus, error)
	ContributionOf(ctx context.Context, funder common.Address) (fundme.Wei, error)
	USDValue(ctx context.Context, amount fundme.Wei) (fundme.USD, error)
}

// HealthChecker is implemented by clients with a remote dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type FundRequest struct {
	Caller common.Address
	Amount fundme.Wei
}

type SetFunderAmountRequest struct {
	Caller common.Address
	Funder common.Address
	Amount fundme.Wei
}

type TxResult struct {
	TxHash string `json:"txHash"`
}

type WithdrawResult struct {
	TxHash string         `json:"txHash"`
	Owner  common.Address `json:"owner"`
	Amount fundme.Wei     `json:"amount"`
}

type RefundResult struct {
	TxHash string         `json:"txHash"`
	Funder common.Address `json:"funder"`
	Amount fundme.Wei     `json:"amount"`
}

// CampaignStatus is a point-in-time view of the escrow. WindowCloseTime is
// zero when the backend does not expose the deployment time.
type CampaignStatus struct {
	Owner              common.Address `json:"owner"`
	IntegrationAddress common.Address `json:"integrationAddress"`
	Success            bool           `json:"success"`
	Balance            fundme.Wei     `json:"balance"`
	BalanceUSD         fundme.USD     `json:"balanceUsd"`
	Price              fundme.Price   `json:"price"`
	LockDuration       time.Duration  `json:"lockDuration"`
	WindowCloseTime    time.Time      `json:"windowCloseTime"`
}

var (
	// ErrTxUnconfirmed means a transaction was broadcast but its receipt
	// could not be read. It may still be mined.
	ErrTxUnconfirmed = errors.New("transaction not confirmed")
	ErrTxReverted    = errors.New("transaction reverted")
)

// TxError reports a failure after a transaction was broadcast. Sending the
// call again could apply it twice, so callers look the hash up instead.
type TxError struct {
	Method string
	TxHash common.Hash
	Err    error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s tx %s: %v", e.Method, e.TxHash.Hex(), e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }
