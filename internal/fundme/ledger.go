// Package fundme implements the FundMe escrow: a single time-boxed,
// single-asset funding campaign with a USD target priced through an oracle.
//
// A Ledger is not safe for concurrent use. Its host must run one call at a
// time. Settlement calls commit their effects before paying out, so a call
// made from inside a Transferer sees the settled state and is rejected.
package fundme

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Oracle supplies the latest native/USD price.
type Oracle interface {
	LatestPrice(ctx context.Context) (Price, error)
}

// Transferer moves native value out of the escrow.
type Transferer interface {
	Transfer(ctx context.Context, to common.Address, amount Wei) error
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, to common.Address, amount Wei) error

func (f TransferFunc) Transfer(ctx context.Context, to common.Address, amount Wei) error {
	return f(ctx, to, amount)
}

// Config holds the construction parameters of a campaign.
type Config struct {
	// Owner receives administrative rights; normally the deployer.
	Owner common.Address
	// DeployedAt defaults to Now().
	DeployedAt   time.Time
	LockDuration time.Duration
	Oracle       Oracle
	Payer        Transferer
	MinimumUSD   USD
	TargetUSD    USD
	// Now defaults to time.Now.
	Now func() time.Time
}

// Ledger is the escrow state machine.
type Ledger struct {
	owner        common.Address
	integration  common.Address
	deployedAt   time.Time
	lockDuration time.Duration
	oracle       Oracle
	payer        Transferer
	minimum      USD
	target       USD
	now          func() time.Time

	success       bool
	balance       Wei
	contributions map[common.Address]Wei
	logs          []Event
}

// State is a read-only view of a ledger.
type State struct {
	Owner              common.Address `json:"owner"`
	IntegrationAddress common.Address `json:"integrationAddress"`
	DeployedAt         time.Time      `json:"deployedAt"`
	LockDuration       time.Duration  `json:"lockDuration"`
	WindowCloseTime    time.Time      `json:"windowCloseTime"`
	Success            bool           `json:"success"`
	Balance            Wei            `json:"balance"`
	MinimumUSD         USD            `json:"minimumUsd"`
	TargetUSD          USD            `json:"targetUsd"`
}

// New creates a campaign.
func New(cfg Config) (*Ledger, error) {
	if cfg.Oracle == nil {
		return nil, errors.New("price oracle is required")
	}
	if cfg.Payer == nil {
		return nil, errors.New("payer is required")
	}
	if cfg.LockDuration < 0 {
		return nil, fmt.Errorf("negative lock duration %s", cfg.LockDuration)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	deployedAt := cfg.DeployedAt
	if deployedAt.IsZero() {
		deployedAt = now()
	}
	return &Ledger{
		owner:         cfg.Owner,
		deployedAt:    deployedAt,
		lockDuration:  cfg.LockDuration,
		oracle:        cfg.Oracle,
		payer:         cfg.Payer,
		minimum:       cfg.MinimumUSD,
		target:        cfg.TargetUSD,
		now:           now,
		contributions: make(map[common.Address]Wei),
	}, nil
}

// Fund records amount as a contribution from funder. The value is taken to
// have arrived with the call.
func (l *Ledger) Fund(ctx context.Context, funder common.Address, amount Wei) error {
	if l.windowClosed() {
		return ErrWindowClosed
	}
	usd, err := l.usdValue(ctx, amount)
	if err != nil {
		return err
	}
	if usd.Cmp(l.minimum) < 0 {
		return ErrBelowMinimum
	}
	contribution, err := l.contributions[funder].Add(amount)
	if err != nil {
		return err
	}
	balance, err := l.balance.Add(amount)
	if err != nil {
		return err
	}

	l.contributions[funder] = contribution
	l.balance = balance
	l.emit(Funded{Funder: funder, Amount: amount})
	return nil
}

// GetFund settles a campaign that reached its target by paying the whole
// held balance to the owner. The collection window does not need to be
// closed.
func (l *Ledger) GetFund(ctx context.Context, caller common.Address) (FundWithdrawn, error) {
	if caller != l.owner {
		return FundWithdrawn{}, fmt.Errorf("%w: only owner may get the fund", ErrUnauthorized)
	}
	usd, err := l.usdValue(ctx, l.balance)
	if err != nil {
		return FundWithdrawn{}, err
	}
	if usd.Cmp(l.target) < 0 {
		return FundWithdrawn{}, ErrTargetNotReached
	}

	snap := l.snapshot()
	event := FundWithdrawn{Owner: l.owner, Amount: l.balance}
	l.success = true
	l.balance = Wei{}
	clear(l.contributions)
	l.emit(event)

	if err := l.payer.Transfer(ctx, event.Owner, event.Amount); err != nil {
		l.restore(snap)
		return FundWithdrawn{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return event, nil
}

// Refund returns the caller's whole contribution once the window closed
// without the target being met.
func (l *Ledger) Refund(ctx context.Context, caller common.Address) (Wei, error) {
	if !l.windowClosed() {
		return Wei{}, ErrWindowNotClosed
	}
	usd, err := l.usdValue(ctx, l.balance)
	if err != nil {
		return Wei{}, err
	}
	if usd.Cmp(l.target) >= 0 {
		return Wei{}, ErrTargetReached
	}
	amount := l.contributions[caller]
	if amount.IsZero() {
		return Wei{}, ErrNoContribution
	}
	balance, err := l.balance.Sub(amount)
	if err != nil {
		return Wei{}, ErrInsufficientBalance
	}

	snap := l.snapshot()
	delete(l.contributions, caller)
	l.balance = balance
	l.emit(Refunded{Funder: caller, Amount: amount})

	if err := l.payer.Transfer(ctx, caller, amount); err != nil {
		l.restore(snap)
		return Wei{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return amount, nil
}

// TransferOwner hands administrative rights to next.
func (l *Ledger) TransferOwner(caller, next common.Address) error {
	if caller != l.owner {
		return fmt.Errorf("%w: only owner may transfer ownership", ErrUnauthorized)
	}
	previous := l.owner
	l.owner = next
	l.emit(OwnershipTransferred{Previous: previous, Next: next})
	return nil
}

// SetIntegrationAddress authorizes addr to call SetFunderAmount.
func (l *Ledger) SetIntegrationAddress(caller, addr common.Address) error {
	if caller != l.owner {
		return fmt.Errorf("%w: only owner may set the integration address", ErrUnauthorized)
	}
	l.integration = addr
	l.emit(IntegrationAddressSet{Address: addr})
	return nil
}

// SetFunderAmount overwrites a funder's recorded contribution. It is the
// hook for the token integration contract and does not move value. Nobody
// may call it until an integration address is set.
func (l *Ledger) SetFunderAmount(caller, funder common.Address, amount Wei) error {
	if l.integration == (common.Address{}) || caller != l.integration {
		return fmt.Errorf("%w: you don't have permission to call this function", ErrUnauthorized)
	}
	if amount.IsZero() {
		delete(l.contributions, funder)
	} else {
		l.contributions[funder] = amount
	}
	l.emit(FunderAmountSet{Funder: funder, Amount: amount})
	return nil
}

// Owner holds administrative rights and receives a successful campaign.
func (l *Ledger) Owner() common.Address { return l.owner }

// IntegrationAddress is the zero address until the owner sets one.
func (l *Ledger) IntegrationAddress() common.Address { return l.integration }

// IsSuccess reports whether GetFund has settled the campaign.
func (l *Ledger) IsSuccess() bool { return l.success }

// Balance is the native value currently held.
func (l *Ledger) Balance() Wei { return l.balance }

// DeployedAt is the start of the collection window.
func (l *Ledger) DeployedAt() time.Time { return l.deployedAt }

// LockDuration is the length of the collection window.
func (l *Ledger) LockDuration() time.Duration { return l.lockDuration }

// WindowCloseTime is the last instant at which Fund is accepted.
func (l *Ledger) WindowCloseTime() time.Time {
	return l.deployedAt.Add(l.lockDuration)
}

// ContributionOf returns zero for unknown funders.
func (l *Ledger) ContributionOf(funder common.Address) Wei {
	return l.contributions[funder]
}

// Contributions returns a copy of the recorded entries.
func (l *Ledger) Contributions() map[common.Address]Wei {
	return maps.Clone(l.contributions)
}

// OracleLatestPrice reads the oracle without touching the ledger.
func (l *Ledger) OracleLatestPrice(ctx context.Context) (Price, error) {
	price, err := l.oracle.LatestPrice(ctx)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %w", ErrOracleFault, err)
	}
	return price, nil
}

// USDValue converts amount at the current oracle price.
func (l *Ledger) USDValue(ctx context.Context, amount Wei) (USD, error) {
	return l.usdValue(ctx, amount)
}

// Logs returns the events of all successful calls, oldest first.
func (l *Ledger) Logs() []Event {
	return append([]Event(nil), l.logs...)
}

// State copies the ledger's scalar fields; contributions are left out.
func (l *Ledger) State() State {
	return State{
		Owner:              l.owner,
		IntegrationAddress: l.integration,
		DeployedAt:         l.deployedAt,
		LockDuration:       l.lockDuration,
		WindowCloseTime:    l.WindowCloseTime(),
		Success:            l.success,
		Balance:            l.balance,
		MinimumUSD:         l.minimum,
		TargetUSD:          l.target,
	}
}

func (l *Ledger) windowClosed() bool {
	return l.now().After(l.WindowCloseTime())
}

func (l *Ledger) usdValue(ctx context.Context, amount Wei) (USD, error) {
	price, err := l.OracleLatestPrice(ctx)
	if err != nil {
		return USD{}, err
	}
	return price.Convert(amount)
}

func (l *Ledger) emit(e Event) {
	l.logs = append(l.logs, e)
}

// snapshot captures everything a settlement may change so that a failed
// payout can be undone, including effects of calls nested inside it.
type snapshot struct {
	owner         common.Address
	integration   common.Address
	success       bool
	balance       Wei
	contributions map[common.Address]Wei
	logs          int
}

func (l *Ledger) snapshot() snapshot {
	return snapshot{
		owner:         l.owner,
		integration:   l.integration,
		success:       l.success,
		balance:       l.balance,
		contributions: maps.Clone(l.contributions),
		logs:          len(l.logs),
	}
}

func (l *Ledger) restore(s snapshot) {
	l.owner = s.owner
	l.integration = s.integration
	l.success = s.success
	l.balance = s.balance
	l.contributions = s.contributions
	l.logs = l.logs[:s.logs]
}
