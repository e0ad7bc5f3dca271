package escrow

import (
	"context"
	"testing"
	"time"

	"fundme/internal/fundme"
	"fundme/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	funder = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newLocal(t *testing.T, now *time.Time) (*LocalClient, *Payouts) {
	t.Helper()
	payouts := NewPayouts()
	ledger, err := fundme.New(fundme.Config{
		Owner:        owner,
		LockDuration: time.Hour,
		Oracle:       oracle.NewStaticDollars(8, 2000),
		Payer:        payouts,
		MinimumUSD:   fundme.USDFromDollars(1),
		TargetUSD:    fundme.USDFromDollars(600),
		Now:          func() time.Time { return *now },
	})
	require.NoError(t, err)
	return NewLocalClient(ledger), payouts
}

func mustEther(t *testing.T, s string) fundme.Wei {
	t.Helper()
	w, err := fundme.ParseEther(s)
	require.NoError(t, err)
	return w
}

func TestLocalClientFundAndGetFund(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	client, payouts := newLocal(t, &now)

	res, err := client.Fund(ctx, FundRequest{Caller: funder, Amount: mustEther(t, "0.5")})
	require.NoError(t, err)
	assert.Len(t, res.TxHash, 66)

	got, err := client.ContributionOf(ctx, funder)
	require.NoError(t, err)
	assert.Equal(t, mustEther(t, "0.5"), got)

	withdraw, err := client.GetFund(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, withdraw.Owner)
	assert.Equal(t, mustEther(t, "0.5"), withdraw.Amount)
	assert.NotEqual(t, res.TxHash, withdraw.TxHash)
	assert.Equal(t, mustEther(t, "0.5"), payouts.PaidTo(owner))

	status, err := client.Campaign(ctx)
	require.NoError(t, err)
	assert.True(t, status.Success)
	assert.True(t, status.Balance.IsZero())
	assert.Equal(t, now.Add(time.Hour), status.WindowCloseTime)
}

func TestLocalClientRejectionsKeepNonce(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	a, _ := newLocal(t, &now)
	b, _ := newLocal(t, &now)

	_, err := a.GetFund(ctx, funder)
	require.ErrorIs(t, err, fundme.ErrUnauthorized)

	first, err := a.Fund(ctx, FundRequest{Caller: funder, Amount: mustEther(t, "0.1")})
	require.NoError(t, err)
	second, err := b.Fund(ctx, FundRequest{Caller: funder, Amount: mustEther(t, "0.1")})
	require.NoError(t, err)
	assert.Equal(t, first.TxHash, second.TxHash)
}

func TestLocalClientRefund(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	client, payouts := newLocal(t, &now)

	_, err := client.Fund(ctx, FundRequest{Caller: funder, Amount: mustEther(t, "0.1")})
	require.NoError(t, err)

	_, err = client.Refund(ctx, funder)
	require.ErrorIs(t, err, fundme.ErrWindowNotClosed)

	now = now.Add(2 * time.Hour)
	res, err := client.Refund(ctx, funder)
	require.NoError(t, err)
	assert.Equal(t, funder, res.Funder)
	assert.Equal(t, mustEther(t, "0.1"), res.Amount)
	assert.Equal(t, mustEther(t, "0.1"), payouts.PaidTo(funder))

	_, err = client.Refund(ctx, funder)
	require.ErrorIs(t, err, fundme.ErrNoContribution)
}

func TestLocalClientAdmin(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	client, _ := newLocal(t, &now)
	token := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	_, err := client.SetFunderAmount(ctx, SetFunderAmountRequest{Caller: token, Funder: funder, Amount: fundme.NewWei(1)})
	require.ErrorIs(t, err, fundme.ErrUnauthorized)

	_, err = client.SetIntegrationAddress(ctx, owner, token)
	require.NoError(t, err)
	_, err = client.SetFunderAmount(ctx, SetFunderAmountRequest{Caller: token, Funder: funder, Amount: fundme.NewWei(7)})
	require.NoError(t, err)
	got, err := client.ContributionOf(ctx, funder)
	require.NoError(t, err)
	assert.Equal(t, fundme.NewWei(7), got)

	_, err = client.TransferOwner(ctx, owner, funder)
	require.NoError(t, err)
	status, err := client.Campaign(ctx)
	require.NoError(t, err)
	assert.Equal(t, funder, status.Owner)
	assert.Equal(t, token, status.IntegrationAddress)
}

func TestLocalClientUSDValue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	client, _ := newLocal(t, &now)

	usd, err := client.USDValue(context.Background(), mustEther(t, "1"))
	require.NoError(t, err)
	assert.Equal(t, fundme.USDFromDollars(2000), usd)
}
