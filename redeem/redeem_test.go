package redeem_test

import (
	"errors"
	"testing"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/internal/bridgetest"
	"github.com/chainpoint/chainpoint-bridge/internal/btctest"
	"github.com/chainpoint/chainpoint-bridge/issue"
	"github.com/chainpoint/chainpoint-bridge/redeem"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payout = btctest.Address(7)

// setup issues 100000 tokens to alice against a vault holding 300000 collateral, leaving 100500 issued
func setup(t *testing.T) *bridgetest.Harness {
	h := bridgetest.New(t, bridgetest.Config())
	h.RegisterVault("vault", 300000, 1)
	h.Mint(types.CollateralCurrency, "alice", 1000)
	var r types.IssueRequest
	h.Must(func(ctx *core.Context) error {
		var err error
		r, err = issue.Request(ctx, "alice", "vault", 100000, 1)
		return err
	})
	proof := h.Pay(btctest.Address(1), 100500)
	h.Must(func(ctx *core.Context) error {
		_, err := issue.Execute(ctx, "alice", r.ID, proof)
		return err
	})
	require.Equal(t, uint64(100500), h.Vault("vault").Issued)
	return h
}

func request(t *testing.T, h *bridgetest.Harness, amount uint64) types.RedeemRequest {
	var r types.RedeemRequest
	h.Must(func(ctx *core.Context) error {
		var err error
		r, err = redeem.Request(ctx, "alice", "vault", amount, payout, 1)
		return err
	})
	return r
}

func execute(h *bridgetest.Harness, caller types.Account, id string, p types.PaymentProof) error {
	return h.Update(func(ctx *core.Context) error {
		_, err := redeem.Execute(ctx, caller, id, p)
		return err
	})
}

func cancel(h *bridgetest.Harness, caller types.Account, id string, reimburse bool) (types.RedeemRequest, error) {
	var r types.RedeemRequest
	err := h.Update(func(ctx *core.Context) error {
		var err error
		r, err = redeem.Cancel(ctx, caller, id, reimburse)
		return err
	})
	return r, err
}

func score(h *bridgetest.Harness, account types.Account) int64 {
	var s reputation.Score
	h.View(func(ctx *core.Context) error {
		var err error
		s, err = reputation.NewStoreSink(ctx.Store, ctx.Height).Score(account)
		return err
	})
	return s.Score
}

func TestRequestBurnsTokens(t *testing.T) {
	assert := assert.New(t)
	h := setup(t)
	r := request(t, h, 50000)

	assert.Equal(uint64(250), r.Fee)
	assert.Equal(uint64(49750), r.AmountBtc)
	assert.Equal(uint64(50000), h.Balance(types.WrappedCurrency, "alice"))
	assert.Equal(uint64(750), h.Balance(types.WrappedCurrency, "fee-pool"))
	assert.Equal(uint64(49750), h.Vault("vault").ToBeRedeemed)

	err := h.Update(func(ctx *core.Context) error {
		_, err := redeem.Request(ctx, "alice", "vault", 50000, payout, 1)
		return err
	})
	assert.True(errors.Is(err, types.ErrDuplicateRequest))
}

func TestRequestRejections(t *testing.T) {
	h := setup(t)
	for name, tc := range map[string]struct {
		requester types.Account
		amount    uint64
		address   string
		want      error
	}{
		"dust":           {"alice", 1000, payout, types.ErrAmountBelowDust},
		"bad address":    {"alice", 50000, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", types.ErrInvalidBitcoinAddress},
		"over committed": {"alice", 200000, payout, types.ErrInsufficientTokensCommitted},
		"without tokens": {"bob", 50000, payout, types.ErrInsufficientFunds},
	} {
		err := h.Update(func(ctx *core.Context) error {
			_, err := redeem.Request(ctx, tc.requester, "vault", tc.amount, tc.address, 9)
			return err
		})
		assert.True(t, errors.Is(err, tc.want), "%s: %v", name, err)
	}
	assert.Equal(t, uint64(0), h.Vault("vault").ToBeRedeemed)
	assert.Equal(t, uint64(100000), h.Balance(types.WrappedCurrency, "alice"))
}

func TestExecute(t *testing.T) {
	assert := assert.New(t)
	h := setup(t)
	r := request(t, h, 50000)

	short := h.Pay(payout, 49749)
	assert.True(errors.Is(execute(h, "vault", r.ID, short), types.ErrPaymentTooLow))

	proof := h.Pay(payout, 49750)
	assert.True(errors.Is(execute(h, "alice", r.ID, proof), types.ErrUnauthorizedCaller))
	require.NoError(t, execute(h, "vault", r.ID, proof))

	v := h.Vault("vault")
	assert.Equal(uint64(50750), v.Issued)
	assert.Equal(uint64(0), v.ToBeRedeemed)
	assert.Equal(int64(6), score(h, "vault"))

	assert.True(errors.Is(execute(h, "vault", r.ID, proof), types.ErrRequestCompleted))
	_, err := cancel(h, "alice", r.ID, true)
	assert.True(errors.Is(err, types.ErrRequestCompleted))
}

func TestExecuteAfterExpiry(t *testing.T) {
	h := setup(t)
	r := request(t, h, 50000)
	h.Advance(11)
	err := execute(h, "vault", r.ID, h.Pay(payout, 49750))
	assert.True(t, errors.Is(err, types.ErrCommitPeriodExpired))
}

func TestCancelReimburse(t *testing.T) {
	assert := assert.New(t)
	h := setup(t)
	r := request(t, h, 50000)

	_, err := cancel(h, "alice", r.ID, true)
	assert.True(errors.Is(err, types.ErrPeriodNotExpired))
	h.Advance(11)
	_, err = cancel(h, "bob", r.ID, true)
	assert.True(errors.Is(err, types.ErrUnauthorizedCaller))

	done, err := cancel(h, "alice", r.ID, true)
	require.NoError(t, err)
	// 49750 worth of collateral plus the 10% punishment fee
	assert.Equal(types.RedeemReimbursed{CancelledAt: 12, Reimbursed: 54725}, done.Status)
	assert.Equal(uint64(1000+54725), h.Balance(types.CollateralCurrency, "alice"))
	assert.Equal(uint64(50000), h.Balance(types.WrappedCurrency, "alice"), "burned tokens stay burned")

	v := h.Vault("vault")
	assert.Equal(uint64(300000-54725), v.Collateral)
	assert.Equal(uint64(50750), v.Issued)
	assert.Equal(uint64(0), v.ToBeRedeemed)
	assert.Equal(int64(2-10), score(h, "vault"))

	_, err = cancel(h, "alice", r.ID, false)
	assert.True(errors.Is(err, types.ErrRequestCancelled))
}

func TestCancelRetry(t *testing.T) {
	assert := assert.New(t)
	h := setup(t)
	r := request(t, h, 50000)
	h.Advance(11)

	done, err := cancel(h, "alice", r.ID, false)
	require.NoError(t, err)
	assert.Equal(types.RedeemRetried{CancelledAt: 12, Punishment: 4975}, done.Status)
	assert.Equal(uint64(99750), h.Balance(types.WrappedCurrency, "alice"), "tokens minted back, fee kept")
	assert.Equal(uint64(1000+4975), h.Balance(types.CollateralCurrency, "alice"))

	v := h.Vault("vault")
	assert.Equal(uint64(100500), v.Issued)
	assert.Equal(uint64(0), v.ToBeRedeemed)
	assert.Equal(uint64(300000-4975), v.Collateral)
}

// liquidate leaves the vault with 148508 residual collateral backing the 49750 pending redeem
func liquidate(t *testing.T, h *bridgetest.Harness) {
	h.SetRate("3")
	h.Must(func(ctx *core.Context) error {
		_, err := ctx.Liquidations.Liquidate("vault")
		return err
	})
	v := h.Vault("vault")
	require.Equal(t, uint64(148508), v.Collateral)
	require.Equal(t, uint64(49750), v.ResidualToBeRedeemed)
}

func TestExecuteAfterLiquidation(t *testing.T) {
	assert := assert.New(t)
	h := setup(t)
	r := request(t, h, 50000)
	liquidate(t, h)

	lv := h.LiquidationVault()
	assert.Equal(uint64(100500), lv.Issued)
	assert.Equal(uint64(49750), lv.ToBeRedeemed)
	assert.Equal(uint64(151492), lv.Collateral)

	require.NoError(t, execute(h, "vault", r.ID, h.Pay(payout, 49750)))
	lv = h.LiquidationVault()
	assert.Equal(uint64(50750), lv.Issued)
	assert.Equal(uint64(0), lv.ToBeRedeemed)
	v := h.Vault("vault")
	assert.Equal(uint64(0), v.ResidualToBeRedeemed)
	assert.Equal(uint64(0), v.Collateral)
	assert.Equal(uint64(148508), h.Balance(types.CollateralCurrency, "vault"), "paid redeem releases its residual")
}

func TestCancelAfterLiquidation(t *testing.T) {
	assert := assert.New(t)
	h := setup(t)
	r := request(t, h, 50000)
	liquidate(t, h)
	h.Advance(11)

	done, err := cancel(h, "alice", r.ID, false)
	require.NoError(t, err)
	assert.Equal(types.RedeemReimbursed{CancelledAt: 12, Reimbursed: 148508}, done.Status)
	assert.Equal(uint64(1000+148508), h.Balance(types.CollateralCurrency, "alice"))

	v := h.Vault("vault")
	assert.Equal(uint64(0), v.Collateral)
	assert.Equal(uint64(0), v.ResidualToBeRedeemed)
	lv := h.LiquidationVault()
	assert.Equal(uint64(50750), lv.Issued)
	assert.Equal(uint64(0), lv.ToBeRedeemed)
}

func TestResidualSharedAcrossRedeems(t *testing.T) {
	assert := assert.New(t)
	h := setup(t)
	paid := request(t, h, 25000)
	var unpaid types.RedeemRequest
	h.Must(func(ctx *core.Context) error {
		var err error
		unpaid, err = redeem.Request(ctx, "alice", "vault", 25000, payout, 2)
		return err
	})
	liquidate(t, h)

	require.NoError(t, execute(h, "vault", paid.ID, h.Pay(payout, 24875)))
	v := h.Vault("vault")
	assert.Equal(uint64(74254), v.Collateral)
	assert.Equal(uint64(24875), v.ResidualToBeRedeemed)
	assert.Equal(uint64(74254), h.Balance(types.CollateralCurrency, "vault"))

	h.Advance(11)
	done, err := cancel(h, "alice", unpaid.ID, false)
	require.NoError(t, err)
	status, ok := done.Status.(types.RedeemReimbursed)
	require.True(t, ok)
	assert.Equal(uint64(74254), status.Reimbursed, "only the cancelled redeem's share")
	assert.Equal(uint64(1000+74254), h.Balance(types.CollateralCurrency, "alice"))

	v = h.Vault("vault")
	assert.Equal(uint64(0), v.Collateral)
	assert.Equal(uint64(0), v.ResidualToBeRedeemed)
	assert.Equal(uint64(74254), h.Balance(types.CollateralCurrency, "vault"))
}
