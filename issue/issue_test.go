package issue_test

import (
	"errors"
	"testing"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/internal/bridgetest"
	"github.com/chainpoint/chainpoint-bridge/internal/btctest"
	"github.com/chainpoint/chainpoint-bridge/issue"
	"github.com/chainpoint/chainpoint-bridge/refund"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	amount = uint64(100000)
	fee    = uint64(500) // 0.5%
	total  = amount + fee
)

func setup(t *testing.T, collateral uint64) *bridgetest.Harness {
	h := bridgetest.New(t, bridgetest.Config())
	h.RegisterVault("vault", collateral, 1)
	h.Mint(types.CollateralCurrency, "alice", 1000)
	return h
}

func request(h *bridgetest.Harness, nonce uint64, amount uint64) types.IssueRequest {
	var r types.IssueRequest
	h.Must(func(ctx *core.Context) error {
		var err error
		r, err = issue.Request(ctx, "alice", "vault", amount, nonce)
		return err
	})
	return r
}

func execute(h *bridgetest.Harness, executor types.Account, id string, p types.PaymentProof) (types.IssueRequest, error) {
	var r types.IssueRequest
	err := h.Update(func(ctx *core.Context) error {
		var err error
		r, err = issue.Execute(ctx, executor, id, p)
		return err
	})
	return r, err
}

func cancel(h *bridgetest.Harness, id string) (types.IssueRequest, error) {
	var r types.IssueRequest
	err := h.Update(func(ctx *core.Context) error {
		var err error
		r, err = issue.Cancel(ctx, "anyone", id)
		return err
	})
	return r, err
}

func score(h *bridgetest.Harness, account types.Account) reputation.Score {
	var s reputation.Score
	h.View(func(ctx *core.Context) error {
		var err error
		s, err = reputation.NewStoreSink(ctx.Store, ctx.Height).Score(account)
		return err
	})
	return s
}

func TestRequestReservesCapacity(t *testing.T) {
	assert := assert.New(t)
	h := setup(t, 300000)
	r := request(h, 1, amount)

	assert.Equal(types.RequestID("alice", "vault", 1), r.ID)
	assert.Equal(fee, r.Fee)
	assert.Equal(uint64(5), r.Griefing)
	assert.Equal(btctest.Address(1), r.BtcAddress)
	assert.Equal(int64(1), r.OpenedAt)
	assert.True(r.IsPending())
	assert.Equal(total, h.Vault("vault").ToBeIssued)
	assert.Equal(uint64(995), h.Balance(types.CollateralCurrency, "alice"))
	assert.Equal(uint64(5), h.Balance(types.CollateralCurrency, "escrow"))

	err := h.Update(func(ctx *core.Context) error {
		_, err := issue.Request(ctx, "alice", "vault", amount, 1)
		return err
	})
	assert.True(errors.Is(err, types.ErrDuplicateRequest))

	err = h.Update(func(ctx *core.Context) error {
		_, err := issue.Request(ctx, "alice", "vault", 150000, 2)
		return err
	})
	assert.True(errors.Is(err, types.ErrVaultCapacityExceeded))

	err = h.Update(func(ctx *core.Context) error {
		_, err := issue.Request(ctx, "alice", "vault", 999, 3)
		return err
	})
	assert.True(errors.Is(err, types.ErrAmountBelowDust))

	err = h.Update(func(ctx *core.Context) error {
		_, err := issue.Request(ctx, "alice", "nobody", amount, 4)
		return err
	})
	assert.True(errors.Is(err, types.ErrVaultNotFound))

	var ids []string
	h.View(func(ctx *core.Context) error {
		var err error
		ids, err = issue.ByRequester(ctx, "alice")
		return err
	})
	assert.Equal([]string{r.ID}, ids)
}

func TestFailedRequestLeavesNoTrace(t *testing.T) {
	h := setup(t, 300000)
	err := h.Update(func(ctx *core.Context) error {
		_, err := issue.Request(ctx, "broke", "vault", amount, 1)
		return err
	})
	assert.True(t, errors.Is(err, types.ErrInsufficientFunds))
	assert.Equal(t, uint64(0), h.Vault("vault").ToBeIssued)
	h.View(func(ctx *core.Context) error {
		_, err := issue.Get(ctx, types.RequestID("broke", "vault", 1))
		assert.True(t, errors.Is(err, types.ErrRequestNotFound))
		return nil
	})
}

func TestExecuteExactPayment(t *testing.T) {
	assert := assert.New(t)
	h := setup(t, 300000)
	r := request(h, 1, amount)

	proof := h.Pay(btctest.Address(1), int64(total))
	done, err := execute(h, "alice", r.ID, proof)
	require.NoError(t, err)

	status, ok := done.Status.(types.IssueCompleted)
	require.True(t, ok)
	assert.Equal(total, status.Paid)
	assert.Equal(amount, status.Amount)
	assert.Empty(status.RefundID)

	v := h.Vault("vault")
	assert.Equal(total, v.Issued)
	assert.Equal(uint64(0), v.ToBeIssued)
	assert.Equal(amount, h.Balance(types.WrappedCurrency, "alice"))
	assert.Equal(fee, h.Balance(types.WrappedCurrency, "fee-pool"))
	assert.Equal(uint64(1000), h.Balance(types.CollateralCurrency, "alice"), "griefing collateral refunded")
	assert.Equal(int64(1), score(h, "alice").Score)
	assert.Equal(int64(2), score(h, "vault").Score)

	_, err = execute(h, "alice", r.ID, proof)
	assert.True(errors.Is(err, types.ErrRequestCompleted))
}

func TestPaymentToWrongAddressRejected(t *testing.T) {
	h := setup(t, 300000)
	r := request(h, 1, amount)
	_, err := execute(h, "alice", r.ID, h.Pay(btctest.Address(2), int64(total)))
	assert.True(t, errors.Is(err, types.ErrNoMatchingOutput))
	assert.Equal(t, total, h.Vault("vault").ToBeIssued)
}

func TestUnconfirmedPaymentRejected(t *testing.T) {
	h := setup(t, 300000)
	r := request(h, 1, amount)
	tx := h.PayTx(btctest.Output{Address: btctest.Address(1), Value: int64(total)})
	h.Chain.Mine(tx)
	h.Relay()
	_, err := execute(h, "alice", r.ID, h.Chain.Proof(tx))
	assert.True(t, errors.Is(err, types.ErrBlockNotStable))
}

func TestTransactionSettlesOnce(t *testing.T) {
	h := setup(t, 300000)
	first := request(h, 1, 50000)
	second := request(h, 2, 50000)
	proof := h.Pay(btctest.Address(1), 50250)
	_, err := execute(h, "alice", first.ID, proof)
	require.NoError(t, err)
	_, err = execute(h, "alice", second.ID, proof)
	assert.True(t, errors.Is(err, types.ErrTransactionAlreadyUsed))
}

func TestOverpaymentOpensRefund(t *testing.T) {
	assert := assert.New(t)
	h := setup(t, 400000)
	r := request(h, 1, amount)

	proof := h.Pay(btctest.Address(1), int64(2*total))
	done, err := execute(h, "alice", r.ID, proof)
	require.NoError(t, err)
	status := done.Status.(types.IssueCompleted)
	require.NotEmpty(t, status.RefundID)
	assert.Equal(amount, h.Balance(types.WrappedCurrency, "alice"))

	var rf types.RefundRequest
	h.View(func(ctx *core.Context) error {
		var err error
		rf, err = refund.Get(ctx, status.RefundID)
		return err
	})
	assert.Equal(total, rf.Amount)
	assert.Equal(r.ID, rf.IssueID)
	assert.True(rf.IsPending())

	h.Must(func(ctx *core.Context) error {
		_, err := refund.Execute(ctx, "alice", rf.ID, proof)
		return err
	})
	assert.Equal(amount+total, h.Balance(types.WrappedCurrency, "alice"))
	assert.Equal(2*total, h.Vault("vault").Issued)

	err = h.Update(func(ctx *core.Context) error {
		_, err := refund.Execute(ctx, "alice", rf.ID, proof)
		return err
	})
	assert.True(errors.Is(err, types.ErrRefundAlreadyExecuted))
}

func TestUnderpayment(t *testing.T) {
	assert := assert.New(t)
	h := setup(t, 300000)
	r := request(h, 1, amount)
	proof := h.Pay(btctest.Address(1), int64(total/2))

	_, err := execute(h, "bob", r.ID, proof)
	assert.True(errors.Is(err, types.ErrPaymentTooLow), "third parties cannot execute underpaid requests")

	done, err := execute(h, "alice", r.ID, proof)
	require.NoError(t, err)
	status := done.Status.(types.IssueCompleted)
	assert.Equal(uint64(50000), status.Amount)
	assert.Equal(uint64(250), status.Fee)

	v := h.Vault("vault")
	assert.Equal(total/2, v.Issued)
	assert.Equal(uint64(0), v.ToBeIssued)
	assert.Equal(uint64(50000), h.Balance(types.WrappedCurrency, "alice"))
	// half of the 5 unit griefing collateral, rounded down, goes to the vault
	assert.Equal(uint64(2), h.Balance(types.CollateralCurrency, "vault"))
	assert.Equal(uint64(998), h.Balance(types.CollateralCurrency, "alice"))
}

func TestExpiryAndCancel(t *testing.T) {
	assert := assert.New(t)
	h := setup(t, 300000)
	r := request(h, 1, amount)

	_, err := cancel(h, r.ID)
	assert.True(errors.Is(err, types.ErrPeriodNotExpired))

	h.Advance(11)
	_, err = execute(h, "alice", r.ID, h.Pay(btctest.Address(1), int64(total)))
	assert.True(errors.Is(err, types.ErrCommitPeriodExpired))
	h.View(func(ctx *core.Context) error {
		pending, err := issue.Get(ctx, r.ID)
		assert.True(pending.IsPending(), "expiry alone does not cancel")
		return err
	})

	done, err := cancel(h, r.ID)
	require.NoError(t, err)
	assert.Equal(types.IssueCancelled{CancelledAt: 12, Slashed: 5}, done.Status)
	assert.Equal(uint64(0), h.Vault("vault").ToBeIssued)
	assert.Equal(uint64(5), h.Balance(types.CollateralCurrency, "vault"))
	assert.Equal(uint64(995), h.Balance(types.CollateralCurrency, "alice"))

	_, err = cancel(h, r.ID)
	assert.True(errors.Is(err, types.ErrRequestCancelled))
}

func TestExecuteOnLastHeightOfPeriod(t *testing.T) {
	h := setup(t, 300000)
	r := request(h, 1, amount)
	h.Advance(10)
	_, err := execute(h, "alice", r.ID, h.Pay(btctest.Address(1), int64(total)))
	assert.NoError(t, err)
}

func liquidate(t *testing.T, h *bridgetest.Harness) {
	h.Must(func(ctx *core.Context) error {
		_, err := ctx.Liquidations.Liquidate("vault")
		return err
	})
	require.False(t, h.Vault("vault").IsActive())
}

func TestLiquidationRedirectsInFlightIssues(t *testing.T) {
	assert := assert.New(t)
	h := setup(t, 300000)
	first := request(h, 1, amount)
	second := request(h, 2, 50000)
	assert.Equal(uint64(992), h.Balance(types.CollateralCurrency, "alice"))

	h.SetRate("2")
	liquidate(t, h)
	lv := h.LiquidationVault()
	assert.Equal(total+50250, lv.ToBeIssued)

	err := h.Update(func(ctx *core.Context) error {
		_, err := issue.Request(ctx, "alice", "vault", amount, 3)
		return err
	})
	assert.True(errors.Is(err, types.ErrVaultNotActive))

	_, err = execute(h, "alice", second.ID, h.Pay(btctest.Address(1), 50250))
	require.NoError(t, err)
	lv = h.LiquidationVault()
	assert.Equal(uint64(50250), lv.Issued)
	assert.Equal(total, lv.ToBeIssued)
	assert.Equal(uint64(50000), h.Balance(types.WrappedCurrency, "alice"))

	h.Advance(11)
	done, err := cancel(h, first.ID)
	require.NoError(t, err)
	assert.Equal(uint64(0), done.Status.(types.IssueCancelled).Slashed)
	assert.Equal(uint64(0), h.LiquidationVault().ToBeIssued)
	assert.Equal(uint64(1000), h.Balance(types.CollateralCurrency, "alice"), "griefing returned when the vault was liquidated")
	assert.Equal(uint64(0), h.Vault("vault").ToBeIssued)
}
