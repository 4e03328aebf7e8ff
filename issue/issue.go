package issue

import (
	"errors"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/ledger"
	"github.com/chainpoint/chainpoint-bridge/refund"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/vault"
	"github.com/ethereum/go-ethereum/common/math"
)

const prefix = "issue"

func Get(ctx *core.Context, id string) (types.IssueRequest, error) {
	var r types.IssueRequest
	found, err := ctx.Records.Get(database.Key(prefix, id), &r)
	if err != nil {
		return r, err
	}
	if !found {
		return r, types.Wrap(types.ErrRequestNotFound, "issue %s", id)
	}
	return r, nil
}

// ByRequester lists the ids of every issue opened by account
func ByRequester(ctx *core.Context, account types.Account) ([]string, error) {
	return ctx.Records.GetArray(database.Key("issues", string(account)))
}

func put(ctx *core.Context, r types.IssueRequest) error {
	return ctx.Records.Put(database.Key(prefix, r.ID), r)
}

func pending(r types.IssueRequest) error {
	switch r.Status.(type) {
	case types.IssueCompleted:
		return types.Wrap(types.ErrRequestCompleted, "issue %s", r.ID)
	case types.IssueCancelled:
		return types.Wrap(types.ErrRequestCancelled, "issue %s", r.ID)
	}
	return nil
}

func transfer(l ledger.Ledger, from, to types.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return l.Transfer(from, to, amount)
}

func mint(l ledger.Ledger, to types.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return l.Mint(to, amount)
}

// Request reserves amount plus fee on the vault and locks the requester's griefing collateral
func Request(ctx *core.Context, requester types.Account, vaultID types.Account, amount uint64, nonce uint64) (types.IssueRequest, error) {
	fees := ctx.Settings.Fees
	if amount < fees.IssueDust {
		return types.IssueRequest{}, types.Wrap(types.ErrAmountBelowDust, "%d below %d", amount, fees.IssueDust)
	}
	id := types.RequestID(requester, vaultID, nonce)
	if _, err := Get(ctx, id); err == nil {
		return types.IssueRequest{}, types.Wrap(types.ErrDuplicateRequest, "issue %s", id)
	} else if !errors.Is(err, types.ErrRequestNotFound) {
		return types.IssueRequest{}, err
	}
	v, err := ctx.Vaults.Active(vaultID)
	if err != nil {
		return types.IssueRequest{}, err
	}
	fee, err := vault.MulRat(amount, fees.Issue)
	if err != nil {
		return types.IssueRequest{}, err
	}
	total, overflow := math.SafeAdd(amount, fee)
	if overflow {
		return types.IssueRequest{}, types.ErrArithmeticOverflow
	}
	rate, err := ctx.Vaults.Rate()
	if err != nil {
		return types.IssueRequest{}, err
	}
	griefing, err := vault.RequiredCollateral(amount, rate, fees.IssueGriefing)
	if err != nil {
		return types.IssueRequest{}, err
	}
	if err := ctx.Vaults.ReserveToBeIssued(vaultID, total); err != nil {
		if errors.Is(err, types.ErrExceedsCapacity) {
			return types.IssueRequest{}, types.Wrap(types.ErrVaultCapacityExceeded, "%s", err.Error())
		}
		return types.IssueRequest{}, err
	}
	if err := transfer(ctx.Collateral, requester, fees.Escrow, griefing); err != nil {
		return types.IssueRequest{}, err
	}
	r := types.IssueRequest{
		ID:         id,
		Requester:  requester,
		Vault:      vaultID,
		Amount:     amount,
		Fee:        fee,
		Griefing:   griefing,
		BtcAddress: v.BtcAddress,
		OpenedAt:   ctx.Height,
		Period:     ctx.Settings.Requests.IssuePeriod,
		Nonce:      nonce,
		Status:     types.IssuePending{},
	}
	if err := put(ctx, r); err != nil {
		return r, err
	}
	if err := ctx.Records.Append(database.Key("issues", string(requester)), id); err != nil {
		return r, err
	}
	ctx.Logger.Info("Issue requested", "issue", id, "vault", vaultID, "amount", amount, "fee", fee, "griefing", griefing)
	return r, nil
}

// Execute mints tokens for a proven payment to the vault. An underpayment is accepted only when the
// requester executes it, in which case tokens are issued for what was paid and the unpaid share of the
// griefing collateral goes to the vault. An overpayment opens a refund for the excess.
func Execute(ctx *core.Context, executor types.Account, id string, payment types.PaymentProof) (types.IssueRequest, error) {
	r, err := Get(ctx, id)
	if err != nil {
		return r, err
	}
	if err := pending(r); err != nil {
		return r, err
	}
	if r.Expired(ctx.Height) {
		return r, types.Wrap(types.ErrCommitPeriodExpired, "issue %s expired at %d", id, r.OpenedAt+r.Period)
	}
	pay, err := ctx.Proofs.VerifyPayment(payment, r.BtcAddress)
	if err != nil {
		return r, err
	}
	expected := r.Total()
	if pay.Paid < expected && executor != r.Requester {
		return r, types.Wrap(types.ErrPaymentTooLow, "paid %d of %d", pay.Paid, expected)
	}
	if err := ctx.MarkTxUsed(pay.TxID, id); err != nil {
		return r, err
	}
	fees := ctx.Settings.Fees
	v, err := ctx.Vaults.Get(r.Vault)
	if err != nil {
		return r, err
	}

	done := types.IssueCompleted{BtcTxID: pay.TxID, Paid: pay.Paid, Amount: r.Amount, Fee: r.Fee, Executor: executor, ExecutedAt: ctx.Height}
	griefingBack := r.Griefing
	if pay.Paid < expected {
		done.Amount, err = vault.MulDiv(pay.Paid, r.Amount, expected)
		if err != nil {
			return r, err
		}
		done.Fee = pay.Paid - done.Amount
		slashed, err := vault.MulDiv(r.Griefing, expected-pay.Paid, expected)
		if err != nil {
			return r, err
		}
		if v.IsActive() {
			if err := transfer(ctx.Collateral, fees.Escrow, r.Vault, slashed); err != nil {
				return r, err
			}
			griefingBack -= slashed
		}
		if err := ctx.Vaults.ConvertToIssued(r.Vault, pay.Paid); err != nil {
			return r, err
		}
		if err := ctx.Vaults.ReleaseToBeIssued(r.Vault, expected-pay.Paid); err != nil {
			return r, err
		}
	} else if err := ctx.Vaults.ConvertToIssued(r.Vault, expected); err != nil {
		return r, err
	}
	if err := mint(ctx.Tokens, r.Requester, done.Amount); err != nil {
		return r, err
	}
	if err := mint(ctx.Tokens, fees.FeePool, done.Fee); err != nil {
		return r, err
	}
	if err := transfer(ctx.Collateral, fees.Escrow, r.Requester, griefingBack); err != nil {
		return r, err
	}
	if pay.Paid > expected {
		rf, err := refund.Create(ctx, r, pay.Paid-expected, pay.TxID)
		if err != nil {
			return r, err
		}
		done.RefundID = rf.ID
	}

	r.Status = done
	if err := put(ctx, r); err != nil {
		return r, err
	}
	_ = ctx.Reputation.Credit(executor, reputation.IssueProofSubmitted)
	_ = ctx.Reputation.Credit(r.Vault, reputation.IssueHonored)
	ctx.Logger.Info("Issue executed", "issue", id, "tx", pay.TxID, "paid", pay.Paid, "minted", done.Amount, "refund", done.RefundID)
	return r, nil
}

// Cancel closes an expired issue. The griefing collateral compensates the vault for the locked capacity,
// unless the vault was liquidated meanwhile, in which case the requester gets it back.
func Cancel(ctx *core.Context, caller types.Account, id string) (types.IssueRequest, error) {
	r, err := Get(ctx, id)
	if err != nil {
		return r, err
	}
	if err := pending(r); err != nil {
		return r, err
	}
	if !r.Expired(ctx.Height) {
		return r, types.Wrap(types.ErrPeriodNotExpired, "issue %s open until %d", id, r.OpenedAt+r.Period)
	}
	v, err := ctx.Vaults.Get(r.Vault)
	if err != nil {
		return r, err
	}
	if err := ctx.Vaults.ReleaseToBeIssued(r.Vault, r.Total()); err != nil {
		return r, err
	}
	cancelled := types.IssueCancelled{CancelledAt: ctx.Height}
	recipient := r.Requester
	if v.IsActive() {
		recipient = r.Vault
		cancelled.Slashed = r.Griefing
	}
	if err := transfer(ctx.Collateral, ctx.Settings.Fees.Escrow, recipient, r.Griefing); err != nil {
		return r, err
	}
	r.Status = cancelled
	if err := put(ctx, r); err != nil {
		return r, err
	}
	ctx.Logger.Info("Issue cancelled", "issue", id, "caller", caller, "griefing_to", recipient)
	return r, nil
}
