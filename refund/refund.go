package refund

import (
	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/vault"
)

const prefix = "refund"

func Get(ctx *core.Context, id string) (types.RefundRequest, error) {
	var r types.RefundRequest
	found, err := ctx.Records.Get(database.Key(prefix, id), &r)
	if err != nil {
		return r, err
	}
	if !found {
		return r, types.Wrap(types.ErrRequestNotFound, "refund %s", id)
	}
	return r, nil
}

func put(ctx *core.Context, r types.RefundRequest) error {
	return ctx.Records.Put(database.Key(prefix, r.ID), r)
}

// Create opens a refund for the part of an issue payment above what was requested.
// The configured refund fee is carved out of the excess and credited to the vault.
func Create(ctx *core.Context, issue types.IssueRequest, excess uint64, btcTxID string) (types.RefundRequest, error) {
	fee, err := vault.MulRat(excess, ctx.Settings.Fees.Refund)
	if err != nil {
		return types.RefundRequest{}, err
	}
	r := types.RefundRequest{
		ID:         types.RequestID(issue.Requester, types.Account(issue.ID), issue.Nonce),
		IssueID:    issue.ID,
		Requester:  issue.Requester,
		Vault:      issue.Vault,
		Amount:     excess,
		Fee:        fee,
		BtcAddress: issue.BtcAddress,
		BtcTxID:    btcTxID,
		OpenedAt:   ctx.Height,
		Status:     types.RefundPending{},
	}
	if found, err := ctx.Records.Get(database.Key(prefix, r.ID), &types.RefundRequest{}); err != nil {
		return r, err
	} else if found {
		return r, types.Wrap(types.ErrDuplicateRequest, "refund %s", r.ID)
	}
	if err := put(ctx, r); err != nil {
		return r, err
	}
	ctx.Logger.Info("Refund opened", "refund", r.ID, "issue", issue.ID, "amount", excess, "fee", fee)
	return r, nil
}

// Execute settles a refund. The payment may be the overpaying issue transaction itself or a new,
// unused transaction paying at least the refund amount to the same address. The excess is issued
// against the vault and minted to the requester, less the vault's refund fee.
func Execute(ctx *core.Context, caller types.Account, id string, payment types.PaymentProof) (types.RefundRequest, error) {
	r, err := Get(ctx, id)
	if err != nil {
		return r, err
	}
	if !r.IsPending() {
		return r, types.Wrap(types.ErrRefundAlreadyExecuted, "refund %s", id)
	}
	pay, err := ctx.Proofs.VerifyPayment(payment, r.BtcAddress)
	if err != nil {
		return r, err
	}
	if pay.TxID != r.BtcTxID {
		if pay.Paid < r.Amount {
			return r, types.Wrap(types.ErrPaymentTooLow, "paid %d of %d", pay.Paid, r.Amount)
		}
		if err := ctx.MarkTxUsed(pay.TxID, r.ID); err != nil {
			return r, err
		}
	}
	if err := ctx.Vaults.IssueExcess(r.Vault, r.Amount); err != nil {
		return r, err
	}
	if err := ctx.Tokens.Mint(r.Requester, r.Amount-r.Fee); err != nil {
		return r, err
	}
	if r.Fee > 0 {
		if err := ctx.Tokens.Mint(r.Vault, r.Fee); err != nil {
			return r, err
		}
	}
	r.Status = types.RefundCompleted{BtcTxID: pay.TxID, Minted: r.Amount - r.Fee, Fee: r.Fee, ExecutedAt: ctx.Height}
	if err := put(ctx, r); err != nil {
		return r, err
	}
	_ = ctx.Reputation.Credit(r.Vault, reputation.RefundHonored)
	ctx.Logger.Info("Refund executed", "refund", id, "caller", caller, "minted", r.Amount-r.Fee)
	return r, nil
}
