package redeem

import (
	"errors"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/proof"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/vault"
	"github.com/ethereum/go-ethereum/common/math"
)

const prefix = "redeem"

func Get(ctx *core.Context, id string) (types.RedeemRequest, error) {
	var r types.RedeemRequest
	found, err := ctx.Records.Get(database.Key(prefix, id), &r)
	if err != nil {
		return r, err
	}
	if !found {
		return r, types.Wrap(types.ErrRequestNotFound, "redeem %s", id)
	}
	return r, nil
}

// ByRequester lists the ids of every redeem opened by account
func ByRequester(ctx *core.Context, account types.Account) ([]string, error) {
	return ctx.Records.GetArray(database.Key("redeems", string(account)))
}

func put(ctx *core.Context, r types.RedeemRequest) error {
	return ctx.Records.Put(database.Key(prefix, r.ID), r)
}

func pending(r types.RedeemRequest) error {
	switch r.Status.(type) {
	case types.RedeemCompleted:
		return types.Wrap(types.ErrRequestCompleted, "redeem %s", r.ID)
	case types.RedeemReimbursed, types.RedeemRetried:
		return types.Wrap(types.ErrRequestCancelled, "redeem %s", r.ID)
	}
	return nil
}

// Request burns amount tokens of the requester, less the redeem fee which goes to the fee pool, and
// commits the vault to pay the burned amount in BTC to btcAddress
func Request(ctx *core.Context, requester types.Account, vaultID types.Account, amount uint64, btcAddress string, nonce uint64) (types.RedeemRequest, error) {
	fees := ctx.Settings.Fees
	fee, err := vault.MulRat(amount, fees.Redeem)
	if err != nil {
		return types.RedeemRequest{}, err
	}
	amountBtc, underflow := math.SafeSub(amount, fee)
	if underflow || amountBtc < fees.RedeemDust {
		return types.RedeemRequest{}, types.Wrap(types.ErrAmountBelowDust, "%d below %d", amountBtc, fees.RedeemDust)
	}
	if _, err := proof.ValidateAddress(btcAddress, ctx.Settings.Relay.Chain); err != nil {
		return types.RedeemRequest{}, err
	}
	id := types.RequestID(requester, vaultID, nonce)
	if _, err := Get(ctx, id); err == nil {
		return types.RedeemRequest{}, types.Wrap(types.ErrDuplicateRequest, "redeem %s", id)
	} else if !errors.Is(err, types.ErrRequestNotFound) {
		return types.RedeemRequest{}, err
	}
	if err := ctx.Vaults.ReserveToBeRedeemed(vaultID, amountBtc); err != nil {
		return types.RedeemRequest{}, err
	}
	if fee > 0 {
		if err := ctx.Tokens.Transfer(requester, fees.FeePool, fee); err != nil {
			return types.RedeemRequest{}, err
		}
	}
	if err := ctx.Tokens.Burn(requester, amountBtc); err != nil {
		return types.RedeemRequest{}, err
	}
	r := types.RedeemRequest{
		ID:         id,
		Requester:  requester,
		Vault:      vaultID,
		AmountBtc:  amountBtc,
		Fee:        fee,
		BtcAddress: btcAddress,
		OpenedAt:   ctx.Height,
		Period:     ctx.Settings.Requests.RedeemPeriod,
		Nonce:      nonce,
		Status:     types.RedeemPending{},
	}
	if err := put(ctx, r); err != nil {
		return r, err
	}
	if err := ctx.Records.Append(database.Key("redeems", string(requester)), id); err != nil {
		return r, err
	}
	ctx.Logger.Info("Redeem requested", "redeem", id, "vault", vaultID, "burned", amountBtc, "fee", fee)
	return r, nil
}

// Execute settles a redeem once the vault proves it paid the requester in time
func Execute(ctx *core.Context, caller types.Account, id string, payment types.PaymentProof) (types.RedeemRequest, error) {
	r, err := Get(ctx, id)
	if err != nil {
		return r, err
	}
	if err := pending(r); err != nil {
		return r, err
	}
	if caller != r.Vault {
		return r, types.Wrap(types.ErrUnauthorizedCaller, "only vault %s executes redeem %s", r.Vault, id)
	}
	if r.Expired(ctx.Height) {
		return r, types.Wrap(types.ErrCommitPeriodExpired, "redeem %s expired at %d", id, r.OpenedAt+r.Period)
	}
	pay, err := ctx.Proofs.VerifyPayment(payment, r.BtcAddress)
	if err != nil {
		return r, err
	}
	if pay.Paid < r.AmountBtc {
		return r, types.Wrap(types.ErrPaymentTooLow, "paid %d of %d", pay.Paid, r.AmountBtc)
	}
	if err := ctx.MarkTxUsed(pay.TxID, id); err != nil {
		return r, err
	}
	if err := ctx.Vaults.ConvertToRedeemed(r.Vault, r.AmountBtc); err != nil {
		return r, err
	}
	if _, err := ctx.Vaults.SettleResidual(r.Vault, r.AmountBtc, r.Vault); err != nil {
		return r, err
	}
	r.Status = types.RedeemCompleted{BtcTxID: pay.TxID, Paid: pay.Paid, ExecutedAt: ctx.Height}
	if err := put(ctx, r); err != nil {
		return r, err
	}
	_ = ctx.Reputation.Credit(r.Vault, reputation.RedeemHonored)
	ctx.Logger.Info("Redeem executed", "redeem", id, "tx", pay.TxID, "paid", pay.Paid)
	return r, nil
}

// Cancel compensates the requester of an expired redeem from the vault's collateral. With reimburse the
// requester takes collateral worth the redeemed amount plus the punishment fee and the vault keeps the BTC.
// Otherwise the tokens are minted back and the vault pays only the punishment fee. Redeems of a
// liquidated vault are always reimbursed from the collateral it retained for them.
func Cancel(ctx *core.Context, caller types.Account, id string, reimburse bool) (types.RedeemRequest, error) {
	r, err := Get(ctx, id)
	if err != nil {
		return r, err
	}
	if err := pending(r); err != nil {
		return r, err
	}
	if caller != r.Requester {
		return r, types.Wrap(types.ErrUnauthorizedCaller, "only %s cancels redeem %s", r.Requester, id)
	}
	if !r.Expired(ctx.Height) {
		return r, types.Wrap(types.ErrPeriodNotExpired, "redeem %s open until %d", id, r.OpenedAt+r.Period)
	}
	v, err := ctx.Vaults.Get(r.Vault)
	if err != nil {
		return r, err
	}

	if !v.IsActive() {
		paid, err := ctx.Vaults.SettleResidual(r.Vault, r.AmountBtc, r.Requester)
		if err != nil {
			return r, err
		}
		if err := ctx.Vaults.ConvertToRedeemed(r.Vault, r.AmountBtc); err != nil {
			return r, err
		}
		r.Status = types.RedeemReimbursed{CancelledAt: ctx.Height, Reimbursed: paid}
	} else {
		rate, err := ctx.Vaults.Rate()
		if err != nil {
			return r, err
		}
		worth, err := vault.CollateralFor(r.AmountBtc, rate)
		if err != nil {
			return r, err
		}
		punishment, err := vault.MulRat(worth, ctx.Settings.Fees.Punishment)
		if err != nil {
			return r, err
		}
		if reimburse {
			owed, overflow := math.SafeAdd(worth, punishment)
			if overflow {
				return r, types.ErrArithmeticOverflow
			}
			paid, err := ctx.Vaults.Slash(r.Vault, r.Requester, owed)
			if err != nil {
				return r, err
			}
			if err := ctx.Vaults.ConvertToRedeemed(r.Vault, r.AmountBtc); err != nil {
				return r, err
			}
			r.Status = types.RedeemReimbursed{CancelledAt: ctx.Height, Reimbursed: paid}
		} else {
			paid, err := ctx.Vaults.Slash(r.Vault, r.Requester, punishment)
			if err != nil {
				return r, err
			}
			if err := ctx.Vaults.ReleaseToBeRedeemed(r.Vault, r.AmountBtc); err != nil {
				return r, err
			}
			if err := ctx.Tokens.Mint(r.Requester, r.AmountBtc); err != nil {
				return r, err
			}
			r.Status = types.RedeemRetried{CancelledAt: ctx.Height, Punishment: paid}
		}
	}
	if err := put(ctx, r); err != nil {
		return r, err
	}
	_ = ctx.Reputation.Credit(r.Vault, reputation.RedeemFailed)
	ctx.Logger.Info("Redeem cancelled", "redeem", id, "reimburse", reimburse, "vault_active", v.IsActive())
	return r, nil
}
