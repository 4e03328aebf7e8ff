package abci

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/issue"
	"github.com/chainpoint/chainpoint-bridge/redeem"
	"github.com/chainpoint/chainpoint-bridge/refund"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/util"
	types2 "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/abci/example/code"
	"github.com/tendermint/tendermint/libs/kv"
)

// Bridge transaction types
const (
	TxInitRelay    = "INIT-RELAY"
	TxHeaders      = "HEADERS"
	TxRate         = "RATE"
	TxVaultReg     = "VAULT-REG"
	TxVaultAddr    = "VAULT-ADDR"
	TxDeposit      = "DEPOSIT"
	TxWithdraw     = "WITHDRAW"
	TxLiquidate    = "LIQUIDATE"
	TxIssueReq     = "ISSUE-REQ"
	TxIssueExec    = "ISSUE-EXEC"
	TxIssueCancel  = "ISSUE-CANCEL"
	TxRedeemReq    = "REDEEM-REQ"
	TxRedeemExec   = "REDEEM-EXEC"
	TxRedeemCancel = "REDEEM-CANCEL"
	TxLiqRedeem    = "LIQ-REDEEM"
	TxRefundExec   = "REFUND-EXEC"
	TxMint         = "MINT"
)

func tag(key string, value string) kv.Pair {
	return kv.Pair{Key: []byte(key), Value: []byte(value)}
}

func uintTag(key string, value uint64) kv.Pair {
	return tag(key, strconv.FormatUint(value, 10))
}

// incrementTxInt: Helper method to increment transaction integer
func (app *BridgeApplication) incrementTxInt(tags []kv.Pair) []kv.Pair {
	app.state.TxInt++
	return append(tags, tag("TxInt", strconv.FormatInt(app.state.TxInt, 10)))
}

func nonceKey(account types.Account) string {
	return database.Key("nonce", string(account))
}

// checkNonce : every account's nonces strictly increase, so a signed tx is applied at most once
func checkNonce(ctx *core.Context, tx types.Tx) error {
	var last uint64
	found, err := ctx.Records.Get(nonceKey(tx.Sender), &last)
	if err != nil {
		return err
	}
	if found && tx.Nonce <= last {
		return types.Wrap(types.ErrBadNonce, "nonce %d already used by %s (last %d)", tx.Nonce, tx.Sender, last)
	}
	return nil
}

func useNonce(ctx *core.Context, tx types.Tx) error {
	if err := checkNonce(ctx, tx); err != nil {
		return err
	}
	return ctx.Records.Put(nonceKey(tx.Sender), tx.Nonce)
}

func decodeMsg(tx types.Tx, msg interface{}) error {
	if err := json.Unmarshal([]byte(tx.Data), msg); err != nil {
		return types.Wrap(types.ErrMalformedTx, "%s data: %s", tx.TxType, err.Error())
	}
	return nil
}

func knownTxType(txType string) bool {
	switch txType {
	case TxInitRelay, TxHeaders, TxRate, TxVaultReg, TxVaultAddr, TxDeposit, TxWithdraw, TxLiquidate,
		TxIssueReq, TxIssueExec, TxIssueCancel, TxRedeemReq, TxRedeemExec, TxRedeemCancel, TxLiqRedeem,
		TxRefundExec, TxMint:
		return true
	}
	return false
}

// validateTx : signature, type and nonce checks against committed state. Used by CheckTx
func (app *BridgeApplication) validateTx(rawTx []byte) types2.ResponseCheckTx {
	tx, err := util.DecodeTxAndVerifySig(rawTx)
	if app.LogError(err) != nil {
		return types2.ResponseCheckTx{Code: code.CodeTypeUnauthorized, Log: err.Error(), GasWanted: 1}
	}
	if !knownTxType(tx.TxType) {
		err = types.Wrap(types.ErrUnknownTxType, "%s", tx.TxType)
		return types2.ResponseCheckTx{Code: CodeFor(err), Log: err.Error(), GasWanted: 1}
	}
	if tx.TxType == TxMint && !app.config.EnableFaucet {
		return types2.ResponseCheckTx{Code: code.CodeTypeUnauthorized, Log: "faucet disabled", GasWanted: 1}
	}
	if halted := app.Engine.Halted(); halted != nil {
		return types2.ResponseCheckTx{Code: CodeTypeInvariantBreach, Log: halted.Error(), GasWanted: 1}
	}
	err = app.Engine.View(func(ctx *core.Context) error {
		return checkNonce(ctx, tx)
	})
	if err != nil {
		return types2.ResponseCheckTx{Code: CodeFor(err), Log: err.Error(), GasWanted: 1}
	}
	return types2.ResponseCheckTx{Code: code.CodeTypeOK, GasWanted: 1}
}

// updateStateFromTx: Updates state based on type of transaction received. Used by DeliverTx
func (app *BridgeApplication) updateStateFromTx(rawTx []byte) types2.ResponseDeliverTx {
	tx, err := util.DecodeTxAndVerifySig(rawTx)
	if app.LogError(err) != nil {
		return types2.ResponseDeliverTx{Code: code.CodeTypeUnauthorized, Log: err.Error()}
	}
	app.logger.Info(fmt.Sprintf("DeliverTx: %s", tx.TxType), "sender", tx.Sender, "nonce", tx.Nonce)

	var tags []kv.Pair
	var partial error
	err = app.Engine.Update(tx.TxType, func(ctx *core.Context) error {
		if err := useNonce(ctx, tx); err != nil {
			return err
		}
		var applyErr error
		tags, partial, applyErr = app.apply(ctx, tx)
		return applyErr
	})
	if err != nil && !errors.Is(err, types.ErrBadNonce) && !errors.Is(err, types.ErrInvariantBreach) {
		// a failed tx still consumes its nonce
		app.LogError(app.Engine.Update("NONCE", func(ctx *core.Context) error {
			return useNonce(ctx, tx)
		}))
	}

	resp := types2.ResponseDeliverTx{Code: code.CodeTypeOK}
	if err == nil {
		tags = app.incrementTxInt(tags)
		err = partial
	}
	if err != nil {
		app.logger.Info("Bridge tx rejected", "type", tx.TxType, "kind", types.KindOf(err).String(), "error", err.Error())
		resp.Code = CodeFor(err)
		resp.Log = err.Error()
		resp.Info = types.CodeOf(err)
	}
	resp.Events = []types2.Event{
		{
			Type:       tx.TxType,
			Attributes: append(tags, tag("SENDER", string(tx.Sender))),
		},
	}
	return resp
}

// apply runs a decoded transaction inside a transition. partial reports a batch error after which
// the accepted prefix must still be committed.
func (app *BridgeApplication) apply(ctx *core.Context, tx types.Tx) (tags []kv.Pair, partial error, err error) {
	sender := tx.Sender
	switch tx.TxType {
	case TxInitRelay:
		var msg types.InitRelayMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		res, err := ctx.Relay.Initialize(msg.Header)
		if err != nil {
			return nil, nil, err
		}
		app.logger.Info("Relay initialized", "hash", res.Hash, "height", res.Height)
		return []kv.Pair{tag("HASH", res.Hash), tag("HEIGHT", strconv.FormatInt(res.Height, 10))}, nil, nil
	case TxHeaders:
		var msg types.HeadersMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		results, batchErr := ctx.SubmitHeaders(msg.Headers)
		if batchErr != nil && (len(results) == 0 || errors.Is(batchErr, types.ErrInvariantBreach)) {
			return nil, nil, batchErr
		}
		tags = append(tags, uintTag("ACCEPTED", uint64(len(results))))
		if len(results) > 0 {
			tip := results[len(results)-1]
			tags = append(tags, tag("TIP", tip.Hash), tag("HEIGHT", strconv.FormatInt(tip.Height, 10)))
		}
		return tags, batchErr, nil
	case TxRate:
		var msg types.RateMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		if err := ctx.Rates.SetRate(sender, msg.Pair, msg.Rate); err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("PAIR", msg.Pair.String()), tag("RATE", msg.Rate)}, nil, nil
	case TxVaultReg:
		var msg types.VaultRegisterMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		v, err := ctx.Vaults.Register(sender, msg.Collateral, msg.BtcAddress)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("VAULT", string(v.ID)), uintTag("COLLATERAL", v.Collateral)}, nil, nil
	case TxVaultAddr:
		var msg types.VaultAddressMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("VAULT", string(sender))}, nil, ctx.Vaults.SetBtcAddress(sender, msg.BtcAddress)
	case TxDeposit, TxWithdraw:
		var msg types.CollateralMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		if tx.TxType == TxDeposit {
			err = ctx.Vaults.Deposit(sender, msg.Amount)
		} else {
			err = ctx.Vaults.Withdraw(sender, msg.Amount)
		}
		return []kv.Pair{tag("VAULT", string(sender)), uintTag("AMOUNT", msg.Amount)}, nil, err
	case TxLiquidate:
		var msg types.LiquidateMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		if _, err := ctx.Liquidations.Liquidate(msg.Vault); err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("VAULT", string(msg.Vault))}, nil, nil
	case TxIssueReq:
		var msg types.IssueRequestMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		r, err := issue.Request(ctx, sender, msg.Vault, msg.Amount, tx.Nonce)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("ISSUE", r.ID), tag("VAULT", string(r.Vault)), tag("BTC_ADDRESS", r.BtcAddress), uintTag("TOTAL", r.Total())}, nil, nil
	case TxIssueExec:
		var msg types.ExecuteMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		r, err := issue.Execute(ctx, sender, msg.RequestID, msg.Payment)
		if err != nil {
			return nil, nil, err
		}
		tags = []kv.Pair{tag("ISSUE", r.ID)}
		if done, ok := r.Status.(types.IssueCompleted); ok && done.RefundID != "" {
			tags = append(tags, tag("REFUND", done.RefundID))
		}
		return tags, nil, nil
	case TxIssueCancel:
		var msg types.CancelMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		r, err := issue.Cancel(ctx, sender, msg.RequestID)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("ISSUE", r.ID)}, nil, nil
	case TxRedeemReq:
		var msg types.RedeemRequestMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		r, err := redeem.Request(ctx, sender, msg.Vault, msg.Amount, msg.BtcAddress, tx.Nonce)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("REDEEM", r.ID), tag("VAULT", string(r.Vault)), uintTag("AMOUNT_BTC", r.AmountBtc)}, nil, nil
	case TxRedeemExec:
		var msg types.ExecuteMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		r, err := redeem.Execute(ctx, sender, msg.RequestID, msg.Payment)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("REDEEM", r.ID)}, nil, nil
	case TxRedeemCancel:
		var msg types.CancelMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		r, err := redeem.Cancel(ctx, sender, msg.RequestID, msg.Reimburse)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("REDEEM", r.ID)}, nil, nil
	case TxLiqRedeem:
		var msg types.LiquidationRedeemMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		share, err := ctx.Liquidations.Redeem(sender, msg.Amount)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{uintTag("AMOUNT", msg.Amount), uintTag("COLLATERAL", share)}, nil, nil
	case TxRefundExec:
		var msg types.ExecuteMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		r, err := refund.Execute(ctx, sender, msg.RequestID, msg.Payment)
		if err != nil {
			return nil, nil, err
		}
		return []kv.Pair{tag("REFUND", r.ID)}, nil, nil
	case TxMint:
		if !app.config.EnableFaucet {
			return nil, nil, types.Wrap(types.ErrUnauthorizedCaller, "faucet disabled")
		}
		var msg types.MintMsg
		if err := decodeMsg(tx, &msg); err != nil {
			return nil, nil, err
		}
		switch msg.Currency {
		case types.WrappedCurrency:
			err = ctx.Tokens.Mint(msg.Account, msg.Amount)
		case types.CollateralCurrency:
			err = ctx.Collateral.Mint(msg.Account, msg.Amount)
		default:
			err = types.Wrap(types.ErrMalformedTx, "unknown currency %s", msg.Currency)
		}
		return []kv.Pair{tag("ACCOUNT", string(msg.Account)), uintTag("AMOUNT", msg.Amount)}, nil, err
	}
	return nil, nil, types.Wrap(types.ErrUnknownTxType, "%s", tx.TxType)
}
