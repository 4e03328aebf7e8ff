package abci

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/issue"
	"github.com/chainpoint/chainpoint-bridge/ledger"
	"github.com/chainpoint/chainpoint-bridge/redeem"
	"github.com/chainpoint/chainpoint-bridge/refund"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	types2 "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/abci/example/code"
)

// HeaderInfo : a stored header with its standing on the best chain
type HeaderInfo struct {
	types.HeaderRecord
	Confirmations int64 `json:"confirmations"`
	Stable        bool  `json:"stable"`
}

// Balance : an account's balance of one currency
type Balance struct {
	Account  types.Account  `json:"account"`
	Currency types.Currency `json:"currency"`
	Balance  uint64         `json:"balance"`
}

// Query : Custom ABCI query method. Paths mirror the record they return, e.g. /vault/<id>/health
func (app *BridgeApplication) Query(reqQuery types2.RequestQuery) (resQuery types2.ResponseQuery) {
	resQuery.Height = app.state.Height
	result, err := app.lookup(reqQuery.Path)
	if err != nil {
		resQuery.Code = CodeFor(err)
		resQuery.Log = err.Error()
		resQuery.Info = types.CodeOf(err)
		return
	}
	value, err := json.Marshal(result)
	if app.LogError(err) != nil {
		resQuery.Code = code.CodeTypeEncodingError
		resQuery.Log = err.Error()
		return
	}
	resQuery.Code = code.CodeTypeOK
	resQuery.Key = []byte(reqQuery.Path)
	resQuery.Value = value
	return
}

// lookup resolves a query path against committed state
func (app *BridgeApplication) lookup(urlPath string) (result interface{}, err error) {
	parts := strings.Split(strings.Trim(urlPath, "/"), "/")
	err = app.Engine.View(func(ctx *core.Context) error {
		var qErr error
		result, qErr = route(ctx, parts)
		return qErr
	})
	return result, err
}

func route(ctx *core.Context, parts []string) (interface{}, error) {
	arg := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	switch {
	case arg(0) == "relay" && arg(1) == "best":
		return ctx.Relay.State()
	case arg(0) == "relay" && arg(1) == "chains":
		return ctx.Relay.Chains()
	case arg(0) == "relay" && arg(1) == "header" && len(parts) == 3:
		header, err := ctx.Relay.GetHeader(arg(2))
		if err != nil {
			return nil, err
		}
		confs, err := ctx.Relay.Confirmations(header)
		if err != nil {
			return nil, err
		}
		stable, err := ctx.Relay.IsBlockStable(header.Hash)
		if err != nil {
			return nil, err
		}
		return HeaderInfo{HeaderRecord: header.HeaderRecord, Confirmations: confs, Stable: stable}, nil
	case arg(0) == "relay" && arg(1) == "stable" && len(parts) == 3:
		stable, err := ctx.Relay.IsBlockStable(arg(2))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"hash": arg(2), "stable": stable}, nil
	case arg(0) == "vault" && len(parts) == 2:
		return ctx.Vaults.Get(types.Account(arg(1)))
	case arg(0) == "vault" && arg(2) == "health" && len(parts) == 3:
		return ctx.Vaults.Health(types.Account(arg(1)))
	case arg(0) == "vaults" && len(parts) == 1:
		return ctx.Vaults.Vaults()
	case arg(0) == "liquidation" && len(parts) == 1:
		return ctx.Vaults.LiquidationVault()
	case arg(0) == "issue" && len(parts) == 2:
		return issue.Get(ctx, arg(1))
	case arg(0) == "issues" && len(parts) == 2:
		return issue.ByRequester(ctx, types.Account(arg(1)))
	case arg(0) == "redeem" && len(parts) == 2:
		return redeem.Get(ctx, arg(1))
	case arg(0) == "redeems" && len(parts) == 2:
		return redeem.ByRequester(ctx, types.Account(arg(1)))
	case arg(0) == "refund" && len(parts) == 2:
		return refund.Get(ctx, arg(1))
	case arg(0) == "balance" && len(parts) == 3:
		currency := types.Currency(arg(1))
		var l ledger.Ledger
		switch currency {
		case types.WrappedCurrency:
			l = ctx.Tokens
		case types.CollateralCurrency:
			l = ctx.Collateral
		default:
			return nil, types.Wrap(types.ErrMalformedTx, "unknown currency %s", currency)
		}
		reader, ok := l.(ledger.BalanceReader)
		if !ok {
			return nil, fmt.Errorf("%s balances are not readable", currency)
		}
		balance, err := reader.Balance(types.Account(arg(2)))
		return Balance{Account: types.Account(arg(2)), Currency: currency, Balance: balance}, err
	case arg(0) == "rate" && len(parts) == 1:
		rec, found, err := ctx.Rates.Record(types.WrappedToCollateral)
		if err == nil && !found {
			err = types.Wrap(types.ErrOracleUnavailable, "no rate for %s", types.WrappedToCollateral)
		}
		return rec, err
	case arg(0) == "reputation" && len(parts) == 2:
		return reputation.NewStoreSink(ctx.Store, ctx.Height).Score(types.Account(arg(1)))
	case arg(0) == "nonce" && len(parts) == 2:
		var last uint64
		_, err := ctx.Records.Get(nonceKey(types.Account(arg(1))), &last)
		return last, err
	}
	return nil, types.Wrap(types.ErrMalformedTx, "unknown query path /%s", strings.Join(parts, "/"))
}
