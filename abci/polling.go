package abci

import (
	"context"
	"fmt"
	"time"

	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/leaderelection"
	"github.com/chainpoint/chainpoint-bridge/oracle"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/util"
)

// rateDue : no rate yet, or the last one is at least interval ledger heights old
func rateDue(rec oracle.RateRecord, found bool, height int64, interval int64) bool {
	return !found || height-rec.Height >= interval
}

// RateMonitor : polls the configured price source and gossips a RATE tx every PollInterval blocks when elected. Called by EndBlock
func (app *BridgeApplication) RateMonitor() {
	if !app.beginMonitor() {
		return
	}
	defer app.endMonitor()

	pair := types.WrappedToCollateral
	account := util.AccountOf(app.signer)
	if !app.isOracle(account) {
		app.logger.Debug("RATE: signer is not an oracle account", "account", account)
		return
	}
	height := app.Engine.Height()
	var rec oracle.RateRecord
	var found bool
	err := app.Engine.View(func(ctx *core.Context) error {
		var err error
		rec, found, err = ctx.Rates.Record(pair)
		return err
	})
	if app.LogError(err) != nil || !rateDue(rec, found, height, app.config.Oracle.PollInterval) {
		return
	}
	status, err := app.rpc.GetStatus()
	if app.LogError(err) != nil {
		return
	}
	leader, leaders := leaderelection.IsLeader(account, app.config.Oracle.Accounts, app.config.Oracle.Leaders,
		status.SyncInfo.LatestBlockHash.String(), status.SyncInfo.CatchingUp)
	if !leader {
		app.logger.Debug("RATE: not elected this round", "leaders", leaders)
		return
	}

	timeout := app.config.Oracle.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rate, err := app.rates.FetchRate(ctx, pair)
	if app.LogError(err) != nil {
		return
	}
	app.logger.Info(fmt.Sprintf("RATE: %s = %s", pair, rate), "height", height)
	_, err = app.rpc.BroadcastTx(TxRate, types.RateMsg{Pair: pair, Rate: rate}, app.signer)
	if app.LogError(err) != nil {
		app.logger.Debug(fmt.Sprintf("Failed to gossip rate value of %s", rate))
	}
}

func (app *BridgeApplication) isOracle(account types.Account) bool {
	for _, a := range app.config.Oracle.Accounts {
		if a == account {
			return true
		}
	}
	return false
}
