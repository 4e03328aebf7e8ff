// Package bridgetest wires a complete in-memory bridge for state machine tests.
package bridgetest

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/database/level"
	"github.com/chainpoint/chainpoint-bridge/internal/btctest"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/require"
)

// Oracle is the only account allowed to set rates
const Oracle types.Account = "oracle"

// Config : regtest defaults with one confirmation and no future drift check
func Config() types.BridgeConfig {
	cfg := types.DefaultBridgeConfig()
	cfg.Relay.Network = "regtest"
	cfg.Relay.Confirmations = 1
	cfg.Relay.MaxFutureDrift = 0
	cfg.Oracle.Accounts = []types.Account{Oracle}
	cfg.Oracle.MaxAge = 1 << 20
	cfg.Requests.IssuePeriod = 10
	cfg.Requests.RedeemPeriod = 10
	return cfg
}

type Harness struct {
	t         *testing.T
	KV        *level.KVStore
	Engine    *core.Engine
	Chain     *btctest.Chain
	Height    int64
	submitted int
	tag       uint32
}

// New starts a bridge at ledger height 1 with an initialized relay and a rate of one collateral unit per satoshi
func New(t *testing.T, cfg types.BridgeConfig) *Harness {
	settings, err := core.SettingsFromConfig(cfg)
	require.NoError(t, err)
	h := &Harness{
		t:      t,
		KV:     level.NewMemKV(),
		Chain:  btctest.NewChain(),
		Height: 1,
	}
	h.Engine = core.NewEngine(h.KV, settings, nil)
	h.Engine.SetBlock(h.Height, time.Unix(1700000000, 0))
	h.Must(func(ctx *core.Context) error {
		_, err := ctx.Relay.Initialize(h.Chain.Genesis())
		return err
	})
	h.submitted = 1
	h.SetRate("1")
	return h
}

// Must runs a transition that has to succeed
func (h *Harness) Must(fn func(ctx *core.Context) error) {
	require.NoError(h.t, h.Engine.Update("test", fn))
}

func (h *Harness) Update(fn func(ctx *core.Context) error) error {
	return h.Engine.Update("test", fn)
}

// View reads committed state
func (h *Harness) View(fn func(ctx *core.Context) error) {
	require.NoError(h.t, h.Engine.View(fn))
}

// Advance moves the ledger height forward
func (h *Harness) Advance(n int64) {
	h.Height += n
	h.Engine.SetBlock(h.Height, time.Unix(1700000000+h.Height*6, 0))
}

func (h *Harness) SetRate(rate string) {
	h.Must(func(ctx *core.Context) error {
		return ctx.Rates.SetRate(Oracle, types.WrappedToCollateral, rate)
	})
}

func (h *Harness) Mint(currency types.Currency, account types.Account, amount uint64) {
	h.Must(func(ctx *core.Context) error {
		if currency == types.WrappedCurrency {
			return ctx.Tokens.Mint(account, amount)
		}
		return ctx.Collateral.Mint(account, amount)
	})
}

func (h *Harness) Balance(currency types.Currency, account types.Account) uint64 {
	var balance uint64
	h.View(func(ctx *core.Context) error {
		var err error
		if currency == types.WrappedCurrency {
			balance, err = ctx.Tokens.(interface {
				Balance(types.Account) (uint64, error)
			}).Balance(account)
		} else {
			balance, err = ctx.Collateral.(interface {
				Balance(types.Account) (uint64, error)
			}).Balance(account)
		}
		return err
	})
	return balance
}

// RegisterVault funds and registers a vault paid at btctest.Address(seed)
func (h *Harness) RegisterVault(id types.Account, collateral uint64, seed byte) {
	h.Mint(types.CollateralCurrency, id, collateral)
	h.Must(func(ctx *core.Context) error {
		_, err := ctx.Vaults.Register(id, collateral, btctest.Address(seed))
		return err
	})
}

func (h *Harness) Vault(id types.Account) types.Vault {
	var v types.Vault
	h.View(func(ctx *core.Context) error {
		var err error
		v, err = ctx.Vaults.Get(id)
		return err
	})
	return v
}

func (h *Harness) LiquidationVault() types.LiquidationVault {
	var lv types.LiquidationVault
	h.View(func(ctx *core.Context) error {
		var err error
		lv, err = ctx.Vaults.LiquidationVault()
		return err
	})
	return lv
}

// PayTx builds a unique transaction paying the given outputs
func (h *Harness) PayTx(outs ...btctest.Output) *wire.MsgTx {
	h.tag++
	return btctest.PayTx(h.tag, outs...)
}

// Confirm mines tx plus one burying block, relays the new headers and returns the payment proof
func (h *Harness) Confirm(tx *wire.MsgTx) types.PaymentProof {
	h.Chain.Mine(tx)
	h.Chain.Mine()
	h.Relay()
	return h.Chain.Proof(tx)
}

// Pay confirms a single output payment of value to address
func (h *Harness) Pay(address string, value int64) types.PaymentProof {
	return h.Confirm(h.PayTx(btctest.Output{Address: address, Value: value}))
}

// Relay submits every header mined since the last call
func (h *Harness) Relay() {
	subs := h.Chain.Submissions(h.submitted)
	h.Must(func(ctx *core.Context) error {
		_, err := ctx.SubmitHeaders(subs)
		return err
	})
	h.submitted = len(h.Chain.Headers)
}
