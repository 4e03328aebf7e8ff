package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/chainpoint/chainpoint-bridge/database/level"
	"github.com/chainpoint/chainpoint-bridge/internal/btctest"
	"github.com/chainpoint/chainpoint-bridge/ledger"
	"github.com/chainpoint/chainpoint-bridge/oracle"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	feed       *oracle.StaticFeed
	collateral *ledger.StoreLedger
	tokens     *ledger.StoreLedger
	registry   *Registry
	engine     *LiquidationEngine
}

func newEnv(t *testing.T) *env {
	kv := level.NewMemKV()
	feed := oracle.NewStaticFeed()
	require.NoError(t, feed.Set(types.WrappedToCollateral, "1"))
	thresholds, err := ParseThresholds(types.DefaultBridgeConfig().Vault)
	require.NoError(t, err)
	collateral := ledger.NewStoreLedger(kv, types.CollateralCurrency)
	tokens := ledger.NewStoreLedger(kv, types.WrappedCurrency)
	registry := NewRegistry(kv, feed, collateral, thresholds, btctest.Net, 10, nil)
	return &env{
		feed:       feed,
		collateral: collateral,
		tokens:     tokens,
		registry:   registry,
		engine:     NewLiquidationEngine(registry, tokens, nil),
	}
}

func (e *env) register(t *testing.T, id types.Account, collateral uint64) {
	require.NoError(t, e.collateral.Mint(id, collateral))
	_, err := e.registry.Register(id, collateral, btctest.Address(1))
	require.NoError(t, err)
}

func balance(t *testing.T, l *ledger.StoreLedger, account types.Account) uint64 {
	b, err := l.Balance(account)
	require.NoError(t, err)
	return b
}

func TestRegister(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	e.register(t, "vault", 3000)

	v, err := e.registry.Get("vault")
	assert.NoError(err)
	assert.Equal(uint64(3000), v.Collateral)
	assert.True(v.IsActive())
	assert.Equal(int64(10), v.RegisteredAt)
	assert.Equal(uint64(3000), balance(t, e.collateral, LockAccount))
	assert.Equal(uint64(0), balance(t, e.collateral, "vault"))

	_, err = e.registry.Register("vault", 3000, btctest.Address(1))
	assert.True(errors.Is(err, types.ErrVaultAlreadyRegistered))

	require.NoError(t, e.collateral.Mint("small", 500))
	_, err = e.registry.Register("small", 500, btctest.Address(2))
	assert.True(errors.Is(err, types.ErrInsufficientCollateral))

	require.NoError(t, e.collateral.Mint("typo", 5000))
	_, err = e.registry.Register("typo", 5000, "not-an-address")
	assert.True(errors.Is(err, types.ErrInvalidBitcoinAddress))

	_, err = e.registry.Get("nobody")
	assert.True(errors.Is(err, types.ErrVaultNotFound))

	require.NoError(t, e.collateral.Mint("vault", 100))
	assert.NoError(e.registry.Deposit("vault", 100))
	v, _ = e.registry.Get("vault")
	assert.Equal(uint64(3100), v.Collateral)

	assert.NoError(e.registry.SetBtcAddress("vault", btctest.Address(9)))
	v, _ = e.registry.Get("vault")
	assert.Equal(btctest.Address(9), v.BtcAddress)

	vaults, err := e.registry.Vaults()
	assert.NoError(err)
	assert.Len(vaults, 1)
}

func TestReserveToBeIssuedRespectsCapacity(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	e.register(t, "vault", 3000)

	// 3000 collateral at rate 1 and secure threshold 1.5 backs 2000 tokens
	assert.NoError(e.registry.ReserveToBeIssued("vault", 2000))
	err := e.registry.ReserveToBeIssued("vault", 1)
	assert.True(errors.Is(err, types.ErrExceedsCapacity))

	assert.NoError(e.registry.ConvertToIssued("vault", 1500))
	assert.NoError(e.registry.ReleaseToBeIssued("vault", 500))
	v, _ := e.registry.Get("vault")
	assert.Equal(uint64(1500), v.Issued)
	assert.Equal(uint64(0), v.ToBeIssued)

	err = e.registry.ReleaseToBeIssued("vault", 1)
	assert.True(errors.Is(err, types.ErrArithmeticUnderflow))

	h, err := e.registry.Health("vault")
	assert.NoError(err)
	assert.Equal("2.0000", h.Ratio)
	assert.Equal(uint64(2250), h.RequiredSecure)
	assert.Equal(uint64(500), h.IssuableTokens)
	assert.Equal(uint64(750), h.FreeCollateral)
	assert.False(h.BelowSecure)

	e.feed.Clear(types.WrappedToCollateral)
	err = e.registry.ReserveToBeIssued("vault", 1)
	assert.True(errors.Is(err, types.ErrOracleUnavailable))
}

func TestWithdraw(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	e.register(t, "vault", 3000)
	require.NoError(t, e.registry.ReserveToBeIssued("vault", 1000))
	require.NoError(t, e.registry.ConvertToIssued("vault", 1000))

	assert.NoError(e.registry.Withdraw("vault", 1500))
	err := e.registry.Withdraw("vault", 1)
	assert.True(errors.Is(err, types.ErrInsufficientCollateral))
	assert.Equal(uint64(1500), balance(t, e.collateral, "vault"))

	e.register(t, "idle", 2000)
	err = e.registry.Withdraw("idle", 1500)
	assert.True(errors.Is(err, types.ErrInsufficientCollateral), "would leave less than the minimum")
	assert.NoError(e.registry.Withdraw("idle", 2000))
	err = e.registry.Withdraw("idle", 1)
	assert.True(errors.Is(err, types.ErrInsufficientCollateral))
}

func TestHealthThresholds(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	e.register(t, "vault", 3000)
	require.NoError(t, e.registry.ReserveToBeIssued("vault", 1500))
	require.NoError(t, e.registry.ConvertToIssued("vault", 1000))
	assert.NoError(e.registry.CheckSecure("vault"))

	// 1500 tokens at rate 1.4 need 3150 secure, 2730 minimum and 2310 liquidation collateral
	require.NoError(t, e.feed.Set(types.WrappedToCollateral, "1.4"))
	h, err := e.registry.Health("vault")
	assert.NoError(err)
	assert.True(h.BelowSecure)
	assert.False(h.BelowMinimum)
	assert.False(h.BelowLiquidation)
	err = e.registry.CheckSecure("vault")
	assert.True(errors.Is(err, types.ErrInvariantBreach))
	err = e.registry.Withdraw("vault", 1)
	assert.True(errors.Is(err, types.ErrInsufficientCollateral), "withdraw is gated on the secure threshold")
	err = e.registry.ReserveToBeIssued("vault", 1)
	assert.True(errors.Is(err, types.ErrExceedsCapacity))

	require.NoError(t, e.feed.Set(types.WrappedToCollateral, "1.6"))
	h, err = e.registry.Health("vault")
	assert.NoError(err)
	assert.True(h.BelowMinimum)
	assert.False(h.BelowLiquidation)

	// idle vaults back nothing and need no rate
	e.register(t, "idle", 2000)
	e.feed.Clear(types.WrappedToCollateral)
	assert.NoError(e.registry.CheckSecure("idle"))
	assert.NoError(e.registry.Withdraw("idle", 2000))
}

func TestToBeRedeemed(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	e.register(t, "vault", 3000)
	require.NoError(t, e.registry.ReserveToBeIssued("vault", 1000))
	require.NoError(t, e.registry.ConvertToIssued("vault", 1000))

	err := e.registry.ReserveToBeRedeemed("vault", 1001)
	assert.True(errors.Is(err, types.ErrInsufficientTokensCommitted))
	assert.NoError(e.registry.ReserveToBeRedeemed("vault", 600))
	err = e.registry.ReserveToBeRedeemed("vault", 401)
	assert.True(errors.Is(err, types.ErrInsufficientTokensCommitted))

	assert.NoError(e.registry.ConvertToRedeemed("vault", 500))
	assert.NoError(e.registry.ReleaseToBeRedeemed("vault", 100))
	v, _ := e.registry.Get("vault")
	assert.Equal(uint64(500), v.Issued)
	assert.Equal(uint64(0), v.ToBeRedeemed)
}

// liquidatable leaves vault with 1000 issued, 500 to be issued and 200 to be redeemed against 3000 collateral
func liquidatable(t *testing.T, e *env) {
	e.register(t, "vault", 3000)
	require.NoError(t, e.registry.ReserveToBeIssued("vault", 1500))
	require.NoError(t, e.registry.ConvertToIssued("vault", 1000))
	require.NoError(t, e.registry.ReserveToBeRedeemed("vault", 200))
}

func TestLiquidate(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	liquidatable(t, e)

	_, err := e.engine.Liquidate("vault")
	assert.True(errors.Is(err, types.ErrVaultNotLiquidatable))

	require.NoError(t, e.feed.Set(types.WrappedToCollateral, "2"))
	h, err := e.registry.Health("vault")
	assert.NoError(err)
	assert.True(h.BelowLiquidation)

	lv, err := e.engine.Liquidate("vault")
	assert.NoError(err)
	assert.Equal(types.LiquidationVault{Collateral: 2600, Issued: 1000, ToBeIssued: 500, ToBeRedeemed: 200, Liquidations: 1}, lv)

	v, _ := e.registry.Get("vault")
	assert.False(v.IsActive())
	assert.Equal(uint64(400), v.Collateral)
	assert.Equal(uint64(200), v.ResidualToBeRedeemed)
	assert.Zero(v.Issued + v.ToBeIssued + v.ToBeRedeemed)
	assert.Equal(uint64(2600), balance(t, e.collateral, LiquidationAccount))
	assert.Equal(uint64(400), balance(t, e.collateral, LockAccount))

	_, err = e.engine.Liquidate("vault")
	assert.True(errors.Is(err, types.ErrVaultNotActive), "liquidation is one way")
	err = e.registry.ReserveToBeIssued("vault", 1)
	assert.True(errors.Is(err, types.ErrVaultNotActive))
	err = e.registry.Deposit("vault", 1)
	assert.True(errors.Is(err, types.ErrVaultNotActive))

	// in flight requests now settle against the liquidation vault
	assert.NoError(e.registry.ConvertToIssued("vault", 300))
	assert.NoError(e.registry.ReleaseToBeIssued("vault", 200))
	lv, _ = e.registry.LiquidationVault()
	assert.Equal(uint64(1300), lv.Issued)
	assert.Equal(uint64(0), lv.ToBeIssued)

	share, err := e.registry.ResidualShare(v, 100)
	assert.NoError(err)
	assert.Equal(uint64(200), share)

	err = e.registry.Withdraw("vault", 400)
	assert.True(errors.Is(err, types.ErrInsufficientCollateral), "residual backs pending redeems")
	assert.NoError(e.registry.ConvertToRedeemed("vault", 200))
	paid, err := e.registry.SettleResidual("vault", 200, "vault")
	assert.NoError(err)
	assert.Equal(uint64(400), paid)
	assert.Equal(uint64(400), balance(t, e.collateral, "vault"))
	v, _ = e.registry.Get("vault")
	assert.Zero(v.Collateral)
	assert.Zero(v.ResidualToBeRedeemed)
}

func TestResidualSplitsBetweenPaidAndCancelledRedeems(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	liquidatable(t, e)
	require.NoError(t, e.feed.Set(types.WrappedToCollateral, "2"))
	_, err := e.engine.Liquidate("vault")
	require.NoError(t, err)
	// 400 residual collateral backs two redeems of 100
	paid, err := e.registry.SettleResidual("vault", 100, "vault")
	assert.NoError(err)
	assert.Equal(uint64(200), paid)
	v, _ := e.registry.Get("vault")
	assert.Equal(uint64(200), v.Collateral)
	assert.Equal(uint64(100), v.ResidualToBeRedeemed)

	paid, err = e.registry.SettleResidual("vault", 100, "requester")
	assert.NoError(err)
	assert.Equal(uint64(200), paid, "a cancelled redeem only takes its own share")
	assert.Equal(uint64(200), balance(t, e.collateral, "requester"))
	assert.Equal(uint64(200), balance(t, e.collateral, "vault"))
	assert.Equal(uint64(0), balance(t, e.collateral, LockAccount))

	_, err = e.registry.SettleResidual("vault", 1, "requester")
	assert.True(errors.Is(err, types.ErrArithmeticUnderflow))
}

func TestLiquidationRedeem(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	liquidatable(t, e)
	require.NoError(t, e.feed.Set(types.WrappedToCollateral, "2"))
	_, err := e.engine.Liquidate("vault")
	require.NoError(t, err)

	require.NoError(t, e.tokens.Mint("holder", 1000))
	share, err := e.engine.Redeem("holder", 300)
	assert.NoError(err)
	// 2600 collateral over 1300 outstanding tokens
	assert.Equal(uint64(600), share)
	assert.Equal(uint64(700), balance(t, e.tokens, "holder"))
	assert.Equal(uint64(600), balance(t, e.collateral, "holder"))

	lv, _ := e.registry.LiquidationVault()
	assert.Equal(uint64(700), lv.Issued)
	assert.Equal(uint64(2000), lv.Collateral)

	_, err = e.engine.Redeem("holder", 501)
	assert.True(errors.Is(err, types.ErrInsufficientTokensCommitted))
	_, err = e.engine.Redeem("broke", 10)
	assert.True(errors.Is(err, types.ErrInsufficientFunds))
}

func TestSlashCapsAtCollateral(t *testing.T) {
	e := newEnv(t)
	e.register(t, "vault", 1000)
	paid, err := e.registry.Slash("vault", "user", 1500)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1000), paid)
	assert.Equal(t, uint64(1000), balance(t, e.collateral, "user"))
}

func TestCollateralMath(t *testing.T) {
	assert := assert.New(t)
	rate := big.NewRat(3, 2)
	secure := big.NewRat(3, 2)

	required, err := RequiredCollateral(101, rate, secure)
	assert.NoError(err)
	assert.Equal(uint64(228), required, "227.25 rounds up")
	assert.Equal(uint64(444), TokensFor(1000, rate, secure), "444.4 rounds down")

	fee, err := MulRat(1000, big.NewRat(5, 1000))
	assert.NoError(err)
	assert.Equal(uint64(5), fee)

	_, err = MulRat(^uint64(0), big.NewRat(2, 1))
	assert.True(errors.Is(err, types.ErrArithmeticOverflow))

	q, err := MulDiv(^uint64(0), 3, 4)
	assert.NoError(err)
	assert.Equal(uint64(13835058055282163711), q)
	_, err = MulDiv(1, 1, 0)
	assert.True(errors.Is(err, types.ErrInvariantBreach))

	assert.Equal("inf", Ratio(10, 0, rate))

	_, err = ParseThresholds(types.VaultConfig{SecureThreshold: "1.1", MinimumThreshold: "1.3", LiquidationThreshold: "1"})
	assert.Error(err)
	_, err = ParseThresholds(types.VaultConfig{SecureThreshold: "x", MinimumThreshold: "1.3", LiquidationThreshold: "1"})
	assert.Error(err)
}
