package vault

import (
	"github.com/chainpoint/chainpoint-bridge/ledger"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/tendermint/tendermint/libs/log"
)

// LiquidationAccount holds the collateral seized from liquidated vaults
const LiquidationAccount types.Account = "liquidation-collateral"

// LiquidationEngine : moves unhealthy vaults into the shared liquidation vault and lets token holders
// redeem against it
type LiquidationEngine struct {
	registry *Registry
	tokens   ledger.Ledger
	logger   log.Logger
}

func NewLiquidationEngine(registry *Registry, tokens ledger.Ledger, logger log.Logger) *LiquidationEngine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &LiquidationEngine{registry: registry, tokens: tokens, logger: logger}
}

// Liquidate seizes the collateral backing a vault's outstanding tokens once it falls under the liquidation
// threshold. The share backing redeems already in flight stays with the vault to settle them.
func (e *LiquidationEngine) Liquidate(id types.Account) (types.LiquidationVault, error) {
	r := e.registry
	v, err := r.Active(id)
	if err != nil {
		return types.LiquidationVault{}, err
	}
	h, err := r.Health(id)
	if err != nil {
		return types.LiquidationVault{}, err
	}
	if !h.BelowLiquidation {
		return types.LiquidationVault{}, types.Wrap(types.ErrVaultNotLiquidatable, "%s at ratio %s", id, h.Ratio)
	}
	backing, overflow := math.SafeAdd(v.Issued, v.ToBeIssued)
	if overflow {
		return types.LiquidationVault{}, types.ErrArithmeticOverflow
	}
	unredeemed, underflow := math.SafeSub(backing, v.ToBeRedeemed)
	if underflow {
		return types.LiquidationVault{}, types.Wrap(types.ErrArithmeticUnderflow, "%s redeeming %d of %d", id, v.ToBeRedeemed, backing)
	}
	seized, err := MulDiv(v.Collateral, unredeemed, backing)
	if err != nil {
		return types.LiquidationVault{}, err
	}
	lv, err := r.LiquidationVault()
	if err != nil {
		return types.LiquidationVault{}, err
	}
	for _, move := range []struct {
		to     *uint64
		amount uint64
	}{
		{&lv.Collateral, seized},
		{&lv.Issued, v.Issued},
		{&lv.ToBeIssued, v.ToBeIssued},
		{&lv.ToBeRedeemed, v.ToBeRedeemed},
	} {
		if err := add(move.to, move.amount); err != nil {
			return types.LiquidationVault{}, err
		}
	}
	lv.Liquidations++
	if err := r.collateral.Transfer(LockAccount, LiquidationAccount, seized); err != nil {
		return types.LiquidationVault{}, err
	}

	v.ResidualToBeRedeemed = v.ToBeRedeemed
	v.Collateral -= seized
	v.Issued, v.ToBeIssued, v.ToBeRedeemed = 0, 0, 0
	v.Status = types.VaultLiquidated
	v.LiquidatedAt = r.height
	if err := r.put(v); err != nil {
		return types.LiquidationVault{}, err
	}
	if err := r.putLiquidationVault(lv); err != nil {
		return types.LiquidationVault{}, err
	}
	e.logger.Info("Vault liquidated", "vault", id, "ratio", h.Ratio, "seized", seized, "residual", v.Collateral)
	return lv, nil
}

// Redeem burns amount wrapped tokens of account for a pro-rata share of the liquidation vault's collateral
func (e *LiquidationEngine) Redeem(account types.Account, amount uint64) (uint64, error) {
	r := e.registry
	if amount == 0 {
		return 0, types.Wrap(types.ErrMalformedTx, "zero amount")
	}
	lv, err := r.LiquidationVault()
	if err != nil {
		return 0, err
	}
	redeemable, underflow := math.SafeSub(lv.Issued, lv.ToBeRedeemed)
	if underflow || redeemable < amount {
		return 0, types.Wrap(types.ErrInsufficientTokensCommitted, "liquidation vault can redeem %d", redeemable)
	}
	outstanding := lv.Issued + lv.ToBeIssued - lv.ToBeRedeemed
	share, err := MulDiv(lv.Collateral, amount, outstanding)
	if err != nil {
		return 0, err
	}
	if err := e.tokens.Burn(account, amount); err != nil {
		return 0, err
	}
	if err := r.collateral.Transfer(LiquidationAccount, account, share); err != nil {
		return 0, err
	}
	lv.Issued -= amount
	lv.Collateral -= share
	if err := r.putLiquidationVault(lv); err != nil {
		return 0, err
	}
	e.logger.Info("Liquidation redeem", "account", account, "burned", amount, "collateral", share)
	return share, nil
}
