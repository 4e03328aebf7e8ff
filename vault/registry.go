package vault

import (
	"encoding/json"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/ledger"
	"github.com/chainpoint/chainpoint-bridge/oracle"
	"github.com/chainpoint/chainpoint-bridge/proof"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/tendermint/tendermint/libs/log"
)

// LockAccount holds the collateral of every vault and of the liquidation vault on the collateral ledger
const LockAccount types.Account = "vault-collateral"

const (
	vaultPrefix    = "vault"
	liquidationKey = "liquidation"
)

// Registry : owner of vault and liquidation vault records. Every balance change goes through it.
type Registry struct {
	records    database.Records
	feed       oracle.Feed
	collateral ledger.Ledger
	thresholds Thresholds
	net        *chaincfg.Params
	height     int64
	logger     log.Logger
}

func NewRegistry(s database.Store, feed oracle.Feed, collateral ledger.Ledger, thresholds Thresholds,
	net *chaincfg.Params, height int64, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		records:    database.Records{Store: s},
		feed:       feed,
		collateral: collateral,
		thresholds: thresholds,
		net:        net,
		height:     height,
		logger:     logger,
	}
}

func (r *Registry) Thresholds() Thresholds {
	return r.thresholds
}

// Rate returns the current wrapped to collateral exchange rate
func (r *Registry) Rate() (*big.Rat, error) {
	return r.feed.GetExchangeRate(types.WrappedToCollateral)
}

func (r *Registry) Get(id types.Account) (types.Vault, error) {
	var v types.Vault
	found, err := r.records.Get(database.Key(vaultPrefix, string(id)), &v)
	if err != nil {
		return v, err
	}
	if !found {
		return v, types.Wrap(types.ErrVaultNotFound, "%s", id)
	}
	return v, nil
}

// Active returns the vault if it has not been liquidated
func (r *Registry) Active(id types.Account) (types.Vault, error) {
	v, err := r.Get(id)
	if err != nil {
		return v, err
	}
	if !v.IsActive() {
		return v, types.Wrap(types.ErrVaultNotActive, "%s was liquidated at %d", id, v.LiquidatedAt)
	}
	return v, nil
}

func (r *Registry) put(v types.Vault) error {
	return r.records.Put(database.Key(vaultPrefix, string(v.ID)), v)
}

// Vaults lists every registered vault ordered by id
func (r *Registry) Vaults() ([]types.Vault, error) {
	vaults := []types.Vault{}
	var decodeErr error
	err := r.records.Store.Iterate([]byte(vaultPrefix+":"), func(key []byte, value []byte) bool {
		var v types.Vault
		if decodeErr = json.Unmarshal(value, &v); decodeErr != nil {
			return false
		}
		vaults = append(vaults, v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return vaults, decodeErr
}

func (r *Registry) LiquidationVault() (types.LiquidationVault, error) {
	var lv types.LiquidationVault
	_, err := r.records.Get(liquidationKey, &lv)
	return lv, err
}

func (r *Registry) putLiquidationVault(lv types.LiquidationVault) error {
	return r.records.Put(liquidationKey, lv)
}

// Register locks the initial collateral of a new vault owned by owner
func (r *Registry) Register(owner types.Account, collateral uint64, btcAddress string) (types.Vault, error) {
	if _, err := r.Get(owner); err == nil {
		return types.Vault{}, types.Wrap(types.ErrVaultAlreadyRegistered, "%s", owner)
	} else if types.KindOf(err) != types.KindVaultStateViolation {
		return types.Vault{}, err
	}
	if collateral < r.thresholds.MinimumCollateral {
		return types.Vault{}, types.Wrap(types.ErrInsufficientCollateral, "%d below the minimum of %d", collateral, r.thresholds.MinimumCollateral)
	}
	if _, err := proof.ValidateAddress(btcAddress, r.net); err != nil {
		return types.Vault{}, err
	}
	if err := r.collateral.Transfer(owner, LockAccount, collateral); err != nil {
		return types.Vault{}, err
	}
	v := types.Vault{
		ID:           owner,
		BtcAddress:   btcAddress,
		Collateral:   collateral,
		Status:       types.VaultActive,
		RegisteredAt: r.height,
	}
	if err := r.put(v); err != nil {
		return types.Vault{}, err
	}
	r.logger.Info("Vault registered", "vault", owner, "collateral", collateral)
	return v, nil
}

// SetBtcAddress changes where future issue requests ask users to pay
func (r *Registry) SetBtcAddress(id types.Account, btcAddress string) error {
	v, err := r.Active(id)
	if err != nil {
		return err
	}
	if _, err := proof.ValidateAddress(btcAddress, r.net); err != nil {
		return err
	}
	v.BtcAddress = btcAddress
	return r.put(v)
}

func (r *Registry) Deposit(id types.Account, amount uint64) error {
	v, err := r.Active(id)
	if err != nil {
		return err
	}
	total, overflow := math.SafeAdd(v.Collateral, amount)
	if overflow {
		return types.Wrap(types.ErrArithmeticOverflow, "collateral of %s", id)
	}
	if err := r.collateral.Transfer(id, LockAccount, amount); err != nil {
		return err
	}
	v.Collateral = total
	return r.put(v)
}

// Withdraw releases collateral to the owner. An active vault must stay above the secure threshold for its
// obligations and keep at least the minimum collateral, unless it withdraws everything while holding none.
// A liquidated vault may withdraw its residual collateral once the redeems it backs are settled.
func (r *Registry) Withdraw(id types.Account, amount uint64) error {
	v, err := r.Get(id)
	if err != nil {
		return err
	}
	remaining, underflow := math.SafeSub(v.Collateral, amount)
	if underflow {
		return types.Wrap(types.ErrInsufficientCollateral, "%s holds %d", id, v.Collateral)
	}
	if v.IsActive() {
		obligations, overflow := math.SafeAdd(v.Issued, v.ToBeIssued)
		if overflow {
			return types.ErrArithmeticOverflow
		}
		idle := obligations == 0 && v.ToBeRedeemed == 0
		if !(idle && remaining == 0) && remaining < r.thresholds.MinimumCollateral {
			return types.Wrap(types.ErrInsufficientCollateral, "%d would remain, minimum is %d", remaining, r.thresholds.MinimumCollateral)
		}
		if obligations > 0 {
			rate, err := r.Rate()
			if err != nil {
				return err
			}
			required, err := RequiredCollateral(obligations, rate, r.thresholds.Secure)
			if err != nil {
				return err
			}
			if remaining < required {
				return types.Wrap(types.ErrInsufficientCollateral, "%d would remain, %d required", remaining, required)
			}
		}
	} else if v.ResidualToBeRedeemed > 0 {
		return types.Wrap(types.ErrInsufficientCollateral, "residual collateral backs %d pending redeems", v.ResidualToBeRedeemed)
	}
	if err := r.collateral.Transfer(LockAccount, id, amount); err != nil {
		return err
	}
	v.Collateral = remaining
	if err := r.put(v); err != nil {
		return err
	}
	return r.CheckSecure(id)
}

// Health computes the collateralization of a vault from the current rate
func (r *Registry) Health(id types.Account) (types.VaultHealth, error) {
	v, err := r.Get(id)
	if err != nil {
		return types.VaultHealth{}, err
	}
	rate, err := r.Rate()
	if err != nil {
		return types.VaultHealth{}, err
	}
	return r.health(v, rate)
}

func (r *Registry) health(v types.Vault, rate *big.Rat) (types.VaultHealth, error) {
	h := types.VaultHealth{Vault: v.ID, Rate: rate.FloatString(8)}
	backing, overflow := math.SafeAdd(v.Issued, v.ToBeIssued)
	if overflow {
		return h, types.ErrArithmeticOverflow
	}
	h.Ratio = Ratio(v.Collateral, backing, rate)
	required, err := RequiredCollateral(backing, rate, r.thresholds.Secure)
	if err != nil {
		return h, err
	}
	minimum, err := RequiredCollateral(backing, rate, r.thresholds.Minimum)
	if err != nil {
		return h, err
	}
	liquidation, err := RequiredCollateral(backing, rate, r.thresholds.Liquidation)
	if err != nil {
		return h, err
	}
	h.RequiredSecure = required
	h.BelowSecure = v.Collateral < required
	h.BelowMinimum = v.Collateral < minimum
	h.BelowLiquidation = v.IsActive() && v.Collateral < liquidation
	if v.IsActive() {
		if tokens := TokensFor(v.Collateral, rate, r.thresholds.Secure); tokens > backing {
			h.IssuableTokens = tokens - backing
		}
		if v.Collateral > required {
			h.FreeCollateral = v.Collateral - required
		}
	}
	return h, nil
}

// CheckSecure fails with InvariantBreach if an active vault backing tokens is below the secure threshold.
// Withdraw and ReserveToBeIssued run it after every change they make.
func (r *Registry) CheckSecure(id types.Account) error {
	v, err := r.Get(id)
	if err != nil {
		return err
	}
	if !v.IsActive() || (v.Issued == 0 && v.ToBeIssued == 0) {
		return nil
	}
	rate, err := r.Rate()
	if err != nil {
		return err
	}
	h, err := r.health(v, rate)
	if err != nil {
		return err
	}
	if h.BelowSecure {
		return types.Wrap(types.ErrInvariantBreach, "vault %s below the secure threshold at ratio %s", id, h.Ratio)
	}
	return nil
}

// balances points at the obligation counters a request settles against
type balances struct {
	issued       *uint64
	toBeIssued   *uint64
	toBeRedeemed *uint64
}

// settle applies fn to the vault's counters, or to the liquidation vault's once the vault was liquidated
func (r *Registry) settle(id types.Account, fn func(b balances) error) error {
	v, err := r.Get(id)
	if err != nil {
		return err
	}
	if v.IsActive() {
		if err := fn(balances{&v.Issued, &v.ToBeIssued, &v.ToBeRedeemed}); err != nil {
			return err
		}
		return r.put(v)
	}
	lv, err := r.LiquidationVault()
	if err != nil {
		return err
	}
	if err := fn(balances{&lv.Issued, &lv.ToBeIssued, &lv.ToBeRedeemed}); err != nil {
		return err
	}
	return r.putLiquidationVault(lv)
}

func add(counter *uint64, amount uint64) error {
	sum, overflow := math.SafeAdd(*counter, amount)
	if overflow {
		return types.ErrArithmeticOverflow
	}
	*counter = sum
	return nil
}

func sub(counter *uint64, amount uint64) error {
	diff, underflow := math.SafeSub(*counter, amount)
	if underflow {
		return types.Wrap(types.ErrArithmeticUnderflow, "%d - %d", *counter, amount)
	}
	*counter = diff
	return nil
}

// ReserveToBeIssued reserves capacity for an issue request. Only active vaults accept reservations.
func (r *Registry) ReserveToBeIssued(id types.Account, amount uint64) error {
	v, err := r.Active(id)
	if err != nil {
		return err
	}
	backing, overflow := math.SafeAdd(v.Issued, v.ToBeIssued)
	if overflow {
		return types.ErrArithmeticOverflow
	}
	backing, overflow = math.SafeAdd(backing, amount)
	if overflow {
		return types.ErrArithmeticOverflow
	}
	rate, err := r.Rate()
	if err != nil {
		return err
	}
	required, err := RequiredCollateral(backing, rate, r.thresholds.Secure)
	if err != nil {
		return err
	}
	if required > v.Collateral {
		return types.Wrap(types.ErrExceedsCapacity, "%s needs %d collateral for %d tokens, holds %d", id, required, backing, v.Collateral)
	}
	v.ToBeIssued += amount
	if err := r.put(v); err != nil {
		return err
	}
	return r.CheckSecure(id)
}

// ConvertToIssued turns reserved tokens into issued tokens once payment is proven
func (r *Registry) ConvertToIssued(id types.Account, amount uint64) error {
	return r.settle(id, func(b balances) error {
		if err := sub(b.toBeIssued, amount); err != nil {
			return err
		}
		return add(b.issued, amount)
	})
}

// ReleaseToBeIssued drops a reservation that will never be paid
func (r *Registry) ReleaseToBeIssued(id types.Account, amount uint64) error {
	return r.settle(id, func(b balances) error {
		return sub(b.toBeIssued, amount)
	})
}

// IssueExcess issues tokens for an unrequested payment the vault already received, capacity permitting.
// After liquidation the tokens are issued against the liquidation vault.
func (r *Registry) IssueExcess(id types.Account, amount uint64) error {
	v, err := r.Get(id)
	if err != nil {
		return err
	}
	if v.IsActive() {
		if err := r.ReserveToBeIssued(id, amount); err != nil {
			return err
		}
		return r.ConvertToIssued(id, amount)
	}
	return r.settle(id, func(b balances) error {
		return add(b.issued, amount)
	})
}

// ReserveToBeRedeemed commits issued tokens of an active vault to a redeem request
func (r *Registry) ReserveToBeRedeemed(id types.Account, amount uint64) error {
	v, err := r.Active(id)
	if err != nil {
		return err
	}
	redeemable, underflow := math.SafeSub(v.Issued, v.ToBeRedeemed)
	if underflow || redeemable < amount {
		return types.Wrap(types.ErrInsufficientTokensCommitted, "%s can redeem %d", id, redeemable)
	}
	v.ToBeRedeemed += amount
	return r.put(v)
}

// ConvertToRedeemed removes redeemed tokens from the books once they are settled
func (r *Registry) ConvertToRedeemed(id types.Account, amount uint64) error {
	return r.settle(id, func(b balances) error {
		if err := sub(b.toBeRedeemed, amount); err != nil {
			return err
		}
		return sub(b.issued, amount)
	})
}

// ReleaseToBeRedeemed drops a redeem reservation, leaving the tokens issued
func (r *Registry) ReleaseToBeRedeemed(id types.Account, amount uint64) error {
	return r.settle(id, func(b balances) error {
		return sub(b.toBeRedeemed, amount)
	})
}

// SettleResidual settles amount of the redeems a liquidated vault still backs and pays their pro-rata share
// of the retained collateral to an account: the owner when the redeem was paid, the requester when it was
// cancelled. Returns the collateral paid. Active vaults have no residual.
func (r *Registry) SettleResidual(id types.Account, amount uint64, to types.Account) (uint64, error) {
	v, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	if v.IsActive() {
		return 0, nil
	}
	share, err := r.ResidualShare(v, amount)
	if err != nil {
		return 0, err
	}
	if err := sub(&v.ResidualToBeRedeemed, amount); err != nil {
		return 0, err
	}
	if err := sub(&v.Collateral, share); err != nil {
		return 0, err
	}
	if err := r.collateral.Transfer(LockAccount, to, share); err != nil {
		return 0, err
	}
	if err := r.put(v); err != nil {
		return 0, err
	}
	r.logger.Info("Residual collateral settled", "vault", id, "to", to, "redeemed", amount, "collateral", share)
	return share, nil
}

// ResidualShare : the part of a liquidated vault's retained collateral backing amount of its pending redeems
func (r *Registry) ResidualShare(v types.Vault, amount uint64) (uint64, error) {
	if v.IsActive() || v.ResidualToBeRedeemed == 0 {
		return 0, nil
	}
	return MulDiv(v.Collateral, amount, v.ResidualToBeRedeemed)
}

// Slash pays up to amount of the vault's collateral to an account and returns what was paid
func (r *Registry) Slash(id types.Account, to types.Account, amount uint64) (uint64, error) {
	v, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	paid := amount
	if paid > v.Collateral {
		paid = v.Collateral
	}
	if err := r.collateral.Transfer(LockAccount, to, paid); err != nil {
		return 0, err
	}
	v.Collateral -= paid
	if err := r.put(v); err != nil {
		return 0, err
	}
	r.logger.Info("Vault slashed", "vault", id, "to", to, "amount", paid)
	return paid, nil
}
