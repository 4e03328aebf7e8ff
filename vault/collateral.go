package vault

import (
	"fmt"
	"math"
	"math/big"

	"github.com/chainpoint/chainpoint-bridge/types"
)

// Thresholds : collateralization ratios, secure >= minimum >= liquidation
type Thresholds struct {
	Secure            *big.Rat
	Minimum           *big.Rat
	Liquidation       *big.Rat
	MinimumCollateral uint64
}

// ParseRat parses a non negative decimal or fraction
func ParseRat(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("%q is negative", s)
	}
	return r, nil
}

func ParseThresholds(cfg types.VaultConfig) (Thresholds, error) {
	secure, err := ParseRat(cfg.SecureThreshold)
	if err != nil {
		return Thresholds{}, fmt.Errorf("secure threshold: %w", err)
	}
	minimum, err := ParseRat(cfg.MinimumThreshold)
	if err != nil {
		return Thresholds{}, fmt.Errorf("minimum threshold: %w", err)
	}
	liquidation, err := ParseRat(cfg.LiquidationThreshold)
	if err != nil {
		return Thresholds{}, fmt.Errorf("liquidation threshold: %w", err)
	}
	if secure.Cmp(minimum) < 0 || minimum.Cmp(liquidation) < 0 || liquidation.Sign() <= 0 {
		return Thresholds{}, fmt.Errorf("thresholds must satisfy secure >= minimum >= liquidation > 0")
	}
	return Thresholds{Secure: secure, Minimum: minimum, Liquidation: liquidation, MinimumCollateral: cfg.MinimumCollateral}, nil
}

func ratToUint(r *big.Rat, roundUp bool) (uint64, error) {
	q, m := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if roundUp && m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if q.Sign() < 0 {
		return 0, types.ErrArithmeticUnderflow
	}
	if !q.IsUint64() {
		return 0, types.Wrap(types.ErrArithmeticOverflow, "%s does not fit 64 bits", q.String())
	}
	return q.Uint64(), nil
}

func ratOf(amount uint64) *big.Rat {
	return new(big.Rat).SetInt(new(big.Int).SetUint64(amount))
}

// MulRat returns floor(amount * r)
func MulRat(amount uint64, r *big.Rat) (uint64, error) {
	return ratToUint(new(big.Rat).Mul(ratOf(amount), r), false)
}

// MulRatUp returns ceil(amount * r)
func MulRatUp(amount uint64, r *big.Rat) (uint64, error) {
	return ratToUint(new(big.Rat).Mul(ratOf(amount), r), true)
}

// MulDiv returns floor(a * b / c) without intermediate overflow. c must not be zero.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, types.Wrap(types.ErrInvariantBreach, "division by zero")
	}
	n := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	n.Quo(n, new(big.Int).SetUint64(c))
	if !n.IsUint64() {
		return 0, types.ErrArithmeticOverflow
	}
	return n.Uint64(), nil
}

// CollateralFor : collateral worth amount wrapped units at rate, rounded down
func CollateralFor(amount uint64, rate *big.Rat) (uint64, error) {
	return MulRat(amount, rate)
}

// RequiredCollateral : collateral needed to back tokens at threshold, rounded up
func RequiredCollateral(tokens uint64, rate *big.Rat, threshold *big.Rat) (uint64, error) {
	return MulRatUp(tokens, new(big.Rat).Mul(rate, threshold))
}

// TokensFor : wrapped units that collateral can back at threshold, rounded down
func TokensFor(collateral uint64, rate *big.Rat, threshold *big.Rat) uint64 {
	denominator := new(big.Rat).Mul(rate, threshold)
	if denominator.Sign() <= 0 {
		return math.MaxUint64
	}
	tokens, err := ratToUint(new(big.Rat).Quo(ratOf(collateral), denominator), false)
	if err != nil {
		return math.MaxUint64
	}
	return tokens
}

// Ratio : collateral over the value of tokens, four decimals, "inf" without obligations
func Ratio(collateral uint64, tokens uint64, rate *big.Rat) string {
	if tokens == 0 {
		return "inf"
	}
	value := new(big.Rat).Mul(ratOf(tokens), rate)
	return new(big.Rat).Quo(ratOf(collateral), value).FloatString(4)
}
