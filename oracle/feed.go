package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/chainpoint/chainpoint-bridge/types"
)

// Feed : read side of the exchange rate oracle. A rate converts one base unit into quote units.
type Feed interface {
	GetExchangeRate(pair types.CurrencyPair) (*big.Rat, error)
}

// ParseRate accepts decimal ("2.5") or fractional ("5/2") rates and refuses anything not strictly positive
func ParseRate(s string) (*big.Rat, error) {
	rate, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid rate %q", s)
	}
	if rate.Sign() <= 0 {
		return nil, fmt.Errorf("rate %q must be positive", s)
	}
	return rate, nil
}

// StaticFeed : fixed rates, used by tests and single node development setups
type StaticFeed struct {
	mu    sync.RWMutex
	rates map[types.CurrencyPair]*big.Rat
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{rates: map[types.CurrencyPair]*big.Rat{}}
}

func (f *StaticFeed) Set(pair types.CurrencyPair, rate string) error {
	r, err := ParseRate(rate)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[pair] = r
	return nil
}

// Clear removes a rate, making the pair unavailable
func (f *StaticFeed) Clear(pair types.CurrencyPair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rates, pair)
}

func (f *StaticFeed) GetExchangeRate(pair types.CurrencyPair) (*big.Rat, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rate, ok := f.rates[pair]
	if !ok {
		return nil, types.Wrap(types.ErrOracleUnavailable, "no rate for %s", pair)
	}
	return new(big.Rat).Set(rate), nil
}
