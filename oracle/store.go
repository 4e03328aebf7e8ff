package oracle

import (
	"math/big"

	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/types"
)

// RateRecord : the last rate reported for a pair
type RateRecord struct {
	Pair   types.CurrencyPair `json:"pair"`
	Rate   string             `json:"rate"`
	Height int64              `json:"height"`
	Oracle types.Account      `json:"oracle"`
}

// StoreFeed : rates written by authorized oracle accounts through RATE transactions.
// A rate older than maxAge ledger heights is treated as unavailable.
type StoreFeed struct {
	records database.Records
	height  int64
	maxAge  int64
	oracles map[types.Account]bool
}

func NewStoreFeed(s database.Store, height int64, cfg types.OracleConfig) *StoreFeed {
	oracles := map[types.Account]bool{}
	for _, a := range cfg.Accounts {
		oracles[a] = true
	}
	return &StoreFeed{records: database.Records{Store: s}, height: height, maxAge: cfg.MaxAge, oracles: oracles}
}

func rateKey(pair types.CurrencyPair) string {
	return database.Key("rate", pair.String())
}

// SetRate records a rate reported by oracle at the current height
func (f *StoreFeed) SetRate(oracle types.Account, pair types.CurrencyPair, rate string) error {
	if !f.oracles[oracle] {
		return types.Wrap(types.ErrUnauthorizedCaller, "%s is not an oracle", oracle)
	}
	if _, err := ParseRate(rate); err != nil {
		return types.Wrap(types.ErrMalformedTx, "%s", err.Error())
	}
	return f.records.Put(rateKey(pair), RateRecord{Pair: pair, Rate: rate, Height: f.height, Oracle: oracle})
}

// Record returns the stored rate record, fresh or not
func (f *StoreFeed) Record(pair types.CurrencyPair) (RateRecord, bool, error) {
	var rec RateRecord
	found, err := f.records.Get(rateKey(pair), &rec)
	return rec, found, err
}

func (f *StoreFeed) GetExchangeRate(pair types.CurrencyPair) (*big.Rat, error) {
	rec, found, err := f.Record(pair)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.Wrap(types.ErrOracleUnavailable, "no rate for %s", pair)
	}
	if f.maxAge > 0 && f.height-rec.Height > f.maxAge {
		return nil, types.Wrap(types.ErrOracleUnavailable, "rate for %s from height %d is stale", pair, rec.Height)
	}
	return ParseRate(rec.Rate)
}
