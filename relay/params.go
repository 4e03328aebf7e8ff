package relay

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/chainpoint/chainpoint-bridge/types"
)

// Params : network rules the relay validates headers against
type Params struct {
	Chain                  *chaincfg.Params
	Confirmations          int64
	LedgerConfirmations    int64
	MedianTimeSpan         int
	MaxFutureDrift         time.Duration
	DisableDifficultyCheck bool
	// NoRetargeting keeps every header at its parent's difficulty, as regtest does
	NoRetargeting bool
}

// ParamsForNetwork : maps a network name to btcd chain parameters
func ParamsForNetwork(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest", "regression":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %s", network)
}

// ParamsFromConfig : builds relay parameters from the relay section of the bridge config
func ParamsFromConfig(cfg types.RelayConfig) (Params, error) {
	chain, err := ParamsForNetwork(cfg.Network)
	if err != nil {
		return Params{}, err
	}
	p := Params{
		Chain:                  chain,
		Confirmations:          cfg.Confirmations,
		LedgerConfirmations:    cfg.LedgerConfirmations,
		MedianTimeSpan:         cfg.MedianTimeSpan,
		MaxFutureDrift:         cfg.MaxFutureDrift,
		DisableDifficultyCheck: cfg.DisableDifficultyCheck,
		NoRetargeting:          chain.Name == chaincfg.RegressionNetParams.Name,
	}
	if p.MedianTimeSpan <= 0 {
		p.MedianTimeSpan = 11
	}
	return p, nil
}

// BlocksPerRetarget : length of a difficulty window, 2016 on every public network
func (p Params) BlocksPerRetarget() int64 {
	return int64(p.Chain.TargetTimespan / p.Chain.TargetTimePerBlock)
}
