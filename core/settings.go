package core

import (
	"fmt"
	"math/big"

	"github.com/chainpoint/chainpoint-bridge/relay"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/vault"
)

// Fees : parsed fee and penalty rates
type Fees struct {
	Issue         *big.Rat
	IssueGriefing *big.Rat
	Redeem        *big.Rat
	Refund        *big.Rat
	Punishment    *big.Rat
	FeePool       types.Account
	Escrow        types.Account
	IssueDust     uint64
	RedeemDust    uint64
}

func ParseFees(cfg types.FeeConfig) (Fees, error) {
	fees := Fees{
		FeePool:    cfg.FeePoolAccount,
		Escrow:     cfg.EscrowAccount,
		IssueDust:  cfg.IssueBtcDust,
		RedeemDust: cfg.RedeemBtcDust,
	}
	for _, f := range []struct {
		name  string
		value string
		into  **big.Rat
	}{
		{"issue_fee", cfg.IssueFee, &fees.Issue},
		{"issue_griefing_collateral", cfg.IssueGriefing, &fees.IssueGriefing},
		{"redeem_fee", cfg.RedeemFee, &fees.Redeem},
		{"refund_fee", cfg.RefundFee, &fees.Refund},
		{"punishment_fee", cfg.PunishmentFee, &fees.Punishment},
	} {
		r, err := vault.ParseRat(f.value)
		if err != nil {
			return Fees{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if r.Cmp(big.NewRat(1, 1)) >= 0 && f.into != &fees.Punishment {
			return Fees{}, fmt.Errorf("%s must be below 1", f.name)
		}
		*f.into = r
	}
	if fees.FeePool == "" || fees.Escrow == "" {
		return Fees{}, fmt.Errorf("fee pool and escrow accounts are required")
	}
	return fees, nil
}

// Settings : every parsed network parameter a transition may consult
type Settings struct {
	Relay      relay.Params
	Thresholds vault.Thresholds
	Fees       Fees
	Requests   types.RequestConfig
	Oracle     types.OracleConfig
}

func SettingsFromConfig(cfg types.BridgeConfig) (Settings, error) {
	params, err := relay.ParamsFromConfig(cfg.Relay)
	if err != nil {
		return Settings{}, err
	}
	thresholds, err := vault.ParseThresholds(cfg.Vault)
	if err != nil {
		return Settings{}, err
	}
	fees, err := ParseFees(cfg.Fees)
	if err != nil {
		return Settings{}, err
	}
	if cfg.Requests.IssuePeriod <= 0 || cfg.Requests.RedeemPeriod <= 0 {
		return Settings{}, fmt.Errorf("issue and redeem periods must be positive")
	}
	return Settings{
		Relay:      params,
		Thresholds: thresholds,
		Fees:       fees,
		Requests:   cfg.Requests,
		Oracle:     cfg.Oracle,
	}, nil
}
