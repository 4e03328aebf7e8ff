package types

// VaultStatus : lifecycle state of a vault. Liquidation is one-way.
type VaultStatus string

const (
	VaultActive     VaultStatus = "Active"
	VaultLiquidated VaultStatus = "Liquidated"
)

// Vault : a collateral backed custodian keyed by its owner account
type Vault struct {
	ID           Account     `json:"id"`
	BtcAddress   string      `json:"btc_address"`
	Collateral   uint64      `json:"collateral"`
	Issued       uint64      `json:"issued"`
	ToBeIssued   uint64      `json:"to_be_issued"`
	ToBeRedeemed uint64      `json:"to_be_redeemed"`
	Status       VaultStatus `json:"status"`
	RegisteredAt int64       `json:"registered_at"`
	LiquidatedAt int64       `json:"liquidated_at,omitempty"`
	// ResidualToBeRedeemed tracks redeems in flight at liquidation, still settled against the retained collateral
	ResidualToBeRedeemed uint64 `json:"residual_to_be_redeemed,omitempty"`
}

// IsActive : true unless the vault was liquidated
func (v Vault) IsActive() bool {
	return v.Status == VaultActive
}

// LiquidationVault : shared pool holding the obligations and seized collateral of every liquidated vault
type LiquidationVault struct {
	Collateral   uint64 `json:"collateral"`
	Issued       uint64 `json:"issued"`
	ToBeIssued   uint64 `json:"to_be_issued"`
	ToBeRedeemed uint64 `json:"to_be_redeemed"`
	Liquidations uint64 `json:"liquidations"`
}

// VaultHealth : on demand collateralization report
type VaultHealth struct {
	Vault            Account `json:"vault"`
	Rate             string  `json:"rate"`
	Ratio            string  `json:"ratio"`
	RequiredSecure   uint64  `json:"required_secure"`
	BelowSecure      bool    `json:"below_secure"`
	BelowMinimum     bool    `json:"below_minimum"`
	BelowLiquidation bool    `json:"below_liquidation"`
	IssuableTokens   uint64  `json:"issuable_tokens"`
	FreeCollateral   uint64  `json:"free_collateral"`
}
