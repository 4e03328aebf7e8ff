package types

// Tx payloads, JSON encoded into Tx.Data

type InitRelayMsg struct {
	Header HeaderSubmission `json:"header"`
}

type HeadersMsg struct {
	Headers []HeaderSubmission `json:"headers"`
}

type RateMsg struct {
	Pair CurrencyPair `json:"pair"`
	Rate string       `json:"rate"`
}

type VaultRegisterMsg struct {
	Collateral uint64 `json:"collateral"`
	BtcAddress string `json:"btc_address"`
}

type VaultAddressMsg struct {
	BtcAddress string `json:"btc_address"`
}

type CollateralMsg struct {
	Amount uint64 `json:"amount"`
}

type LiquidateMsg struct {
	Vault Account `json:"vault"`
}

type IssueRequestMsg struct {
	Vault  Account `json:"vault"`
	Amount uint64  `json:"amount"`
}

type RedeemRequestMsg struct {
	Vault      Account `json:"vault"`
	Amount     uint64  `json:"amount"`
	BtcAddress string  `json:"btc_address"`
}

type LiquidationRedeemMsg struct {
	Amount uint64 `json:"amount"`
}

// ExecuteMsg : settles an issue, redeem or refund request with a payment proof
type ExecuteMsg struct {
	RequestID string       `json:"request_id"`
	Payment   PaymentProof `json:"payment"`
}

type CancelMsg struct {
	RequestID string `json:"request_id"`
	Reimburse bool   `json:"reimburse,omitempty"`
}

type MintMsg struct {
	Account  Account  `json:"account"`
	Currency Currency `json:"currency"`
	Amount   uint64   `json:"amount"`
}
