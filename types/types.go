package types

import (
	"time"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/privval"
)

// Account : identity of a ledger participant, the hex encoded compressed secp256k1 public key of its signer
type Account string

// Currency : ledger currency code
type Currency string

const (
	// CollateralCurrency backs vault obligations and griefing deposits
	CollateralCurrency Currency = "DOT"
	// WrappedCurrency is the bridge token, one unit per satoshi
	WrappedCurrency Currency = "BTC"
)

// CurrencyPair : base/quote pair used to look up exchange rates
type CurrencyPair struct {
	Base  Currency `json:"base"`
	Quote Currency `json:"quote"`
}

func (p CurrencyPair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// WrappedToCollateral : the pair whose rate converts wrapped token units into collateral units
var WrappedToCollateral = CurrencyPair{Base: WrappedCurrency, Quote: CollateralCurrency}

// RelayConfig : network parameters consumed by the header relay
type RelayConfig struct {
	Network                string        `mapstructure:"network"`
	Confirmations          int64         `mapstructure:"confirmations"`
	LedgerConfirmations    int64         `mapstructure:"ledger_confirmations"`
	MedianTimeSpan         int           `mapstructure:"median_time_span"`
	MaxFutureDrift         time.Duration `mapstructure:"max_future_drift"`
	DisableDifficultyCheck bool          `mapstructure:"disable_difficulty_check"`
	HeaderCacheSize        int           `mapstructure:"header_cache_size"`
}

// VaultConfig : collateral thresholds as decimal strings, e.g. "1.5"
type VaultConfig struct {
	SecureThreshold      string `mapstructure:"secure_threshold"`
	MinimumThreshold     string `mapstructure:"minimum_threshold"`
	LiquidationThreshold string `mapstructure:"liquidation_threshold"`
	MinimumCollateral    uint64 `mapstructure:"minimum_collateral"`
}

// FeeConfig : fee and penalty rates as decimal strings
type FeeConfig struct {
	IssueFee       string  `mapstructure:"issue_fee"`
	IssueGriefing  string  `mapstructure:"issue_griefing_collateral"`
	RedeemFee      string  `mapstructure:"redeem_fee"`
	RefundFee      string  `mapstructure:"refund_fee"`
	PunishmentFee  string  `mapstructure:"punishment_fee"`
	FeePoolAccount Account `mapstructure:"fee_pool_account"`
	EscrowAccount  Account `mapstructure:"escrow_account"`
	IssueBtcDust   uint64  `mapstructure:"issue_btc_dust"`
	RedeemBtcDust  uint64  `mapstructure:"redeem_btc_dust"`
}

// RequestConfig : expiry periods in ledger heights
type RequestConfig struct {
	IssuePeriod  int64 `mapstructure:"issue_period"`
	RedeemPeriod int64 `mapstructure:"redeem_period"`
}

// OracleConfig : exchange rate sourcing
type OracleConfig struct {
	Accounts     []Account     `mapstructure:"accounts"`
	MaxAge       int64         `mapstructure:"max_age"`
	FeedURL      string        `mapstructure:"feed_url"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisKey     string        `mapstructure:"redis_key"`
	PollInterval int64         `mapstructure:"poll_interval"`
	Leaders      int           `mapstructure:"leaders"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TendermintConfig : the embedded tendermint node and the RPC endpoint used to broadcast transactions
type TendermintConfig struct {
	TMServer string
	TMPort   string
	Config   *cfg.Config
	NodeKey  *p2p.NodeKey
	FilePV   *privval.FilePV
	Logger   log.Logger
}

// BridgeConfig represents values to configure all components of the bridge app
type BridgeConfig struct {
	HomePath          string
	APIPort           string
	DBType            string
	TendermintConfig  TendermintConfig
	ReputationWebhook string
	EnableFaucet      bool
	SignerKey         string
	Relay             RelayConfig
	Vault             VaultConfig
	Fees              FeeConfig
	Requests          RequestConfig
	Oracle            OracleConfig
	Logger            *log.Logger
}

// DefaultBridgeConfig : parameters used when no configuration file overrides them
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		APIPort: "8080",
		DBType:  "goleveldb",
		Relay: RelayConfig{
			Network:             "mainnet",
			Confirmations:       6,
			LedgerConfirmations: 0,
			MedianTimeSpan:      11,
			MaxFutureDrift:      2 * time.Hour,
			HeaderCacheSize:     4096,
		},
		Vault: VaultConfig{
			SecureThreshold:      "1.5",
			MinimumThreshold:     "1.3",
			LiquidationThreshold: "1.1",
			MinimumCollateral:    1000,
		},
		Fees: FeeConfig{
			IssueFee:       "0.005",
			IssueGriefing:  "0.00005",
			RedeemFee:      "0.005",
			RefundFee:      "0",
			PunishmentFee:  "0.1",
			FeePoolAccount: "fee-pool",
			EscrowAccount:  "escrow",
			IssueBtcDust:   1000,
			RedeemBtcDust:  1000,
		},
		Requests: RequestConfig{
			IssuePeriod:  14400,
			RedeemPeriod: 14400,
		},
		Oracle: OracleConfig{
			MaxAge:       600,
			RedisKey:     "bridge:rate:BTC/DOT",
			PollInterval: 10,
			Leaders:      1,
			Timeout:      10 * time.Second,
		},
	}
}

// BridgeState holds Tendermint/ABCI application state. Persisted by ABCI app
type BridgeState struct {
	TxInt     int64     `json:"tx_int"`
	Height    int64     `json:"height"`
	AppHash   []byte    `json:"app_hash"`
	BlockTime time.Time `json:"block_time"`
	Halted    bool      `json:"halted"`
}

// Tx holds a signed bridge transaction
type Tx struct {
	TxType string  `json:"type"`
	Data   string  `json:"data"`
	Sender Account `json:"sender"`
	Nonce  uint64  `json:"nonce"`
	Time   int64   `json:"time"`
	Sig    string  `json:"sig,omitempty"`
}
