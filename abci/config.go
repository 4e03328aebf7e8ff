package abci

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/util"
	"github.com/jacohend/flag"
	"github.com/spf13/viper"
	cfg "github.com/tendermint/tendermint/config"
	tmflags "github.com/tendermint/tendermint/libs/cli/flags"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/privval"
	types2 "github.com/tendermint/tendermint/types"
	tmtime "github.com/tendermint/tendermint/types/time"
)

// InitConfig : receives flags, ENV variables and bridge.toml and initializes app config struct
func InitConfig(home string) types.BridgeConfig {
	config := types.DefaultBridgeConfig()
	config.HomePath = home

	var listenAddr, tendermintPeers, tendermintSeeds, tendermintLogFilter, logLevel string
	var tmServer, tmPort, signerKeyPath, oracleAccounts string
	var maxFutureDrift, oracleTimeout, blockTime int
	flag.String(flag.DefaultConfigFlagname, "", "path to config file")
	flag.StringVar(&config.Relay.Network, "network", config.Relay.Network, "bitcoin network: mainnet, testnet or regtest")
	flag.Int64Var(&config.Relay.Confirmations, "confirmations", config.Relay.Confirmations, "bitcoin confirmations before a block is stable")
	flag.Int64Var(&config.Relay.LedgerConfirmations, "ledger_confirmations", config.Relay.LedgerConfirmations, "ledger heights a header must be stored before it is stable")
	flag.IntVar(&config.Relay.MedianTimeSpan, "median_time_span", config.Relay.MedianTimeSpan, "headers used for median time past")
	flag.IntVar(&maxFutureDrift, "max_future_drift", int(config.Relay.MaxFutureDrift/time.Second), "seconds a header timestamp may lead the ledger clock, 0 disables the check")
	flag.BoolVar(&config.Relay.DisableDifficultyCheck, "disable_difficulty_check", false, "skip retarget validation (test networks only)")
	flag.IntVar(&config.Relay.HeaderCacheSize, "header_cache_size", config.Relay.HeaderCacheSize, "LRU read cache entries in front of the state db")

	flag.StringVar(&config.Vault.SecureThreshold, "secure_threshold", config.Vault.SecureThreshold, "collateral ratio required to accept new issues")
	flag.StringVar(&config.Vault.MinimumThreshold, "minimum_threshold", config.Vault.MinimumThreshold, "collateral ratio below which a vault is flagged undercollateralized")
	flag.StringVar(&config.Vault.LiquidationThreshold, "liquidation_threshold", config.Vault.LiquidationThreshold, "collateral ratio below which a vault may be liquidated")
	flag.Uint64Var(&config.Vault.MinimumCollateral, "minimum_collateral", config.Vault.MinimumCollateral, "collateral required to register a vault")

	flag.StringVar(&config.Fees.IssueFee, "issue_fee", config.Fees.IssueFee, "issue fee rate")
	flag.StringVar(&config.Fees.IssueGriefing, "issue_griefing_collateral", config.Fees.IssueGriefing, "griefing collateral rate of an issue request")
	flag.StringVar(&config.Fees.RedeemFee, "redeem_fee", config.Fees.RedeemFee, "redeem fee rate")
	flag.StringVar(&config.Fees.RefundFee, "refund_fee", config.Fees.RefundFee, "refund fee rate")
	flag.StringVar(&config.Fees.PunishmentFee, "punishment_fee", config.Fees.PunishmentFee, "punishment rate paid by a vault failing a redeem")
	flag.Uint64Var(&config.Fees.IssueBtcDust, "issue_btc_dust", config.Fees.IssueBtcDust, "smallest issue amount in satoshi")
	flag.Uint64Var(&config.Fees.RedeemBtcDust, "redeem_btc_dust", config.Fees.RedeemBtcDust, "smallest redeem payout in satoshi")
	flag.Int64Var(&config.Requests.IssuePeriod, "issue_period", config.Requests.IssuePeriod, "ledger heights an issue request stays open")
	flag.Int64Var(&config.Requests.RedeemPeriod, "redeem_period", config.Requests.RedeemPeriod, "ledger heights a redeem request stays open")

	flag.StringVar(&oracleAccounts, "oracle_accounts", "", "comma-delimited accounts allowed to set exchange rates")
	flag.Int64Var(&config.Oracle.MaxAge, "oracle_max_age", config.Oracle.MaxAge, "ledger heights an exchange rate stays valid")
	flag.StringVar(&config.Oracle.FeedURL, "oracle_feed_url", "", "price service polled by the rate monitor")
	flag.StringVar(&config.Oracle.RedisAddr, "oracle_redis_addr", "", "redis instance holding the exchange rate")
	flag.StringVar(&config.Oracle.RedisKey, "oracle_redis_key", config.Oracle.RedisKey, "redis key holding the exchange rate")
	flag.Int64Var(&config.Oracle.PollInterval, "oracle_poll_interval", config.Oracle.PollInterval, "blocks between rate broadcasts")
	flag.IntVar(&config.Oracle.Leaders, "oracle_leaders", config.Oracle.Leaders, "oracle accounts elected to post the rate each round")
	flag.IntVar(&oracleTimeout, "oracle_timeout", int(config.Oracle.Timeout/time.Second), "seconds to wait for the price source")

	flag.StringVar(&config.ReputationWebhook, "reputation_webhook", "", "url receiving committed reputation events")
	flag.BoolVar(&config.EnableFaucet, "enable_faucet", false, "accept MINT transactions (test networks only)")
	flag.StringVar(&signerKeyPath, "signer_key_path", home+"/data/keys/signer.key", "path to the hex secp256k1 key signing this node's transactions")
	flag.StringVar(&config.DBType, "db_type", config.DBType, "state db backend: goleveldb, memdb or badger")
	flag.StringVar(&config.APIPort, "api_port", config.APIPort, "bridge api port")
	flag.StringVar(&tmServer, "tendermint_host", "127.0.0.1", "tendermint api url")
	flag.StringVar(&tmPort, "tendermint_port", "26657", "tendermint api port")
	flag.IntVar(&blockTime, "block_time", 5, "seconds between ledger blocks")
	flag.StringVar(&logLevel, "log_level", "info", "log level")
	flag.StringVar(&listenAddr, "bridge_base_uri", "http://0.0.0.0:26656", "tendermint base uri")
	flag.StringVar(&tendermintPeers, "peers", "", "comma-delimited list of peers")
	flag.StringVar(&tendermintSeeds, "seeds", "", "comma-delimited list of seeds")
	flag.StringVar(&tendermintLogFilter, "log_filter", "main:debug,state:info,*:error", "log level for tendermint")
	flag.Parse()

	config.Relay.MaxFutureDrift = time.Duration(maxFutureDrift) * time.Second
	config.Oracle.Timeout = time.Duration(oracleTimeout) * time.Second
	for _, account := range strings.Split(oracleAccounts, ",") {
		if account = strings.TrimSpace(account); account != "" {
			config.Oracle.Accounts = append(config.Oracle.Accounts, types.Account(account))
		}
	}
	if err := loadBridgeFile(home, &config); util.LogError(err) != nil {
		panic(err)
	}

	allowLevel, err := log.AllowLevel(strings.ToLower(logLevel))
	if err != nil {
		panic(err)
	}
	tmLogger := log.NewFilter(log.NewTMLogger(log.NewSyncWriter(os.Stdout)), allowLevel)
	config.Logger = &tmLogger

	tmConfig, err := initTendermintConfig(home, config.Relay.Network, listenAddr, tendermintPeers, tendermintSeeds, tendermintLogFilter, time.Duration(blockTime)*time.Second)
	if util.LogError(err) != nil {
		panic(err)
	}
	tmConfig.TMServer = tmServer
	tmConfig.TMPort = tmPort
	config.TendermintConfig = tmConfig

	config.SignerKey, err = loadOrGenSignerKey(signerKeyPath)
	if util.LogError(err) != nil {
		panic(err)
	}
	return config
}

// loadBridgeFile overlays the [relay], [vault], [fees], [requests] and [oracle] sections of <home>/bridge.toml
func loadBridgeFile(home string, config *types.BridgeConfig) error {
	v := viper.New()
	v.SetConfigName("bridge")
	v.SetConfigType("toml")
	v.AddConfigPath(home)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	sections := map[string]interface{}{
		"relay":    &config.Relay,
		"vault":    &config.Vault,
		"fees":     &config.Fees,
		"requests": &config.Requests,
		"oracle":   &config.Oracle,
	}
	for key, target := range sections {
		if !v.IsSet(key) {
			continue
		}
		if err := v.UnmarshalKey(key, target); err != nil {
			return fmt.Errorf("bridge.toml [%s]: %w", key, err)
		}
	}
	return nil
}

// loadOrGenSignerKey reads the hex signing key at path, creating one on first start
func loadOrGenSignerKey(path string) (string, error) {
	if tmos.FileExists(path) {
		content, err := ioutil.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(content)), nil
	}
	key, err := util.GenerateKey()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}
	encoded := hex.EncodeToString(key.Serialize())
	if err := ioutil.WriteFile(path, []byte(encoded), 0600); err != nil {
		return "", err
	}
	return encoded, nil
}

// initTendermintConfig : imports tendermint config.toml and initializes config variables
func initTendermintConfig(home string, network string, listenAddr string, tendermintPeers string, tendermintSeeds string,
	tendermintLogFilter string, blockTime time.Duration) (types.TendermintConfig, error) {
	var TMConfig types.TendermintConfig
	initEnv("TM")
	viper.SetConfigName("config")         // name of config file (without extension)
	viper.AddConfigPath(home + "/config") // search root directory /config

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// ignore not found error, return other errors
			return TMConfig, err
		}
	}
	defaultConfig := cfg.DefaultConfig()
	err := viper.Unmarshal(defaultConfig)
	if err != nil {
		return TMConfig, err
	}
	defaultConfig.SetRoot(home)
	defaultConfig.DBPath = home + "/data"
	defaultConfig.DBBackend = "goleveldb"
	defaultConfig.Consensus.TimeoutCommit = blockTime
	defaultConfig.RPC.ListenAddress = "tcp://0.0.0.0:26657"
	defaultConfig.P2P.ListenAddress = "tcp://0.0.0.0:26656"
	if host := hostOnly(listenAddr); host != "" && host != "0.0.0.0" {
		defaultConfig.P2P.ExternalAddress = host + ":26656"
	}
	defaultConfig.TxIndex.IndexAllKeys = true
	peers := []string{}
	if tendermintPeers != "" {
		peers = strings.Split(tendermintPeers, ",")
		defaultConfig.P2P.PersistentPeers = tendermintPeers
	}
	if tendermintSeeds != "" {
		peers = strings.Split(tendermintSeeds, ",")
		defaultConfig.P2P.Seeds = tendermintSeeds
	}
	cfg.EnsureRoot(defaultConfig.RootDir)

	//initialize logger
	tmlogger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	if defaultConfig.LogFormat == cfg.LogFormatJSON {
		tmlogger = log.NewTMJSONLogger(log.NewSyncWriter(os.Stdout))
	}
	logger, err := tmflags.ParseLogLevel(tendermintLogFilter, tmlogger, cfg.DefaultLogLevel())
	if err != nil {
		return TMConfig, err
	}
	logger = logger.With("module", "main")
	TMConfig.Logger = logger

	genFile := defaultConfig.GenesisFile()
	peerGenesisFound := false
	// pull the genesis file from the first peer when joining an existing network
	if len(peers) != 0 && !tmos.FileExists(genFile) {
		peerGenesisFound = fetchPeerGenesis(peers[0], genFile, logger)
	}

	// initialize private validator key
	newPrivValKey := defaultConfig.PrivValidatorKeyFile()
	newPrivValState := defaultConfig.PrivValidatorStateFile()
	if !tmos.FileExists(newPrivValState) {
		filePV := privval.GenFilePV(newPrivValKey, newPrivValState)
		filePV.LastSignState.Save()
	}
	TMConfig.FilePV = privval.LoadOrGenFilePV(newPrivValKey, newPrivValState)

	//initialize this node's keys
	nodeKey, err := p2p.LoadOrGenNodeKey(defaultConfig.NodeKeyFile())
	if err != nil {
		return TMConfig, err
	}
	TMConfig.NodeKey = nodeKey

	// initialize genesis file
	if tmos.FileExists(genFile) || peerGenesisFound {
		logger.Info("Found genesis file", "path", genFile)
	} else if len(peers) != 0 {
		return TMConfig, errors.New("Can't retrieve Genesis File from Seed- check firewall on both ends")
	} else {
		genDoc := types2.GenesisDoc{
			ChainID:         fmt.Sprintf(network+"-bridge-%d", time.Now().Second()),
			GenesisTime:     tmtime.Now(),
			ConsensusParams: types2.DefaultConsensusParams(),
		}
		key, err := TMConfig.FilePV.GetPubKey()
		if err != nil {
			return TMConfig, err
		}
		genDoc.Validators = []types2.GenesisValidator{{
			Address: key.Address(),
			PubKey:  key,
			Power:   10,
		}}
		if err := genDoc.SaveAs(genFile); err != nil {
			return TMConfig, err
		}
		logger.Info("Generated genesis file", "path", genFile)
	}
	TMConfig.Config = defaultConfig

	return TMConfig, nil
}

// fetchPeerGenesis copies the genesis document of a <id>@<ip>:<port> peer
func fetchPeerGenesis(peer string, genFile string, logger log.Logger) bool {
	nodeURI := strings.Split(peer, "@")
	if len(nodeURI) != 2 {
		return false
	}
	peerURI := strings.Split(nodeURI[1], ":")
	if len(peerURI) != 2 {
		return false
	}
	rpc, err := NewRPCClient(types.TendermintConfig{TMServer: peerURI[0], TMPort: "26657"}, logger)
	if err != nil {
		return false
	}
	genesis, err := rpc.GetGenesis()
	if err != nil {
		return false
	}
	genDoc := types2.GenesisDoc{
		ChainID:         genesis.Genesis.ChainID,
		GenesisTime:     genesis.Genesis.GenesisTime,
		ConsensusParams: genesis.Genesis.ConsensusParams,
		Validators:      genesis.Genesis.Validators,
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		logger.Error("Saving peer genesis", "error", err.Error())
		return false
	}
	logger.Info("Saved genesis file from peer", "path", genFile)
	return true
}

// hostOnly strips scheme and port from a uri
func hostOnly(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	if i := strings.Index(uri, ":"); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

// initEnv sets to use ENV variables if set.
func initEnv(prefix string) {
	copyEnvVars(prefix)

	// env variables with TM prefix (eg. TM_ROOT)
	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// This copies all variables like TMROOT to TM_ROOT,
// so we can support both formats for the user
func copyEnvVars(prefix string) {
	prefix = strings.ToUpper(prefix)
	ps := prefix + "_"
	for _, e := range os.Environ() {
		kv := strings.SplitN(e, "=", 2)
		if len(kv) == 2 {
			k, v := kv[0], kv[1]
			if strings.HasPrefix(k, prefix) && !strings.HasPrefix(k, ps) {
				k2 := strings.Replace(k, prefix, ps, 1)
				os.Setenv(k2, v)
			}
		}
	}
}
