package abci

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/chainpoint/chainpoint-bridge/core"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/database/badger"
	"github.com/chainpoint/chainpoint-bridge/database/level"
	"github.com/chainpoint/chainpoint-bridge/oracle"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/util"
	types2 "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/version"
)

// variables for protocol version and main db state key
var (
	stateKey                         = []byte("bridge")
	ProtocolVersion version.Protocol = 0x1
)

// badger value log garbage collection interval, in blocks
const gcInterval = 1000

// loadState loads the BridgeState struct from a database instance
func loadState(db database.KV) types.BridgeState {
	stateBytes, err := db.Get(stateKey)
	if util.LogError(err) != nil {
		panic(err)
	}
	var state types.BridgeState
	if len(stateBytes) != 0 {
		err := json.Unmarshal(stateBytes, &state)
		if err != nil {
			panic(err)
		}
	}
	return state
}

// saveState saves the BridgeState struct to disk
func saveState(db database.KV, state types.BridgeState) {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		panic(err)
	}
	if err := db.Set(stateKey, stateBytes); err != nil {
		panic(err)
	}
}

// openKV opens the configured backend behind an LRU read cache
func openKV(config types.BridgeConfig, logger log.Logger) (database.KV, error) {
	var kv database.KV
	switch config.DBType {
	case "badger":
		store, err := badger.New(&badger.Config{DataDir: config.HomePath + "/data/bridge.badger"})
		if err != nil {
			return nil, err
		}
		logger.Info("Opened state database", "backend", "badger", "dir", config.HomePath+"/data/bridge.badger")
		kv = store
	case "", "goleveldb", "memdb", "cleveldb", "boltdb":
		backend := config.DBType
		if backend == "" {
			backend = "goleveldb"
		}
		kv = level.OpenKVStore("bridge", backend, config.HomePath+"/data", logger)
	default:
		return nil, fmt.Errorf("unknown db backend %q", config.DBType)
	}
	size := config.Relay.HeaderCacheSize
	if size <= 0 {
		return kv, nil
	}
	cached, err := database.NewCachedKV(kv, size)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

//---------------------------------------------------

var _ types2.Application = (*BridgeApplication)(nil)

// BridgeApplication : BridgeState and config variables for the abci app
type BridgeApplication struct {
	types2.BaseApplication
	KV         database.KV
	Engine     *core.Engine
	state      *types.BridgeState
	config     types.BridgeConfig
	logger     log.Logger
	rpc        *RPC
	signer     *btcec.PrivateKey
	rates      oracle.Source
	reputation *reputation.AsyncSink
	monitoring int32
	cancel     context.CancelFunc
}

// NewBridgeApplication is ABCI app constructor
func NewBridgeApplication(config types.BridgeConfig) (*BridgeApplication, error) {
	logger := log.NewNopLogger()
	if config.Logger != nil {
		logger = *config.Logger
	}
	settings, err := core.SettingsFromConfig(config)
	if err != nil {
		return nil, err
	}
	kv, err := openKV(config, logger)
	if err != nil {
		return nil, err
	}
	loaded := loadState(kv)
	state := &loaded

	app := BridgeApplication{
		KV:     kv,
		Engine: core.NewEngine(kv, settings, logger),
		state:  state,
		config: config,
		logger: logger,
	}
	app.Engine.SetBlock(state.Height, state.BlockTime)

	if config.SignerKey != "" {
		if app.signer, err = util.ParseKey(config.SignerKey); err != nil {
			return nil, err
		}
		app.logger.Info("Signing bridge transactions", "account", util.AccountOf(app.signer))
	}
	if config.TendermintConfig.TMServer != "" {
		if app.rpc, err = NewRPCClient(config.TendermintConfig, logger); err != nil {
			return nil, err
		}
	}
	if config.Oracle.FeedURL != "" || config.Oracle.RedisAddr != "" {
		if app.rates, err = oracle.NewSource(config.Oracle); err != nil {
			return nil, err
		}
	}
	if config.ReputationWebhook != "" {
		app.reputation = reputation.NewAsyncSink(reputation.NewWebhook(config.ReputationWebhook, 10*time.Second), logger)
		app.Engine.SetPublisher(app.reputation)
	}

	app.logger.Info("Tendermint Block Height", "block_height", app.state.Height)
	return &app, nil
}

// Start launches the background workers: reputation delivery
func (app *BridgeApplication) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	if app.reputation != nil {
		go app.reputation.Start(ctx)
	}
}

// Close stops background workers and closes the state database
func (app *BridgeApplication) Close() error {
	if app.cancel != nil {
		app.cancel()
	}
	if closer, ok := app.rates.(interface{ Close() error }); ok {
		app.LogError(closer.Close())
	}
	return app.KV.Close()
}

// Info : Return the state of the current application in JSON
func (app *BridgeApplication) Info(req types2.RequestInfo) (resInfo types2.ResponseInfo) {
	app.state.Halted = app.Engine.Halted() != nil
	infoJSON, err := json.Marshal(app.state)
	if err != nil {
		app.LogError(err)
		infoJSON = []byte("{}")
	}
	return types2.ResponseInfo{
		Data:             string(infoJSON),
		Version:          version.ABCIVersion,
		AppVersion:       ProtocolVersion.Uint64(),
		LastBlockAppHash: app.state.AppHash,
		LastBlockHeight:  app.state.Height,
	}
}

// InitChain : the validator set is managed by tendermint's genesis file
func (app *BridgeApplication) InitChain(req types2.RequestInitChain) types2.ResponseInitChain {
	app.logger.Info("Init Chain", "chain_id", req.ChainId, "validators", len(req.Validators))
	return types2.ResponseInitChain{}
}

// DeliverTx : tx is base64 encoded json
func (app *BridgeApplication) DeliverTx(tx types2.RequestDeliverTx) types2.ResponseDeliverTx {
	return app.updateStateFromTx(tx.Tx)
}

// CheckTx : Pre-gossip validation
func (app *BridgeApplication) CheckTx(rawTx types2.RequestCheckTx) types2.ResponseCheckTx {
	return app.validateTx(rawTx.Tx)
}

// BeginBlock : the block height is the ledger height every request period is measured against
func (app *BridgeApplication) BeginBlock(req types2.RequestBeginBlock) types2.ResponseBeginBlock {
	app.state.BlockTime = req.Header.Time
	app.Engine.SetBlock(req.Header.Height, req.Header.Time)
	return types2.ResponseBeginBlock{}
}

// EndBlock : Handler that runs at the end of every block
func (app *BridgeApplication) EndBlock(req types2.RequestEndBlock) types2.ResponseEndBlock {
	if app.rates != nil && app.signer != nil && app.rpc != nil {
		go app.RateMonitor()
	}
	if store, ok := app.baseKV().(*badger.Store); ok && req.Height%gcInterval == 0 {
		go func() {
			if err := store.RunGC(0.5); err != nil {
				app.logger.Debug("Badger GC", "result", err.Error())
			}
		}()
	}
	return types2.ResponseEndBlock{}
}

// baseKV unwraps the read cache
func (app *BridgeApplication) baseKV() database.KV {
	if cached, ok := app.KV.(*database.CachedKV); ok {
		return cached.KV
	}
	return app.KV
}

// Commit is called at the end of every block to finalize and save chain state
func (app *BridgeApplication) Commit() types2.ResponseCommit {
	// Finalize new block by calculating appHash and incrementing height
	appHash := make([]byte, 8)
	binary.PutVarint(appHash, app.state.Height)
	app.state.AppHash = appHash
	app.state.Height++
	app.state.Halted = app.Engine.Halted() != nil
	saveState(app.KV, *app.state)

	return types2.ResponseCommit{Data: appHash}
}

// LogError : logs err prefixed by the calling function and returns it
func (app *BridgeApplication) LogError(err error) error {
	if err != nil {
		app.logger.Error(fmt.Sprintf("Error in %s: %s", util.GetCurrentFuncName(2), err.Error()))
	}
	return err
}

// beginMonitor guards against overlapping monitor runs
func (app *BridgeApplication) beginMonitor() bool {
	return atomic.CompareAndSwapInt32(&app.monitoring, 0, 1)
}

func (app *BridgeApplication) endMonitor() {
	atomic.StoreInt32(&app.monitoring, 0)
}
