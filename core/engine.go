package core

import (
	"errors"
	"sync"
	"time"

	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/ledger"
	"github.com/chainpoint/chainpoint-bridge/oracle"
	"github.com/chainpoint/chainpoint-bridge/proof"
	"github.com/chainpoint/chainpoint-bridge/relay"
	"github.com/chainpoint/chainpoint-bridge/reputation"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/chainpoint/chainpoint-bridge/util"
	"github.com/chainpoint/chainpoint-bridge/vault"
	"github.com/hashicorp/go-multierror"
	"github.com/tendermint/tendermint/libs/log"
)

// LedgerFactory : builds the ledger of a currency for one transition
type LedgerFactory func(s database.Store, currency types.Currency) ledger.Ledger

// StoreLedgers keeps token and collateral balances in the bridge's own store
func StoreLedgers(s database.Store, currency types.Currency) ledger.Ledger {
	return ledger.NewStoreLedger(s, currency)
}

// Context : every component of the bridge bound to the write set of a single transition
type Context struct {
	Height       int64
	Time         time.Time
	Store        database.Store
	Records      database.Records
	Relay        *relay.ChainManager
	Proofs       *proof.Verifier
	Rates        *oracle.StoreFeed
	Vaults       *vault.Registry
	Liquidations *vault.LiquidationEngine
	Tokens       ledger.Ledger
	Collateral   ledger.Ledger
	Reputation   reputation.Sink
	Settings     Settings
	Logger       log.Logger

	accepted int
}

// SubmitHeaders forwards a batch to the relay and counts accepted headers
func (c *Context) SubmitHeaders(subs []types.HeaderSubmission) ([]relay.SubmitResult, error) {
	results, err := c.Relay.SubmitHeaders(subs)
	c.accepted += len(results)
	return results, err
}

// MarkTxUsed records that a bitcoin transaction settled a request
func (c *Context) MarkTxUsed(txID string, requestID string) error {
	key := database.Key("usedtx", txID)
	var owner string
	found, err := c.Records.Get(key, &owner)
	if err != nil {
		return err
	}
	if found {
		return types.Wrap(types.ErrTransactionAlreadyUsed, "%s settled %s", txID, owner)
	}
	return c.Records.Put(key, requestID)
}

// Engine : serializes every state transition. Each Update applies fully or not at all.
type Engine struct {
	mu        sync.RWMutex
	kv        database.KV
	settings  Settings
	height    int64
	blockTime time.Time
	halted    error
	ledgers   LedgerFactory
	publisher *reputation.AsyncSink
	Metrics   *Metrics
	logger    log.Logger
}

func NewEngine(kv database.KV, settings Settings, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{
		kv:       kv,
		settings: settings,
		ledgers:  StoreLedgers,
		Metrics:  NewMetrics(),
		logger:   logger,
	}
}

// SetLedgers replaces where token and collateral balances live
func (e *Engine) SetLedgers(f LedgerFactory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledgers = f
}

// SetPublisher forwards committed reputation events to an asynchronous sink
func (e *Engine) SetPublisher(p *reputation.AsyncSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

// SetBlock advances the ledger height and block time seen by later transitions
func (e *Engine) SetBlock(height int64, blockTime time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.height = height
	e.blockTime = blockTime
}

func (e *Engine) Height() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.height
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// Halted returns the invariant breach that stopped the engine, if any
func (e *Engine) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

func (e *Engine) bind(kv database.KV, tokens, collateral ledger.Ledger, rep reputation.Sink) *Context {
	rates := oracle.NewStoreFeed(kv, e.height, e.settings.Oracle)
	chain := relay.NewChainManager(kv, e.settings.Relay, e.height, e.blockTime, e.logger)
	registry := vault.NewRegistry(kv, rates, collateral, e.settings.Thresholds, e.settings.Relay.Chain, e.height, e.logger)
	return &Context{
		Height:       e.height,
		Time:         e.blockTime,
		Store:        kv,
		Records:      database.Records{Store: kv},
		Relay:        chain,
		Proofs:       proof.NewVerifier(chain, e.settings.Relay.Chain),
		Rates:        rates,
		Vaults:       registry,
		Liquidations: vault.NewLiquidationEngine(registry, tokens, e.logger),
		Tokens:       tokens,
		Collateral:   collateral,
		Reputation:   rep,
		Settings:     e.settings,
		Logger:       e.logger,
	}
}

// Update runs fn against a fresh write set. On success the write set is committed as one batch and the
// reputation events it produced are published. On failure external ledger effects are undone and nothing
// is written. An invariant breach halts the engine.
func (e *Engine) Update(kind string, fn func(ctx *Context) error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.Metrics.observe(kind, err) }()
	if e.halted != nil {
		return types.Wrap(types.ErrInvariantBreach, "bridge halted: %s", e.halted.Error())
	}

	overlay := database.NewOverlay(e.kv)
	tokens := ledger.NewJournal(e.ledgers(overlay, types.WrappedCurrency))
	collateral := ledger.NewJournal(e.ledgers(overlay, types.CollateralCurrency))
	recorder := reputation.NewRecorder(reputation.NewStoreSink(overlay, e.height), e.height, e.blockTime, e.logger)
	ctx := e.bind(overlay, tokens, collateral, recorder)

	if err = fn(ctx); err != nil {
		var result *multierror.Error
		if rbErr := tokens.Rollback(); rbErr != nil {
			result = multierror.Append(result, rbErr)
		}
		if rbErr := collateral.Rollback(); rbErr != nil {
			result = multierror.Append(result, rbErr)
		}
		overlay.Discard()
		if rbErr := result.ErrorOrNil(); rbErr != nil {
			e.logger.Error("Ledger rollback incomplete", "kind", kind, "error", rbErr.Error())
			err = multierror.Append(err, rbErr)
		}
		if errors.Is(err, types.ErrInvariantBreach) {
			e.halted = err
			e.logger.Error("Invariant breach, halting state transitions", "kind", kind, "error", err.Error())
		}
		return err
	}
	if err = overlay.Commit(); err != nil {
		_ = tokens.Rollback()
		_ = collateral.Rollback()
		return util.LoggerError(e.logger, err)
	}
	tokens.Forget()
	collateral.Forget()

	e.Metrics.Headers.Add(float64(ctx.accepted))
	if state, sErr := ctx.Relay.State(); sErr == nil {
		if lv, lErr := ctx.Vaults.LiquidationVault(); lErr == nil {
			e.Metrics.snapshot(state, lv)
		}
	}
	if e.publisher != nil {
		e.publisher.Enqueue(recorder.Events()...)
	}
	return nil
}

// View runs fn against committed state. Writes made by fn are dropped.
func (e *Engine) View(fn func(ctx *Context) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	overlay := database.NewOverlay(e.kv)
	defer overlay.Discard()
	ctx := e.bind(overlay, e.ledgers(overlay, types.WrappedCurrency), e.ledgers(overlay, types.CollateralCurrency), nil)
	return fn(ctx)
}
