package relay

import (
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/tendermint/tendermint/libs/log"
)

// ChainManager : accepts Bitcoin headers into a fork-aware arena and tracks the heaviest chain
type ChainManager struct {
	kv     database.KV
	store  *HeaderStore
	params Params
	height int64
	now    time.Time
	logger log.Logger
}

// SubmitResult : where an accepted header landed
type SubmitResult struct {
	Hash    string `json:"hash"`
	Height  int64  `json:"height"`
	ChainID uint64 `json:"chain_id"`
	Forked  bool   `json:"forked"`
	Reorg   bool   `json:"reorg"`
}

// NewChainManager : height is the ledger height headers are stored at, now bounds header timestamps
func NewChainManager(kv database.KV, params Params, height int64, now time.Time, logger log.Logger) *ChainManager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ChainManager{
		kv:     kv,
		store:  NewHeaderStore(kv),
		params: params,
		height: height,
		now:    now,
		logger: logger,
	}
}

func (cm *ChainManager) Params() Params {
	return cm.params
}

func (cm *ChainManager) Store() *HeaderStore {
	return cm.store
}

// Initialize seeds chain 0 with a trusted header at a known height. Allowed once.
func (cm *ChainManager) Initialize(sub types.HeaderSubmission) (SubmitResult, error) {
	state, err := cm.store.State()
	if err != nil {
		return SubmitResult{}, err
	}
	if state.Initialized {
		return SubmitResult{}, types.ErrRelayAlreadyInitialized
	}
	if sub.Height < 0 {
		return SubmitResult{}, types.Wrap(types.ErrHeightMismatch, "negative start height %d", sub.Height)
	}
	block, err := DecodeHeader(sub.Raw)
	if err != nil {
		return SubmitResult{}, err
	}
	hash := block.BlockHash()
	if err := checkProofOfWork(&hash, block.Bits, cm.params.Chain.PowLimit); err != nil {
		return SubmitResult{}, err
	}
	header := &Header{
		HeaderRecord: types.HeaderRecord{
			Hash:     hash.String(),
			Raw:      sub.Raw,
			Height:   sub.Height,
			ChainID:  0,
			StoredAt: cm.height,
		},
		Block: block,
		Work:  blockchain.CalcWork(block.Bits),
	}
	if err := cm.store.PutHeader(header); err != nil {
		return SubmitResult{}, err
	}
	chain := types.Chain{
		ID:          0,
		StartHeight: sub.Height,
		TipHash:     header.Hash,
		TipHeight:   sub.Height,
		Work:        header.ChainWork,
	}
	if err := cm.store.PutChain(chain); err != nil {
		return SubmitResult{}, err
	}
	if err := cm.store.SetBestHashAt(sub.Height, header.Hash); err != nil {
		return SubmitResult{}, err
	}
	state = types.RelayState{
		Initialized: true,
		StartHeight: sub.Height,
		BestChainID: 0,
		BestHash:    header.Hash,
		BestHeight:  sub.Height,
		BestWork:    header.ChainWork,
		NextChainID: 1,
	}
	if err := cm.store.PutState(state); err != nil {
		return SubmitResult{}, err
	}
	cm.logger.Info("Relay initialized", "hash", header.Hash, "height", sub.Height)
	return SubmitResult{Hash: header.Hash, Height: sub.Height}, nil
}

// SubmitHeader validates a single header and links it into the arena
func (cm *ChainManager) SubmitHeader(sub types.HeaderSubmission) (SubmitResult, error) {
	state, err := cm.store.State()
	if err != nil {
		return SubmitResult{}, err
	}
	if !state.Initialized {
		return SubmitResult{}, types.ErrRelayNotInitialized
	}
	block, err := DecodeHeader(sub.Raw)
	if err != nil {
		return SubmitResult{}, err
	}
	hash := block.BlockHash()
	existing, err := cm.store.GetHeader(hash.String())
	if err != nil {
		return SubmitResult{}, err
	}
	if existing != nil {
		return SubmitResult{}, types.Wrap(types.ErrDuplicateHeader, "%s", hash.String())
	}
	parent, err := cm.store.GetHeader(block.PrevBlock.String())
	if err != nil {
		return SubmitResult{}, err
	}
	if parent == nil {
		return SubmitResult{}, types.Wrap(types.ErrUnknownParent, "%s", block.PrevBlock.String())
	}
	height := parent.Height + 1
	if sub.Height != 0 && sub.Height != height {
		return SubmitResult{}, types.Wrap(types.ErrHeightMismatch, "claimed %d, parent implies %d", sub.Height, height)
	}
	if err := checkProofOfWork(&hash, block.Bits, cm.params.Chain.PowLimit); err != nil {
		return SubmitResult{}, err
	}
	if !cm.params.DisableDifficultyCheck {
		expected, err := cm.expectedBits(parent, block.Timestamp)
		if err != nil {
			return SubmitResult{}, err
		}
		if block.Bits != expected {
			return SubmitResult{}, types.Wrap(types.ErrInvalidProofOfWork, "bits %08x, expected %08x", block.Bits, expected)
		}
	}
	if err := cm.checkTimestamp(parent, block.Timestamp); err != nil {
		return SubmitResult{}, err
	}

	parentChain, found, err := cm.store.GetChain(parent.ChainID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !found {
		return SubmitResult{}, types.Wrap(types.ErrInvariantBreach, "chain %d of header %s missing", parent.ChainID, parent.Hash)
	}
	chain := parentChain
	forked := parentChain.TipHash != parent.Hash
	if forked {
		chain = types.Chain{ID: state.NextChainID, StartHeight: height}
		state.NextChainID++
	}

	header := &Header{
		HeaderRecord: types.HeaderRecord{
			Hash:     hash.String(),
			Raw:      sub.Raw,
			Height:   height,
			ChainID:  chain.ID,
			StoredAt: cm.height,
		},
		Block: block,
		Work:  new(big.Int).Add(parent.Work, blockchain.CalcWork(block.Bits)),
	}
	if err := cm.store.PutHeader(header); err != nil {
		return SubmitResult{}, err
	}
	chain.TipHash = header.Hash
	chain.TipHeight = height
	chain.Work = header.ChainWork
	if err := cm.store.PutChain(chain); err != nil {
		return SubmitResult{}, err
	}

	result := SubmitResult{Hash: header.Hash, Height: height, ChainID: chain.ID, Forked: forked}
	bestWork, err := parseWork(state.BestWork)
	if err != nil {
		return SubmitResult{}, err
	}
	switch {
	case chain.ID == state.BestChainID:
		if err := cm.store.SetBestHashAt(height, header.Hash); err != nil {
			return SubmitResult{}, err
		}
		cm.setBest(&state, header)
	case header.Work.Cmp(bestWork) > 0:
		forkHeight, err := cm.reorganize(state, header)
		if err != nil {
			return SubmitResult{}, err
		}
		cm.logger.Info("Chain reorganization", "old_tip", state.BestHash, "new_tip", header.Hash,
			"fork_height", forkHeight, "new_chain", chain.ID)
		cm.setBest(&state, header)
		state.Reorgs++
		result.Reorg = true
	}
	if err := cm.store.PutState(state); err != nil {
		return SubmitResult{}, err
	}
	cm.logger.Debug("Header accepted", "hash", header.Hash, "height", height, "chain", chain.ID)
	return result, nil
}

// SubmitHeaders accepts headers in order and stops at the first rejection. Headers before it stay accepted.
func (cm *ChainManager) SubmitHeaders(subs []types.HeaderSubmission) ([]SubmitResult, error) {
	results := make([]SubmitResult, 0, len(subs))
	for i, sub := range subs {
		staged := database.NewOverlay(cm.kv)
		child := NewChainManager(staged, cm.params, cm.height, cm.now, cm.logger)
		result, err := child.SubmitHeader(sub)
		if err != nil {
			staged.Discard()
			return results, fmt.Errorf("header %d of %d: %w", i+1, len(subs), err)
		}
		if err := staged.Commit(); err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (cm *ChainManager) setBest(state *types.RelayState, header *Header) {
	state.BestChainID = header.ChainID
	state.BestHash = header.Hash
	state.BestHeight = header.Height
	state.BestWork = header.ChainWork
}

// reorganize rewrites the best chain index from the fork point up to tip and returns the fork height
func (cm *ChainManager) reorganize(state types.RelayState, tip *Header) (int64, error) {
	cursor := tip
	for {
		current, err := cm.store.BestHashAt(cursor.Height)
		if err != nil {
			return 0, err
		}
		if current == cursor.Hash {
			break
		}
		if err := cm.store.SetBestHashAt(cursor.Height, cursor.Hash); err != nil {
			return 0, err
		}
		if cursor.Height <= state.StartHeight {
			return 0, types.Wrap(types.ErrInvariantBreach, "fork below relay start at %d", cursor.Height)
		}
		parent, err := cm.store.GetHeader(cursor.Block.PrevBlock.String())
		if err != nil {
			return 0, err
		}
		if parent == nil {
			return 0, types.Wrap(types.ErrInvariantBreach, "ancestor %s missing", cursor.Block.PrevBlock.String())
		}
		cursor = parent
	}
	for h := tip.Height + 1; h <= state.BestHeight; h++ {
		if err := cm.store.DeleteBestAt(h); err != nil {
			return 0, err
		}
	}
	return cursor.Height, nil
}

// GetHeader returns a header by display hash or ErrHeaderUnknown
func (cm *ChainManager) GetHeader(hash string) (*Header, error) {
	header, err := cm.store.GetHeader(hash)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, types.Wrap(types.ErrHeaderUnknown, "%s", hash)
	}
	return header, nil
}

func (cm *ChainManager) State() (types.RelayState, error) {
	return cm.store.State()
}

// BestChainHeight returns the height of the heaviest chain's tip
func (cm *ChainManager) BestChainHeight() (int64, error) {
	state, err := cm.store.State()
	if err != nil {
		return 0, err
	}
	if !state.Initialized {
		return 0, types.ErrRelayNotInitialized
	}
	return state.BestHeight, nil
}

// BestBlock returns the tip of the heaviest chain
func (cm *ChainManager) BestBlock() (*Header, error) {
	state, err := cm.store.State()
	if err != nil {
		return nil, err
	}
	if !state.Initialized {
		return nil, types.ErrRelayNotInitialized
	}
	return cm.GetHeader(state.BestHash)
}

// BestHeaderAt returns the best chain header at height
func (cm *ChainManager) BestHeaderAt(height int64) (*Header, error) {
	hash, err := cm.store.BestHashAt(height)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, types.Wrap(types.ErrHeaderUnknown, "no best chain header at %d", height)
	}
	return cm.GetHeader(hash)
}

func (cm *ChainManager) Chains() ([]types.Chain, error) {
	return cm.store.Chains()
}

// IsOnBestChain reports whether the header is part of the current heaviest chain
func (cm *ChainManager) IsOnBestChain(header *Header) (bool, error) {
	hash, err := cm.store.BestHashAt(header.Height)
	if err != nil {
		return false, err
	}
	return hash == header.Hash, nil
}

// Confirmations returns the Bitcoin depth of a header on the best chain, counting the tip as 1, or 0 off the best chain
func (cm *ChainManager) Confirmations(header *Header) (int64, error) {
	onBest, err := cm.IsOnBestChain(header)
	if err != nil || !onBest {
		return 0, err
	}
	state, err := cm.store.State()
	if err != nil {
		return 0, err
	}
	return state.BestHeight - header.Height + 1, nil
}

// IsBlockStable : the header is on the best chain, buried by enough Bitcoin blocks and old enough on the ledger
func (cm *ChainManager) IsBlockStable(hash string) (bool, error) {
	header, err := cm.GetHeader(hash)
	if err != nil {
		return false, err
	}
	onBest, err := cm.IsOnBestChain(header)
	if err != nil || !onBest {
		return false, err
	}
	state, err := cm.store.State()
	if err != nil {
		return false, err
	}
	if state.BestHeight-header.Height < cm.params.Confirmations {
		return false, nil
	}
	return cm.height-header.StoredAt >= cm.params.LedgerConfirmations, nil
}
