package relay

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chainpoint/chainpoint-bridge/types"
)

// checkProofOfWork : the claimed target must be positive and within the network limit, and the hash must meet it
func checkProofOfWork(hash *chainhash.Hash, bits uint32, powLimit *big.Int) error {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return types.Wrap(types.ErrInvalidProofOfWork, "target %08x is not positive", bits)
	}
	if target.Cmp(powLimit) > 0 {
		return types.Wrap(types.ErrInvalidProofOfWork, "target %08x above the network limit", bits)
	}
	if blockchain.HashToBig(hash).Cmp(target) > 0 {
		return types.Wrap(types.ErrInvalidProofOfWork, "hash %s above target %08x", hash.String(), bits)
	}
	return nil
}

// expectedBits computes the difficulty a child of parent must claim
func (cm *ChainManager) expectedBits(parent *Header, timestamp time.Time) (uint32, error) {
	chain := cm.params.Chain
	if cm.params.NoRetargeting {
		return parent.Block.Bits, nil
	}
	interval := cm.params.BlocksPerRetarget()
	if (parent.Height+1)%interval != 0 {
		if chain.ReduceMinDifficulty {
			reduction := int64(chain.MinDiffReductionTime / time.Second)
			if timestamp.Unix() > parent.Block.Timestamp.Unix()+reduction {
				return chain.PowLimitBits, nil
			}
			return cm.lastNonMinimumBits(parent)
		}
		return parent.Block.Bits, nil
	}

	first, err := cm.ancestor(parent, interval-1)
	if err != nil {
		return 0, err
	}
	if first == nil {
		return 0, types.Wrap(types.ErrRetargetWindowMissing, "window start for height %d not stored", parent.Height+1)
	}
	targetTimespan := int64(chain.TargetTimespan / time.Second)
	minTimespan := targetTimespan / chain.RetargetAdjustmentFactor
	maxTimespan := targetTimespan * chain.RetargetAdjustmentFactor
	actual := parent.Block.Timestamp.Unix() - first.Block.Timestamp.Unix()
	if actual < minTimespan {
		actual = minTimespan
	} else if actual > maxTimespan {
		actual = maxTimespan
	}

	newTarget := blockchain.CompactToBig(parent.Block.Bits)
	newTarget.Mul(newTarget, big.NewInt(actual))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))
	if newTarget.Cmp(chain.PowLimit) > 0 {
		newTarget.Set(chain.PowLimit)
	}
	bits := blockchain.BigToCompact(newTarget)
	cm.logger.Info("Difficulty retarget", "height", parent.Height+1,
		"old_bits", parent.Block.Bits, "new_bits", bits, "timespan", actual)
	return bits, nil
}

// lastNonMinimumBits walks back to the last header of the window that did not use the minimum difficulty exception
func (cm *ChainManager) lastNonMinimumBits(from *Header) (uint32, error) {
	interval := cm.params.BlocksPerRetarget()
	cursor := from
	for cursor.Height%interval != 0 && cursor.Block.Bits == cm.params.Chain.PowLimitBits {
		parent, err := cm.store.GetHeader(cursor.Block.PrevBlock.String())
		if err != nil {
			return 0, err
		}
		if parent == nil {
			break
		}
		cursor = parent
	}
	return cursor.Block.Bits, nil
}

// ancestor walks back n parents, returning nil when the walk leaves the stored arena
func (cm *ChainManager) ancestor(from *Header, n int64) (*Header, error) {
	cursor := from
	for i := int64(0); i < n; i++ {
		parent, err := cm.store.GetHeader(cursor.Block.PrevBlock.String())
		if err != nil || parent == nil {
			return nil, err
		}
		cursor = parent
	}
	return cursor, nil
}
