// Package btctest mines regtest header chains and builds payment proofs for tests.
package btctest

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainpoint/chainpoint-bridge/proof"
	"github.com/chainpoint/chainpoint-bridge/relay"
	"github.com/chainpoint/chainpoint-bridge/types"
)

var Net = &chaincfg.RegressionNetParams

// Output : one payment of a test transaction
type Output struct {
	Address string
	Value   int64
}

// Address : deterministic P2PKH regtest address
func Address(seed byte) string {
	addr, err := btcutil.NewAddressPubKeyHash(bytes.Repeat([]byte{seed}, 20), Net)
	if err != nil {
		panic(err)
	}
	return addr.EncodeAddress()
}

// PayTx : a transaction spending a made up outpoint, unique per tag
func PayTx(tag uint32, outs ...Output) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	prev := chainhash.DoubleHashH([]byte{byte(tag), byte(tag >> 8), byte(tag >> 16), byte(tag >> 24)})
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, tag), []byte{0x51}, nil))
	for _, out := range outs {
		addr, err := btcutil.DecodeAddress(out.Address, Net)
		if err != nil {
			panic(err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			panic(err)
		}
		tx.AddTxOut(wire.NewTxOut(out.Value, script))
	}
	return tx
}

// Raw : hex serialization of tx
func Raw(tx *wire.MsgTx) string {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf.Bytes())
}

// Chain : a regtest header chain plus the transactions committed in each block
type Chain struct {
	Headers []wire.BlockHeader
	blocks  map[chainhash.Hash][]*wire.MsgTx
	filler  uint32
}

// NewChain mines a genesis header at a fixed time
func NewChain() *Chain {
	c := &Chain{blocks: map[chainhash.Hash][]*wire.MsgTx{}, filler: 1 << 30}
	genesis := relay.MineHeader(chainhash.Hash{}, chainhash.Hash{}, Net.PowLimitBits, time.Unix(1600000000, 0))
	c.Headers = append(c.Headers, genesis)
	return c
}

func (c *Chain) Tip() wire.BlockHeader {
	return c.Headers[len(c.Headers)-1]
}

func (c *Chain) TipHash() chainhash.Hash {
	return c.Headers[len(c.Headers)-1].BlockHash()
}

// Genesis : the submission that initializes a relay at height 0
func (c *Chain) Genesis() types.HeaderSubmission {
	return types.HeaderSubmission{Raw: relay.EncodeHeader(c.Headers[0]), Height: 0}
}

// Mine appends a block committing to txs, or to a filler transaction when none are given
func (c *Chain) Mine(txs ...*wire.MsgTx) wire.BlockHeader {
	if len(txs) == 0 {
		c.filler++
		txs = []*wire.MsgTx{PayTx(c.filler, Output{Address: Address(0xff), Value: 1})}
	}
	wrapped := make([]*btcutil.Tx, 0, len(txs))
	for _, tx := range txs {
		wrapped = append(wrapped, btcutil.NewTx(tx))
	}
	store := blockchain.BuildMerkleTreeStore(wrapped, false)
	tip := c.Tip()
	header := relay.MineHeader(tip.BlockHash(), *store[len(store)-1], Net.PowLimitBits, tip.Timestamp.Add(10*time.Minute))
	c.Headers = append(c.Headers, header)
	c.blocks[header.BlockHash()] = txs
	return header
}

// MineEmpty appends n filler blocks
func (c *Chain) MineEmpty(n int) {
	for i := 0; i < n; i++ {
		c.Mine()
	}
}

// Submissions returns the headers after index from, ready for the relay
func (c *Chain) Submissions(from int) []types.HeaderSubmission {
	subs := []types.HeaderSubmission{}
	for i := from; i < len(c.Headers); i++ {
		subs = append(subs, types.HeaderSubmission{Raw: relay.EncodeHeader(c.Headers[i]), Height: int64(i)})
	}
	return subs
}

// Proof builds the payment proof of a mined transaction
func (c *Chain) Proof(tx *wire.MsgTx) types.PaymentProof {
	want := tx.TxHash()
	for blockHash, txs := range c.blocks {
		ids := make([]chainhash.Hash, 0, len(txs))
		index := -1
		for i, candidate := range txs {
			id := candidate.TxHash()
			if id == want {
				index = i
			}
			ids = append(ids, id)
		}
		if index < 0 {
			continue
		}
		path, err := proof.BuildPath(ids, index)
		if err != nil {
			panic(err)
		}
		return types.PaymentProof{
			RawTx: Raw(tx),
			Proof: types.MerkleProof{BlockHash: blockHash.String(), Path: path, TxIndex: uint32(index)},
		}
	}
	panic("transaction not mined")
}
