package relay

import (
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MineHeader : grinds the nonce of a header until it meets its own target. Only practical for regtest sized targets.
func MineHeader(prev chainhash.Hash, merkleRoot chainhash.Hash, bits uint32, timestamp time.Time) wire.BlockHeader {
	header := wire.BlockHeader{
		Version:    4,
		PrevBlock:  prev,
		MerkleRoot: merkleRoot,
		Timestamp:  time.Unix(timestamp.Unix(), 0),
		Bits:       bits,
	}
	target := blockchain.CompactToBig(bits)
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return header
		}
	}
}
