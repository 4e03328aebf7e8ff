package proof

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainpoint/chainpoint-bridge/relay"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/ethereum/go-ethereum/common/math"
)

// ChainReader : the relay queries a verifier depends on
type ChainReader interface {
	GetHeader(hash string) (*relay.Header, error)
	IsBlockStable(hash string) (bool, error)
}

// Verifier : checks payment proofs against the relay. Holds no state of its own.
type Verifier struct {
	chain ChainReader
	net   *chaincfg.Params
}

// Payment : a verified Bitcoin payment
type Payment struct {
	TxID      string
	BlockHash string
	Paid      uint64
	Tx        *wire.MsgTx
}

func NewVerifier(chain ChainReader, net *chaincfg.Params) *Verifier {
	return &Verifier{chain: chain, net: net}
}

// VerifyInclusion recomputes the Merkle root from txID and the proof and compares it against a stable header
func (v *Verifier) VerifyInclusion(txID string, proof types.MerkleProof) error {
	header, err := v.chain.GetHeader(proof.BlockHash)
	if err != nil {
		return err
	}
	stable, err := v.chain.IsBlockStable(proof.BlockHash)
	if err != nil {
		return err
	}
	if !stable {
		return types.Wrap(types.ErrBlockNotStable, "%s", proof.BlockHash)
	}
	leaf, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return types.Wrap(types.ErrMalformedTransaction, "txid %s: %s", txID, err.Error())
	}
	path, err := ParsePath(proof.Path)
	if err != nil {
		return types.Wrap(types.ErrMerkleMismatch, "%s", err.Error())
	}
	root, err := ComputeRoot(*leaf, path, proof.TxIndex)
	if err != nil {
		return types.Wrap(types.ErrMerkleMismatch, "%s", err.Error())
	}
	if !root.IsEqual(&header.Block.MerkleRoot) {
		return types.Wrap(types.ErrMerkleMismatch, "computed %s, header commits to %s", root.String(), header.Block.MerkleRoot.String())
	}
	return nil
}

// DecodeTx parses a raw transaction. 64 byte transactions are refused since they can pose as inner Merkle nodes.
func DecodeTx(raw string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, types.Wrap(types.ErrMalformedTransaction, "%s", err.Error())
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, types.Wrap(types.ErrMalformedTransaction, "%s", err.Error())
	}
	if tx.SerializeSizeStripped() == 64 {
		return nil, types.Wrap(types.ErrMalformedTransaction, "64 byte transaction")
	}
	if len(tx.TxOut) == 0 {
		return nil, types.Wrap(types.ErrMalformedTransaction, "no outputs")
	}
	return tx, nil
}

// ValidateAddress parses a Bitcoin address and checks it belongs to the network
func ValidateAddress(address string, net *chaincfg.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, types.Wrap(types.ErrInvalidBitcoinAddress, "%s: %s", address, err.Error())
	}
	if !addr.IsForNet(net) {
		return nil, types.Wrap(types.ErrInvalidBitcoinAddress, "%s is not a %s address", address, net.Name)
	}
	return addr, nil
}

// PaidTo sums the outputs of tx that pay address
func (v *Verifier) PaidTo(tx *wire.MsgTx, address string) (uint64, error) {
	addr, err := ValidateAddress(address, v.net)
	if err != nil {
		return 0, err
	}
	target := addr.EncodeAddress()
	var paid uint64
	matched := false
	for _, out := range tx.TxOut {
		if out.Value < 0 {
			continue
		}
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, v.net)
		if err != nil || len(addrs) != 1 || addrs[0].EncodeAddress() != target {
			continue
		}
		sum, overflow := math.SafeAdd(paid, uint64(out.Value))
		if overflow {
			return 0, types.ErrArithmeticOverflow
		}
		paid = sum
		matched = true
	}
	if !matched {
		return 0, types.Wrap(types.ErrNoMatchingOutput, "no output pays %s", address)
	}
	return paid, nil
}

// VerifyPayment decodes the raw transaction, proves its inclusion and returns what it pays address.
// Sufficiency of the amount is left to the caller.
func (v *Verifier) VerifyPayment(p types.PaymentProof, address string) (Payment, error) {
	tx, err := DecodeTx(p.RawTx)
	if err != nil {
		return Payment{}, err
	}
	txID := tx.TxHash().String()
	if err := v.VerifyInclusion(txID, p.Proof); err != nil {
		return Payment{}, err
	}
	paid, err := v.PaidTo(tx, address)
	if err != nil {
		return Payment{}, err
	}
	return Payment{TxID: txID, BlockHash: p.Proof.BlockHash, Paid: paid, Tx: tx}, nil
}
