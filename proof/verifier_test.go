package proof_test

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainpoint/chainpoint-bridge/database/level"
	"github.com/chainpoint/chainpoint-bridge/internal/btctest"
	"github.com/chainpoint/chainpoint-bridge/proof"
	"github.com/chainpoint/chainpoint-bridge/relay"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	kv       *level.KVStore
	chain    *btctest.Chain
	verifier *proof.Verifier
	txs      []*wire.MsgTx
}

func newFixture(t *testing.T, txCount int) *fixture {
	f := &fixture{kv: level.NewMemKV(), chain: btctest.NewChain()}
	for i := 0; i < txCount; i++ {
		f.txs = append(f.txs, btctest.PayTx(uint32(i), btctest.Output{Address: btctest.Address(byte(i + 1)), Value: int64(1000 * (i + 1))}))
	}
	f.chain.Mine(f.txs...)
	f.chain.MineEmpty(1)

	params := relay.Params{Chain: btctest.Net, Confirmations: 1, MedianTimeSpan: 11, MaxFutureDrift: 2 * time.Hour, NoRetargeting: true}
	cm := relay.NewChainManager(f.kv, params, 1, time.Time{}, nil)
	_, err := cm.Initialize(f.chain.Genesis())
	require.NoError(t, err)
	_, err = cm.SubmitHeaders(f.chain.Submissions(1))
	require.NoError(t, err)
	f.verifier = proof.NewVerifier(cm, btctest.Net)
	return f
}

func snapshot(t *testing.T, kv *level.KVStore) map[string]string {
	out := map[string]string{}
	require.NoError(t, kv.Iterate([]byte{}, func(k, v []byte) bool {
		out[string(k)] = string(v)
		return true
	}))
	return out
}

func TestInclusionRoundTripEveryIndex(t *testing.T) {
	for _, count := range []int{1, 2, 5, 7} {
		f := newFixture(t, count)
		for i, tx := range f.txs {
			p := f.chain.Proof(tx)
			assert.NoError(t, f.verifier.VerifyInclusion(tx.TxHash().String(), p.Proof), "count %d index %d", count, i)
		}
	}
}

func TestFlippedSiblingBitFails(t *testing.T) {
	f := newFixture(t, 5)
	p := f.chain.Proof(f.txs[3])
	txID := f.txs[3].TxHash().String()
	for level := range p.Proof.Path {
		for _, bit := range []uint{0, 7, 100, 255} {
			h, err := chainhash.NewHashFromStr(p.Proof.Path[level])
			require.NoError(t, err)
			h[bit/8] ^= 1 << (bit % 8)
			tampered := p.Proof
			tampered.Path = append([]string{}, p.Proof.Path...)
			tampered.Path[level] = h.String()
			err = f.verifier.VerifyInclusion(txID, tampered)
			assert.True(t, errors.Is(err, types.ErrMerkleMismatch), "level %d bit %d", level, bit)
		}
	}
	wrongIndex := p.Proof
	wrongIndex.TxIndex = 2
	assert.True(t, errors.Is(f.verifier.VerifyInclusion(txID, wrongIndex), types.ErrMerkleMismatch))
	wrongIndex.TxIndex = 1 << 10
	assert.True(t, errors.Is(f.verifier.VerifyInclusion(txID, wrongIndex), types.ErrMerkleMismatch))
}

func TestInclusionRequiresStableKnownHeader(t *testing.T) {
	f := newFixture(t, 2)
	p := f.chain.Proof(f.txs[0])

	tip := f.chain.TipHash().String()
	unstable := p.Proof
	unstable.BlockHash = tip
	err := f.verifier.VerifyInclusion(f.txs[0].TxHash().String(), unstable)
	assert.True(t, errors.Is(err, types.ErrBlockNotStable))

	unknown := p.Proof
	unknown.BlockHash = chainhash.Hash{1, 2, 3}.String()
	err = f.verifier.VerifyInclusion(f.txs[0].TxHash().String(), unknown)
	assert.True(t, errors.Is(err, types.ErrHeaderUnknown))
	assert.Equal(t, types.KindProofRejected, types.KindOf(err))
}

func TestVerifyPaymentIsPure(t *testing.T) {
	f := newFixture(t, 3)
	p := f.chain.Proof(f.txs[1])
	before := snapshot(t, f.kv)
	first, err1 := f.verifier.VerifyPayment(p, btctest.Address(2))
	second, err2 := f.verifier.VerifyPayment(p, btctest.Address(2))
	assert.NoError(t, err1)
	assert.Equal(t, err1, err2)
	assert.Equal(t, first.Paid, second.Paid)
	assert.Equal(t, uint64(2000), first.Paid)
	assert.Equal(t, f.txs[1].TxHash().String(), first.TxID)
	assert.Equal(t, before, snapshot(t, f.kv))
}

func TestPaidToSumsMatchingOutputs(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)
	a, b := btctest.Address(10), btctest.Address(11)
	tx := btctest.PayTx(99,
		btctest.Output{Address: a, Value: 1000},
		btctest.Output{Address: b, Value: 700},
		btctest.Output{Address: a, Value: 500})

	paid, err := f.verifier.PaidTo(tx, a)
	assert.NoError(err)
	assert.Equal(uint64(1500), paid)

	_, err = f.verifier.PaidTo(tx, btctest.Address(12))
	assert.True(errors.Is(err, types.ErrNoMatchingOutput))
	_, err = f.verifier.PaidTo(tx, "not-an-address")
	assert.True(errors.Is(err, types.ErrInvalidBitcoinAddress))
	_, err = proof.ValidateAddress(a, &chaincfg.MainNetParams)
	assert.True(errors.Is(err, types.ErrInvalidBitcoinAddress), "regtest address on mainnet")
}

func TestDecodeTxRejectsGarbage(t *testing.T) {
	_, err := proof.DecodeTx("zz")
	assert.True(t, errors.Is(err, types.ErrMalformedTransaction))
	_, err = proof.DecodeTx("0200000000")
	assert.True(t, errors.Is(err, types.ErrMalformedTransaction))
	tx, err := proof.DecodeTx(btctest.Raw(btctest.PayTx(5, btctest.Output{Address: btctest.Address(1), Value: 1})))
	assert.NoError(t, err)
	assert.Len(t, tx.TxOut, 1)
}

func TestComputeRootMatchesHeader(t *testing.T) {
	f := newFixture(t, 4)
	ids := []chainhash.Hash{}
	for _, tx := range f.txs {
		ids = append(ids, tx.TxHash())
	}
	pathStrs, err := proof.BuildPath(ids, 3)
	require.NoError(t, err)
	path, err := proof.ParsePath(pathStrs)
	require.NoError(t, err)
	root, err := proof.ComputeRoot(ids[3], path, 3)
	require.NoError(t, err)
	assert.Equal(t, f.chain.Headers[1].MerkleRoot, root)

	_, err = proof.BuildPath(ids, 4)
	assert.Error(t, err)
}
