package relay

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/wire"
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/types"
)

const (
	headerPrefix = "header"
	chainPrefix  = "chain"
	bestPrefix   = "best"
	stateKey     = "relay"
)

// Header : a stored header record with its decoded form and cumulative work
type Header struct {
	types.HeaderRecord
	Block wire.BlockHeader
	Work  *big.Int
}

// DecodeHeader parses an 80 byte header from hex
func DecodeHeader(raw string) (wire.BlockHeader, error) {
	var header wire.BlockHeader
	b, err := hex.DecodeString(raw)
	if err != nil {
		return header, types.Wrap(types.ErrMalformedHeader, "%s", err.Error())
	}
	if len(b) != wire.MaxBlockHeaderPayload {
		return header, types.Wrap(types.ErrMalformedHeader, "header is %d bytes", len(b))
	}
	if err := header.Deserialize(bytes.NewReader(b)); err != nil {
		return header, types.Wrap(types.ErrMalformedHeader, "%s", err.Error())
	}
	return header, nil
}

// EncodeHeader serializes a header to hex
func EncodeHeader(header wire.BlockHeader) string {
	var buf bytes.Buffer
	header.Serialize(&buf)
	return hex.EncodeToString(buf.Bytes())
}

func parseWork(s string) (*big.Int, error) {
	work, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid chain work %q", s)
	}
	return work, nil
}

// HeaderStore : persistence of headers, chains, the best chain index and the relay state
type HeaderStore struct {
	records database.Records
}

func NewHeaderStore(s database.Store) *HeaderStore {
	return &HeaderStore{records: database.Records{Store: s}}
}

func heightKey(height int64) string {
	return database.Key(bestPrefix, fmt.Sprintf("%016x", height))
}

func chainKey(id uint64) string {
	return database.Key(chainPrefix, fmt.Sprintf("%016x", id))
}

// GetHeader returns the stored header by display hash, or nil when absent
func (hs *HeaderStore) GetHeader(hash string) (*Header, error) {
	var rec types.HeaderRecord
	found, err := hs.records.Get(database.Key(headerPrefix, hash), &rec)
	if err != nil || !found {
		return nil, err
	}
	block, err := DecodeHeader(rec.Raw)
	if err != nil {
		return nil, err
	}
	work, err := parseWork(rec.ChainWork)
	if err != nil {
		return nil, err
	}
	return &Header{HeaderRecord: rec, Block: block, Work: work}, nil
}

func (hs *HeaderStore) PutHeader(h *Header) error {
	h.ChainWork = h.Work.Text(16)
	return hs.records.Put(database.Key(headerPrefix, h.Hash), h.HeaderRecord)
}

func (hs *HeaderStore) GetChain(id uint64) (types.Chain, bool, error) {
	var c types.Chain
	found, err := hs.records.Get(chainKey(id), &c)
	return c, found, err
}

func (hs *HeaderStore) PutChain(c types.Chain) error {
	return hs.records.Put(chainKey(c.ID), c)
}

// Chains lists every fork in creation order
func (hs *HeaderStore) Chains() ([]types.Chain, error) {
	chains := []types.Chain{}
	var decodeErr error
	err := hs.records.Store.Iterate([]byte(chainPrefix+":"), func(key []byte, value []byte) bool {
		var c types.Chain
		if decodeErr = json.Unmarshal(value, &c); decodeErr != nil {
			return false
		}
		chains = append(chains, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return chains, decodeErr
}

func (hs *HeaderStore) State() (types.RelayState, error) {
	var state types.RelayState
	_, err := hs.records.Get(stateKey, &state)
	return state, err
}

func (hs *HeaderStore) PutState(state types.RelayState) error {
	return hs.records.Put(stateKey, state)
}

// BestHashAt returns the hash of the best chain header at height, or the empty string
func (hs *HeaderStore) BestHashAt(height int64) (string, error) {
	var hash string
	_, err := hs.records.Get(heightKey(height), &hash)
	return hash, err
}

func (hs *HeaderStore) SetBestHashAt(height int64, hash string) error {
	return hs.records.Put(heightKey(height), hash)
}

func (hs *HeaderStore) DeleteBestAt(height int64) error {
	return hs.records.Del(heightKey(height), "")
}
