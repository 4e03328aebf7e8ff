package types

// HeaderRecord : a stored Bitcoin block header. Immutable once accepted.
type HeaderRecord struct {
	Hash      string `json:"hash"`
	Raw       string `json:"raw"`
	Height    int64  `json:"height"`
	ChainID   uint64 `json:"chain_id"`
	ChainWork string `json:"chain_work"`
	StoredAt  int64  `json:"stored_at"`
}

// Chain : a fork of the header arena, represented by its tip and cumulative work
type Chain struct {
	ID          uint64 `json:"id"`
	StartHeight int64  `json:"start_height"`
	TipHash     string `json:"tip_hash"`
	TipHeight   int64  `json:"tip_height"`
	Work        string `json:"work"`
}

// RelayState : the best chain pointer and arena bookkeeping
type RelayState struct {
	Initialized bool   `json:"initialized"`
	StartHeight int64  `json:"start_height"`
	BestChainID uint64 `json:"best_chain_id"`
	BestHash    string `json:"best_hash"`
	BestHeight  int64  `json:"best_height"`
	BestWork    string `json:"best_work"`
	NextChainID uint64 `json:"next_chain_id"`
	Reorgs      uint64 `json:"reorgs"`
}

// HeaderSubmission : a raw 80 byte header in hex plus optional height metadata (0 when unknown)
type HeaderSubmission struct {
	Raw    string `json:"raw"`
	Height int64  `json:"height,omitempty"`
}

// MerkleProof : inclusion proof of a transaction in a block, hashes in display (reversed) hex
type MerkleProof struct {
	BlockHash string   `json:"block_hash"`
	Path      []string `json:"path"`
	TxIndex   uint32   `json:"tx_index"`
}

// PaymentProof : a raw Bitcoin transaction in hex together with its inclusion proof
type PaymentProof struct {
	RawTx string      `json:"raw_tx"`
	Proof MerkleProof `json:"proof"`
}
