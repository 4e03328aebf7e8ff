package database

// Store : key/value access shared by every bridge component. Missing keys read as nil without error.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key []byte, value []byte) error
	Delete(key []byte) error
	// Iterate visits keys with the given prefix in ascending order until fn returns false
	Iterate(prefix []byte, fn func(key []byte, value []byte) bool) error
}

// Op : one write of an atomic batch
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// KV : a Store that can apply a batch of writes atomically
type KV interface {
	Store
	Write(ops []Op) error
	Close() error
}
