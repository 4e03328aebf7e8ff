package level

import (
	"fmt"

	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"
)

// KVStore : database.KV over a tendermint tm-db backend
type KVStore struct {
	LevelDb dbm.DB
	Logger  log.Logger
}

var _ database.KV = (*KVStore)(nil)

func NewKVStore(db dbm.DB, logger log.Logger) *KVStore {
	return &KVStore{
		LevelDb: db,
		Logger:  logger,
	}
}

// OpenKVStore opens (or creates) the named database under dir with the given backend, e.g. goleveldb
func OpenKVStore(name string, backend string, dir string, logger log.Logger) *KVStore {
	db := dbm.NewDB(name, dbm.BackendType(backend), dir)
	logger.Info("Opened state database", "name", name, "backend", backend, "dir", dir)
	return NewKVStore(db, logger)
}

// NewMemKV : an in-memory store, used by tests and ephemeral nodes
func NewMemKV() *KVStore {
	return NewKVStore(dbm.NewMemDB(), log.NewNopLogger())
}

func (cache *KVStore) Get(key []byte) ([]byte, error) {
	return cache.LevelDb.Get(key)
}

func (cache *KVStore) Set(key []byte, value []byte) error {
	return cache.LevelDb.Set(key, value)
}

func (cache *KVStore) Delete(key []byte) error {
	return cache.LevelDb.Delete(key)
}

func (cache *KVStore) Iterate(prefix []byte, fn func(key []byte, value []byte) bool) error {
	it, err := dbm.IteratePrefix(cache.LevelDb, prefix)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if !fn(append([]byte{}, it.Key()...), append([]byte{}, it.Value()...)) {
			break
		}
	}
	return nil
}

// Write applies ops in one synced batch
func (cache *KVStore) Write(ops []database.Op) error {
	batch := cache.LevelDb.NewBatch()
	defer batch.Close()
	for _, op := range ops {
		if op.Delete {
			batch.Delete(op.Key)
		} else {
			batch.Set(op.Key, op.Value)
		}
	}
	if err := batch.WriteSync(); err != nil {
		cache.Logger.Error(fmt.Sprintf("Error in Write: %s", err.Error()))
		return err
	}
	return nil
}

func (cache *KVStore) Close() error {
	return cache.LevelDb.Close()
}
