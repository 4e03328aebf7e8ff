package database

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedKV : an LRU read-through cache in front of a KV. Only committed values are cached and
// every batch written through it updates the cache, so readers never see staged data.
type CachedKV struct {
	KV
	lru *lru.Cache[string, []byte]
	mu  sync.RWMutex
}

// NewCachedKV creates a cache holding up to size values
func NewCachedKV(kv KV, size int) (*CachedKV, error) {
	l, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachedKV{KV: kv, lru: l}, nil
}

func (c *CachedKV) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	value, ok := c.lru.Get(string(key))
	c.mu.RUnlock()
	if ok {
		return append([]byte{}, value...), nil
	}
	value, err := c.KV.Get(key)
	if err != nil || value == nil {
		return value, err
	}
	c.mu.Lock()
	c.lru.Add(string(key), append([]byte{}, value...))
	c.mu.Unlock()
	return value, nil
}

func (c *CachedKV) Set(key []byte, value []byte) error {
	return c.Write([]Op{{Key: key, Value: value}})
}

func (c *CachedKV) Delete(key []byte) error {
	return c.Write([]Op{{Key: key, Delete: true}})
}

func (c *CachedKV) Write(ops []Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.KV.Write(ops); err != nil {
		c.lru.Purge()
		return err
	}
	for _, op := range ops {
		if op.Delete {
			c.lru.Remove(string(op.Key))
		} else {
			c.lru.Add(string(op.Key), append([]byte{}, op.Value...))
		}
	}
	return nil
}

// Len : number of cached values
func (c *CachedKV) Len() int {
	return c.lru.Len()
}
