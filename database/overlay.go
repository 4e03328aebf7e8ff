package database

import (
	"bytes"
	"sort"
)

type entry struct {
	value   []byte
	deleted bool
}

// Overlay : a staged write set over a KV. Reads observe staged writes, nothing reaches the
// underlying store until Commit, and Discard drops every staged write.
type Overlay struct {
	base    KV
	pending map[string]entry
}

func NewOverlay(base KV) *Overlay {
	return &Overlay{base: base, pending: make(map[string]entry)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if e, ok := o.pending[string(key)]; ok {
		if e.deleted {
			return nil, nil
		}
		return append([]byte{}, e.value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Set(key []byte, value []byte) error {
	o.pending[string(key)] = entry{value: append([]byte{}, value...)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.pending[string(key)] = entry{deleted: true}
	return nil
}

// Iterate merges committed and staged keys under prefix
func (o *Overlay) Iterate(prefix []byte, fn func(key []byte, value []byte) bool) error {
	merged := make(map[string][]byte)
	err := o.base.Iterate(prefix, func(key []byte, value []byte) bool {
		merged[string(key)] = append([]byte{}, value...)
		return true
	})
	if err != nil {
		return err
	}
	for k, e := range o.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if e.deleted {
			delete(merged, k)
		} else {
			merged[k] = e.value
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), merged[k]) {
			break
		}
	}
	return nil
}

// Write stages a batch, so overlays can be nested
func (o *Overlay) Write(ops []Op) error {
	for _, op := range ops {
		if op.Delete {
			o.Delete(op.Key)
		} else {
			o.Set(op.Key, op.Value)
		}
	}
	return nil
}

// Close discards staged writes; the underlying store stays open
func (o *Overlay) Close() error {
	o.Discard()
	return nil
}

// Ops : staged writes in key order
func (o *Overlay) Ops() []Op {
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ops := make([]Op, 0, len(keys))
	for _, k := range keys {
		e := o.pending[k]
		ops = append(ops, Op{Key: []byte(k), Value: e.value, Delete: e.deleted})
	}
	return ops
}

// Commit writes every staged write to the underlying store as one batch
func (o *Overlay) Commit() error {
	if len(o.pending) == 0 {
		return nil
	}
	if err := o.base.Write(o.Ops()); err != nil {
		return err
	}
	o.Discard()
	return nil
}

func (o *Overlay) Discard() {
	o.pending = make(map[string]entry)
}
