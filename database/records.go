package database

import (
	"encoding/json"
	"strings"
)

// Records : JSON records and string arrays stored under "prefix:id" keys
type Records struct {
	Store Store
}

// Key joins a prefix and its parts with ':'
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// Get decodes the record at key into v and reports whether it existed
func (r Records) Get(key string, v interface{}) (bool, error) {
	bArr, err := r.Store.Get([]byte(key))
	if err != nil {
		return false, err
	}
	if bArr == nil {
		return false, nil
	}
	return true, json.Unmarshal(bArr, v)
}

func (r Records) Put(key string, v interface{}) error {
	bArr, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Store.Set([]byte(key), bArr)
}

func (r Records) GetArray(key string) ([]string, error) {
	bArr, err := r.Store.Get([]byte(key))
	if err != nil {
		return []string{}, err
	}
	if bArr == nil {
		return []string{}, nil
	}
	var arr []string
	err = json.Unmarshal(bArr, &arr)
	if err != nil {
		return []string{}, err
	}
	return arr, nil
}

func (r Records) Append(key string, value string) error {
	results, err := r.GetArray(key)
	if err != nil {
		return err
	}
	results = append(results, value)
	bArr, _ := json.Marshal(results)
	return r.Store.Set([]byte(key), bArr)
}

// Del removes the record at key, or only value from the array at key when value is set
func (r Records) Del(key string, value string) error {
	if value == "" {
		return r.Store.Delete([]byte(key))
	}
	results, err := r.GetArray(key)
	if err != nil {
		return err
	}
	for i, v := range results {
		if v == value {
			results = append(results[:i], results[i+1:]...)
			break
		}
	}
	bArr, _ := json.Marshal(results)
	return r.Store.Set([]byte(key), bArr)
}
