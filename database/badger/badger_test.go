package badger

import (
	"testing"

	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	assert := assert.New(t)
	s, err := New(&Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get([]byte("missing"))
	assert.NoError(err)
	assert.Nil(v)

	assert.NoError(s.Write([]database.Op{
		{Key: []byte("chain:1"), Value: []byte("a")},
		{Key: []byte("chain:2"), Value: []byte("b")},
		{Key: []byte("header:1"), Value: []byte("c")},
	}))
	keys := []string{}
	assert.NoError(s.Iterate([]byte("chain:"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	assert.Equal([]string{"chain:1", "chain:2"}, keys)

	assert.NoError(s.Write([]database.Op{{Key: []byte("chain:1"), Delete: true}}))
	v, _ = s.Get([]byte("chain:1"))
	assert.Nil(v)
}

func TestBadgerRequiresDir(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}
