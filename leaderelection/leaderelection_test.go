package leaderelection

import (
	"testing"

	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/assert"
)

func TestElectLeadersDeterministic(t *testing.T) {
	candidates := []string{"a", "b", "c", "d", "e"}
	first := ElectLeaders(candidates, 2, "00000000000000000002a7c4c1e48d76c5a37902165a270156b7a8d72728a054")
	second := ElectLeaders(candidates, 2, "00000000000000000002a7c4c1e48d76c5a37902165a270156b7a8d72728a054")
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
	assert.NotEqual(t, first[0], first[1])
}

func TestElectLeadersBounds(t *testing.T) {
	assert.Nil(t, ElectLeaders([]string{}, 1, "seed"))
	assert.Len(t, ElectLeaders([]string{"a", "b"}, 5, "seed"), 1)
	assert.Len(t, ElectLeaders([]string{"a", "b"}, 0, "seed"), 1)
	assert.Equal(t, []string{"a"}, ElectLeaders([]string{"a"}, 1, "anything"))
}

func TestElectOraclesIgnoresOrder(t *testing.T) {
	accounts := []types.Account{"03cc", "02aa", "02bb"}
	reordered := []types.Account{"02bb", "03cc", "02aa"}
	assert.Equal(t, ElectOracles(accounts, 1, "hash"), ElectOracles(reordered, 1, "hash"))
	assert.Equal(t, []types.Account{"03cc", "02aa", "02bb"}, accounts)
}

func TestIsLeader(t *testing.T) {
	accounts := []types.Account{"02aa", "02bb", "02cc"}
	ok, leaders := IsLeader("02aa", accounts, 3, "hash", false)
	assert.True(t, ok)
	assert.Len(t, leaders, 3)

	ok, _ = IsLeader("02aa", accounts, 3, "hash", true)
	assert.False(t, ok)

	ok, _ = IsLeader("02dd", accounts, 3, "hash", false)
	assert.False(t, ok)
}
