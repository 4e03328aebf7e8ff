package leaderelection

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"

	"github.com/chainpoint/chainpoint-bridge/types"
)

// GetSeededRandInt : Given a seed and a maximum size, generates a random int between 0 and upperBound
func GetSeededRandInt(seed []byte, upperBound int) int {
	digest := sha256.Sum256(seed)
	source := rand.NewSource(int64(binary.BigEndian.Uint64(digest[:8])))
	return rand.New(source).Intn(upperBound)
}

// ElectLeaders : rotates the slice by a seeded index and returns the first numLeaders entries, wrapping around
func ElectLeaders[T any](candidates []T, numLeaders int, seed string) []T {
	if len(candidates) == 0 {
		return nil
	}
	if numLeaders <= 0 || numLeaders > len(candidates) {
		numLeaders = 1
	}
	index := GetSeededRandInt([]byte(seed), len(candidates))
	leaders := make([]T, 0, numLeaders)
	for i := 0; i < numLeaders; i++ {
		leaders = append(leaders, candidates[(index+i)%len(candidates)])
	}
	return leaders
}

// ElectOracles : deterministically elects the oracle accounts expected to post the next rate
func ElectOracles(accounts []types.Account, numLeaders int, blockHash string) []types.Account {
	sorted := make([]types.Account, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return ElectLeaders(sorted, numLeaders, blockHash)
}

// IsLeader : whether account is among the elected oracles for this block hash. A node still catching up never leads
func IsLeader(account types.Account, accounts []types.Account, numLeaders int, blockHash string, catchingUp bool) (bool, []types.Account) {
	leaders := ElectOracles(accounts, numLeaders, blockHash)
	if catchingUp {
		return false, leaders
	}
	for _, leader := range leaders {
		if leader == account {
			return true, leaders
		}
	}
	return false, leaders
}
