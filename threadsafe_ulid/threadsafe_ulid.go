package threadsafe_ulid

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ThreadSafeUlid : monotonic ULID source shared between goroutines
type ThreadSafeUlid struct {
	safe *safeMonotonicReader
}

func NewThreadSafeUlid() *ThreadSafeUlid {
	t := time.Now()
	return &ThreadSafeUlid{
		safe: &safeMonotonicReader{MonotonicReader: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)},
	}
}

// NewUlid returns an id stamped with t. Ids within the same millisecond increase monotonically.
func (u *ThreadSafeUlid) NewUlid(t time.Time) (ulid.ULID, error) {
	return ulid.New(ulid.Timestamp(t), u.safe)
}

// NewSeededEntropy makes the id sequence reproducible for a given seed
func (u *ThreadSafeUlid) NewSeededEntropy(seed string) {
	digest := sha256.Sum256([]byte(seed))
	seedInt := int64(binary.BigEndian.Uint64(digest[:8]))
	u.safe = &safeMonotonicReader{MonotonicReader: ulid.Monotonic(rand.New(rand.NewSource(seedInt)), 0)}
}

type safeMonotonicReader struct {
	mtx sync.Mutex
	ulid.MonotonicReader
}

func (r *safeMonotonicReader) MonotonicRead(ms uint64, p []byte) (err error) {
	r.mtx.Lock()
	err = r.MonotonicReader.MonotonicRead(ms, p)
	r.mtx.Unlock()
	return err
}

func (r *safeMonotonicReader) Read(p []byte) (int, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.MonotonicReader.Read(p)
}
