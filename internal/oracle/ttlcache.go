package oracle

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
)

// DefaultCommitmentTTL bounds how long a freshly observed commitment
// record is trusted before it is treated as stale, per the "oracle owns a
// short-lived TTL cache of freshly seen commitment records" ownership rule.
const DefaultCommitmentTTL = 5 * time.Minute

// CommitmentCache deduplicates repeated pushes of the same deposit total
// for a contract within the TTL window, so the wiring sink doesn't thrash
// the hosting cache's commitment fields on every near-identical
// deposit-index update.
type CommitmentCache struct {
	cache *lru.LRU[depositmodel.ContractID, uint64]
}

// NewCommitmentCache builds a TTL-bounded commitment cache with room for
// up to size entries.
func NewCommitmentCache(size int, ttl time.Duration) *CommitmentCache {
	return &CommitmentCache{cache: lru.NewLRU[depositmodel.ContractID, uint64](size, nil, ttl)}
}

// ShouldPush reports whether xlm differs from the most recently recorded
// value for id (or no value is cached / it has expired), and records xlm
// as the new baseline when it does.
func (c *CommitmentCache) ShouldPush(id depositmodel.ContractID, xlm uint64) bool {
	if prev, ok := c.cache.Get(id); ok && prev == xlm {
		return false
	}
	c.cache.Add(id, xlm)
	return true
}
