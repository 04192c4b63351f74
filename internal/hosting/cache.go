// Package hosting implements the Commitment-Weighted Persistence cache: a
// bounded-byte store of hosted-contract entries admitted and evicted by a
// weighted persistence score rather than plain LRU.
package hosting

import (
	"errors"
	"math"
	"time"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
	"github.com/klingon-exchange/cwpd/internal/identity"
	"github.com/klingon-exchange/cwpd/pkg/helpers"
)

// ContractKey identifies a hosted piece of state. It shares the
// deposit-index's 32-byte id type rather than declaring a parallel one —
// both name the same kind of network-wide contract identifier.
type ContractKey = depositmodel.ContractID

// AccessType classifies the access that last refreshed an entry's recency.
type AccessType int

const (
	Get AccessType = iota
	Put
	Subscribe
)

func (a AccessType) String() string {
	switch a {
	case Get:
		return "get"
	case Put:
		return "put"
	case Subscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// Commitment is the oracle-fed deposit signal for one entry.
type Commitment struct {
	DepositedXLM    uint64
	LastOracleCheck *time.Time
}

// IdentityInfo is the envelope-derived identity signal for one entry.
type IdentityInfo struct {
	CreatorPubKey      *[32]byte
	CreatorVerified    bool
	SubscriberPubKey   *[32]byte
	SubscriberVerified bool
	RecipientPubKey    *[32]byte
}

// Entry is one hosted-contract's bookkeeping record.
type Entry struct {
	Key          ContractKey
	SizeBytes    uint64
	LastAccessed time.Time // recency-scoring input; GET/PUT/SUBSCRIBE only
	LastTouched  time.Time // TTL-protection input; also advanced by UPDATE
	AccessType   AccessType
	Commitment   Commitment
	Identity     IdentityInfo
	BytesServed  uint64
	BytesConsumed uint64
}

// effectiveAge is the age used for TTL protection: time since the more
// recent of a real access or an UPDATE touch.
func (e *Entry) effectiveAge(now time.Time) time.Duration {
	last := e.LastAccessed
	if e.LastTouched.After(last) {
		last = e.LastTouched
	}
	return now.Sub(last)
}

// ErrNotFound is returned by mutators that target a key the cache doesn't
// currently hold.
var ErrNotFound = errors.New("hosting: key not found")

// Cache is the CWP hosting cache. It is not internally synchronized —
// callers serialize access by running cache operations from a single
// owning goroutine, per the concurrency model.
type Cache struct {
	cfg          Config
	entries      map[ContractKey]*Entry
	currentBytes uint64
	now          func() time.Time
}

// Config holds the cache's budget, TTL floor, and scoring parameters.
type Config struct {
	BudgetBytes uint64
	MinTTL      time.Duration

	Weights            Weights
	DensityTarget      float64 // default 0.001
	ContributionTarget float64 // default 1.5
	HalfLife           time.Duration // default 7 days
}

// DefaultConfig returns the CWP defaults from the specification.
func DefaultConfig(budgetBytes uint64, renewalInterval time.Duration) Config {
	return Config{
		BudgetBytes:        budgetBytes,
		MinTTL:             4 * renewalInterval,
		Weights:            DefaultWeights,
		DensityTarget:      DefaultDensityTarget,
		ContributionTarget: DefaultContributionTarget,
		HalfLife:           DefaultHalfLife,
	}
}

// New creates an empty cache. Pass an LRU-style Config (Weights:
// LRUWeights) to get plain least-recently-used behaviour on the same code
// path — LRU is CWP with weights (0,0,0,1) and this tie-break.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:     cfg,
		entries: make(map[ContractKey]*Entry),
		now:     time.Now,
	}
}

// WithClock overrides the cache's time source, for deterministic tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// CurrentBytes returns the running total charged against the budget.
func (c *Cache) CurrentBytes() uint64 { return c.currentBytes }

// Len returns the number of hosted entries.
func (c *Cache) Len() int { return len(c.entries) }

// HostedKeys returns every contract id currently held, in no particular
// order. Used by the subscriber hook to decide which keys in a freshly
// ingested deposit-index state matter to this node.
func (c *Cache) HostedKeys() []ContractKey {
	keys := make([]ContractKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Get returns a copy-free read of an entry's current state, if present.
func (c *Cache) Get(key ContractKey) (*Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

func saturatingAddU64(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}
	return sum
}

func saturatingSubU64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// RecordAccess admits key on first sight, or refreshes size/recency/access
// type otherwise. On admission of a new key whose size would exceed the
// budget, it iteratively evicts the lowest-scored eligible victim until the
// budget holds or no eligible victim remains — in which case the budget is
// knowingly exceeded rather than evicting TTL-protected content.
func (c *Cache) RecordAccess(key ContractKey, sizeBytes uint64, accessType AccessType) (isNew bool, evicted []ContractKey) {
	now := c.now()

	if e, exists := c.entries[key]; exists {
		if sizeBytes >= e.SizeBytes {
			c.currentBytes = saturatingAddU64(c.currentBytes, sizeBytes-e.SizeBytes)
		} else {
			c.currentBytes = saturatingSubU64(c.currentBytes, e.SizeBytes-sizeBytes)
		}
		e.SizeBytes = sizeBytes
		e.LastAccessed = now
		e.LastTouched = now
		e.AccessType = accessType
		return false, nil
	}

	c.entries[key] = &Entry{
		Key:          key,
		SizeBytes:    sizeBytes,
		LastAccessed: now,
		LastTouched:  now,
		AccessType:   accessType,
	}
	c.currentBytes = saturatingAddU64(c.currentBytes, sizeBytes)

	for c.currentBytes > c.cfg.BudgetBytes {
		victim, found := c.selectVictim(func(k ContractKey) bool { return k == key })
		if !found {
			break
		}
		c.removeEntry(victim)
		evicted = append(evicted, victim)
	}

	return true, evicted
}

// Touch refreshes an entry's TTL-protection clock only if it is present.
// Used on UPDATE, which must never refresh the recency score (that would
// let a creator pin content forever by issuing no-op updates).
func (c *Cache) Touch(key ContractKey) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.LastTouched = c.now()
	return true
}

// SweepExpired evicts eligible contracts while current bytes exceed the
// budget. retain, if non-nil, forces a skip for any key it returns true
// for, even if otherwise evictable.
func (c *Cache) SweepExpired(retain func(ContractKey) bool) []ContractKey {
	var evicted []ContractKey
	for c.currentBytes > c.cfg.BudgetBytes {
		victim, found := c.selectVictim(retain)
		if !found {
			break
		}
		c.removeEntry(victim)
		evicted = append(evicted, victim)
	}
	return evicted
}

// LoadPersistedEntry admits a previously-persisted entry without running
// eviction. Call FinalizeLoading once all entries have been loaded.
func (c *Cache) LoadPersistedEntry(key ContractKey, sizeBytes uint64, accessType AccessType, lastAccessAge time.Duration) {
	now := c.now()
	lastAccessed := now.Add(-lastAccessAge)
	c.entries[key] = &Entry{
		Key:          key,
		SizeBytes:    sizeBytes,
		LastAccessed: lastAccessed,
		LastTouched:  lastAccessed,
		AccessType:   accessType,
	}
	c.currentBytes = saturatingAddU64(c.currentBytes, sizeBytes)
}

// FinalizeLoading recomputes current_bytes from the loaded entries so the
// invariant current_bytes == sum(size_bytes) holds deterministically
// regardless of load order.
func (c *Cache) FinalizeLoading() {
	var total uint64
	for _, e := range c.entries {
		total = saturatingAddU64(total, e.SizeBytes)
	}
	c.currentBytes = total
}

// RecordBytesServed accumulates the network-contribution "served" counter.
func (c *Cache) RecordBytesServed(key ContractKey, n uint64) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.BytesServed = saturatingAddU64(e.BytesServed, n)
	return nil
}

// RecordBytesConsumed accumulates the network-contribution "consumed" counter.
func (c *Cache) RecordBytesConsumed(key ContractKey, n uint64) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.BytesConsumed = saturatingAddU64(e.BytesConsumed, n)
	return nil
}

// UpdateIdentity applies an envelope verification result to an entry's
// identity sub-score inputs.
func (c *Cache) UpdateIdentity(key ContractKey, result identity.Result) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.Identity.CreatorPubKey = result.CreatorPubKey
	e.Identity.CreatorVerified = result.CreatorVerified
	e.Identity.RecipientPubKey = result.RecipientPubKey
	if result.SubscriberPubKey != nil {
		e.Identity.SubscriberPubKey = result.SubscriberPubKey
	}
	e.Identity.SubscriberVerified = result.SubscriberVerified
	return nil
}

// UpdateSubscriberIdentity records a SUBSCRIBE request's sender pubkey and
// re-derives the subscriber_verified flag against the entry's recipient.
func (c *Cache) UpdateSubscriberIdentity(key ContractKey, subscriberPubKey [32]byte) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.Identity.SubscriberPubKey = &subscriberPubKey
	var recipient [32]byte
	if e.Identity.RecipientPubKey != nil {
		recipient = *e.Identity.RecipientPubKey
	}
	e.Identity.SubscriberVerified = identity.CheckSubscriber(recipient, subscriberPubKey)
	return nil
}

// UpdateCommitment applies a freshly-observed deposit total from the oracle.
func (c *Cache) UpdateCommitment(key ContractKey, depositedXLM uint64, at time.Time) error {
	e, ok := c.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.Commitment.DepositedXLM = depositedXLM
	e.Commitment.LastOracleCheck = &at
	return nil
}

func (c *Cache) removeEntry(key ContractKey) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.currentBytes = saturatingSubU64(c.currentBytes, e.SizeBytes)
}

// selectVictim performs the full O(n) scan for the lowest-scored eligible
// entry: age >= MinTTL, not held by retain, tie-broken by older
// LastAccessed then smaller key bytes.
func (c *Cache) selectVictim(retain func(ContractKey) bool) (ContractKey, bool) {
	now := c.now()

	var victimKey ContractKey
	var victim *Entry
	found := false

	for key, e := range c.entries {
		if retain != nil && retain(key) {
			continue
		}
		if e.effectiveAge(now) < c.cfg.MinTTL {
			continue
		}

		if !found {
			victim, victimKey, found = e, key, true
			continue
		}

		if betterVictim(e, key, victim, victimKey, now, c.cfg) {
			victim, victimKey = e, key
		}
	}

	return victimKey, found
}

// betterVictim reports whether candidate should replace current as the
// chosen eviction victim: lower score wins; ties break by older
// LastAccessed, then by smaller key bytes.
func betterVictim(candidate *Entry, candidateKey ContractKey, current *Entry, currentKey ContractKey, now time.Time, cfg Config) bool {
	cs := score(candidate, now, cfg)
	cur := score(current, now, cfg)
	if cs != cur {
		return cs < cur
	}
	if !candidate.LastAccessed.Equal(current.LastAccessed) {
		return candidate.LastAccessed.Before(current.LastAccessed)
	}
	return helpers.CompareBytes(candidateKey[:], currentKey[:]) < 0
}

// Score returns the current persistence score of a hosted entry, if present.
func (c *Cache) Score(key ContractKey) (float64, bool) {
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return score(e, c.now(), c.cfg), true
}
