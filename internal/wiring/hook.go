// Package wiring places the hosting cache behind a single owning goroutine
// and connects it to the oracle's deposit-index state stream: the
// subscriber hook that turns freshly ingested contract state into
// commitment updates, and the identity codec path that turns freshly
// ingested envelopes into identity updates.
package wiring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
	"github.com/klingon-exchange/cwpd/internal/identity"
	"github.com/klingon-exchange/cwpd/internal/oracle"
	"github.com/klingon-exchange/cwpd/pkg/logging"
)

// CommitmentSink is the cache-side surface the subscriber hook drives.
// An explicit interface rather than a bare callback, so the hook can be
// tested against a fake without constructing a real cache.
type CommitmentSink interface {
	UpdateCommitment(key depositmodel.ContractID, depositedXLM uint64, at time.Time) error
}

// IdentitySink is the cache-side surface the envelope-ingestion path
// drives.
type IdentitySink interface {
	UpdateIdentity(key depositmodel.ContractID, result identity.Result) error
}

// HostedKeyLister supplies the set of contract ids currently hosted, so
// the hook only pushes commitments for keys the cache actually holds.
type HostedKeyLister interface {
	HostedKeys() []depositmodel.ContractID
}

// command is one piece of work queued onto the owning goroutine. Every
// cache mutation in this package runs inside Hub.run, never from a
// caller's goroutine directly — this is the single-owning-goroutine
// equivalent of placing the cache behind a mutex.
type command func()

// Hub owns the hosting cache's mutation path. Every exported method
// enqueues a command and returns without touching the cache directly;
// Run must be driven from one goroutine for the sink stays correctly
// serialized.
type Hub struct {
	DepositIndexKey depositmodel.ContractID

	Commitments CommitmentSink
	Identities  IdentitySink
	Hosted      HostedKeyLister

	dedup  *oracle.CommitmentCache
	logger *logging.Logger

	queue chan command
}

// NewHub builds a Hub. queueDepth bounds how many pending commands may
// back up before enqueue blocks; 64 is a reasonable default for a
// single host node.
func NewHub(commitments CommitmentSink, identities IdentitySink, hosted HostedKeyLister, queueDepth int) *Hub {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Hub{
		Commitments: commitments,
		Identities:  identities,
		Hosted:      hosted,
		dedup:       oracle.NewCommitmentCache(4096, oracle.DefaultCommitmentTTL),
		logger:      logging.Default().Component("wiring"),
		queue:       make(chan command, queueDepth),
	}
}

// Run drains the command queue until ctx is cancelled. It must be
// called from exactly one goroutine — that goroutine is the "owning
// task" the cache's lack of internal synchronization assumes.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.queue:
			cmd()
		}
	}
}

// enqueue submits cmd to the owning goroutine, blocking if the queue is
// full. A full queue under normal operation indicates the owning
// goroutine isn't running — callers should not hit this in practice.
func (h *Hub) enqueue(cmd command) {
	h.queue <- cmd
}

// HandleUpdate implements the subscriber hook: on every successful
// UPDATE the host node ingests, call this with the raw state bytes for
// key. Non-matching keys and malformed state are rejected cheaply and
// never panic. The hosted-key list is read on the owning goroutine, so
// for a matching key HandleUpdate waits until Run has processed that read.
func (h *Hub) HandleUpdate(key depositmodel.ContractID, newStateBytes []byte, at time.Time) {
	if key != h.DepositIndexKey {
		return
	}

	var state depositmodel.Map
	if err := json.Unmarshal(newStateBytes, &state); err != nil {
		h.logger.Warn("malformed deposit-index state, dropping update", "err", err)
		return
	}

	hostedCh := make(chan []depositmodel.ContractID, 1)
	h.enqueue(func() { hostedCh <- h.Hosted.HostedKeys() })
	hosted := <-hostedCh
	if len(hosted) == 0 {
		return
	}

	type match struct {
		key depositmodel.ContractID
		xlm uint64
	}
	var matches []match
	for _, hk := range hosted {
		idx, ok := state.Find(hk)
		if !ok {
			continue
		}
		xlm := depositmodel.ClampUint64(state.Deposits[idx].TotalDeposited)
		if !h.dedup.ShouldPush(hk, xlm) {
			continue
		}
		matches = append(matches, match{key: hk, xlm: xlm})
	}
	if len(matches) == 0 {
		return
	}

	h.enqueue(func() {
		for _, m := range matches {
			if err := h.Commitments.UpdateCommitment(m.key, m.xlm, at); err != nil {
				h.logger.Warn("update_commitment failed", "key", m.key, "err", err)
			}
		}
	})
}

// HandleEnvelope is invoked when identity-bearing state first lands for
// key: it verifies the envelope and pushes the resulting identity flags
// into the cache. subscriberPubKey is the local node's own subscriber
// key, used to decide CheckSubscriber's match.
func (h *Hub) HandleEnvelope(key depositmodel.ContractID, raw []byte, subscriberPubKey [32]byte) {
	result := identity.VerifyIdentity(raw, &subscriberPubKey)

	h.enqueue(func() {
		if err := h.Identities.UpdateIdentity(key, result); err != nil {
			h.logger.Warn("update_identity failed", "key", key, "err", err)
		}
	})
}
