package oracle

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/klingon-exchange/cwpd/pkg/logging"
)

// RelayerConfig configures a Relayer worker.
type RelayerConfig struct {
	ContractID [32]byte
	Client     LedgerClient
	Manager    OperationManager

	// PollInterval spaces successive ledger-range queries. Defaults to
	// 30s.
	PollInterval time.Duration

	// InitialDelayMin/Max bound the random jitter applied before the
	// first poll, so a fleet of relayers restarted together doesn't
	// hammer the RPC endpoint in lockstep. Defaults to 10s/30s.
	InitialDelayMin time.Duration
	InitialDelayMax time.Duration

	// BackoffBase and BackoffMax bound the retry delay applied after a
	// failed ledger-range query. Defaults to 1s and 5m.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// StartLedger seeds the cursor when no persisted value is
	// available.
	StartLedger uint32

	Logger *logging.Logger
}

// Relayer polls the external ledger for new deposit proofs since the
// last processed ledger and submits them to the deposit-index contract
// via the operation manager's UPDATE call. The cursor only advances
// past a ledger once its UPDATE has been accepted, so a crash between
// fetch and submit simply re-fetches that ledger next time.
type Relayer struct {
	cfg    RelayerConfig
	cancel context.CancelFunc
	done   chan struct{}

	lastProcessed atomic.Uint64 // stores uint32 cursor value
}

// NewRelayer builds a Relayer from cfg, filling in defaults for any
// zero-valued tuning fields.
func NewRelayer(cfg RelayerConfig) *Relayer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.InitialDelayMin <= 0 {
		cfg.InitialDelayMin = 10 * time.Second
	}
	if cfg.InitialDelayMax <= 0 {
		cfg.InitialDelayMax = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	r := &Relayer{cfg: cfg}
	r.lastProcessed.Store(uint64(cfg.StartLedger))
	return r
}

// LastProcessedLedger returns the cursor's current value.
func (r *Relayer) LastProcessedLedger() uint32 {
	return uint32(r.lastProcessed.Load())
}

// SetLastProcessedLedger seeds the cursor, e.g. from persisted state at
// startup.
func (r *Relayer) SetLastProcessedLedger(seq uint32) {
	r.lastProcessed.Store(uint64(seq))
}

// Start launches the relayer goroutine. It returns immediately.
func (r *Relayer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop cancels the relayer and waits for its goroutine to exit.
func (r *Relayer) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Relayer) run(ctx context.Context) {
	defer close(r.done)

	initialDelay := r.cfg.InitialDelayMin +
		time.Duration(rand.Float64()*float64(r.cfg.InitialDelayMax-r.cfg.InitialDelayMin))
	if !sleepCtx(ctx, initialDelay) {
		return
	}

	bo := newBackoff(r.cfg.BackoffBase, r.cfg.BackoffMax)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if r.poll(ctx, bo) {
			bo.reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll runs one query-fetch-submit cycle. It returns true iff the query
// itself succeeded (used to decide whether to reset backoff) —
// individual fetch/submit failures inside the batch are logged and
// skip/abort the remainder without being treated as a query failure.
func (r *Relayer) poll(ctx context.Context, bo *backoff) bool {
	since := r.LastProcessedLedger()
	seqs, err := r.cfg.Client.LedgerSeqsWithDeposits(ctx, since, r.cfg.ContractID)
	if err != nil {
		delay := bo.next()
		r.cfg.Logger.Warn("ledger query failed, backing off", "err", err, "delay", delay)
		sleepCtx(ctx, delay)
		return false
	}

	for _, seq := range seqs {
		proof, err := r.cfg.Client.FetchProofBundle(ctx, seq)
		if err != nil {
			r.cfg.Logger.Warn("fetch proof bundle failed, skipping ledger", "ledger", seq, "err", err)
			continue
		}

		delta, err := json.Marshal(proof)
		if err != nil {
			r.cfg.Logger.Error("marshal proof bundle failed, skipping ledger", "ledger", seq, "err", err)
			continue
		}

		if err := r.cfg.Manager.Update(ctx, r.cfg.ContractID, delta); err != nil {
			r.cfg.Logger.Warn("update submission failed, aborting batch", "ledger", seq, "err", err)
			return true
		}

		r.SetLastProcessedLedger(seq)
	}
	return true
}
