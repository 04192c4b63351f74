package oracle

import (
	"context"
	"time"

	"github.com/klingon-exchange/cwpd/pkg/logging"
)

// SubscriberConfig configures a Subscriber worker.
type SubscriberConfig struct {
	ContractID [32]byte
	Manager    OperationManager

	// WaitPollInterval spaces the bounded retries waiting for the
	// operation manager to come online. Defaults to 1s.
	WaitPollInterval time.Duration
	// WaitAttempts bounds how many times WaitOnline is retried before
	// giving up on this run. Defaults to 30.
	WaitAttempts int

	// BackoffBase and BackoffMax bound the retry delay used after a
	// failed Subscribe call. Defaults to 1s and 60s.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Logger *logging.Logger
}

// Subscriber joins the deposit-index contract's update stream exactly
// once: it waits for the host node's operation manager to come online,
// issues a single SUBSCRIBE, and exits. Failed SUBSCRIBE attempts retry
// with exponential backoff; a successful one ends the goroutine for
// good — there is nothing to unsubscribe from.
type Subscriber struct {
	cfg    SubscriberConfig
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber builds a Subscriber from cfg, filling in defaults for
// any zero-valued tuning fields.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	if cfg.WaitPollInterval <= 0 {
		cfg.WaitPollInterval = time.Second
	}
	if cfg.WaitAttempts <= 0 {
		cfg.WaitAttempts = 30
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Subscriber{cfg: cfg}
}

// Start launches the subscriber goroutine. It returns immediately; the
// goroutine exits on its own once SUBSCRIBE succeeds, or when Stop is
// called.
func (s *Subscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the subscriber and waits for its goroutine to exit. Safe
// to call after the subscriber has already finished on its own.
func (s *Subscriber) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)

	if !s.waitOnline(ctx) {
		return
	}

	bo := newBackoff(s.cfg.BackoffBase, s.cfg.BackoffMax)
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.cfg.Manager.Subscribe(ctx, s.cfg.ContractID)
		if err == nil {
			s.cfg.Logger.Info("subscribed to deposit-index updates", "contract", s.cfg.ContractID)
			return
		}
		delay := bo.next()
		s.cfg.Logger.Warn("subscribe failed, retrying", "err", err, "delay", delay)
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// waitOnline polls WaitOnline up to WaitAttempts times, spaced
// WaitPollInterval apart, returning false if the context is cancelled
// or the attempt budget runs out first.
func (s *Subscriber) waitOnline(ctx context.Context) bool {
	for attempt := 0; attempt < s.cfg.WaitAttempts; attempt++ {
		if err := s.cfg.Manager.WaitOnline(ctx); err == nil {
			return true
		}
		if !sleepCtx(ctx, s.cfg.WaitPollInterval) {
			return false
		}
	}
	s.cfg.Logger.Warn("operation manager never came online, giving up")
	return false
}

// sleepCtx sleeps for d or until ctx is cancelled, reporting which
// happened first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
