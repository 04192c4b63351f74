// Package main provides cwpd - the commitment-weighted persistence daemon.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-exchange/cwpd/internal/config"
	"github.com/klingon-exchange/cwpd/internal/hosting"
	"github.com/klingon-exchange/cwpd/internal/identity"
	"github.com/klingon-exchange/cwpd/internal/oracle"
	"github.com/klingon-exchange/cwpd/internal/storage"
	"github.com/klingon-exchange/cwpd/internal/wiring"
	"github.com/klingon-exchange/cwpd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.cwpd", "Data directory")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("cwpd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	snap, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal("failed to load configuration", "error", err)
	}
	log.Info("config loaded", "data_dir", snap.File.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(&storage.Config{DataDir: snap.File.DataDir})
	if err != nil {
		log.Fatal("failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("storage initialized", "path", snap.File.DataDir)

	cacheCfg := hosting.DefaultConfig(snap.File.BudgetBytes, snap.PollInterval)
	if snap.File.MinTTL > 0 {
		cacheCfg.MinTTL = snap.File.MinTTL
	}
	if snap.File.Weights != nil {
		cacheCfg.Weights = *snap.File.Weights
	}
	cache := hosting.New(cacheCfg)

	persisted, err := store.LoadHostedEntries()
	if err != nil {
		log.Fatal("failed to load persisted hosted entries", "error", err)
	}
	for _, e := range persisted {
		cache.LoadPersistedEntry(e.Key, e.SizeBytes, e.AccessType, time.Since(e.LastAccessed))

		if err := cache.UpdateIdentity(e.Key, identity.Result{
			CreatorPubKey:      e.Identity.CreatorPubKey,
			CreatorVerified:    e.Identity.CreatorVerified,
			SubscriberPubKey:   e.Identity.SubscriberPubKey,
			SubscriberVerified: e.Identity.SubscriberVerified,
			RecipientPubKey:    e.Identity.RecipientPubKey,
		}); err != nil {
			log.Error("failed to restore identity for hosted entry", "key", e.Key.Hex(), "error", err)
		}
		if e.Commitment.LastOracleCheck != nil {
			if err := cache.UpdateCommitment(e.Key, e.Commitment.DepositedXLM, *e.Commitment.LastOracleCheck); err != nil {
				log.Error("failed to restore commitment for hosted entry", "key", e.Key.Hex(), "error", err)
			}
		}
		if e.BytesServed > 0 {
			if err := cache.RecordBytesServed(e.Key, e.BytesServed); err != nil {
				log.Error("failed to restore bytes served for hosted entry", "key", e.Key.Hex(), "error", err)
			}
		}
		if e.BytesConsumed > 0 {
			if err := cache.RecordBytesConsumed(e.Key, e.BytesConsumed); err != nil {
				log.Error("failed to restore bytes consumed for hosted entry", "key", e.Key.Hex(), "error", err)
			}
		}
	}
	cache.FinalizeLoading()
	log.Info("hosting cache bootstrapped", "entries", cache.Len(), "bytes", cache.CurrentBytes())

	hub := wiring.NewHub(cache, cache, cache, 0)
	hub.DepositIndexKey = snap.DepositIndexKey
	go hub.Run(ctx)

	statusStop := make(chan struct{})
	if snap.File.EnableStatusBroadcast {
		statusHub := wiring.NewStatusHub()
		go statusHub.Run(statusStop)

		mux := http.NewServeMux()
		mux.Handle("/status", statusHub)
		httpServer := &http.Server{Addr: snap.File.HTTPListenAddr, Handler: mux}
		go func() {
			log.Info("status server listening", "addr", snap.File.HTTPListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("status server stopped", "error", err)
			}
		}()
		defer httpServer.Close()
	}

	// The subscriber and relayer both depend on internal/oracle.OperationManager,
	// whose concrete implementation lives in the host node's P2P fabric - out of
	// scope for this module (it ships only the interface and a test double, see
	// DESIGN.md). Without that binding the daemon still runs: storage, the
	// hosting cache, the wiring hub and the status server are fully functional;
	// only the oracle workers that require a live transport stay idle.
	var relayer *oracle.Relayer
	if snap.RelayerEnabled() {
		log.Warn("relayer configured via LEPUS_RPC_URL but no operation manager is wired into this binary; skipping",
			"rpc_url", snap.RPCURL)
	}
	if snap.SubscriberEnabled() {
		log.Warn("subscriber configured via LEPUS_DEPOSIT_INDEX_KEY but no operation manager is wired into this binary; skipping",
			"contract", snap.DepositIndexKey.Hex())
	}

	log.Info("cwpd started", "version", version, "commit", commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()
	close(statusStop)
	if relayer != nil {
		relayer.Stop()
	}

	if err := persistCache(store, cache, log); err != nil {
		log.Error("failed to persist hosting cache on shutdown", "error", err)
	}
}

// persistCache writes every entry currently held by cache back to store,
// so a restart can rebuild the cache via LoadHostedEntries without waiting
// for fresh accesses to repopulate it.
func persistCache(store *storage.Storage, cache *hosting.Cache, log *logging.Logger) error {
	for _, key := range cache.HostedKeys() {
		e, ok := cache.Get(key)
		if !ok {
			continue
		}
		if err := store.SaveHostedEntry(e); err != nil {
			log.Error("failed to save hosted entry", "key", key.Hex(), "error", err)
		}
	}
	return nil
}
