// Package config loads the daemon's configuration once at process start
// and hands back an immutable snapshot: the env-var knobs the spec
// requires, plus an optional YAML file for daemon-level settings that
// have no natural environment-variable home.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
	"github.com/klingon-exchange/cwpd/internal/hosting"
	"github.com/klingon-exchange/cwpd/pkg/logging"
)

// Env var names read at startup, per the contract interface spec.
const (
	EnvDepositIndexKey      = "LEPUS_DEPOSIT_INDEX_KEY"
	EnvDepositIndexCodeHash = "LEPUS_DEPOSIT_INDEX_CODE_HASH"
	EnvRPCURL               = "LEPUS_RPC_URL"
	EnvPollIntervalSecs     = "LEPUS_POLL_INTERVAL_SECS"
	EnvStellarPubkey        = "LEPUS_STELLAR_PUBKEY"
)

// DefaultPollIntervalSecs is used when LEPUS_POLL_INTERVAL_SECS is unset.
const DefaultPollIntervalSecs = 60

// FileName is the default daemon-settings file name, resolved under
// FileConfig.DataDir.
const FileName = "cwpd.yaml"

// Snapshot is the immutable configuration read once at process start.
// Nothing in the daemon re-reads the environment after this is built.
type Snapshot struct {
	// DepositIndexKey is the deposit-index contract's 32-byte instance
	// id. Its presence enables subscriber mode.
	DepositIndexKey      depositmodel.ContractID
	HasDepositIndexKey   bool
	DepositIndexCodeHash [32]byte
	HasCodeHash          bool

	// RPCURL is the external-ledger RPC endpoint. Its presence, plus
	// HasCodeHash, enables relayer mode.
	RPCURL string

	// PollInterval spaces the relayer's ledger queries.
	PollInterval time.Duration

	// StellarPubkey is this node's own Ed25519 identity, used by
	// CheckSubscriber to decide whether recipient-targeted content
	// belongs to this node.
	StellarPubkey    [32]byte
	HasStellarPubkey bool

	File FileConfig
}

// FileConfig holds daemon-level settings with no natural
// environment-variable home: things an operator tunes once and leaves
// alone, rather than per-restart knobs.
type FileConfig struct {
	// DataDir is the directory for the SQLite store and this file
	// itself.
	DataDir string `yaml:"data_dir"`

	// HTTPListenAddr is the address the status/admin HTTP server binds.
	HTTPListenAddr string `yaml:"http_listen_addr"`

	// EnableStatusBroadcast toggles the websocket status hub.
	EnableStatusBroadcast bool `yaml:"enable_status_broadcast"`

	// Weights overrides the CWP scoring weights; zero value means
	// "use hosting.DefaultWeights".
	Weights *hosting.Weights `yaml:"weights,omitempty"`

	// BudgetBytes is the cache's total byte budget.
	BudgetBytes uint64 `yaml:"budget_bytes"`

	// MinTTL is the minimum time an entry is protected from eviction
	// regardless of score.
	MinTTL time.Duration `yaml:"min_ttl"`

	// Logging mirrors the teacher's logging knobs.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings, matching the teacher's
// node.LoggingConfig shape.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultFileConfig returns a FileConfig with sensible defaults.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		DataDir:               "~/.cwpd",
		HTTPListenAddr:        "127.0.0.1:8787",
		EnableStatusBroadcast: true,
		BudgetBytes:           10 << 30, // 10 GiB
		MinTTL:                time.Hour,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds a Snapshot from the process environment and, if present,
// a YAML settings file under dataDir. A missing file is not an error —
// LoadFileConfig creates one with defaults, matching the teacher's
// LoadConfig behaviour.
func Load(dataDir string) (*Snapshot, error) {
	file, err := LoadFileConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("config: load file config: %w", err)
	}

	snap := &Snapshot{
		PollInterval: DefaultPollIntervalSecs * time.Second,
		File:         *file,
	}

	log := logging.Default().Component("config")

	if v, ok := os.LookupEnv(EnvDepositIndexKey); ok {
		id, err := depositmodel.ParseContractID(v)
		if err != nil {
			log.Warn("malformed env var, treating as unset", "var", EnvDepositIndexKey, "err", err)
		} else {
			snap.DepositIndexKey = id
			snap.HasDepositIndexKey = true
		}
	}

	if v, ok := os.LookupEnv(EnvDepositIndexCodeHash); ok {
		hash, err := parseHex32(v)
		if err != nil {
			log.Warn("malformed env var, treating as unset", "var", EnvDepositIndexCodeHash, "err", err)
		} else {
			snap.DepositIndexCodeHash = hash
			snap.HasCodeHash = true
		}
	}

	snap.RPCURL = os.Getenv(EnvRPCURL)

	if v, ok := os.LookupEnv(EnvPollIntervalSecs); ok {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("config: %s must be a positive integer, got %q", EnvPollIntervalSecs, v)
		}
		snap.PollInterval = time.Duration(secs) * time.Second
	}

	if v, ok := os.LookupEnv(EnvStellarPubkey); ok {
		key, err := parseHex32(v)
		if err != nil {
			log.Warn("malformed env var, treating as unset", "var", EnvStellarPubkey, "err", err)
		} else {
			snap.StellarPubkey = key
			snap.HasStellarPubkey = true
		}
	}

	return snap, nil
}

// RelayerEnabled reports whether both the RPC URL and the deposit-index
// code hash are configured, per the relayer's activation condition.
func (s *Snapshot) RelayerEnabled() bool {
	return s.RPCURL != "" && s.HasCodeHash
}

// SubscriberEnabled reports whether the deposit-index instance id is
// configured.
func (s *Snapshot) SubscriberEnabled() bool {
	return s.HasDepositIndexKey
}

// LoadFileConfig loads daemon-level settings from FileName under
// dataDir. If the file doesn't exist, it writes one with default values
// and returns those defaults.
func LoadFileConfig(dataDir string) (*FileConfig, error) {
	expanded := expandPath(dataDir)
	path := filepath.Join(expanded, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultFileConfig()
		cfg.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("create default file config: %w", err)
		}
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file config: %w", err)
	}

	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse file config: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory if
// needed.
func (c *FileConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal file config: %w", err)
	}

	header := []byte("# cwpd daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	return os.WriteFile(path, data, 0600)
}

func parseHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("must be 64 hex chars (32 bytes), got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
