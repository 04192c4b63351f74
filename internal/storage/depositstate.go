package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
)

// SaveDepositState persists m as the daemon's single replica of the
// deposit-index map, overwriting whatever was there before.
func (s *Storage) SaveDepositState(m *depositmodel.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	depositsJSON, err := json.Marshal(m.Deposits)
	if err != nil {
		return fmt.Errorf("storage: marshal deposits: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO deposit_index_state (id, version, last_ledger_seq, deposits_json, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			last_ledger_seq = excluded.last_ledger_seq,
			deposits_json = excluded.deposits_json,
			updated_at = excluded.updated_at
	`, m.Version, m.LastLedgerSeq, string(depositsJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storage: save deposit state: %w", err)
	}
	return nil
}

// LoadDepositState returns the persisted deposit-index replica, or
// (nil, nil) if none has been saved yet.
func (s *Storage) LoadDepositState() (*depositmodel.Map, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		version       uint64
		lastLedgerSeq uint32
		depositsJSON  string
	)
	err := s.db.QueryRow(`
		SELECT version, last_ledger_seq, deposits_json FROM deposit_index_state WHERE id = 1
	`).Scan(&version, &lastLedgerSeq, &depositsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load deposit state: %w", err)
	}

	var deposits []depositmodel.Entry
	if err := json.Unmarshal([]byte(depositsJSON), &deposits); err != nil {
		return nil, fmt.Errorf("storage: unmarshal deposits: %w", err)
	}

	return &depositmodel.Map{
		Version:       version,
		LastLedgerSeq: lastLedgerSeq,
		Deposits:      deposits,
	}, nil
}
