package storage

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
	"github.com/klingon-exchange/cwpd/internal/hosting"
)

// SaveHostedEntry upserts e's current state. Callers typically do this
// on a periodic checkpoint rather than after every mutation, since the
// cache itself is the source of truth while the process is alive.
func (s *Storage) SaveHostedEntry(e *hosting.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO hosted_contracts (
			contract_id, size_bytes, last_accessed, last_touched, access_type,
			deposited_xlm, last_oracle_check,
			creator_pubkey, creator_verified, subscriber_pubkey, subscriber_verified, recipient_pubkey,
			bytes_served, bytes_consumed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			last_accessed = excluded.last_accessed,
			last_touched = excluded.last_touched,
			access_type = excluded.access_type,
			deposited_xlm = excluded.deposited_xlm,
			last_oracle_check = excluded.last_oracle_check,
			creator_pubkey = excluded.creator_pubkey,
			creator_verified = excluded.creator_verified,
			subscriber_pubkey = excluded.subscriber_pubkey,
			subscriber_verified = excluded.subscriber_verified,
			recipient_pubkey = excluded.recipient_pubkey,
			bytes_served = excluded.bytes_served,
			bytes_consumed = excluded.bytes_consumed
	`,
		e.Key.Hex(), e.SizeBytes, e.LastAccessed.Unix(), e.LastTouched.Unix(), e.AccessType.String(),
		e.Commitment.DepositedXLM, nullableUnix(e.Commitment.LastOracleCheck),
		nullablePubKeyHex(e.Identity.CreatorPubKey), boolToInt(e.Identity.CreatorVerified),
		nullablePubKeyHex(e.Identity.SubscriberPubKey), boolToInt(e.Identity.SubscriberVerified),
		nullablePubKeyHex(e.Identity.RecipientPubKey),
		e.BytesServed, e.BytesConsumed,
	)
	if err != nil {
		return fmt.Errorf("storage: save hosted entry: %w", err)
	}
	return nil
}

// DeleteHostedEntry removes key's persisted row, mirroring a cache
// eviction.
func (s *Storage) DeleteHostedEntry(key depositmodel.ContractID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM hosted_contracts WHERE contract_id = ?`, key.Hex()); err != nil {
		return fmt.Errorf("storage: delete hosted entry: %w", err)
	}
	return nil
}

// LoadHostedEntries returns every persisted hosted-contract row, for
// bootstrapping the in-memory cache at startup via
// Cache.LoadPersistedEntry/FinalizeLoading.
func (s *Storage) LoadHostedEntries() ([]*hosting.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT contract_id, size_bytes, last_accessed, last_touched, access_type,
			deposited_xlm, last_oracle_check,
			creator_pubkey, creator_verified, subscriber_pubkey, subscriber_verified, recipient_pubkey,
			bytes_served, bytes_consumed
		FROM hosted_contracts
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: load hosted entries: %w", err)
	}
	defer rows.Close()

	var out []*hosting.Entry
	for rows.Next() {
		e, err := scanHostedEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan hosted entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanHostedEntry(rows *sql.Rows) (*hosting.Entry, error) {
	var (
		contractIDHex, accessType                                     string
		sizeBytes, lastAccessed, lastTouched, depositedXLM             int64
		bytesServed, bytesConsumed                                     int64
		lastOracleCheck                                                sql.NullInt64
		creatorPubKey, subscriberPubKey, recipientPubKey               sql.NullString
		creatorVerifiedInt, subscriberVerifiedInt                      int
	)

	if err := rows.Scan(
		&contractIDHex, &sizeBytes, &lastAccessed, &lastTouched, &accessType,
		&depositedXLM, &lastOracleCheck,
		&creatorPubKey, &creatorVerifiedInt, &subscriberPubKey, &subscriberVerifiedInt, &recipientPubKey,
		&bytesServed, &bytesConsumed,
	); err != nil {
		return nil, err
	}

	key, err := depositmodel.ParseContractID(contractIDHex)
	if err != nil {
		return nil, fmt.Errorf("contract_id %q: %w", contractIDHex, err)
	}

	creatorKey, err := parsePubKeyHex(creatorPubKey)
	if err != nil {
		return nil, fmt.Errorf("creator_pubkey: %w", err)
	}
	subscriberKey, err := parsePubKeyHex(subscriberPubKey)
	if err != nil {
		return nil, fmt.Errorf("subscriber_pubkey: %w", err)
	}
	recipientKey, err := parsePubKeyHex(recipientPubKey)
	if err != nil {
		return nil, fmt.Errorf("recipient_pubkey: %w", err)
	}

	e := &hosting.Entry{
		Key:           key,
		SizeBytes:     uint64(sizeBytes),
		LastAccessed:  time.Unix(lastAccessed, 0),
		LastTouched:   time.Unix(lastTouched, 0),
		AccessType:    parseAccessType(accessType),
		BytesServed:   uint64(bytesServed),
		BytesConsumed: uint64(bytesConsumed),
		Commitment: hosting.Commitment{
			DepositedXLM: uint64(depositedXLM),
		},
		Identity: hosting.IdentityInfo{
			CreatorPubKey:      creatorKey,
			CreatorVerified:    creatorVerifiedInt != 0,
			SubscriberPubKey:   subscriberKey,
			SubscriberVerified: subscriberVerifiedInt != 0,
			RecipientPubKey:    recipientKey,
		},
	}

	if lastOracleCheck.Valid {
		t := time.Unix(lastOracleCheck.Int64, 0)
		e.Commitment.LastOracleCheck = &t
	}

	return e, nil
}

func parseAccessType(s string) hosting.AccessType {
	switch s {
	case "put":
		return hosting.Put
	case "subscribe":
		return hosting.Subscribe
	default:
		return hosting.Get
	}
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullablePubKeyHex(k *[32]byte) sql.NullString {
	if k == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: hex.EncodeToString(k[:]), Valid: true}
}

func parsePubKeyHex(s sql.NullString) (*[32]byte, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s.String)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("invalid 32-byte hex pubkey %q", s.String)
	}
	var out [32]byte
	copy(out[:], b)
	return &out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
