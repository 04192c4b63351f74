// Package depositmodel declares the deposit-map and deposit-proof types
// shared by the deposit-index contract and the host-side subscriber hook.
// Neither side depends on the other's package — both depend on this one,
// so the wire schema is declared exactly once.
package depositmodel

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// ContractIDSize is the byte length of a contract id, network id, or
// validator/code-hash pubkey used throughout the deposit-index domain.
const ContractIDSize = 32

// ContractID is an opaque 32-byte network-wide identifier for a hosted
// piece of state, the external-ledger contract address, or a network id.
type ContractID [ContractIDSize]byte

// Hex renders the id as 64 lowercase hex characters, no prefix.
func (c ContractID) Hex() string {
	return hex.EncodeToString(c[:])
}

func (c ContractID) String() string { return c.Hex() }

// Less reports whether c sorts strictly before o, used for the deposit
// map's ascending contract_id ordering and for binary search.
func (c ContractID) Less(o ContractID) bool {
	for i := range c {
		if c[i] != o[i] {
			return c[i] < o[i]
		}
	}
	return false
}

// IsZero reports whether c is the all-zero sentinel.
func (c ContractID) IsZero() bool {
	for _, b := range c {
		if b != 0 {
			return false
		}
	}
	return true
}

// ParseContractID decodes a 64-character lowercase hex string into a
// ContractID. It rejects any length other than exactly 64 hex characters.
func ParseContractID(s string) (ContractID, error) {
	var id ContractID
	if len(s) != ContractIDSize*2 {
		return id, fmt.Errorf("depositmodel: contract id must be %d hex chars, got %d", ContractIDSize*2, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("depositmodel: invalid hex contract id: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

// ValidatorOrg is one organization's set of validators on the external
// ledger, declared as a static input parameter (non-goal: no tracking of
// validator-set evolution).
type ValidatorOrg struct {
	Name       string
	Validators []ContractID
}

// Params are the deposit-index contract's immutable identity: the external
// ledger network id, the validator organizations that form its quorum, an
// optional per-org threshold override, and the source contract address
// whose DEPOSIT events are being indexed.
type Params struct {
	NetworkID           ContractID
	Organizations       []ValidatorOrg
	QuorumOrgThreshold  int // 0 means the default floor(2n/3)+1
	HvymContractAddress ContractID
}

// Entry is one contract's cumulative deposit, as tracked in the map.
type Entry struct {
	ContractID     ContractID
	TotalDeposited *big.Int
	LastLedger     uint32
}

// Map is the monotone {contract-id -> cumulative-deposit} state maintained
// by the deposit-index contract. Deposits is kept strictly sorted ascending
// by ContractID with no duplicates.
type Map struct {
	Version       uint64
	LastLedgerSeq uint32
	Deposits      []Entry
}

// Summary is the compact form returned by SummarizeState.
type Summary struct {
	Version       uint64
	EntryCount    int
	LastLedgerSeq uint32
}

// Proof is one delta message: a bundle of external-ledger consensus
// artifacts that justifies one ledger's worth of deposits. Every byte
// field is base64-encoded XDR, decoded lazily by the consumer.
type Proof struct {
	LedgerSeq      uint32
	ScpEnvelopes   []string
	TransactionSet string
	TxResultMetas  []string
}

// ErrUnsorted is returned by Validate when the deposit list is not in
// strictly-ascending contract-id order, or contains a duplicate.
var ErrUnsorted = errors.New("depositmodel: deposits not strictly sorted by contract id")

// ErrNegativeAmount is returned by Validate when an entry's total is negative.
var ErrNegativeAmount = errors.New("depositmodel: negative total_deposited")

// Validate checks the structural invariants of a Map: strictly-ascending
// contract ids (no duplicates) and non-negative totals. It does not touch
// version or last_ledger_seq, which the contract interface governs.
func (m *Map) Validate() error {
	for i := 1; i < len(m.Deposits); i++ {
		prev, cur := m.Deposits[i-1].ContractID, m.Deposits[i].ContractID
		if !prev.Less(cur) {
			return ErrUnsorted
		}
	}
	for _, e := range m.Deposits {
		if e.TotalDeposited != nil && e.TotalDeposited.Sign() < 0 {
			return ErrNegativeAmount
		}
	}
	return nil
}

// Find returns the index of id in m.Deposits via binary search, and whether
// it was found.
func (m *Map) Find(id ContractID) (int, bool) {
	lo, hi := 0, len(m.Deposits)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case m.Deposits[mid].ContractID.Less(id):
			lo = mid + 1
		case id.Less(m.Deposits[mid].ContractID):
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

// Merge folds one extracted deposit into the map: accumulate if the
// contract id is already present (raising last_ledger only if the new
// ledger is greater), otherwise insert at the sorted position. It reports
// whether the map changed.
func (m *Map) Merge(id ContractID, amount *big.Int, ledgerSeq uint32) bool {
	idx, found := m.Find(id)
	if found {
		entry := &m.Deposits[idx]
		if amount.Sign() != 0 {
			entry.TotalDeposited = new(big.Int).Add(entry.TotalDeposited, amount)
		}
		changed := amount.Sign() != 0
		if ledgerSeq > entry.LastLedger {
			entry.LastLedger = ledgerSeq
			changed = true
		}
		return changed
	}

	entry := Entry{ContractID: id, TotalDeposited: new(big.Int).Set(amount), LastLedger: ledgerSeq}
	m.Deposits = append(m.Deposits, Entry{})
	copy(m.Deposits[idx+1:], m.Deposits[idx:])
	m.Deposits[idx] = entry
	return true
}

// Summarize produces the compact Summary for this map.
func (m *Map) Summarize() Summary {
	return Summary{Version: m.Version, EntryCount: len(m.Deposits), LastLedgerSeq: m.LastLedgerSeq}
}

// ClampUint64 converts a (potentially oversized) big.Int deposit amount
// into a uint64 commitment figure, clamping negatives to 0 and overflow to
// math.MaxUint64, per the i128-on-the-wire design note.
func ClampUint64(v *big.Int) uint64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

// Int128FromParts combines the external ledger's {hi, lo} wire encoding of
// a 128-bit integer into a big.Int: ((hi as i128) << 64) | (lo as i128).
// Because the shifted high part and the low part never share a bit, OR and
// addition coincide, so this is exact for both positive and negative hi.
func Int128FromParts(hi int64, lo uint64) *big.Int {
	v := new(big.Int).Lsh(big.NewInt(hi), 64)
	v.Add(v, new(big.Int).SetUint64(lo))
	return v
}
