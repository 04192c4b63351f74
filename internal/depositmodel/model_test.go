package depositmodel

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
)

func mustID(t *testing.T, s string) ContractID {
	t.Helper()
	id, err := ParseContractID(s)
	if err != nil {
		t.Fatalf("ParseContractID(%q) error = %v", s, err)
	}
	return id
}

func idHex(b byte) string {
	s := ""
	for i := 0; i < 64; i++ {
		s += "0"
	}
	return s[:62] + string("0123456789abcdef"[b>>4]) + string("0123456789abcdef"[b&0xf])
}

func TestParseContractIDRejectsWrongLength(t *testing.T) {
	if _, err := ParseContractID("abcd"); err == nil {
		t.Error("expected error for short hex string")
	}
	if _, err := ParseContractID(idHex(1) + "ff"); err == nil {
		t.Error("expected error for 66-char hex string")
	}
}

func TestContractIDLessOrdering(t *testing.T) {
	a := mustID(t, idHex(1))
	b := mustID(t, idHex(2))
	if !a.Less(b) {
		t.Error("expected a < b")
	}
	if b.Less(a) {
		t.Error("expected !(b < a)")
	}
	if a.Less(a) {
		t.Error("expected !(a < a)")
	}
}

func TestMapValidateUnsorted(t *testing.T) {
	m := &Map{Deposits: []Entry{
		{ContractID: mustID(t, idHex(2)), TotalDeposited: big.NewInt(1)},
		{ContractID: mustID(t, idHex(1)), TotalDeposited: big.NewInt(1)},
	}}
	if err := m.Validate(); err != ErrUnsorted {
		t.Errorf("Validate() = %v, want ErrUnsorted", err)
	}
}

func TestMapValidateDuplicate(t *testing.T) {
	m := &Map{Deposits: []Entry{
		{ContractID: mustID(t, idHex(1)), TotalDeposited: big.NewInt(1)},
		{ContractID: mustID(t, idHex(1)), TotalDeposited: big.NewInt(1)},
	}}
	if err := m.Validate(); err != ErrUnsorted {
		t.Errorf("Validate() = %v, want ErrUnsorted for duplicate", err)
	}
}

func TestMapValidateNegative(t *testing.T) {
	m := &Map{Deposits: []Entry{
		{ContractID: mustID(t, idHex(1)), TotalDeposited: big.NewInt(-1)},
	}}
	if err := m.Validate(); err != ErrNegativeAmount {
		t.Errorf("Validate() = %v, want ErrNegativeAmount", err)
	}
}

func TestMapMergeInsertAndAccumulate(t *testing.T) {
	m := &Map{}
	idX := mustID(t, idHex(0x10))

	changed := m.Merge(idX, big.NewInt(1_000_000), 100)
	if !changed {
		t.Fatal("expected first merge to report changed")
	}
	if len(m.Deposits) != 1 || m.Deposits[0].LastLedger != 100 {
		t.Fatalf("unexpected state after insert: %+v", m.Deposits)
	}

	changed = m.Merge(idX, big.NewInt(2_000_000), 200)
	if !changed {
		t.Fatal("expected second merge to report changed")
	}
	if got := m.Deposits[0].TotalDeposited.String(); got != "3000000" {
		t.Errorf("TotalDeposited = %s, want 3000000", got)
	}
	if m.Deposits[0].LastLedger != 200 {
		t.Errorf("LastLedger = %d, want 200", m.Deposits[0].LastLedger)
	}
}

func TestMapMergeKeepsSortedOrder(t *testing.T) {
	m := &Map{}
	m.Merge(mustID(t, idHex(2)), big.NewInt(1), 1)
	m.Merge(mustID(t, idHex(1)), big.NewInt(1), 1)
	m.Merge(mustID(t, idHex(3)), big.NewInt(1), 1)

	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() after inserts = %v", err)
	}
	if m.Deposits[0].ContractID.Hex() != idHex(1) {
		t.Errorf("deposits[0] = %s, want sorted first", m.Deposits[0].ContractID.Hex())
	}
}

func TestClampUint64(t *testing.T) {
	tests := []struct {
		name string
		in   *big.Int
		want uint64
	}{
		{"nil", nil, 0},
		{"negative", big.NewInt(-5), 0},
		{"zero", big.NewInt(0), 0},
		{"in range", big.NewInt(42), 42},
		{"max", new(big.Int).SetUint64(math.MaxUint64), math.MaxUint64},
		{"overflow", new(big.Int).Lsh(big.NewInt(1), 128), math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampUint64(tt.in); got != tt.want {
				t.Errorf("ClampUint64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestInt128FromParts(t *testing.T) {
	// hi=0, lo=42 -> 42
	if got := Int128FromParts(0, 42); got.String() != "42" {
		t.Errorf("Int128FromParts(0, 42) = %s, want 42", got)
	}
	// hi=1, lo=0 -> 2^64
	want := new(big.Int).Lsh(big.NewInt(1), 64)
	if got := Int128FromParts(1, 0); got.Cmp(want) != 0 {
		t.Errorf("Int128FromParts(1, 0) = %s, want %s", got, want)
	}
}

func TestEntryJSONRoundTrip(t *testing.T) {
	e := Entry{ContractID: mustID(t, idHex(7)), TotalDeposited: big.NewInt(123456789), LastLedger: 55}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Entry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ContractID != e.ContractID || got.LastLedger != e.LastLedger || got.TotalDeposited.Cmp(e.TotalDeposited) != 0 {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestMapSummarize(t *testing.T) {
	m := &Map{Version: 3, LastLedgerSeq: 42, Deposits: []Entry{{}, {}}}
	s := m.Summarize()
	if s.Version != 3 || s.EntryCount != 2 || s.LastLedgerSeq != 42 {
		t.Errorf("Summarize() = %+v", s)
	}
}
