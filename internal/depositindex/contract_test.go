package depositindex

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
	"github.com/stellar/go/xdr"
)

var testNetworkID = sha256.Sum256([]byte("Test SDF Network ; September 2015"))

func contractIDWithByte(b byte) depositmodel.ContractID {
	var id depositmodel.ContractID
	id[0] = b
	return id
}

var hvymAddr = contractIDWithByte(0xAA)

func makeOrgKeys(t *testing.T, numOrgs, perOrg int) ([][]ed25519.PublicKey, [][]ed25519.PrivateKey) {
	t.Helper()
	pubs := make([][]ed25519.PublicKey, numOrgs)
	privs := make([][]ed25519.PrivateKey, numOrgs)
	for o := 0; o < numOrgs; o++ {
		for v := 0; v < perOrg; v++ {
			seed := make([]byte, ed25519.SeedSize)
			seed[0] = byte(o*10 + v + 1)
			priv := ed25519.NewKeyFromSeed(seed)
			pubs[o] = append(pubs[o], priv.Public().(ed25519.PublicKey))
			privs[o] = append(privs[o], priv)
		}
	}
	return pubs, privs
}

func makeParams(pubs [][]ed25519.PublicKey, quorumOrgThreshold int) depositmodel.Params {
	orgs := make([]depositmodel.ValidatorOrg, len(pubs))
	for i, keys := range pubs {
		org := depositmodel.ValidatorOrg{Name: "Org"}
		for _, k := range keys {
			var id depositmodel.ContractID
			copy(id[:], k)
			org.Validators = append(org.Validators, id)
		}
		orgs[i] = org
	}
	return depositmodel.Params{
		NetworkID:           testNetworkID,
		Organizations:       orgs,
		QuorumOrgThreshold:  quorumOrgThreshold,
		HvymContractAddress: hvymAddr,
	}
}

func makeTxSet(t *testing.T) (string, [32]byte) {
	t.Helper()
	txSet := xdr.GeneralizedTransactionSet{
		V:  1,
		V1: &xdr.TransactionSetV1{PreviousLedgerHash: xdr.Hash{}},
	}
	raw, err := txSet.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary(txSet) error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw), sha256.Sum256(raw)
}

func makeStellarValue(txSetHash [32]byte) xdr.StellarValue {
	return xdr.StellarValue{TxSetHash: xdr.Hash(txSetHash)}
}

func makeSignedEnvelope(t *testing.T, priv ed25519.PrivateKey, sv xdr.StellarValue, networkID [32]byte) xdr.ScpEnvelope {
	t.Helper()
	valueXDR, err := sv.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary(StellarValue) error = %v", err)
	}

	var nodeKey xdr.Uint256
	copy(nodeKey[:], priv.Public().(ed25519.PublicKey))

	statement := xdr.ScpStatement{
		NodeId:    xdr.PublicKey{Type: xdr.PublicKeyTypePublicKeyTypeEd25519, Ed25519: &nodeKey},
		SlotIndex: 100,
		Pledges: xdr.ScpStatementPledges{
			Type: xdr.ScpStatementTypeScpStExternalize,
			Externalize: &xdr.ScpStatementExternalize{
				Commit:              xdr.ScpBallot{Counter: 1, Value: xdr.Value(valueXDR)},
				NH:                  1,
				CommitQuorumSetHash: xdr.Hash{},
			},
		},
	}

	statementXDR, err := statement.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary(statement) error = %v", err)
	}
	envTypeXDR, err := xdr.EnvelopeTypeEnvelopeTypeScp.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary(envelopeType) error = %v", err)
	}

	msg := make([]byte, 0, 32+len(envTypeXDR)+len(statementXDR))
	msg = append(msg, networkID[:]...)
	msg = append(msg, envTypeXDR...)
	msg = append(msg, statementXDR...)
	sig := ed25519.Sign(priv, msg)

	return xdr.ScpEnvelope{Statement: statement, Signature: xdr.Signature(sig)}
}

func encodeEnvelope(t *testing.T, env xdr.ScpEnvelope) string {
	t.Helper()
	raw, err := env.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary(envelope) error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func makeTxResultMetaWithDeposit(t *testing.T, hvymAddr, targetID depositmodel.ContractID, amount *big.Int) string {
	t.Helper()
	hi := new(big.Int).Rsh(amount, 64)
	lo := new(big.Int).And(amount, new(big.Int).SetUint64(^uint64(0)))

	contractHash := xdr.Hash(hvymAddr)
	event := xdr.ContractEvent{
		ContractId: &contractHash,
		Type:       xdr.ContractEventTypeContract,
		Body: xdr.ContractEventBody{
			V: 0,
			V0: &xdr.ContractEventV0{
				Topics: []xdr.ScVal{
					{Type: xdr.ScValTypeScvSymbol, Sym: symPtr("DEPOSIT")},
					{Type: xdr.ScValTypeScvBytes, Bytes: bytesPtr(targetID[:])},
				},
				Data: xdr.ScVal{
					Type: xdr.ScValTypeScvVec,
					Vec: vecPtr(xdr.ScVec{
						{Type: xdr.ScValTypeScvVoid},
						{Type: xdr.ScValTypeScvI128, I128: &xdr.Int128Parts{Hi: xdr.Int64(hi.Int64()), Lo: xdr.Uint64(lo.Uint64())}},
						{Type: xdr.ScValTypeScvI128, I128: &xdr.Int128Parts{}},
						{Type: xdr.ScValTypeScvU32, U32: u32Ptr(100)},
					}),
				},
			},
		},
	}

	sorobanMeta := xdr.SorobanTransactionMeta{Events: []xdr.ContractEvent{event}}
	txMeta := xdr.TransactionMeta{
		V: 3,
		V3: &xdr.TransactionMetaV3{SorobanMeta: &sorobanMeta},
	}
	resultMeta := xdr.TransactionResultMeta{TxApplyProcessing: txMeta}

	raw, err := resultMeta.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary(resultMeta) error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func symPtr(s string) *xdr.ScSymbol   { v := xdr.ScSymbol(s); return &v }
func bytesPtr(b []byte) *xdr.ScBytes  { v := xdr.ScBytes(append([]byte(nil), b...)); return &v }
func vecPtr(v xdr.ScVec) **xdr.ScVec  { p := &v; return &p }
func u32Ptr(n uint32) *xdr.Uint32     { v := xdr.Uint32(n); return &v }

func makeValidProof(t *testing.T, privs []ed25519.PrivateKey, ledgerSeq uint32, amount int64) depositmodel.Proof {
	t.Helper()
	txSetB64, txSetHash := makeTxSet(t)
	sv := makeStellarValue(txSetHash)

	envelopes := make([]string, len(privs))
	for i, priv := range privs {
		envelopes[i] = encodeEnvelope(t, makeSignedEnvelope(t, priv, sv, testNetworkID))
	}

	targetID := contractIDWithByte(0x01)
	meta := makeTxResultMetaWithDeposit(t, hvymAddr, targetID, big.NewInt(amount))

	return depositmodel.Proof{
		LedgerSeq:      ledgerSeq,
		ScpEnvelopes:   envelopes,
		TransactionSet: txSetB64,
		TxResultMetas:  []string{meta},
	}
}

func flattenPrivs(privs [][]ed25519.PrivateKey) []ed25519.PrivateKey {
	var out []ed25519.PrivateKey
	for _, org := range privs {
		out = append(out, org...)
	}
	return out
}

// --- Validation tests ---

func TestValidateStateEmpty(t *testing.T) {
	if ValidateState(nil) != Valid {
		t.Error("ValidateState(nil) should be Valid")
	}
}

func TestValidateStateUnsorted(t *testing.T) {
	m := &depositmodel.Map{
		Deposits: []depositmodel.Entry{
			{ContractID: contractIDWithByte(0xbb), TotalDeposited: big.NewInt(1)},
			{ContractID: contractIDWithByte(0xaa), TotalDeposited: big.NewInt(1)},
		},
	}
	if ValidateState(m) != Invalid {
		t.Error("ValidateState() with unsorted deposits should be Invalid")
	}
}

func TestValidateStateNegative(t *testing.T) {
	m := &depositmodel.Map{
		Deposits: []depositmodel.Entry{
			{ContractID: contractIDWithByte(0xaa), TotalDeposited: big.NewInt(-1)},
		},
	}
	if ValidateState(m) != Invalid {
		t.Error("ValidateState() with negative amount should be Invalid")
	}
}

// --- Full pipeline tests ---

func TestUpdateStateValidProof(t *testing.T) {
	pubs, privs := makeOrgKeys(t, 3, 2)
	params := makeParams(pubs, 0)
	proof := makeValidProof(t, flattenPrivs(privs), 100, 5_000_000)

	result := UpdateState(params, nil, []Update{{Kind: UpdateKindDelta, Delta: &proof}})

	if len(result.Deposits) != 1 {
		t.Fatalf("Deposits = %d, want 1", len(result.Deposits))
	}
	if result.Deposits[0].TotalDeposited.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("TotalDeposited = %s, want 5000000", result.Deposits[0].TotalDeposited)
	}
	if result.LastLedgerSeq != 100 {
		t.Errorf("LastLedgerSeq = %d, want 100", result.LastLedgerSeq)
	}
	if result.Version == 0 {
		t.Error("Version should have advanced from 0")
	}
}

func TestUpdateStateInvalidSignature(t *testing.T) {
	pubs, _ := makeOrgKeys(t, 3, 2)
	params := makeParams(pubs, 0)

	_, rogue := makeOrgKeys(t, 1, 6)
	proof := makeValidProof(t, rogue[0], 100, 5_000_000)

	result := UpdateState(params, nil, []Update{{Kind: UpdateKindDelta, Delta: &proof}})
	if len(result.Deposits) != 0 {
		t.Errorf("Deposits = %d, want 0 for rogue signers", len(result.Deposits))
	}
}

func TestUpdateStateInsufficientQuorum(t *testing.T) {
	pubs, privs := makeOrgKeys(t, 3, 3)
	params := makeParams(pubs, 3)

	proof := makeValidProof(t, privs[0], 100, 5_000_000)

	result := UpdateState(params, nil, []Update{{Kind: UpdateKindDelta, Delta: &proof}})
	if len(result.Deposits) != 0 {
		t.Errorf("Deposits = %d, want 0 for insufficient quorum", len(result.Deposits))
	}
}

func TestUpdateStateSufficientQuorum(t *testing.T) {
	pubs, privs := makeOrgKeys(t, 3, 2)
	params := makeParams(pubs, 2)

	signers := append(append([]ed25519.PrivateKey{}, privs[0]...), privs[1]...)
	proof := makeValidProof(t, signers, 100, 5_000_000)

	result := UpdateState(params, nil, []Update{{Kind: UpdateKindDelta, Delta: &proof}})
	if len(result.Deposits) != 1 {
		t.Errorf("Deposits = %d, want 1 for sufficient quorum", len(result.Deposits))
	}
}

func TestUpdateStateStaleLedger(t *testing.T) {
	pubs, privs := makeOrgKeys(t, 3, 2)
	params := makeParams(pubs, 0)

	existing := &depositmodel.Map{Version: 5, LastLedgerSeq: 200}
	proof := makeValidProof(t, flattenPrivs(privs), 100, 5_000_000)

	result := UpdateState(params, existing, []Update{{Kind: UpdateKindDelta, Delta: &proof}})
	if result.LastLedgerSeq != 200 {
		t.Errorf("LastLedgerSeq = %d, want unchanged 200", result.LastLedgerSeq)
	}
	if len(result.Deposits) != 0 {
		t.Errorf("Deposits = %d, want 0 for stale proof", len(result.Deposits))
	}
	if result.Version != 5 {
		t.Errorf("Version = %d, want unchanged 5", result.Version)
	}
}

func TestUpdateStateMonotonicMerge(t *testing.T) {
	pubs, privs := makeOrgKeys(t, 3, 2)
	params := makeParams(pubs, 0)
	signers := flattenPrivs(privs)

	proof1 := makeValidProof(t, signers, 100, 1_000_000)
	state1 := UpdateState(params, nil, []Update{{Kind: UpdateKindDelta, Delta: &proof1}})

	proof2 := makeValidProof(t, signers, 200, 2_000_000)
	state2 := UpdateState(params, state1, []Update{{Kind: UpdateKindDelta, Delta: &proof2}})

	if state2.Deposits[0].TotalDeposited.Cmp(big.NewInt(3_000_000)) != 0 {
		t.Errorf("TotalDeposited = %s, want 3000000", state2.Deposits[0].TotalDeposited)
	}
	if state2.LastLedgerSeq != 200 {
		t.Errorf("LastLedgerSeq = %d, want 200", state2.LastLedgerSeq)
	}
}

func TestUpdateStateIdempotentReapply(t *testing.T) {
	pubs, privs := makeOrgKeys(t, 3, 2)
	params := makeParams(pubs, 0)
	signers := flattenPrivs(privs)
	proof := makeValidProof(t, signers, 100, 5_000_000)

	state1 := UpdateState(params, nil, []Update{{Kind: UpdateKindDelta, Delta: &proof}})
	// Re-applying the same ledger is rejected by the staleness gate.
	state2 := UpdateState(params, state1, []Update{{Kind: UpdateKindDelta, Delta: &proof}})

	if len(state2.Deposits) != 1 {
		t.Fatalf("Deposits = %d, want 1", len(state2.Deposits))
	}
	if state2.Deposits[0].TotalDeposited.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("TotalDeposited = %s, want unchanged 5000000", state2.Deposits[0].TotalDeposited)
	}
}

func TestUpdateStateWrongContractAddress(t *testing.T) {
	pubs, privs := makeOrgKeys(t, 3, 2)
	params := makeParams(pubs, 0)
	params.HvymContractAddress = contractIDWithByte(0xCC)

	proof := makeValidProof(t, flattenPrivs(privs), 100, 5_000_000)

	result := UpdateState(params, nil, []Update{{Kind: UpdateKindDelta, Delta: &proof}})
	if len(result.Deposits) != 0 {
		t.Errorf("Deposits = %d, want 0 for wrong contract address", len(result.Deposits))
	}
	if result.LastLedgerSeq != 100 {
		t.Errorf("LastLedgerSeq = %d, want 100 (proof still passed quorum+hash)", result.LastLedgerSeq)
	}
}

// --- Summarize and delta tests ---

func TestSummarizeAndDelta(t *testing.T) {
	m := &depositmodel.Map{
		Version:       3,
		LastLedgerSeq: 150,
		Deposits: []depositmodel.Entry{
			{ContractID: contractIDWithByte(0xaa), TotalDeposited: big.NewInt(1000), LastLedger: 100},
			{ContractID: contractIDWithByte(0xbb), TotalDeposited: big.NewInt(2000), LastLedger: 150},
		},
	}

	summary := SummarizeState(m)
	if summary.Version != 3 || summary.EntryCount != 2 || summary.LastLedgerSeq != 150 {
		t.Errorf("summary = %+v, want {3 2 150}", summary)
	}

	if delta := GetStateDelta(m, summary); delta != nil {
		t.Error("GetStateDelta() with matching version should be nil")
	}
}

func TestDeltaDifferentVersion(t *testing.T) {
	m := &depositmodel.Map{Version: 5, LastLedgerSeq: 200}
	oldSummary := depositmodel.Summary{Version: 3, EntryCount: 1, LastLedgerSeq: 150}

	delta := GetStateDelta(m, oldSummary)
	if delta == nil {
		t.Fatal("GetStateDelta() with differing version should return the full state")
	}
	if delta.Version != 5 {
		t.Errorf("delta.Version = %d, want 5", delta.Version)
	}
}
