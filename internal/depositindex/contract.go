package depositindex

import "github.com/klingon-exchange/cwpd/internal/depositmodel"

// Verdict is the result of ValidateState.
type Verdict int

const (
	Valid Verdict = iota
	Invalid
)

// UpdateKind classifies one inbound update_state item.
type UpdateKind int

const (
	// UpdateKindDelta carries a deposit proof to apply.
	UpdateKindDelta UpdateKind = iota
	// UpdateKindState carries a whole replacement map from peer sync.
	UpdateKindState
	// UpdateKindStateAndDelta carries both, applied state-then-delta.
	UpdateKindStateAndDelta
)

// Update is one element of an update_state call's batch.
type Update struct {
	Kind  UpdateKind
	State *depositmodel.Map
	Delta *depositmodel.Proof
}

// ValidateState checks the structural invariants of a deposit map. Empty
// (nil) state is always valid. Invalid state never fails the call — it
// yields the Invalid verdict, not an error.
func ValidateState(state *depositmodel.Map) Verdict {
	if state == nil || len(state.Deposits) == 0 {
		return Valid
	}
	if err := state.Validate(); err != nil {
		return Invalid
	}
	return Valid
}

// UpdateState applies a batch of updates to state in order. State-sync
// items are accepted iff their version strictly exceeds the current one;
// delta items run the five-stage proof pipeline. If anything in the batch
// caused a real change, version is bumped by exactly one at the end —
// never once per item.
func UpdateState(params depositmodel.Params, state *depositmodel.Map, updates []Update) *depositmodel.Map {
	out := depositmodel.Map{}
	if state != nil {
		out.Version = state.Version
		out.LastLedgerSeq = state.LastLedgerSeq
		out.Deposits = append([]depositmodel.Entry(nil), state.Deposits...)
	}

	changed := false
	for _, u := range updates {
		if (u.Kind == UpdateKindState || u.Kind == UpdateKindStateAndDelta) && u.State != nil {
			if u.State.Version > out.Version {
				out.Version = u.State.Version
				out.LastLedgerSeq = u.State.LastLedgerSeq
				out.Deposits = append([]depositmodel.Entry(nil), u.State.Deposits...)
				changed = true
			}
		}
		if (u.Kind == UpdateKindDelta || u.Kind == UpdateKindStateAndDelta) && u.Delta != nil {
			if applyProof(params, &out, u.Delta) {
				changed = true
			}
		}
	}

	if changed {
		out.Version++
	}
	return &out
}

// applyProof runs the five-stage pipeline against one deposit proof,
// mutating m in place. It returns whether the proof passed quorum and hash
// binding — the caller treats that, not "found a matching event", as the
// real-change signal: a proof that clears quorum but carries no matching
// DEPOSIT events still advances last_ledger_seq (decided from the source
// contract's behaviour, which returns changed=true unconditionally once
// the proof is verified).
func applyProof(params depositmodel.Params, m *depositmodel.Map, proof *depositmodel.Proof) bool {
	// Stage 1: staleness gate.
	if proof.LedgerSeq <= m.LastLedgerSeq {
		return false
	}

	// Stage 2: envelope decoding.
	envelopes, ok := DecodeEnvelopes(proof.ScpEnvelopes)
	if !ok {
		return false
	}

	// Stage 3+4: signature, consensus value, and quorum.
	consensus, ok := checkQuorum(envelopes, params, params.NetworkID)
	if !ok {
		return false
	}

	// Stage 5: hash binding and event extraction.
	if _, ok := VerifyTxSetHash(proof.TransactionSet, [32]byte(consensus.TxSetHash)); !ok {
		return false
	}
	deposits, ok := ExtractDeposits(proof.TxResultMetas, params.HvymContractAddress)
	if !ok {
		return false
	}

	for _, d := range deposits {
		m.Merge(d.ContractID, d.Amount, proof.LedgerSeq)
	}
	m.LastLedgerSeq = proof.LedgerSeq
	return true
}

// SummarizeState reduces state to its compact summary. Nil state yields
// the all-zero summary.
func SummarizeState(state *depositmodel.Map) depositmodel.Summary {
	if state == nil {
		return depositmodel.Summary{}
	}
	return state.Summarize()
}

// GetStateDelta returns the full state as the delta when its version
// differs from the peer's summary, or nil ("no delta") when versions
// already match — deposit maps are small enough that sending the whole
// state beats computing a diff.
func GetStateDelta(state *depositmodel.Map, summary depositmodel.Summary) *depositmodel.Map {
	if state == nil {
		return nil
	}
	if state.Version == summary.Version {
		return nil
	}
	return state
}
