package depositindex

import (
	"bytes"
	"encoding/base64"
	"math/big"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
	"github.com/stellar/go/xdr"
)

// ExtractedDeposit is one DEPOSIT event located inside a transaction's
// Soroban metadata.
type ExtractedDeposit struct {
	ContractID depositmodel.ContractID
	Amount     *big.Int
}

// ExtractDeposits decodes a batch of base64 transaction-result-meta
// entries and collects every Soroban DEPOSIT event emitted by
// hvymContractAddr. A decode failure on any meta fails the whole batch,
// same as DecodeEnvelopes — stage 5 of the proof pipeline.
func ExtractDeposits(b64Metas []string, hvymContractAddr depositmodel.ContractID) ([]ExtractedDeposit, bool) {
	var deposits []ExtractedDeposit
	for _, b64 := range b64Metas {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, false
		}
		var meta xdr.TransactionResultMeta
		if _, err := xdr.Unmarshal(bytes.NewReader(raw), &meta); err != nil {
			return nil, false
		}
		for _, ev := range sorobanEvents(meta.TxApplyProcessing) {
			if d, ok := tryExtractDeposit(ev, hvymContractAddr); ok {
				deposits = append(deposits, d)
			}
		}
	}
	return deposits, true
}

// sorobanEvents returns the Soroban contract events carried by a
// transaction's V3 metadata, or nil for earlier meta versions or
// non-Soroban transactions.
func sorobanEvents(meta xdr.TransactionMeta) []xdr.ContractEvent {
	v3, ok := meta.GetV3()
	if !ok || v3.SorobanMeta == nil {
		return nil
	}
	return v3.SorobanMeta.Events
}

// tryExtractDeposit matches one contract event against the DEPOSIT event
// shape: source == hvymContractAddr, topics[0] == Symbol("DEPOSIT"),
// topics[1] == Bytes(target contract id), data carries the amount as an
// i128 (either directly or as element 1 of a tuple).
func tryExtractDeposit(ev xdr.ContractEvent, hvymContractAddr depositmodel.ContractID) (ExtractedDeposit, bool) {
	if ev.Type != xdr.ContractEventTypeContract {
		return ExtractedDeposit{}, false
	}
	if ev.ContractId == nil {
		return ExtractedDeposit{}, false
	}
	var sourceID depositmodel.ContractID
	copy(sourceID[:], (*ev.ContractId)[:])
	if sourceID != hvymContractAddr {
		return ExtractedDeposit{}, false
	}

	body, ok := ev.Body.GetV0()
	if !ok || len(body.Topics) < 2 {
		return ExtractedDeposit{}, false
	}

	sym, ok := body.Topics[0].GetSym()
	if !ok || string(sym) != "DEPOSIT" {
		return ExtractedDeposit{}, false
	}

	targetBytes, ok := body.Topics[1].GetBytes()
	if !ok || len(targetBytes) != depositmodel.ContractIDSize {
		return ExtractedDeposit{}, false
	}
	var target depositmodel.ContractID
	copy(target[:], targetBytes)

	amount, ok := extractAmount(body.Data)
	if !ok {
		return ExtractedDeposit{}, false
	}

	return ExtractedDeposit{ContractID: target, Amount: amount}, true
}

// extractAmount locates the i128 deposit amount in the event's data ScVal:
// either a bare I128, or element 1 of a Vec tuple
// (caller, amount, burn_amount, ledger_seq).
func extractAmount(data xdr.ScVal) (*big.Int, bool) {
	if vec, ok := data.GetVec(); ok && vec != nil {
		items := *vec
		if len(items) < 2 {
			return nil, false
		}
		return amountFromScVal(items[1])
	}
	return amountFromScVal(data)
}

func amountFromScVal(v xdr.ScVal) (*big.Int, bool) {
	parts, ok := v.GetI128()
	if !ok {
		return nil, false
	}
	return depositmodel.Int128FromParts(int64(parts.Hi), uint64(parts.Lo)), true
}
