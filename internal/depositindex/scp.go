// Package depositindex implements the deposit-index contract: a
// deterministic state machine that folds verified Stellar SCP consensus
// proofs into a monotone {contract_id -> cumulative_deposit} map.
package depositindex

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
	"github.com/stellar/go/xdr"
)

// DecodeEnvelopes base64- then XDR-decodes a batch of SCP envelopes. Any
// single bad envelope fails the whole batch — decode failure is stage 2 of
// the proof pipeline, and a stage failure skips the entire proof.
func DecodeEnvelopes(b64Envelopes []string) ([]xdr.ScpEnvelope, bool) {
	envelopes := make([]xdr.ScpEnvelope, 0, len(b64Envelopes))
	for _, b64 := range b64Envelopes {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, false
		}
		var env xdr.ScpEnvelope
		if _, err := xdr.Unmarshal(bytes.NewReader(raw), &env); err != nil {
			return nil, false
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, true
}

// envelopeSigner verifies one envelope's Ed25519 signature over
// network_id || envelope_type_scp || xdr(statement) and returns the
// signer's node pubkey. A malformed key or bad signature reports ok=false,
// never an error — per-envelope verification failures are silently
// dropped, not hard errors.
func envelopeSigner(env xdr.ScpEnvelope, networkID [32]byte) (signer [32]byte, ok bool) {
	pub, present := env.Statement.NodeId.GetEd25519()
	if !present {
		return signer, false
	}
	copy(signer[:], pub[:])

	statementXDR, err := env.Statement.MarshalBinary()
	if err != nil {
		return signer, false
	}
	envelopeTypeXDR, err := xdr.EnvelopeTypeEnvelopeTypeScp.MarshalBinary()
	if err != nil {
		return signer, false
	}

	msg := make([]byte, 0, 32+len(envelopeTypeXDR)+len(statementXDR))
	msg = append(msg, networkID[:]...)
	msg = append(msg, envelopeTypeXDR...)
	msg = append(msg, statementXDR...)

	sig := []byte(env.Signature)
	if len(sig) != ed25519.SignatureSize {
		return signer, false
	}
	if !ed25519.Verify(signer[:], msg, sig) {
		return signer, false
	}
	return signer, true
}

// consensusValue extracts the StellarValue an externalize pledge committed
// to. ok is false for non-externalize statements or undecodable values.
func consensusValue(env xdr.ScpEnvelope) (xdr.StellarValue, bool) {
	ext, present := env.Statement.Pledges.GetExternalize()
	if !present {
		return xdr.StellarValue{}, false
	}
	var sv xdr.StellarValue
	if _, err := xdr.Unmarshal(bytes.NewReader([]byte(ext.Commit.Value)), &sv); err != nil {
		return xdr.StellarValue{}, false
	}
	return sv, true
}

// checkQuorum verifies that a per-org majority of validators, across
// enough organizations to clear the quorum threshold, signed externalize
// statements agreeing on the same consensus value. It returns that value
// on success.
func checkQuorum(envelopes []xdr.ScpEnvelope, params depositmodel.Params, networkID [32]byte) (xdr.StellarValue, bool) {
	type signerHash struct {
		signer [32]byte
		hash   [32]byte
	}

	var valid []signerHash
	for _, env := range envelopes {
		if _, present := env.Statement.Pledges.GetExternalize(); !present {
			continue
		}
		signer, ok := envelopeSigner(env, networkID)
		if !ok {
			continue
		}
		sv, ok := consensusValue(env)
		if !ok {
			continue
		}
		valid = append(valid, signerHash{signer: signer, hash: [32]byte(sv.TxSetHash)})
	}

	if len(valid) == 0 {
		return xdr.StellarValue{}, false
	}

	consensusHash := valid[0].hash
	for _, v := range valid {
		if v.hash != consensusHash {
			return xdr.StellarValue{}, false
		}
	}

	threshold := params.QuorumOrgThreshold
	if threshold == 0 {
		threshold = (len(params.Organizations)*2)/3 + 1
	}

	orgsWithMajority := 0
	for _, org := range params.Organizations {
		count := 0
		for _, validatorID := range org.Validators {
			for _, v := range valid {
				if depositmodel.ContractID(v.signer) == validatorID {
					count++
					break
				}
			}
		}
		if count >= len(org.Validators)/2+1 {
			orgsWithMajority++
		}
	}

	if orgsWithMajority < threshold {
		return xdr.StellarValue{}, false
	}

	for _, env := range envelopes {
		sv, ok := consensusValue(env)
		if ok && [32]byte(sv.TxSetHash) == consensusHash {
			return sv, true
		}
	}
	return xdr.StellarValue{}, false
}
