package depositindex

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"

	"github.com/stellar/go/xdr"
)

// VerifyTxSetHash decodes a base64 generalized transaction set, re-encodes
// it canonically, and confirms its SHA-256 matches the hash the SCP
// consensus value committed to. This binds the proof's transaction set to
// the quorum-verified consensus, stage 5 of the proof pipeline.
func VerifyTxSetHash(b64TxSet string, expectedHash [32]byte) (xdr.GeneralizedTransactionSet, bool) {
	raw, err := base64.StdEncoding.DecodeString(b64TxSet)
	if err != nil {
		return xdr.GeneralizedTransactionSet{}, false
	}

	var txSet xdr.GeneralizedTransactionSet
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), &txSet); err != nil {
		return xdr.GeneralizedTransactionSet{}, false
	}

	canonical, err := txSet.MarshalBinary()
	if err != nil {
		return xdr.GeneralizedTransactionSet{}, false
	}

	computed := sha256.Sum256(canonical)
	if computed != expectedHash {
		return xdr.GeneralizedTransactionSet{}, false
	}
	return txSet, true
}
