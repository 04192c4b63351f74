package identity

import "crypto/ed25519"

// Build assembles a signed envelope + payload into full contract state:
// version || creator_pubkey || signature || recipient_pubkey || payload,
// where signature = Ed25519(creatorPriv, recipient || payload).
//
// This is primarily a test and client-library helper; the core codec only
// ever parses and verifies, per original design (it never originates
// envelopes).
func Build(creatorPriv ed25519.PrivateKey, recipientPubKey [32]byte, payload []byte) []byte {
	msg := make([]byte, 0, len(recipientPubKey)+len(payload))
	msg = append(msg, recipientPubKey[:]...)
	msg = append(msg, payload...)
	sig := ed25519.Sign(creatorPriv, msg)

	state := make([]byte, 0, HeaderSize+len(payload))
	state = append(state, Version)
	creatorPub := creatorPriv.Public().(ed25519.PublicKey)
	state = append(state, creatorPub...)
	state = append(state, sig...)
	state = append(state, recipientPubKey[:]...)
	state = append(state, payload...)
	return state
}
