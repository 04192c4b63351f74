// Package identity implements the signed identity envelope that binds a
// hosted contract's state to a creator key and an intended recipient.
//
// Grounded on the freenet-lepus ring hosting identity module: a 129-byte
// header (version, creator pubkey, creator signature, recipient pubkey)
// prepended to opaque contract state.
package identity

import (
	"crypto/ed25519"
)

// Version is the only envelope version this codec understands.
const Version uint8 = 1

const (
	versionSize   = 1
	pubKeySize    = ed25519.PublicKeySize  // 32
	signatureSize = ed25519.SignatureSize  // 64
	// HeaderSize is the fixed 129-byte envelope header length:
	// version(1) + creator_pubkey(32) + creator_signature(64) + recipient_pubkey(32).
	HeaderSize = versionSize + pubKeySize + signatureSize + pubKeySize
)

// Envelope is the parsed 129-byte identity header. Payload is not copied
// into the struct; callers slice it from the original state via
// state[identity.HeaderSize:].
type Envelope struct {
	Version          uint8
	CreatorPubKey    [32]byte
	CreatorSignature [64]byte
	RecipientPubKey  [32]byte
}

// PublicRecipient is the all-zero sentinel meaning "no intended recipient,
// content is public."
var PublicRecipient = [32]byte{}

// Parse attempts to read an envelope header from the front of state. It
// returns (nil, false) — not an error — whenever state is too short or its
// first byte isn't the known version; envelope-less state is permitted
// everywhere except where identity verification is mandated.
func Parse(state []byte) (*Envelope, bool) {
	if len(state) < HeaderSize {
		return nil, false
	}
	if state[0] != Version {
		return nil, false
	}

	var env Envelope
	env.Version = state[0]
	off := versionSize
	copy(env.CreatorPubKey[:], state[off:off+pubKeySize])
	off += pubKeySize
	copy(env.CreatorSignature[:], state[off:off+signatureSize])
	off += signatureSize
	copy(env.RecipientPubKey[:], state[off:off+pubKeySize])

	return &env, true
}

// Payload returns the opaque bytes following the header. Callers must have
// already confirmed len(state) >= HeaderSize via Parse.
func Payload(state []byte) []byte {
	if len(state) < HeaderSize {
		return nil
	}
	return state[HeaderSize:]
}

// VerifyCreator checks the Ed25519 signature over recipient_pubkey ||
// payload using the envelope's creator key. Any malformed key or signature
// yields false, never an error — signature verification failure is a
// policy-invalid result, not a deserialization error.
func (e *Envelope) VerifyCreator(state []byte) bool {
	if e == nil {
		return false
	}
	payload := Payload(state)
	msg := make([]byte, 0, len(e.RecipientPubKey)+len(payload))
	msg = append(msg, e.RecipientPubKey[:]...)
	msg = append(msg, payload...)

	return ed25519.Verify(e.CreatorPubKey[:], msg, e.CreatorSignature[:])
}

// CheckSubscriber reports whether the given node is the envelope's intended
// recipient: true iff recipient is the public sentinel, or equals the
// node's own pubkey.
func CheckSubscriber(recipient, nodePubKey [32]byte) bool {
	if recipient == PublicRecipient {
		return true
	}
	return recipient == nodePubKey
}

// Result is the composed output of VerifyIdentity: everything the hosting
// cache needs to populate an entry's identity sub-score.
type Result struct {
	CreatorPubKey      *[32]byte
	CreatorVerified    bool
	SubscriberPubKey   *[32]byte
	SubscriberVerified bool
	RecipientPubKey    *[32]byte
}

// VerifyIdentity parses and verifies state's envelope (if any) against an
// optional node pubkey. When the envelope is absent, all flags are
// false/nil. When nodePubKey is nil, only public-recipient content can
// verify the subscriber side.
func VerifyIdentity(state []byte, nodePubKey *[32]byte) Result {
	env, ok := Parse(state)
	if !ok {
		return Result{}
	}

	creatorPubKey := env.CreatorPubKey
	recipientPubKey := env.RecipientPubKey

	result := Result{
		CreatorPubKey:   &creatorPubKey,
		CreatorVerified: env.VerifyCreator(state),
		RecipientPubKey: &recipientPubKey,
	}

	// The subscriber pubkey reported back is always the node's own
	// configured identity, regardless of recipient value — it's the
	// subject the recipient is checked against, not a derived result.
	if nodePubKey != nil {
		subscriberPubKey := *nodePubKey
		result.SubscriberPubKey = &subscriberPubKey
	}

	if recipientPubKey == PublicRecipient {
		result.SubscriberVerified = true
		return result
	}

	// A non-public recipient can only be verified when the node has a
	// configured pubkey to compare against.
	if nodePubKey == nil {
		return result
	}

	result.SubscriberVerified = CheckSubscriber(recipientPubKey, *nodePubKey)
	return result
}
