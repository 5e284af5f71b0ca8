package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"

	"github.com/google/uuid"
)

// MemberIdentity is the external collaborator that owns cryptographic key
// management: ECIES key pairs and member identity issuance are out of
// scope for this core and are consumed only through this interface.
//
// Two independent signature surfaces are exposed because the specification
// fixes two different signature widths for two different purposes: CBL
// headers carry a 64-byte creatorSignature (§3), while message content
// signing is specified as an HMAC-SHA256 of SHA256(content) (§4.11, 32
// bytes). The open question on whether to preserve HMAC-as-signature or
// upgrade to a true asymmetric scheme is left to the identity
// implementation; HMACIdentity below preserves the HMAC contract.
type MemberIdentity interface {
	// ID returns the creator identifier recorded in a CBL header. Its
	// length must equal the deployment's configured idSize.
	ID() []byte

	// Address returns the messaging address (e.g. "alice@example.com")
	// associated with this identity.
	Address() string

	// PublicKey returns the identity's public key material, opaque to the
	// core.
	PublicKey() []byte

	// SignHeader produces the 64-byte CBL header signature.
	SignHeader(data []byte) ([64]byte, error)
	// VerifyHeader checks a 64-byte CBL header signature.
	VerifyHeader(data []byte, sig [64]byte) bool

	// SignContent produces the 32-byte HMAC-SHA256(SHA256(content))
	// message-content signature of §4.11.
	SignContent(content []byte) ([32]byte, error)
	// VerifyContent checks a content signature.
	VerifyContent(content []byte, sig [32]byte) bool

	// EncapsulateKey ECIES-wraps a symmetric key under this identity's
	// public key, for RecipientKeys/SMIME encryption.
	EncapsulateKey(symmetricKey []byte) ([]byte, error)
	// DecapsulateKey reverses EncapsulateKey using this identity's private
	// key.
	DecapsulateKey(encapsulated []byte) ([]byte, error)
}

// HMACIdentity is a reference MemberIdentity suitable for tests and
// single-process demos. It uses HMAC as a deterministic stand-in for
// ECDSA/ECIES, per the specification's open question on signature scheme
// choice, and a simple XOR-with-derived-pad in place of true ECIES
// encapsulation (key management is explicitly out of this core's scope;
// this stand-in exists only so the core's tests can exercise the
// MemberIdentity contract end to end).
type HMACIdentity struct {
	id      []byte
	address string
	key     []byte // shared secret standing in for a private key
}

// NewHMACIdentity builds an identity with the given id (must equal the
// deployment's idSize), address, and private key material.
func NewHMACIdentity(id []byte, address string, key []byte) *HMACIdentity {
	return &HMACIdentity{id: append([]byte{}, id...), address: address, key: append([]byte{}, key...)}
}

func (h *HMACIdentity) ID() []byte        { return append([]byte{}, h.id...) }
func (h *HMACIdentity) Address() string   { return h.address }
func (h *HMACIdentity) PublicKey() []byte { return append([]byte{}, h.key...) }

func (h *HMACIdentity) SignHeader(data []byte) ([64]byte, error) {
	mac := hmac.New(sha512.New, h.key)
	mac.Write(data)
	var out [64]byte
	copy(out[:], mac.Sum(nil))
	return out, nil
}

func (h *HMACIdentity) VerifyHeader(data []byte, sig [64]byte) bool {
	expected, _ := h.SignHeader(data)
	return EqualConstantTime(expected[:], sig[:])
}

func (h *HMACIdentity) SignContent(content []byte) ([32]byte, error) {
	digest := sha256.Sum256(content)
	mac := hmac.New(sha256.New, h.key)
	mac.Write(digest[:])
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out, nil
}

func (h *HMACIdentity) VerifyContent(content []byte, sig [32]byte) bool {
	expected, _ := h.SignContent(content)
	return EqualConstantTime(expected[:], sig[:])
}

func (h *HMACIdentity) EncapsulateKey(symmetricKey []byte) ([]byte, error) {
	pad := hmac.New(sha256.New, h.key)
	pad.Write([]byte("encapsulate"))
	mask := pad.Sum(nil)
	out := make([]byte, len(symmetricKey))
	for i := range symmetricKey {
		out[i] = symmetricKey[i] ^ mask[i%len(mask)]
	}
	return out, nil
}

func (h *HMACIdentity) DecapsulateKey(encapsulated []byte) ([]byte, error) {
	// XOR is self-inverse under the same mask.
	return h.EncapsulateKey(encapsulated)
}

// GenerateMemberID returns a fresh random member identifier truncated or
// zero-padded to size bytes, for deployments minting a new identity rather
// than importing one issued elsewhere.
func GenerateMemberID(size int) []byte {
	id := uuid.New()
	out := make([]byte, size)
	copy(out, id[:])
	return out
}
