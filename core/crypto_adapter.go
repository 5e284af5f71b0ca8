package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"

	"golang.org/x/crypto/hkdf"
)

// EncryptionScheme selects the crypto layering applied on top of a CBL's
// content, per §4.11.
type EncryptionScheme int

const (
	SchemeNone EncryptionScheme = iota
	SchemeSharedKey
	SchemeRecipientKeys
	SchemeSMIME
)

// SealedContent is the output of encrypting a payload under one of the
// §4.11 schemes.
type SealedContent struct {
	Scheme          EncryptionScheme  `json:"scheme"`
	Ciphertext      []byte            `json:"ciphertext"`
	IV              [12]byte          `json:"iv"`
	Tag             [16]byte          `json:"tag"`
	EncryptedKeys   map[string][]byte `json:"encryptedKeys,omitempty"` // address -> ECIES-wrapped symmetric key, RecipientKeys/SMIME only
	SenderSignature *[32]byte         `json:"senderSignature,omitempty"` // SMIME only
}

// MarshalSealedContent serializes a SealedContent into the payload bytes
// handed to AssembleCBL, so a BCC copy's CBL stores ciphertext rather than
// plaintext.
func MarshalSealedContent(sealed SealedContent) ([]byte, error) {
	data, err := json.Marshal(sealed)
	if err != nil {
		return nil, NewError(ErrEncryptionFailed, "sealedContent", err)
	}
	return data, nil
}

// UnmarshalSealedContent reverses MarshalSealedContent on retrieval.
func UnmarshalSealedContent(data []byte) (SealedContent, error) {
	var sealed SealedContent
	if err := json.Unmarshal(data, &sealed); err != nil {
		return SealedContent{}, NewError(ErrDecryptionFailed, "sealedContent", err)
	}
	return sealed, nil
}

// EncryptSharedKey encrypts plaintext once under a caller-supplied 32-byte
// key using AES-256-GCM.
func EncryptSharedKey(plaintext []byte, key [32]byte) (SealedContent, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return SealedContent{}, NewError(ErrEncryptionFailed, "", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, 16)
	if err != nil {
		return SealedContent{}, NewError(ErrEncryptionFailed, "", err)
	}
	var iv [12]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return SealedContent{}, NewError(ErrEncryptionFailed, "", err)
	}
	sealed := gcm.Seal(nil, iv[:], plaintext, nil)
	ciphertext := sealed[:len(sealed)-16]
	var tag [16]byte
	copy(tag[:], sealed[len(sealed)-16:])
	return SealedContent{Scheme: SchemeSharedKey, Ciphertext: ciphertext, IV: iv, Tag: tag}, nil
}

// DecryptSharedKey reverses EncryptSharedKey.
func DecryptSharedKey(sealed SealedContent, key [32]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, NewError(ErrDecryptionFailed, "", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, 16)
	if err != nil {
		return nil, NewError(ErrDecryptionFailed, "", err)
	}
	combined := append(append([]byte{}, sealed.Ciphertext...), sealed.Tag[:]...)
	plaintext, err := gcm.Open(nil, sealed.IV[:], combined, nil)
	if err != nil {
		return nil, NewError(ErrDecryptionFailed, "", err)
	}
	return plaintext, nil
}

// GenerateSymmetricKey produces a fresh AES-256 key for RecipientKeys
// encryption: a random seed expanded via HKDF-SHA256 rather than used
// directly, so the raw seed never doubles as key material handed to any
// single recipient's encapsulation.
func GenerateSymmetricKey() ([32]byte, error) {
	var key [32]byte
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return key, NewError(ErrEncryptionFailed, "", err)
	}
	kdf := hkdf.New(sha256.New, seed, nil, []byte("brightchain-recipient-key"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, NewError(ErrEncryptionFailed, "", err)
	}
	return key, nil
}

// EncryptRecipientKeys generates a fresh symmetric key, encrypts content
// once with it, and ECIES-encapsulates that key separately under each
// recipient's public key via MemberIdentity.EncapsulateKey.
func EncryptRecipientKeys(plaintext []byte, recipients []MemberIdentity) (SealedContent, error) {
	if len(recipients) == 0 {
		return SealedContent{}, NewError(ErrEncryptionRequires, "recipients", nil)
	}
	key, err := GenerateSymmetricKey()
	if err != nil {
		return SealedContent{}, err
	}
	sealed, err := EncryptSharedKey(plaintext, key)
	if err != nil {
		return SealedContent{}, err
	}
	sealed.Scheme = SchemeRecipientKeys
	sealed.EncryptedKeys = make(map[string][]byte, len(recipients))
	for _, r := range recipients {
		enc, err := r.EncapsulateKey(key[:])
		if err != nil {
			return SealedContent{}, NewError(ErrEncryptionFailed, "recipient", err)
		}
		sealed.EncryptedKeys[r.Address()] = enc
	}
	return sealed, nil
}

// DecryptRecipientKeys decapsulates the symmetric key under recipient's
// private key material (via DecapsulateKey) and decrypts the content.
// Fails with ErrDecryptionFailed if recipient has no entry in sealed's key
// map.
func DecryptRecipientKeys(sealed SealedContent, recipient MemberIdentity) ([]byte, error) {
	enc, ok := sealed.EncryptedKeys[recipient.Address()]
	if !ok {
		return nil, NewError(ErrDecryptionFailed, "recipient", nil)
	}
	keyBytes, err := recipient.DecapsulateKey(enc)
	if err != nil {
		return nil, NewError(ErrDecryptionFailed, "", err)
	}
	var key [32]byte
	copy(key[:], keyBytes)
	return DecryptSharedKey(sealed, key)
}

// EncryptSMIME layers a sender content-signature on top of
// EncryptRecipientKeys: requires sender to hold both public and private
// key material (i.e. be able to sign).
func EncryptSMIME(plaintext []byte, sender MemberIdentity, recipients []MemberIdentity) (SealedContent, error) {
	if sender == nil {
		return SealedContent{}, NewError(ErrEncryptionRequires, "sender", nil)
	}
	sealed, err := EncryptRecipientKeys(plaintext, recipients)
	if err != nil {
		return SealedContent{}, err
	}
	sealed.Scheme = SchemeSMIME
	sig, err := sender.SignContent(plaintext)
	if err != nil {
		return SealedContent{}, NewError(ErrEncryptionFailed, "signature", err)
	}
	sealed.SenderSignature = &sig
	return sealed, nil
}

// VerifySMIME checks the sender's content signature against the decrypted
// plaintext.
func VerifySMIME(plaintext []byte, sealed SealedContent, sender MemberIdentity) error {
	if sealed.SenderSignature == nil {
		return NewError(ErrSignatureInvalid, "senderSignature", nil)
	}
	if !sender.VerifyContent(plaintext, *sealed.SenderSignature) {
		return NewError(ErrSignatureInvalid, "senderSignature", nil)
	}
	return nil
}
