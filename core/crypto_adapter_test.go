package core

import "testing"

func TestSharedKeyEncryptDecryptRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytesOf(32, 0x11))
	plaintext := []byte("top secret payload")

	sealed, err := EncryptSharedKey(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptSharedKey failed: %v", err)
	}
	if sealed.Scheme != SchemeSharedKey {
		t.Fatalf("expected SchemeSharedKey, got %v", sealed.Scheme)
	}

	got, err := DecryptSharedKey(sealed, key)
	if err != nil {
		t.Fatalf("DecryptSharedKey failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestSharedKeyDecryptWrongKeyFails(t *testing.T) {
	var key, wrong [32]byte
	copy(key[:], bytesOf(32, 0x11))
	copy(wrong[:], bytesOf(32, 0x22))

	sealed, err := EncryptSharedKey([]byte("payload"), key)
	if err != nil {
		t.Fatalf("EncryptSharedKey failed: %v", err)
	}
	if _, err := DecryptSharedKey(sealed, wrong); !Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestRecipientKeysEncryptDecryptRoundTrip(t *testing.T) {
	alice := NewHMACIdentity([]byte("0123456789abcdef"), "alice@example.com", bytesOf(32, 0x01))
	bob := NewHMACIdentity([]byte("fedcba9876543210"), "bob@example.com", bytesOf(32, 0x02))
	plaintext := []byte("message for two recipients")

	sealed, err := EncryptRecipientKeys(plaintext, []MemberIdentity{alice, bob})
	if err != nil {
		t.Fatalf("EncryptRecipientKeys failed: %v", err)
	}
	if len(sealed.EncryptedKeys) != 2 {
		t.Fatalf("expected 2 wrapped keys, got %d", len(sealed.EncryptedKeys))
	}

	gotAlice, err := DecryptRecipientKeys(sealed, alice)
	if err != nil {
		t.Fatalf("DecryptRecipientKeys(alice) failed: %v", err)
	}
	if string(gotAlice) != string(plaintext) {
		t.Fatalf("alice round trip mismatch")
	}

	gotBob, err := DecryptRecipientKeys(sealed, bob)
	if err != nil {
		t.Fatalf("DecryptRecipientKeys(bob) failed: %v", err)
	}
	if string(gotBob) != string(plaintext) {
		t.Fatalf("bob round trip mismatch")
	}
}

// TestSealedContentMarshalRoundTrip exercises the serialization used to
// hand a RecipientKeys-sealed payload to AssembleCBL and recover it again
// on retrieval.
func TestSealedContentMarshalRoundTrip(t *testing.T) {
	alice := NewHMACIdentity([]byte("0123456789abcdef"), "alice@example.com", bytesOf(32, 0x01))
	sealed, err := EncryptRecipientKeys([]byte("sealed for storage"), []MemberIdentity{alice})
	if err != nil {
		t.Fatalf("EncryptRecipientKeys failed: %v", err)
	}

	data, err := MarshalSealedContent(sealed)
	if err != nil {
		t.Fatalf("MarshalSealedContent failed: %v", err)
	}
	got, err := UnmarshalSealedContent(data)
	if err != nil {
		t.Fatalf("UnmarshalSealedContent failed: %v", err)
	}
	plaintext, err := DecryptRecipientKeys(got, alice)
	if err != nil {
		t.Fatalf("DecryptRecipientKeys after round trip failed: %v", err)
	}
	if string(plaintext) != "sealed for storage" {
		t.Fatalf("content mismatch after marshal round trip: %q", plaintext)
	}
}

func TestRecipientKeysDecryptNonRecipientFails(t *testing.T) {
	alice := NewHMACIdentity([]byte("0123456789abcdef"), "alice@example.com", bytesOf(32, 0x01))
	eve := NewHMACIdentity([]byte("fedcba9876543210"), "eve@example.com", bytesOf(32, 0x09))

	sealed, err := EncryptRecipientKeys([]byte("secret"), []MemberIdentity{alice})
	if err != nil {
		t.Fatalf("EncryptRecipientKeys failed: %v", err)
	}
	if _, err := DecryptRecipientKeys(sealed, eve); !Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for non-recipient, got %v", err)
	}
}

func TestRecipientKeysRequiresAtLeastOneRecipient(t *testing.T) {
	if _, err := EncryptRecipientKeys([]byte("x"), nil); !Is(err, ErrEncryptionRequires) {
		t.Fatalf("expected ErrEncryptionRequiresKeys, got %v", err)
	}
}

func TestSMIMEEncryptVerifyRoundTrip(t *testing.T) {
	sender := NewHMACIdentity([]byte("0123456789abcdef"), "sender@example.com", bytesOf(32, 0x03))
	recipient := NewHMACIdentity([]byte("fedcba9876543210"), "recipient@example.com", bytesOf(32, 0x04))
	plaintext := []byte("signed and sealed message")

	sealed, err := EncryptSMIME(plaintext, sender, []MemberIdentity{recipient})
	if err != nil {
		t.Fatalf("EncryptSMIME failed: %v", err)
	}
	if sealed.Scheme != SchemeSMIME {
		t.Fatalf("expected SchemeSMIME, got %v", sealed.Scheme)
	}

	got, err := DecryptRecipientKeys(sealed, recipient)
	if err != nil {
		t.Fatalf("DecryptRecipientKeys failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch")
	}
	if err := VerifySMIME(got, sealed, sender); err != nil {
		t.Fatalf("VerifySMIME failed: %v", err)
	}
}

func TestSMIMEVerifyRejectsTamperedContent(t *testing.T) {
	sender := NewHMACIdentity([]byte("0123456789abcdef"), "sender@example.com", bytesOf(32, 0x03))
	recipient := NewHMACIdentity([]byte("fedcba9876543210"), "recipient@example.com", bytesOf(32, 0x04))

	sealed, err := EncryptSMIME([]byte("original"), sender, []MemberIdentity{recipient})
	if err != nil {
		t.Fatalf("EncryptSMIME failed: %v", err)
	}
	if err := VerifySMIME([]byte("different"), sealed, sender); err == nil {
		t.Fatalf("expected VerifySMIME to reject tampered content")
	}
}

func TestSMIMERequiresSender(t *testing.T) {
	recipient := NewHMACIdentity([]byte("fedcba9876543210"), "recipient@example.com", bytesOf(32, 0x04))
	if _, err := EncryptSMIME([]byte("x"), nil, []MemberIdentity{recipient}); !Is(err, ErrEncryptionRequires) {
		t.Fatalf("expected ErrEncryptionRequiresKeys, got %v", err)
	}
}
