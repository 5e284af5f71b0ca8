package core

import "testing"

// TestAttachmentStorePutGetRoundTrip exercises the standalone store: an
// attachment is addressable by its SHA-256 digest and round-trips
// unchanged. End-to-end coverage of scenario S7 (send -> getMessageContent
// through a mailbox) lives in messaging_test.go.
func TestAttachmentStorePutGetRoundTrip(t *testing.T) {
	store := NewAttachmentStore()
	data := []byte("attachment bytes, not whitened, addressed directly")

	record, err := store.Put("report.pdf", "application/pdf", data)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if len(record.SHA256Hex) != 64 {
		t.Fatalf("expected a 64-char hex digest, got %d chars", len(record.SHA256Hex))
	}
	if record.MimeType != "application/pdf" {
		t.Fatalf("expected mimeType to be recorded, got %q", record.MimeType)
	}

	got, err := store.Get(record.SHA256Hex)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestAttachmentStorePutIsContentAddressedIdempotent(t *testing.T) {
	store := NewAttachmentStore()
	data := []byte("identical bytes")

	r1, err := store.Put("a.txt", "text/plain", data)
	if err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	r2, err := store.Put("b.txt", "text/plain", data)
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if r1.SHA256Hex != r2.SHA256Hex {
		t.Fatalf("expected identical content to share a digest")
	}
}

func TestAttachmentStoreRejectsEmptyData(t *testing.T) {
	store := NewAttachmentStore()
	if _, err := store.Put("empty.txt", "text/plain", nil); !Is(err, ErrFieldEmpty) {
		t.Fatalf("expected ErrFieldEmpty, got %v", err)
	}
}

func TestAttachmentStoreGetMissingFails(t *testing.T) {
	store := NewAttachmentStore()
	if _, err := store.Get("deadbeef"); !Is(err, ErrAttachmentMissing) {
		t.Fatalf("expected ErrAttachmentMissing, got %v", err)
	}
}

func TestAttachmentStoreMagnetURLContainsDigest(t *testing.T) {
	store := NewAttachmentStore()
	record, err := store.Put("x.bin", "application/octet-stream", []byte("payload"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	want := "magnet:?xt=urn:cbl:" + record.SHA256Hex
	if len(record.MagnetURL) < len(want) || record.MagnetURL[:len(want)] != want {
		t.Fatalf("expected magnet URL to start with %q, got %q", want, record.MagnetURL)
	}
}
