package core

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
)

// AttachmentRecord is what the attachment sub-store keeps per uploaded
// file: its SHA-256 content address, an MD5 checksum for legacy-client
// compatibility, and a retrieval magnet link.
type AttachmentRecord struct {
	SHA256Hex   string
	MD5Base64   string
	MagnetURL   string
	FileName    string
	MimeType    string
	ContentSize int
}

// AttachmentStore keys attachments by lowercase hex SHA-256, distinct from
// the CBL content-addressing scheme used for message bodies: attachments
// are addressed directly by digest rather than wrapped in a whitened CBL,
// per §4.12.
type AttachmentStore struct {
	mu      sync.RWMutex
	records map[string]AttachmentRecord
	blobs   map[string][]byte
}

// NewAttachmentStore builds an empty attachment store.
func NewAttachmentStore() *AttachmentStore {
	return &AttachmentStore{
		records: make(map[string]AttachmentRecord),
		blobs:   make(map[string][]byte),
	}
}

// Put stores data under its SHA-256 digest, returning the resulting
// record. Storing identical bytes twice returns the same record.
func (s *AttachmentStore) Put(fileName, mimeType string, data []byte) (AttachmentRecord, error) {
	if len(data) == 0 {
		return AttachmentRecord{}, NewError(ErrFieldEmpty, "data", nil)
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		return existing, nil
	}

	md5sum := md5.Sum(data)
	record := AttachmentRecord{
		SHA256Hex:   key,
		MD5Base64:   base64.StdEncoding.EncodeToString(md5sum[:]),
		MagnetURL:   fmt.Sprintf("magnet:?xt=urn:cbl:%s&dn=%s", key, fileName),
		FileName:    fileName,
		MimeType:    mimeType,
		ContentSize: len(data),
	}
	s.records[key] = record
	s.blobs[key] = append([]byte{}, data...)
	return record, nil
}

// Get retrieves a stored attachment's bytes by its SHA-256 hex digest.
func (s *AttachmentStore) Get(sha256Hex string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[sha256Hex]
	if !ok {
		return nil, NewError(ErrAttachmentMissing, "sha256", nil)
	}
	return append([]byte{}, blob...), nil
}

// Record returns the stored metadata for an attachment without its bytes.
func (s *AttachmentStore) Record(sha256Hex string) (AttachmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[sha256Hex]
	if !ok {
		return AttachmentRecord{}, NewError(ErrAttachmentMissing, "sha256", nil)
	}
	return record, nil
}
