package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/Digital-Defiance/brightchain-core/pkg/utils"
)

const (
	defaultKeyringPath = "brightchain_keyring.json"
	scryptN             = 1 << 15
	scryptR             = 8
	scryptP             = 1
	scryptKeyLen        = 32
	scryptSaltSize      = 16
)

// keyringEntry is one [id, key] pair as stored in the plaintext payload
// before it is sealed under the passphrase-derived key.
type keyringEntry struct {
	ID  string `json:"id"`
	Key []byte `json:"key"`
}

// sealedKeyring is the on-disk envelope: the scrypt salt, the GCM nonce, and
// the AES-256-GCM-sealed JSON array of keyringEntry pairs.
type sealedKeyring struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// accessWindow tracks per-identity access counts for the keyring's rate
// limiter: maxAccessRate lookups per id per rolling minute, reset once an
// id has gone a full minute without activity.
type accessWindow struct {
	count     int
	windowEnd time.Time
}

// Keyring is an encrypted, on-disk store of per-identity key material. The
// file path defaults to defaultKeyringPath but is overridden by the
// KEYRING_PATH environment variable.
type Keyring struct {
	path          string
	passphrase    []byte
	maxAccessRate int

	mu      sync.Mutex
	entries map[string][]byte
	access  map[string]*accessWindow
}

// NewKeyring opens (or prepares to create) a keyring at the configured
// path, sealed under passphrase. maxAccessRate is the number of Get/Put
// calls permitted per identity per minute; values <= 0 disable the limiter.
func NewKeyring(passphrase []byte, maxAccessRate int) *Keyring {
	return &Keyring{
		path:          utils.EnvOrDefault("KEYRING_PATH", defaultKeyringPath),
		passphrase:    append([]byte{}, passphrase...),
		maxAccessRate: maxAccessRate,
		entries:       make(map[string][]byte),
		access:        make(map[string]*accessWindow),
	}
}

// Load reads and decrypts the keyring file. A missing file is not an error:
// the keyring simply starts empty.
func (k *Keyring) Load() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	raw, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return NewError(ErrStorageFailed, "keyring", err)
	}

	var sealed sealedKeyring
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return NewError(ErrStorageFailed, "keyring", err)
	}

	plaintext, err := k.open(sealed)
	if err != nil {
		return err
	}

	var list []keyringEntry
	if err := json.Unmarshal(plaintext, &list); err != nil {
		return NewError(ErrStorageFailed, "keyring", err)
	}
	for _, e := range list {
		k.entries[e.ID] = e.Key
	}
	return nil
}

// Save encrypts and persists the current keyring contents, 0600.
func (k *Keyring) Save() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	list := make([]keyringEntry, 0, len(k.entries))
	for id, key := range k.entries {
		list = append(list, keyringEntry{ID: id, Key: key})
	}
	plaintext, err := json.Marshal(list)
	if err != nil {
		return NewError(ErrStorageFailed, "keyring", err)
	}

	sealed, err := k.seal(plaintext)
	if err != nil {
		return err
	}
	out, err := json.Marshal(sealed)
	if err != nil {
		return NewError(ErrStorageFailed, "keyring", err)
	}
	if err := os.WriteFile(k.path, out, 0o600); err != nil {
		return NewError(ErrStorageFailed, "keyring", err)
	}
	return nil
}

// Put stores (or replaces) the key material for id, subject to the rate
// limiter.
func (k *Keyring) Put(id string, key []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.allow(id) {
		return NewError(ErrRateLimitExceeded, "id", nil)
	}
	k.entries[id] = append([]byte{}, key...)
	return nil
}

// Get retrieves the key material for id, subject to the rate limiter. It
// fails with ErrKeyNotFound if no entry exists for id.
func (k *Keyring) Get(id string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.allow(id) {
		return nil, NewError(ErrRateLimitExceeded, "id", nil)
	}
	key, ok := k.entries[id]
	if !ok {
		return nil, NewError(ErrKeyNotFound, "id", nil)
	}
	return append([]byte{}, key...), nil
}

// Delete removes any key material stored for id. Deleting an absent id is
// not an error.
func (k *Keyring) Delete(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.entries, id)
}

// allow enforces the per-id rolling-minute access limit. Callers must hold
// k.mu.
func (k *Keyring) allow(id string) bool {
	if k.maxAccessRate <= 0 {
		return true
	}
	now := time.Now()
	w, ok := k.access[id]
	if !ok || now.After(w.windowEnd) {
		w = &accessWindow{count: 0, windowEnd: now.Add(time.Minute)}
		k.access[id] = w
	}
	w.windowEnd = now.Add(time.Minute)
	if w.count >= k.maxAccessRate {
		return false
	}
	w.count++
	return true
}

func (k *Keyring) deriveKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(k.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, NewError(ErrEncryptionFailed, "keyring", err)
	}
	return key, nil
}

func (k *Keyring) seal(plaintext []byte) (sealedKeyring, error) {
	salt := make([]byte, scryptSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return sealedKeyring{}, NewError(ErrEncryptionFailed, "keyring", err)
	}
	key, err := k.deriveKey(salt)
	if err != nil {
		return sealedKeyring{}, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return sealedKeyring{}, NewError(ErrEncryptionFailed, "keyring", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return sealedKeyring{}, NewError(ErrEncryptionFailed, "keyring", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return sealedKeyring{}, NewError(ErrEncryptionFailed, "keyring", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return sealedKeyring{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func (k *Keyring) open(sealed sealedKeyring) ([]byte, error) {
	key, err := k.deriveKey(sealed.Salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewError(ErrDecryptionFailed, "keyring", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewError(ErrDecryptionFailed, "keyring", err)
	}
	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, NewError(ErrDecryptionFailed, "keyring", err)
	}
	return plaintext, nil
}
