package core

import (
	"crypto/rand"
	"time"
)

// BlockKind tags a block's role in the system. It replaces the inheritance
// hierarchy of block subtypes in the source system with a single tagged
// variant: per-kind behavior is a switch over this value, not a class
// ancestor.
type BlockKind int

const (
	RawData BlockKind = iota
	Random
	FEC
	ConstituentBlockList
	ExtendedCBL
	EncryptedOwned
	EncryptedCBL
	EncryptedExtendedCBL
	MultiRecipientEncrypted
	OwnerFreeWhitened
)

func (k BlockKind) String() string {
	switch k {
	case RawData:
		return "RawData"
	case Random:
		return "Random"
	case FEC:
		return "FEC"
	case ConstituentBlockList:
		return "ConstituentBlockList"
	case ExtendedCBL:
		return "ExtendedCBL"
	case EncryptedOwned:
		return "EncryptedOwned"
	case EncryptedCBL:
		return "EncryptedCBL"
	case EncryptedExtendedCBL:
		return "EncryptedExtendedCBL"
	case MultiRecipientEncrypted:
		return "MultiRecipientEncrypted"
	case OwnerFreeWhitened:
		return "OwnerFreeWhitened"
	default:
		return "Unknown"
	}
}

// IsCBL reports whether the kind carries a CBL header (plain or extended,
// encrypted or not).
func (k BlockKind) IsCBL() bool {
	switch k {
	case ConstituentBlockList, ExtendedCBL, EncryptedCBL, EncryptedExtendedCBL:
		return true
	default:
		return false
	}
}

// DataType describes the semantic shape of a block's payload, orthogonal to
// its BlockKind.
type DataType int

const (
	Raw DataType = iota
	EncryptedData
	EphemeralStructuredData
	EphemeralUnstructuredData
)

// BlockSizeSet is the set of valid block sizes for a deployment. Sizes are
// fixed per deployment but configurable across deployments.
type BlockSizeSet []int

// Contains reports whether n is one of the deployment's valid block sizes.
func (s BlockSizeSet) Contains(n int) bool {
	for _, v := range s {
		if v == n {
			return true
		}
	}
	return false
}

// DefaultBlockSizes mirrors pkg/config.Default()'s block sizes: Message,
// Tiny, Small, Medium, Large, Huge.
func DefaultBlockSizes() BlockSizeSet {
	return BlockSizeSet{512, 1024, 4096, 1 << 20, 16 << 20, 256 << 20}
}

// Block is a fixed-length byte buffer identified by the SHA3-512 of its
// bytes. Mutation of the payload invalidates the cached checksum; callers
// get this for free because the only mutator is whitening, which always
// constructs a new Block rather than editing one in place.
type Block struct {
	payload              []byte
	kind                 BlockKind
	dataType             DataType
	lengthWithoutPadding uint64
	dateCreated          time.Time
	creator              string // set only for ephemeral variants

	checksum    Checksum
	checksumSet bool
}

// NewBlock validates payload against sizes and wraps it as a Block of the
// given kind/dataType. lengthWithoutPadding records the valid prefix; the
// remainder of payload must already hold random fill.
func NewBlock(payload []byte, kind BlockKind, dataType DataType, lengthWithoutPadding uint64, sizes BlockSizeSet) (*Block, error) {
	if !sizes.Contains(len(payload)) {
		return nil, NewError(ErrInvalidBlockSize, "payload", nil)
	}
	if lengthWithoutPadding > uint64(len(payload)) {
		return nil, NewError(ErrInvalidBlockSize, "lengthWithoutPadding", nil)
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Block{
		payload:              buf,
		kind:                 kind,
		dataType:             dataType,
		lengthWithoutPadding: lengthWithoutPadding,
		dateCreated:          time.Now().UTC(),
	}, nil
}

// NewRandomBlock generates a fresh cryptographically random block of the
// given size, fully padded (lengthWithoutPadding == size).
func NewRandomBlock(size int, sizes BlockSizeSet) (*Block, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, NewError(ErrStorageFailed, "", err)
	}
	return NewBlock(buf, Random, Raw, uint64(size), sizes)
}

// PadWithRandom fills data out to size with cryptographically random bytes,
// returning the padded buffer. The caller-supplied prefix is preserved
// exactly; only the trailing slack is randomized.
func PadWithRandom(data []byte, size int) ([]byte, error) {
	if len(data) > size {
		return nil, NewError(ErrInvalidBlockSize, "data", nil)
	}
	buf := make([]byte, size)
	copy(buf, data)
	if _, err := rand.Read(buf[len(data):]); err != nil {
		return nil, NewError(ErrStorageFailed, "", err)
	}
	return buf, nil
}

// Payload returns a copy of the block's bytes; callers never get an alias
// into the block's internal buffer.
func (b *Block) Payload() []byte {
	out := make([]byte, len(b.payload))
	copy(out, b.payload)
	return out
}

// Size returns the block's fixed on-wire size.
func (b *Block) Size() int { return len(b.payload) }

// Kind returns the block's tagged variant.
func (b *Block) Kind() BlockKind { return b.kind }

// DataType returns the block's payload shape tag.
func (b *Block) DataType() DataType { return b.dataType }

// LengthWithoutPadding returns the count of valid payload bytes preceding
// the random fill.
func (b *Block) LengthWithoutPadding() uint64 { return b.lengthWithoutPadding }

// DateCreated returns the block's creation instant.
func (b *Block) DateCreated() time.Time { return b.dateCreated }

// Creator returns the creator reference carried by ephemeral block
// variants, or "" if none was set.
func (b *Block) Creator() string { return b.creator }

// SetCreator attaches a creator reference; only meaningful for ephemeral
// variants (EncryptedOwned, EncryptedCBL, EncryptedExtendedCBL,
// MultiRecipientEncrypted).
func (b *Block) SetCreator(creator string) { b.creator = creator }

// Checksum returns the block's content address, computing and caching it on
// first use. It is always a pure function of payload.
func (b *Block) Checksum() Checksum {
	if !b.checksumSet {
		b.checksum = SHA3_512(b.payload)
		b.checksumSet = true
	}
	return b.checksum
}
