package core

// EncryptionMode selects the per-block encryption overhead a capacity
// calculation must reserve.
type EncryptionMode int

const (
	EncryptionNone EncryptionMode = iota
	EncryptionSingleRecipient
	EncryptionMultiRecipient
)

// MaxRecipients bounds the multi-recipient encryption overhead; requests
// above this fail with ErrRecipientCountTooLarge.
const MaxRecipients = 256

// eciesPreambleSize is the fixed per-block ECIES preamble: an ephemeral
// public key, IV, and authentication tag.
const eciesPreambleSize = 65 + 16 + 32

// perRecipientKeySize is the size of one recipient's ECIES-wrapped
// symmetric key entry in a multi-recipient preamble.
const perRecipientKeySize = eciesPreambleSize

// multiRecipientFixedPreamble covers the recipient count field of a
// multi-recipient preamble.
const multiRecipientFixedPreamble = 4

// ExtendedMeta carries the optional fileName/mimeType pair recorded in an
// extended CBL header.
type ExtendedMeta struct {
	FileName string
	MimeType string
}

// CapacityParams describes the inputs to a single capacity calculation.
type CapacityParams struct {
	BlockSize      int
	BlockKind      BlockKind
	Encryption     EncryptionMode
	RecipientCount int // only consulted when Encryption == EncryptionMultiRecipient
	Extended       *ExtendedMeta
	IDSize         int // creator identifier size, consulted for CBL kinds
}

// CapacityBreakdown itemizes a computed overhead.
type CapacityBreakdown struct {
	BaseHeader          int
	TypeSpecificOverhead int
	EncryptionOverhead  int
	VariableOverhead    int
}

// CapacityResult is the output of ComputeCapacity.
type CapacityResult struct {
	TotalCapacity     int
	AvailableCapacity int
	Overhead          int
	Breakdown         CapacityBreakdown
}

// cblBaseHeaderSize is the fixed (non-extended) portion of a CBL header, per
// §3: prefix(4) + creatorId(idSize) + dateCreated(8) + addressCount(4) +
// tupleSize(1) + originalDataLength(8) + originalDataChecksum(64) +
// isExtended(1) + signature(64).
func cblBaseHeaderSize(idSize int) int {
	return 4 + idSize + 8 + 4 + 1 + 8 + ChecksumSize + 1 + ChecksumSize
}

// ComputeCapacity computes the overhead breakdown and usable capacity for a
// block of the given shape.
func ComputeCapacity(p CapacityParams) (CapacityResult, error) {
	var b CapacityBreakdown

	// baseHeader: constant per blockKind. In this design the on-wire block
	// is exactly its payload with no block-level framing, so the base
	// header is zero for every kind; type-specific costs are charged below.
	b.BaseHeader = 0

	if p.BlockKind.IsCBL() {
		b.TypeSpecificOverhead = cblBaseHeaderSize(p.IDSize)
	}

	switch p.Encryption {
	case EncryptionNone:
		b.EncryptionOverhead = 0
	case EncryptionSingleRecipient:
		b.EncryptionOverhead = eciesPreambleSize
	case EncryptionMultiRecipient:
		if p.RecipientCount < 1 {
			return CapacityResult{}, NewError(ErrRecipientCountRequired, "recipientCount", nil)
		}
		if p.RecipientCount > MaxRecipients {
			return CapacityResult{}, NewError(ErrRecipientCountTooLarge, "recipientCount", nil)
		}
		b.EncryptionOverhead = multiRecipientFixedPreamble + p.RecipientCount*perRecipientKeySize
	default:
		return CapacityResult{}, NewError(ErrInvalidEncryptionType, "encryption", nil)
	}

	if p.Extended != nil {
		b.VariableOverhead = 2 + len(p.Extended.FileName) + 1 + len(p.Extended.MimeType)
	}

	overhead := b.BaseHeader + b.TypeSpecificOverhead + b.EncryptionOverhead + b.VariableOverhead
	available := p.BlockSize - overhead
	if available <= 0 {
		return CapacityResult{}, NewError(ErrBlockTooSmall, "blockSize", nil)
	}

	return CapacityResult{
		TotalCapacity:     p.BlockSize,
		AvailableCapacity: available,
		Overhead:          overhead,
		Breakdown:         b,
	}, nil
}

// AddressCapacity computes how many 64-byte block identifiers fit in a CBL
// block of the given size, encryption mode, and recipient count.
func AddressCapacity(blockSize int, encryption EncryptionMode, recipientCount, idSize int) (int, error) {
	res, err := ComputeCapacity(CapacityParams{
		BlockSize:      blockSize,
		BlockKind:      ConstituentBlockList,
		Encryption:     encryption,
		RecipientCount: recipientCount,
		IDSize:         idSize,
	})
	if err != nil {
		return 0, err
	}
	return res.AvailableCapacity / ChecksumSize, nil
}
