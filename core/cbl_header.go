package core

import (
	"encoding/binary"
	"time"
)

const (
	cblMagicByte   byte = 0xBC
	cblHeaderVersion byte = 1
)

// crc8 computes a CRC-8 (poly 0x07, init 0x00) over data, matching the
// check byte recorded in the CBL structured prefix.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CBLHeader is the parsed form of a CBL's structured header (§3).
type CBLHeader struct {
	BlockType            BlockKind
	CreatorID            []byte
	DateCreated          time.Time
	AddressCount         uint32
	TupleSize            uint8
	OriginalDataLength   uint64
	OriginalDataChecksum Checksum
	Extended             *ExtendedMeta
	Signature            [64]byte

	// headerLen is the byte offset where the address list begins; i.e. the
	// total size of prefix+fixed fields+signature(+extended fields).
	headerLen int
}

// HeaderLen reports where the address list begins within the full block.
func (h *CBLHeader) HeaderLen() int { return h.headerLen }

// SignFunc produces a 64-byte signature over data, e.g. backed by a
// MemberIdentity's SignHeader method.
type SignFunc func(data []byte) ([64]byte, error)

// VerifyFunc checks a 64-byte signature over data.
type VerifyFunc func(data []byte, sig [64]byte) bool

// MakeHeaderParams bundles the inputs to MakeHeader.
type MakeHeaderParams struct {
	Creator            []byte // exactly idSize bytes
	Date               time.Time
	AddressCount       uint32
	AddressList        []byte // addressCount * ChecksumSize bytes, concatenated
	OriginalDataLength uint64
	OriginalChecksum   Checksum
	BlockSize          int
	Encryption         EncryptionMode
	RecipientCount     int
	Extended           *ExtendedMeta
	TupleSize          uint8
	TupleMinSize       int
	TupleMaxSize       int
	Sign               SignFunc
}

// MakeHeader packs a CBL header and computes its signature, returning the
// header bytes (excluding the address list) ready to be concatenated with
// AddressList to form the block payload.
func MakeHeader(p MakeHeaderParams) ([]byte, error) {
	if int(p.TupleSize) < p.TupleMinSize || int(p.TupleSize) > p.TupleMaxSize {
		return nil, NewError(ErrInvalidTupleSize, "tupleSize", nil)
	}
	if p.OriginalDataLength > (1<<53 - 1) { // MAX_SAFE_INTEGER equivalent
		return nil, NewError(ErrFileTooLarge, "originalDataLength", nil)
	}
	capacity, err := AddressCapacity(p.BlockSize, p.Encryption, p.RecipientCount, len(p.Creator))
	if err != nil {
		return nil, err
	}
	if int(p.AddressCount) > capacity {
		return nil, NewError(ErrAddressCountExceedsCapacity, "addressCount", nil)
	}
	if uint32(len(p.AddressList)/ChecksumSize) != p.AddressCount {
		return nil, NewError(ErrAddressCountExceedsCapacity, "addressList", nil)
	}

	blockKind := ConstituentBlockList
	isExtended := byte(0)
	if p.Extended != nil {
		blockKind = ExtendedCBL
		isExtended = 1
	}

	buf := make([]byte, 0, cblBaseHeaderSize(len(p.Creator))+64)

	prefix := []byte{cblMagicByte, byte(blockKind), cblHeaderVersion, 0}
	prefix[3] = crc8(prefix[:3])
	buf = append(buf, prefix...)

	buf = append(buf, p.Creator...)

	dateBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(dateBuf, uint64(p.Date.UnixMilli()))
	buf = append(buf, dateBuf...)

	addrCountBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(addrCountBuf, p.AddressCount)
	buf = append(buf, addrCountBuf...)

	buf = append(buf, byte(p.TupleSize))

	origLenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(origLenBuf, p.OriginalDataLength)
	buf = append(buf, origLenBuf...)

	buf = append(buf, p.OriginalChecksum[:]...)

	buf = append(buf, isExtended)

	if p.Extended != nil {
		nameBytes := []byte(p.Extended.FileName)
		nameLenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(nameLenBuf, uint16(len(nameBytes)))
		buf = append(buf, nameLenBuf...)
		buf = append(buf, nameBytes...)

		mimeBytes := []byte(p.Extended.MimeType)
		buf = append(buf, byte(len(mimeBytes)))
		buf = append(buf, mimeBytes...)
	}

	signed := make([]byte, 0, len(buf)+len(p.AddressList))
	signed = append(signed, buf...)
	signed = append(signed, p.AddressList...)

	sig, err := p.Sign(signed)
	if err != nil {
		return nil, NewError(ErrSignatureInvalid, "", err)
	}
	buf = append(buf, sig[:]...)

	return buf, nil
}

// ParseHeaderWithIDSize reads a CBL header given the deployment's fixed
// creator-identifier size.
func ParseHeaderWithIDSize(full []byte, idSize int) (*CBLHeader, error) {
	if len(full) < 4 {
		return nil, NewError(ErrCRCMismatch, "", nil)
	}
	prefix := full[:4]
	if prefix[0] != cblMagicByte {
		return nil, NewError(ErrInvalidBlockType, "magic", nil)
	}
	if crc8(prefix[:3]) != prefix[3] {
		return nil, NewError(ErrCRCMismatch, "", nil)
	}
	blockType := BlockKind(prefix[1])
	if !blockType.IsCBL() {
		return nil, NewError(ErrInvalidBlockType, "blockType", nil)
	}
	if prefix[2] != cblHeaderVersion {
		return nil, NewError(ErrInvalidBlockType, "version", nil)
	}

	off := 4
	need := func(n int) error {
		if off+n > len(full) {
			return NewError(ErrInvalidBlockType, "truncated", nil)
		}
		return nil
	}

	if err := need(idSize); err != nil {
		return nil, err
	}
	creatorID := make([]byte, idSize)
	copy(creatorID, full[off:off+idSize])
	off += idSize

	if err := need(8); err != nil {
		return nil, err
	}
	dateMs := binary.BigEndian.Uint64(full[off : off+8])
	off += 8

	if err := need(4); err != nil {
		return nil, err
	}
	addressCount := binary.BigEndian.Uint32(full[off : off+4])
	off += 4

	if err := need(1); err != nil {
		return nil, err
	}
	tupleSize := full[off]
	off++

	if err := need(8); err != nil {
		return nil, err
	}
	origLen := binary.BigEndian.Uint64(full[off : off+8])
	off += 8

	if err := need(ChecksumSize); err != nil {
		return nil, err
	}
	var origChecksum Checksum
	copy(origChecksum[:], full[off:off+ChecksumSize])
	off += ChecksumSize

	if err := need(1); err != nil {
		return nil, err
	}
	isExtended := full[off]
	off++

	var extended *ExtendedMeta
	if isExtended == 1 {
		if err := need(2); err != nil {
			return nil, err
		}
		nameLen := int(binary.BigEndian.Uint16(full[off : off+2]))
		off += 2
		if err := need(nameLen); err != nil {
			return nil, err
		}
		fileName := string(full[off : off+nameLen])
		off += nameLen

		if err := need(1); err != nil {
			return nil, err
		}
		mimeLen := int(full[off])
		off++
		if err := need(mimeLen); err != nil {
			return nil, err
		}
		mimeType := string(full[off : off+mimeLen])
		off += mimeLen

		extended = &ExtendedMeta{FileName: fileName, MimeType: mimeType}
	}

	if err := need(64); err != nil {
		return nil, err
	}
	var sig [64]byte
	copy(sig[:], full[off:off+64])
	off += 64

	return &CBLHeader{
		BlockType:            blockType,
		CreatorID:            creatorID,
		DateCreated:          time.UnixMilli(int64(dateMs)).UTC(),
		AddressCount:         addressCount,
		TupleSize:            tupleSize,
		OriginalDataLength:   origLen,
		OriginalDataChecksum: origChecksum,
		Extended:             extended,
		Signature:            sig,
		headerLen:            off,
	}, nil
}

// AddressList extracts the addressCount checksums following the header.
func (h *CBLHeader) AddressList(full []byte) ([]Checksum, error) {
	need := int(h.AddressCount) * ChecksumSize
	if h.headerLen+need > len(full) {
		return nil, NewError(ErrInvalidBlockType, "addressList", nil)
	}
	out := make([]Checksum, h.AddressCount)
	for i := range out {
		start := h.headerLen + i*ChecksumSize
		copy(out[i][:], full[start:start+ChecksumSize])
	}
	return out, nil
}

// ValidateSignature recomputes the expected signature over
// header-excluding-signature || addressList and compares it with the
// stored signature via constant-time equality.
func ValidateSignature(full []byte, idSize int, verify VerifyFunc) (bool, error) {
	h, err := ParseHeaderWithIDSize(full, idSize)
	if err != nil {
		return false, err
	}
	sigFieldLen := 64
	signedLen := h.headerLen - sigFieldLen
	need := signedLen + int(h.AddressCount)*ChecksumSize
	if need > len(full) {
		return false, NewError(ErrInvalidBlockType, "truncated", nil)
	}
	signed := make([]byte, 0, need)
	signed = append(signed, full[:signedLen]...)
	signed = append(signed, full[h.headerLen:h.headerLen+int(h.AddressCount)*ChecksumSize]...)
	return verify(signed, h.Signature), nil
}
