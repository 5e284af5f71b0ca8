package core

import "time"

// AssembleOptions bundles every deployment and per-call parameter needed to
// split a payload into whitened blocks and wrap them in one or more CBLs.
type AssembleOptions struct {
	Sizes          BlockSizeSet
	BlockSize      int
	TupleSize      int
	TupleMinSize   int
	TupleMaxSize   int
	Durability     DurabilityLevel
	ParityOverride int // used only for DurabilityHighDurability; <2 falls back to 2
	Creator        MemberIdentity
	IDSize         int
	Extended       *ExtendedMeta
	Encryption     EncryptionMode
	RecipientCount int
	FileName       string
}

// AssembleCBL splits payload into fixed-size data blocks, whitens each
// against tupleSize-1 random partners, computes Reed-Solomon parity over
// the whitened blocks per the configured durability level, wraps the
// resulting addresses in one or more signed CBL headers (splitting across
// sibling CBLs when the address list exceeds a single block's capacity),
// and stores every emitted block. It returns the retrieval handle and its
// magnet URL encoding.
func AssembleCBL(payload []byte, opts AssembleOptions, store *InMemoryBlockStore) (*RetrievalHandle, string, error) {
	if !opts.Sizes.Contains(opts.BlockSize) {
		return nil, "", NewError(ErrInvalidBlockSize, "blockSize", nil)
	}
	if opts.Creator == nil {
		return nil, "", NewError(ErrFieldRequired, "creator", nil)
	}

	engine := NewWhiteningEngine(opts.Sizes, opts.TupleMinSize, opts.TupleMaxSize)
	if err := engine.ValidateTupleSize(opts.TupleSize); err != nil {
		return nil, "", err
	}

	originalChecksum := SHA3_512(payload)
	chunks := chunkPayload(payload, opts.BlockSize)

	flatAddresses := make([]Checksum, 0, len(chunks)*opts.TupleSize)
	whitenedBlocks := make([]*Block, 0, len(chunks))

	for _, chunk := range chunks {
		dataBlock, err := NewBlock(chunk.bytes, RawData, Raw, chunk.validLen, opts.Sizes)
		if err != nil {
			return nil, "", err
		}
		tuple, err := engine.Whiten(dataBlock, opts.TupleSize, store)
		if err != nil {
			return nil, "", err
		}
		if _, err := store.Put(tuple.Whitened); err != nil {
			return nil, "", err
		}
		flatAddresses = append(flatAddresses, tuple.Whitened.Checksum())
		for _, r := range tuple.Randoms {
			if _, err := store.Put(r); err != nil {
				return nil, "", err
			}
			store.IncRef(r.Checksum())
			flatAddresses = append(flatAddresses, r.Checksum())
		}
		whitenedBlocks = append(whitenedBlocks, tuple.Whitened)
	}

	capacity, err := AddressCapacity(opts.BlockSize, opts.Encryption, opts.RecipientCount, opts.IDSize)
	if err != nil {
		return nil, "", err
	}
	if capacity < opts.TupleSize {
		return nil, "", NewError(ErrAddressCountExceedsCapacity, "blockSize", nil)
	}
	perCBL := capacity - capacity%opts.TupleSize

	now := time.Now().UTC()
	var cblChecksums []Checksum
	for start := 0; start < len(flatAddresses); start += perCBL {
		end := start + perCBL
		if end > len(flatAddresses) {
			end = len(flatAddresses)
		}
		group := flatAddresses[start:end]

		addressList := make([]byte, 0, len(group)*ChecksumSize)
		for _, c := range group {
			addressList = append(addressList, c[:]...)
		}

		header, err := MakeHeader(MakeHeaderParams{
			Creator:            opts.Creator.ID(),
			Date:               now,
			AddressCount:       uint32(len(group)),
			AddressList:        addressList,
			OriginalDataLength: uint64(len(payload)),
			OriginalChecksum:   originalChecksum,
			BlockSize:          opts.BlockSize,
			Encryption:         opts.Encryption,
			RecipientCount:     opts.RecipientCount,
			Extended:           opts.Extended,
			TupleSize:          uint8(opts.TupleSize),
			TupleMinSize:       opts.TupleMinSize,
			TupleMaxSize:       opts.TupleMaxSize,
			Sign:               opts.Creator.SignHeader,
		})
		if err != nil {
			return nil, "", err
		}

		full := append(append([]byte{}, header...), addressList...)
		padded, err := PadWithRandom(full, opts.BlockSize)
		if err != nil {
			return nil, "", err
		}
		kind := ConstituentBlockList
		if opts.Extended != nil {
			kind = ExtendedCBL
		}
		cblBlock, err := NewBlock(padded, kind, Raw, uint64(len(full)), opts.Sizes)
		if err != nil {
			return nil, "", err
		}
		if _, err := store.Put(cblBlock); err != nil {
			return nil, "", err
		}
		cblChecksums = append(cblChecksums, cblBlock.Checksum())
	}

	parityCount, err := ParityCount(opts.Durability, opts.ParityOverride)
	if err != nil {
		return nil, "", err
	}
	var parityChecksums []Checksum
	if parityCount > 0 && len(whitenedBlocks) > 0 {
		shards := make([][]byte, len(whitenedBlocks))
		for i, b := range whitenedBlocks {
			shards[i] = b.Payload()
		}
		parity, err := EncodeParity(shards, parityCount)
		if err != nil {
			return nil, "", err
		}
		for _, p := range parity {
			pb, err := NewBlock(p, FEC, Raw, uint64(len(p)), opts.Sizes)
			if err != nil {
				return nil, "", err
			}
			if _, err := store.Put(pb); err != nil {
				return nil, "", err
			}
			parityChecksums = append(parityChecksums, pb.Checksum())
		}
	}

	handle := RetrievalHandle{
		PrimaryCBL:         cblChecksums[0],
		SiblingCBLs:        cblChecksums[1:],
		ParityBlocks:       parityChecksums,
		IsEncrypted:        opts.Encryption != EncryptionNone,
		FileName:           opts.FileName,
		OriginalDataLength: uint64(len(payload)),
	}
	return &handle, BuildMagnetURL(handle), nil
}

type payloadChunk struct {
	bytes    []byte
	validLen uint64
}

// chunkPayload splits payload into blockSize-sized chunks, padding the
// final chunk with random fill. An empty payload still yields one chunk so
// that even a zero-length file round-trips through a real CBL.
func chunkPayload(payload []byte, blockSize int) []payloadChunk {
	if len(payload) == 0 {
		padded, _ := PadWithRandom(nil, blockSize)
		return []payloadChunk{{bytes: padded, validLen: 0}}
	}
	var chunks []payloadChunk
	for off := 0; off < len(payload); off += blockSize {
		end := off + blockSize
		if end > len(payload) {
			end = len(payload)
		}
		slice := payload[off:end]
		padded, _ := PadWithRandom(slice, blockSize)
		chunks = append(chunks, payloadChunk{bytes: padded, validLen: uint64(len(slice))})
	}
	return chunks
}

// RetrieveCBL reverses AssembleCBL: it walks the primary CBL and any
// siblings named in handle, dewhitens every tuple, reconstructs missing
// whitened blocks from parity when possible, and returns the original
// payload with its trailing random padding trimmed.
func RetrieveCBL(handle RetrievalHandle, store *InMemoryBlockStore, sizes BlockSizeSet, idSize int, verify VerifyFunc, tupleMinSize, tupleMaxSize int) ([]byte, error) {
	cbls := append([]Checksum{handle.PrimaryCBL}, handle.SiblingCBLs...)

	var tupleGroups [][]Checksum
	var originalLen uint64
	var originalChecksum Checksum

	for _, cblChecksum := range cbls {
		cblBlock, err := store.Get(cblChecksum)
		if err != nil {
			return nil, err
		}
		full := cblBlock.Payload()
		header, err := ParseHeaderWithIDSize(full, idSize)
		if err != nil {
			return nil, err
		}
		if verify != nil {
			ok, err := ValidateSignature(full, idSize, verify)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, NewError(ErrSignatureInvalid, "header", nil)
			}
		}
		originalLen = header.OriginalDataLength
		originalChecksum = header.OriginalDataChecksum
		tupleSize := int(header.TupleSize)

		addresses, err := header.AddressList(full)
		if err != nil {
			return nil, err
		}
		for i := 0; i+tupleSize <= len(addresses); i += tupleSize {
			tupleGroups = append(tupleGroups, addresses[i:i+tupleSize])
		}
	}

	// Fetch every whitened data shard up front so a missing one can be
	// recovered from parity before any dewhitening happens.
	whitenedShards := make([][]byte, len(tupleGroups))
	shardSize := 0
	missing := 0
	for i, group := range tupleGroups {
		b, err := store.Get(group[0])
		if err != nil {
			if Is(err, ErrNotFound) {
				missing++
				continue
			}
			return nil, err
		}
		whitenedShards[i] = b.Payload()
		shardSize = len(whitenedShards[i])
	}

	if missing > 0 {
		if shardSize == 0 {
			return nil, NewError(ErrUnrecoverableLoss, "", nil)
		}
		parityShards := make([][]byte, len(handle.ParityBlocks))
		for i, pc := range handle.ParityBlocks {
			b, err := store.Get(pc)
			if err == nil {
				parityShards[i] = b.Payload()
			}
		}
		combined := append(append([][]byte{}, whitenedShards...), parityShards...)
		if err := Reconstruct(combined, len(tupleGroups), len(parityShards)); err != nil {
			return nil, err
		}
		copy(whitenedShards, combined[:len(tupleGroups)])
	}

	engine := NewWhiteningEngine(sizes, tupleMinSize, tupleMaxSize)
	var out []byte
	for i, group := range tupleGroups {
		whitened, err := NewBlock(whitenedShards[i], OwnerFreeWhitened, Raw, uint64(shardSize), sizes)
		if err != nil {
			return nil, err
		}
		randoms := make([]*Block, 0, len(group)-1)
		for _, rc := range group[1:] {
			r, err := store.Get(rc)
			if err != nil {
				return nil, err
			}
			randoms = append(randoms, r)
		}
		dataBlock, err := engine.Dewhiten(whitened, randoms)
		if err != nil {
			return nil, err
		}
		out = append(out, dataBlock.Payload()...)
	}

	if uint64(len(out)) < originalLen {
		return nil, NewError(ErrChecksumMismatch, "originalDataLength", nil)
	}
	out = out[:originalLen]
	if !SHA3_512(out).Equal(originalChecksum) {
		return nil, NewError(ErrChecksumMismatch, "payload", nil)
	}
	return out, nil
}
