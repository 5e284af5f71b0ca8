package core

// RandomBlockSource supplies whitening partners. Implementations should
// reuse existing Random-kind blocks opportunistically and fall back to
// generating fresh ones; the block store satisfies this interface.
type RandomBlockSource interface {
	// GetOrCreateRandom returns a Random block of the given size, reusing
	// one from the pool when available.
	GetOrCreateRandom(size int) (*Block, error)
}

// WhiteningEngine turns a data block into one indistinguishable from
// random, such that the original is recoverable given the whitened block
// and its whitening partners.
type WhiteningEngine struct {
	sizes          BlockSizeSet
	tupleMinSize   int
	tupleMaxSize   int
}

// NewWhiteningEngine builds a WhiteningEngine bound to a deployment's valid
// block sizes and tuple size bounds.
func NewWhiteningEngine(sizes BlockSizeSet, tupleMinSize, tupleMaxSize int) *WhiteningEngine {
	return &WhiteningEngine{sizes: sizes, tupleMinSize: tupleMinSize, tupleMaxSize: tupleMaxSize}
}

// Tuple is the ordered sequence of blocks participating in one whitening
// operation: the whitened block followed by its t-1 random partners, in the
// order the CBL's address list must record them for deterministic
// reconstruction.
type Tuple struct {
	Whitened *Block
	Randoms  []*Block
}

// ValidateTupleSize checks t against the engine's configured bounds.
func (e *WhiteningEngine) ValidateTupleSize(t int) error {
	if t < e.tupleMinSize || t > e.tupleMaxSize {
		return NewError(ErrInvalidTupleSize, "tupleSize", nil)
	}
	return nil
}

// Whiten XORs data against tupleSize-1 random partners drawn from source,
// producing an OwnerFreeWhitened block. No block stored in isolation from
// this operation reveals any bit of data: every partner of the tuple is
// required to invert it.
func (e *WhiteningEngine) Whiten(data *Block, tupleSize int, source RandomBlockSource) (*Tuple, error) {
	if err := e.ValidateTupleSize(tupleSize); err != nil {
		return nil, err
	}
	randoms := make([]*Block, 0, tupleSize-1)
	chunks := make([][]byte, 0, tupleSize)
	chunks = append(chunks, data.Payload())
	for i := 0; i < tupleSize-1; i++ {
		r, err := source.GetOrCreateRandom(data.Size())
		if err != nil {
			return nil, err
		}
		// A source that hands back a partner already in this tuple would let
		// the pair cancel out under XOR; swap in a fresh random block instead.
		for _, prev := range randoms {
			if prev.Checksum().Equal(r.Checksum()) {
				if r, err = NewRandomBlock(data.Size(), e.sizes); err != nil {
					return nil, err
				}
				break
			}
		}
		randoms = append(randoms, r)
		chunks = append(chunks, r.Payload())
	}
	whitenedBytes, err := XORMany(chunks...)
	if err != nil {
		return nil, err
	}
	whitened, err := NewBlock(whitenedBytes, OwnerFreeWhitened, Raw, uint64(len(whitenedBytes)), e.sizes)
	if err != nil {
		return nil, err
	}
	return &Tuple{Whitened: whitened, Randoms: randoms}, nil
}

// Dewhiten recovers the original data block from a whitened block and its
// recorded random partners. XOR is associative and self-inverse, so the
// order of randoms passed here need not match the order used at whiten
// time.
func (e *WhiteningEngine) Dewhiten(whitened *Block, randoms []*Block) (*Block, error) {
	chunks := make([][]byte, 0, len(randoms)+1)
	chunks = append(chunks, whitened.Payload())
	for _, r := range randoms {
		chunks = append(chunks, r.Payload())
	}
	dataBytes, err := XORMany(chunks...)
	if err != nil {
		return nil, err
	}
	return NewBlock(dataBytes, RawData, Raw, uint64(len(dataBytes)), e.sizes)
}
