package core

import "sync"

// InMemoryBlockStore is a content-addressed block store suitable for tests
// and single-process deployments: Has/Get/Put/Delete keyed by Checksum,
// with idempotent Put and copy-out Get, plus the random-block pool
// WhiteningEngine draws on.
type InMemoryBlockStore struct {
	sizes BlockSizeSet

	mu      sync.RWMutex
	blocks  map[Checksum]*Block
	refs    map[Checksum]int
	randoms map[int][]Checksum // size -> checksums of stored Random-kind blocks
}

// NewInMemoryBlockStore builds an empty store accepting blocks of the given
// deployment sizes.
func NewInMemoryBlockStore(sizes BlockSizeSet) *InMemoryBlockStore {
	return &InMemoryBlockStore{
		sizes:   sizes,
		blocks:  make(map[Checksum]*Block),
		refs:    make(map[Checksum]int),
		randoms: make(map[int][]Checksum),
	}
}

// Has reports whether a block with the given checksum is stored.
func (s *InMemoryBlockStore) Has(c Checksum) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[c]
	return ok
}

// Get returns a copy of the stored block. Callers never receive an alias
// into the store's internal state.
func (s *InMemoryBlockStore) Get(c Checksum) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[c]
	if !ok {
		return nil, NewError(ErrNotFound, "checksum", nil)
	}
	cp := *b
	cp.payload = b.Payload()
	return &cp, nil
}

// Put stores a block, keyed by its own checksum. Storing a block that is
// already present is a no-op and is not an error: content addressing makes
// every Put of the same bytes identical, so repetition is always safe.
func (s *InMemoryBlockStore) Put(b *Block) (Checksum, error) {
	c := b.Checksum()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blocks[c]; exists {
		return c, nil
	}
	cp := *b
	cp.payload = b.Payload()
	s.blocks[c] = &cp
	if b.Kind() == Random {
		s.randoms[b.Size()] = append(s.randoms[b.Size()], c)
	}
	return c, nil
}

// IncRef marks checksum c as referenced by another stored block (e.g. a
// whitened block referencing a random partner). Delete refuses to remove a
// block while its reference count is above zero.
func (s *InMemoryBlockStore) IncRef(c Checksum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[c]++
}

// DecRef releases one reference to checksum c, previously added by IncRef.
func (s *InMemoryBlockStore) DecRef(c Checksum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[c] > 0 {
		s.refs[c]--
	}
}

// Delete removes a block, refusing while it is still referenced by other
// stored blocks (whitening partners held live by a stored tuple).
func (s *InMemoryBlockStore) Delete(c Checksum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[c] > 0 {
		return NewError(ErrBlockInUse, "checksum", nil)
	}
	if _, ok := s.blocks[c]; !ok {
		return NewError(ErrNotFound, "checksum", nil)
	}
	delete(s.blocks, c)
	return nil
}

// GetOrCreateRandom satisfies RandomBlockSource: it reuses a previously
// stored Random block of the requested size when one is available, and
// otherwise generates and stores a fresh one.
func (s *InMemoryBlockStore) GetOrCreateRandom(size int) (*Block, error) {
	s.mu.RLock()
	pool := s.randoms[size]
	var candidate Checksum
	haveCandidate := len(pool) > 0
	if haveCandidate {
		candidate = pool[len(pool)-1]
	}
	s.mu.RUnlock()

	if haveCandidate {
		if b, err := s.Get(candidate); err == nil {
			return b, nil
		}
	}

	b, err := NewRandomBlock(size, s.sizes)
	if err != nil {
		return nil, err
	}
	if _, err := s.Put(b); err != nil {
		return nil, err
	}
	return b, nil
}
