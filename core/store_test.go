package core

import "testing"

func TestInMemoryBlockStorePutGetRoundTrip(t *testing.T) {
	store := NewInMemoryBlockStore(BlockSizeSet{512})
	b := mustBlock(t, bytesOf(512, 0x7A), RawData)

	c, err := store.Put(b)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !store.Has(c) {
		t.Fatalf("expected store to report Has(c) == true")
	}

	got, err := store.Get(c)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !EqualConstantTime(got.Payload(), b.Payload()) {
		t.Fatalf("round trip payload mismatch")
	}
}

func TestInMemoryBlockStoreGetIsCopyOut(t *testing.T) {
	store := NewInMemoryBlockStore(BlockSizeSet{512})
	b := mustBlock(t, bytesOf(512, 0x01), RawData)
	c, err := store.Put(b)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(c)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	mutated := got.Payload()
	mutated[0] ^= 0xFF

	again, err := store.Get(c)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if !EqualConstantTime(again.Payload(), b.Payload()) {
		t.Fatalf("mutating a Get result leaked into the store")
	}
}

func TestInMemoryBlockStorePutIsIdempotent(t *testing.T) {
	store := NewInMemoryBlockStore(BlockSizeSet{512})
	b := mustBlock(t, bytesOf(512, 0x02), RawData)

	c1, err := store.Put(b)
	if err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	c2, err := store.Put(b)
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected idempotent Put to return the same checksum")
	}
}

func TestInMemoryBlockStoreDeleteRefusedWhileReferenced(t *testing.T) {
	store := NewInMemoryBlockStore(BlockSizeSet{512})
	b := mustBlock(t, bytesOf(512, 0x03), Random)
	c, err := store.Put(b)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	store.IncRef(c)

	if err := store.Delete(c); !Is(err, ErrBlockInUse) {
		t.Fatalf("expected ErrBlockInUse, got %v", err)
	}

	store.DecRef(c)
	if err := store.Delete(c); err != nil {
		t.Fatalf("expected Delete to succeed once unreferenced, got %v", err)
	}
	if store.Has(c) {
		t.Fatalf("expected block to be gone after Delete")
	}
}

func TestInMemoryBlockStoreDeleteMissingFails(t *testing.T) {
	store := NewInMemoryBlockStore(BlockSizeSet{512})
	if err := store.Delete(checksumOf(0x09)); !Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryBlockStoreGetOrCreateRandomReusesPool(t *testing.T) {
	store := NewInMemoryBlockStore(BlockSizeSet{512})

	first, err := store.GetOrCreateRandom(512)
	if err != nil {
		t.Fatalf("GetOrCreateRandom failed: %v", err)
	}
	second, err := store.GetOrCreateRandom(512)
	if err != nil {
		t.Fatalf("GetOrCreateRandom failed: %v", err)
	}
	if first.Checksum() != second.Checksum() {
		t.Fatalf("expected GetOrCreateRandom to reuse the pooled block")
	}
}
