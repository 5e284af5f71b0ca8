package core

import (
	"context"
	"fmt"
)

// Node bundles the pieces a running BrightChain participant needs: its own
// identity, a block store, a gossip transport, a delivery handler indexing
// inbound announcements, and the messaging core built atop them. It plays
// the same bootstrap role this core's network layer gives *Node, widened
// to the BrightChain domain.
type Node struct {
	Identity    MemberIdentity
	Store       *InMemoryBlockStore
	Bus         GossipBus
	Delivery    *DeliveryHandler
	Messages    *MessagingCore
	Attachments *AttachmentStore

	ctx    context.Context
	cancel context.CancelFunc
}

// NodeConfig bundles NewNode's inputs.
type NodeConfig struct {
	Identity      MemberIdentity
	Sizes         BlockSizeSet
	BlockSize     int
	TupleSize     int
	TupleMinSize  int
	TupleMaxSize  int
	Durability    DurabilityLevel
	ParityLevel   int
	IDSize        int
	MaxReferences int
	Bus           GossipBus // nil selects a LocalGossipBus for single-process use
}

// NewNode assembles a Node: a fresh in-memory block store sized per cfg, a
// gossip bus (the caller's, or an in-process default), a delivery handler
// that owns the node identity's own mailbox address, and a messaging core
// wired to all of the above. It also subscribes the delivery handler to
// its own inbox topic so inbound announcements are indexed automatically.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Identity == nil {
		return nil, NewError(ErrFieldRequired, "identity", nil)
	}
	bus := cfg.Bus
	if bus == nil {
		bus = NewLocalGossipBus()
	}

	store := NewInMemoryBlockStore(cfg.Sizes)
	delivery := NewDeliveryHandler(cfg.Identity.Address())

	assembleOpts := AssembleOptions{
		Sizes:          cfg.Sizes,
		BlockSize:      cfg.BlockSize,
		TupleSize:      cfg.TupleSize,
		TupleMinSize:   cfg.TupleMinSize,
		TupleMaxSize:   cfg.TupleMaxSize,
		Durability:     cfg.Durability,
		ParityOverride: cfg.ParityLevel,
		Creator:        cfg.Identity,
		IDSize:         cfg.IDSize,
		Encryption:     EncryptionNone,
	}
	attachments := NewAttachmentStore()
	messages := NewMessagingCore(store, bus, cfg.Identity.Address(), cfg.MaxReferences, assembleOpts, attachments)
	messages.RegisterIdentity(cfg.Identity)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		Identity:    cfg.Identity,
		Store:       store,
		Bus:         bus,
		Delivery:    delivery,
		Messages:    messages,
		Attachments: attachments,
		ctx:         ctx,
		cancel:      cancel,
	}

	ch, err := bus.Subscribe(ctx, "inbox:"+cfg.Identity.Address())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("node: subscribe own inbox: %w", err)
	}
	go func() {
		for a := range ch {
			delivery.HandleAnnouncement(a)
		}
	}()

	return n, nil
}

// Close tears down the node's gossip subscription and transport.
func (n *Node) Close() error {
	n.cancel()
	return n.Bus.Close()
}
