package core

import "sync"

// InboundIndex is the per-mailbox record HandleAnnouncement produces:
// enough to surface an incoming message in QueryInbox-style listings
// before its full metadata copy (which SendMessage already wrote for a
// locally-originated message) exists locally.
type InboundIndex struct {
	MessageID string
	Subject   string
	Handle    RetrievalHandle
}

// DeliveryHandler processes inbound gossip announcements: it indexes
// MessageDelivery summaries per addressed recipient, idempotently per
// messageId, and is a no-op on announcements that don't concern any
// mailbox it owns.
type DeliveryHandler struct {
	owned map[string]bool // addresses this handler accepts deliveries for

	mu    sync.Mutex
	index map[string]map[string]InboundIndex // owner -> messageId -> record
}

// NewDeliveryHandler builds a handler that accepts announcements addressed
// to any of ownedAddresses.
func NewDeliveryHandler(ownedAddresses ...string) *DeliveryHandler {
	owned := make(map[string]bool, len(ownedAddresses))
	for _, a := range ownedAddresses {
		owned[a] = true
	}
	return &DeliveryHandler{
		owned: owned,
		index: make(map[string]map[string]InboundIndex),
	}
}

// HandleAnnouncement indexes a, a no-op if a.Delivery is nil or names no
// address this handler owns, and idempotent if the message was already
// indexed for a given owner.
func (h *DeliveryHandler) HandleAnnouncement(a Announcement) {
	if a.Delivery == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, addr := range a.Delivery.Recipients {
		if !h.owned[addr] {
			continue
		}
		if h.index[addr] == nil {
			h.index[addr] = make(map[string]InboundIndex)
		}
		if _, exists := h.index[addr][a.MessageID]; exists {
			continue
		}
		h.index[addr][a.MessageID] = InboundIndex{
			MessageID: a.MessageID,
			Subject:   a.Delivery.Subject,
			Handle:    a.Handle,
		}
	}
}

// Inbox returns the indexed inbound messages for owner.
func (h *DeliveryHandler) Inbox(owner string) []InboundIndex {
	h.mu.Lock()
	defer h.mu.Unlock()
	mailbox := h.index[owner]
	out := make([]InboundIndex, 0, len(mailbox))
	for _, rec := range mailbox {
		out = append(out, rec)
	}
	return out
}
