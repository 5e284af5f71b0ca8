package core

import "testing"

func TestDeliveryHandlerIndexesOwnedRecipients(t *testing.T) {
	h := NewDeliveryHandler("bob@example.com")
	ann := Announcement{
		MessageID: "msg-1",
		Handle:    RetrievalHandle{PrimaryCBL: checksumOf(0x01)},
		Delivery:  &MessageDelivery{MessageID: "msg-1", Recipients: []string{"bob@example.com"}, Subject: "hi"},
	}
	h.HandleAnnouncement(ann)

	inbox := h.Inbox("bob@example.com")
	if len(inbox) != 1 || inbox[0].MessageID != "msg-1" {
		t.Fatalf("expected bob's inbox to contain msg-1, got %+v", inbox)
	}
}

func TestDeliveryHandlerIgnoresUnownedRecipients(t *testing.T) {
	h := NewDeliveryHandler("bob@example.com")
	ann := Announcement{
		MessageID: "msg-1",
		Delivery:  &MessageDelivery{MessageID: "msg-1", Recipients: []string{"eve@example.com"}, Subject: "hi"},
	}
	h.HandleAnnouncement(ann)

	if len(h.Inbox("bob@example.com")) != 0 {
		t.Fatalf("expected no entries for an unowned recipient")
	}
}

func TestDeliveryHandlerNoOpWithoutDelivery(t *testing.T) {
	h := NewDeliveryHandler("bob@example.com")
	h.HandleAnnouncement(Announcement{MessageID: "msg-1"})
	if len(h.Inbox("bob@example.com")) != 0 {
		t.Fatalf("expected no-op on an announcement with nil Delivery")
	}
}

func TestDeliveryHandlerIdempotentPerMessageID(t *testing.T) {
	h := NewDeliveryHandler("bob@example.com")
	ann := Announcement{
		MessageID: "msg-1",
		Delivery:  &MessageDelivery{MessageID: "msg-1", Recipients: []string{"bob@example.com"}, Subject: "hi"},
	}
	h.HandleAnnouncement(ann)
	h.HandleAnnouncement(ann)
	h.HandleAnnouncement(ann)

	if len(h.Inbox("bob@example.com")) != 1 {
		t.Fatalf("expected repeated delivery of the same messageId to index once")
	}
}
