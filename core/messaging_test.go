package core

import "testing"

func newTestMessagingCore(t *testing.T) (*MessagingCore, MemberIdentity) {
	t.Helper()
	store := NewInMemoryBlockStore(DefaultBlockSizes())
	bus := NewLocalGossipBus()
	sender := NewHMACIdentity([]byte("0123456789abcdef"), "alice@example.com", bytesOf(32, 0x5C))
	opts := AssembleOptions{
		Sizes:        DefaultBlockSizes(),
		BlockSize:    4096,
		TupleSize:    3,
		TupleMinSize: 3,
		TupleMaxSize: 5,
		Durability:   DurabilityEphemeral,
		IDSize:       16,
		Encryption:   EncryptionNone,
	}
	return NewMessagingCore(store, bus, "brightchain.local", 20, opts, NewAttachmentStore()), sender
}

// TestSendMessageBCCPrivacy is scenario S4: the To/CC recipients' copies
// never mention any BCC address, the sender's own copy lists every BCC
// address, and each BCC recipient's own copy lists only themself.
func TestSendMessageBCCPrivacy(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	core.RegisterIdentity(NewHMACIdentity([]byte("carolcarolcarolc"), "carol@example.com", bytesOf(32, 0x11)))
	core.RegisterIdentity(NewHMACIdentity([]byte("davedavedavedave"), "dave@example.com", bytesOf(32, 0x22)))

	input := EmailInput{
		From: Address{Email: "alice@example.com"},
		Recipients: RecipientList{
			To:  []Address{{Email: "bob@example.com"}},
			BCC: []Address{{Email: "carol@example.com"}, {Email: "dave@example.com"}},
		},
		Subject: "Quarterly update",
		Body:    []byte("confidential numbers inside"),
	}

	result, err := core.SendMessage(input, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(result.SenderCopy.BCC) != 2 {
		t.Fatalf("expected sender's own copy to list both BCC recipients, got %d", len(result.SenderCopy.BCC))
	}

	bobCopy, err := core.GetMessage("bob@example.com", result.MessageID)
	if err != nil {
		t.Fatalf("GetMessage(bob) failed: %v", err)
	}
	if len(bobCopy.BCC) != 0 {
		t.Fatalf("expected bob's copy to carry no BCC addresses, got %v", bobCopy.BCC)
	}

	carolCopy, err := core.GetMessage("carol@example.com", result.MessageID)
	if err != nil {
		t.Fatalf("GetMessage(carol) failed: %v", err)
	}
	if len(carolCopy.BCC) != 1 || carolCopy.BCC[0].Email != "carol@example.com" {
		t.Fatalf("expected carol's copy to list only herself in BCC, got %v", carolCopy.BCC)
	}

	daveCopy, err := core.GetMessage("dave@example.com", result.MessageID)
	if err != nil {
		t.Fatalf("GetMessage(dave) failed: %v", err)
	}
	if len(daveCopy.BCC) != 1 || daveCopy.BCC[0].Email != "dave@example.com" {
		t.Fatalf("expected dave's copy to list only himself in BCC, got %v", daveCopy.BCC)
	}
}

// TestSendMessageUndisclosedRecipientsOnly is scenario S5: a message with
// only BCC recipients and no To/CC still delivers, and none of the BCC
// copies reveal the other recipients.
func TestSendMessageUndisclosedRecipientsOnly(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	core.RegisterIdentity(NewHMACIdentity([]byte("carolcarolcarolc"), "carol@example.com", bytesOf(32, 0x11)))
	core.RegisterIdentity(NewHMACIdentity([]byte("davedavedavedave"), "dave@example.com", bytesOf(32, 0x22)))

	input := EmailInput{
		From: Address{Email: "alice@example.com"},
		Recipients: RecipientList{
			BCC: []Address{{Email: "carol@example.com"}, {Email: "dave@example.com"}},
		},
		Subject: "Undisclosed recipients",
		Body:    []byte("hello everyone"),
	}

	result, err := core.SendMessage(input, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("expected no delivery failures, got %v", result.Failures)
	}
	if len(result.DeliveredCopies) != 2 {
		t.Fatalf("expected 2 delivered copies, got %d", len(result.DeliveredCopies))
	}
	for _, cp := range result.DeliveredCopies {
		if len(cp.CC) != 0 {
			t.Fatalf("expected no CC on an undisclosed-recipients message, got CC=%v", cp.CC)
		}
		if len(cp.To) != 1 || cp.To[0].Email != cp.OwnerAddress {
			t.Fatalf("expected each BCC copy's To to name only its own owner, got To=%v owner=%s", cp.To, cp.OwnerAddress)
		}
		if len(cp.BCC) != 1 {
			t.Fatalf("expected each BCC copy to name only its own owner, got %v", cp.BCC)
		}
		if cp.Encryption != SchemeRecipientKeys {
			t.Fatalf("expected each BCC copy to be sealed under RecipientKeys, got %v", cp.Encryption)
		}
	}
}

func TestSendMessageRequiresAtLeastOneRecipient(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	input := EmailInput{From: Address{Email: "alice@example.com"}, Subject: "x", Body: []byte("y")}
	if _, err := core.SendMessage(input, sender); !Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

// TestMessageIDsAreUnique is scenario S6.
func TestMessageIDsAreUnique(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		result, err := core.SendMessage(EmailInput{
			From:       Address{Email: "alice@example.com"},
			Recipients: RecipientList{To: []Address{{Email: "bob@example.com"}}},
			Subject:    "ping",
			Body:       []byte("pong"),
		}, sender)
		if err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
		if seen[result.MessageID] {
			t.Fatalf("duplicate messageId generated: %s", result.MessageID)
		}
		seen[result.MessageID] = true
	}
}

func TestGetMessageContentRoundTrip(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	body := []byte("the quick brown fox jumps over the lazy dog")

	result, err := core.SendMessage(EmailInput{
		From:       Address{Email: "alice@example.com"},
		Recipients: RecipientList{To: []Address{{Email: "bob@example.com"}}},
		Subject:    "fox",
		Body:       body,
	}, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	got, err := core.GetMessageContent("bob@example.com", result.MessageID, sender)
	if err != nil {
		t.Fatalf("GetMessageContent failed: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("content mismatch: got %q want %q", got, body)
	}
}

// TestSendMessageAttachmentRoundTrip is scenario S7: a message carrying a
// 256-byte attachment is sent and the recipient retrieves both the body
// and the attachment bytes, with the attachment's recorded digest and size
// matching what was sent.
func TestSendMessageAttachmentRoundTrip(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	blob := bytesOf(256, 0x7A)

	result, err := core.SendMessage(EmailInput{
		From:       Address{Email: "alice@example.com"},
		Recipients: RecipientList{To: []Address{{Email: "bob@example.com"}}},
		Subject:    "Report attached",
		Body:       []byte("see attached"),
		Attachments: []AttachmentInput{
			{FileName: "report.bin", MimeType: "application/octet-stream", Content: blob},
		},
	}, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	bobCopy, err := core.GetMessage("bob@example.com", result.MessageID)
	if err != nil {
		t.Fatalf("GetMessage(bob) failed: %v", err)
	}
	if len(bobCopy.Attachments) != 1 {
		t.Fatalf("expected 1 attachment record, got %d", len(bobCopy.Attachments))
	}
	record := bobCopy.Attachments[0]
	if len(record.SHA256Hex) != 64 {
		t.Fatalf("expected a 64-char hex digest, got %d chars", len(record.SHA256Hex))
	}
	if record.ContentSize != 256 {
		t.Fatalf("expected recorded size 256, got %d", record.ContentSize)
	}
	if record.MimeType != "application/octet-stream" {
		t.Fatalf("expected mimeType to round trip, got %q", record.MimeType)
	}

	content, err := core.GetMessageContent("bob@example.com", result.MessageID, sender)
	if err != nil {
		t.Fatalf("GetMessageContent failed: %v", err)
	}
	if string(content) != "see attached" {
		t.Fatalf("body content mismatch: got %q", content)
	}

	attachment, err := core.GetAttachmentContent("bob@example.com", result.MessageID, record.SHA256Hex)
	if err != nil {
		t.Fatalf("GetAttachmentContent failed: %v", err)
	}
	if len(attachment) != 256 {
		t.Fatalf("expected 256 attachment bytes, got %d", len(attachment))
	}
	for i, b := range attachment {
		if b != 0x7A {
			t.Fatalf("attachment byte %d mismatch: got %x", i, b)
		}
	}
}

func TestDeleteMessageIsPerOwner(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	result, err := core.SendMessage(EmailInput{
		From:       Address{Email: "alice@example.com"},
		Recipients: RecipientList{To: []Address{{Email: "bob@example.com"}}},
		Subject:    "x",
		Body:       []byte("y"),
	}, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := core.DeleteMessage("bob@example.com", result.MessageID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if _, err := core.GetMessage("bob@example.com", result.MessageID); !Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := core.GetMessage("alice@example.com", result.MessageID); err != nil {
		t.Fatalf("expected alice's copy to survive bob's delete, got %v", err)
	}
}

func TestMarkAsReadAndUnreadCount(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	result, err := core.SendMessage(EmailInput{
		From:       Address{Email: "alice@example.com"},
		Recipients: RecipientList{To: []Address{{Email: "bob@example.com"}}},
		Subject:    "x",
		Body:       []byte("y"),
	}, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if core.GetUnreadCount("bob@example.com") != 1 {
		t.Fatalf("expected 1 unread message")
	}
	if err := core.MarkAsRead("bob@example.com", result.MessageID); err != nil {
		t.Fatalf("MarkAsRead failed: %v", err)
	}
	if core.GetUnreadCount("bob@example.com") != 0 {
		t.Fatalf("expected 0 unread messages after MarkAsRead")
	}
}

func TestReplyThreadsUnderParent(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	bob := NewHMACIdentity([]byte("fedcba9876543210"), "bob@example.com", bytesOf(32, 0x02))

	original, err := core.SendMessage(EmailInput{
		From:       Address{Email: "alice@example.com"},
		Recipients: RecipientList{To: []Address{{Email: "bob@example.com"}}},
		Subject:    "Lunch?",
		Body:       []byte("are you free today"),
	}, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	reply, err := core.Reply("bob@example.com", original.MessageID, []byte("yes!"), bob, false)
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply.SenderCopy.InReplyTo != original.MessageID {
		t.Fatalf("expected reply InReplyTo to reference original message")
	}
	if reply.SenderCopy.Subject != "Re: Lunch?" {
		t.Fatalf("expected subject to be prefixed with Re:, got %q", reply.SenderCopy.Subject)
	}
}

func TestForwardRecordsResentFrom(t *testing.T) {
	core, sender := newTestMessagingCore(t)
	bob := NewHMACIdentity([]byte("fedcba9876543210"), "bob@example.com", bytesOf(32, 0x02))

	original, err := core.SendMessage(EmailInput{
		From:       Address{Email: "alice@example.com"},
		Recipients: RecipientList{To: []Address{{Email: "bob@example.com"}}},
		Subject:    "Report",
		Body:       []byte("see attached"),
	}, sender)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	forwarded, err := core.Forward("bob@example.com", original.MessageID, []Address{{Email: "carol@example.com"}}, bob)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	carolCopy, err := core.GetMessage("carol@example.com", forwarded.MessageID)
	if err != nil {
		t.Fatalf("GetMessage(carol) failed: %v", err)
	}
	if len(carolCopy.ResentFrom) != 1 || carolCopy.ResentFrom[0].Email != "alice@example.com" {
		t.Fatalf("expected ResentFrom to record original sender, got %v", carolCopy.ResentFrom)
	}
}
