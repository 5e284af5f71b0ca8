package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Priority mirrors the handful of priority levels a message carries, per
// §4.10.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
	PriorityUrgent
)

// Address is a single messaging participant: display name optional, email
// address required.
type Address struct {
	Name  string
	Email string
}

// RecipientList groups a message's To/CC/BCC address lists. BCC members
// never appear in any copy other than the sender's and their own, per
// §4.10's privacy invariant.
type RecipientList struct {
	To  []Address
	CC  []Address
	BCC []Address
}

// AttachmentInput is a caller-supplied file to store alongside a message,
// per §4.12: raw bytes plus the filename/mimeType pair recorded against its
// content-addressed record.
type AttachmentInput struct {
	FileName string
	MimeType string
	Content  []byte
}

// EmailInput is the caller-supplied content of an outbound message before
// delivery fan-out.
type EmailInput struct {
	From        Address
	Recipients  RecipientList
	Subject     string
	Body        []byte
	Priority    Priority
	InReplyTo   string // messageId of the message being replied to, if any
	Attachments []AttachmentInput
}

// DeliveryState tracks one recipient copy's progress through the delivery
// state machine.
type DeliveryState int

const (
	DeliveryPending DeliveryState = iota
	DeliverySent
	DeliveryDelivered
	DeliveryRead
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliverySent:
		return "sent"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MessageMetadata is the envelope stored per recipient copy: addressing,
// threading, and delivery state, separate from the message body (which
// lives in the content-addressed store as a CBL).
type MessageMetadata struct {
	MessageID   string
	From        Address
	To          []Address
	CC          []Address
	BCC         []Address // populated only on the sender's own copy, or naming only the owner on a BCC copy
	Subject     string
	Priority    Priority
	Date        time.Time
	InReplyTo   string
	References  []string
	ResentFrom  []Address // forwarding chain, most recent first
	Attachments []AttachmentRecord
	ContentCBL  RetrievalHandle
	Encryption  EncryptionScheme // content-transform applied before ContentCBL was assembled, per §4.11

	OwnerAddress string // which mailbox this copy belongs to
	State        DeliveryState
	Read         bool
}

// MessageDelivery is the gossip-facing summary of a delivered message,
// carried inside an Announcement so a recipient's delivery handler can
// index it without re-deriving envelope fields from the CBL itself. Its
// shape matches §6's wire format.
type MessageDelivery struct {
	MessageID   string    `json:"messageId"`
	Recipients  []string  `json:"recipients"` // email addresses this announcement concerns
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	Priority    Priority  `json:"priority"`
	BlockIds    []string  `json:"blockIds"`    // hex checksums of this copy's CBL chain (primary + siblings)
	CblBlockId  string    `json:"cblBlockId"`  // hex checksum of this copy's primary CBL
	AckRequired bool      `json:"ackRequired"`
}

// SendResult reports the outcome of fanning a message out to its
// recipients.
type SendResult struct {
	MessageID       string
	SenderCopy      MessageMetadata
	DeliveredCopies []MessageMetadata // one per To/CC/BCC recipient
	Failures        map[string]error  // address -> failure, for partial delivery
}

// MessagingCore implements the email-overlay operations of §4.10: sending
// with BCC-privacy fan-out, threading, forwarding, and inbox queries. It
// holds message envelopes in memory keyed by (owner, messageId), stores
// message bodies as CBLs in the shared block store, and stores attachment
// blobs in a separate content-addressed sub-store per §4.12.
type MessagingCore struct {
	store         *InMemoryBlockStore
	bus           GossipBus
	nodeID        string
	maxReferences int
	assembleOpts  AssembleOptions
	attachments   *AttachmentStore

	mu      sync.RWMutex
	byOwner map[string]map[string]*MessageMetadata // owner -> messageId -> envelope

	dirMu     sync.RWMutex
	directory map[string]MemberIdentity // address -> identity, known recipients a BCC copy can be encrypted for
}

// NewMessagingCore builds a MessagingCore over store, publishing
// announcements through bus under the deployment's nodeID. attachments may
// be a shared *AttachmentStore or a dedicated one per MessagingCore.
func NewMessagingCore(store *InMemoryBlockStore, bus GossipBus, nodeID string, maxReferences int, assembleOpts AssembleOptions, attachments *AttachmentStore) *MessagingCore {
	return &MessagingCore{
		store:         store,
		bus:           bus,
		nodeID:        nodeID,
		maxReferences: maxReferences,
		assembleOpts:  assembleOpts,
		attachments:   attachments,
		byOwner:       make(map[string]map[string]*MessageMetadata),
		directory:     make(map[string]MemberIdentity),
	}
}

// RegisterIdentity makes identity available as a BCC-encryption target:
// EncryptRecipientKeys needs the recipient's own MemberIdentity (this
// core's ECIES stand-in wraps under the recipient's key material, not a
// detachable public key), so a sender can only produce a real
// RecipientKeys copy for addresses registered here.
func (m *MessagingCore) RegisterIdentity(identity MemberIdentity) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.directory[identity.Address()] = identity
}

func (m *MessagingCore) lookupIdentity(address string) (MemberIdentity, bool) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	id, ok := m.directory[address]
	return id, ok
}

// generateMessageID builds a "<base36(ts).hex(16 random bytes)@nodeID>"
// identifier, per §4.10.
func generateMessageID(nodeID string, now time.Time) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", NewError(ErrInvalidMessageId, "", err)
	}
	return fmt.Sprintf("<%s.%s@%s>", strconv.FormatInt(now.UnixMilli(), 36), hex.EncodeToString(buf), nodeID), nil
}

func addressEmails(addrs []Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Email
	}
	return out
}

// mergeAddresses appends b's addresses to a, skipping any email already
// present.
func mergeAddresses(a []Address, b ...Address) []Address {
	seen := make(map[string]bool, len(a))
	for _, addr := range a {
		seen[addr.Email] = true
	}
	out := append([]Address{}, a...)
	for _, addr := range b {
		if !seen[addr.Email] {
			out = append(out, addr)
			seen[addr.Email] = true
		}
	}
	return out
}

func blockIDsOf(handle *RetrievalHandle) []string {
	ids := make([]string, 0, 1+len(handle.SiblingCBLs))
	ids = append(ids, handle.PrimaryCBL.Hex())
	for _, c := range handle.SiblingCBLs {
		ids = append(ids, c.Hex())
	}
	return ids
}

func (m *MessagingCore) storeCopy(owner string, env *MessageMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byOwner[owner] == nil {
		m.byOwner[owner] = make(map[string]*MessageMetadata)
	}
	cp := *env
	m.byOwner[owner][env.MessageID] = &cp
}

func (m *MessagingCore) storeAttachments(attachments []AttachmentInput) ([]AttachmentRecord, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	records := make([]AttachmentRecord, 0, len(attachments))
	for _, a := range attachments {
		record, err := m.attachments.Put(a.FileName, a.MimeType, a.Content)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// SendMessage stores one physical CBL per copy class and fans out gossip
// announcements per the privacy invariant of §4.10:
//
//   - the sender's own copy sees every address, including BCC.
//   - a single To/CC copy (fresh CBL, distinct from the sender's) is stored
//     for every To/CC recipient; it never mentions any BCC address.
//   - each BCC recipient gets its own fresh CBL, encrypted under
//     RecipientKeys so only that recipient's identity can decrypt it, and
//     its own copy lists To ∪ {itself} so the recipient appears in their
//     own inbox without the other BCC addresses ever appearing anywhere.
//
// Announcement count follows the same split: one MessageDelivery for the
// To/CC group (if non-empty) and one per successfully encrypted BCC
// address — never one per individual To/CC recipient and never a single
// shared announcement naming every recipient.
func (m *MessagingCore) SendMessage(input EmailInput, sender MemberIdentity) (*SendResult, error) {
	if input.From.Email == "" {
		return nil, NewError(ErrInvalidMailbox, "from", nil)
	}
	if len(input.Recipients.To) == 0 && len(input.Recipients.CC) == 0 && len(input.Recipients.BCC) == 0 {
		return nil, NewError(ErrNoRecipients, "recipients", nil)
	}

	now := time.Now().UTC()
	messageID, err := generateMessageID(m.nodeID, now)
	if err != nil {
		return nil, err
	}

	attachmentRecords, err := m.storeAttachments(input.Attachments)
	if err != nil {
		return nil, err
	}

	references := []string{}
	if input.InReplyTo != "" {
		references = append(references, input.InReplyTo)
		if len(references) > m.maxReferences {
			references = references[len(references)-m.maxReferences:]
		}
	}

	base := MessageMetadata{
		MessageID:   messageID,
		From:        input.From,
		To:          input.Recipients.To,
		CC:          input.Recipients.CC,
		Subject:     input.Subject,
		Priority:    input.Priority,
		Date:        now,
		InReplyTo:   input.InReplyTo,
		References:  references,
		Attachments: attachmentRecords,
		State:       DeliveryPending,
	}

	result := &SendResult{MessageID: messageID, Failures: make(map[string]error)}
	ctx := context.Background()

	// Sender copy: plaintext, full visibility, its own fresh CBL.
	senderOpts := m.assembleOpts
	senderOpts.Creator = sender
	senderOpts.FileName = ""
	senderHandle, _, err := AssembleCBL(input.Body, senderOpts, m.store)
	if err != nil {
		return nil, err
	}
	senderCopy := base
	senderCopy.BCC = input.Recipients.BCC
	senderCopy.ContentCBL = *senderHandle
	senderCopy.Encryption = SchemeNone
	senderCopy.OwnerAddress = input.From.Email
	senderCopy.State = DeliverySent
	m.storeCopy(input.From.Email, &senderCopy)
	result.SenderCopy = senderCopy

	// To/CC copy: plaintext, a fresh CBL distinct from the sender's, never
	// mentions any BCC address.
	visibleRecipients := append(append([]Address{}, input.Recipients.To...), input.Recipients.CC...)
	if len(visibleRecipients) > 0 {
		toCCOpts := m.assembleOpts
		toCCOpts.Creator = sender
		toCCOpts.FileName = ""
		toCCHandle, _, err := AssembleCBL(input.Body, toCCOpts, m.store)
		if err != nil {
			return nil, err
		}
		toCCCopyTemplate := base
		toCCCopyTemplate.ContentCBL = *toCCHandle
		toCCCopyTemplate.Encryption = SchemeNone
		toCCCopyTemplate.State = DeliverySent

		for _, addr := range visibleRecipients {
			cp := toCCCopyTemplate
			cp.OwnerAddress = addr.Email
			m.storeCopy(addr.Email, &cp)
			result.DeliveredCopies = append(result.DeliveredCopies, cp)
		}

		if m.bus != nil {
			recipients := addressEmails(visibleRecipients)
			ann := Announcement{
				MessageID: messageID,
				Handle:    *toCCHandle,
				Delivery: &MessageDelivery{
					MessageID:   messageID,
					Recipients:  recipients,
					Subject:     input.Subject,
					Date:        now,
					Priority:    PriorityNormal,
					BlockIds:    blockIDsOf(toCCHandle),
					CblBlockId:  toCCHandle.PrimaryCBL.Hex(),
					AckRequired: true,
				},
			}
			for _, addr := range recipients {
				if err := m.bus.Publish(ctx, "inbox:"+addr, ann); err != nil {
					result.Failures[addr] = err
				}
			}
		}
	}

	// BCC copies: each its own fresh CBL, encrypted under RecipientKeys so
	// only that one recipient's identity can decrypt it. A recipient with
	// no registered identity cannot be encrypted for and is reported as a
	// non-fatal delivery failure rather than receiving a plaintext copy.
	for _, addr := range input.Recipients.BCC {
		identity, ok := m.lookupIdentity(addr.Email)
		if !ok {
			result.Failures[addr.Email] = NewError(ErrRecipientUnknown, "bcc", nil)
			continue
		}

		sealed, err := EncryptRecipientKeys(input.Body, []MemberIdentity{identity})
		if err != nil {
			result.Failures[addr.Email] = err
			continue
		}
		payload, err := MarshalSealedContent(sealed)
		if err != nil {
			result.Failures[addr.Email] = err
			continue
		}

		bccOpts := m.assembleOpts
		bccOpts.Creator = sender
		bccOpts.FileName = ""
		bccOpts.Encryption = EncryptionSingleRecipient
		bccOpts.RecipientCount = 1
		bccHandle, _, err := AssembleCBL(payload, bccOpts, m.store)
		if err != nil {
			result.Failures[addr.Email] = err
			continue
		}

		cp := base
		cp.To = mergeAddresses(input.Recipients.To, addr)
		cp.BCC = []Address{addr} // a BCC recipient sees only themself in BCC
		cp.ContentCBL = *bccHandle
		cp.Encryption = SchemeRecipientKeys
		cp.OwnerAddress = addr.Email
		cp.State = DeliverySent
		m.storeCopy(addr.Email, &cp)
		result.DeliveredCopies = append(result.DeliveredCopies, cp)

		if m.bus != nil {
			ann := Announcement{
				MessageID: messageID,
				Handle:    *bccHandle,
				Delivery: &MessageDelivery{
					MessageID:   messageID,
					Recipients:  []string{addr.Email},
					Subject:     input.Subject,
					Date:        now,
					Priority:    PriorityNormal,
					BlockIds:    blockIDsOf(bccHandle),
					CblBlockId:  bccHandle.PrimaryCBL.Hex(),
					AckRequired: true,
				},
			}
			if err := m.bus.Publish(ctx, "inbox:"+addr.Email, ann); err != nil {
				result.Failures[addr.Email] = err
			}
		}
	}

	return result, nil
}

// GetMessage returns the envelope of a message as seen by owner.
func (m *MessagingCore) GetMessage(owner, messageID string) (*MessageMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mailbox, ok := m.byOwner[owner]
	if !ok {
		return nil, NewError(ErrNotFound, "owner", nil)
	}
	env, ok := mailbox[messageID]
	if !ok {
		return nil, NewError(ErrNotFound, "messageId", nil)
	}
	cp := *env
	return &cp, nil
}

// GetMessageContent retrieves and verifies a message's body from the block
// store, decrypting it first if the owner's copy was sealed under
// RecipientKeys.
func (m *MessagingCore) GetMessageContent(owner, messageID string, recipient MemberIdentity) ([]byte, error) {
	env, err := m.GetMessage(owner, messageID)
	if err != nil {
		return nil, err
	}
	raw, err := RetrieveCBL(env.ContentCBL, m.store, m.assembleOpts.Sizes, m.assembleOpts.IDSize, recipient.VerifyHeader, m.assembleOpts.TupleMinSize, m.assembleOpts.TupleMaxSize)
	if err != nil {
		return nil, err
	}
	if env.Encryption == SchemeNone {
		return raw, nil
	}
	sealed, err := UnmarshalSealedContent(raw)
	if err != nil {
		return nil, err
	}
	return DecryptRecipientKeys(sealed, recipient)
}

// GetAttachmentContent returns an attachment's raw bytes, given the
// sha256Hex digest recorded against owner's copy of messageID.
func (m *MessagingCore) GetAttachmentContent(owner, messageID, sha256Hex string) ([]byte, error) {
	env, err := m.GetMessage(owner, messageID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, a := range env.Attachments {
		if a.SHA256Hex == sha256Hex {
			found = true
			break
		}
	}
	if !found {
		return nil, NewError(ErrAttachmentMissing, "sha256", nil)
	}
	return m.attachments.Get(sha256Hex)
}

// DeleteMessage removes owner's copy of a message. Deleting one recipient's
// copy never affects any other recipient's copy.
func (m *MessagingCore) DeleteMessage(owner, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mailbox, ok := m.byOwner[owner]
	if !ok {
		return NewError(ErrNotFound, "owner", nil)
	}
	if _, ok := mailbox[messageID]; !ok {
		return NewError(ErrNotFound, "messageId", nil)
	}
	delete(mailbox, messageID)
	return nil
}

// QueryInbox returns owner's messages ordered newest first.
func (m *MessagingCore) QueryInbox(owner string) []MessageMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mailbox := m.byOwner[owner]
	out := make([]MessageMetadata, 0, len(mailbox))
	for _, env := range mailbox {
		out = append(out, *env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// MarkAsRead transitions owner's copy of a message to read.
func (m *MessagingCore) MarkAsRead(owner, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mailbox, ok := m.byOwner[owner]
	if !ok {
		return NewError(ErrNotFound, "owner", nil)
	}
	env, ok := mailbox[messageID]
	if !ok {
		return NewError(ErrNotFound, "messageId", nil)
	}
	env.Read = true
	env.State = DeliveryRead
	return nil
}

// GetUnreadCount counts owner's unread messages.
func (m *MessagingCore) GetUnreadCount(owner string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, env := range m.byOwner[owner] {
		if !env.Read {
			count++
		}
	}
	return count
}

// GetThread returns every message in owner's mailbox that participates in
// the same thread as messageID, ordered oldest first, by following
// InReplyTo/References.
func (m *MessagingCore) GetThread(owner, messageID string) ([]MessageMetadata, error) {
	root, err := m.GetMessage(owner, messageID)
	if err != nil {
		return nil, err
	}
	threadIDs := map[string]bool{root.MessageID: true}
	for _, ref := range root.References {
		threadIDs[ref] = true
	}
	if root.InReplyTo != "" {
		threadIDs[root.InReplyTo] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MessageMetadata
	for _, env := range m.byOwner[owner] {
		if threadIDs[env.MessageID] || threadIDs[env.InReplyTo] {
			out = append(out, *env)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Reply composes a new outbound message threaded under messageID: subject
// prefixed with "Re: " (unless already present), InReplyTo set, and
// References extended with the parent's own reference chain, truncated to
// maxReferencesCount entries keeping the most recent.
func (m *MessagingCore) Reply(owner, messageID string, body []byte, sender MemberIdentity, toAll bool) (*SendResult, error) {
	parent, err := m.GetMessage(owner, messageID)
	if err != nil {
		return nil, err
	}
	subject := parent.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	references := append(append([]string{}, parent.References...), parent.MessageID)
	if len(references) > m.maxReferences {
		references = references[len(references)-m.maxReferences:]
	}

	recipients := RecipientList{To: []Address{parent.From}}
	if toAll {
		recipients.CC = parent.CC
	}

	input := EmailInput{
		From:       Address{Email: owner},
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		InReplyTo:  parent.MessageID,
	}
	result, err := m.SendMessage(input, sender)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	for _, mailbox := range m.byOwner {
		if env, ok := mailbox[result.MessageID]; ok {
			env.References = references
		}
	}
	m.mu.Unlock()
	result.SenderCopy.References = references
	for i := range result.DeliveredCopies {
		result.DeliveredCopies[i].References = references
	}
	return result, nil
}

// Forward re-sends messageID's content to new recipients, recording the
// original sender in the Resent-From chain.
func (m *MessagingCore) Forward(owner, messageID string, to []Address, sender MemberIdentity) (*SendResult, error) {
	original, err := m.GetMessage(owner, messageID)
	if err != nil {
		return nil, err
	}
	content, err := m.GetMessageContent(owner, messageID, sender)
	if err != nil {
		return nil, err
	}

	input := EmailInput{
		From:       Address{Email: owner},
		Recipients: RecipientList{To: to},
		Subject:    "Fwd: " + strings.TrimPrefix(original.Subject, "Fwd: "),
		Body:       content,
	}
	result, err := m.SendMessage(input, sender)
	if err != nil {
		return nil, err
	}
	resentChain := append([]Address{original.From}, original.ResentFrom...)
	m.mu.Lock()
	if env, ok := m.byOwner[owner][result.MessageID]; ok {
		env.ResentFrom = resentChain
	}
	for _, addr := range to {
		if env, ok := m.byOwner[addr.Email][result.MessageID]; ok {
			env.ResentFrom = resentChain
		}
	}
	m.mu.Unlock()
	return result, nil
}

// GetDeliveryStatus reports the delivery state machine position of a
// message as seen by owner.
func (m *MessagingCore) GetDeliveryStatus(owner, messageID string) (DeliveryState, error) {
	env, err := m.GetMessage(owner, messageID)
	if err != nil {
		return DeliveryFailed, err
	}
	return env.State, nil
}
