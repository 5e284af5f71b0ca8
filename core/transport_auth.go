package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AuthFrame is the first frame a peer must send (and receive) over a
// transport connection before any announcement or message traffic is
// accepted, per §6.
type AuthFrame struct {
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
	Signature [64]byte  `json:"signature"`
}

// authFrameSignedBytes is the canonical byte sequence an AuthFrame's
// signature covers: nodeId || unix-milli timestamp, so replays outside a
// tolerance window can be rejected by the caller.
func authFrameSignedBytes(nodeID string, ts time.Time) []byte {
	buf := []byte(nodeID)
	ms := ts.UnixMilli()
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(ms>>(8*uint(i))))
	}
	return buf
}

// BuildAuthFrame signs and returns the handshake frame an identity sends to
// open a transport connection.
func BuildAuthFrame(identity MemberIdentity, now time.Time) (AuthFrame, error) {
	sig, err := identity.SignHeader(authFrameSignedBytes(identity.Address(), now))
	if err != nil {
		return AuthFrame{}, NewError(ErrSignatureInvalid, "authFrame", err)
	}
	return AuthFrame{NodeID: identity.Address(), Timestamp: now, Signature: sig}, nil
}

// VerifyAuthFrame checks a peer's handshake frame against its claimed
// identity and rejects frames older than maxSkew.
func VerifyAuthFrame(frame AuthFrame, identity MemberIdentity, now time.Time, maxSkew time.Duration) bool {
	if frame.NodeID != identity.Address() {
		return false
	}
	skew := now.Sub(frame.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return false
	}
	return identity.VerifyHeader(authFrameSignedBytes(frame.NodeID, frame.Timestamp), frame.Signature)
}

// Conn wraps a gorilla/websocket connection with the handshake and
// refuse-to-send-when-closed invariant of §6: once closed, every Send call
// fails immediately rather than attempting a write on a dead socket.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an already-established websocket connection. Authenticate
// must be called before Send/Receive are used for announcement traffic.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Authenticate performs the §6 handshake: send our frame, then read and
// verify the peer's.
func (c *Conn) Authenticate(self MemberIdentity, peerIdentity MemberIdentity, now time.Time, maxSkew time.Duration) error {
	frame, err := BuildAuthFrame(self, now)
	if err != nil {
		return err
	}
	if err := c.ws.WriteJSON(frame); err != nil {
		return NewError(ErrDeliveryInitiationFailed, "authFrame", err)
	}

	var peerFrame AuthFrame
	if err := c.ws.ReadJSON(&peerFrame); err != nil {
		return NewError(ErrDeliveryInitiationFailed, "authFrame", err)
	}
	if !VerifyAuthFrame(peerFrame, peerIdentity, now, maxSkew) {
		return NewError(ErrSignatureInvalid, "authFrame", nil)
	}
	return nil
}

// Send writes an announcement frame, refusing if the connection has been
// closed.
func (c *Conn) Send(a Announcement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewError(ErrDeliveryInitiationFailed, "connection", nil)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return NewError(ErrDeliveryInitiationFailed, "announcement", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return NewError(ErrDeliveryInitiationFailed, "write", err)
	}
	return nil
}

// Receive reads one announcement frame.
func (c *Conn) Receive() (Announcement, error) {
	var a Announcement
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return a, NewError(ErrDeliveryInitiationFailed, "read", err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, NewError(ErrDeliveryInitiationFailed, "announcement", err)
	}
	return a, nil
}

// Close marks the connection closed and tears down the underlying socket.
// Subsequent Send calls fail rather than touching the closed socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}
