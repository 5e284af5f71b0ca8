package core

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialPair(t *testing.T) (*Conn, *Conn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	serverConn := <-serverConnCh

	cleanup := func() {
		clientConn.Close()
		serverConn.Close()
		server.Close()
	}
	return NewConn(clientConn), NewConn(serverConn), cleanup
}

func TestConnAuthenticateHandshakeSucceeds(t *testing.T) {
	client, server, cleanup := dialPair(t)
	defer cleanup()

	alice := NewHMACIdentity([]byte("0123456789abcdef"), "alice@example.com", bytesOf(32, 0x01))
	bob := NewHMACIdentity([]byte("fedcba9876543210"), "bob@example.com", bytesOf(32, 0x02))
	now := time.Now()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Authenticate(bob, alice, now, time.Minute)
	}()
	if err := client.Authenticate(alice, bob, now, time.Minute); err != nil {
		t.Fatalf("client Authenticate failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server Authenticate failed: %v", err)
	}
}

func TestVerifyAuthFrameRejectsMismatchedIdentity(t *testing.T) {
	alice := NewHMACIdentity([]byte("0123456789abcdef"), "alice@example.com", bytesOf(32, 0x01))
	eve := NewHMACIdentity([]byte("fedcba9876543210"), "eve@example.com", bytesOf(32, 0x09))
	now := time.Now()

	frame, err := BuildAuthFrame(alice, now)
	if err != nil {
		t.Fatalf("BuildAuthFrame failed: %v", err)
	}
	if VerifyAuthFrame(frame, eve, now, time.Minute) {
		t.Fatalf("VerifyAuthFrame should not accept alice's frame under eve's key")
	}
	if !VerifyAuthFrame(frame, alice, now, time.Minute) {
		t.Fatalf("VerifyAuthFrame should accept alice's own frame")
	}
}

func TestVerifyAuthFrameRejectsStaleTimestamp(t *testing.T) {
	alice := NewHMACIdentity([]byte("0123456789abcdef"), "alice@example.com", bytesOf(32, 0x01))
	past := time.Now().Add(-time.Hour)

	frame, err := BuildAuthFrame(alice, past)
	if err != nil {
		t.Fatalf("BuildAuthFrame failed: %v", err)
	}
	if VerifyAuthFrame(frame, alice, time.Now(), time.Minute) {
		t.Fatalf("VerifyAuthFrame should reject a frame older than maxSkew")
	}
}

func TestConnSendRefusedAfterClose(t *testing.T) {
	client, server, cleanup := dialPair(t)
	defer cleanup()
	_ = server

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	err := client.Send(Announcement{MessageID: "x"})
	if !Is(err, ErrDeliveryInitiationFailed) {
		t.Fatalf("expected ErrDeliveryInitiationFailed after close, got %v", err)
	}
}

func TestConnSendReceiveRoundTrip(t *testing.T) {
	client, server, cleanup := dialPair(t)
	defer cleanup()

	want := Announcement{MessageID: "msg-42", Handle: RetrievalHandle{PrimaryCBL: checksumOf(0x07)}}
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- client.Send(want)
	}()

	got, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := <-doneCh; err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.MessageID != want.MessageID {
		t.Fatalf("got messageId %q, want %q", got.MessageID, want.MessageID)
	}
}
