package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fitchat/internal/model"

	"github.com/gorilla/websocket"
)

type channelTestServer struct {
	ts       *httptest.Server
	dials    atomic.Int64
	mu       sync.Mutex
	conns    []*websocket.Conn
	onAdmit  func(conn *websocket.Conn)
	upgrader websocket.Upgrader
}

func newChannelTestServer(t *testing.T) *channelTestServer {
	t.Helper()

	s := &channelTestServer{}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.dials.Add(1)

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		conn.WriteJSON(&model.ServerFrame{Type: model.FrameConnected, UserID: 2})
		if s.onAdmit != nil {
			s.onAdmit(conn)
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *channelTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws?token=test"
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChannelConnectAndDemux(t *testing.T) {
	env := sealTestEnvelope()
	srv := newChannelTestServer(t)
	srv.onAdmit = func(conn *websocket.Conn) {
		conn.WriteJSON(&model.ServerFrame{Type: model.FrameMessage, Message: env, SenderPublicKey: "cGs="})
		conn.WriteJSON(&model.ServerFrame{Type: model.FrameMessageAck, MessageID: 11, CorrelationID: "corr"})
		conn.WriteJSON(&model.ServerFrame{Type: model.FrameError, Error: "boom"})
	}

	var (
		mu          sync.Mutex
		connectedID int64
		gotMessage  *model.MessageEnvelope
		gotAckID    int64
		gotAckCorr  string
		gotError    string
	)

	ch := NewChannel(srv.url(), ChannelHandlers{
		OnConnected: func(userID int64) {
			mu.Lock()
			connectedID = userID
			mu.Unlock()
		},
		OnMessage: func(env *model.MessageEnvelope, _ string) {
			mu.Lock()
			gotMessage = env
			mu.Unlock()
		},
		OnAck: func(corr string, id int64) {
			mu.Lock()
			gotAckCorr, gotAckID = corr, id
			mu.Unlock()
		},
		OnError: func(reason string) {
			mu.Lock()
			gotError = reason
			mu.Unlock()
		},
	})
	defer ch.Close()

	ch.Connect()

	waitFor(t, "all frames demuxed", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectedID == 2 && gotMessage != nil && gotAckID == 11 && gotError != ""
	})

	mu.Lock()
	defer mu.Unlock()
	if gotMessage.ID != env.ID {
		t.Fatalf("unexpected envelope id %d", gotMessage.ID)
	}
	if gotAckCorr != "corr" {
		t.Fatalf("unexpected ack correlation id %q", gotAckCorr)
	}
	if gotError != "boom" {
		t.Fatalf("unexpected error reason %q", gotError)
	}
	if ch.State() != Connected {
		t.Fatalf("expected connected state, got %s", ch.State())
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ch := NewChannel("ws://127.0.0.1:1/ws", ChannelHandlers{})
	ch.maxAttempts = 0

	if err := ch.Send(&model.SendFrame{Type: model.FrameSend}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDuplicateConnectSuppressed(t *testing.T) {
	srv := newChannelTestServer(t)

	ch := NewChannel(srv.url(), ChannelHandlers{})
	defer ch.Close()

	ch.Connect()
	waitFor(t, "first connection", func() bool { return ch.State() == Connected })

	// Further triggers while connected must not open a second socket.
	ch.Connect()
	ch.Connect()
	time.Sleep(100 * time.Millisecond)

	if n := srv.dials.Load(); n != 1 {
		t.Fatalf("expected 1 dial, got %d", n)
	}
}

func TestHandleClearedOnServerClose(t *testing.T) {
	srv := newChannelTestServer(t)

	ch := NewChannel(srv.url(), ChannelHandlers{})
	ch.maxAttempts = 0 // no reconnect for this test
	defer ch.Close()

	ch.Connect()
	waitFor(t, "connection", func() bool { return ch.State() == Connected })

	srv.mu.Lock()
	srv.conns[0].Close()
	srv.mu.Unlock()

	waitFor(t, "disconnect", func() bool { return ch.State() == Disconnected })

	if err := ch.Send(&model.SendFrame{Type: model.FrameSend}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestReconnectWithBackoffAfterDrop(t *testing.T) {
	srv := newChannelTestServer(t)

	ch := NewChannel(srv.url(), ChannelHandlers{})
	ch.backoffBase = 20 * time.Millisecond
	defer ch.Close()

	ch.Connect()
	waitFor(t, "first connection", func() bool { return srv.dials.Load() == 1 })

	srv.mu.Lock()
	srv.conns[0].Close()
	srv.mu.Unlock()

	waitFor(t, "supervised reconnect", func() bool { return srv.dials.Load() == 2 })
	waitFor(t, "reconnected state", func() bool { return ch.State() == Connected })
}

func sealTestEnvelope() *model.MessageEnvelope {
	return &model.MessageEnvelope{
		ID:               5,
		SenderID:         1,
		ReceiverID:       2,
		EncryptedContent: "Y3Q=",
		EncryptedKey:     "a2V5",
		IV:               "aXY=",
		CreatedAt:        time.Now(),
	}
}
