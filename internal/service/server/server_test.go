package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fitchat/internal/model"
	"fitchat/internal/service/session"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]*model.User)}
}

func (f *fakeUsers) GetByName(_ context.Context, name string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Name == name {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) Create(_ context.Context, user *model.User) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	user.ID = f.nextID
	copied := *user
	f.users[user.ID] = &copied
	return user.ID, nil
}

func (f *fakeUsers) SetPublicKey(_ context.Context, userID int64, publicKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("user %d not found", userID)
	}
	u.PublicKey = publicKey
	return nil
}

func (f *fakeUsers) PublicKey(_ context.Context, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.PublicKey == "" {
		return "", fmt.Errorf("no key for user %d", userID)
	}
	return u.PublicKey, nil
}

type fakeEnvelopes struct {
	mu     sync.Mutex
	nextID int64
	stored []*model.MessageEnvelope
}

func (f *fakeEnvelopes) Insert(_ context.Context, env *model.MessageEnvelope) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	env.ID = f.nextID
	env.CreatedAt = time.Now().UTC()
	copied := *env
	f.stored = append(f.stored, &copied)
	return env.ID, nil
}

func (f *fakeEnvelopes) Conversation(_ context.Context, userA, userB int64) ([]*model.MessageEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.MessageEnvelope
	for _, env := range f.stored {
		if (env.SenderID == userA && env.ReceiverID == userB) ||
			(env.SenderID == userB && env.ReceiverID == userA) {
			copied := *env
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeEnvelopes) MarkRead(_ context.Context, messageID, readerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range f.stored {
		if env.ID == messageID && env.ReceiverID == readerID {
			env.IsRead = true
			return nil
		}
	}
	return fmt.Errorf("message %d not found", messageID)
}

func (f *fakeEnvelopes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]int64)}
}

func (f *fakeSessions) Create(_ context.Context, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := fmt.Sprintf("token-%d-%d", userID, len(f.tokens))
	f.tokens[token] = userID
	return token, nil
}

func (f *fakeSessions) Resolve(_ context.Context, token string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tokens[token]
	if !ok {
		return 0, session.ErrInvalidSession
	}
	return id, nil
}

type fakeFriends struct {
	mu    sync.Mutex
	pairs map[[2]int64]bool
}

func newFakeFriends() *fakeFriends {
	return &fakeFriends{pairs: make(map[[2]int64]bool)}
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func (f *fakeFriends) Authorized(_ context.Context, a, b int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairs[pairKey(a, b)], nil
}

func (f *fakeFriends) Befriend(_ context.Context, a, b int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs[pairKey(a, b)] = true
	return nil
}

type testEnv struct {
	srv       *HttpServer
	ts        *httptest.Server
	sessions  *fakeSessions
	friends   *fakeFriends
	envelopes *fakeEnvelopes
	users     *fakeUsers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		sessions:  newFakeSessions(),
		friends:   newFakeFriends(),
		envelopes: &fakeEnvelopes{},
		users:     newFakeUsers(),
	}
	env.srv = NewHttpServer(
		env.users,
		env.envelopes,
		env.sessions,
		env.friends,
		zaptest.NewLogger(t),
		prometheus.NewRegistry(),
	)
	env.ts = httptest.NewServer(env.srv.Router())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws?token=" + token
}

func (e *testEnv) login(t *testing.T, name string) (int64, string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := http.Post(e.ts.URL+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}

	var out struct {
		UserID int64  `json:"userId"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return out.UserID, out.Token
}

func (e *testEnv) connect(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var frame model.ServerFrame
	readFrame(t, conn, &frame)
	if frame.Type != model.FrameConnected {
		t.Fatalf("expected connected frame, got %q", frame.Type)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, frame *model.ServerFrame) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, receiverID int64, correlationID string) {
	t.Helper()
	err := conn.WriteJSON(&model.SendFrame{
		Type:       model.FrameSend,
		ReceiverID: receiverID,
		Content: model.EncryptedContent{
			EncryptedContent: "Y2lwaGVydGV4dA==",
			EncryptedKey:     "d3JhcHBlZGtleQ==",
			IV:               "aXZpdml2aXZpdg==",
		},
		PublicKey:     "c2VuZGVyLXB1Yg==",
		CorrelationID: correlationID,
	})
	if err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("bogus"), nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestSendDeliveredToOnlineReceiver(t *testing.T) {
	env := newTestEnv(t)

	aliceID, aliceToken := env.login(t, "alice")
	bobID, bobToken := env.login(t, "bob")
	env.friends.Befriend(context.Background(), aliceID, bobID)

	alice := env.connect(t, aliceToken)
	bob := env.connect(t, bobToken)

	sendFrame(t, alice, bobID, "corr-1")

	var push model.ServerFrame
	readFrame(t, bob, &push)
	if push.Type != model.FrameMessage {
		t.Fatalf("expected message frame, got %q", push.Type)
	}
	if push.Message == nil || push.Message.SenderID != aliceID || push.Message.ReceiverID != bobID {
		t.Fatalf("unexpected envelope: %+v", push.Message)
	}
	if push.Message.IsRead {
		t.Fatal("new envelope must be unread")
	}
	if push.SenderPublicKey != "c2VuZGVyLXB1Yg==" {
		t.Fatalf("expected sender public key on push, got %q", push.SenderPublicKey)
	}

	var ack model.ServerFrame
	readFrame(t, alice, &ack)
	if ack.Type != model.FrameMessageAck {
		t.Fatalf("expected messageAck, got %q", ack.Type)
	}
	if ack.MessageID != push.Message.ID {
		t.Fatalf("ack id %d does not match pushed envelope id %d", ack.MessageID, push.Message.ID)
	}
	if ack.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation id echoed, got %q", ack.CorrelationID)
	}

	if env.envelopes.count() != 1 {
		t.Fatalf("expected 1 persisted envelope, got %d", env.envelopes.count())
	}
}

func TestUnauthorizedSendRejected(t *testing.T) {
	env := newTestEnv(t)

	_, aliceToken := env.login(t, "alice")
	bobID, _ := env.login(t, "bob")
	// No friendship established.

	alice := env.connect(t, aliceToken)
	sendFrame(t, alice, bobID, "corr-1")

	var frame model.ServerFrame
	readFrame(t, alice, &frame)
	if frame.Type != model.FrameError {
		t.Fatalf("expected error frame, got %q", frame.Type)
	}

	if env.envelopes.count() != 0 {
		t.Fatal("unauthorized send must not be persisted")
	}
}

func TestOfflineReceiverGetsHistoryOnly(t *testing.T) {
	env := newTestEnv(t)

	aliceID, aliceToken := env.login(t, "alice")
	bobID, bobToken := env.login(t, "bob")
	env.friends.Befriend(context.Background(), aliceID, bobID)

	alice := env.connect(t, aliceToken)
	sendFrame(t, alice, bobID, "corr-1")

	var ack model.ServerFrame
	readFrame(t, alice, &ack)
	if ack.Type != model.FrameMessageAck {
		t.Fatalf("expected messageAck even with offline receiver, got %q", ack.Type)
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+fmt.Sprintf("/conversations/%d", aliceID), nil)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status %d", resp.StatusCode)
	}

	var envelopes []*model.MessageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(envelopes) != 1 {
		t.Fatalf("expected 1 envelope in history, got %d", len(envelopes))
	}
	if envelopes[0].ID != ack.MessageID {
		t.Fatalf("history id %d does not match ack id %d", envelopes[0].ID, ack.MessageID)
	}
}

func TestRegistryChurnNoPushAfterClose(t *testing.T) {
	env := newTestEnv(t)

	aliceID, aliceToken := env.login(t, "alice")
	bobID, bobToken := env.login(t, "bob")
	env.friends.Befriend(context.Background(), aliceID, bobID)

	alice := env.connect(t, aliceToken)
	bob := env.connect(t, bobToken)
	bob.Close()

	// Wait for the server to notice the close and drop the registry entry.
	deadline := time.Now().Add(3 * time.Second)
	for env.srv.registry.Len() > 1 {
		if time.Now().After(deadline) {
			t.Fatal("registry entry for closed connection was never removed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sendFrame(t, alice, bobID, "corr-1")

	var ack model.ServerFrame
	readFrame(t, alice, &ack)
	if ack.Type != model.FrameMessageAck {
		t.Fatalf("expected messageAck, got %q", ack.Type)
	}
	if env.envelopes.count() != 1 {
		t.Fatalf("expected envelope persisted for offline receiver, got %d", env.envelopes.count())
	}
}

func TestLastConnectedWinsOnSecondHandshake(t *testing.T) {
	env := newTestEnv(t)

	aliceID, aliceToken := env.login(t, "alice")
	bobID, bobToken := env.login(t, "bob")
	env.friends.Befriend(context.Background(), aliceID, bobID)

	alice := env.connect(t, aliceToken)

	first := env.connect(t, bobToken)
	second := env.connect(t, bobToken)

	// The displaced connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected displaced connection to be closed")
	}

	sendFrame(t, alice, bobID, "corr-1")

	var push model.ServerFrame
	readFrame(t, second, &push)
	if push.Type != model.FrameMessage {
		t.Fatalf("expected message on newest connection, got %q", push.Type)
	}
}

func TestPublishAndFetchKey(t *testing.T) {
	env := newTestEnv(t)

	_, aliceToken := env.login(t, "alice")
	bobID, bobToken := env.login(t, "bob")

	body, _ := json.Marshal(map[string]string{"publicKey": "Ym9iLXB1YmxpYw=="})
	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/keys", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+bobToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("publish key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("publish status %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, env.ts.URL+fmt.Sprintf("/keys/%d", bobID), nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("fetch key: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status %d", resp.StatusCode)
	}

	var out struct {
		UserID    int64  `json:"userId"`
		PublicKey string `json:"publicKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode key response: %v", err)
	}
	if out.UserID != bobID || out.PublicKey != "Ym9iLXB1YmxpYw==" {
		t.Fatalf("unexpected key response: %+v", out)
	}
}

func TestMarkReadRequiresReceiver(t *testing.T) {
	env := newTestEnv(t)

	aliceID, aliceToken := env.login(t, "alice")
	bobID, bobToken := env.login(t, "bob")
	env.friends.Befriend(context.Background(), aliceID, bobID)

	alice := env.connect(t, aliceToken)
	sendFrame(t, alice, bobID, "corr-1")

	var ack model.ServerFrame
	readFrame(t, alice, &ack)

	// The sender cannot mark its own message read.
	req, _ := http.NewRequest(http.MethodPatch, env.ts.URL+fmt.Sprintf("/messages/%d/read", ack.MessageID), nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for non-receiver, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPatch, env.ts.URL+fmt.Sprintf("/messages/%d/read", ack.MessageID), nil)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for receiver, got %d", resp.StatusCode)
	}
}
