package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"fitchat/internal/model"
)

// ChatAPI is the HTTP side of the server: login, the key directory,
// the friend graph write and the message-history collaborator.
type ChatAPI struct {
	host   string
	token  string
	client *http.Client
}

func NewChatAPI(host string) *ChatAPI {
	return &ChatAPI{
		host:   host,
		client: http.DefaultClient,
	}
}

// Token returns the session token obtained at login.
func (a *ChatAPI) Token() string {
	return a.token
}

// Login exchanges a username for a session and remembers the token for
// subsequent calls.
func (a *ChatAPI) Login(ctx context.Context, name string) (int64, error) {
	var out struct {
		UserID int64  `json:"userId"`
		Token  string `json:"token"`
	}
	if err := a.do(ctx, http.MethodPost, "/login", map[string]string{"name": name}, &out); err != nil {
		return 0, err
	}
	a.token = out.Token
	return out.UserID, nil
}

func (a *ChatAPI) PublishKey(ctx context.Context, publicKey string) error {
	return a.do(ctx, http.MethodPost, "/keys", map[string]string{"publicKey": publicKey}, nil)
}

// PeerPublicKey fetches the receiver's public key from the directory.
// Message keys are always wrapped against this key, never the sender's.
func (a *ChatAPI) PeerPublicKey(ctx context.Context, peerID int64) (string, error) {
	var out struct {
		UserID    int64  `json:"userId"`
		PublicKey string `json:"publicKey"`
	}
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/keys/%d", peerID), nil, &out); err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

func (a *ChatAPI) ResolveUser(ctx context.Context, name string) (*model.User, error) {
	var user model.User
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s", url.PathEscape(name)), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *ChatAPI) Befriend(ctx context.Context, peerID int64) error {
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/friends/%d", peerID), nil, nil)
}

// Conversation fetches the stored envelopes with the peer, oldest first.
func (a *ChatAPI) Conversation(ctx context.Context, peerID int64) ([]*model.MessageEnvelope, error) {
	var envelopes []*model.MessageEnvelope
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d", peerID), nil, &envelopes); err != nil {
		return nil, err
	}
	return envelopes, nil
}

// MarkRead is the read-receipt endpoint.
func (a *ChatAPI) MarkRead(ctx context.Context, messageID int64) error {
	return a.do(ctx, http.MethodPatch, fmt.Sprintf("/messages/%d/read", messageID), nil, nil)
}

// WebsocketURL builds the chat channel dial URI carrying the session
// token.
func (a *ChatAPI) WebsocketURL() string {
	u := url.URL{
		Scheme:   "ws",
		Host:     a.host,
		Path:     "/ws",
		RawQuery: url.Values{"token": []string{a.token}}.Encode(),
	}
	return u.String()
}

func (a *ChatAPI) do(ctx context.Context, method, path string, body, out any) error {
	u := url.URL{
		Scheme: "http",
		Host:   a.host,
		Path:   path,
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
