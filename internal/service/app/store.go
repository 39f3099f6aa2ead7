package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fitchat/internal/cryptographic/codec"
	"fitchat/internal/keymanager"
	"fitchat/internal/model"

	"github.com/google/uuid"
)

// DecryptErrorPlaceholder is rendered for a message whose key could not
// be unwrapped or whose ciphertext failed authentication. The entry is
// kept so ordering and count survive a bad message.
const DecryptErrorPlaceholder = "[Decryption error]"

type (
	// HistoryClient is the message-history collaborator: a bounded
	// conversation fetch and the read-receipt endpoint.
	HistoryClient interface {
		Conversation(ctx context.Context, peerID int64) ([]*model.MessageEnvelope, error)
		MarkRead(ctx context.Context, messageID int64) error
	}

	// ConversationStore is the client-side index of decrypted messages
	// keyed by peer user id. It is the only read surface the UI
	// consumes. All mutations serialize on one mutex, so a history
	// load can never interleave with a live append.
	ConversationStore struct {
		selfID  int64
		keys    *keymanager.Manager
		history HistoryClient

		mu            sync.Mutex
		conversations map[int64][]model.DecryptedMessage
		peerKeys      map[int64]string
		nextLocalID   int64
	}
)

func NewConversationStore(selfID int64, keys *keymanager.Manager, history HistoryClient) *ConversationStore {
	return &ConversationStore{
		selfID:        selfID,
		keys:          keys,
		history:       history,
		conversations: make(map[int64][]model.DecryptedMessage),
		peerKeys:      make(map[int64]string),
	}
}

// LoadHistory fetches the persisted conversation with peerID, decrypts
// the batch concurrently and replaces the peer's sequence wholesale.
// Results are reassembled in fetch order, not completion order; a
// message that fails to decrypt becomes a placeholder without touching
// its siblings.
func (s *ConversationStore) LoadHistory(ctx context.Context, peerID int64) error {
	envelopes, err := s.history.Conversation(ctx, peerID)
	if err != nil {
		return fmt.Errorf("fetch conversation: %w", err)
	}

	decrypted := make([]model.DecryptedMessage, len(envelopes))
	var wg sync.WaitGroup
	for i, env := range envelopes {
		wg.Add(1)
		go func(i int, env *model.MessageEnvelope) {
			defer wg.Done()
			decrypted[i] = s.decryptEnvelope(env)
		}(i, env)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[peerID] = decrypted
	return nil
}

// AppendIncoming decrypts one live-pushed envelope with the local
// private key and appends it under the sender's peer id. Strict append;
// existing entries are never replaced.
func (s *ConversationStore) AppendIncoming(env *model.MessageEnvelope, senderPublicKey string) {
	msg := s.decryptEnvelope(env)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[env.SenderID] = append(s.conversations[env.SenderID], msg)
	if senderPublicKey != "" {
		s.peerKeys[env.SenderID] = senderPublicKey
	}
}

// AppendOptimisticSent records the sender's own message before any
// server round trip, with a provisional negative id and a correlation
// id the ack will carry back.
func (s *ConversationStore) AppendOptimisticSent(plaintext string, receiverID int64) string {
	correlationID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLocalID--
	s.conversations[receiverID] = append(s.conversations[receiverID], model.DecryptedMessage{
		ID:            s.nextLocalID,
		CorrelationID: correlationID,
		SenderID:      s.selfID,
		ReceiverID:    receiverID,
		Content:       plaintext,
		CreatedAt:     time.Now(),
		Pending:       true,
	})
	return correlationID
}

// ResolveAck promotes the optimistic entry matching correlationID to
// its persisted id, in place. Without this the server echo would
// double-count the sender's own message.
func (s *ConversationStore) ResolveAck(correlationID string, messageID int64) bool {
	if correlationID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for peerID, seq := range s.conversations {
		for i := range seq {
			if seq[i].CorrelationID == correlationID {
				seq[i].ID = messageID
				seq[i].Pending = false
				s.conversations[peerID] = seq
				return true
			}
		}
	}
	return false
}

// MarkRead flips the local read flag and notifies the read-receipt
// endpoint.
func (s *ConversationStore) MarkRead(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	for _, seq := range s.conversations {
		for i := range seq {
			if seq[i].ID == messageID {
				seq[i].IsRead = true
			}
		}
	}
	s.mu.Unlock()

	return s.history.MarkRead(ctx, messageID)
}

// Messages returns a snapshot of the peer's sequence in arrival order.
func (s *ConversationStore) Messages(peerID int64) []model.DecryptedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.conversations[peerID]
	out := make([]model.DecryptedMessage, len(seq))
	copy(out, seq)
	return out
}

// PeerKey returns the last public key seen from a live push by this
// peer, if any.
func (s *ConversationStore) PeerKey(peerID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.peerKeys[peerID]
	return key, ok
}

func (s *ConversationStore) decryptEnvelope(env *model.MessageEnvelope) model.DecryptedMessage {
	msg := model.DecryptedMessage{
		ID:         env.ID,
		SenderID:   env.SenderID,
		ReceiverID: env.ReceiverID,
		CreatedAt:  env.CreatedAt,
		IsRead:     env.IsRead,
	}

	plaintext, err := s.openEnvelope(env)
	if err != nil {
		msg.Content = DecryptErrorPlaceholder
		return msg
	}
	msg.Content = plaintext
	return msg
}

func (s *ConversationStore) openEnvelope(env *model.MessageEnvelope) (string, error) {
	// Our own sent messages carry a second wrap of the key addressed to
	// us; everything else uses the receiver-addressed wrap.
	wrappedB64 := env.EncryptedKey
	if env.SenderID == s.selfID && env.SenderEncryptedKey != "" {
		wrappedB64 = env.SenderEncryptedKey
	}

	wrapped, err := codec.DecodeBytes(wrappedB64)
	if err != nil {
		return "", err
	}
	ciphertext, err := codec.DecodeBytes(env.EncryptedContent)
	if err != nil {
		return "", err
	}
	iv, err := codec.DecodeBytes(env.IV)
	if err != nil {
		return "", err
	}

	key, err := s.keys.UnwrapKey(wrapped)
	if err != nil {
		return "", err
	}

	plaintext, err := codec.Decrypt(ciphertext, key, iv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
