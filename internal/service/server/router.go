package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"fitchat/internal/model"
	"fitchat/internal/registry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsChannel wraps a websocket connection so concurrent pushes (router
// fan-in and the receiver's own ack path) cannot interleave writes.
type wsChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsChannel) Push(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}

// HandleChatWS admits a chat connection: the session token on the URI
// must resolve to a user id before the upgrade, then the connection is
// registered (displacing any prior one for that user) and the frame
// loop starts.
func (s *HttpServer) HandleChatWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.sessions.Resolve(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		ch := &wsChannel{conn: conn}
		if prev := s.registry.Register(userID, ch); prev != nil {
			prev.Close()
		}
		s.metrics.incConnection()
		s.logger.Info("chat connection admitted", zap.Int64("userID", userID))

		if err := ch.Push(&model.ServerFrame{Type: model.FrameConnected, UserID: userID}); err != nil {
			s.logger.Error("connected frame failed", zap.Int64("userID", userID), zap.Error(err))
		}

		go s.processFrames(userID, ch)
	}
}

func (s *HttpServer) processFrames(userID int64, ch *wsChannel) {
	defer func() {
		if s.registry.Deregister(userID, ch) {
			s.metrics.decConnection()
		}
		ch.Close()
	}()

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("chat connection closed", zap.Int64("userID", userID), zap.Error(err))
			return
		}

		var frame model.SendFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.metrics.frameErrors.Inc()
			s.pushError(ch, "malformed frame")
			continue
		}
		if frame.Type != model.FrameSend {
			s.metrics.frameErrors.Inc()
			s.pushError(ch, "unsupported frame type")
			continue
		}

		// Per-frame failures answer the originating connection only;
		// the loop itself never dies on them.
		s.routeSend(context.Background(), userID, &frame, ch)
	}
}

// routeSend is the delivery path for one send frame: authorize, persist,
// forward to the receiver if live, always ack the sender. The sender id
// comes from the authenticated connection, never from the frame.
func (s *HttpServer) routeSend(ctx context.Context, senderID int64, frame *model.SendFrame, ch registry.Channel) {
	authorized, err := s.friends.Authorized(ctx, senderID, frame.ReceiverID)
	if err != nil {
		s.logger.Error("authorization check failed", zap.Error(err))
		s.pushError(ch, "send failed")
		return
	}
	if !authorized {
		s.metrics.recordRejection("unauthorized")
		s.pushError(ch, "not authorized to message this user")
		return
	}

	env := &model.MessageEnvelope{
		SenderID:           senderID,
		ReceiverID:         frame.ReceiverID,
		EncryptedContent:   frame.Content.EncryptedContent,
		EncryptedKey:       frame.Content.EncryptedKey,
		SenderEncryptedKey: frame.Content.SenderEncryptedKey,
		IV:                 frame.Content.IV,
		IsRead:             false,
	}

	messageID, err := s.messages.Insert(ctx, env)
	if err != nil {
		s.logger.Error("persist envelope failed", zap.Error(err))
		s.pushError(ch, "send failed")
		return
	}
	s.metrics.messagesStored.Inc()

	// Best-effort live push; an offline receiver picks the message up
	// from a later history fetch.
	if receiver, ok := s.registry.Lookup(frame.ReceiverID); ok {
		pushErr := receiver.Push(&model.ServerFrame{
			Type:            model.FrameMessage,
			Message:         env,
			SenderPublicKey: frame.PublicKey,
		})
		if pushErr != nil {
			s.logger.Debug("live push failed", zap.Int64("receiverID", frame.ReceiverID), zap.Error(pushErr))
		} else {
			s.metrics.messagesDelivered.Inc()
		}
	}

	if err := ch.Push(&model.ServerFrame{
		Type:          model.FrameMessageAck,
		MessageID:     messageID,
		CorrelationID: frame.CorrelationID,
	}); err != nil {
		s.logger.Debug("ack push failed", zap.Int64("senderID", senderID), zap.Error(err))
	}
}

func (s *HttpServer) pushError(ch registry.Channel, reason string) {
	if err := ch.Push(&model.ServerFrame{Type: model.FrameError, Error: reason}); err != nil {
		s.logger.Debug("error frame push failed", zap.Error(err))
	}
}
