package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fitchat/internal/model"
	"fitchat/internal/registry"
	"fitchat/internal/service/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type (
	// SessionResolver maps opaque session tokens to user ids. Sessions
	// themselves are owned by the surrounding application.
	SessionResolver interface {
		Resolve(ctx context.Context, token string) (int64, error)
		Create(ctx context.Context, userID int64) (string, error)
	}

	// UserStore is the user directory, including published public keys.
	UserStore interface {
		GetByName(ctx context.Context, name string) (*model.User, error)
		Create(ctx context.Context, user *model.User) (int64, error)
		SetPublicKey(ctx context.Context, userID int64, publicKey string) error
		PublicKey(ctx context.Context, userID int64) (string, error)
	}

	// EnvelopeStore persists encrypted message envelopes. The server
	// never sees plaintext.
	EnvelopeStore interface {
		Insert(ctx context.Context, env *model.MessageEnvelope) (int64, error)
		Conversation(ctx context.Context, userA, userB int64) ([]*model.MessageEnvelope, error)
		MarkRead(ctx context.Context, messageID, readerID int64) error
	}

	// FriendGraph authorizes sender->receiver pairs.
	FriendGraph interface {
		Authorized(ctx context.Context, userA, userB int64) (bool, error)
		Befriend(ctx context.Context, userA, userB int64) error
	}

	HttpServer struct {
		registry *registry.ConnectionRegistry
		users    UserStore
		messages EnvelopeStore
		sessions SessionResolver
		friends  FriendGraph
		metrics  *chatMetrics
		logger   *zap.Logger
	}
)

func NewHttpServer(
	users UserStore,
	messages EnvelopeStore,
	sessions SessionResolver,
	friends FriendGraph,
	logger *zap.Logger,
	promReg prometheus.Registerer,
) *HttpServer {
	return &HttpServer{
		registry: registry.New(),
		users:    users,
		messages: messages,
		sessions: sessions,
		friends:  friends,
		metrics:  newChatMetrics(promReg),
		logger:   logger,
	}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/login", s.HandleLogin()).Methods(http.MethodPost)
	r.HandleFunc("/users/{name}", s.HandleGetUser()).Methods(http.MethodGet)
	r.HandleFunc("/keys", s.HandlePublishKey()).Methods(http.MethodPost)
	r.HandleFunc("/keys/{userID}", s.HandleGetKey()).Methods(http.MethodGet)
	r.HandleFunc("/friends/{peerID}", s.HandleBefriend()).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{peerID}", s.HandleConversation()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{messageID}/read", s.HandleMarkRead()).Methods(http.MethodPatch)
	r.HandleFunc("/ws", s.HandleChatWS())
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then drains within grace.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

// HandleLogin exchanges a username for a session token, creating the
// user on first sight. Real credential checking lives outside the chat
// core; this endpoint stands in for that collaborator.
func (s *HttpServer) HandleLogin() http.HandlerFunc {
	type request struct {
		Name string `json:"name"`
	}
	type response struct {
		UserID int64  `json:"userId"`
		Token  string `json:"token"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}

		user, err := s.users.GetByName(ctx, req.Name)
		if err != nil {
			s.logger.Error("login lookup failed", zap.Error(err))
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			user = &model.User{Name: req.Name}
			if _, err := s.users.Create(ctx, user); err != nil {
				s.logger.Error("create user failed", zap.Error(err))
				http.Error(w, "login failed", http.StatusInternalServerError)
				return
			}
		}

		token, err := s.sessions.Create(ctx, user.ID)
		if err != nil {
			s.logger.Error("create session failed", zap.Error(err))
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}

		s.writeJSON(w, http.StatusOK, response{UserID: user.ID, Token: token})
	}
}

// HandleGetUser resolves a username to its id and published key, so a
// client can address a peer it only knows by name.
func (s *HttpServer) HandleGetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if _, ok := s.authenticate(w, r); !ok {
			return
		}

		name := mux.Vars(r)["name"]
		user, err := s.users.GetByName(ctx, name)
		if err != nil {
			s.logger.Error("user lookup failed", zap.String("name", name), zap.Error(err))
			http.Error(w, "user lookup failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}

		s.writeJSON(w, http.StatusOK, user)
	}
}

// HandlePublishKey stores the caller's exported public key in the
// directory other users wrap message keys against.
func (s *HttpServer) HandlePublishKey() http.HandlerFunc {
	type request struct {
		PublicKey string `json:"publicKey"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := s.authenticate(w, r)
		if !ok {
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicKey == "" {
			http.Error(w, "publicKey is required", http.StatusBadRequest)
			return
		}

		if err := s.users.SetPublicKey(ctx, userID, req.PublicKey); err != nil {
			s.logger.Error("publish key failed", zap.Int64("userID", userID), zap.Error(err))
			http.Error(w, "publish key failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleGetKey is the recipient key directory: senders fetch the
// receiver's public key here so the wrapped message key can only be
// opened by the receiver.
func (s *HttpServer) HandleGetKey() http.HandlerFunc {
	type response struct {
		UserID    int64  `json:"userId"`
		PublicKey string `json:"publicKey"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if _, ok := s.authenticate(w, r); !ok {
			return
		}

		peerID, err := pathID(r, "userID")
		if err != nil {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}

		key, err := s.users.PublicKey(ctx, peerID)
		if err != nil {
			s.logger.Error("key lookup failed", zap.Int64("peerID", peerID), zap.Error(err))
			http.Error(w, "no published key for user", http.StatusNotFound)
			return
		}

		s.writeJSON(w, http.StatusOK, response{UserID: peerID, PublicKey: key})
	}
}

func (s *HttpServer) HandleBefriend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := s.authenticate(w, r)
		if !ok {
			return
		}

		peerID, err := pathID(r, "peerID")
		if err != nil || peerID == userID {
			http.Error(w, "invalid peer id", http.StatusBadRequest)
			return
		}

		if err := s.friends.Befriend(ctx, userID, peerID); err != nil {
			s.logger.Error("befriend failed", zap.Error(err))
			http.Error(w, "befriend failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleConversation returns the stored envelopes between the caller
// and the peer, oldest first. Decryption happens client-side.
func (s *HttpServer) HandleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := s.authenticate(w, r)
		if !ok {
			return
		}

		peerID, err := pathID(r, "peerID")
		if err != nil {
			http.Error(w, "invalid peer id", http.StatusBadRequest)
			return
		}

		envelopes, err := s.messages.Conversation(ctx, userID, peerID)
		if err != nil {
			s.logger.Error("conversation fetch failed", zap.Error(err))
			http.Error(w, "conversation fetch failed", http.StatusInternalServerError)
			return
		}
		if envelopes == nil {
			envelopes = []*model.MessageEnvelope{}
		}

		s.writeJSON(w, http.StatusOK, envelopes)
	}
}

func (s *HttpServer) HandleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := s.authenticate(w, r)
		if !ok {
			return
		}

		messageID, err := pathID(r, "messageID")
		if err != nil {
			http.Error(w, "invalid message id", http.StatusBadRequest)
			return
		}

		if err := s.messages.MarkRead(ctx, messageID, userID); err != nil {
			http.Error(w, "mark read failed", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// authenticate resolves the bearer token (header or ?token=) to a user
// id, writing a 401 on failure.
func (s *HttpServer) authenticate(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := s.sessions.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		if !errors.Is(err, session.ErrInvalidSession) {
			s.logger.Error("session resolve failed", zap.Error(err))
		}
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
