package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/config"
	"github.com/Tyrowin/livechat/internal/storage"
	"github.com/gorilla/websocket"
)

// Deps are the collaborators an App is built from.
type Deps struct {
	Hub      *Hub
	Router   *Router
	Store    storage.Store
	Verifier auth.Verifier
	Issuer   auth.Issuer
}

// App holds the HTTP surface: the websocket handshake, the account API and
// the durable message API.
type App struct {
	hub      *Hub
	router   *Router
	store    storage.Store
	verifier auth.Verifier
	issuer   auth.Issuer
	cfg      config.Config
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewApp(cfg config.Config, deps Deps, log *slog.Logger) *App {
	log = log.With("component", "http")
	origins := newOriginPolicy(cfg.Origins(), log)
	return &App{
		hub:      deps.Hub,
		router:   deps.Router,
		store:    deps.Store,
		verifier: deps.Verifier,
		issuer:   deps.Issuer,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		log: log,
	}
}

type identityKey struct{}

func withIdentity(ctx context.Context, id chat.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) chat.Identity {
	id, _ := ctx.Value(identityKey{}).(chat.Identity)
	return id
}

// WebSocketHandler authenticates the request and upgrades it. The token is
// checked before the upgrade, so a rejected attempt never touches the hub.
func (a *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	id, err := a.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		a.log.Info("Rejected websocket handshake", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("WebSocket upgrade failed", "user_id", id, "error", err)
		return
	}

	client := NewClient(id, conn, a.hub, r.RemoteAddr, a.cfg)
	if superseded := a.hub.Register(id, client); superseded != nil {
		a.log.Info("Closing superseded connection", "user_id", id, "addr", superseded.addr)
		superseded.close()
	}
}

// protect resolves the caller's identity or answers 401.
func (a *App) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := a.verifier.Verify(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized - Invalid Token")
			return
		}
		next(w, r.WithContext(withIdentity(r.Context(), id)))
	}
}

// Signup creates an account and opens a session.
func (a *App) Signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := auth.ValidateSignup(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.log.Error("Failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	user, err := a.store.CreateUser(r.Context(), storage.UserRecord{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
	})
	if errors.Is(err, chat.ErrUserExists) {
		writeError(w, http.StatusBadRequest, "Email already exists")
		return
	}
	if err != nil {
		a.log.Error("Failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if !a.startSession(w, r, user.ID) {
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Signin checks credentials and opens a session.
func (a *App) Signin(w http.ResponseWriter, r *http.Request) {
	var req auth.SigninRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := auth.ValidateSignin(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := a.authenticate(r.Context(), req)
	if errors.Is(err, chat.ErrInvalidCredentials) {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if err != nil {
		a.log.Error("Failed to load user", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if !a.startSession(w, r, record.ID) {
		return
	}
	writeJSON(w, http.StatusOK, record.Public())
}

// authenticate returns chat.ErrInvalidCredentials for an unknown email and
// for a wrong password alike.
func (a *App) authenticate(ctx context.Context, req auth.SigninRequest) (storage.UserRecord, error) {
	record, err := a.store.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, chat.ErrNotFound) {
		return storage.UserRecord{}, chat.ErrInvalidCredentials
	}
	if err != nil {
		return storage.UserRecord{}, err
	}
	ok, err := auth.ComparePassword(req.Password, record.PasswordHash)
	if err != nil || !ok {
		return storage.UserRecord{}, chat.ErrInvalidCredentials
	}
	return record, nil
}

func (a *App) startSession(w http.ResponseWriter, r *http.Request, id chat.Identity) bool {
	token, err := a.issuer.Issue(id)
	if err != nil {
		a.log.Error("Failed to issue token", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return false
	}
	http.SetCookie(w, auth.SessionCookie(token, a.cfg.TokenTTL, r.TLS != nil))
	return true
}

// Logout clears the session cookie.
func (a *App) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, auth.ClearedCookie())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Check returns the caller's account.
func (a *App) Check(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.GetUser(r.Context(), identityFrom(r.Context()))
	if errors.Is(err, chat.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "Unauthorized - User not found")
		return
	}
	if err != nil {
		a.log.Error("Failed to load user", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Users lists everyone except the caller.
func (a *App) Users(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context(), identityFrom(r.Context()))
	if err != nil {
		a.log.Error("Failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if users == nil {
		users = []chat.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// History returns the conversation between the caller and {id}, oldest first.
func (a *App) History(w http.ResponseWriter, r *http.Request) {
	me := identityFrom(r.Context())
	peer := chat.Identity(r.PathValue("id"))

	messages, err := a.store.FetchHistory(r.Context(), me, peer)
	if err != nil {
		a.log.Error("Failed to fetch history", "user_id", me, "peer_id", peer, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// Send persists a message to {id}, then pushes it live if they are online.
// The push outcome never changes the response.
func (a *App) Send(w http.ResponseWriter, r *http.Request) {
	me := identityFrom(r.Context())
	peer := chat.Identity(r.PathValue("id"))

	var payload chat.Payload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := a.store.Persist(r.Context(), chat.NewMessage(me, peer, payload))
	if err != nil {
		a.log.Error("Failed to persist message", "user_id", me, "peer_id", peer, "error", err)
		writeError(w, http.StatusInternalServerError, chat.ErrSendFailure.Error())
		return
	}

	a.router.Deliver(r.Context(), msg)
	writeJSON(w, http.StatusCreated, msg)
}

// Delete removes one of the caller's own messages.
func (a *App) Delete(w http.ResponseWriter, r *http.Request) {
	me := identityFrom(r.Context())
	id := r.PathValue("id")

	err := a.removeOwned(r.Context(), me, id)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "Only the sender can delete a message")
	case err != nil:
		a.log.Error("Failed to delete message", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Message deleted"})
	}
}

// removeOwned deletes message id if me sent it, else returns chat.ErrForbidden.
func (a *App) removeOwned(ctx context.Context, me chat.Identity, id string) error {
	msg, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID != me {
		return fmt.Errorf("%w: message %s belongs to %s", chat.ErrForbidden, id, msg.SenderID)
	}
	return a.store.Remove(ctx, id)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "livechat server is running!")
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
