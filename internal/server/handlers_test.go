package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/config"
	"github.com/Tyrowin/livechat/internal/mocks"
	"github.com/Tyrowin/livechat/internal/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type handlerFixture struct {
	app      *App
	hub      *Hub
	store    *mocks.MockStore
	verifier *mocks.MockVerifier
	mux      *http.ServeMux
}

func newHandlerFixture(t *testing.T) handlerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	verifier := mocks.NewMockVerifier(ctrl)
	hub := newTestHub(t)
	cfg := config.Default()

	app := NewApp(cfg, Deps{
		Hub:      hub,
		Router:   NewRouter(hub, nil, testLogger()),
		Store:    store,
		Verifier: verifier,
		Issuer:   auth.NewJWT(cfg.JWTSecret, cfg.TokenTTL),
	}, testLogger())
	return handlerFixture{app: app, hub: hub, store: store, verifier: verifier, mux: app.SetupRoutes()}
}

func (f handlerFixture) serve(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)
	return rec
}

func authorized(r *http.Request) *http.Request {
	r.Header.Set("Authorization", "Bearer good-token")
	return r
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["message"]
}

func TestHealthHandler(t *testing.T) {
	f := newHandlerFixture(t)
	for _, path := range []string{"/", "/health"} {
		rec := f.serve(httptest.NewRequest(http.MethodGet, path, http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
		require.Contains(t, rec.Body.String(), "running")
	}
}

func TestWebSocketHandler_RejectsInvalidToken(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	f.verifier.EXPECT().Verify("expired").Return(chat.Identity(""), fmt.Errorf("%w: token is expired", chat.ErrAuth))

	r := httptest.NewRequest(http.MethodGet, "/ws?token=expired", http.NoBody)
	r.Header.Set("Origin", testOriginURL)
	rec := f.serve(r)

	req.Equal(http.StatusUnauthorized, rec.Code)
	req.Empty(f.hub.SnapshotIdentities())
}

func TestWebSocketHandler_RejectsNonGet(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.serve(httptest.NewRequest(http.MethodPost, "/ws", http.NoBody))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProtect_RejectsMissingToken(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	f.verifier.EXPECT().Verify("").Return(chat.Identity(""), chat.ErrAuth)

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/api/messages/users", http.NoBody))
	req.Equal(http.StatusUnauthorized, rec.Code)
	req.Equal("Unauthorized - Invalid Token", decodeMessage(t, rec))
}

func TestSend(t *testing.T) {
	t.Run("invalid payload is rejected before storage", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u1"), nil)

		rec := f.serve(authorized(newJSONRequest(t, http.MethodPost, "/api/messages/send/u2", `{}`)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("persist failure is a send failure", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u1"), nil)
		f.store.EXPECT().Persist(gomock.Any(), gomock.Any()).Return(chat.Message{}, errors.New("disk full"))

		rec := f.serve(authorized(newJSONRequest(t, http.MethodPost, "/api/messages/send/u2", `{"text":"hi"}`)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, chat.ErrSendFailure.Error(), decodeMessage(t, rec))
	})

	t.Run("persisted message is returned and pushed", func(t *testing.T) {
		req := require.New(t)
		f := newHandlerFixture(t)
		recipient := newHandle(f.hub, "u2")
		f.hub.Register("u2", recipient)
		nextEvent(t, recipient)

		f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u1"), nil)
		f.store.EXPECT().Persist(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, m chat.Message) (chat.Message, error) {
				req.Equal(chat.Identity("u1"), m.SenderID)
				req.Equal(chat.Identity("u2"), m.ReceiverID)
				m.ID = "m1"
				return m, nil
			})

		rec := f.serve(authorized(newJSONRequest(t, http.MethodPost, "/api/messages/send/u2", `{"text":"hi"}`)))
		req.Equal(http.StatusCreated, rec.Code)

		var got chat.Message
		req.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
		req.Equal("m1", got.ID)
		req.Equal("m1", messageOf(t, nextEvent(t, recipient)).ID)
	})
}

func TestDelete(t *testing.T) {
	own := chat.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hi"}

	t.Run("unknown id is not found", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u1"), nil)
		f.store.EXPECT().Get(gomock.Any(), "zzz").Return(chat.Message{}, chat.ErrNotFound)

		rec := f.serve(authorized(httptest.NewRequest(http.MethodDelete, "/api/messages/zzz", http.NoBody)))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("only the sender may delete", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u2"), nil)
		f.store.EXPECT().Get(gomock.Any(), "m1").Return(own, nil)

		rec := f.serve(authorized(httptest.NewRequest(http.MethodDelete, "/api/messages/m1", http.NoBody)))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("sender deletes", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u1"), nil)
		gomock.InOrder(
			f.store.EXPECT().Get(gomock.Any(), "m1").Return(own, nil),
			f.store.EXPECT().Remove(gomock.Any(), "m1").Return(nil),
		)

		rec := f.serve(authorized(httptest.NewRequest(http.MethodDelete, "/api/messages/m1", http.NoBody)))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("concurrent removal is not found", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u1"), nil)
		f.store.EXPECT().Get(gomock.Any(), "m1").Return(own, nil)
		f.store.EXPECT().Remove(gomock.Any(), "m1").Return(chat.ErrNotFound)

		rec := f.serve(authorized(httptest.NewRequest(http.MethodDelete, "/api/messages/m1", http.NoBody)))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHistoryAndUsers(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	f.verifier.EXPECT().Verify("good-token").Return(chat.Identity("u1"), nil).Times(2)
	f.store.EXPECT().FetchHistory(gomock.Any(), chat.Identity("u1"), chat.Identity("u2")).Return(nil, nil)
	f.store.EXPECT().ListUsers(gomock.Any(), chat.Identity("u1")).Return([]chat.User{{ID: "u2", FullName: "Bob"}}, nil)

	rec := f.serve(authorized(httptest.NewRequest(http.MethodGet, "/api/messages/u2", http.NoBody)))
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`[]`, rec.Body.String())

	rec = f.serve(authorized(httptest.NewRequest(http.MethodGet, "/api/messages/users", http.NoBody)))
	req.Equal(http.StatusOK, rec.Code)
	var users []chat.User
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &users))
	req.Len(users, 1)
	req.Equal(chat.Identity("u2"), users[0].ID)
}

func TestSignupAndSignin(t *testing.T) {
	t.Run("signup validates input", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := f.serve(newJSONRequest(t, http.MethodPost, "/api/auth/signup",
			`{"fullName":"Al","email":"al@example.com","password":"secret1"}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("signup rejects taken email", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.store.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return(chat.User{}, chat.ErrUserExists)

		rec := f.serve(newJSONRequest(t, http.MethodPost, "/api/auth/signup",
			`{"fullName":"Alice","email":"alice@example.com","password":"secret1"}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "Email already exists", decodeMessage(t, rec))
	})

	t.Run("signup sets the session cookie", func(t *testing.T) {
		req := require.New(t)
		f := newHandlerFixture(t)
		f.store.EXPECT().CreateUser(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, u storage.UserRecord) (chat.User, error) {
				req.NotEqual("secret1", u.PasswordHash)
				u.ID = "u1"
				return u.Public(), nil
			})

		rec := f.serve(newJSONRequest(t, http.MethodPost, "/api/auth/signup",
			`{"fullName":"Alice","email":"alice@example.com","password":"secret1"}`))
		req.Equal(http.StatusCreated, rec.Code)
		cookies := rec.Result().Cookies()
		req.Len(cookies, 1)
		req.Equal(auth.CookieName, cookies[0].Name)
		req.True(cookies[0].HttpOnly)
	})

	t.Run("signin with wrong password", func(t *testing.T) {
		f := newHandlerFixture(t)
		hash, err := auth.HashPassword("secret1")
		require.NoError(t, err)
		f.store.EXPECT().GetUserByEmail(gomock.Any(), "alice@example.com").
			Return(storage.UserRecord{ID: "u1", Email: "alice@example.com", PasswordHash: hash}, nil)

		rec := f.serve(newJSONRequest(t, http.MethodPost, "/api/auth/signin",
			`{"email":"alice@example.com","password":"wrong-password"}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "Invalid credentials", decodeMessage(t, rec))
	})

	t.Run("logout clears the cookie", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/logout", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, -1, cookies[0].MaxAge)
	})
}

func TestRemoveOwned_ReportsForbidden(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	f.store.EXPECT().Get(gomock.Any(), "m1").Return(chat.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2"}, nil)

	err := f.app.removeOwned(context.Background(), "u2", "m1")
	req.ErrorIs(err, chat.ErrForbidden)
}

func TestAuthenticate_ReportsInvalidCredentials(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	hash, err := auth.HashPassword("secret1")
	req.NoError(err)
	gomock.InOrder(
		f.store.EXPECT().GetUserByEmail(gomock.Any(), "ghost@example.com").Return(storage.UserRecord{}, chat.ErrNotFound),
		f.store.EXPECT().GetUserByEmail(gomock.Any(), "alice@example.com").
			Return(storage.UserRecord{ID: "u1", PasswordHash: hash}, nil),
	)

	_, err = f.app.authenticate(context.Background(), auth.SigninRequest{Email: "ghost@example.com", Password: "secret1"})
	req.ErrorIs(err, chat.ErrInvalidCredentials)
	_, err = f.app.authenticate(context.Background(), auth.SigninRequest{Email: "alice@example.com", Password: "wrong-pass"})
	req.ErrorIs(err, chat.ErrInvalidCredentials)
}
