package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/stretchr/testify/require"
)

func TestJWT_IssueAndVerify(t *testing.T) {
	req := require.New(t)
	j := NewJWT("secret", time.Hour)

	token, err := j.Issue("user-1")
	req.NoError(err)

	id, err := j.Verify(token)
	req.NoError(err)
	req.Equal(chat.Identity("user-1"), id)
}

func TestJWT_Verify_Rejects(t *testing.T) {
	issued, err := NewJWT("secret", time.Hour).Issue("user-1")
	require.NoError(t, err)

	expired := NewJWT("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue("user-1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", mustIssue(t, NewJWT("other", time.Hour), "user-1")},
		{"expired", stale},
		{"tampered", tamper(t, issued)},
	}
	j := NewJWT("secret", time.Hour)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Verify(tt.token)
			require.ErrorIs(t, err, chat.ErrAuth)
		})
	}
}

// tamper swaps the claims segment for another user's while keeping the signature.
func tamper(t *testing.T, token string) string {
	other := strings.Split(mustIssue(t, NewJWT("secret", time.Hour), "user-2"), ".")
	parts := strings.Split(token, ".")
	return parts[0] + "." + other[1] + "." + parts[2]
}

func mustIssue(t *testing.T, j *JWT, id chat.Identity) string {
	t.Helper()
	token, err := j.Issue(id)
	require.NoError(t, err)
	return token
}

func TestTokenFromRequest(t *testing.T) {
	req := require.New(t)

	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	req.Equal("q", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	req.Equal("h", TokenFromRequest(r))

	r.AddCookie(SessionCookie("c", time.Hour, false))
	req.Equal("c", TokenFromRequest(r))
}

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)
	hash, err := HashPassword("s3cret-pass")
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$2a$"))

	match, err := ComparePassword("s3cret-pass", hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("wrong", hash)
	req.NoError(err)
	req.False(match)
}

func TestValidateSignup(t *testing.T) {
	tests := []struct {
		name    string
		req     SignupRequest
		wantErr bool
	}{
		{"valid", SignupRequest{"Alice", "alice@example.com", "123456"}, false},
		{"short name", SignupRequest{"Al", "alice@example.com", "123456"}, true},
		{"bad email", SignupRequest{"Alice", "alice", "123456"}, true},
		{"short password", SignupRequest{"Alice", "alice@example.com", "12345"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignup(tt.req)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
