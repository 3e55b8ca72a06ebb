//go:generate go run go.uber.org/mock/mockgen -source=token.go -destination=../mocks/mock_verifier.go -package=mocks
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie carrying the session token.
const CookieName = "token"

// Verifier resolves an identity token to the identity it was issued for.
type Verifier interface {
	Verify(token string) (chat.Identity, error)
}

// Issuer creates session tokens after signup or signin.
type Issuer interface {
	Issue(id chat.Identity) (string, error)
}

// Claims is the data stored inside the JWT.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 session tokens.
type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	return &JWT{secret: []byte(secret), ttl: ttl, now: time.Now}
}

var (
	_ Verifier = (*JWT)(nil)
	_ Issuer   = (*JWT)(nil)
)

// Issue creates a signed token for the identity.
func (j *JWT) Issue(id chat.Identity) (string, error) {
	now := j.now()
	claims := &Claims{
		UserID: string(id),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "livechat",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Verify parses the token and checks signature, algorithm and expiry.
// Every failure is reported as chat.ErrAuth.
func (j *JWT) Verify(token string) (chat.Identity, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token missing", chat.ErrAuth)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", chat.ErrAuth, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: invalid claims", chat.ErrAuth)
	}
	return chat.Identity(claims.UserID), nil
}

// TokenFromRequest looks for the token in the session cookie, then the
// Authorization header, then the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// SessionCookie builds the cookie set after signup or signin.
func SessionCookie(token string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearedCookie expires the session cookie.
func ClearedCookie() *http.Cookie {
	return &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true}
}
