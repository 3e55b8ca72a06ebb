package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/livechat/internal/config"
	"github.com/stretchr/testify/require"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "exact match", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:8080", want: true},
		{name: "case insensitive", allowed: []string{"http://LOCALHOST:8080"}, origin: "HTTP://localhost:8080", want: true},
		{name: "path ignored", allowed: []string{"https://chat.example.com/app"}, origin: "https://chat.example.com", want: true},
		{name: "other port", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:9090", want: false},
		{name: "missing header", allowed: []string{"http://localhost:8080"}, origin: "", want: false},
		{name: "garbage header", allowed: []string{"*"}, origin: "not a url", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anything.example", want: true},
		{name: "invalid config entry skipped", allowed: []string{"localhost", "http://ok.example"}, origin: "http://ok.example", want: true},
		{name: "nothing configured", allowed: nil, origin: "http://localhost:8080", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.allowed, testLogger())
			r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, policy.checkOrigin(r))
		})
	}
}

func TestFrameBudget(t *testing.T) {
	req := require.New(t)
	b := newFrameBudget(config.RateLimitConfig{Burst: 3, RefillInterval: time.Hour})

	req.True(b.take())
	req.True(b.take())
	req.True(b.take())
	req.False(b.take())
}

func TestFrameBudget_Refills(t *testing.T) {
	req := require.New(t)
	clock := time.Unix(1_700_000_000, 0)
	b := newFrameBudget(config.RateLimitConfig{Burst: 2, RefillInterval: time.Second})
	b.now = func() time.Time { return clock }
	b.last = clock

	req.True(b.take())
	req.True(b.take())
	req.False(b.take())

	clock = clock.Add(500 * time.Millisecond)
	req.True(b.take())
	req.False(b.take())

	clock = clock.Add(time.Hour)
	req.True(b.take())
	req.True(b.take())
	req.False(b.take(), "refill is capped at the burst size")
}

func TestFrameBudget_ZeroConfigFallsBack(t *testing.T) {
	b := newFrameBudget(config.RateLimitConfig{})
	require.True(t, b.take())
	require.False(t, b.take())
}
