//go:generate go run go.uber.org/mock/mockgen -source=api.go -destination=../../internal/mocks/mock_api.go -package=mocks

// Package chatclient is the client side of livechat: an HTTP client for the
// durable API, a live socket for server pushes, and the ConversationStore
// that keeps one conversation view consistent with both.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
)

// API is the durable message surface the store talks to.
type API interface {
	ListUsers(ctx context.Context) ([]chat.User, error)
	FetchHistory(ctx context.Context, peer chat.Identity) ([]chat.Message, error)
	Send(ctx context.Context, peer chat.Identity, payload chat.Payload) (chat.Message, error)
	Delete(ctx context.Context, id string) error
}

// HTTPClient calls the livechat HTTP API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ API = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) ListUsers(ctx context.Context) ([]chat.User, error) {
	var users []chat.User
	err := c.do(ctx, http.MethodGet, "/api/messages/users", nil, &users)
	return users, err
}

func (c *HTTPClient) FetchHistory(ctx context.Context, peer chat.Identity) ([]chat.Message, error) {
	var messages []chat.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(peer.String()), nil, &messages)
	return messages, err
}

func (c *HTTPClient) Send(ctx context.Context, peer chat.Identity, payload chat.Payload) (chat.Message, error) {
	var msg chat.Message
	err := c.do(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(peer.String()), payload, &msg)
	return msg, err
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil)
}

// do sends one request and decodes a 2xx body into out. 401 and 404 map to
// chat.ErrAuth and chat.ErrNotFound.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", chat.ErrNotFound, method, path)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", chat.ErrAuth, method, path)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: %s", method, path, errorMessage(resp))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		return fmt.Sprintf("%d %s", resp.StatusCode, body.Message)
	}
	return resp.Status
}
