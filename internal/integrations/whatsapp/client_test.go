package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	val string
	err error
}

func (f fakeToken) Value(context.Context) (string, error) { return f.val, f.err }

// recorder is a fake Graph API that captures every posted body.
type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
	reply  string
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "/v21.0/PNID/messages", req.URL.Path)
		require.Equal(t, "Bearer wa-token", req.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()

		if r.status != 0 {
			w.WriteHeader(r.status)
		}
		reply := r.reply
		if reply == "" {
			reply = `{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT"}]}`
		}
		_, _ = w.Write([]byte(reply))
	}
}

func newTestClient(t *testing.T, rec *recorder) *Client {
	t.Helper()
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient(fakeToken{val: "wa-token"}, "PNID",
		WithBaseURL(srv.URL),
		WithAPIVersion("v21.0"),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "PNID")
	require.Error(t, err)
	_, err = NewClient(fakeToken{val: "x"}, " ")
	require.ErrorContains(t, err, "phone number id")
}

func TestMessagesURL(t *testing.T) {
	c, err := NewClient(fakeToken{val: "x"}, "123")
	require.NoError(t, err)
	require.Equal(t, "https://graph.facebook.com/v21.0/123/messages", c.messagesURL())
}

func TestSendText(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)

	id, err := c.SendText(context.Background(), "+5215512345678", "hola")
	require.NoError(t, err)
	require.Equal(t, "wamid.OUT", id)

	require.Len(t, rec.bodies, 1)
	got := rec.bodies[0]
	require.Equal(t, "whatsapp", got["messaging_product"])
	require.Equal(t, "5215512345678", got["to"])
	require.Equal(t, "text", got["type"])
	require.Equal(t, map[string]any{"body": "hola"}, got["text"])
}

func TestSendImage_CaptionOptional(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)

	_, err := c.SendImage(context.Background(), "+52155", "https://cdn/a.png", "")
	require.NoError(t, err)
	_, err = c.SendImage(context.Background(), "+52155", "https://cdn/b.png", "menú")
	require.NoError(t, err)

	require.Equal(t, map[string]any{"link": "https://cdn/a.png"}, rec.bodies[0]["image"])
	require.Equal(t, map[string]any{"link": "https://cdn/b.png", "caption": "menú"}, rec.bodies[1]["image"])
}

func TestSendDocument_DefaultFilename(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)

	_, err := c.SendDocument(context.Background(), "+52155", "https://cdn/menu.pdf", "")
	require.NoError(t, err)
	require.Equal(t, "document", rec.bodies[0]["type"])
	require.Equal(t, map[string]any{"link": "https://cdn/menu.pdf", "filename": DefaultDocumentFilename}, rec.bodies[0]["document"])
}

func TestMarkRead(t *testing.T) {
	rec := &recorder{reply: `{"success":true}`}
	c := newTestClient(t, rec)

	require.NoError(t, c.MarkRead(context.Background(), "wamid.IN"))
	require.Equal(t, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        "wamid.IN",
	}, rec.bodies[0])
}

func TestSend_InputValidation(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)
	ctx := context.Background()

	_, err := c.SendText(ctx, "", "hola")
	require.ErrorContains(t, err, "recipient")
	_, err = c.SendText(ctx, "+52155", "  ")
	require.ErrorContains(t, err, "body")
	_, err = c.SendImage(ctx, "+52155", "", "x")
	require.ErrorContains(t, err, "image url")
	_, err = c.SendDocument(ctx, "+52155", "", "a.pdf")
	require.ErrorContains(t, err, "document url")
	require.Error(t, c.MarkRead(ctx, ""))
	require.Empty(t, rec.bodies)
}

func TestSend_GraphErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		reply       string
		invalid     bool
		rateLimited bool
	}{
		{
			name:    "expired token",
			status:  http.StatusUnauthorized,
			reply:   `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`,
			invalid: true,
		},
		{
			name:        "pair rate limit",
			status:      http.StatusBadRequest,
			reply:       `{"error":{"message":"Too many messages","type":"OAuthException","code":131056}}`,
			rateLimited: true,
		},
		{
			name:   "opaque server error",
			status: http.StatusBadGateway,
			reply:  `upstream down`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{status: tt.status, reply: tt.reply}
			c := newTestClient(t, rec)

			_, err := c.SendText(context.Background(), "+52155", "hola")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.status, apiErr.HTTPStatusCode())
			require.Equal(t, tt.invalid, IsInvalidToken(err))
			require.Equal(t, tt.rateLimited, IsRateLimited(err))
		})
	}
}

func TestSend_TokenError(t *testing.T) {
	c, err := NewClient(fakeToken{err: errors.New("no param")}, "PNID")
	require.NoError(t, err)
	_, err = c.SendText(context.Background(), "+52155", "hola")
	require.ErrorContains(t, err, "no param")
}
