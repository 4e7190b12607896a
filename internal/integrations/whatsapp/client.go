// Package whatsapp sends outbound messages through the WhatsApp Cloud API
// (Meta Graph API). Every message leaves from one configured phone number ID.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"

	// DefaultDocumentFilename is used when a document action names no file.
	DefaultDocumentFilename = "documento"

	codeInvalidToken = 190
	codeRateLimited  = 131056
)

// TokenSource yields the Graph API access token. *paramstore.Token satisfies it.
type TokenSource interface {
	Value(ctx context.Context) (string, error)
}

// APIError is a non-2xx Graph API response.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp: status %d: code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// RateLimited reports a Graph API pair rate limit or an HTTP 429.
func (e *APIError) RateLimited() bool {
	return e.Code == codeRateLimited || e.StatusCode == http.StatusTooManyRequests
}

// IsInvalidToken reports whether err is a Graph API expired or invalid token error.
func IsInvalidToken(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeInvalidToken
}

// IsRateLimited reports whether err is a Graph API pair rate limit error.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}

type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	httpClient    *http.Client
	token         TokenSource
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version = strings.TrimSpace(version); version != "" {
			c.apiVersion = version
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(token TokenSource, phoneNumberID string, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("whatsapp: token source must not be nil")
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		apiVersion:    defaultAPIVersion,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		token:         token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(c.baseURL, "/"), c.apiVersion, c.phoneNumberID)
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type messageRequest struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type,omitempty"`
	To               string     `json:"to,omitempty"`
	Type             string     `json:"type,omitempty"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *mediaBody `json:"image,omitempty"`
	Document         *mediaBody `json:"document,omitempty"`
	Status           string     `json:"status,omitempty"`
	MessageID        string     `json:"message_id,omitempty"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// recipient strips the leading "+" the Cloud API does not accept.
func recipient(to string) (string, error) {
	to = strings.TrimPrefix(strings.TrimSpace(to), "+")
	if to == "" {
		return "", errors.New("whatsapp: recipient must not be empty")
	}
	return to, nil
}

// SendText sends a plain text message and returns the provider message ID.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	rcpt, err := recipient(to)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("whatsapp: text body must not be empty")
	}
	return c.send(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               rcpt,
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

// SendImage sends an image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, url, caption string) (string, error) {
	rcpt, err := recipient(to)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(url) == "" {
		return "", errors.New("whatsapp: image url must not be empty")
	}
	return c.send(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               rcpt,
		Type:             "image",
		Image:            &mediaBody{Link: url, Caption: caption},
	})
}

// SendDocument sends a document by URL. A blank filename becomes
// DefaultDocumentFilename.
func (c *Client) SendDocument(ctx context.Context, to, url, filename string) (string, error) {
	rcpt, err := recipient(to)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(url) == "" {
		return "", errors.New("whatsapp: document url must not be empty")
	}
	if strings.TrimSpace(filename) == "" {
		filename = DefaultDocumentFilename
	}
	return c.send(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               rcpt,
		Type:             "document",
		Document:         &mediaBody{Link: url, Filename: filename},
	})
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return errors.New("whatsapp: message id must not be empty")
	}
	_, err := c.send(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	})
	return err
}

func (c *Client) send(ctx context.Context, msg messageRequest) (string, error) {
	token, err := c.token.Value(ctx)
	if err != nil {
		return "", fmt.Errorf("whatsapp: resolve access token: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", decodeAPIError(res.StatusCode, raw)
	}

	var payload messageResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", fmt.Errorf("whatsapp: decode response: %w", err)
		}
	}
	if len(payload.Messages) == 0 {
		return "", nil
	}
	return payload.Messages[0].ID, nil
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		apiErr.Code = env.Error.Code
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
		return apiErr
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr.Message = msg
	return apiErr
}
