package usecase

import (
	"context"
	"errors"
	"sync"

	"whatsapp-agent/internal/domain"
)

// chatCall is one recorded completion request.
type chatCall struct {
	Messages    []domain.ChatMessage
	Temperature float64
}

// fakeCompleter answers classification requests (temperature 0) with label,
// reminder requests with reminder and everything else with reply.
type fakeCompleter struct {
	mu       sync.Mutex
	calls    []chatCall
	label    string
	reply    string
	reminder string
	err      error
}

func (f *fakeCompleter) Chat(_ context.Context, messages []domain.ChatMessage, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{Messages: messages, Temperature: temperature})
	if f.err != nil {
		return "", f.err
	}
	if temperature == classificationTemperature {
		return f.label, nil
	}
	if isReminderRequest(messages) {
		return f.reminder, nil
	}
	return f.reply, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func isReminderRequest(messages []domain.ChatMessage) bool {
	return len(messages) > 0 && messages[len(messages)-1].Content == "Genera el recordatorio ahora."
}

type outbound struct {
	Kind string
	To   string
	A, B string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []outbound
	read    []string
	sendErr error
	readErr error
}

func (f *fakeMessenger) push(o outbound) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, o)
	return "wamid.OUT", nil
}

func (f *fakeMessenger) SendText(_ context.Context, to, body string) (string, error) {
	return f.push(outbound{Kind: "text", To: to, A: body})
}

func (f *fakeMessenger) SendImage(_ context.Context, to, url, caption string) (string, error) {
	return f.push(outbound{Kind: "image", To: to, A: url, B: caption})
}

func (f *fakeMessenger) SendDocument(_ context.Context, to, url, filename string) (string, error) {
	return f.push(outbound{Kind: "document", To: to, A: url, B: filename})
}

func (f *fakeMessenger) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return f.readErr
}

func (f *fakeMessenger) outbox() []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outbound(nil), f.sent...)
}

func (f *fakeMessenger) kinds(kind string) []outbound {
	var out []outbound
	for _, o := range f.outbox() {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// rateLimitedErr mimics a gateway error that reports a rate limit without an
// HTTP 429.
type rateLimitedErr struct{}

func (rateLimitedErr) Error() string     { return "pair rate limit" }
func (rateLimitedErr) RateLimited() bool { return true }

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "upstream status" }
func (e statusErr) HTTPStatusCode() int { return e.code }

var errBoom = errors.New("boom")
