package usecase

import (
	"context"
	"errors"
	"strings"

	"whatsapp-agent/internal/domain"
)

// Messenger is the messaging gateway.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendImage(ctx context.Context, to, url, caption string) (string, error)
	SendDocument(ctx context.Context, to, url, filename string) (string, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Reminder delivers inactivity reminders and the closing message. It
// implements conversation.Notifier.
type Reminder struct {
	llm          Completer
	history      History
	messenger    Messenger
	finalMessage string
	maxContent   int
}

func NewReminder(llm Completer, history History, messenger Messenger, finalMessage string, maxContent int) (*Reminder, error) {
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	if strings.TrimSpace(finalMessage) == "" {
		return nil, errors.New("usecase: final message must not be empty")
	}
	if maxContent <= 0 {
		maxContent = defaultMaxContent
	}
	return &Reminder{
		llm:          llm,
		history:      history,
		messenger:    messenger,
		finalMessage: finalMessage,
		maxContent:   maxContent,
	}, nil
}

// SendReminder generates a follow-up from the correspondent's history and
// sends it. The reminder joins the history only once delivered.
func (r *Reminder) SendReminder(ctx context.Context, id string) error {
	text, err := r.llm.Chat(ctx, buildReminderMessages(r.history.Get(id), r.maxContent), reminderTemperature)
	if err != nil {
		return newError(ErrorUpstream, "reminder_generation_error", err)
	}
	if text == "" {
		return newError(ErrorUpstream, "reminder_empty", nil)
	}
	if _, err := r.messenger.SendText(ctx, id, text); err != nil {
		return upstreamError("reminder_send_error", err)
	}
	r.history.Append(id, domain.RoleAssistant, text)
	return nil
}

func (r *Reminder) SendFinalMessage(ctx context.Context, id string) error {
	if _, err := r.messenger.SendText(ctx, id, r.finalMessage); err != nil {
		return upstreamError("final_message_send_error", err)
	}
	return nil
}

// upstreamError classifies a gateway or completion failure, mapping rate
// limits to ErrorRateLimited.
func upstreamError(reason string, err error) *Error {
	if isRateLimited(err) {
		return newError(ErrorRateLimited, reason, err)
	}
	return newError(ErrorUpstream, reason, err)
}
