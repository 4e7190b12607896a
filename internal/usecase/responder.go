package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"whatsapp-agent/internal/domain"
)

const (
	fallbackEmptyReply = "Lo siento, no entendí bien el mensaje. ¿Podrías repetirlo?"
	fallbackErrorReply = "Parece que tengo un problema técnico en este momento. Inténtalo de nuevo por favor."
)

// Completer is the completion service.
type Completer interface {
	Chat(ctx context.Context, messages []domain.ChatMessage, temperature float64) (string, error)
}

// History is the per-correspondent chat log.
type History interface {
	Append(id, role, content string)
	Get(id string) []domain.ChatMessage
}

// Responder generates conversational replies and keeps the exchange in the
// correspondent's history.
type Responder struct {
	llm        Completer
	history    History
	maxContent int
	logger     *slog.Logger
}

func NewResponder(llm Completer, history History, maxContent int, logger *slog.Logger) (*Responder, error) {
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history must not be nil")
	}
	if maxContent <= 0 {
		maxContent = defaultMaxContent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		llm:        llm,
		history:    history,
		maxContent: maxContent,
		logger:     logger.With("component", "usecase.responder"),
	}, nil
}

// Reply appends text as a user turn, asks the completion service for an
// answer under prompt, appends the answer and returns it. It always returns
// something to send: an empty or failed completion yields a fixed fallback
// that is not recorded in history.
func (r *Responder) Reply(ctx context.Context, id, prompt, text string) string {
	if strings.TrimSpace(text) != "" {
		r.history.Append(id, domain.RoleUser, text)
	}

	reply, err := r.llm.Chat(ctx, buildReplyMessages(prompt, r.history.Get(id), r.maxContent), replyTemperature)
	if err != nil {
		r.logger.Error("reply generation failed", "to", id, "err", err)
		return fallbackErrorReply
	}
	if reply == "" {
		r.logger.Warn("completion returned an empty reply", "to", id)
		return fallbackEmptyReply
	}

	r.history.Append(id, domain.RoleAssistant, reply)
	return reply
}
