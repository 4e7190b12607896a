// Package usecase sequences the handling of one inbound message: directory
// resolution, conversation state, intent classification and routing, and the
// default generated reply.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"whatsapp-agent/internal/domain"
	"whatsapp-agent/internal/intent"
	"whatsapp-agent/internal/metrics"
)

// Outcome is how an inbound message was disposed of.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeTextOnly       Outcome = "text_only"
	OutcomeNotServiceable Outcome = "not_serviceable"
	OutcomeClosed         Outcome = "closed"
	OutcomeRouted         Outcome = "routed"
	OutcomeReplied        Outcome = "replied"
	OutcomeFailed         Outcome = "failed"
)

// Directory resolves a receiving channel to its business configuration.
type Directory interface {
	Resolve(ctx context.Context, phone string) (*domain.DirectoryRecord, error)
	Intents(ctx context.Context, assistantID string) ([]domain.IntentConfig, error)
}

// Conversations is the conversation lifecycle registry.
type Conversations interface {
	RecordActivity(id string)
	Close(id string)
	IsClosed(id string) bool
}

type Router interface {
	Route(ctx context.Context, label, assistantID string, rc intent.RouteContext) (bool, error)
}

type OrchestratorDeps struct {
	Directory     Directory
	Conversations Conversations
	Classifier    *Classifier
	Router        Router
	Responder     *Responder
	Messenger     Messenger
	TextOnlyReply string
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type Orchestrator struct {
	directory     Directory
	conversations Conversations
	classifier    *Classifier
	router        Router
	responder     *Responder
	messenger     Messenger
	textOnlyReply string
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewOrchestrator(d OrchestratorDeps) (*Orchestrator, error) {
	switch {
	case d.Directory == nil:
		return nil, errors.New("usecase: directory must not be nil")
	case d.Conversations == nil:
		return nil, errors.New("usecase: conversations must not be nil")
	case d.Classifier == nil:
		return nil, errors.New("usecase: classifier must not be nil")
	case d.Router == nil:
		return nil, errors.New("usecase: router must not be nil")
	case d.Responder == nil:
		return nil, errors.New("usecase: responder must not be nil")
	case d.Messenger == nil:
		return nil, errors.New("usecase: messenger must not be nil")
	case strings.TrimSpace(d.TextOnlyReply) == "":
		return nil, errors.New("usecase: text-only reply must not be empty")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		directory:     d.Directory,
		conversations: d.Conversations,
		classifier:    d.Classifier,
		router:        d.Router,
		responder:     d.Responder,
		messenger:     d.Messenger,
		textOnlyReply: d.TextOnlyReply,
		metrics:       d.Metrics,
		logger:        logger.With("component", "usecase.orchestrator"),
	}, nil
}

// Handle processes one inbound message. msg.From must already be normalized;
// it is the conversation and history key. The returned error, when set, is a
// *Error describing why the message could not be fully served.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	outcome, err := o.handle(ctx, msg)
	o.metrics.InboundEvent(string(outcome))
	return outcome, err
}

func (o *Orchestrator) handle(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	if msg.From == "" {
		return OutcomeIgnored, newError(ErrorInvalidInput, "missing_sender", nil)
	}
	logger := o.logger.With("from", msg.From, "message_id", msg.ID)

	if msg.ID != "" {
		if err := o.messenger.MarkRead(ctx, msg.ID); err != nil {
			logger.Warn("mark read failed", "err", err)
		}
	}

	if msg.Type != domain.MessageTypeText {
		if _, err := o.messenger.SendText(ctx, msg.From, o.textOnlyReply); err != nil {
			return OutcomeFailed, upstreamError("whatsapp_send_error", err)
		}
		return OutcomeTextOnly, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return OutcomeIgnored, newError(ErrorInvalidInput, "empty_text", nil)
	}

	record, err := o.directory.Resolve(ctx, msg.ChannelPhone)
	if err != nil {
		return OutcomeFailed, newError(ErrorInternal, "directory_error", err)
	}
	if record == nil {
		logger.Info("channel not serviceable", "channel", msg.ChannelPhone)
		return OutcomeNotServiceable, nil
	}
	assistantID := record.Assistant.ID

	intents, err := o.directory.Intents(ctx, assistantID)
	if err != nil {
		logger.Warn("intent list unavailable, classifying with reserved labels only", "assistant", assistantID, "err", err)
		intents = nil
	}
	label := o.classifier.Classify(ctx, text, intents)
	logger.Debug("message classified", "intent", label, "assistant", assistantID)

	if label == domain.IntentEndConversation {
		if !o.conversations.IsClosed(msg.From) {
			o.conversations.Close(msg.From)
		}
		if err := o.reply(ctx, msg.From, record.Prompt, text); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeClosed, nil
	}

	o.conversations.RecordActivity(msg.From)

	rc := intent.RouteContext{To: msg.From, Text: text, Prompt: record.Prompt}
	handled, err := o.router.Route(ctx, label, assistantID, rc)
	if handled {
		if err != nil {
			return OutcomeFailed, upstreamError("intent_action_error", err)
		}
		return OutcomeRouted, nil
	}
	if err != nil {
		logger.Warn("intent routing failed, falling back to reply", "intent", label, "err", err)
	}

	if err := o.reply(ctx, msg.From, record.Prompt, text); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeReplied, nil
}

func (o *Orchestrator) reply(ctx context.Context, to, prompt, text string) error {
	body := o.responder.Reply(ctx, to, prompt, text)
	if _, err := o.messenger.SendText(ctx, to, body); err != nil {
		return upstreamError("whatsapp_send_error", err)
	}
	return nil
}
