// Package intent dispatches a classified intent label to the action an
// assistant has configured for it.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"whatsapp-agent/internal/domain"
	"whatsapp-agent/internal/metrics"
)

// actionSendTemplate is accepted as an alias of domain.ActionTemplate.
const actionSendTemplate domain.ActionType = "send_template"

// Source returns the intents configured for an assistant.
type Source interface {
	Intents(ctx context.Context, assistantID string) ([]domain.IntentConfig, error)
}

// Replier generates a reply for the correspondent and records the exchange
// in its history. It never fails; a failed generation yields fallback text.
type Replier interface {
	Reply(ctx context.Context, id, prompt, text string) string
}

// Messenger delivers outbound payloads to a correspondent.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendImage(ctx context.Context, to, url, caption string) (string, error)
	SendDocument(ctx context.Context, to, url, filename string) (string, error)
}

// RouteContext is the inbound message an action responds to.
type RouteContext struct {
	To     string
	Text   string
	Prompt string
}

type Router struct {
	source    Source
	replier   Replier
	messenger Messenger
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Router)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRouter(source Source, replier Replier, messenger Messenger, opts ...Option) (*Router, error) {
	if source == nil {
		return nil, errors.New("intent: source must not be nil")
	}
	if replier == nil {
		return nil, errors.New("intent: replier must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("intent: messenger must not be nil")
	}
	r := &Router{
		source:    source,
		replier:   replier,
		messenger: messenger,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "intent.router")
	return r, nil
}

// Route runs the action configured for label. It reports handled=false when
// the assistant has no intent with that key, or when the intent's payload is
// unusable, so the caller can fall back to a plain reply. A delivery error
// after the action started is returned with handled=true.
func (r *Router) Route(ctx context.Context, label, assistantID string, rc RouteContext) (bool, error) {
	label = strings.TrimSpace(label)
	if label == "" || label == domain.IntentEndConversation || label == domain.IntentContinue || label == domain.IntentUnknown {
		return false, nil
	}

	intents, err := r.source.Intents(ctx, assistantID)
	if err != nil {
		return false, fmt.Errorf("intent: load intents for %s: %w", assistantID, err)
	}

	var cfg *domain.IntentConfig
	for i := range intents {
		if strings.EqualFold(strings.TrimSpace(intents[i].Key), label) {
			cfg = &intents[i]
			break
		}
	}
	if cfg == nil {
		return false, nil
	}

	handled, err := r.dispatch(ctx, *cfg, rc)
	if handled {
		r.metrics.IntentRouted(actionLabel(cfg.ActionType))
	}
	return handled, err
}

func actionLabel(a domain.ActionType) string {
	switch a {
	case domain.ActionSendText, domain.ActionSendImage, domain.ActionSendDocument, domain.ActionTemplate, domain.ActionCustom:
		return string(a)
	case actionSendTemplate:
		return string(domain.ActionTemplate)
	default:
		return "unsupported"
	}
}

func (r *Router) dispatch(ctx context.Context, cfg domain.IntentConfig, rc RouteContext) (bool, error) {
	switch cfg.ActionType {
	case domain.ActionSendText:
		reply := r.replier.Reply(ctx, rc.To, rc.Prompt, rc.Text)
		if _, err := r.messenger.SendText(ctx, rc.To, reply); err != nil {
			return true, fmt.Errorf("intent: %s: send text: %w", cfg.Key, err)
		}
		return true, nil

	case domain.ActionSendImage:
		var payload domain.ImageActionConfig
		if err := decodeConfig(cfg, &payload); err != nil {
			return false, err
		}
		reply := r.replier.Reply(ctx, rc.To, rc.Prompt, rc.Text)
		if len(payload.Images) == 0 {
			if _, err := r.messenger.SendText(ctx, rc.To, reply); err != nil {
				return true, fmt.Errorf("intent: %s: send text: %w", cfg.Key, err)
			}
			return true, nil
		}
		last := len(payload.Images) - 1
		for i, img := range payload.Images {
			caption := ""
			if i == last {
				caption = reply
			}
			if _, err := r.messenger.SendImage(ctx, rc.To, img.URL, caption); err != nil {
				return true, fmt.Errorf("intent: %s: send image %d: %w", cfg.Key, i, err)
			}
		}
		return true, nil

	case domain.ActionSendDocument:
		var payload domain.DocumentActionConfig
		if err := decodeConfig(cfg, &payload); err != nil {
			return false, err
		}
		if strings.TrimSpace(payload.DocumentURL) == "" {
			return false, fmt.Errorf("intent: %s: document_url is empty", cfg.Key)
		}
		reply := r.replier.Reply(ctx, rc.To, rc.Prompt, rc.Text)
		if _, err := r.messenger.SendText(ctx, rc.To, reply); err != nil {
			return true, fmt.Errorf("intent: %s: send text: %w", cfg.Key, err)
		}
		if _, err := r.messenger.SendDocument(ctx, rc.To, payload.DocumentURL, payload.Filename); err != nil {
			return true, fmt.Errorf("intent: %s: send document: %w", cfg.Key, err)
		}
		return true, nil

	case domain.ActionTemplate, actionSendTemplate:
		var payload domain.TemplateActionConfig
		if err := decodeConfig(cfg, &payload); err != nil {
			return false, err
		}
		body := payload.TemplateMessage
		if payload.UseAI {
			body = r.replier.Reply(ctx, rc.To, rc.Prompt, rc.Text)
		} else if strings.TrimSpace(body) == "" {
			return false, fmt.Errorf("intent: %s: template_message is empty", cfg.Key)
		}
		if _, err := r.messenger.SendText(ctx, rc.To, body); err != nil {
			return true, fmt.Errorf("intent: %s: send template: %w", cfg.Key, err)
		}
		return true, nil

	case domain.ActionCustom:
		r.logger.Info("custom intent matched", "intent", cfg.Key)
		return true, nil

	default:
		r.logger.Warn("unsupported intent action", "intent", cfg.Key, "action", cfg.ActionType)
		return true, nil
	}
}

func decodeConfig(cfg domain.IntentConfig, out any) error {
	if len(cfg.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(cfg.Config, out); err != nil {
		return fmt.Errorf("intent: %s: decode %s config: %w", cfg.Key, cfg.ActionType, err)
	}
	return nil
}
