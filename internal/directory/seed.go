package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"whatsapp-agent/internal/domain"
	"whatsapp-agent/internal/phone"
)

// ChannelEntry is a channel together with its owning business and the
// assistant that answers on it, as stored by a backend.
type ChannelEntry struct {
	Channel        domain.Channel  `json:"channel"`
	Active         bool            `json:"active"`
	Business       domain.Business `json:"business"`
	BusinessActive bool            `json:"business_active"`
	AssistantID    string          `json:"assistant_id"`
}

type IntentEntry struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	ActionType  domain.ActionType `json:"action_type"`
	Config      json.RawMessage   `json:"config,omitempty"`
	Active      bool              `json:"active"`
}

func (e IntentEntry) IntentConfig() domain.IntentConfig {
	return domain.IntentConfig{
		Key:         e.Key,
		Name:        e.Name,
		Description: e.Description,
		ActionType:  e.ActionType,
		Config:      e.Config,
	}
}

// AssistantEntry is an assistant with its prompt and every intent, active or
// not.
type AssistantEntry struct {
	Assistant domain.Assistant `json:"assistant"`
	Active    bool             `json:"active"`
	Prompt    string           `json:"prompt"`
	Intents   []IntentEntry    `json:"intents"`
}

// Writer stores directory entries. PutAssistant replaces the assistant's
// profile and writes all of its intents in one step.
type Writer interface {
	PutChannel(ctx context.Context, e ChannelEntry) error
	PutAssistant(ctx context.Context, e AssistantEntry) error
}

// Seed is the on-disk format used to bootstrap a directory backend.
type Seed struct {
	Assistants []AssistantEntry `json:"assistants"`
	Channels   []ChannelEntry   `json:"channels"`
}

// DecodeSeed reads a seed and rewrites channel phones with n, the same
// normalizer applied to inbound deliveries, so seeded channels resolve.
func DecodeSeed(r io.Reader, n phone.Normalizer) (*Seed, error) {
	var s Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("directory: decode seed: %w", err)
	}
	for i := range s.Channels {
		s.Channels[i].Channel.Phone = n.Normalize(s.Channels[i].Channel.Phone)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Seed) Validate() error {
	for i, a := range s.Assistants {
		if strings.TrimSpace(a.Assistant.ID) == "" {
			return fmt.Errorf("directory: seed assistant %d has no id", i)
		}
		for _, in := range a.Intents {
			if strings.TrimSpace(in.Key) == "" {
				return fmt.Errorf("directory: seed assistant %s has an intent without key", a.Assistant.ID)
			}
		}
	}
	for i, c := range s.Channels {
		if strings.TrimSpace(c.Channel.Phone) == "" {
			return fmt.Errorf("directory: seed channel %d has no phone", i)
		}
		if !strings.HasPrefix(c.Channel.Phone, "+") {
			return fmt.Errorf("directory: seed channel %d phone %q is not in +<country><number> form", i, c.Channel.Phone)
		}
	}
	return nil
}

// Import writes assistants before channels so that no channel ever points at
// an assistant that is not stored yet.
func Import(ctx context.Context, w Writer, s *Seed) error {
	if w == nil || s == nil {
		return errors.New("directory: import needs a writer and a seed")
	}
	for _, a := range s.Assistants {
		if err := w.PutAssistant(ctx, a); err != nil {
			return fmt.Errorf("directory: import assistant %s: %w", a.Assistant.ID, err)
		}
	}
	for _, c := range s.Channels {
		if err := w.PutChannel(ctx, c); err != nil {
			return fmt.Errorf("directory: import channel %s: %w", c.Channel.Phone, err)
		}
	}
	return nil
}

// ChannelTypeWhatsApp is the only channel type this service answers on.
const ChannelTypeWhatsApp = "whatsapp"

// BuildRecord applies the serviceability rules to stored entries: an active
// WhatsApp channel of an active business, answered by an active assistant
// that has a prompt. It returns nil when any rule fails. a may be nil when
// the channel points at a missing assistant.
func BuildRecord(ch ChannelEntry, a *AssistantEntry) *domain.DirectoryRecord {
	if !ch.Active || !ch.BusinessActive {
		return nil
	}
	if !strings.EqualFold(ch.Channel.Type, ChannelTypeWhatsApp) {
		return nil
	}
	if a == nil || !a.Active || a.Assistant.ID != ch.AssistantID {
		return nil
	}
	if strings.TrimSpace(a.Prompt) == "" {
		return nil
	}
	return &domain.DirectoryRecord{
		Business:  ch.Business,
		Channel:   ch.Channel,
		Assistant: a.Assistant,
		Prompt:    a.Prompt,
	}
}

// ActiveIntents keeps the active entries, in order.
func ActiveIntents(entries []IntentEntry) []domain.IntentConfig {
	out := make([]domain.IntentConfig, 0, len(entries))
	for _, e := range entries {
		if e.Active {
			out = append(out, e.IntentConfig())
		}
	}
	return out
}
