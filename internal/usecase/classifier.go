package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"whatsapp-agent/internal/domain"
)

// Classifier labels an inbound text with one of the reserved labels or the
// key of a configured intent.
type Classifier struct {
	llm        Completer
	shortcut   bool
	endPhrases []string
	logger     *slog.Logger
}

type ClassifierOption func(*Classifier)

// WithEndPhrases enables the keyword fast path: a text containing any of
// phrases is labeled end_conversation without calling the completion service.
func WithEndPhrases(phrases []string) ClassifierOption {
	return func(c *Classifier) {
		c.endPhrases = c.endPhrases[:0]
		for _, p := range phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.endPhrases = append(c.endPhrases, p)
			}
		}
		c.shortcut = len(c.endPhrases) > 0
	}
}

func WithClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClassifier(llm Completer, opts ...ClassifierOption) (*Classifier, error) {
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	c := &Classifier{llm: llm, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "usecase.classifier")
	return c, nil
}

// Classify never fails. Blank text and classification errors yield
// domain.IntentUnknown.
func (c *Classifier) Classify(ctx context.Context, text string, intents []domain.IntentConfig) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.IntentUnknown
	}
	if c.shortcut && c.matchesEndPhrase(text) {
		return domain.IntentEndConversation
	}

	raw, err := c.llm.Chat(ctx, buildClassificationMessages(intents, text), classificationTemperature)
	if err != nil {
		c.logger.Error("intent classification failed", "err", err)
		return domain.IntentUnknown
	}
	return normalizeLabel(raw)
}

func (c *Classifier) matchesEndPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range c.endPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
