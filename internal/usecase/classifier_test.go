package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"whatsapp-agent/internal/domain"
)

func TestClassify_BlankTextSkipsCompletion(t *testing.T) {
	llm := &fakeCompleter{label: "menu"}
	c, err := NewClassifier(llm)
	require.NoError(t, err)

	require.Equal(t, domain.IntentUnknown, c.Classify(context.Background(), "  \n", nil))
	require.Zero(t, llm.callCount())
}

func TestClassify_UsesCompletionAtZeroTemperature(t *testing.T) {
	llm := &fakeCompleter{label: " MENU\n"}
	c, err := NewClassifier(llm)
	require.NoError(t, err)

	intents := []domain.IntentConfig{{Key: "menu", Description: "Pide el menú"}}
	require.Equal(t, "menu", c.Classify(context.Background(), "¿me pasas el menú?", intents))

	require.Len(t, llm.calls, 1)
	call := llm.calls[0]
	require.Equal(t, 0.0, call.Temperature)
	require.Contains(t, call.Messages[0].Content, "- menu")
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "¿me pasas el menú?"}, call.Messages[1])
}

func TestClassify_FailureDegradesToUnknown(t *testing.T) {
	c, err := NewClassifier(&fakeCompleter{err: errBoom})
	require.NoError(t, err)
	require.Equal(t, domain.IntentUnknown, c.Classify(context.Background(), "hola", nil))
}

func TestClassify_EndPhraseShortcut(t *testing.T) {
	llm := &fakeCompleter{label: domain.IntentContinue}
	c, err := NewClassifier(llm, WithEndPhrases([]string{" Ya no me interesa ", ""}))
	require.NoError(t, err)

	require.Equal(t, domain.IntentEndConversation, c.Classify(context.Background(), "YA NO ME INTERESA, gracias", nil))
	require.Zero(t, llm.callCount())

	require.Equal(t, domain.IntentContinue, c.Classify(context.Background(), "me interesa mucho", nil))
	require.Equal(t, 1, llm.callCount())
}

func TestClassify_EmptyPhraseListDisablesShortcut(t *testing.T) {
	llm := &fakeCompleter{label: domain.IntentContinue}
	c, err := NewClassifier(llm, WithEndPhrases(nil))
	require.NoError(t, err)

	require.Equal(t, domain.IntentContinue, c.Classify(context.Background(), "adiós", nil))
	require.Equal(t, 1, llm.callCount())
}
