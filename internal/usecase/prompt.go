package usecase

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"whatsapp-agent/internal/domain"
)

const (
	replyTemperature          = 0.7
	reminderTemperature       = 0.7
	classificationTemperature = 0

	defaultMaxContent = 1000
)

func buildReplyMessages(prompt string, history []domain.ChatMessage, maxContent int) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: strings.TrimSpace(prompt)})
	return append(messages, sanitizeHistory(history, maxContent)...)
}

func buildClassificationMessages(intents []domain.IntentConfig, text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildClassificationPrompt(intents)},
		{Role: domain.RoleUser, Content: text},
	}
}

func buildClassificationPrompt(intents []domain.IntentConfig) string {
	lines := []string{
		"Eres un clasificador de intención.",
		"Responde SOLO con una de las siguientes opciones exactas:",
		"",
		"- " + domain.IntentEndConversation,
		"  Si el usuario expresa intención clara de finalizar la conversación.",
		"  Ejemplos: \"adiós\", \"gracias, eso es todo\", \"ya no necesito nada\"",
		"",
		"- " + domain.IntentContinue,
		"  Si el mensaje forma parte natural de la conversación",
		"  (preguntas generales, respuestas, aclaraciones).",
		"",
	}
	for _, in := range intents {
		key := strings.TrimSpace(in.Key)
		if key == "" {
			continue
		}
		lines = append(lines, "- "+key)
		if desc := normalizePromptInput(in.Description); desc != "" {
			lines = append(lines, "  "+desc)
		}
		lines = append(lines, "")
	}
	lines = append(lines,
		"- "+domain.IntentUnknown,
		"  Si la intención no es clara.",
		"",
		"Responde SOLO con una palabra exacta.",
	)
	return strings.Join(lines, "\n")
}

func buildReminderMessages(history []domain.ChatMessage, maxContent int) []domain.ChatMessage {
	rules := strings.Join([]string{
		"Eres el asistente virtual del negocio. El cliente dejó de responder.",
		"",
		"Reglas:",
		"- Mensaje corto, natural y humano.",
		"- No saludes.",
		"- No repitas recordatorios previos.",
		"- No suenes desesperado.",
		"- Personaliza usando el historial.",
	}, "\n")

	raw, err := json.Marshal(sanitizeHistory(history, maxContent))
	if err != nil {
		raw = []byte("[]")
	}
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: rules},
		{Role: domain.RoleSystem, Content: "Historial: " + string(raw)},
		{Role: domain.RoleUser, Content: "Genera el recordatorio ahora."},
	}
}

// sanitizeHistory drops entries with an empty role or content and caps each
// content at maxContent characters.
func sanitizeHistory(history []domain.ChatMessage, maxContent int) []domain.ChatMessage {
	if maxContent <= 0 {
		maxContent = defaultMaxContent
	}
	out := make([]domain.ChatMessage, 0, len(history))
	for _, m := range history {
		role := strings.TrimSpace(m.Role)
		if role == "" || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, domain.ChatMessage{Role: role, Content: truncateRunes(m.Content, maxContent)})
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// normalizeLabel maps a raw classifier answer to a label. Surrounding quotes
// and trailing punctuation are tolerated.
func normalizeLabel(raw string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, " \t\r\n.\"'`")
	if label == "" {
		return domain.IntentUnknown
	}
	return label
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
