package domain

import "encoding/json"

// Reserved intent labels handled by the orchestrator itself.
const (
	IntentEndConversation = "end_conversation"
	IntentContinue        = "continue"
	IntentUnknown         = "unknown"
)

type ActionType string

const (
	ActionSendText     ActionType = "send_text"
	ActionSendImage    ActionType = "send_image"
	ActionSendDocument ActionType = "send_document"
	ActionTemplate     ActionType = "template"
	ActionCustom       ActionType = "custom"
)

// IntentConfig is one configured intent of an assistant. Config is the raw
// action payload; its shape depends on ActionType.
type IntentConfig struct {
	Key         string
	Name        string
	Description string
	ActionType  ActionType
	Config      json.RawMessage
}

// ImageActionConfig is the payload of a send_image intent.
type ImageActionConfig struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// DocumentActionConfig is the payload of a send_document intent.
type DocumentActionConfig struct {
	DocumentURL string `json:"document_url"`
	Filename    string `json:"filename"`
}

// TemplateActionConfig is the payload of a template intent.
type TemplateActionConfig struct {
	UseAI           bool   `json:"use_ai"`
	TemplateMessage string `json:"template_message"`
}
