package domain

const MessageTypeText = "text"

// InboundMessage is a single user message extracted from a webhook delivery.
// From is already normalized and is used verbatim as the conversation key.
// Replies always leave from the one configured sender number, so the
// delivery's phone_number_id is not carried.
type InboundMessage struct {
	ID           string
	From         string
	ContactName  string
	Type         string
	Text         string
	ChannelPhone string
}
