package handler

import (
	"whatsapp-agent/internal/domain"
	"whatsapp-agent/internal/phone"
)

// webhookPayload is the subset of a WhatsApp Cloud API webhook delivery the
// agent reads.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         webhookMetadata  `json:"metadata"`
	Contacts         []webhookContact `json:"contacts"`
	Messages         []webhookMessage `json:"messages"`
	Statuses         []webhookStatus  `json:"statuses"`
}

type webhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
}

type webhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

type webhookStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// extractMessages flattens a delivery into inbound messages, normalizing the
// sender and the receiving channel number. Status notifications are skipped,
// as are messages whose sender has no digits.
func extractMessages(p webhookPayload, n phone.Normalizer) []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			channel := n.Normalize(v.Metadata.DisplayPhoneNumber)
			for _, m := range v.Messages {
				from := n.Normalize(m.From)
				if from == "" {
					continue
				}
				msg := domain.InboundMessage{
					ID:           m.ID,
					From:         from,
					ContactName:  contactName(v.Contacts, m.From),
					Type:         m.Type,
					ChannelPhone: channel,
				}
				if m.Text != nil {
					msg.Text = m.Text.Body
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

func contactName(contacts []webhookContact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	if len(contacts) == 1 {
		return contacts[0].Profile.Name
	}
	return ""
}
