package directory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"whatsapp-agent/internal/domain"
	"whatsapp-agent/internal/phone"
)

var mx = phone.Normalizer{CountryCode: "52", MobilePrefix: "1"}

func serviceable() (ChannelEntry, *AssistantEntry) {
	ch := ChannelEntry{
		Channel:        domain.Channel{ID: "c-1", Type: "WhatsApp", Phone: channelPhone},
		Active:         true,
		Business:       domain.Business{ID: "b-1", Name: "Panadería Lupita"},
		BusinessActive: true,
		AssistantID:    "a-1",
	}
	a := &AssistantEntry{
		Assistant: domain.Assistant{ID: "a-1", Name: "Lupita"},
		Active:    true,
		Prompt:    "Eres la asistente de Panadería Lupita.",
	}
	return ch, a
}

func TestBuildRecord(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ChannelEntry, **AssistantEntry)
		ok     bool
	}{
		{name: "serviceable", mutate: func(*ChannelEntry, **AssistantEntry) {}, ok: true},
		{name: "inactive channel", mutate: func(c *ChannelEntry, _ **AssistantEntry) { c.Active = false }},
		{name: "inactive business", mutate: func(c *ChannelEntry, _ **AssistantEntry) { c.BusinessActive = false }},
		{name: "not whatsapp", mutate: func(c *ChannelEntry, _ **AssistantEntry) { c.Channel.Type = "sms" }},
		{name: "missing assistant", mutate: func(_ *ChannelEntry, a **AssistantEntry) { *a = nil }},
		{name: "inactive assistant", mutate: func(_ *ChannelEntry, a **AssistantEntry) { (*a).Active = false }},
		{name: "blank prompt", mutate: func(_ *ChannelEntry, a **AssistantEntry) { (*a).Prompt = "  " }},
		{name: "other assistant", mutate: func(c *ChannelEntry, _ **AssistantEntry) { c.AssistantID = "a-2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, a := serviceable()
			tt.mutate(&ch, &a)
			rec := BuildRecord(ch, a)
			if !tt.ok {
				require.Nil(t, rec)
				return
			}
			require.NotNil(t, rec)
			require.Equal(t, "b-1", rec.Business.ID)
			require.Equal(t, "a-1", rec.Assistant.ID)
			require.Equal(t, "Eres la asistente de Panadería Lupita.", rec.Prompt)
		})
	}
}

func TestActiveIntents_KeepsOrder(t *testing.T) {
	got := ActiveIntents([]IntentEntry{
		{Key: "menu", Active: true},
		{Key: "old", Active: false},
		{Key: "horario", Active: true},
	})
	require.Len(t, got, 2)
	require.Equal(t, "menu", got[0].Key)
	require.Equal(t, "horario", got[1].Key)
}

const seedJSON = `{
  "assistants": [{
    "assistant": {"id": "a-1", "name": "Lupita"},
    "active": true,
    "prompt": "Eres la asistente de Panadería Lupita.",
    "intents": [{"key": "menu", "action_type": "send_document", "config": {"document_url": "https://example.com/menu.pdf", "filename": "menu.pdf"}, "active": true}]
  }],
  "channels": [{
    "channel": {"id": "c-1", "type": "whatsapp", "phone": "5215550001111"},
    "active": true,
    "business": {"id": "b-1", "name": "Panadería Lupita"},
    "business_active": true,
    "assistant_id": "a-1"
  }]
}`

type recordingWriter struct {
	calls []string
	err   error
}

func (w *recordingWriter) PutChannel(_ context.Context, e ChannelEntry) error {
	w.calls = append(w.calls, "channel:"+e.Channel.Phone)
	return w.err
}

func (w *recordingWriter) PutAssistant(_ context.Context, e AssistantEntry) error {
	w.calls = append(w.calls, "assistant:"+e.Assistant.ID)
	return w.err
}

func TestDecodeSeedAndImport(t *testing.T) {
	seed, err := DecodeSeed(strings.NewReader(seedJSON), mx)
	require.NoError(t, err)
	require.Len(t, seed.Assistants, 1)
	require.JSONEq(t, `{"document_url": "https://example.com/menu.pdf", "filename": "menu.pdf"}`, string(seed.Assistants[0].Intents[0].Config))

	w := &recordingWriter{}
	require.NoError(t, Import(context.Background(), w, seed))
	require.Equal(t, []string{"assistant:a-1", "channel:+525550001111"}, w.calls)
}

func TestDecodeSeed_Rejects(t *testing.T) {
	_, err := DecodeSeed(strings.NewReader(`{"channels": [{"channel": {"id": "c-1"}}]}`), mx)
	require.Error(t, err)
	_, err = DecodeSeed(strings.NewReader(`{"unexpected": true}`), mx)
	require.Error(t, err)
}

func TestImport_StopsOnError(t *testing.T) {
	seed, err := DecodeSeed(strings.NewReader(seedJSON), mx)
	require.NoError(t, err)
	w := &recordingWriter{err: errors.New("boom")}
	require.ErrorContains(t, Import(context.Background(), w, seed), "boom")
	require.Len(t, w.calls, 1)
}

func TestDecodeSeed_NormalizesChannelPhones(t *testing.T) {
	seed, err := DecodeSeed(strings.NewReader(`{"channels": [
		{"channel": {"id": "c-1", "phone": "52 1 55 5000 1111"}},
		{"channel": {"id": "c-2", "phone": "5550002222"}},
		{"channel": {"id": "c-3", "phone": "+525550003333"}}
	]}`), mx)
	require.NoError(t, err)
	var phones []string
	for _, c := range seed.Channels {
		phones = append(phones, c.Channel.Phone)
	}
	require.Equal(t, []string{"+525550001111", "+525550002222", "+525550003333"}, phones)

	_, err = DecodeSeed(strings.NewReader(`{"channels": [{"channel": {"id": "c-1", "phone": "n/a"}}]}`), mx)
	require.ErrorContains(t, err, "no phone")
}

func TestValidate_RejectsUnnormalizedPhone(t *testing.T) {
	s := &Seed{Channels: []ChannelEntry{{Channel: domain.Channel{ID: "c-1", Phone: "5215550001111"}}}}
	require.ErrorContains(t, s.Validate(), "+<country><number>")
}
