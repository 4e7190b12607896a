package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"whatsapp-agent/internal/directory"
	"whatsapp-agent/internal/domain"
)

const channelPhone = "5215550001111"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "directory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func channelEntry() directory.ChannelEntry {
	return directory.ChannelEntry{
		Channel:        domain.Channel{ID: "c-1", Name: "Sucursal Centro", Type: "whatsapp", Phone: channelPhone},
		Active:         true,
		Business:       domain.Business{ID: "b-1", Name: "Panadería Lupita", Website: "https://lupita.example"},
		BusinessActive: true,
		AssistantID:    "a-1",
	}
}

func assistantEntry() directory.AssistantEntry {
	return directory.AssistantEntry{
		Assistant: domain.Assistant{ID: "a-1", Name: "Lupita", Type: "ventas"},
		Active:    true,
		Prompt:    "Eres la asistente de Panadería Lupita.",
		Intents: []directory.IntentEntry{
			{Key: "menu", Name: "Menú", ActionType: domain.ActionSendDocument, Config: []byte(`{"document_url":"https://example.com/menu.pdf","filename":"menu.pdf"}`), Active: true},
			{Key: "promo", ActionType: domain.ActionSendText, Active: false},
			{Key: "fotos", ActionType: domain.ActionSendImage, Config: []byte(`{"images":[{"url":"https://example.com/1.jpg"}]}`), Active: true},
		},
	}
}

func seed(t *testing.T, s *SQLiteStore) {
	t.Helper()
	require.NoError(t, directory.Import(context.Background(), s, &directory.Seed{
		Assistants: []directory.AssistantEntry{assistantEntry()},
		Channels:   []directory.ChannelEntry{channelEntry()},
	}))
}

func TestNewSQLite_RequiresPath(t *testing.T) {
	_, err := NewSQLite(" ")
	require.Error(t, err)
}

func TestNewSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))

	rec, err := s.ResolveChannel(context.Background(), channelPhone)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestResolveChannel_HappyPath(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	rec, err := s.ResolveChannel(context.Background(), channelPhone)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "Panadería Lupita", rec.Business.Name)
	require.Equal(t, "https://lupita.example", rec.Business.Website)
	require.Equal(t, "c-1", rec.Channel.ID)
	require.Equal(t, "ventas", rec.Assistant.Type)
	require.Equal(t, "Eres la asistente de Panadería Lupita.", rec.Prompt)
}

func TestResolveChannel_NotServiceable(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.ResolveChannel(context.Background(), channelPhone)
	require.NoError(t, err)
	require.Nil(t, rec, "unknown channel")

	ch := channelEntry()
	require.NoError(t, s.PutChannel(context.Background(), ch))
	rec, err = s.ResolveChannel(context.Background(), channelPhone)
	require.NoError(t, err)
	require.Nil(t, rec, "assistant not stored")

	a := assistantEntry()
	a.Prompt = ""
	require.NoError(t, s.PutAssistant(context.Background(), a))
	rec, err = s.ResolveChannel(context.Background(), channelPhone)
	require.NoError(t, err)
	require.Nil(t, rec, "assistant without prompt")

	require.NoError(t, s.PutAssistant(context.Background(), assistantEntry()))
	ch.BusinessActive = false
	require.NoError(t, s.PutChannel(context.Background(), ch))
	rec, err = s.ResolveChannel(context.Background(), channelPhone)
	require.NoError(t, err)
	require.Nil(t, rec, "inactive business")
}

func TestListIntents_ActiveInWriteOrder(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	list, err := s.ListIntents(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "menu", list[0].Key)
	require.Equal(t, domain.ActionSendDocument, list[0].ActionType)
	require.JSONEq(t, `{"document_url":"https://example.com/menu.pdf","filename":"menu.pdf"}`, string(list[0].Config))
	require.Equal(t, "fotos", list[1].Key)

	empty, err := s.ListIntents(context.Background(), "a-404")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestPutAssistant_UpdatesIntents(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	a := assistantEntry()
	a.Intents[0].Active = false
	a.Intents[1].Active = true
	require.NoError(t, s.PutAssistant(context.Background(), a))

	list, err := s.ListIntents(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "promo", list[0].Key)
	require.Nil(t, list[0].Config)
}

func TestPut_Validation(t *testing.T) {
	s := newTestStore(t)
	require.ErrorContains(t, s.PutChannel(context.Background(), directory.ChannelEntry{}), "phone is required")

	ch := channelEntry()
	ch.Business.ID = ""
	require.ErrorContains(t, s.PutChannel(context.Background(), ch), "business id is required")

	require.ErrorContains(t, s.PutAssistant(context.Background(), directory.AssistantEntry{}), "assistant id is required")

	a := assistantEntry()
	a.Intents = append(a.Intents, directory.IntentEntry{Key: ""})
	require.ErrorContains(t, s.PutAssistant(context.Background(), a), "intent key is required")

	_, err := s.ResolveChannel(context.Background(), channelPhone)
	require.NoError(t, err)
	list, err := s.ListIntents(context.Background(), "a-1")
	require.NoError(t, err)
	require.Empty(t, list, "a failed write rolls back the whole assistant")
}
