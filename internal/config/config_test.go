package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VERIFY_TOKEN", "verify-me")
	t.Setenv("PARAM_PREFIX", "/whatsapp-agent/prod/")
	t.Setenv("DIRECTORY_TABLE", "directory")
	t.Setenv("WHATSAPP_PHONE_NUMBER_ID", "1234567890")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, RunModeHTTP, cfg.RunMode)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "/whatsapp-agent/prod", cfg.ParamPrefix)
	require.Equal(t, BackendDynamoDB, cfg.Directory.Backend)
	require.Equal(t, "gpt-4.1-mini", cfg.OpenAI.Model)
	require.Equal(t, "v21.0", cfg.WhatsApp.APIVersion)
	require.Equal(t, "52", cfg.Phone.CountryCode)
	require.Equal(t, time.Minute, cfg.Conversation.InactivityLimit)
	require.Equal(t, 1, cfg.Conversation.MaxReminders)
	require.Equal(t, time.Minute, cfg.Conversation.CleanupTimeout)
	require.Zero(t, cfg.Conversation.IdleCleanupTimeout)
	require.True(t, cfg.Conversation.ResetRemindersOnActivity)
	require.Contains(t, cfg.Conversation.FinalMessage, "ya no estás disponible")
	require.Empty(t, cfg.Directory.SeedFile)
	require.Equal(t, 20, cfg.History.MaxEntries)
	require.Equal(t, 30*time.Minute, cfg.Cache.DirectoryTTL)
	require.Equal(t, 5*time.Minute, cfg.Cache.NegativeTTL)
	require.Equal(t, time.Hour, cfg.Cache.IntentTTL)
	require.False(t, cfg.Intents.EndPhraseShortcut)
	require.Contains(t, cfg.Intents.EndPhrases, "ya no me interesa")
	require.NotEmpty(t, cfg.Events.TextOnlyReply)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RUN_MODE", "LAMBDA")
	t.Setenv("DIRECTORY_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/dir.db")
	t.Setenv("INACTIVITY_LIMIT", "90s")
	t.Setenv("MAX_REMINDERS", "3")
	t.Setenv("IDLE_CLEANUP_TIMEOUT", "2h")
	t.Setenv("RESET_REMINDERS_ON_ACTIVITY", "off")
	t.Setenv("END_PHRASE_SHORTCUT", "yes")
	t.Setenv("END_PHRASES", " bye , , adiós ")
	t.Setenv("SEED_FILE", "/etc/agent/seed.json")
	t.Setenv("FINAL_MESSAGE", "Hasta pronto")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, RunModeLambda, cfg.RunMode)
	require.Equal(t, BackendSQLite, cfg.Directory.Backend)
	require.Equal(t, 90*time.Second, cfg.Conversation.InactivityLimit)
	require.Equal(t, 3, cfg.Conversation.MaxReminders)
	require.Equal(t, 2*time.Hour, cfg.Conversation.IdleCleanupTimeout)
	require.False(t, cfg.Conversation.ResetRemindersOnActivity)
	require.True(t, cfg.Intents.EndPhraseShortcut)
	require.Equal(t, []string{"bye", "adiós"}, cfg.Intents.EndPhrases)
	require.Equal(t, "/etc/agent/seed.json", cfg.Directory.SeedFile)
	require.Equal(t, "Hasta pronto", cfg.Conversation.FinalMessage)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("INACTIVITY_LIMIT", "soon")
	t.Setenv("MAX_HISTORY", "many")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, time.Minute, cfg.Conversation.InactivityLimit)
	require.Equal(t, 20, cfg.History.MaxEntries)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing verify token", env: map[string]string{"VERIFY_TOKEN": ""}, want: "VERIFY_TOKEN"},
		{name: "missing table", env: map[string]string{"DIRECTORY_TABLE": ""}, want: "DIRECTORY_TABLE"},
		{name: "unknown backend", env: map[string]string{"DIRECTORY_BACKEND": "postgres"}, want: "DIRECTORY_BACKEND"},
		{name: "unknown run mode", env: map[string]string{"RUN_MODE": "grpc"}, want: "RUN_MODE"},
		{name: "negative ttl not shorter", env: map[string]string{"DIRECTORY_NEGATIVE_TTL": "1h"}, want: "DIRECTORY_NEGATIVE_TTL"},
		{name: "zero inactivity", env: map[string]string{"INACTIVITY_LIMIT": "0s"}, want: "INACTIVITY_LIMIT"},
		{name: "blank final message", env: map[string]string{"FINAL_MESSAGE": "  "}, want: "FINAL_MESSAGE"},
		{name: "negative reminders", env: map[string]string{"MAX_REMINDERS": "-1"}, want: "MAX_REMINDERS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
