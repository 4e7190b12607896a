// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	RunModeHTTP   = "http"
	RunModeLambda = "lambda"

	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

const (
	defaultTextOnlyReply = "Actualmente solo puedo procesar mensajes de texto. Por favor, envíame un mensaje de texto para que pueda ayudarte."
	defaultFinalMessage  = "Parece que ya no estás disponible. Si necesitas algo más estaré aquí para ayudarte. ¡Que tengas un excelente día!"
)

var defaultEndPhrases = []string{"adiós", "adios", "hasta luego", "ya no me interesa", "eso es todo"}

// Config holds all application configuration.
type Config struct {
	RunMode     string
	Port        string
	VerifyToken string
	// ParamPrefix is the SSM path under which the API tokens live.
	ParamPrefix string

	Directory    DirectoryConfig
	OpenAI       OpenAIConfig
	WhatsApp     WhatsAppConfig
	Phone        PhoneConfig
	Conversation ConversationConfig
	History      HistoryConfig
	Cache        CacheConfig
	Intents      IntentConfig
	Events       EventConfig
}

type DirectoryConfig struct {
	Backend    string
	Table      string
	SQLitePath string
	// SeedFile, when set, is imported into the backend at startup.
	SeedFile string
}

type OpenAIConfig struct {
	Model   string
	BaseURL string
}

type WhatsAppConfig struct {
	APIVersion    string
	PhoneNumberID string
	BaseURL       string
}

type PhoneConfig struct {
	CountryCode  string
	MobilePrefix string
}

type ConversationConfig struct {
	InactivityLimit          time.Duration
	MaxReminders             int
	CleanupTimeout           time.Duration
	IdleCleanupTimeout       time.Duration
	ResetRemindersOnActivity bool
	FinalMessage             string
}

type HistoryConfig struct {
	MaxEntries int
	MaxContent int
}

type CacheConfig struct {
	DirectoryTTL  time.Duration
	NegativeTTL   time.Duration
	IntentTTL     time.Duration
	SweepInterval time.Duration
	MaxEntries    int
}

// IntentConfig controls the keyword fast path to the end-of-conversation
// label. Classification still runs for every other message.
type IntentConfig struct {
	EndPhraseShortcut bool
	EndPhrases        []string
}

type EventConfig struct {
	TextOnlyReply string
	Timeout       time.Duration
	NotifyTimeout time.Duration
	MaxConcurrent int
	DedupTTL      time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		RunMode:     strings.ToLower(getEnv("RUN_MODE", RunModeHTTP)),
		Port:        getEnv("PORT", "8080"),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),
		ParamPrefix: strings.TrimRight(strings.TrimSpace(getEnv("PARAM_PREFIX", "")), "/"),
		Directory: DirectoryConfig{
			Backend:    strings.ToLower(getEnv("DIRECTORY_BACKEND", BackendDynamoDB)),
			Table:      getEnv("DIRECTORY_TABLE", ""),
			SQLitePath: getEnv("SQLITE_PATH", "./data/directory.db"),
			SeedFile:   getEnv("SEED_FILE", ""),
		},
		OpenAI: OpenAIConfig{
			Model:   getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		WhatsApp: WhatsAppConfig{
			APIVersion:    getEnv("WHATSAPP_API_VERSION", "v21.0"),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			BaseURL:       getEnv("WHATSAPP_BASE_URL", ""),
		},
		Phone: PhoneConfig{
			CountryCode:  getEnv("DEFAULT_COUNTRY_CODE", "52"),
			MobilePrefix: getEnv("MOBILE_GATEWAY_PREFIX", "1"),
		},
		Conversation: ConversationConfig{
			InactivityLimit:          getEnvDuration("INACTIVITY_LIMIT", time.Minute),
			MaxReminders:             getEnvInt("MAX_REMINDERS", 1),
			CleanupTimeout:           getEnvDuration("CLEANUP_TIMEOUT", time.Minute),
			IdleCleanupTimeout:       getEnvDuration("IDLE_CLEANUP_TIMEOUT", 0),
			ResetRemindersOnActivity: getEnvBool("RESET_REMINDERS_ON_ACTIVITY", true),
			FinalMessage:             getEnv("FINAL_MESSAGE", defaultFinalMessage),
		},
		History: HistoryConfig{
			MaxEntries: getEnvInt("MAX_HISTORY", 20),
			MaxContent: getEnvInt("MAX_HISTORY_CONTENT", 1000),
		},
		Cache: CacheConfig{
			DirectoryTTL:  getEnvDuration("DIRECTORY_CACHE_TTL", 30*time.Minute),
			NegativeTTL:   getEnvDuration("DIRECTORY_NEGATIVE_TTL", 5*time.Minute),
			IntentTTL:     getEnvDuration("INTENT_CACHE_TTL", time.Hour),
			SweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),
			MaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 10000),
		},
		Intents: IntentConfig{
			EndPhraseShortcut: getEnvBool("END_PHRASE_SHORTCUT", false),
			EndPhrases:        getEnvList("END_PHRASES", defaultEndPhrases),
		},
		Events: EventConfig{
			TextOnlyReply: getEnv("TEXT_ONLY_REPLY", defaultTextOnlyReply),
			Timeout:       getEnvDuration("EVENT_TIMEOUT", 30*time.Second),
			NotifyTimeout: getEnvDuration("NOTIFY_TIMEOUT", 20*time.Second),
			MaxConcurrent: getEnvInt("MAX_CONCURRENT_EVENTS", 8),
			DedupTTL:      getEnvDuration("DEDUP_TTL", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	switch c.RunMode {
	case RunModeHTTP:
		if c.Port == "" {
			return fmt.Errorf("PORT cannot be empty")
		}
	case RunModeLambda:
	default:
		return fmt.Errorf("RUN_MODE must be %q or %q, got %q", RunModeHTTP, RunModeLambda, c.RunMode)
	}
	if c.VerifyToken == "" {
		return fmt.Errorf("VERIFY_TOKEN cannot be empty")
	}
	if c.ParamPrefix == "" {
		return fmt.Errorf("PARAM_PREFIX cannot be empty")
	}
	switch c.Directory.Backend {
	case BackendDynamoDB:
		if c.Directory.Table == "" {
			return fmt.Errorf("DIRECTORY_TABLE cannot be empty for the dynamodb backend")
		}
	case BackendSQLite:
		if c.Directory.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty for the sqlite backend")
		}
	default:
		return fmt.Errorf("DIRECTORY_BACKEND must be %q or %q, got %q", BackendDynamoDB, BackendSQLite, c.Directory.Backend)
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID cannot be empty")
	}
	if c.Phone.CountryCode == "" {
		return fmt.Errorf("DEFAULT_COUNTRY_CODE cannot be empty")
	}
	if c.Conversation.InactivityLimit <= 0 {
		return fmt.Errorf("INACTIVITY_LIMIT must be > 0")
	}
	if c.Conversation.CleanupTimeout <= 0 {
		return fmt.Errorf("CLEANUP_TIMEOUT must be > 0")
	}
	if c.Conversation.MaxReminders < 0 {
		return fmt.Errorf("MAX_REMINDERS must be >= 0")
	}
	if strings.TrimSpace(c.Conversation.FinalMessage) == "" {
		return fmt.Errorf("FINAL_MESSAGE cannot be empty")
	}
	if c.Conversation.IdleCleanupTimeout < 0 {
		return fmt.Errorf("IDLE_CLEANUP_TIMEOUT must be >= 0")
	}
	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("MAX_HISTORY must be > 0")
	}
	if c.History.MaxContent <= 0 {
		return fmt.Errorf("MAX_HISTORY_CONTENT must be > 0")
	}
	if c.Cache.DirectoryTTL <= 0 || c.Cache.IntentTTL <= 0 {
		return fmt.Errorf("DIRECTORY_CACHE_TTL and INTENT_CACHE_TTL must be > 0")
	}
	if c.Cache.NegativeTTL <= 0 || c.Cache.NegativeTTL >= c.Cache.DirectoryTTL {
		return fmt.Errorf("DIRECTORY_NEGATIVE_TTL must be > 0 and shorter than DIRECTORY_CACHE_TTL")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be > 0")
	}
	if c.Events.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_EVENTS must be > 0")
	}
	if c.Events.Timeout <= 0 || c.Events.NotifyTimeout <= 0 {
		return fmt.Errorf("EVENT_TIMEOUT and NOTIFY_TIMEOUT must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma separated value, dropping blank items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
