// Package store implements the directory on SQLite, for single-node
// deployments and local development.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"whatsapp-agent/internal/directory"
	"whatsapp-agent/internal/domain"
)

var (
	_ directory.Directory = (*SQLiteStore)(nil)
	_ directory.Writer    = (*SQLiteStore)(nil)
)

// SQLiteStore implements directory.Directory and directory.Writer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("store: database path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		hours TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS assistants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 0,
		prompt TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS channels (
		phone TEXT PRIMARY KEY,
		id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 0,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		assistant_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS intents (
		assistant_id TEXT NOT NULL REFERENCES assistants(id) ON DELETE CASCADE,
		intent_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		config TEXT,
		active INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (assistant_id, intent_key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ResolveChannel loads the channel, its business and its assistant in one
// query and applies the serviceability rules.
func (s *SQLiteStore) ResolveChannel(ctx context.Context, phone string) (*domain.DirectoryRecord, error) {
	query := `
		SELECT c.id, c.name, c.type, c.phone, c.active, c.assistant_id,
		       b.id, b.name, b.category, b.hours, b.location, b.website, b.active,
		       a.id, a.name, a.type, a.description, a.active, a.prompt
		FROM channels c
		JOIN businesses b ON b.id = c.business_id
		LEFT JOIN assistants a ON a.id = c.assistant_id
		WHERE c.phone = ?`

	var ch directory.ChannelEntry
	var aID, aName, aType, aDesc, aPrompt sql.NullString
	var aActive sql.NullBool

	err := s.db.QueryRowContext(ctx, query, phone).Scan(
		&ch.Channel.ID, &ch.Channel.Name, &ch.Channel.Type, &ch.Channel.Phone, &ch.Active, &ch.AssistantID,
		&ch.Business.ID, &ch.Business.Name, &ch.Business.Category, &ch.Business.Hours,
		&ch.Business.Location, &ch.Business.Website, &ch.BusinessActive,
		&aID, &aName, &aType, &aDesc, &aActive, &aPrompt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan channel row: %w", err)
	}

	var assistant *directory.AssistantEntry
	if aID.Valid {
		assistant = &directory.AssistantEntry{
			Assistant: domain.Assistant{
				ID:          aID.String,
				Name:        aName.String,
				Type:        aType.String,
				Description: aDesc.String,
			},
			Active: aActive.Bool,
			Prompt: aPrompt.String,
		}
	}
	return directory.BuildRecord(ch, assistant), nil
}

// ListIntents returns the assistant's active intents in the order they were
// written.
func (s *SQLiteStore) ListIntents(ctx context.Context, assistantID string) ([]domain.IntentConfig, error) {
	query := `
		SELECT intent_key, name, description, action_type, config, active
		FROM intents WHERE assistant_id = ?
		ORDER BY position, intent_key`

	rows, err := s.db.QueryContext(ctx, query, assistantID)
	if err != nil {
		return nil, fmt.Errorf("store: query intents: %w", err)
	}
	defer rows.Close()

	var entries []directory.IntentEntry
	for rows.Next() {
		var e directory.IntentEntry
		var action string
		var cfg sql.NullString
		if err := rows.Scan(&e.Key, &e.Name, &e.Description, &action, &cfg, &e.Active); err != nil {
			return nil, fmt.Errorf("store: scan intent row: %w", err)
		}
		e.ActionType = domain.ActionType(action)
		if cfg.Valid && cfg.String != "" {
			e.Config = []byte(cfg.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate intents: %w", err)
	}
	return directory.ActiveIntents(entries), nil
}

// PutChannel upserts the business and the channel in one transaction.
func (s *SQLiteStore) PutChannel(ctx context.Context, e directory.ChannelEntry) error {
	if strings.TrimSpace(e.Channel.Phone) == "" {
		return errors.New("store: channel phone is required")
	}
	if strings.TrimSpace(e.Business.ID) == "" {
		return errors.New("store: business id is required")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO businesses (id, name, category, hours, location, website, active)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				category = excluded.category,
				hours = excluded.hours,
				location = excluded.location,
				website = excluded.website,
				active = excluded.active`,
			e.Business.ID, e.Business.Name, e.Business.Category, e.Business.Hours,
			e.Business.Location, e.Business.Website, e.BusinessActive,
		)
		if err != nil {
			return fmt.Errorf("upsert business: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO channels (phone, id, name, type, active, business_id, assistant_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(phone) DO UPDATE SET
				id = excluded.id,
				name = excluded.name,
				type = excluded.type,
				active = excluded.active,
				business_id = excluded.business_id,
				assistant_id = excluded.assistant_id`,
			e.Channel.Phone, e.Channel.ID, e.Channel.Name, e.Channel.Type, e.Active,
			e.Business.ID, e.AssistantID,
		)
		if err != nil {
			return fmt.Errorf("upsert channel: %w", err)
		}
		return nil
	})
}

// PutAssistant upserts the assistant and its intents in one transaction.
func (s *SQLiteStore) PutAssistant(ctx context.Context, e directory.AssistantEntry) error {
	if strings.TrimSpace(e.Assistant.ID) == "" {
		return errors.New("store: assistant id is required")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assistants (id, name, type, description, active, prompt)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				description = excluded.description,
				active = excluded.active,
				prompt = excluded.prompt`,
			e.Assistant.ID, e.Assistant.Name, e.Assistant.Type, e.Assistant.Description, e.Active, e.Prompt,
		)
		if err != nil {
			return fmt.Errorf("upsert assistant: %w", err)
		}
		for i, in := range e.Intents {
			if strings.TrimSpace(in.Key) == "" {
				return errors.New("intent key is required")
			}
			var cfg any
			if len(in.Config) > 0 {
				cfg = string(in.Config)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO intents (assistant_id, intent_key, name, description, action_type, config, active, position)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(assistant_id, intent_key) DO UPDATE SET
					name = excluded.name,
					description = excluded.description,
					action_type = excluded.action_type,
					config = excluded.config,
					active = excluded.active,
					position = excluded.position`,
				e.Assistant.ID, in.Key, in.Name, in.Description, string(in.ActionType), cfg, in.Active, i,
			)
			if err != nil {
				return fmt.Errorf("upsert intent %s: %w", in.Key, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
