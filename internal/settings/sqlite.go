package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	// Registers the sqlite3 database/sql driver shared with the whatsmeow session store.
	_ "github.com/mattn/go-sqlite3"

	"wa-recall/pkg/recall"
)

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS settings (
	scope      TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (scope, key)
)`

// SQLiteStore is a recall.SettingsStore backed by one SQLite table.
type SQLiteStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

type settingRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// OpenSQLite opens (creating when needed) the settings database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createSettingsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init settings table: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     time.Now,
	}, nil
}

// Get returns one value or recall.ErrSettingNotFound.
func (s *SQLiteStore) Get(ctx context.Context, scope string, key string) (string, error) {
	query, args, err := s.builder.
		Select("value").
		From("settings").
		Where(sq.Eq{"scope": scope, "key": key}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build get setting %s/%s: %w", scope, key, err)
	}

	var value string
	if err := s.db.GetContext(ctx, &value, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("get setting %s/%s: %w", scope, key, recall.ErrSettingNotFound)
		}
		return "", fmt.Errorf("get setting %s/%s: %w", scope, key, err)
	}

	return value, nil
}

// Set upserts one value.
func (s *SQLiteStore) Set(ctx context.Context, scope string, key string, value string) error {
	query, args, err := s.builder.
		Insert("settings").
		Columns("scope", "key", "value", "updated_at").
		Values(scope, key, value, s.now().UTC()).
		Suffix("ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set setting %s/%s: %w", scope, key, err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set setting %s/%s: %w", scope, key, err)
	}

	return nil
}

// All returns every key/value stored under scope.
func (s *SQLiteStore) All(ctx context.Context, scope string) (map[string]string, error) {
	query, args, err := s.builder.
		Select("key", "value").
		From("settings").
		Where(sq.Eq{"scope": scope}).
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list settings %s: %w", scope, err)
	}

	var rows []settingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list settings %s: %w", scope, err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	return values, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close settings database: %w", err)
	}

	return nil
}
