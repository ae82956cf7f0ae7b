// Package settings provides the persisted key-value backends behind the
// antidelete feature switches.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"wa-recall/pkg/recall"
)

// Environment variables that select the database backend, in priority order.
var databaseEnvKeys = []string{"RECALL_DB_URL", "DB_URL"}

const (
	settingsFileName = "settings.json"
	toggleFileName   = "antidelete.json"
)

// Backend groups the store and toggle chosen for this process.
type Backend struct {
	// Kind is "sqlite" or "file".
	Kind   string
	Store  recall.SettingsStore
	Toggle recall.FeatureToggle

	closer func() error
}

// Close releases backend resources.
func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}

	return b.closer()
}

// OpenOptions controls backend detection.
type OpenOptions struct {
	// DataDir holds the JSON documents of the file backend.
	DataDir string
	// DatabaseURL is used when no database environment variable is set.
	DatabaseURL string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	Logger    *slog.Logger
}

// Open selects the SQLite backend when a database URL is configured and the
// JSON file backend otherwise.
func Open(ctx context.Context, options OpenOptions) (*Backend, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lookupEnv := options.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	dataDir := options.DataDir
	if dataDir == "" {
		dataDir = "data"
	}

	databaseURL := detectDatabaseURL(lookupEnv, options.DatabaseURL)
	if databaseURL == "" {
		store := NewFileStore(filepath.Join(dataDir, settingsFileName))
		logger.InfoContext(ctx, "settings backend selected", "backend", "file", "dir", dataDir)
		return &Backend{
			Kind:   "file",
			Store:  store,
			Toggle: NewFileToggle(filepath.Join(dataDir, toggleFileName), logger),
		}, nil
	}

	dsn, err := sqliteDSN(databaseURL)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(dsnPath(dsn)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create settings database dir: %w", err)
		}
	}
	store, err := OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "settings backend selected", "backend", "sqlite")

	return &Backend{
		Kind:   "sqlite",
		Store:  store,
		Toggle: NewStoreToggle(store, logger),
		closer: store.Close,
	}, nil
}

func detectDatabaseURL(lookupEnv func(string) (string, bool), fallback string) string {
	for _, key := range databaseEnvKeys {
		if value, ok := lookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}

	return strings.TrimSpace(fallback)
}

// sqliteDSN accepts sqlite:// and sqlite3:// URLs, file: DSNs, and bare paths.
func sqliteDSN(databaseURL string) (string, error) {
	for _, prefix := range []string{"sqlite3://", "sqlite://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return strings.TrimPrefix(databaseURL, prefix), nil
		}
	}
	if scheme, _, found := strings.Cut(databaseURL, "://"); found {
		return "", fmt.Errorf("open settings: unsupported database scheme %q", scheme)
	}

	return databaseURL, nil
}

// dsnPath strips the file: prefix and query options from a SQLite DSN.
func dsnPath(dsn string) string {
	path, _, _ := strings.Cut(dsn, "?")

	return strings.TrimPrefix(path, "file:")
}
