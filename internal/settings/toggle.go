package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"wa-recall/pkg/recall"
)

// KeyToggleConfig is the global settings key holding the database toggle document.
const KeyToggleConfig = "antidelete_cfg"

type toggleDocument struct {
	Enabled bool `json:"enabled"`
}

// FileToggle persists the master switch as {"enabled": bool} in a local file.
//
// A missing or corrupt file reads as disabled.
type FileToggle struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileToggle creates a toggle stored at path.
func NewFileToggle(path string, logger *slog.Logger) *FileToggle {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileToggle{path: path, logger: logger}
}

// Enabled reports the persisted switch state.
func (t *FileToggle) Enabled(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		t.logger.WarnContext(ctx, "antidelete toggle unreadable, treating as disabled", "path", t.path, "error", err)
		return false, nil
	}

	var doc toggleDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.logger.WarnContext(ctx, "antidelete toggle corrupt, treating as disabled", "path", t.path, "error", err)
		return false, nil
	}

	return doc.Enabled, nil
}

// SetEnabled persists a new switch state.
func (t *FileToggle) SetEnabled(_ context.Context, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := writeJSONAtomic(t.path, toggleDocument{Enabled: enabled}); err != nil {
		return fmt.Errorf("save antidelete toggle: %w", err)
	}

	return nil
}

// StoreToggle persists the master switch inside a settings store under
// global/antidelete_cfg.
type StoreToggle struct {
	store  recall.SettingsStore
	logger *slog.Logger
}

// NewStoreToggle creates a toggle backed by store.
func NewStoreToggle(store recall.SettingsStore, logger *slog.Logger) *StoreToggle {
	if logger == nil {
		logger = slog.Default()
	}

	return &StoreToggle{store: store, logger: logger}
}

// Enabled reports the persisted switch state.
func (t *StoreToggle) Enabled(ctx context.Context) (bool, error) {
	raw, err := t.store.Get(ctx, recall.SettingsScopeGlobal, KeyToggleConfig)
	if errors.Is(err, recall.ErrSettingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read antidelete toggle: %w", err)
	}

	var doc toggleDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.logger.WarnContext(ctx, "antidelete toggle corrupt, treating as disabled", "error", err)
		return false, nil
	}

	return doc.Enabled, nil
}

// SetEnabled persists a new switch state.
func (t *StoreToggle) SetEnabled(ctx context.Context, enabled bool) error {
	raw, err := json.Marshal(toggleDocument{Enabled: enabled})
	if err != nil {
		return fmt.Errorf("encode antidelete toggle: %w", err)
	}
	if err := t.store.Set(ctx, recall.SettingsScopeGlobal, KeyToggleConfig, string(raw)); err != nil {
		return fmt.Errorf("save antidelete toggle: %w", err)
	}

	return nil
}
