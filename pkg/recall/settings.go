package recall

import "context"

const (
	// ServiceSettingsStore is the service registry key for the scoped settings store.
	ServiceSettingsStore = "recall.settings_store"
	// ServiceFeatureToggle is the service registry key for the antidelete master toggle.
	ServiceFeatureToggle = "recall.feature_toggle"
)

// SettingsScopeGlobal is the scope used for bot-wide settings.
const SettingsScopeGlobal = "global"

// SettingsStore persists string settings grouped by scope.
//
// Implementations must be safe for concurrent use.
type SettingsStore interface {
	// Get returns one value or ErrSettingNotFound.
	Get(ctx context.Context, scope string, key string) (string, error)
	// Set creates or replaces one value.
	Set(ctx context.Context, scope string, key string, value string) error
	// All returns every key/value stored under scope.
	All(ctx context.Context, scope string) (map[string]string, error)
}

// FeatureToggle is the persisted master switch of the antidelete feature.
type FeatureToggle interface {
	// Enabled reports the persisted switch state.
	Enabled(ctx context.Context) (bool, error)
	// SetEnabled persists a new switch state.
	SetEnabled(ctx context.Context, enabled bool) error
}
