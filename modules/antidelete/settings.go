package antidelete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"wa-recall/pkg/recall"
)

// Global settings keys.
const (
	KeyAntidelete       = "antidelete"
	KeyAntideleteMode   = "antidelete_mode"
	KeyAntiviewonce     = "antiviewonce"
	KeyAntiviewonceMode = "antiviewonce_mode"
	// KeyViewOnceWarns is stored under the sender's own scope.
	KeyViewOnceWarns = "viewonce_warns"
)

const featureConfigCacheKey = "feature_config"

// AntideleteMode routes deletion reports.
type AntideleteMode string

const (
	// AntideleteModeOwner reports every deletion to the owner only.
	AntideleteModeOwner AntideleteMode = "owner"
	// AntideleteModeChat reports group deletions back into the group.
	AntideleteModeChat AntideleteMode = "chat"
	// AntideleteModePrivate tracks private chats only.
	AntideleteModePrivate AntideleteMode = "private"
)

// ViewOnceMode routes view-once interceptions.
type ViewOnceMode string

const (
	// ViewOnceModeOwner forwards view-once media to the owner.
	ViewOnceModeOwner ViewOnceMode = "owner"
	// ViewOnceModeChat reposts view-once media into the originating chat.
	ViewOnceModeChat ViewOnceMode = "chat"
	// ViewOnceModeWarn warns the sender and blocks at the third violation.
	ViewOnceModeWarn ViewOnceMode = "warn"
)

// ParseAntideleteMode validates a mode token.
func ParseAntideleteMode(raw string) (AntideleteMode, bool) {
	switch mode := AntideleteMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case AntideleteModeOwner, AntideleteModeChat, AntideleteModePrivate:
		return mode, true
	default:
		return "", false
	}
}

// ParseViewOnceMode validates a mode token.
func ParseViewOnceMode(raw string) (ViewOnceMode, bool) {
	switch mode := ViewOnceMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ViewOnceModeOwner, ViewOnceModeChat, ViewOnceModeWarn:
		return mode, true
	default:
		return "", false
	}
}

// FeatureConfig is a snapshot of the feature switches with defaults applied.
type FeatureConfig struct {
	AntideleteEnabled   bool
	AntideleteMode      AntideleteMode
	AntiviewonceEnabled bool
	AntiviewonceMode    ViewOnceMode
}

// Active reports whether either feature needs to look at inbound messages.
func (c FeatureConfig) Active() bool {
	return c.AntideleteEnabled || c.AntiviewonceEnabled
}

func defaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		AntideleteMode:   AntideleteModeOwner,
		AntiviewonceMode: ViewOnceModeOwner,
	}
}

// settingsCache is a read-through TTL cache of FeatureConfig in front of the
// settings store and the master toggle.
type settingsCache struct {
	store  recall.SettingsStore
	toggle recall.FeatureToggle
	cache  *gocache.Cache
	logger *slog.Logger
}

func newSettingsCache(
	store recall.SettingsStore,
	toggle recall.FeatureToggle,
	ttl time.Duration,
	logger *slog.Logger,
) *settingsCache {
	return &settingsCache{
		store:  store,
		toggle: toggle,
		// No janitor: expired entries are simply ignored by Get and replaced on the next load.
		cache:  gocache.New(ttl, 0),
		logger: logger,
	}
}

// Load returns the cached snapshot, reading the backend when it expired.
//
// Backend failures yield the disabled default, which is cached like any
// other result.
func (c *settingsCache) Load(ctx context.Context) FeatureConfig {
	if cached, ok := c.cache.Get(featureConfigCacheKey); ok {
		if config, ok := cached.(FeatureConfig); ok {
			return config
		}
	}

	config := c.read(ctx)
	c.cache.SetDefault(featureConfigCacheKey, config)

	return config
}

// Invalidate drops the cached snapshot.
func (c *settingsCache) Invalidate() {
	c.cache.Delete(featureConfigCacheKey)
}

func (c *settingsCache) read(ctx context.Context) FeatureConfig {
	config := defaultFeatureConfig()

	values, err := c.store.All(ctx, recall.SettingsScopeGlobal)
	if err != nil {
		c.logger.WarnContext(ctx, "antidelete settings unreadable, features disabled", "error", err)
		return config
	}

	toggleEnabled, err := c.toggle.Enabled(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "antidelete toggle unreadable", "error", err)
		toggleEnabled = false
	}

	config.AntideleteEnabled = toggleEnabled || parseBool(values[KeyAntidelete])
	config.AntiviewonceEnabled = parseBool(values[KeyAntiviewonce])
	if mode, ok := ParseAntideleteMode(values[KeyAntideleteMode]); ok {
		config.AntideleteMode = mode
	}
	if mode, ok := ParseViewOnceMode(values[KeyAntiviewonceMode]); ok {
		config.AntiviewonceMode = mode
	}

	return config
}

// SetAntidelete persists the antidelete switch in both the global settings
// and the master toggle.
func (c *settingsCache) SetAntidelete(ctx context.Context, enabled bool) error {
	defer c.Invalidate()

	if err := c.store.Set(ctx, recall.SettingsScopeGlobal, KeyAntidelete, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("save %s: %w", KeyAntidelete, err)
	}
	if err := c.toggle.SetEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("save antidelete toggle: %w", err)
	}

	return nil
}

// SetAntideleteMode persists the mode and enables the feature.
func (c *settingsCache) SetAntideleteMode(ctx context.Context, mode AntideleteMode) error {
	defer c.Invalidate()

	if err := c.store.Set(ctx, recall.SettingsScopeGlobal, KeyAntideleteMode, string(mode)); err != nil {
		return fmt.Errorf("save %s: %w", KeyAntideleteMode, err)
	}

	return c.SetAntidelete(ctx, true)
}

// SetAntiviewonce persists the view-once switch.
func (c *settingsCache) SetAntiviewonce(ctx context.Context, enabled bool) error {
	defer c.Invalidate()

	if err := c.store.Set(ctx, recall.SettingsScopeGlobal, KeyAntiviewonce, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("save %s: %w", KeyAntiviewonce, err)
	}

	return nil
}

// SetAntiviewonceMode persists the mode and enables the feature.
func (c *settingsCache) SetAntiviewonceMode(ctx context.Context, mode ViewOnceMode) error {
	defer c.Invalidate()

	if err := c.store.Set(ctx, recall.SettingsScopeGlobal, KeyAntiviewonceMode, string(mode)); err != nil {
		return fmt.Errorf("save %s: %w", KeyAntiviewonceMode, err)
	}

	return c.SetAntiviewonce(ctx, true)
}

// IncrementWarns bumps the per-sender view-once counter. Counters bypass
// the TTL cache.
func (c *settingsCache) IncrementWarns(ctx context.Context, sender string) (int, error) {
	current := 0
	raw, err := c.store.Get(ctx, sender, KeyViewOnceWarns)
	switch {
	case err == nil:
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(raw)); parseErr == nil && parsed > 0 {
			current = parsed
		}
	case errors.Is(err, recall.ErrSettingNotFound):
	default:
		return 0, fmt.Errorf("read %s for %s: %w", KeyViewOnceWarns, sender, err)
	}

	next := current + 1
	if err := c.store.Set(ctx, sender, KeyViewOnceWarns, strconv.Itoa(next)); err != nil {
		return 0, fmt.Errorf("save %s for %s: %w", KeyViewOnceWarns, sender, err)
	}

	return next, nil
}

// ResetWarns clears the per-sender view-once counter.
func (c *settingsCache) ResetWarns(ctx context.Context, sender string) error {
	if err := c.store.Set(ctx, sender, KeyViewOnceWarns, "0"); err != nil {
		return fmt.Errorf("reset %s for %s: %w", KeyViewOnceWarns, sender, err)
	}

	return nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}
