package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySettings struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemorySettings() *memorySettings {
	return &memorySettings{data: make(map[string]string)}
}

func (m *memorySettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("setting not found")
	}
	return v, nil
}

func (m *memorySettings) SaveSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func newTestStore(t *testing.T, repo *memorySettings, base *domain.AppConfig) *SettingsStore {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store, err := NewSettingsStore(context.Background(), logger, repo, NewSecretKeyFromPassphrase("unit-test"), base)
	require.NoError(t, err)
	return store
}

func TestSettingsStore_PersistsEncryptedSecrets(t *testing.T) {
	repo := newMemorySettings()
	base := domain.DefaultConfig()
	base.Providers.Images.PexelsAPIKey = "pexels-secret-value"

	store := newTestStore(t, repo, base)
	assert.Equal(t, "pexels-secret-value", store.GetConfig().Providers.Images.PexelsAPIKey)

	raw := repo.data[settingsKey]
	require.NotEmpty(t, raw)
	assert.NotContains(t, raw, "pexels-secret-value")
	assert.Contains(t, raw, encPrefix)

	// A second store over the same table decrypts what the first wrote.
	reloaded := newTestStore(t, repo, domain.DefaultConfig())
	assert.Equal(t, "pexels-secret-value", reloaded.GetConfig().Providers.Images.PexelsAPIKey)
}

func TestSettingsStore_SavedSettingsWinOverBase(t *testing.T) {
	repo := newMemorySettings()
	store := newTestStore(t, repo, domain.DefaultConfig())

	update := store.GetConfig()
	update.Pipeline.SecondsPerImage = 4
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	base := domain.DefaultConfig()
	base.Reddit.ClientSecret = "from-env"
	reloaded := newTestStore(t, repo, base)
	cfg := reloaded.GetConfig()
	assert.Equal(t, 4, cfg.Pipeline.SecondsPerImage)
	assert.Equal(t, "from-env", cfg.Reddit.ClientSecret, "missing secrets are filled from the startup config")
}

func TestSettingsStore_MaskedConfig(t *testing.T) {
	base := domain.DefaultConfig()
	base.Providers.Script.APIKey = "sk-abc123def"
	store := newTestStore(t, newMemorySettings(), base)

	masked := store.GetMaskedConfig()
	assert.Equal(t, "****3def", masked.Providers.Script.APIKey)
	assert.Empty(t, masked.Providers.Images.UnsplashAccessKey)
	assert.Equal(t, "sk-abc123def", store.GetConfig().Providers.Script.APIKey, "masking works on a copy")
}

func TestSettingsStore_UpdateKeepsMaskedSecrets(t *testing.T) {
	base := domain.DefaultConfig()
	base.Providers.Script.APIKey = "sk-original"
	base.Providers.Images.PexelsAPIKey = "pexels-original"
	store := newTestStore(t, newMemorySettings(), base)

	var notified *domain.AppConfig
	store.OnChange(func(cfg *domain.AppConfig) { notified = cfg })

	update := store.GetMaskedConfig()
	update.Providers.Images.PexelsAPIKey = ""
	update.Providers.Speech.APIKey = "sk-new-speech"
	update.Captions.FontSize = 60
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	cfg := store.GetConfig()
	assert.Equal(t, "sk-original", cfg.Providers.Script.APIKey)
	assert.Equal(t, "pexels-original", cfg.Providers.Images.PexelsAPIKey)
	assert.Equal(t, "sk-new-speech", cfg.Providers.Speech.APIKey)
	assert.Equal(t, 60, cfg.Captions.FontSize)

	require.NotNil(t, notified)
	assert.Equal(t, 60, notified.Captions.FontSize)
	assert.Equal(t, "sk-original", notified.Providers.Script.APIKey)
}

func TestSettingsStore_UpdateRejectsInvalidConfig(t *testing.T) {
	repo := newMemorySettings()
	store := newTestStore(t, repo, domain.DefaultConfig())
	before := repo.data[settingsKey]

	called := false
	store.OnChange(func(*domain.AppConfig) { called = true })

	update := store.GetConfig()
	update.Providers.Encoder.Runtime = "lambda"
	err := store.UpdateConfig(context.Background(), update)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "lambda"))

	assert.False(t, called)
	assert.Equal(t, "local", store.GetConfig().Providers.Encoder.Runtime)
	assert.Equal(t, before, repo.data[settingsKey])
}
