package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
)

const settingsKey = "app_config"

// OnChangeFunc is called when settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

// SettingsStore holds the live configuration. It is persisted as JSON in the
// settings table with every secret encrypted, and served masked to the API.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     ports.SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

// NewSettingsStore loads saved settings, or persists base when none exist.
// Secrets missing from the saved settings are taken from base, so keys
// supplied through the environment keep working after the first save.
func NewSettingsStore(ctx context.Context, logger *slog.Logger, repo ports.SettingsRepository, secret *SecretKey, base *domain.AppConfig) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	cfg, err := store.loadFromDB(ctx)
	if err != nil {
		logger.Info("no saved settings found, using startup configuration", "error", err)
		cfg = base.Clone()
		if err := store.saveToDB(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to save initial config: %w", err)
		}
	} else {
		baseSecrets := base.Clone().Secrets()
		for name, value := range cfg.Secrets() {
			if *value == "" {
				*value = *baseSecrets[name]
			}
		}
	}

	store.config = cfg
	return store, nil
}

// OnChange registers a callback for when settings are updated.
// Used by the job service to hot-reload providers.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns a copy of the current config with decrypted secrets.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// GetMaskedConfig returns config safe for API response (secrets masked).
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	cfg := s.GetConfig()
	for _, value := range cfg.Secrets() {
		*value = MaskSecret(*value)
	}
	return cfg
}

// UpdateConfig validates, encrypts secrets, persists, and triggers onChange callbacks.
// Smart merge: a secret sent empty or masked keeps its existing value.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	s.mu.Lock()

	next := update.Clone()
	current := s.config.Secrets()
	for name, value := range next.Secrets() {
		if *value == "" || isMasked(*value) {
			*value = *current[name]
		}
	}

	if err := Validate(next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.saveToDB(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}

	s.config = next
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		"script_mode", next.Providers.Script.Mode,
		"image_sources", next.Providers.Images.Sources,
		"speech_mode", next.Providers.Speech.Mode,
		"encoder_runtime", next.Providers.Encoder.Runtime,
	)

	// Callbacks run outside the lock so they may read the config.
	for _, fn := range callbacks {
		fn(next.Clone())
	}
	return nil
}

func (s *SettingsStore) loadFromDB(ctx context.Context) (*domain.AppConfig, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultConfig()
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	for name, value := range cfg.Secrets() {
		plain, err := s.secret.Decrypt(*value)
		if err != nil {
			s.logger.Warn("failed to decrypt secret", "secret", name, "error", err)
			*value = ""
			continue
		}
		*value = plain
	}
	return cfg, nil
}

func (s *SettingsStore) saveToDB(ctx context.Context, cfg *domain.AppConfig) error {
	stored := cfg.Clone()
	for name, value := range stored.Secrets() {
		enc, err := s.secret.Encrypt(*value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", name, err)
		}
		*value = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}
