package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const maxGreetingLength = 160

var (
	// ErrSettingsInvalidInput indicates the submitted settings failed validation.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsUnavailable indicates the settings document could not be written.
	ErrSettingsUnavailable = errors.New("settings: unavailable")
)

// SettingsServiceDeps wires the settings document store.
type SettingsServiceDeps struct {
	Settings repositories.SettingsRepository
	// Seed is served while the settings document does not exist.
	Seed   *StoreSettings
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type settingsService struct {
	repo      repositories.SettingsRepository
	seed      StoreSettings
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	sanitizer *bluemonday.Policy

	mu      sync.RWMutex
	current StoreSettings
}

// NewSettingsService constructs a SettingsService. The seed, when present, is
// served until the first read completes.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings service: settings repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	var seed StoreSettings
	if deps.Seed != nil {
		seed = cloneSettings(*deps.Seed)
	}
	return &settingsService{
		repo:      deps.Settings,
		seed:      seed,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
		current:   cloneSettings(seed),
	}, nil
}

func (s *settingsService) Current() StoreSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSettings(s.current)
}

// Refresh rereads the document. A missing document yields the seed; other
// failures keep the last known settings.
func (s *settingsService) Refresh(ctx context.Context) StoreSettings {
	settings, err := s.repo.Get(ctx)
	switch {
	case err == nil:
		s.set(settings)
	case isRepoNotFound(err):
		s.set(s.seed)
	default:
		s.logger(ctx, "settings.read_failed", map[string]any{"error": err.Error()})
	}
	return s.Current()
}

func (s *settingsService) Save(ctx context.Context, settings StoreSettings) (StoreSettings, error) {
	cleaned, err := s.normalise(settings)
	if err != nil {
		return StoreSettings{}, err
	}
	cleaned.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, cleaned); err != nil {
		s.logger(ctx, "settings.write_failed", map[string]any{"error": err.Error()})
		return StoreSettings{}, ErrSettingsUnavailable
	}
	s.set(cleaned)
	s.logger(ctx, "settings.saved", map[string]any{
		"shippingOptions": len(cleaned.ShippingOptions),
		"greetings":       len(cleaned.Greetings),
	})
	return cloneSettings(cleaned), nil
}

// Watch follows the settings document until ctx ends.
func (s *settingsService) Watch(ctx context.Context) error {
	err := s.repo.Watch(ctx, func(settings StoreSettings, exists bool) {
		if !exists {
			s.set(s.seed)
			return
		}
		s.set(settings)
	})
	if err != nil && ctx.Err() == nil {
		s.logger(ctx, "settings.watch_failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

func (s *settingsService) set(settings StoreSettings) {
	copied := cloneSettings(settings)
	s.mu.Lock()
	s.current = copied
	s.mu.Unlock()
}

func (s *settingsService) normalise(settings StoreSettings) (StoreSettings, error) {
	out := StoreSettings{
		ShippingOptions: make([]ShippingOption, 0, len(settings.ShippingOptions)),
		Greetings:       make(map[OrderStatus]string, len(settings.Greetings)),
	}
	seen := make(map[string]struct{}, len(settings.ShippingOptions))
	for i, option := range settings.ShippingOptions {
		option.ID = strings.TrimSpace(option.ID)
		option.Label = strings.TrimSpace(option.Label)
		switch {
		case option.ID == "":
			return StoreSettings{}, fmt.Errorf("%w: shipping option %d has no id", ErrSettingsInvalidInput, i)
		case option.Label == "":
			return StoreSettings{}, fmt.Errorf("%w: shipping option %q has no label", ErrSettingsInvalidInput, option.ID)
		case option.Price < 0:
			return StoreSettings{}, fmt.Errorf("%w: shipping option %q has a negative price", ErrSettingsInvalidInput, option.ID)
		}
		if _, dup := seen[option.ID]; dup {
			return StoreSettings{}, fmt.Errorf("%w: duplicate shipping option %q", ErrSettingsInvalidInput, option.ID)
		}
		seen[option.ID] = struct{}{}
		out.ShippingOptions = append(out.ShippingOptions, option)
	}
	for status, template := range settings.Greetings {
		canonical, ok := domain.ParseOrderStatus(string(status))
		if !ok {
			return StoreSettings{}, fmt.Errorf("%w: unknown status %q", ErrSettingsInvalidInput, status)
		}
		template = strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(template)))
		if len([]rune(template)) > maxGreetingLength {
			return StoreSettings{}, fmt.Errorf("%w: greeting for %q is too long", ErrSettingsInvalidInput, canonical)
		}
		if template == "" {
			continue
		}
		out.Greetings[canonical] = template
	}
	return out, nil
}

func cloneSettings(in StoreSettings) StoreSettings {
	out := StoreSettings{
		ShippingOptions: slices.Clone(in.ShippingOptions),
		Greetings:       maps.Clone(in.Greetings),
		UpdatedAt:       in.UpdatedAt,
	}
	if out.Greetings == nil {
		out.Greetings = map[OrderStatus]string{}
	}
	return out
}

type settingsSeedFile struct {
	ShippingOptions []struct {
		ID    string `yaml:"id"`
		Label string `yaml:"label"`
		Price string `yaml:"price"`
	} `yaml:"shippingOptions"`
	Greetings map[string]string `yaml:"greetings"`
}

// LoadSettingsSeed reads default store settings from a YAML file.
func LoadSettingsSeed(path string) (StoreSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StoreSettings{}, fmt.Errorf("settings seed: read %s: %w", path, err)
	}
	return ParseSettingsSeed(raw)
}

// ParseSettingsSeed decodes the YAML seed format. Prices are decimal taka
// strings; greeting keys accept any status alias.
func ParseSettingsSeed(raw []byte) (StoreSettings, error) {
	var file settingsSeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return StoreSettings{}, fmt.Errorf("settings seed: decode: %w", err)
	}
	out := StoreSettings{Greetings: map[OrderStatus]string{}}
	for _, option := range file.ShippingOptions {
		price, err := domain.ParseMoney(option.Price)
		if err != nil {
			return StoreSettings{}, fmt.Errorf("settings seed: option %q: %w", option.ID, err)
		}
		out.ShippingOptions = append(out.ShippingOptions, ShippingOption{
			ID:    strings.TrimSpace(option.ID),
			Label: strings.TrimSpace(option.Label),
			Price: price,
		})
	}
	for key, template := range file.Greetings {
		status, ok := domain.ParseOrderStatus(key)
		if !ok {
			return StoreSettings{}, fmt.Errorf("settings seed: unknown status %q", key)
		}
		out.Greetings[status] = template
	}
	return out, nil
}
