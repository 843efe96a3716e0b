package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
	pfirestore "github.com/bazaarbd/storefront/internal/platform/firestore"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const (
	settingsCollection = "settings"
	settingsDocumentID = "store"
)

// SettingsRepository stores shipping options and greeting templates in settings/store.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[settingsDocument]
	now  func() time.Time
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		base: pfirestore.NewBaseRepository[settingsDocument](provider, settingsCollection),
		now:  time.Now,
	}, nil
}

// Get loads the settings document.
func (r *SettingsRepository) Get(ctx context.Context) (domain.StoreSettings, error) {
	if r == nil || r.base == nil {
		return domain.StoreSettings{}, errors.New("settings repository not initialised")
	}
	doc, err := r.base.Get(ctx, settingsDocumentID)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	return decodeSettings(doc.Data), nil
}

// Save replaces the settings document.
func (r *SettingsRepository) Save(ctx context.Context, settings domain.StoreSettings) error {
	if r == nil || r.base == nil {
		return errors.New("settings repository not initialised")
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = r.now()
	}
	return r.base.Set(ctx, settingsDocumentID, encodeSettings(settings))
}

// Watch streams the settings document until ctx ends.
func (r *SettingsRepository) Watch(ctx context.Context, emit func(domain.StoreSettings, bool)) error {
	if r == nil || r.base == nil {
		return errors.New("settings repository not initialised")
	}
	return r.base.WatchDocument(ctx, settingsDocumentID, func(doc pfirestore.Document[settingsDocument], exists bool) {
		if !exists {
			emit(domain.StoreSettings{}, false)
			return
		}
		emit(decodeSettings(doc.Data), true)
	})
}

type settingsDocument struct {
	ShippingOptions []shippingOptionDocument `firestore:"shippingOptions"`
	Greetings       map[string]string        `firestore:"greetings"`
	UpdatedAt       time.Time                `firestore:"updatedAt"`
}

type shippingOptionDocument struct {
	ID    string `firestore:"id"`
	Label string `firestore:"label"`
	Price int64  `firestore:"price"`
}

func encodeSettings(settings domain.StoreSettings) settingsDocument {
	doc := settingsDocument{
		ShippingOptions: make([]shippingOptionDocument, 0, len(settings.ShippingOptions)),
		Greetings:       make(map[string]string, len(settings.Greetings)),
		UpdatedAt:       settings.UpdatedAt.UTC(),
	}
	for _, option := range settings.ShippingOptions {
		doc.ShippingOptions = append(doc.ShippingOptions, shippingOptionDocument{
			ID:    option.ID,
			Label: option.Label,
			Price: int64(option.Price),
		})
	}
	for status, greeting := range settings.Greetings {
		doc.Greetings[string(status)] = greeting
	}
	return doc
}

func decodeSettings(doc settingsDocument) domain.StoreSettings {
	settings := domain.StoreSettings{
		ShippingOptions: make([]domain.ShippingOption, 0, len(doc.ShippingOptions)),
		Greetings:       make(map[domain.OrderStatus]string, len(doc.Greetings)),
		UpdatedAt:       doc.UpdatedAt,
	}
	for _, option := range doc.ShippingOptions {
		settings.ShippingOptions = append(settings.ShippingOptions, domain.ShippingOption{
			ID:    option.ID,
			Label: option.Label,
			Price: domain.Money(option.Price),
		})
	}
	for raw, greeting := range doc.Greetings {
		if status, ok := domain.ParseOrderStatus(raw); ok {
			settings.Greetings[status] = greeting
		}
	}
	return settings
}
