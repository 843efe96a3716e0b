package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultEnvironment       = "local"
	defaultCartBackend       = CartBackendFirestore
	defaultCartRedisTTL      = 30 * 24 * time.Hour
	defaultCartIdleTTL       = 30 * time.Minute
	defaultCartSweepInterval = time.Minute
	defaultSMSSuccessCode    = 202
	defaultSMSCountryCode    = "880"
	defaultHTTPClientTimeout = 10 * time.Second
	defaultTranslateCache    = 1024
	defaultDispatchWorkers   = 4
	defaultDispatchQueue     = 256
)

const (
	// CartBackendFirestore persists carts in the carts collection.
	CartBackendFirestore = "firestore"
	// CartBackendRedis persists carts in Redis under cart:{session} keys.
	CartBackendRedis = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Cart          CartConfig
	Storage       StorageConfig
	SMS           SMSConfig
	Translation   TranslationConfig
	PubSub        PubSubConfig
	Notifications NotificationConfig
	Settings      SettingsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	PublicBaseURL string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// CartConfig selects and tunes the cart persistence backend.
type CartConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// StorageConfig names the bucket product and banner images are uploaded to.
type StorageConfig struct {
	ImagesBucket string
}

// SMSConfig describes the HTTP SMS gateway.
type SMSConfig struct {
	Endpoint    string
	APIKey      string
	SenderID    string
	SuccessCode int
	CountryCode string
	Timeout     time.Duration
}

// TranslationConfig describes the machine translation endpoint.
type TranslationConfig struct {
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	CacheSize int
}

// PubSubConfig configures the SMS notification topic used between the API and the notifier.
type PubSubConfig struct {
	ProjectID    string
	EmulatorHost string
	SMSTopic     string
	Subscription string
}

// NotificationConfig tunes the in-process dispatcher.
type NotificationConfig struct {
	Workers   int
	QueueSize int
}

// SettingsConfig points at an optional YAML file seeding store settings.
type SettingsConfig struct {
	SeedFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to empty values.
// Names are redacted so the error can be logged safely.
type MissingSecretsError struct {
	redacted []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.redacted, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.redacted...)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that wins over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "SMS.APIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map)
// so callers can build dependencies such as the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration from defaults, .env overrides,
// environment variables and Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "STORE_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:          stringWithDefault(lookup, "STORE_SERVER_PORT", defaultPort),
			ReadTimeout:   durationWithDefault(lookup, "STORE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:  durationWithDefault(lookup, "STORE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:   durationWithDefault(lookup, "STORE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			PublicBaseURL: strings.TrimRight(stringWithDefault(lookup, "STORE_PUBLIC_BASE_URL", ""), "/"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "STORE_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "STORE_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "STORE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "STORE_FIRESTORE_EMULATOR_HOST", ""),
		},
		Cart: CartConfig{
			Backend:       strings.ToLower(stringWithDefault(lookup, "STORE_CART_BACKEND", defaultCartBackend)),
			RedisAddr:     stringWithDefault(lookup, "STORE_CART_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "STORE_CART_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "STORE_CART_REDIS_DB", 0),
			RedisTTL:      durationWithDefault(lookup, "STORE_CART_REDIS_TTL", defaultCartRedisTTL),
			IdleTTL:       durationWithDefault(lookup, "STORE_CART_IDLE_TTL", defaultCartIdleTTL),
			SweepInterval: durationWithDefault(lookup, "STORE_CART_SWEEP_INTERVAL", defaultCartSweepInterval),
		},
		Storage: StorageConfig{
			ImagesBucket: stringWithDefault(lookup, "STORE_STORAGE_IMAGES_BUCKET", ""),
		},
		SMS: SMSConfig{
			Endpoint:    stringWithDefault(lookup, "STORE_SMS_ENDPOINT", ""),
			APIKey:      stringWithDefault(lookup, "STORE_SMS_API_KEY", ""),
			SenderID:    stringWithDefault(lookup, "STORE_SMS_SENDER_ID", ""),
			SuccessCode: intWithDefault(lookup, "STORE_SMS_SUCCESS_CODE", defaultSMSSuccessCode),
			CountryCode: stringWithDefault(lookup, "STORE_SMS_COUNTRY_CODE", defaultSMSCountryCode),
			Timeout:     durationWithDefault(lookup, "STORE_SMS_TIMEOUT", defaultHTTPClientTimeout),
		},
		Translation: TranslationConfig{
			Endpoint:  stringWithDefault(lookup, "STORE_TRANSLATE_ENDPOINT", ""),
			APIKey:    stringWithDefault(lookup, "STORE_TRANSLATE_API_KEY", ""),
			Timeout:   durationWithDefault(lookup, "STORE_TRANSLATE_TIMEOUT", defaultHTTPClientTimeout),
			CacheSize: intWithDefault(lookup, "STORE_TRANSLATE_CACHE_SIZE", defaultTranslateCache),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "STORE_PUBSUB_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "STORE_PUBSUB_EMULATOR_HOST", ""),
			SMSTopic:     stringWithDefault(lookup, "STORE_PUBSUB_SMS_TOPIC", ""),
			Subscription: stringWithDefault(lookup, "STORE_PUBSUB_SMS_SUBSCRIPTION", ""),
		},
		Notifications: NotificationConfig{
			Workers:   intWithDefault(lookup, "STORE_NOTIFY_WORKERS", defaultDispatchWorkers),
			QueueSize: intWithDefault(lookup, "STORE_NOTIFY_QUEUE_SIZE", defaultDispatchQueue),
		},
		Settings: SettingsConfig{
			SeedFile: stringWithDefault(lookup, "STORE_SETTINGS_SEED_FILE", ""),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"SMS.APIKey", &cfg.SMS.APIKey},
		{"Translation.APIKey", &cfg.Translation.APIKey},
		{"Cart.RedisPassword", &cfg.Cart.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.PublicBaseURL == "" {
		missing = append(missing, "Server.PublicBaseURL")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.Cart.Backend {
	case CartBackendFirestore:
	case CartBackendRedis:
		if cfg.Cart.RedisAddr == "" {
			missing = append(missing, "Cart.RedisAddr")
		}
	default:
		missing = append(missing, "Cart.Backend")
	}
	if cfg.Cart.IdleTTL <= 0 {
		missing = append(missing, "Cart.IdleTTL")
	}
	if cfg.Cart.SweepInterval <= 0 {
		missing = append(missing, "Cart.SweepInterval")
	}
	if cfg.SMS.Endpoint != "" && cfg.SMS.APIKey == "" {
		missing = append(missing, "SMS.APIKey")
	}
	if cfg.PubSub.Subscription != "" && cfg.PubSub.SMSTopic == "" {
		missing = append(missing, "PubSub.SMSTopic")
	}
	if cfg.Notifications.Workers <= 0 {
		missing = append(missing, "Notifications.Workers")
	}
	if cfg.Notifications.QueueSize <= 0 {
		missing = append(missing, "Notifications.QueueSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var redacted []string
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		sum := sha256.Sum256([]byte(trimmed))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	if len(redacted) == 0 {
		return nil
	}
	sort.Strings(redacted)
	return &MissingSecretsError{redacted: redacted}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
