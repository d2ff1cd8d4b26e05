package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSecurityEnvironment = "local"
	defaultStoreDriver         = StoreDriverFirestore
	defaultOrderEventsTopic    = "order-events"
	defaultTxAttempts          = 8
	defaultTxTimeout           = 15 * time.Second
	defaultTimezone            = "UTC"
	defaultOrderNumberPrefix   = "SO"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
)

const (
	// StoreDriverFirestore persists orders, stock and history in Cloud Firestore.
	StoreDriverFirestore = "firestore"
	// StoreDriverMemory keeps everything in process memory. Intended for local runs.
	StoreDriverMemory = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Store       StoreConfig
	Fulfillment FulfillmentConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings. CredentialsJSON may be a secret reference.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	// DialTimeout bounds client creation; zero keeps the provider default.
	DialTimeout time.Duration
}

// PubSubConfig selects where order lifecycle events are published. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	EmulatorHost     string
	OrderEventsTopic string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
	// SeedFile optionally names a JSON catalog loaded into the memory driver at startup.
	SeedFile string
}

// FulfillmentConfig tunes the order fulfillment transactions.
type FulfillmentConfig struct {
	TxAttempts        int
	TxTimeout         time.Duration
	Timezone          string
	OrderNumberPrefix string
}

// Location resolves the configured time zone used to bucket sales by month.
func (c FulfillmentConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		name = defaultTimezone
	}
	return time.LoadLocation(name)
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment  string
	AuthDisabled bool
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header   string
	TTL      time.Duration
	Required bool
	// RedisAddr moves reservations to Redis when set. RedisPassword may be a secret reference.
	RedisAddr     string
	RedisPassword string
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

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to build the secret resolver
// before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	options.secret = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", errSecretResolverNotConfigured
	})
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			CredentialsJSON: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_JSON", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			DialTimeout:  durationWithDefault(lookup, "API_FIRESTORE_DIAL_TIMEOUT", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			EmulatorHost:     stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", defaultStoreDriver)),
			SeedFile: stringWithDefault(lookup, "API_STORE_SEED_FILE", ""),
		},
		Fulfillment: FulfillmentConfig{
			TxAttempts:        intWithDefault(lookup, "API_FULFILLMENT_TX_ATTEMPTS", defaultTxAttempts),
			TxTimeout:         durationWithDefault(lookup, "API_FULFILLMENT_TX_TIMEOUT", defaultTxTimeout),
			Timezone:          stringWithDefault(lookup, "API_FULFILLMENT_TIMEZONE", defaultTimezone),
			OrderNumberPrefix: stringWithDefault(lookup, "API_FULFILLMENT_ORDER_NUMBER_PREFIX", defaultOrderNumberPrefix),
		},
		Security: SecurityConfig{
			Environment:  strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			AuthDisabled: boolWithDefault(lookup, "API_SECURITY_AUTH_DISABLED", false),
		},
		Idempotency: IdempotencyConfig{
			Header:        stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:           durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Required:      boolWithDefault(lookup, "API_IDEMPOTENCY_REQUIRED", false),
			RedisAddr:     stringWithDefault(lookup, "API_IDEMPOTENCY_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "API_IDEMPOTENCY_REDIS_PASSWORD", ""),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecret(ctx, cfg.Firebase.CredentialsJSON, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Firebase.CredentialsJSON = resolved

	resolved, err = resolveSecret(ctx, cfg.Idempotency.RedisPassword, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Idempotency.RedisPassword = resolved

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreDriverMemory:
	default:
		missing = append(missing, "Store.Driver")
	}
	if !cfg.Security.AuthDisabled && cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Security.AuthDisabled && cfg.Security.Environment != defaultSecurityEnvironment {
		missing = append(missing, "Security.AuthDisabled")
	}
	if cfg.Fulfillment.TxAttempts <= 0 {
		missing = append(missing, "Fulfillment.TxAttempts")
	}
	if cfg.Fulfillment.TxTimeout <= 0 {
		missing = append(missing, "Fulfillment.TxTimeout")
	}
	if _, err := cfg.Fulfillment.Location(); err != nil {
		missing = append(missing, "Fulfillment.Timezone")
	}
	if strings.TrimSpace(cfg.Fulfillment.OrderNumberPrefix) == "" {
		missing = append(missing, "Fulfillment.OrderNumberPrefix")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
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

	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
