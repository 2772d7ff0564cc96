package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultGatewayBaseURL       = "https://api.razorpay.com"
	defaultCurrency             = "INR"
	defaultSellerName           = "Stagelink Media Private Limited"
	defaultSweepInterval        = 5 * time.Minute
	defaultSweepStaleAfter      = 24 * time.Hour
	defaultSweepBatchSize       = 100
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Firestore   FirestoreConfig
	Gateway     GatewayConfig
	Invoices    InvoiceConfig
	Sweeper     SweeperConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig collects payment gateway credentials and signing secrets.
type GatewayConfig struct {
	BaseURL        string
	KeyID          string
	KeySecret      string
	CheckoutSecret string
	WebhookSecret  string
	Currency       string
}

// InvoiceConfig names the resources used by invoice document generation.
type InvoiceConfig struct {
	DocumentBucket  string
	JobTopic        string
	JobSubscription string
	SellerName      string
	SellerState     string
}

// SweeperConfig controls the reconciliation sweep loop.
type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// IdempotencyConfig controls replay protection for mutating endpoints.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
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

// ValidationError lists configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	sorted := append([]string(nil), e.fields...)
	sort.Strings(sorted)
	return fmt.Sprintf("config: missing or invalid fields: %s", strings.Join(sorted, ", "))
}

// Fields returns the config field names that failed validation.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolving secret %s: %v", e.Ref, e.Err)
}

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

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
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

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

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
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "BILLING_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "BILLING_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "BILLING_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "BILLING_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Logging: LoggingConfig{
			Level: stringWithDefault(lookup, "BILLING_LOG_LEVEL", defaultLogLevel),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "BILLING_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "BILLING_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:        stringWithDefault(lookup, "BILLING_GATEWAY_BASE_URL", defaultGatewayBaseURL),
			KeyID:          stringWithDefault(lookup, "BILLING_GATEWAY_KEY_ID", ""),
			KeySecret:      stringWithDefault(lookup, "BILLING_GATEWAY_KEY_SECRET", ""),
			CheckoutSecret: stringWithDefault(lookup, "BILLING_GATEWAY_CHECKOUT_SECRET", ""),
			WebhookSecret:  stringWithDefault(lookup, "BILLING_GATEWAY_WEBHOOK_SECRET", ""),
			Currency:       strings.ToUpper(stringWithDefault(lookup, "BILLING_GATEWAY_CURRENCY", defaultCurrency)),
		},
		Invoices: InvoiceConfig{
			DocumentBucket:  stringWithDefault(lookup, "BILLING_INVOICE_DOCUMENT_BUCKET", ""),
			JobTopic:        stringWithDefault(lookup, "BILLING_INVOICE_JOB_TOPIC", ""),
			JobSubscription: stringWithDefault(lookup, "BILLING_INVOICE_JOB_SUBSCRIPTION", ""),
			SellerName:      stringWithDefault(lookup, "BILLING_INVOICE_SELLER_NAME", defaultSellerName),
			SellerState:     stringWithDefault(lookup, "BILLING_INVOICE_SELLER_STATE", ""),
		},
		Sweeper: SweeperConfig{
			Interval:   durationWithDefault(lookup, "BILLING_SWEEP_INTERVAL", defaultSweepInterval),
			StaleAfter: durationWithDefault(lookup, "BILLING_SWEEP_STALE_AFTER", defaultSweepStaleAfter),
			BatchSize:  intWithDefault(lookup, "BILLING_SWEEP_BATCH_SIZE", defaultSweepBatchSize),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "BILLING_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "BILLING_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "BILLING_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "BILLING_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []*string{
		&cfg.Gateway.KeySecret,
		&cfg.Gateway.CheckoutSecret,
		&cfg.Gateway.WebhookSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

const defaultLogLevel = "info"

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
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Gateway.KeyID == "" {
		missing = append(missing, "Gateway.KeyID")
	}
	if cfg.Gateway.KeySecret == "" {
		missing = append(missing, "Gateway.KeySecret")
	}
	if cfg.Gateway.CheckoutSecret == "" {
		missing = append(missing, "Gateway.CheckoutSecret")
	}
	if cfg.Invoices.SellerState == "" {
		missing = append(missing, "Invoices.SellerState")
	}
	if cfg.Sweeper.Interval <= 0 {
		missing = append(missing, "Sweeper.Interval")
	}
	if cfg.Sweeper.StaleAfter <= 0 {
		missing = append(missing, "Sweeper.StaleAfter")
	}
	if cfg.Sweeper.BatchSize <= 0 {
		missing = append(missing, "Sweeper.BatchSize")
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

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if key == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", absPath, err)
	}
	return values, nil
}

type lookupFunc func(string) (string, bool)

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func intWithDefault(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
