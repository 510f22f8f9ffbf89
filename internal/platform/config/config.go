package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDBMaxOpenConns       = 20
	defaultDBMaxIdleConns       = 5
	defaultDBConnMaxLifetime    = 30 * time.Minute
	defaultSecurityEnvironment  = "local"
	defaultCheckoutCurrency     = "bob"
	defaultLoyaltyRate          = "0.0005"
	defaultEventsTransport      = EventsTransportNone
	defaultEventsTopic          = "order-events"
	defaultAMQPExchange         = "orders"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Supported order event transports.
const (
	EventsTransportNone   = "none"
	EventsTransportPubSub = "pubsub"
	EventsTransportAMQP   = "amqp"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Stripe      StripeConfig
	Checkout    CheckoutConfig
	Events      EventsConfig
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

// DatabaseConfig configures the relational store that owns orders and inventory.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CheckRevoked    bool
}

// FirestoreConfig stores document database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StripeConfig collects payment processor credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
}

// CheckoutConfig controls hosted checkout behaviour.
type CheckoutConfig struct {
	FrontendURL         string
	Currency            string
	Locale              string
	LoyaltyRate         decimal.Decimal
	AllowedRedirectHost []string
}

// EventsConfig selects where order lifecycle events are published.
type EventsConfig struct {
	Transport    string
	ProjectID    string
	Topic        string
	AMQPURL      string
	AMQPExchange string
}

// SecurityConfig groups environment level security settings.
type SecurityConfig struct {
	Environment string
	StaffRoles  []string
	AuditSalt   string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func applyOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile sets the dotenv file. An empty path disables it.
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

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver resolves secret:// and sm:// values. Without one, any reference fails Load.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "Stripe.APIKey" or "Database.DSN").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load builds the configuration from defaults, the dotenv file, the process environment and the
// explicit env map, then resolves secret:// references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := applyOptions(opts)
	e, err := newEnv(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			DSN:             e.str("API_DATABASE_DSN", ""),
			MaxOpenConns:    e.integer("API_DATABASE_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
			MaxIdleConns:    e.integer("API_DATABASE_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
			ConnMaxLifetime: e.duration("API_DATABASE_CONN_MAX_LIFETIME", defaultDBConnMaxLifetime),
			AutoMigrate:     e.boolean("API_DATABASE_AUTO_MIGRATE", false),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    e.boolean("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Stripe: StripeConfig{
			APIKey:        e.str("API_STRIPE_API_KEY", ""),
			WebhookSecret: e.str("API_STRIPE_WEBHOOK_SECRET", ""),
			AccountID:     e.str("API_STRIPE_ACCOUNT_ID", ""),
		},
		Checkout: CheckoutConfig{
			FrontendURL:         strings.TrimRight(e.str("API_CHECKOUT_FRONTEND_URL", ""), "/"),
			Currency:            strings.ToLower(e.str("API_CHECKOUT_CURRENCY", defaultCheckoutCurrency)),
			Locale:              e.str("API_CHECKOUT_LOCALE", ""),
			LoyaltyRate:         e.decimal("API_CHECKOUT_LOYALTY_RATE", defaultLoyaltyRate),
			AllowedRedirectHost: e.list("API_CHECKOUT_ALLOWED_REDIRECT_HOSTS"),
		},
		Events: EventsConfig{
			Transport:    strings.ToLower(e.str("API_EVENTS_TRANSPORT", defaultEventsTransport)),
			ProjectID:    e.str("API_EVENTS_PROJECT_ID", ""),
			Topic:        e.str("API_EVENTS_TOPIC", defaultEventsTopic),
			AMQPURL:      e.str("API_EVENTS_AMQP_URL", ""),
			AMQPExchange: e.str("API_EVENTS_AMQP_EXCHANGE", defaultAMQPExchange),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(e.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			StaffRoles:  e.list("API_SECURITY_STAFF_ROLES"),
			AuditSalt:   e.str("API_SECURITY_AUDIT_SALT", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and event projects default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.StaffRoles) == 0 {
		cfg.Security.StaffRoles = []string{"staff", "admin"}
	}

	secretErr := resolveSecrets(ctx, options.secret, []secretField{
		{"Database.DSN", &cfg.Database.DSN},
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Stripe.WebhookSecret", &cfg.Stripe.WebhookSecret},
		{"Events.AMQPURL", &cfg.Events.AMQPURL},
		{"Security.AuditSalt", &cfg.Security.AuditSalt},
	}, options.requiredSecrets)
	var missing *MissingSecretsError
	if secretErr != nil && !errors.As(secretErr, &missing) {
		return Config{}, secretErr
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		missing = append(missing, "Database.MaxOpenConns")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if u, err := url.Parse(cfg.Checkout.FrontendURL); cfg.Checkout.FrontendURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Checkout.FrontendURL")
	}
	if len(cfg.Checkout.Currency) != 3 {
		missing = append(missing, "Checkout.Currency")
	}
	if cfg.Checkout.LoyaltyRate.IsNegative() {
		missing = append(missing, "Checkout.LoyaltyRate")
	}
	switch cfg.Events.Transport {
	case EventsTransportNone:
	case EventsTransportPubSub:
		if cfg.Events.ProjectID == "" || cfg.Events.Topic == "" {
			missing = append(missing, "Events.Topic")
		}
	case EventsTransportAMQP:
		if cfg.Events.AMQPURL == "" {
			missing = append(missing, "Events.AMQPURL")
		}
		if cfg.Events.AMQPExchange == "" {
			missing = append(missing, "Events.AMQPExchange")
		}
	default:
		missing = append(missing, "Events.Transport")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
