package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultInventoryTimeout = 5 * time.Second
	defaultCartTimeout      = 3 * time.Second
	defaultGatewayTimeout   = 10 * time.Second
	defaultPublishTimeout   = 5 * time.Second

	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200

	defaultReconcileInterval = 30 * time.Second
	defaultReconcileBatch    = 50
	defaultReconcileMinAge   = time.Minute

	defaultCurrency = "JPY"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Stripe        StripeConfig
	Auth          AuthConfig
	Collaborators CollaboratorConfig
	Idempotency   IdempotencyConfig
	Reconciler    ReconcilerConfig
	Currency      string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics used for confirmation events.
type PubSubConfig struct {
	ProjectID           string
	OrderConfirmTopic   string
	PaymentConfirmTopic string
}

// StripeConfig collects the hosted gateway credentials.
type StripeConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
}

// AuthConfig holds the bearer token verification settings.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
}

// CollaboratorConfig bounds every external call with a timeout so a single
// slow dependency cannot block the whole request.
type CollaboratorConfig struct {
	InventoryBaseURL string
	CartBaseURL      string
	InventoryTimeout time.Duration
	CartTimeout      time.Duration
	GatewayTimeout   time.Duration
	PublishTimeout   time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ReconcilerConfig controls the background checkpoint reconciler.
type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
	MinAge    time.Duration
}

// Load reads configuration from the environment, optionally seeded from a
// .env file when present.
func Load() (Config, error) {
	if err := loadEnvFile(envOr("ENV_FILE", defaultEnvFile)); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         envOr("PORT", defaultPort),
			ReadTimeout:  durationOr("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationOr("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationOr("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    envOr("FIRESTORE_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
			EmulatorHost: os.Getenv("FIRESTORE_EMULATOR_HOST"),
		},
		PubSub: PubSubConfig{
			ProjectID:           envOr("PUBSUB_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
			OrderConfirmTopic:   envOr("PUBSUB_ORDER_CONFIRM_TOPIC", "order-confirmation"),
			PaymentConfirmTopic: envOr("PUBSUB_PAYMENT_CONFIRM_TOPIC", "payment-confirmation"),
		},
		Stripe: StripeConfig{
			APIKey:     os.Getenv("STRIPE_API_KEY"),
			SuccessURL: os.Getenv("STRIPE_SUCCESS_URL"),
			CancelURL:  os.Getenv("STRIPE_CANCEL_URL"),
		},
		Auth: AuthConfig{
			SigningSecret: os.Getenv("AUTH_SIGNING_SECRET"),
			Issuer:        envOr("AUTH_ISSUER", "maplecart"),
		},
		Collaborators: CollaboratorConfig{
			InventoryBaseURL: os.Getenv("INVENTORY_BASE_URL"),
			CartBaseURL:      os.Getenv("CART_BASE_URL"),
			InventoryTimeout: durationOr("INVENTORY_TIMEOUT", defaultInventoryTimeout),
			CartTimeout:      durationOr("CART_TIMEOUT", defaultCartTimeout),
			GatewayTimeout:   durationOr("GATEWAY_TIMEOUT", defaultGatewayTimeout),
			PublishTimeout:   durationOr("PUBLISH_TIMEOUT", defaultPublishTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header:           envOr("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationOr("IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationOr("IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intOr("IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Reconciler: ReconcilerConfig{
			Interval:  durationOr("RECONCILE_INTERVAL", defaultReconcileInterval),
			BatchSize: intOr("RECONCILE_BATCH", defaultReconcileBatch),
			MinAge:    durationOr("RECONCILE_MIN_AGE", defaultReconcileMinAge),
		},
		Currency: envOr("CURRENCY", defaultCurrency),
	}

	return cfg, nil
}

// loadEnvFile seeds os environment values from a dotenv-style file. Values
// already present in the environment always win.
func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

func intOr(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}
