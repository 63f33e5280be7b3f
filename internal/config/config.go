package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var AppEnv Config

const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

type Config struct {
	Port         string `envconfig:"PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	StoreBackend string `envconfig:"STORE_BACKEND" default:"mongo"`
	MongoURI     string `envconfig:"MONGO_URI"`
	DBName       string `envconfig:"DB_NAME" default:"storefront"`
	JWTSecret    string `envconfig:"JWT_SECRET"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"15m"`

	KafkaBrokers []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string        `envconfig:"KAFKA_TOPIC" default:"order-events"`
	OutboxTick   time.Duration `envconfig:"OUTBOX_TICK" default:"1s"`

	CatalogTimeout    time.Duration `envconfig:"CATALOG_TIMEOUT" default:"2s"`
	CatalogAttempts   int           `envconfig:"CATALOG_ATTEMPTS" default:"3"`
	GatewayTimeout    time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	IdempotencyWindow time.Duration `envconfig:"IDEMPOTENCY_WINDOW" default:"10m"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`

	VNPayTmnCode    string `envconfig:"VNPAY_TMN_CODE"`
	VNPayHashSecret string `envconfig:"VNPAY_HASH_SECRET"`
	VNPayPayURL     string `envconfig:"VNPAY_PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	VNPayReturnURL  string `envconfig:"VNPAY_RETURN_URL"`
}

// Load reads .env when present, then the environment, into AppEnv.
func Load() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Println(".env not loaded:", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return err
	}

	AppEnv = cfg
	return nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.CatalogAttempts < 1 {
		return fmt.Errorf("CATALOG_ATTEMPTS must be at least 1")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// GatewayEnabled reports whether VNPAY credentials are configured.
func (c Config) GatewayEnabled() bool {
	return c.VNPayTmnCode != "" && c.VNPayHashSecret != ""
}
