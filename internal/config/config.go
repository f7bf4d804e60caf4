package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerLevelDB  = "leveldb"

	AttachmentMemory = "memory"
	AttachmentRedis  = "redis"
	AttachmentPinata = "pinata"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// AdminAddress is the single identity allowed to approve credentials.
	AdminAddress string `mapstructure:"ADMIN_ADDRESS"`

	LedgerDriver  string `mapstructure:"LEDGER_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema      string `mapstructure:"DB_SCHEMA"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	LevelDBPath   string `mapstructure:"LEVELDB_PATH"`

	AttachmentDriver string `mapstructure:"ATTACHMENT_DRIVER"`
	RedisURL         string `mapstructure:"REDIS_URL"`
	PinataJWT        string `mapstructure:"PINATA_JWT"`
	PinataAPIURL     string `mapstructure:"PINATA_API_URL"`
	PinataGatewayURL string `mapstructure:"PINATA_GATEWAY_URL"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`

	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitIdleTTL time.Duration `mapstructure:"RATE_LIMIT_IDLE_TTL"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	MetricsEnabled   bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "ADMIN_ADDRESS",
	"LEDGER_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "MIGRATIONS_DIR", "LEVELDB_PATH",
	"ATTACHMENT_DRIVER", "REDIS_URL", "PINATA_JWT", "PINATA_API_URL", "PINATA_GATEWAY_URL",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_IDLE_TTL", "BODY_LIMIT", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LEDGER_DRIVER", LedgerMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("LEVELDB_PATH", "./data/ledger")
	v.SetDefault("ATTACHMENT_DRIVER", AttachmentMemory)
	v.SetDefault("KAFKA_TOPIC", "ehr.workflow")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("RATE_LIMIT_IDLE_TTL", "10m")
	v.SetDefault("BODY_LIMIT", "110M")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.AdminAddress == "" {
		return nil, fmt.Errorf("ADMIN_ADDRESS is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode (ENV=development)")
		log.Warn().Msg("callers are identified by the X-Caller-Address header without verification")
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate checks that the selected backends have what they need and that
// non-development deployments verify caller identity.
func (c *Config) Validate() error {
	switch c.LedgerDriver {
	case LedgerMemory:
		if c.IsProduction() {
			return fmt.Errorf("LEDGER_DRIVER=memory is not allowed in production")
		}
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_DRIVER is %q", LedgerPostgres)
		}
	case LedgerLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("LEVELDB_PATH is required when LEDGER_DRIVER is %q", LedgerLevelDB)
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be %q, %q or %q, got %q", LedgerMemory, LedgerPostgres, LedgerLevelDB, c.LedgerDriver)
	}

	switch c.AttachmentDriver {
	case AttachmentMemory:
	case AttachmentRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when ATTACHMENT_DRIVER is %q", AttachmentRedis)
		}
	case AttachmentPinata:
		if c.PinataJWT == "" {
			return fmt.Errorf("PINATA_JWT is required when ATTACHMENT_DRIVER is %q", AttachmentPinata)
		}
	default:
		return fmt.Errorf("ATTACHMENT_DRIVER must be %q, %q or %q, got %q", AttachmentMemory, AttachmentRedis, AttachmentPinata, c.AttachmentDriver)
	}

	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	return nil
}
