package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all process configuration, loaded once at startup. The token
// signing secret lives here — injected from the environment, rotateable by
// restart, never a source literal.
type Config struct {
	Env           string `env:"APP_ENV" envDefault:"local"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8081"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9091"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8081"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	AMQPURL     string `env:"AMQP_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	TokenSecret      string        `env:"AUTH_TOKEN_SECRET,required"`
	TokenIssuer      string        `env:"AUTH_TOKEN_ISSUER" envDefault:"carbid"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"10m"`
	MFATokenTTL      time.Duration `env:"MFA_TOKEN_TTL" envDefault:"5m"`
	RecoveryTokenTTL time.Duration `env:"RECOVERY_TOKEN_TTL" envDefault:"1h"`

	UploadDir   string   `env:"UPLOAD_DIR" envDefault:"uploads"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	RatePollInterval time.Duration `env:"RATE_POLL_INTERVAL" envDefault:"30s"`
	RateProviderURL  string        `env:"RATE_PROVIDER_URL" envDefault:"https://api.frankfurter.app"`

	OutboxBatchSize int           `env:"OUTBOX_BATCH_SIZE" envDefault:"10"`
	OutboxInterval  time.Duration `env:"OUTBOX_INTERVAL" envDefault:"1s"`

	SMTPHost string `env:"SMTP_HOST"`
	SMTPPort int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	MailFrom string `env:"MAIL_FROM" envDefault:"CarBid <no-reply@carbid.local>"`
}

// Load reads .env files (local overrides first) and parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
