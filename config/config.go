// config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting of the gateway and the engine.
type Config struct {
	ListenAddr       string `env:"LISTEN_ADDR" envDefault:":5200"`
	EngineListenAddr string `env:"ENGINE_LISTEN_ADDR" envDefault:":5300"`
	RunEngine        bool   `env:"RUN_ENGINE" envDefault:"true"`

	// EngineURL is dialed by the gateway for every (game, side) tunnel.
	EngineURL string `env:"ENGINE_URL" envDefault:"ws://localhost:5300/game"`
	// BracketURL is where the engine reports finished games.
	BracketURL string `env:"BRACKET_URL" envDefault:"http://localhost:5200"`

	DatabaseURL  string `env:"DATABASE_URL,required"`
	ServiceToken string `env:"GAME_SERVICE_TOKEN,required"`

	JWTSecret      string `env:"JWT_SECRET"`
	JWTIssuer      string `env:"JWT_ISSUER"`
	AuthServiceURL string `env:"AUTH_SERVICE_URL"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	SocketSendBuffer int `env:"SOCKET_SEND_BUFFER" envDefault:"32"`

	StaleMatchAfter time.Duration `env:"STALE_MATCH_AFTER" envDefault:"6h"`
	ReapInterval    time.Duration `env:"REAP_INTERVAL" envDefault:"10m"`

	Archive ArchiveConfig
}

// ArchiveConfig points at the R2 bucket that receives closed brackets.
type ArchiveConfig struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Enabled reports whether enough settings are present to upload archives.
func (a ArchiveConfig) Enabled() bool {
	return a.AccountID != "" && a.Bucket != "" && a.AccessKeyID != ""
}

// Load reads .env when present and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" && strings.TrimSpace(c.AuthServiceURL) == "" {
		return errors.New("either JWT_SECRET or AUTH_SERVICE_URL must be set to verify client tokens")
	}
	if c.SocketSendBuffer <= 0 {
		return fmt.Errorf("SOCKET_SEND_BUFFER must be positive, got %d", c.SocketSendBuffer)
	}
	for i, origin := range c.AllowedOrigins {
		c.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	return nil
}
