package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	HTTPPort string `yaml:"http_port"`
	// BaseURL prefixes the links embedded in confirmation and reset emails.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	JwtTTL                time.Duration `yaml:"jwt_ttl" validate:"required"`
	ConfirmationTokenTTL  time.Duration `yaml:"confirmation_token_ttl" validate:"required"`
	PasswordResetTokenTTL time.Duration `yaml:"password_reset_token_ttl" validate:"required"`

	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts" validate:"required,min=1"`
	SessionGCInterval   time.Duration `yaml:"session_gc_interval" validate:"required"`
	// BlocklistRefreshInterval is how often the fallback blocklist used while
	// the ledger is unreachable is reloaded.
	BlocklistRefreshInterval time.Duration `yaml:"blocklist_refresh_interval"`

	RevokeSessionsOnPasswordReset bool `yaml:"revoke_sessions_on_password_reset"`
	CheckEmailDeliverability      bool `yaml:"check_email_deliverability"`

	SecureCookies     bool     `yaml:"secure_cookies"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"` // only behind a reverse proxy that sets X-Forwarded-For
	AllowedOrigins    []string `yaml:"allowed_origins"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

type Pg struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname" validate:"required"`
}

type Email struct {
	SMTPServer string `yaml:"smtp_server" validate:"required"`
	SMTPPort   int    `yaml:"smtp_port" validate:"required"`
	Username   string `yaml:"username" validate:"required"`
	Password   string `yaml:"password"`
	SenderName string `yaml:"sender_name"`
	Timeout    int    `yaml:"timeout"` // seconds
}

type Private struct {
	JwtKey string `yaml:"jwt_key" validate:"required,min=16"`
	Pg     Pg     `yaml:"pg" validate:"required"`
	Email  Email  `yaml:"email" validate:"required"`
}

// implementing service config accessors

func (s *Config) JwtKey() string {
	return s.Private.JwtKey
}

func (s *Config) JwtTTL() time.Duration {
	return s.Public.JwtTTL
}

func mustLoadPath(configPath string, output interface{}) {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)

	if err != nil {
		panic("can't read config file")
	}

	err = yaml.Unmarshal(configFile, output)
	if err != nil {
		panic("can't unmarshal config file")
	}
}

func (p *Public) setDefaults() {
	if p.HTTPPort == "" {
		p.HTTPPort = "8080"
	}
	if p.JwtTTL == 0 {
		p.JwtTTL = time.Hour
	}
	if p.ConfirmationTokenTTL == 0 {
		p.ConfirmationTokenTTL = 24 * time.Hour
	}
	if p.PasswordResetTokenTTL == 0 {
		p.PasswordResetTokenTTL = 30 * time.Minute
	}
	if p.MaxRecoveryAttempts == 0 {
		p.MaxRecoveryAttempts = 3
	}
	if p.SessionGCInterval == 0 {
		p.SessionGCInterval = time.Hour
	}
	if p.BlocklistRefreshInterval == 0 {
		p.BlocklistRefreshInterval = 30 * time.Second
	}
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)
	public.setDefaults()

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	cfg := &Config{public, private}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
	return cfg
}
