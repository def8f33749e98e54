// Package config loads paygate settings from an optional YAML file with
// environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "./configs/paygate.yaml"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Telegram TelegramConfig `yaml:"telegram"`
	PayPal   PayPalConfig   `yaml:"paypal"`
	Payments PaymentsConfig `yaml:"payments"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// PublicURL is the externally reachable base used for PayPal return URLs
	// and QR image links.
	PublicURL  string `yaml:"public_url" validate:"required,url"`
	AdminToken string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format      string `yaml:"format" validate:"omitempty,oneof=json console"`
	Development bool   `yaml:"development"`
}

type TelegramConfig struct {
	Token         string `yaml:"token"`
	APIURL        string `yaml:"api_url" validate:"required,url"`
	WebhookSecret string `yaml:"webhook_secret"`
	AdminID       int64  `yaml:"admin_id"`
	InviteLink    string `yaml:"invite_link" validate:"required"`
	Polling       bool   `yaml:"polling"`
}

type PayPalConfig struct {
	Mode         string        `yaml:"mode" validate:"oneof=sandbox live"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout      time.Duration `yaml:"timeout" validate:"min=1s,max=60s"`
}

// APIBase returns the REST endpoint for the configured mode unless BaseURL
// overrides it.
func (c PayPalConfig) APIBase() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Mode == "live" {
		return "https://api.paypal.com"
	}
	return "https://api.sandbox.paypal.com"
}

type PaymentsConfig struct {
	SessionTTL    time.Duration  `yaml:"session_ttl" validate:"min=1m"`
	SweepInterval time.Duration  `yaml:"sweep_interval" validate:"min=1s"`
	Methods       []MethodConfig `yaml:"methods" validate:"required,min=1,dive"`
}

// MethodConfig is the file shape of one payment method. Settlement decides
// which of the destination fields are meaningful.
type MethodConfig struct {
	Key        string `yaml:"key" validate:"required"`
	Name       string `yaml:"name" validate:"required"`
	Settlement string `yaml:"settlement" validate:"oneof=automated manual"`
	Amount     string `yaml:"amount" validate:"required,numeric"`
	Currency   string `yaml:"currency" validate:"required,len=3"`

	Provider string `yaml:"provider,omitempty"`

	Kind          string `yaml:"kind,omitempty" validate:"omitempty,oneof=wallet bank upi"`
	Address       string `yaml:"address,omitempty"`
	Network       string `yaml:"network,omitempty"`
	Scheme        string `yaml:"scheme,omitempty"`
	Payee         string `yaml:"payee,omitempty"`
	BankName      string `yaml:"bank_name,omitempty"`
	AccountName   string `yaml:"account_name,omitempty"`
	AccountNumber string `yaml:"account_number,omitempty"`
	IFSC          string `yaml:"ifsc,omitempty"`
	ProofRequired bool   `yaml:"proof_required,omitempty"`
}

// Load applies defaults, overlays the YAML file at CONFIG_PATH (when present),
// then environment variables, and validates.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_PATH", defaultConfigPath)
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	cfg.overlayEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
	c.Server.PublicURL = getEnv("PUBLIC_URL", c.Server.PublicURL)
	c.Server.AdminToken = getEnv("ADMIN_TOKEN", c.Server.AdminToken)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Telegram.Token = getEnv("TG_BOT_TOKEN", c.Telegram.Token)
	c.Telegram.WebhookSecret = getEnv("TG_WEBHOOK_SECRET", c.Telegram.WebhookSecret)
	c.Telegram.InviteLink = getEnv("GROUP_INVITE_LINK", c.Telegram.InviteLink)
	if v := os.Getenv("ADMIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.AdminID = id
		}
	}
	c.PayPal.Mode = getEnv("PAYPAL_MODE", c.PayPal.Mode)
	c.PayPal.ClientID = getEnv("PAYPAL_CLIENT_ID", c.PayPal.ClientID)
	c.PayPal.ClientSecret = getEnv("PAYPAL_CLIENT_SECRET", c.PayPal.ClientSecret)
}

// Validate runs struct validation plus the cross-field checks validator tags
// can't express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Payments.Methods))
	for _, m := range c.Payments.Methods {
		if seen[m.Key] {
			return fmt.Errorf("invalid config: duplicate payment method %q", m.Key)
		}
		seen[m.Key] = true
		if m.Settlement == "manual" && m.Kind == "" {
			return fmt.Errorf("invalid config: manual method %q needs a destination kind", m.Key)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
