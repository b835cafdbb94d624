package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig is one gateway merchant configuration. Key material can be
// inlined (PEM) or referenced by path; inline wins when both are set.
type ProviderConfig struct {
	Enabled bool `yaml:"enabled"`

	AppID            string `yaml:"appid"`
	MchID            string `yaml:"mchid"`
	PaymentNotifyURL string `yaml:"payment_notify_url"`
	RefundNotifyURL  string `yaml:"refund_notify_url"`

	MerchantSerialNo       string `yaml:"merchant_serial_no"`
	MerchantPrivateKeyPEM  string `yaml:"merchant_private_key_pem"`
	MerchantPrivateKeyPath string `yaml:"merchant_private_key_path"`

	PlatformSerialNo      string `yaml:"platform_serial_no"`
	PlatformPublicKeyPEM  string `yaml:"platform_public_key_pem"`
	PlatformPublicKeyPath string `yaml:"platform_public_key_path"`

	APIv3Key string `yaml:"apiv3_key"`

	BaseURL         string        `yaml:"base_url"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
}

// PrivateKeyPEM resolves the merchant key material.
func (p *ProviderConfig) PrivateKeyPEM() ([]byte, error) {
	return resolvePEM(p.MerchantPrivateKeyPEM, p.MerchantPrivateKeyPath, "merchant private key")
}

// PublicKeyPEM resolves the platform key material.
func (p *ProviderConfig) PublicKeyPEM() ([]byte, error) {
	return resolvePEM(p.PlatformPublicKeyPEM, p.PlatformPublicKeyPath, "platform public key")
}

func resolvePEM(inline, path, what string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, fmt.Errorf("%s: neither inline PEM nor path configured", what)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", what, err)
	}
	return b, nil
}

type PaymentConfig struct {
	WechatJSAPI  ProviderConfig `yaml:"wechat_jsapi"`
	WechatNative ProviderConfig `yaml:"wechat_native"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type WebhookConfig struct {
	// ReplayTTL is how long a processed delivery's idempotency key is held.
	ReplayTTL time.Duration `yaml:"replay_ttl"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Payment    PaymentConfig    `yaml:"payment"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Webhook    WebhookConfig    `yaml:"webhook"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.BatchSize <= 0 {
		cfg.Reconciler.BatchSize = 200
	}
	if cfg.Webhook.ReplayTTL <= 0 {
		cfg.Webhook.ReplayTTL = 48 * time.Hour
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}
