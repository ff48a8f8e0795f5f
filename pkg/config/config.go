// Package config loads trustd server configuration from file, environment
// and defaults, in that order of increasing precedence for env overrides.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/powerauth/callback"
	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/store"
)

// Config is the full trustd server configuration.
//
// Sources (later wins):
//  1. Built-in defaults
//  2. Configuration file (YAML)
//  3. Environment variables (TRUSTD_*)
type Config struct {
	Logging   logger.Config   `mapstructure:"logging" yaml:"logging"`
	Database  store.Config    `mapstructure:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Callbacks callback.Config `mapstructure:"callbacks" yaml:"callbacks"`
	PowerAuth PowerAuthConfig `mapstructure:"powerauth" yaml:"powerauth"`
}

// ServerConfig contains the HTTP API server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// RestrictAccess enables HTTP Basic authentication against the
	// integration table for all protocol endpoints.
	RestrictAccess bool `mapstructure:"restrict_access" yaml:"restrict_access"`
}

// MetricsConfig contains the Prometheus metrics listener configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// PowerAuthConfig carries the protocol-level knobs.
type PowerAuthConfig struct {
	// ActivationValidity bounds the key-exchange window of a new activation.
	ActivationValidity time.Duration `mapstructure:"activation_validity" yaml:"activation_validity" validate:"gt=0"`

	// SignatureMaxFailedAttempts is the lockout threshold.
	SignatureMaxFailedAttempts uint32 `mapstructure:"signature_max_failed_attempts" yaml:"signature_max_failed_attempts" validate:"gt=0"`

	// SignatureValidationLookahead is how far past the last known counter
	// value signature verification searches.
	SignatureValidationLookahead int `mapstructure:"signature_validation_lookahead" yaml:"signature_validation_lookahead" validate:"gt=0"`

	// ActivationIDIterations bounds activation id collision retries.
	ActivationIDIterations int `mapstructure:"activation_id_iterations" yaml:"activation_id_iterations" validate:"gt=0"`

	// ActivationCodeIterations bounds activation code and short id collision
	// retries.
	ActivationCodeIterations int `mapstructure:"activation_code_iterations" yaml:"activation_code_iterations" validate:"gt=0"`

	// ServerPrivateKeyEncryption selects how server private keys are stored
	// at rest: NO_ENCRYPTION or AES_HMAC.
	ServerPrivateKeyEncryption string `mapstructure:"server_private_key_encryption" yaml:"server_private_key_encryption" validate:"oneof=NO_ENCRYPTION AES_HMAC"`

	// MasterDBEncryptionKey is the Base64 server-wide secret for AES_HMAC
	// mode. Loaded once at startup.
	MasterDBEncryptionKey string `mapstructure:"master_db_encryption_key" yaml:"master_db_encryption_key"`

	// ExpirationSweepInterval is the period of the background sweep that
	// removes expired pending activations.
	ExpirationSweepInterval time.Duration `mapstructure:"expiration_sweep_interval" yaml:"expiration_sweep_interval" validate:"gt=0"`
}

// MasterDBEncryptionKeyBytes decodes the configured master DB encryption key.
func (c *PowerAuthConfig) MasterDBEncryptionKeyBytes() ([]byte, error) {
	if c.MasterDBEncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterDBEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("master_db_encryption_key is not valid Base64: %w", err)
	}
	return key, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.cache_ttl", 30*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.restrict_access", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("callbacks.queue_size", 1024)
	v.SetDefault("callbacks.max_attempts", 3)
	v.SetDefault("callbacks.retry_backoff", time.Second)
	v.SetDefault("callbacks.request_timeout", 10*time.Second)

	v.SetDefault("powerauth.activation_validity", 5*time.Minute)
	v.SetDefault("powerauth.signature_max_failed_attempts", 5)
	v.SetDefault("powerauth.signature_validation_lookahead", 20)
	v.SetDefault("powerauth.activation_id_iterations", 10)
	v.SetDefault("powerauth.activation_code_iterations", 10)
	v.SetDefault("powerauth.server_private_key_encryption", string(crypto.EncryptionModeNone))
	v.SetDefault("powerauth.expiration_sweep_interval", time.Minute)
}

// Load reads configuration from the optional file path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRUSTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.Database.ApplyDefaults()
	cfg.Callbacks.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.PowerAuth.ServerPrivateKeyEncryption == string(crypto.EncryptionModeAESHMAC) {
		key, err := c.PowerAuth.MasterDBEncryptionKeyBytes()
		if err != nil {
			return err
		}
		if len(key) == 0 {
			return fmt.Errorf("server_private_key_encryption AES_HMAC requires master_db_encryption_key")
		}
	}
	return nil
}
