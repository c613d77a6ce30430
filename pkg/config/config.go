// Package config provides YAML-based configuration loading for gridclient.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root client configuration.
type Config struct {
	// Endpoint is the gRPC target the client dials (host:port or a resolver scheme).
	Endpoint string `mapstructure:"endpoint"`

	// MaxParallelChannels bounds ChannelPool concurrency and per-chunk fan-out.
	MaxParallelChannels int `mapstructure:"max-parallel-channels"`

	// ChunkSubmitSize is the default number of tuples per Submitter chunk.
	ChunkSubmitSize int `mapstructure:"chunk-submit-size"`

	// BufferRequestSize and MaxConcurrentBuffers tune the large-payload upload path.
	BufferRequestSize    int `mapstructure:"buffer-request-size"`
	MaxConcurrentBuffers int `mapstructure:"max-concurrent-buffers"`

	// FileStorageType selects the (externally-collaborating) file adapter: FS or S3.
	FileStorageType string `mapstructure:"file-storage-type"`
	S3              S3Config `mapstructure:"s3"`

	Retry RetryConfig `mapstructure:"retry"`
	Log   LogConfig   `mapstructure:"log"`
}

// S3Config holds the S3 file-adapter credentials. The adapter itself is an
// external collaborator (spec.md §1 Non-goals); only its configuration
// surface lives here.
type S3Config struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ServiceURL      string `mapstructure:"service_url"`
	BucketName      string `mapstructure:"bucket_name"`
}

// RetryConfig seeds the default RetryHarness parameters used when a caller
// does not override max-retries/delay explicitly.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with the documented spec defaults
// (spec.md §6, §7): 4 parallel channels, 500-entry chunks, 5 retries.
func Default() *Config {
	return &Config{
		Endpoint:             "127.0.0.1:5001",
		MaxParallelChannels:  4,
		ChunkSubmitSize:      500,
		BufferRequestSize:    1 << 20,
		MaxConcurrentBuffers: 4,
		FileStorageType:      "FS",
		Retry: RetryConfig{
			MaxRetries: 5,
			BaseDelay:  2 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/gridclient.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix GRIDCLIENT and `.`/`-` are replaced
// with `_`. Example: GRIDCLIENT_LOG_LEVEL=debug
//
// Unknown keys are tolerated (spec.md §6): viper only binds what the
// Config struct declares, so anything else in the file is ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GRIDCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("max-parallel-channels", cfg.MaxParallelChannels)
	v.SetDefault("chunk-submit-size", cfg.ChunkSubmitSize)
	v.SetDefault("buffer-request-size", cfg.BufferRequestSize)
	v.SetDefault("max-concurrent-buffers", cfg.MaxConcurrentBuffers)
	v.SetDefault("file-storage-type", cfg.FileStorageType)
	v.SetDefault("retry.max_retries", cfg.Retry.MaxRetries)
	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("GRIDCLIENT_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gridclient")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gridclient"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.MaxParallelChannels <= 0 {
		c.MaxParallelChannels = 4
	}
	if c.ChunkSubmitSize <= 0 {
		c.ChunkSubmitSize = 500
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 5
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 2 * time.Second
	}
	switch strings.ToUpper(strings.TrimSpace(c.FileStorageType)) {
	case "FS", "S3", "":
	default:
		return fmt.Errorf("invalid file-storage-type: %q", c.FileStorageType)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
