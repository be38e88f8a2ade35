package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	// SearchPaths are extra directories consulted when locating backend
	// executables (after $PATH).
	SearchPaths []string `mapstructure:"search_paths"`

	// PNGBackend selects the PNG quantizer: "pngquant" (external
	// executable) or "native" (in-process).
	PNGBackend string `mapstructure:"png_backend"`

	// DefaultQuality is used when no quality level is given.
	DefaultQuality int `mapstructure:"default_quality"`

	// SupportedExtensions limits which files batch mode picks up.
	SupportedExtensions []string `mapstructure:"supported_extensions"`

	Processing  ProcessingConfig  `mapstructure:"processing"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ProcessingConfig contains per-file processing settings
type ProcessingConfig struct {
	// PreserveMetadata copies EXIF tags from the source onto the
	// compressed JPEG output (requires exiftool).
	PreserveMetadata bool `mapstructure:"preserve_metadata"`
	// MarkCompressed stamps Software=AGPicCompress on compressed JPEGs.
	MarkCompressed bool `mapstructure:"mark_compressed"`
	// SkipMarked skips files already stamped by a previous run in batch mode.
	SkipMarked bool `mapstructure:"skip_marked"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"`
}

// ServerConfig contains web demo server settings
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout"` // seconds
	MaxUploadMB    int `mapstructure:"max_upload_mb"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		PNGBackend:          "pngquant",
		DefaultQuality:      80,
		SupportedExtensions: []string{".jpg", ".jpeg", ".png"},
		Processing: ProcessingConfig{
			PreserveMetadata: false,
			MarkCompressed:   false,
			SkipMarked:       true,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 4,
		},
		Server: ServerConfig{
			Port:           8080,
			RequestTimeout: 60,
			MaxUploadMB:    32,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "agpiccompress.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.agpiccompress")
		viper.AddConfigPath("/etc/agpiccompress")
	}

	viper.SetEnvPrefix("AGPICCOMPRESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	switch c.PNGBackend {
	case "pngquant", "native":
	case "":
		c.PNGBackend = "pngquant"
	default:
		return fmt.Errorf("invalid png_backend: %s (valid: pngquant, native)", c.PNGBackend)
	}

	if c.DefaultQuality < 0 || c.DefaultQuality > 100 {
		return fmt.Errorf("default_quality must be in [0,100], got %d", c.DefaultQuality)
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	if len(c.SupportedExtensions) == 0 {
		c.SupportedExtensions = []string{".jpg", ".jpeg", ".png"}
	}

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 4
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 60
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 32
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// RequestTimeout returns the per-request server timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// IsSupportedExtension checks if the extension is handled by batch mode.
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supported := range c.SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
