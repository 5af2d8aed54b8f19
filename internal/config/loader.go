package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "idcheck"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "IDCHECK"
)

// Loader handles loading configuration from files, environment and defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader around a fresh viper instance.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Viper exposes the underlying instance so commands can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from the first idcheck.yaml found on the search
// path, or from configFile when it is set, then validates it.
func (l *Loader) Load(configFile string) (*Config, error) {
	l.setupEnvironmentVariables()
	l.setDefaults()

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile, err)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the config file read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		l.v.AddConfigPath(filepath.Join(configDir, "idcheck"))
	}
	l.v.AddConfigPath("/etc/idcheck")
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)

	l.v.SetDefault("server.addr", d.Server.Addr)
	l.v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	l.v.SetDefault("server.max_image_pixels", d.Server.MaxImagePixels)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.request_timeout", d.Server.RequestTimeout)

	l.v.SetDefault("auth.enabled", d.Auth.Enabled)
	l.v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	l.v.SetDefault("auth.audience", d.Auth.Audience)
	l.v.SetDefault("auth.issuer", d.Auth.Issuer)

	l.v.SetDefault("database.dsn", d.Database.DSN)
	l.v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	l.v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	l.v.SetDefault("database.conn_lifetime", d.Database.ConnLifetime)

	l.v.SetDefault("redis.addr", d.Redis.Addr)
	l.v.SetDefault("redis.ttl", d.Redis.TTL)

	l.v.SetDefault("ocr.tesseract_path", d.OCR.TesseractPath)
	l.v.SetDefault("ocr.language", d.OCR.Language)
	l.v.SetDefault("ocr.psm", d.OCR.PageSegMode)
	l.v.SetDefault("ocr.min_confidence", d.OCR.MinConfidence)
	l.v.SetDefault("ocr.min_text_length", d.OCR.MinTextLength)

	l.v.SetDefault("orientation.mode", d.Orientation.Mode)
	l.v.SetDefault("orientation.confidence_threshold", d.Orientation.ConfidenceThreshold)

	l.v.SetDefault("classifier.backend", d.Classifier.Backend)
	l.v.SetDefault("classifier.model_path", d.Classifier.ModelPath)
	l.v.SetDefault("classifier.library_path", d.Classifier.LibraryPath)
	l.v.SetDefault("classifier.grpc_addr", d.Classifier.GRPCAddr)
	l.v.SetDefault("classifier.num_threads", d.Classifier.NumThreads)
	l.v.SetDefault("classifier.workers", d.Classifier.Workers)

	l.v.SetDefault("face.cascade_path", d.Face.CascadePath)
	l.v.SetDefault("face.scale_factor", d.Face.ScaleFactor)
	l.v.SetDefault("face.min_neighbors", d.Face.MinNeighbors)
	l.v.SetDefault("face.min_size", d.Face.MinSize)
	l.v.SetDefault("face.pool_size", d.Face.PoolSize)

	l.v.SetDefault("institutions.names", d.Institutions.Names)
	l.v.SetDefault("institutions.file", d.Institutions.File)
	l.v.SetDefault("institutions.threshold", d.Institutions.Threshold)
	l.v.SetDefault("institutions.substring_bonus", d.Institutions.SubstringBonus)

	l.v.SetDefault("pipeline.branch_timeout", d.Pipeline.BranchTimeout)

	l.v.SetDefault("diagnostics.mode", d.Diagnostics.Mode)
	l.v.SetDefault("diagnostics.dir", d.Diagnostics.Dir)
	l.v.SetDefault("diagnostics.bucket", d.Diagnostics.Bucket)
	l.v.SetDefault("diagnostics.prefix", d.Diagnostics.Prefix)
	l.v.SetDefault("diagnostics.queue_size", d.Diagnostics.QueueSize)
}
