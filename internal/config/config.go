// Package config holds the service configuration and its viper loader.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Orientation modes.
const (
	OrientationTesseract = "tesseract"
	OrientationHeuristic = "heuristic"
	OrientationNone      = "none"
)

// Classifier backends.
const (
	ClassifierONNX = "onnx"
	ClassifierGRPC = "grpc"
)

// Diagnostics modes.
const (
	DiagnosticsNone = "none"
	DiagnosticsFile = "file"
	DiagnosticsGCS  = "gcs"
)

// Config is the full service configuration.
type Config struct {
	LogLevel     string             `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server" json:"server"`
	Auth         AuthConfig         `mapstructure:"auth" yaml:"auth" json:"auth"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database" json:"database"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis" json:"redis"`
	OCR          OCRConfig          `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Orientation  OrientationConfig  `mapstructure:"orientation" yaml:"orientation" json:"orientation"`
	Classifier   ClassifierConfig   `mapstructure:"classifier" yaml:"classifier" json:"classifier"`
	Face         FaceConfig         `mapstructure:"face" yaml:"face" json:"face"`
	Institutions InstitutionsConfig `mapstructure:"institutions" yaml:"institutions" json:"institutions"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Diagnostics  DiagnosticsConfig  `mapstructure:"diagnostics" yaml:"diagnostics" json:"diagnostics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" json:"max_upload_bytes"`
	MaxImagePixels  int64         `mapstructure:"max_image_pixels" yaml:"max_image_pixels" json:"max_image_pixels"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
}

// AuthConfig configures bearer token checks.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
	Audience  string `mapstructure:"audience" yaml:"audience" json:"audience"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer" json:"issuer"`
}

// DatabaseConfig configures the audit log database.
type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn" yaml:"dsn" json:"-"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime" yaml:"conn_lifetime" json:"conn_lifetime"`
}

// RedisConfig configures the result cache.
type RedisConfig struct {
	Addr string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	TTL  time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// OCRConfig configures the tesseract engine and the quality gate.
type OCRConfig struct {
	TesseractPath string  `mapstructure:"tesseract_path" yaml:"tesseract_path" json:"tesseract_path"`
	Language      string  `mapstructure:"language" yaml:"language" json:"language"`
	PageSegMode   int     `mapstructure:"psm" yaml:"psm" json:"psm"`
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	MinTextLength int     `mapstructure:"min_text_length" yaml:"min_text_length" json:"min_text_length"`
}

// OrientationConfig selects the rotation estimator.
type OrientationConfig struct {
	Mode                string  `mapstructure:"mode" yaml:"mode" json:"mode"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
}

// ClassifierConfig selects the classifier backend.
type ClassifierConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend" json:"backend"`
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	GRPCAddr    string `mapstructure:"grpc_addr" yaml:"grpc_addr" json:"grpc_addr"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	Workers     int    `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// FaceConfig configures the Haar cascade detector.
type FaceConfig struct {
	CascadePath  string  `mapstructure:"cascade_path" yaml:"cascade_path" json:"cascade_path"`
	ScaleFactor  float64 `mapstructure:"scale_factor" yaml:"scale_factor" json:"scale_factor"`
	MinNeighbors int     `mapstructure:"min_neighbors" yaml:"min_neighbors" json:"min_neighbors"`
	MinSize      int     `mapstructure:"min_size" yaml:"min_size" json:"min_size"`
	PoolSize     int     `mapstructure:"pool_size" yaml:"pool_size" json:"pool_size"`
}

// InstitutionsConfig configures the accepted institution registry.
type InstitutionsConfig struct {
	Names          []string `mapstructure:"names" yaml:"names" json:"names"`
	File           string   `mapstructure:"file" yaml:"file" json:"file"`
	Threshold      float64  `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	SubstringBonus float64  `mapstructure:"substring_bonus" yaml:"substring_bonus" json:"substring_bonus"`
}

// PipelineConfig configures request processing.
type PipelineConfig struct {
	BranchTimeout time.Duration `mapstructure:"branch_timeout" yaml:"branch_timeout" json:"branch_timeout"`
}

// DiagnosticsConfig configures persistence of corrected images.
type DiagnosticsConfig struct {
	Mode      string `mapstructure:"mode" yaml:"mode" json:"mode"`
	Dir       string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	QueueSize int    `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadBytes:  10 << 20,
			MaxImagePixels:  40_000_000,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:   true,
			JWTSecret: "dev-secret",
		},
		Database: DatabaseConfig{
			DSN:          "host=postgres user=postgres password=postgres dbname=idcheck port=5432 sslmode=disable",
			MaxIdleConns: 5,
			MaxOpenConns: 10,
			ConnLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr: "redis:6379",
			TTL:  24 * time.Hour,
		},
		OCR: OCRConfig{
			Language:      "eng",
			PageSegMode:   3,
			MinConfidence: 40,
			MinTextLength: 10,
		},
		Orientation: OrientationConfig{
			Mode:                OrientationTesseract,
			ConfidenceThreshold: 0.3,
		},
		Classifier: ClassifierConfig{
			Backend:    ClassifierONNX,
			ModelPath:  "models/id_resnet18.onnx",
			GRPCAddr:   "classifier:50051",
			NumThreads: 2,
			Workers:    2,
		},
		Face: FaceConfig{
			CascadePath:  "/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
			ScaleFactor:  1.1,
			MinNeighbors: 5,
			MinSize:      30,
			PoolSize:     2,
		},
		Institutions: InstitutionsConfig{
			Names:          []string{"JNTU Hyderabad", "NIT Warangal", "IIT Bombay"},
			Threshold:      75,
			SubstringBonus: 10,
		},
		Pipeline: PipelineConfig{
			BranchTimeout: 20 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			Mode:      DiagnosticsNone,
			Dir:       "diagnostics",
			QueueSize: 16,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		add("server.max_upload_bytes must be positive")
	}
	if c.Server.MaxImagePixels <= 0 {
		add("server.max_image_pixels must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		add("auth.jwt_secret is required when auth is enabled")
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 100 {
		add("ocr.min_confidence must be within [0,100], got %v", c.OCR.MinConfidence)
	}
	if c.OCR.MinTextLength < 0 {
		add("ocr.min_text_length must not be negative")
	}
	if c.OCR.PageSegMode < 0 || c.OCR.PageSegMode > 13 {
		add("ocr.psm must be within [0,13], got %d", c.OCR.PageSegMode)
	}
	switch strings.ToLower(c.Orientation.Mode) {
	case OrientationTesseract, OrientationHeuristic, OrientationNone:
	default:
		add("orientation.mode must be one of tesseract|heuristic|none, got %q", c.Orientation.Mode)
	}
	switch strings.ToLower(c.Classifier.Backend) {
	case ClassifierONNX:
		if c.Classifier.ModelPath == "" {
			add("classifier.model_path is required for the onnx backend")
		}
	case ClassifierGRPC:
		if c.Classifier.GRPCAddr == "" {
			add("classifier.grpc_addr is required for the grpc backend")
		}
	default:
		add("classifier.backend must be onnx or grpc, got %q", c.Classifier.Backend)
	}
	if c.Face.ScaleFactor != 0 && c.Face.ScaleFactor <= 1 {
		add("face.scale_factor must be greater than 1")
	}
	if len(c.Institutions.Names) == 0 && c.Institutions.File == "" {
		add("institutions.names or institutions.file is required")
	}
	if c.Institutions.Threshold < 0 || c.Institutions.Threshold > 110 {
		add("institutions.threshold must be within [0,110], got %v", c.Institutions.Threshold)
	}
	if c.Pipeline.BranchTimeout < 0 {
		add("pipeline.branch_timeout must not be negative")
	}
	switch strings.ToLower(c.Diagnostics.Mode) {
	case "", DiagnosticsNone:
	case DiagnosticsFile:
		if c.Diagnostics.Dir == "" {
			add("diagnostics.dir is required for file mode")
		}
	case DiagnosticsGCS:
		if c.Diagnostics.Bucket == "" {
			add("diagnostics.bucket is required for gcs mode")
		}
	default:
		add("diagnostics.mode must be one of none|file|gcs, got %q", c.Diagnostics.Mode)
	}
	return errors.Join(errs...)
}
