package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Vision     VisionConfig     `yaml:"vision"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Fuser      FuserConfig      `yaml:"fuser"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CatalogConfig describes the upstream card catalog service.
type CatalogConfig struct {
	BaseURL string `yaml:"base_url"`
	// UserAgent must include a contact address; the upstream rejects
	// requests without one.
	UserAgent string `yaml:"user_agent"`
}

type VisionConfig struct {
	ModelPath      string `yaml:"model_path"`
	OCRDataPath    string `yaml:"ocr_data_path"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
	InterOpThreads int    `yaml:"inter_op_threads"`
}

type PipelineConfig struct {
	OCRInjectThreshold float64 `yaml:"ocr_inject_threshold"`
	TopK               int     `yaml:"top_k"`
	MaxUploadBytes     int64   `yaml:"max_upload_bytes"`
}

type FuserConfig struct {
	DistHigh    float64 `yaml:"dist_high"`
	DistMed     float64 `yaml:"dist_med"`
	DistCutoff  float64 `yaml:"dist_cutoff"`
	OCRBlock    float64 `yaml:"ocr_block"`
	MaxAttempts int     `yaml:"max_attempts"`
}

type ReconcilerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	Interval        time.Duration `yaml:"interval"`
	IgnoredSetTypes []string      `yaml:"ignored_set_types"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Catalog.BaseURL == "" {
		cfg.Catalog.BaseURL = "https://api.scryfall.com"
	}
	if cfg.Pipeline.OCRInjectThreshold == 0 {
		cfg.Pipeline.OCRInjectThreshold = 0.70
	}
	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 10
	}
	if cfg.Pipeline.MaxUploadBytes == 0 {
		cfg.Pipeline.MaxUploadBytes = 10 << 20
	}
	if cfg.Fuser.DistHigh == 0 {
		cfg.Fuser.DistHigh = 0.30
	}
	if cfg.Fuser.DistMed == 0 {
		cfg.Fuser.DistMed = 0.42
	}
	if cfg.Fuser.DistCutoff == 0 {
		cfg.Fuser.DistCutoff = 0.52
	}
	if cfg.Fuser.OCRBlock == 0 {
		cfg.Fuser.OCRBlock = 0.90
	}
	if cfg.Fuser.MaxAttempts == 0 {
		cfg.Fuser.MaxAttempts = 3
	}
	if cfg.Reconciler.InitialDelay == 0 {
		cfg.Reconciler.InitialDelay = 10 * time.Second
	}
	if cfg.Reconciler.Interval == 0 {
		cfg.Reconciler.Interval = 24 * time.Hour
	}
	if cfg.Reconciler.IgnoredSetTypes == nil {
		cfg.Reconciler.IgnoredSetTypes = []string{"memorabilia", "token", "minigame", "funny"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CS_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CS_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("CS_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("CS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("CS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CS_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CS_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("CS_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("CS_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("CS_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("CS_CATALOG_BASE_URL"); v != "" {
		cfg.Catalog.BaseURL = v
	}
	if v := os.Getenv("CS_CATALOG_USER_AGENT"); v != "" {
		cfg.Catalog.UserAgent = v
	}
	if v := os.Getenv("CS_MODEL_PATH"); v != "" {
		cfg.Vision.ModelPath = v
	}
	if v := os.Getenv("CS_OCR_DATA_PATH"); v != "" {
		cfg.Vision.OCRDataPath = v
	}
	if v := os.Getenv("CS_RECONCILER_ENABLED"); v != "" {
		cfg.Reconciler.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}
