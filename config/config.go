// Package config 加载YAML配置
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath 默认配置文件
const DefaultPath = "config.yaml"

// Config 服务配置
type Config struct {
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	HTTP          HTTPConfig          `yaml:"http"`
	Log           LogConfig           `yaml:"log"`
	Database      DatabaseConfig      `yaml:"database"`
	PredictionLog PredictionLogConfig `yaml:"prediction_log"`
	Report        ReportConfig        `yaml:"report"`
	Cache         CacheConfig         `yaml:"cache"`
}

// ArtifactsConfig 模型与编码器文件
type ArtifactsConfig struct {
	ModelType    string `yaml:"model_type"`
	ModelPath    string `yaml:"model_path"`
	EncodersPath string `yaml:"encoders_path"`
	Watch        bool   `yaml:"watch"`
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PredictionLogConfig CSV预测日志
type PredictionLogConfig struct {
	CSVPath string `yaml:"csv_path"`
}

// ReportConfig 报告输出目录
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig 推理结果缓存
type CacheConfig struct {
	Size int `yaml:"size"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Artifacts: ArtifactsConfig{
			ModelType:    "decision_tree",
			ModelPath:    "models/model.json",
			EncodersPath: "models/encoders.json",
		},
		HTTP: HTTPConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Database:      DatabaseConfig{Path: "data/florapredict.db"},
		PredictionLog: PredictionLogConfig{CSVPath: "prediction_logs.csv"},
		Report:        ReportConfig{Dir: "reports"},
		Cache:         CacheConfig{Size: 256},
	}
}

// Locate returns path, or the same file one directory up when path is
// missing, so binaries under cmd/ find the root config.
func Locate(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !filepath.IsAbs(path) {
		return filepath.Join("..", path)
	}
	return path
}

// Load reads the YAML file at path over the defaults. Relative file paths in
// the config resolve against the config file's directory.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to the defaults when no file exists.
func LoadOrDefault(path string) (*Config, error) {
	path = Locate(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Artifacts.ModelType == "" {
		c.Artifacts.ModelType = d.Artifacts.ModelType
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = d.HTTP.Port
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = d.HTTP.Timeout
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = d.HTTP.AllowedOrigins
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = d.HTTP.MaxBodyBytes
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = d.Cache.Size
	}
}

func (c *Config) resolvePaths(dir string) {
	if dir == "" || dir == "." {
		return
	}
	for _, p := range []*string{
		&c.Artifacts.ModelPath,
		&c.Artifacts.EncodersPath,
		&c.Log.File,
		&c.Database.Path,
		&c.PredictionLog.CSVPath,
		&c.Report.Dir,
	} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Artifacts.ModelPath == "" || c.Artifacts.EncodersPath == "" {
		return errors.New("artifacts.model_path and artifacts.encoders_path are required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size must not be negative, got %d", c.Cache.Size)
	}
	return nil
}
