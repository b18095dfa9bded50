package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-apnea/internal/clustering"
)

// Env var prefix for every override.
const envPrefix = "MIRADOR_APNEA_"

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheValkey = "valkey"
)

// Config captures the settings required to boot the apnea analysis service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Presets  PresetsConfig  `yaml:"presets"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	MaxMessageBytes int           `yaml:"maxMessageBytes"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AnalysisConfig holds the defaults applied when a request does not override them.
type AnalysisConfig struct {
	Algorithm  string                `yaml:"algorithm"`
	Params     clustering.Params     `yaml:"params"`
	Thresholds clustering.Thresholds `yaml:"thresholds"`
	Preset     string                `yaml:"preset"`
}

// PresetsConfig points at the false-negative preset pack.
type PresetsConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls result caching.
type CacheConfig struct {
	Backend string            `yaml:"backend"`
	TTL     time.Duration     `yaml:"ttl"`
	Memory  MemoryCacheConfig `yaml:"memory"`
	Valkey  ValkeyCacheConfig `yaml:"valkey"`
}

// MemoryCacheConfig sizes the in-process cache.
type MemoryCacheConfig struct {
	MaxCostBytes int64 `yaml:"maxCostBytes"`
	NumCounters  int64 `yaml:"numCounters"`
}

// ValkeyCacheConfig configures the shared Valkey cache.
type ValkeyCacheConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	MaxIdle      int           `yaml:"maxIdle"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides. Fields absent
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			MaxMessageBytes: 16 << 20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Analysis: AnalysisConfig{
			Algorithm:  string(clustering.AlgorithmBridged),
			Params:     clustering.DefaultParams(),
			Thresholds: clustering.DefaultThresholds(),
			Preset:     "balanced",
		},
		Presets: PresetsConfig{Path: "configs/presets/default.yaml"},
		Cache: CacheConfig{
			Backend: CacheMemory,
			TTL:     15 * time.Minute,
			Memory:  MemoryCacheConfig{MaxCostBytes: 64 << 20, NumCounters: 100_000},
			Valkey: ValkeyCacheConfig{
				KeyPrefix:    "mirador-apnea:",
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
				MaxIdle:      4,
			},
		},
	}
}

// Validate checks the analysis defaults and the cache backend.
func (c Config) Validate() error {
	algorithm, err := clustering.ParseAlgorithm(c.Analysis.Algorithm)
	if err != nil {
		return fmt.Errorf("analysis.algorithm: %w", err)
	}
	if err := c.Analysis.Params.Validate(algorithm); err != nil {
		return fmt.Errorf("analysis.params: %w", err)
	}
	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheValkey:
		if c.Cache.Valkey.Addr == "" {
			return errors.New("cache.valkey.addr is required for the valkey backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of none, memory, valkey", c.Cache.Backend)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	envString("SERVER_ADDRESS", &cfg.Server.Address)
	envString("METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	envString("LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	envString("ALGORITHM", &cfg.Analysis.Algorithm)
	envString("PRESET", &cfg.Analysis.Preset)
	envString("PRESETS_PATH", &cfg.Presets.Path)
	envString("CACHE_BACKEND", &cfg.Cache.Backend)
	envString("CACHE_ADDR", &cfg.Cache.Valkey.Addr)
	envString("CACHE_USERNAME", &cfg.Cache.Valkey.Username)
	envString("CACHE_PASSWORD", &cfg.Cache.Valkey.Password)
	envString("CACHE_KEY_PREFIX", &cfg.Cache.Valkey.KeyPrefix)
	envBool("CACHE_TLS", &cfg.Cache.Valkey.TLS)

	return errors.Join(
		envDuration("GRACEFUL_TIMEOUT", &cfg.Server.GracefulTimeout),
		envFloat("GAP_SEC", &cfg.Analysis.Params.GapSec),
		envFloat("BRIDGE_THRESHOLD", &cfg.Analysis.Params.BridgeThreshold),
		envInt("K", &cfg.Analysis.Params.K),
		envFloat("LINKAGE_THRESHOLD_SEC", &cfg.Analysis.Params.LinkageThresholdSec),
		envInt("MIN_COUNT", &cfg.Analysis.Thresholds.MinCount),
		envFloat("MIN_TOTAL_SEC", &cfg.Analysis.Thresholds.MinTotalSec),
		envFloat("MAX_CLUSTER_SEC", &cfg.Analysis.Thresholds.MaxClusterSec),
		envDuration("CACHE_TTL", &cfg.Cache.TTL),
		envInt("CACHE_DB", &cfg.Cache.Valkey.DB),
		envDuration("CACHE_DIAL_TIMEOUT", &cfg.Cache.Valkey.DialTimeout),
		envDuration("CACHE_READ_TIMEOUT", &cfg.Cache.Valkey.ReadTimeout),
		envDuration("CACHE_WRITE_TIMEOUT", &cfg.Cache.Valkey.WriteTimeout),
		envInt("CACHE_MAX_RETRIES", &cfg.Cache.Valkey.MaxRetries),
	)
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*dst = n
	return nil
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*dst = f
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*dst = d
	return nil
}
