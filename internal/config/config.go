package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/hls"
	httpPkg "github.com/NamanBalaji/hlsdm/pkg/http"
)

const (
	appName   = "hlsdm"
	envPrefix = "HLSDM"
)

// Config holds the configuration options for the application.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Download  DownloadConfig  `mapstructure:"download" yaml:"download"`
	Segment   SegmentConfig   `mapstructure:"segment" yaml:"segment"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Policy    PolicyConfig    `mapstructure:"policy" yaml:"policy"`
	Assembler AssemblerConfig `mapstructure:"assembler" yaml:"assembler"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type EngineConfig struct {
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
}

type DownloadConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// SegmentConfig controls how the segments of one job are fetched.
type SegmentConfig struct {
	BatchSize         int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
	BatchCooldown     time.Duration `mapstructure:"batch_cooldown" yaml:"batch_cooldown"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type StorageConfig struct {
	EstimatedSegmentSize int64 `mapstructure:"estimated_segment_size" yaml:"estimated_segment_size"`
	// MaxArtifactSize of 0 disables the limit.
	MaxArtifactSize int64 `mapstructure:"max_artifact_size" yaml:"max_artifact_size"`
}

type PolicyConfig struct {
	MinSuccessRatio  float64 `mapstructure:"min_success_ratio" yaml:"min_success_ratio"`
	FullSuccessRatio float64 `mapstructure:"full_success_ratio" yaml:"full_success_ratio"`
}

type AssemblerConfig struct {
	WriteChunkSize int `mapstructure:"write_chunk_size" yaml:"write_chunk_size"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type LogConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Debug bool   `mapstructure:"debug" yaml:"debug"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Engine:   EngineConfig{MaxConcurrentJobs: maxConcurrentJobs},
		Download: DownloadConfig{Dir: defaultDownloadDir(), UserAgent: httpPkg.DefaultUserAgent},
		Segment: SegmentConfig{
			BatchSize:         batchSize,
			MaxAttempts:       maxAttempts,
			RetryDelay:        retryDelay,
			MaxRetryDelay:     maxRetryDelay,
			BatchCooldown:     batchCooldown,
			RequestsPerSecond: requestsPerSecond,
			Timeout:           segmentTimeout,
		},
		Storage: StorageConfig{
			EstimatedSegmentSize: estimatedSegmentSize,
			MaxArtifactSize:      maxArtifactSize,
		},
		Policy: PolicyConfig{
			MinSuccessRatio:  minSuccessRatio,
			FullSuccessRatio: fullSuccessRatio,
		},
		Assembler: AssemblerConfig{WriteChunkSize: writeChunkSize},
		Store:     StoreConfig{Path: defaultStorePath()},
		API:       APIConfig{Listen: apiListen},
		Log:       LogConfig{Path: defaultLogPath()},
	}
}

// Load reads the configuration file at path, or DefaultPath when path is
// empty. A missing file yields the defaults. Environment variables prefixed
// with HLSDM_ override file values, e.g. HLSDM_SEGMENT_BATCH_SIZE.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key of def with v, which also makes the keys
// visible to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper, def *Config) error {
	b, err := yaml.Marshal(def)
	if err != nil {
		return err
	}

	dv := viper.New()
	dv.SetConfigType("yaml")
	if err := dv.ReadConfig(bytes.NewReader(b)); err != nil {
		return err
	}

	for _, key := range dv.AllKeys() {
		v.SetDefault(key, dv.Get(key))
	}

	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Engine.MaxConcurrentJobs < 1:
		return fmt.Errorf("engine.max_concurrent_jobs must be positive, got %d", c.Engine.MaxConcurrentJobs)
	case c.Download.Dir == "":
		return errors.New("download.dir is required")
	case c.Segment.BatchSize < 1:
		return fmt.Errorf("segment.batch_size must be positive, got %d", c.Segment.BatchSize)
	case c.Segment.MaxAttempts < 1:
		return fmt.Errorf("segment.max_attempts must be positive, got %d", c.Segment.MaxAttempts)
	case c.Segment.RetryDelay < 0 || c.Segment.MaxRetryDelay < 0 || c.Segment.BatchCooldown < 0:
		return errors.New("segment delays must not be negative")
	case c.Segment.RequestsPerSecond < 0:
		return fmt.Errorf("segment.requests_per_second must not be negative, got %g", c.Segment.RequestsPerSecond)
	case c.Segment.Timeout <= 0:
		return fmt.Errorf("segment.timeout must be positive, got %s", c.Segment.Timeout)
	case c.Storage.EstimatedSegmentSize < 1:
		return fmt.Errorf("storage.estimated_segment_size must be positive, got %d", c.Storage.EstimatedSegmentSize)
	case c.Storage.MaxArtifactSize < 0:
		return fmt.Errorf("storage.max_artifact_size must not be negative, got %d", c.Storage.MaxArtifactSize)
	case !validRatio(c.Policy.MinSuccessRatio) || !validRatio(c.Policy.FullSuccessRatio):
		return errors.New("policy ratios must be between 0 and 1")
	case c.Policy.MinSuccessRatio > c.Policy.FullSuccessRatio:
		return fmt.Errorf("policy.min_success_ratio %g exceeds policy.full_success_ratio %g",
			c.Policy.MinSuccessRatio, c.Policy.FullSuccessRatio)
	case c.Assembler.WriteChunkSize < 1:
		return fmt.Errorf("assembler.write_chunk_size must be positive, got %d", c.Assembler.WriteChunkSize)
	}

	return nil
}

func validRatio(r float64) bool {
	return r >= 0 && r <= 1
}

// Save writes c as YAML to path, creating parent directories.
func Save(c *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(path, b, 0o644)
}

// ToEngine converts c into the settings of the download engine.
func (c *Config) ToEngine() *engine.Config {
	return &engine.Config{
		DownloadDir:       c.Download.Dir,
		MaxConcurrentJobs: c.Engine.MaxConcurrentJobs,
		BatchSize:         c.Segment.BatchSize,
		BatchCooldown:     c.Segment.BatchCooldown,
		Backoff: hls.Backoff{
			MaxAttempts: c.Segment.MaxAttempts,
			BaseDelay:   c.Segment.RetryDelay,
			Multiplier:  2,
			MaxDelay:    c.Segment.MaxRetryDelay,
			Jitter:      hls.RandomJitter,
		},
		RequestsPerSecond:    c.Segment.RequestsPerSecond,
		RequestTimeout:       c.Segment.Timeout,
		UserAgent:            c.Download.UserAgent,
		EstimatedSegmentSize: c.Storage.EstimatedSegmentSize,
		MaxArtifactSize:      c.Storage.MaxArtifactSize,
		WriteChunkSize:       c.Assembler.WriteChunkSize,
		Policy: hls.SuccessPolicy{
			MinRatio:  c.Policy.MinSuccessRatio,
			FullRatio: c.Policy.FullSuccessRatio,
		},
	}
}
