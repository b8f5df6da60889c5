package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"go-receipt-forensics/internal/analyzer"
)

// Config is the full service configuration. Every key can be set in the
// YAML file named by CONFIG_FILE or overridden by an environment variable
// of the same path in upper snake case, e.g. ANALYSIS_RUN_TIMEOUT.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Progress ProgressConfig `mapstructure:"progress"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Notary   NotaryConfig   `mapstructure:"notary"`
}

type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               string        `mapstructure:"port"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AnalysisConfig struct {
	MaxDimension    int           `mapstructure:"max_dimension"`
	HeatmapSize     int           `mapstructure:"heatmap_size"`
	MergeIoU        float64       `mapstructure:"merge_iou"`
	ELAQuality      int           `mapstructure:"ela_quality"`
	Preset          string        `mapstructure:"preset"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
	AnalyzerTimeout time.Duration `mapstructure:"analyzer_timeout"`
	Detectors       []string      `mapstructure:"detectors"`
	MaxConcurrent   int           `mapstructure:"max_concurrent_runs"`
	QueueSize       int           `mapstructure:"queue_size"`
}

type ScoringConfig struct {
	Weights         map[string]float64 `mapstructure:"weights"`
	ReportThreshold float64            `mapstructure:"report_threshold"`
	HighFrom        float64            `mapstructure:"high_from"`
	CriticalFrom    float64            `mapstructure:"critical_from"`
	UnclearFrom     int                `mapstructure:"unclear_from"`
	SuspiciousFrom  int                `mapstructure:"suspicious_from"`
	FraudulentFrom  int                `mapstructure:"fraudulent_from"`
}

type ProgressConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	DynamoTable   string        `mapstructure:"dynamo_table"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Backoff       time.Duration `mapstructure:"backoff"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type StorageConfig struct {
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	AzureAccount   string        `mapstructure:"azure_account"`
	AzureKey       string        `mapstructure:"azure_key"`
	AzureContainer string        `mapstructure:"azure_container"`
	S3Bucket       string        `mapstructure:"s3_bucket"`
	ArchiveBucket  string        `mapstructure:"archive_bucket"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type QueueConfig struct {
	URL               string        `mapstructure:"url"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	BatchSize         int           `mapstructure:"batch_size"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

type OCRConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Language string `mapstructure:"language"`
}

type NotaryConfig struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Server.Host)
	port := strings.TrimSpace(c.Server.Port)
	return net.JoinHostPort(host, port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.max_request_body_size", 20*1024*1024)

	v.SetDefault("log.level", "info")

	v.SetDefault("analysis.max_dimension", 1024)
	v.SetDefault("analysis.heatmap_size", 32)
	v.SetDefault("analysis.merge_iou", 0.3)
	v.SetDefault("analysis.ela_quality", 95)
	v.SetDefault("analysis.preset", "default")
	v.SetDefault("analysis.run_timeout", 60*time.Second)
	v.SetDefault("analysis.analyzer_timeout", 20*time.Second)
	v.SetDefault("analysis.detectors", analyzer.DetectorOrder)
	v.SetDefault("analysis.max_concurrent_runs", 3)
	v.SetDefault("analysis.queue_size", 64)

	v.SetDefault("scoring.weights", map[string]float64{
		analyzer.DetectorClone:       40,
		analyzer.DetectorELA:         40,
		analyzer.DetectorNoise:       30,
		analyzer.DetectorCompression: 20,
		analyzer.DetectorEdge:        10,
		analyzer.DetectorMetadata:    10,
	})
	v.SetDefault("scoring.report_threshold", 0.35)
	v.SetDefault("scoring.high_from", 0.6)
	v.SetDefault("scoring.critical_from", 0.8)
	v.SetDefault("scoring.unclear_from", 20)
	v.SetDefault("scoring.suspicious_from", 40)
	v.SetDefault("scoring.fraudulent_from", 70)

	v.SetDefault("progress.redis_addr", "")
	v.SetDefault("progress.redis_password", "")
	v.SetDefault("progress.redis_db", 0)
	v.SetDefault("progress.channel_prefix", "fve:progress")
	v.SetDefault("progress.dynamo_table", "")
	v.SetDefault("progress.max_attempts", 3)
	v.SetDefault("progress.backoff", 100*time.Millisecond)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("storage.fetch_timeout", 15*time.Second)
	v.SetDefault("storage.azure_account", "")
	v.SetDefault("storage.azure_key", "")
	v.SetDefault("storage.azure_container", "receipts")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.archive_bucket", "")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")

	v.SetDefault("queue.url", "")
	v.SetDefault("queue.wait_time", 20*time.Second)
	v.SetDefault("queue.batch_size", 5)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)

	v.SetDefault("ocr.enabled", false)
	v.SetDefault("ocr.language", "eng")

	v.SetDefault("notary.url", "")
	v.SetDefault("notary.timeout", 10*time.Second)
	v.SetDefault("notary.max_retries", 3)
}

// Load reads defaults, then the optional YAML file at path, then the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// short names kept from the original env-only configuration
	_ = v.BindEnv("server.host", "SERVER_HOST", "HOST")
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads the file named by CONFIG_FILE, if any, plus the
// environment.
func LoadFromEnv() (*Config, error) {
	v := viper.New()
	_ = v.BindEnv("config_file", "CONFIG_FILE")
	return Load(v.GetString("config_file"))
}

// Validate checks ranges and orderings that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Server.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid server port: %q", c.Server.Port)
	}
	if c.Server.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max_request_body_size must be > 0 (got %d)", c.Server.MaxRequestBodySize)
	}
	if c.Server.RequestTimeout <= 0 || c.Analysis.RunTimeout <= 0 || c.Analysis.AnalyzerTimeout <= 0 || c.Storage.FetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, run=%s, analyzer=%s, fetch=%s)",
			c.Server.RequestTimeout, c.Analysis.RunTimeout, c.Analysis.AnalyzerTimeout, c.Storage.FetchTimeout)
	}
	if c.Analysis.MaxDimension < 1 {
		return fmt.Errorf("max_dimension must be >= 1 (got %d)", c.Analysis.MaxDimension)
	}
	if c.Analysis.HeatmapSize < 1 {
		return fmt.Errorf("heatmap_size must be >= 1 (got %d)", c.Analysis.HeatmapSize)
	}
	if c.Analysis.ELAQuality < 1 || c.Analysis.ELAQuality > 100 {
		return fmt.Errorf("ela_quality must be within 1..100 (got %d)", c.Analysis.ELAQuality)
	}
	if c.Analysis.MaxConcurrent < 1 || c.Analysis.QueueSize < 1 {
		return fmt.Errorf("max_concurrent_runs and queue_size must be >= 1")
	}
	if len(c.Analysis.Detectors) == 0 {
		return fmt.Errorf("at least one detector must be enabled")
	}
	for _, name := range c.Analysis.Detectors {
		if !knownDetector(name) {
			return fmt.Errorf("unknown detector %q", name)
		}
	}
	for name, w := range c.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative, got %g", name, w)
		}
	}
	s := c.Scoring
	if !(s.UnclearFrom > 0 && s.UnclearFrom < s.SuspiciousFrom && s.SuspiciousFrom < s.FraudulentFrom && s.FraudulentFrom <= 100) {
		return fmt.Errorf("band thresholds must be strictly ascending, got %d/%d/%d",
			s.UnclearFrom, s.SuspiciousFrom, s.FraudulentFrom)
	}
	switch c.Database.Driver {
	case "", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func knownDetector(name string) bool {
	for _, d := range analyzer.DetectorOrder {
		if d == name {
			return true
		}
	}
	return false
}
