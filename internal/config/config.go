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
)

// Config captures the settings required to boot the analytics engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Clients     ClientsConfig     `yaml:"clients"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Remediation RemediationConfig `yaml:"remediation"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig controls the metrics listener.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups integrations with upstream data APIs.
type ClientsConfig struct {
	Pipelines PipelinesClientConfig `yaml:"pipelines"`
}

// PipelinesClientConfig configures access to the CI metrics ingestion API.
type PipelinesClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	RunsPath      string        `yaml:"runsPath"`
	PipelinesPath string        `yaml:"pipelinesPath"`
	Timeout       time.Duration `yaml:"timeout"`
	ListTTL       time.Duration `yaml:"listTTL"`
}

// StoreConfig configures the optional remote document-store mirror. An empty
// endpoint keeps persistence purely in memory.
type StoreConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"apiKey"`
	Timeout   time.Duration `yaml:"timeout"`
	Retention int           `yaml:"retention"`
}

// CacheConfig controls Valkey-backed caching of expensive lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	AnalysisTTL  time.Duration `yaml:"analysisTTL"`
}

// SchedulerConfig bounds the job worker pool and history.
type SchedulerConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queueSize"`
	HistoryLimit int           `yaml:"historyLimit"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// AlertingConfig tunes the escalation sweep.
type AlertingConfig struct {
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// AnalysisConfig exposes the statistical cut points plus the cost-model
// rates and utilization bands. Zero values fall back to the engine defaults.
type AnalysisConfig struct {
	ZScoreThreshold     float64       `yaml:"zScoreThreshold"`
	LowPercentile       float64       `yaml:"lowPercentile"`
	HighPercentile      float64       `yaml:"highPercentile"`
	MinAnomalyPoints    int           `yaml:"minAnomalyPoints"`
	MinTrendPoints      int           `yaml:"minTrendPoints"`
	MinBenchmarkHistory int           `yaml:"minBenchmarkHistory"`
	StableSlopeEpsilon  float64       `yaml:"stableSlopeEpsilon"`
	SLAMinorPercent     float64       `yaml:"slaMinorPercent"`
	SLAMajorPercent     float64       `yaml:"slaMajorPercent"`
	BaseRatePerMinute   float64       `yaml:"baseRatePerMinute"`
	CPURate             float64       `yaml:"cpuRate"`
	MemoryRate          float64       `yaml:"memoryRate"`
	StorageRate         float64       `yaml:"storageRate"`
	NetworkRate         float64       `yaml:"networkRate"`
	UtilizationLow      float64       `yaml:"utilizationLow"`
	UtilizationHigh     float64       `yaml:"utilizationHigh"`
	MemoTTL             time.Duration `yaml:"memoTTL"`
}

// RemediationConfig controls rule-pack loading for SLA findings.
type RemediationConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PULSE_CONFIG")
	}

	cfg := defaultConfig()

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

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Pipelines: PipelinesClientConfig{
				RunsPath:      "/api/v1/pipelines/runs",
				PipelinesPath: "/api/v1/pipelines",
				Timeout:       5 * time.Second,
				ListTTL:       5 * time.Minute,
			},
		},
		Store: StoreConfig{
			Timeout:   5 * time.Second,
			Retention: 50,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			AnalysisTTL:  2 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Workers:      4,
			QueueSize:    16,
			HistoryLimit: 20,
			MaxAttempts:  3,
			RetryBackoff: 2 * time.Second,
		},
		Alerting: AlertingConfig{
			SweepInterval: 30 * time.Second,
		},
		Remediation: RemediationConfig{Path: "configs/remediation/default.yaml"},
		Logging:     LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PULSE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("PULSE_PIPELINES_BASE_URL"); v != "" {
		cfg.Clients.Pipelines.BaseURL = v
	}
	if v := os.Getenv("PULSE_PIPELINES_RUNS_PATH"); v != "" {
		cfg.Clients.Pipelines.RunsPath = v
	}
	if v := os.Getenv("PULSE_PIPELINES_LIST_PATH"); v != "" {
		cfg.Clients.Pipelines.PipelinesPath = v
	}
	if v := os.Getenv("PULSE_STORE_ENDPOINT"); v != "" {
		cfg.Store.Endpoint = v
	}
	if v := os.Getenv("PULSE_STORE_API_KEY"); v != "" {
		cfg.Store.APIKey = v
	}
	if v := os.Getenv("PULSE_STORE_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.Retention = n
		}
	}
	if v := os.Getenv("PULSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PULSE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("PULSE_REMEDIATION_PATH"); v != "" {
		cfg.Remediation.Path = v
	}
	if v := os.Getenv("PULSE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("PULSE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTruthy(v)
	}
	if v := os.Getenv("PULSE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("PULSE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("PULSE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("PULSE_CACHE_TLS"); isTruthy(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("PULSE_CACHE_ANALYSIS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.AnalysisTTL = d
		}
	}
	if v := os.Getenv("PULSE_PIPELINES_LIST_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.Pipelines.ListTTL = d
		}
	}
	if v := os.Getenv("PULSE_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("PULSE_SCHEDULER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.QueueSize = n
		}
	}
	if v := os.Getenv("PULSE_ALERTING_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerting.SweepInterval = d
		}
	}
}

func isTruthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
