package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Blob     BlobConfig     `yaml:"blob" mapstructure:"blob"`
	Baseline BaselineConfig `yaml:"baseline" mapstructure:"baseline"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Intake   IntakeConfig   `yaml:"intake" mapstructure:"intake"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Quantify QuantifyConfig `yaml:"quantify" mapstructure:"quantify"`
	Score    ScoreConfig    `yaml:"score" mapstructure:"score"`
	Gate     GateConfig     `yaml:"gate" mapstructure:"gate"`
	Credits  CreditsConfig  `yaml:"credits" mapstructure:"credits"`
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BlobConfig configures durable payload storage.
type BlobConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// BaselineConfig configures the baseline-factor reference dataset.
type BaselineConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	SyncAddr    string `yaml:"sync_addr" mapstructure:"sync_addr"` // FTP host:port of the factor publisher
	SyncUser    string `yaml:"sync_user" mapstructure:"sync_user"`
	SyncPass    string `yaml:"sync_pass" mapstructure:"sync_pass"`
	SyncRemote  string `yaml:"sync_remote" mapstructure:"sync_remote"`
	SyncTimeout int    `yaml:"sync_timeout_secs" mapstructure:"sync_timeout_secs"`
}

// EngineConfig configures the pluggable extraction engine.
type EngineConfig struct {
	Provider     string  `yaml:"provider" mapstructure:"provider"` // "keyword" or "anthropic"
	AnthropicKey string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst    int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// IntakeConfig configures submission validation.
type IntakeConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// ExtractConfig configures the extraction adapter.
type ExtractConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CorroborationBonus float64 `yaml:"corroboration_bonus" mapstructure:"corroboration_bonus"`
}

// Timeout returns the per-job extraction deadline.
func (c ExtractConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// QuantifyConfig configures impact quantification.
type QuantifyConfig struct {
	PillarCaps map[string]float64 `yaml:"pillar_caps" mapstructure:"pillar_caps"`
}

// ScoreConfig configures aggregation and explainability.
type ScoreConfig struct {
	ExplainThreshold float64 `yaml:"explain_threshold" mapstructure:"explain_threshold"`
	MaxWriteRetries  int     `yaml:"max_write_retries" mapstructure:"max_write_retries"`
}

// GateConfig configures the confidence and review gate.
type GateConfig struct {
	AutoApplyThreshold   float64 `yaml:"auto_apply_threshold" mapstructure:"auto_apply_threshold"`
	MaxPlausibleQuantity float64 `yaml:"max_plausible_quantity" mapstructure:"max_plausible_quantity"`
}

// CreditsConfig configures carbon credit issuance and portfolio projection.
type CreditsConfig struct {
	Standard       string  `yaml:"standard" mapstructure:"standard"`
	PriceUSDPerT   float64 `yaml:"price_usd_per_tonne" mapstructure:"price_usd_per_tonne"`
	BufferFraction float64 `yaml:"buffer_fraction" mapstructure:"buffer_fraction"`
	MinTonnes      float64 `yaml:"min_tonnes" mapstructure:"min_tonnes"`
	ConversionProb float64 `yaml:"conversion_probability" mapstructure:"conversion_probability"`
}

// WorkerConfig configures the background processing pool.
type WorkerConfig struct {
	Concurrency    int `yaml:"concurrency" mapstructure:"concurrency"`
	PollMillis     int `yaml:"poll_millis" mapstructure:"poll_millis"`
	StaleClaimSecs int `yaml:"stale_claim_secs" mapstructure:"stale_claim_secs"`
}

// PollInterval returns the queue poll interval.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollMillis) * time.Millisecond
}

// StaleClaimAfter returns how long a claimed item may sit untouched before
// the stale sweep returns it to the queue.
func (c WorkerConfig) StaleClaimAfter() time.Duration {
	return time.Duration(c.StaleClaimSecs) * time.Second
}

// AuditConfig configures the hash-chained audit log.
type AuditConfig struct {
	HMACKey string `yaml:"hmac_key" mapstructure:"hmac_key"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GREENSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "greenscore.db")
	v.SetDefault("blob.dir", "blobs")
	v.SetDefault("baseline.path", "testdata/baselines.yaml")
	v.SetDefault("baseline.sync_remote", "/pub/greenscore/baselines.yaml")
	v.SetDefault("baseline.sync_timeout_secs", 30)
	v.SetDefault("engine.provider", "keyword")
	v.SetDefault("engine.model", "claude-haiku-4-5-20251001")
	v.SetDefault("engine.rate_per_sec", 2.0)
	v.SetDefault("engine.rate_burst", 4)
	v.SetDefault("intake.max_upload_bytes", 10*1024*1024)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.timeout_secs", 60)
	v.SetDefault("extract.corroboration_bonus", 0.1)
	v.SetDefault("quantify.pillar_caps", map[string]float64{
		"energy_efficiency":  25,
		"renewable_energy":   25,
		"waste_management":   20,
		"water_conservation": 20,
	})
	v.SetDefault("score.explain_threshold", 1.0)
	v.SetDefault("score.max_write_retries", 3)
	v.SetDefault("gate.auto_apply_threshold", 0.75)
	v.SetDefault("gate.max_plausible_quantity", 1000)
	v.SetDefault("credits.standard", "VCS")
	v.SetDefault("credits.price_usd_per_tonne", 12.0)
	v.SetDefault("credits.buffer_fraction", 0.10)
	v.SetDefault("credits.min_tonnes", 0.05)
	v.SetDefault("credits.conversion_probability", 0.6)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_millis", 500)
	v.SetDefault("worker.stale_claim_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// PillarCap returns the quantification clamp for a pillar, falling back to a
// conservative cap when unconfigured.
func (c QuantifyConfig) PillarCap(pillar string) float64 {
	if cap, ok := c.PillarCaps[pillar]; ok && cap > 0 {
		return cap
	}
	return 20
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
