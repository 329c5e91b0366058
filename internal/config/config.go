// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Collector CollectorConfig `mapstructure:"collector"`
	Joiner    JoinerConfig    `mapstructure:"joiner"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Export    ExportConfig    `mapstructure:"export"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig selects the Stack Exchange site, tag and query shape.
type APIConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Site             string `mapstructure:"site"`
	Tag              string `mapstructure:"tag"`
	Filter           string `mapstructure:"filter"`
	Sort             string `mapstructure:"sort"`
	Order            string `mapstructure:"order"`
	Key              string `mapstructure:"key"`
	DelayMs          int    `mapstructure:"delay_ms"`
	AnswerPageSize   int    `mapstructure:"answer_page_size"`
	MaxAnswerPages   int    `mapstructure:"max_answer_pages"`
	AnswerQuotaFloor int    `mapstructure:"answer_quota_floor"`
	IDsPerRequest    int    `mapstructure:"ids_per_request"`
}

// HTTPConfig configures the transport used for API calls.
type HTTPConfig struct {
	Transport      string `mapstructure:"transport"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// CollectorConfig governs question pagination.
type CollectorConfig struct {
	QuestionsPath          string `mapstructure:"questions_path"`
	StartPage              int    `mapstructure:"start_page"`
	MaxPages               int    `mapstructure:"max_pages"`
	PageSize               int    `mapstructure:"page_size"`
	AcceptedOnly           bool   `mapstructure:"accepted_only"`
	SaveInterval           int    `mapstructure:"save_interval"`
	QuotaFloor             int    `mapstructure:"quota_floor"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
}

// JoinerConfig governs answer batching and the output table.
type JoinerConfig struct {
	OutputPath     string `mapstructure:"output_path"`
	BatchSize      int    `mapstructure:"batch_size"`
	TopN           int    `mapstructure:"top_n"`
	AcceptedPolicy string `mapstructure:"accepted_policy"`
}

// PipelineConfig selects the default stages.
type PipelineConfig struct {
	Mode string `mapstructure:"mode"`
}

// ExportConfig holds the optional secondary destinations.
type ExportConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Local    LocalConfig    `mapstructure:"local"`
}

// PostgresConfig enables row export when DSN is set.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	CreateTable            bool   `mapstructure:"create_table"`
}

// GCSConfig enables artifact upload when Bucket is set.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LocalConfig enables archiving artifacts into Dir when set.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig enables the metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QACOLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.stackexchange.com/2.3")
	v.SetDefault("api.site", "stackoverflow")
	v.SetDefault("api.tag", "nlp")
	v.SetDefault("api.filter", "withbody")
	v.SetDefault("api.sort", "votes")
	v.SetDefault("api.order", "desc")
	v.SetDefault("api.key", "")
	v.SetDefault("api.delay_ms", 1000)
	v.SetDefault("api.answer_page_size", 100)
	v.SetDefault("api.max_answer_pages", 1)
	v.SetDefault("api.answer_quota_floor", 100)
	v.SetDefault("api.ids_per_request", 100)
	v.SetDefault("http.transport", "resty")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "qacollector/0.1")
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("collector.questions_path", "data/questions.json")
	v.SetDefault("collector.start_page", 11)
	v.SetDefault("collector.max_pages", 300)
	v.SetDefault("collector.page_size", 100)
	v.SetDefault("collector.accepted_only", true)
	v.SetDefault("collector.save_interval", 5)
	v.SetDefault("collector.quota_floor", 5)
	v.SetDefault("collector.max_consecutive_failures", 3)
	v.SetDefault("joiner.output_path", "data/qa.csv")
	v.SetDefault("joiner.batch_size", 30)
	v.SetDefault("joiner.top_n", 3)
	v.SetDefault("joiner.accepted_policy", "first")
	v.SetDefault("pipeline.mode", "both")
	v.SetDefault("export.postgres.dsn", "")
	v.SetDefault("export.postgres.table", "qa_rows")
	v.SetDefault("export.postgres.max_conns", 2)
	v.SetDefault("export.postgres.min_conns", 0)
	v.SetDefault("export.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("export.postgres.create_table", true)
	v.SetDefault("export.gcs.bucket", "")
	v.SetDefault("export.gcs.prefix", "qacollector")
	v.SetDefault("export.local.dir", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" || c.API.Site == "" || c.API.Tag == "" {
		return fmt.Errorf("api.base_url, api.site and api.tag are required")
	}
	if c.API.DelayMs < 0 {
		return fmt.Errorf("api.delay_ms must be >= 0")
	}
	if c.API.AnswerPageSize <= 0 || c.API.AnswerPageSize > 100 {
		return fmt.Errorf("api.answer_page_size must be between 1 and 100")
	}
	if c.API.IDsPerRequest <= 0 || c.API.IDsPerRequest > 100 {
		return fmt.Errorf("api.ids_per_request must be between 1 and 100")
	}
	switch c.HTTP.Transport {
	case "resty", "colly":
	default:
		return fmt.Errorf("http.transport must be resty or colly")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Collector.QuestionsPath == "" {
		return fmt.Errorf("collector.questions_path is required")
	}
	if c.Collector.StartPage <= 0 || c.Collector.MaxPages <= 0 {
		return fmt.Errorf("collector.start_page and collector.max_pages must be > 0")
	}
	if c.Collector.PageSize <= 0 || c.Collector.PageSize > 100 {
		return fmt.Errorf("collector.page_size must be between 1 and 100")
	}
	if c.Collector.SaveInterval <= 0 {
		return fmt.Errorf("collector.save_interval must be > 0")
	}
	if c.Joiner.OutputPath == "" {
		return fmt.Errorf("joiner.output_path is required")
	}
	if c.Joiner.BatchSize <= 0 {
		return fmt.Errorf("joiner.batch_size must be > 0")
	}
	if c.Joiner.TopN < 0 {
		return fmt.Errorf("joiner.top_n must be >= 0")
	}
	switch c.Joiner.AcceptedPolicy {
	case "", "first", "highest_score":
	default:
		return fmt.Errorf("joiner.accepted_policy must be first or highest_score")
	}
	switch c.Pipeline.Mode {
	case "", "collect", "join", "both":
	default:
		return fmt.Errorf("pipeline.mode must be collect, join or both")
	}
	return nil
}

// Delay returns the pause between API calls.
func (c Config) Delay() time.Duration {
	return time.Duration(c.API.DelayMs) * time.Millisecond
}

// Timeout returns the per-request HTTP timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MaxConnLifetime returns the Postgres connection lifetime.
func (c PostgresConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMinutes) * time.Minute
}
