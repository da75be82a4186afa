package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Store      StoreConfig      `json:"store" mapstructure:"store"`
	Redis      RedisConfig      `json:"redis" mapstructure:"redis"`
	Database   DatabaseConfig   `json:"database" mapstructure:"database"`
	OpenAI     OpenAIConfig     `json:"openai" mapstructure:"openai"`
	Compaction CompactionConfig `json:"compaction" mapstructure:"compaction"`
	Builder    BuilderConfig    `json:"builder" mapstructure:"builder"`
	Batch      BatchConfig      `json:"batch" mapstructure:"batch"`
}

type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// StoreConfig selects the key-value backend: "redis" (default) or "postgres".
type StoreConfig struct {
	Backend string `json:"backend" mapstructure:"backend"`
	// TurnTTL is the retention window for verbatim turns. Zero disables expiry.
	TurnTTL time.Duration `json:"turn_ttl" mapstructure:"turn_ttl"`
}

type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

type OpenAIConfig struct {
	APIKey         string  `json:"api_key" mapstructure:"api_key"`
	BaseURL        string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Model          string  `json:"model" mapstructure:"model"`
	EmbeddingModel string  `json:"embedding_model" mapstructure:"embedding_model"`
	Temperature    float32 `json:"temperature" mapstructure:"temperature"`
}

// CompactionConfig holds the summarizer and trigger tunables. The threshold and
// budget split are deliberately configuration, not constants.
type CompactionConfig struct {
	RealtimeTokenThreshold int           `json:"realtime_token_threshold" mapstructure:"realtime_token_threshold"`
	RealtimeTimeout        time.Duration `json:"realtime_timeout" mapstructure:"realtime_timeout"`
	BatchIntervalTurns     int           `json:"batch_interval_turns" mapstructure:"batch_interval_turns"`
	IdleThreshold          time.Duration `json:"idle_threshold" mapstructure:"idle_threshold"`
	InputTokenCeiling      int           `json:"input_token_ceiling" mapstructure:"input_token_ceiling"`
	SummaryMaxTokens       int           `json:"summary_max_tokens" mapstructure:"summary_max_tokens"`
	ProfileMaxTokens       int           `json:"profile_max_tokens" mapstructure:"profile_max_tokens"`
	RetryAttempts          int           `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff           time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	LockTTL                time.Duration `json:"lock_ttl" mapstructure:"lock_ttl"`
	MarkerTTL              time.Duration `json:"marker_ttl" mapstructure:"marker_ttl"`
}

type BuilderConfig struct {
	ProfileFraction float64 `json:"profile_fraction" mapstructure:"profile_fraction"`
	SummaryFraction float64 `json:"summary_fraction" mapstructure:"summary_fraction"`
	MaxRecentTurns  int     `json:"max_recent_turns" mapstructure:"max_recent_turns"`
}

type BatchConfig struct {
	Schedule        string        `json:"schedule" mapstructure:"schedule"`
	Concurrency     int           `json:"concurrency" mapstructure:"concurrency"`
	SessionDeadline time.Duration `json:"session_deadline" mapstructure:"session_deadline"`
	// LimiterRate/LimiterBurst bound the sweep's completion calls per minute.
	// A zero rate disables the quota.
	LimiterRate  int `json:"limiter_rate" mapstructure:"limiter_rate"`
	LimiterBurst int `json:"limiter_burst" mapstructure:"limiter_burst"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".pawpal"))
	}

	viper.SetEnvPrefix("PAWPAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Run on defaults + env when no config file is present.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8084)

	viper.SetDefault("store.backend", "redis")
	viper.SetDefault("store.turn_ttl", 90*24*time.Hour)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "pawpal")
	viper.SetDefault("database.database", "pawpal_context")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("openai.temperature", 0.2)

	// The threshold leaves room for the model's max response under the
	// provider's hard input limit.
	viper.SetDefault("compaction.realtime_token_threshold", 4000)
	viper.SetDefault("compaction.realtime_timeout", 20*time.Second)
	viper.SetDefault("compaction.batch_interval_turns", 20)
	viper.SetDefault("compaction.idle_threshold", 30*time.Minute)
	viper.SetDefault("compaction.input_token_ceiling", 6000)
	viper.SetDefault("compaction.summary_max_tokens", 500)
	viper.SetDefault("compaction.profile_max_tokens", 400)
	viper.SetDefault("compaction.retry_attempts", 3)
	viper.SetDefault("compaction.retry_backoff", 500*time.Millisecond)
	viper.SetDefault("compaction.lock_ttl", 30*time.Second)
	viper.SetDefault("compaction.marker_ttl", 7*24*time.Hour)

	viper.SetDefault("builder.profile_fraction", 0.05)
	viper.SetDefault("builder.summary_fraction", 0.15)
	viper.SetDefault("builder.max_recent_turns", 200)

	viper.SetDefault("batch.schedule", "@hourly")
	viper.SetDefault("batch.concurrency", 4)
	viper.SetDefault("batch.session_deadline", 60*time.Second)
	viper.SetDefault("batch.limiter_rate", 60)
	viper.SetDefault("batch.limiter_burst", 60)
}
