package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	SQLite        SQLiteConfig
	Postgres      PostgresConfig
	Milvus        MilvusConfig
	Redis         RedisConfig
	LLM           LLMConfig
	RateLimit     RateLimitConfig
	ContextWindow ContextWindowConfig
	Query         QueryConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type PostgresConfig struct {
	DSN            string
	MaxConns       int
	QueryTimeoutMS int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	Temperature     float32
	MaxTokens       int
	ContextWindow   int
	EmbeddingModel  string
	EmbeddingDim    int
	EnrichTimeoutMS int
}

type RateLimitConfig struct {
	MaxQueriesPerHour        int
	CooldownAfterBlocks      int
	BlockDurationMinutes     int
	SessionExpirationMinutes int
}

type ContextWindowConfig struct {
	MaxContextTokens    int
	MaxHistoryMessages  int
	EnableCompaction    bool
	CompactionStrategy  string
	SummaryThreshold    int
	ReservedForResponse int
	SmallModelThreshold int
	LargeModelThreshold int
}

type QueryConfig struct {
	DefaultLimit   int
	MaxLimit       int
	DefaultTopK    int
	CandidateK     int
	CacheTTLSec    int
	MatchThreshold float64
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/querypilot")

	viper.SetEnvPrefix("QUERYPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/querypilot.db")

	viper.SetDefault("postgres.dsn", "postgres://localhost:5432/querypilot")
	viper.SetDefault("postgres.maxConns", 4)
	viper.SetDefault("postgres.queryTimeoutMS", 10000)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "doc_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.contextWindow", 16384)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)
	viper.SetDefault("llm.enrichTimeoutMS", 5000)

	viper.SetDefault("ratelimit.maxQueriesPerHour", 50)
	viper.SetDefault("ratelimit.cooldownAfterBlocks", 3)
	viper.SetDefault("ratelimit.blockDurationMinutes", 15)
	viper.SetDefault("ratelimit.sessionExpirationMinutes", 60)

	viper.SetDefault("contextwindow.maxContextTokens", 8192)
	viper.SetDefault("contextwindow.maxHistoryMessages", 20)
	viper.SetDefault("contextwindow.enableCompaction", true)
	viper.SetDefault("contextwindow.compactionStrategy", "adaptive")
	viper.SetDefault("contextwindow.summaryThreshold", 6)
	viper.SetDefault("contextwindow.reservedForResponse", 1024)
	viper.SetDefault("contextwindow.smallModelThreshold", 8192)
	viper.SetDefault("contextwindow.largeModelThreshold", 100000)

	viper.SetDefault("query.defaultLimit", 20)
	viper.SetDefault("query.maxLimit", 500)
	viper.SetDefault("query.defaultTopK", 10)
	viper.SetDefault("query.candidateK", 30)
	viper.SetDefault("query.cacheTTLSec", 300)
	viper.SetDefault("query.matchThreshold", 0.35)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
