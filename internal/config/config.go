// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，由 Init 填充。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Storage       StorageConfig       `mapstructure:"storage"`
	LLM           LLMConfig           `mapstructure:"llm"`
	WebSearch     WebSearchConfig     `mapstructure:"websearch"`
	Documents     DocumentsConfig     `mapstructure:"documents"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Worker        WorkerConfig        `mapstructure:"worker"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// Addr 返回 HTTP 监听地址。
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时不连接 Redis。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Enabled=false 时使用进程内的任务队列。
type KafkaConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。ServerURL 为空时不启用。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// StorageConfig 是未启用 MinIO 时的本地文件存储配置。
type StorageConfig struct {
	LocalDir string `mapstructure:"local_dir"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置回答生成的参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// WebSearchConfig 存储 Tavily 网络搜索的配置。
type WebSearchConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	SearchDepth   string        `mapstructure:"search_depth"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DocumentsConfig 存储文档处理相关的配置。
type DocumentsConfig struct {
	MaxSizeMB    int           `mapstructure:"max_size_mb"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	ChunkOverlap int           `mapstructure:"chunk_overlap"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// MaxSizeBytes 返回上传文件的字节上限。
func (c DocumentsConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

// ChatConfig 存储对话相关的默认值。
type ChatConfig struct {
	MaxInternalSources int `mapstructure:"max_internal_sources"`
	MaxWebSources      int `mapstructure:"max_web_sources"`
}

// WorkerConfig 存储进程内任务队列的配置。
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue_size"`
}

// Init 加载配置到全局变量 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Errorf("加载配置失败: %w", err))
	}
	Conf = *cfg
}

// Load 依次读取 .env、YAML 配置文件（可选）与环境变量，返回校验后的配置。
// 环境变量名为配置键大写并把 "." 换成 "_"，例如 LLM_API_KEY。
func Load(configPath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容常见的独立变量名
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("websearch.api_key", "WEBSEARCH_API_KEY", "TAVILY_API_KEY")
	_ = v.BindEnv("database.mysql.dsn", "DATABASE_MYSQL_DSN", "DATABASE_URL")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查没有默认值的必填项。
func (c *Config) Validate() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key")
	}
	if c.WebSearch.APIKey == "" {
		missing = append(missing, "websearch.api_key")
	}
	if c.Database.MySQL.DSN == "" {
		missing = append(missing, "database.mysql.dsn")
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少必填配置: %s", strings.Join(missing, ", "))
	}
	if c.Documents.ChunkOverlap >= c.Documents.ChunkSize {
		return errors.New("documents.chunk_overlap 必须小于 documents.chunk_size")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.max_open_conns", 100)
	v.SetDefault("database.mysql.conn_max_lifetime", time.Hour)
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "document-ingestion")
	v.SetDefault("kafka.group_id", "qarag-ingestion")
	v.SetDefault("kafka.max_attempts", 3)

	v.SetDefault("tika.server_url", "")
	v.SetDefault("tika.timeout", 60*time.Second)

	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "qarag_chunks")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "qarag-documents")
	v.SetDefault("storage.local_dir", "./data")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.top_p", 1.0)
	v.SetDefault("llm.generation.max_tokens", 4096)

	v.SetDefault("websearch.api_key", "")
	v.SetDefault("websearch.base_url", "https://api.tavily.com")
	v.SetDefault("websearch.search_depth", "advanced")
	v.SetDefault("websearch.rate_per_second", 5.0)
	v.SetDefault("websearch.timeout", 30*time.Second)

	v.SetDefault("documents.max_size_mb", 50)
	v.SetDefault("documents.chunk_size", 1000)
	v.SetDefault("documents.chunk_overlap", 200)
	v.SetDefault("documents.fetch_timeout", 30*time.Second)

	v.SetDefault("chat.max_internal_sources", 5)
	v.SetDefault("chat.max_web_sources", 3)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_size", 64)
}
