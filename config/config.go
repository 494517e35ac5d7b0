package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the document Q&A backend.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Uploads    UploadsConfig    `mapstructure:"uploads"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Queue      QueueConfig      `mapstructure:"queue"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	Debug     bool   `mapstructure:"debug"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func (g GeneralConfig) Validate() error {
	if strings.TrimSpace(g.JWTSecret) == "" {
		return fmt.Errorf("general.jwt_secret is required")
	}
	return nil
}

// StorageConfig groups the backing stores.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the connection string used by both the server and the worker.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis broker settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host is required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// ProvidersConfig holds external capability credentials and models.
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OpenAIConfig configures the embedding provider.
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Dimensions     int           `mapstructure:"dimensions"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// AnthropicConfig configures the answer generation provider.
type AnthropicConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// UploadsConfig controls stored file handling.
type UploadsConfig struct {
	Dir               string   `mapstructure:"dir"`
	MaxFileSizeBytes  int64    `mapstructure:"max_file_size_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// Normalize applies defaults for unset upload values.
func (u UploadsConfig) Normalize() UploadsConfig {
	if strings.TrimSpace(u.Dir) == "" {
		u.Dir = "uploads"
	}
	if u.MaxFileSizeBytes <= 0 {
		u.MaxFileSizeBytes = 10 << 20
	}
	if len(u.AllowedExtensions) == 0 {
		u.AllowedExtensions = []string{".pdf"}
	}
	return u
}

// ProcessingConfig controls the document pipeline.
type ProcessingConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkOverlap   int           `mapstructure:"chunk_overlap"`
	ExtractTimeout time.Duration `mapstructure:"extract_timeout"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	TopKDefault    int           `mapstructure:"top_k_default"`
	TopKMax        int           `mapstructure:"top_k_max"`
}

// Normalize applies defaults for unset processing values.
func (p ProcessingConfig) Normalize() ProcessingConfig {
	if p.ChunkSize <= 0 {
		p.ChunkSize = 500
	}
	if p.ChunkOverlap < 0 {
		p.ChunkOverlap = 0
	}
	if p.ExtractTimeout <= 0 {
		p.ExtractTimeout = 60 * time.Second
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = 30 * time.Minute
	}
	if p.TopKDefault <= 0 {
		p.TopKDefault = 5
	}
	if p.TopKMax <= 0 {
		p.TopKMax = 20
	}
	return p
}

func (p ProcessingConfig) Validate() error {
	if p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("processing.chunk_overlap must be smaller than processing.chunk_size")
	}
	return nil
}

// QueueConfig controls the Redis Streams job broker.
type QueueConfig struct {
	Stream       string        `mapstructure:"stream"`
	Group        string        `mapstructure:"group"`
	DedupTTL     time.Duration `mapstructure:"dedup_ttl"`
	ReadBlock    time.Duration `mapstructure:"read_block"`
	ReadCount    int64         `mapstructure:"read_count"`
	MaxLen       int64         `mapstructure:"max_len"`
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
}

// Normalize applies defaults for unset queue values.
func (q QueueConfig) Normalize() QueueConfig {
	if strings.TrimSpace(q.Stream) == "" {
		q.Stream = "document.process"
	}
	if strings.TrimSpace(q.Group) == "" {
		q.Group = "quaero-workers"
	}
	if q.DedupTTL <= 0 {
		q.DedupTTL = 2 * time.Hour
	}
	if q.ReadBlock <= 0 {
		q.ReadBlock = 5 * time.Second
	}
	if q.ReadCount <= 0 {
		q.ReadCount = 16
	}
	if q.MaxLen <= 0 {
		q.MaxLen = 10000
	}
	if q.ClaimMinIdle <= 0 {
		q.ClaimMinIdle = 5 * time.Minute
	}
	return q
}

// LoadConfig loads config from file, with QUAERO_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.redis.port", "6379")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.dimensions", 1536)
	viper.SetDefault("providers.openai.timeout", 30*time.Second)
	viper.SetDefault("providers.anthropic.model", "claude-3-haiku-20240307")
	viper.SetDefault("providers.anthropic.max_tokens", 1024)
	viper.SetDefault("providers.anthropic.timeout", 60*time.Second)
	viper.SetDefault("processing.chunk_size", 500)
	viper.SetDefault("processing.chunk_overlap", 50)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("QUAERO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Env vars and defaults are enough when no file is present.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Uploads = config.Uploads.Normalize()
	config.Processing = config.Processing.Normalize()
	config.Queue = config.Queue.Normalize()

	if err := config.General.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Processing.Validate(); err != nil {
		panic(err)
	}
	return &config
}
