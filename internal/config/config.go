package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Events     EventsConfig
	Webhooks   WebhooksConfig
	Transcoder TranscoderConfig
	Pipeline   PipelineConfig
	Auth       AuthConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Backend         string // "minio" or "local"
	LocalDir        string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// EventsConfig holds message broker configuration for domain events
type EventsConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Exchange string
}

// WebhookEndpoint receives the events matching Events. An empty list
// matches every event; "job.*" matches by prefix.
type WebhookEndpoint struct {
	URL    string
	Secret string
	Events []string
}

// WebhooksConfig holds outbound webhook delivery settings
type WebhooksConfig struct {
	Endpoints   []WebhookEndpoint
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	QueueSize   int
}

// TranscoderConfig holds media tool configuration
type TranscoderConfig struct {
	TempDir      string
	FFmpegPath   string
	FFprobePath  string
	WhisperPath  string
	WhisperModel string
}

// RenditionConfig describes one transcode target seeded on upload
type RenditionConfig struct {
	Name       string
	Resolution string
	Bitrate    int64
	Priority   int
}

// PipelineConfig holds job queue, retry and worker pool settings
type PipelineConfig struct {
	MaxUploadSize       int64
	DefaultMaxRetries   int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	WorkerCount         int
	PollInterval        time.Duration
	CancelCheckInterval time.Duration
	JobTimeout          time.Duration
	ReapInterval        time.Duration
	StatusCacheTTL      time.Duration
	Renditions          []RenditionConfig
	SubtitleLanguages   []string
	SubtitleFormat      string
	ThumbnailAtSeconds  float64
	ThumbnailWidth      int
	GenerateThumbnail   bool
	ExtractMetadata     bool
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret string
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Pipeline.MaxUploadSize <= 0 {
		return fmt.Errorf("pipeline.maxUploadSize must be positive")
	}
	if c.Pipeline.DefaultMaxRetries < 0 {
		return fmt.Errorf("pipeline.defaultMaxRetries must not be negative")
	}
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("pipeline.workerCount must be positive")
	}
	if c.Pipeline.BackoffCap < c.Pipeline.BackoffBase {
		return fmt.Errorf("pipeline.backoffCap must be >= pipeline.backoffBase")
	}
	if len(c.Pipeline.Renditions) == 0 && len(c.Pipeline.SubtitleLanguages) == 0 &&
		!c.Pipeline.GenerateThumbnail && !c.Pipeline.ExtractMetadata {
		return fmt.Errorf("pipeline must seed at least one job: configure renditions, subtitleLanguages, generateThumbnail or extractMetadata")
	}
	for i, ep := range c.Webhooks.Endpoints {
		if strings.TrimSpace(ep.URL) == "" {
			return fmt.Errorf("webhooks.endpoints[%d].url is required", i)
		}
	}
	switch c.Storage.Backend {
	case "minio", "local":
	default:
		return fmt.Errorf("storage.backend must be minio or local, got %q", c.Storage.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimitRPS", 20)
	v.SetDefault("server.rateLimitBurst", 40)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "videocontent")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.backend", "minio")
	v.SetDefault("storage.localDir", "/var/lib/video-content")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "video-content")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Events defaults
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.host", "localhost")
	v.SetDefault("events.port", 5672)
	v.SetDefault("events.user", "guest")
	v.SetDefault("events.password", "guest")
	v.SetDefault("events.vhost", "/")
	v.SetDefault("events.exchange", "video_content")

	// Webhook defaults
	v.SetDefault("webhooks.timeout", "10s")
	v.SetDefault("webhooks.maxAttempts", 6)
	v.SetDefault("webhooks.retryBase", "1m")
	v.SetDefault("webhooks.queueSize", 256)

	// Transcoder defaults
	v.SetDefault("transcoder.tempDir", "/tmp/video-content")
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.whisperPath", "whisper")
	v.SetDefault("transcoder.whisperModel", "base")

	// Pipeline defaults
	v.SetDefault("pipeline.maxUploadSize", 500*1024*1024) // 500MB
	v.SetDefault("pipeline.defaultMaxRetries", 3)
	v.SetDefault("pipeline.backoffBase", "30s")
	v.SetDefault("pipeline.backoffCap", "1h")
	v.SetDefault("pipeline.workerCount", 4)
	v.SetDefault("pipeline.pollInterval", "2s")
	v.SetDefault("pipeline.cancelCheckInterval", "2s")
	v.SetDefault("pipeline.jobTimeout", "2h")
	v.SetDefault("pipeline.reapInterval", "1m")
	v.SetDefault("pipeline.statusCacheTTL", "3s")
	v.SetDefault("pipeline.renditions", []map[string]interface{}{
		{"name": "high", "resolution": "1080p", "bitrate": 5000000, "priority": 5},
		{"name": "low", "resolution": "480p", "bitrate": 1000000, "priority": 10},
	})
	v.SetDefault("pipeline.subtitleLanguages", []string{"en"})
	v.SetDefault("pipeline.subtitleFormat", "vtt")
	v.SetDefault("pipeline.thumbnailAtSeconds", 1.0)
	v.SetDefault("pipeline.thumbnailWidth", 640)
	v.SetDefault("pipeline.generateThumbnail", true)
	v.SetDefault("pipeline.extractMetadata", true)

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "change-me")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "video-content")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
}
