package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage backend identifiers accepted by STORAGE_BACKEND.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Log        LogConfig
	Storage    StorageConfig
	Security   SecurityConfig
	RateLimit  RateLimitConfig
	Analytics  AnalyticsConfig
	Thumbnails ThumbnailsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// S3Config carries the credential triple and addressing for an
// S3-compatible object store.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Configured reports whether enough of the credential triple is present
// to construct a client.
func (c S3Config) Configured() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// StorageConfig selects and parameterises the file storage backends.
type StorageConfig struct {
	Backend         string
	LocalDir        string
	UploadFolder    string
	ThumbnailFolder string
	SignedURLTTL    time.Duration
	S3              S3Config
}

// SecurityConfig governs upload validation and access tokens.
type SecurityConfig struct {
	TokenSecret        string
	TokenMode          string
	TokenTTL           time.Duration
	MaxFileSize        int64
	LargeFileThreshold int64
	QuotaBytes         int64
	AllowedExtensions  []string
	BlockedExtensions  []string
}

// RateLimitConfig bounds uploads per owner within a fixed window.
type RateLimitConfig struct {
	Window     time.Duration
	MaxUploads int
}

// AnalyticsConfig governs the best-effort access event sink.
type AnalyticsConfig struct {
	Enabled    bool
	Workers    int
	BufferSize int
}

// ThumbnailsConfig controls background thumbnail generation for images.
type ThumbnailsConfig struct {
	Enabled bool
	MaxEdge int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Backend:         strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_BACKEND"))),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		UploadFolder:    v.GetString("STORAGE_UPLOAD_FOLDER"),
		ThumbnailFolder: v.GetString("STORAGE_THUMBNAIL_FOLDER"),
		SignedURLTTL:    parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), time.Hour),
		S3: S3Config{
			Endpoint:  v.GetString("S3_ENDPOINT"),
			AccessKey: v.GetString("S3_ACCESS_KEY"),
			SecretKey: v.GetString("S3_SECRET_KEY"),
			Bucket:    v.GetString("S3_BUCKET"),
			Region:    v.GetString("S3_REGION"),
			UseSSL:    v.GetBool("S3_USE_SSL"),
		},
	}

	maxFileSize := v.GetInt64("MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 25 * 1024 * 1024
	}
	largeThreshold := v.GetInt64("LARGE_FILE_THRESHOLD")
	if largeThreshold <= 0 {
		largeThreshold = 10 * 1024 * 1024
	}
	quotaBytes := v.GetInt64("TEACHER_QUOTA_BYTES")
	if quotaBytes <= 0 {
		quotaBytes = 500 * 1024 * 1024
	}
	cfg.Security = SecurityConfig{
		TokenSecret:        v.GetString("FILE_TOKEN_SECRET"),
		TokenMode:          strings.ToLower(strings.TrimSpace(v.GetString("FILE_TOKEN_MODE"))),
		TokenTTL:           parseDuration(v.GetString("FILE_TOKEN_TTL"), time.Hour),
		MaxFileSize:        maxFileSize,
		LargeFileThreshold: largeThreshold,
		QuotaBytes:         quotaBytes,
		AllowedExtensions:  splitAndTrim(v.GetString("ALLOWED_EXTENSIONS")),
		BlockedExtensions:  splitAndTrim(v.GetString("BLOCKED_EXTENSIONS")),
	}

	cfg.RateLimit = RateLimitConfig{
		Window:     parseDuration(v.GetString("UPLOAD_RATE_WINDOW"), time.Hour),
		MaxUploads: v.GetInt("UPLOAD_RATE_MAX"),
	}
	if cfg.RateLimit.MaxUploads <= 0 {
		cfg.RateLimit.MaxUploads = 50
	}

	cfg.Analytics = AnalyticsConfig{
		Enabled:    v.GetBool("ENABLE_ANALYTICS"),
		Workers:    v.GetInt("ANALYTICS_WORKERS"),
		BufferSize: v.GetInt("ANALYTICS_BUFFER_SIZE"),
	}

	cfg.Thumbnails = ThumbnailsConfig{
		Enabled: v.GetBool("ENABLE_THUMBNAILS"),
		MaxEdge: v.GetInt("THUMBNAIL_MAX_EDGE"),
	}
	if cfg.Thumbnails.MaxEdge <= 0 {
		cfg.Thumbnails.MaxEdge = 320
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "brightclass_files")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_BACKEND", "")
	v.SetDefault("STORAGE_LOCAL_DIR", "./data")
	v.SetDefault("STORAGE_UPLOAD_FOLDER", "uploads")
	v.SetDefault("STORAGE_THUMBNAIL_FOLDER", "thumbnails")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "1h")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", true)

	v.SetDefault("FILE_TOKEN_SECRET", "dev_file_token_secret")
	v.SetDefault("FILE_TOKEN_MODE", "jwt")
	v.SetDefault("FILE_TOKEN_TTL", "1h")
	v.SetDefault("MAX_FILE_SIZE", 25*1024*1024)
	v.SetDefault("LARGE_FILE_THRESHOLD", 10*1024*1024)
	v.SetDefault("TEACHER_QUOTA_BYTES", 500*1024*1024)
	v.SetDefault("ALLOWED_EXTENSIONS", ".pdf,.png,.jpg,.jpeg,.gif,.webp,.doc,.docx,.xls,.xlsx,.ppt,.pptx,.txt,.csv,.zip,.mp3,.mp4")
	v.SetDefault("BLOCKED_EXTENSIONS", "")

	v.SetDefault("UPLOAD_RATE_WINDOW", "1h")
	v.SetDefault("UPLOAD_RATE_MAX", 50)

	v.SetDefault("ENABLE_ANALYTICS", true)
	v.SetDefault("ANALYTICS_WORKERS", 1)
	v.SetDefault("ANALYTICS_BUFFER_SIZE", 256)

	v.SetDefault("ENABLE_THUMBNAILS", true)
	v.SetDefault("THUMBNAIL_MAX_EDGE", 320)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
