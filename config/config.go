package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Zoom     ZoomConfig
	Opencast OpencastConfig
	Ingest   IngestConfig
}

// ServerConfig holds HTTP server settings for the webhook receiver.
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/ingester?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	VideosBucket         string
	PresignExpireMinutes int
}

// ZoomConfig holds Zoom API credentials.
type ZoomConfig struct {
	APIBaseURL string
	APIKey     string
	APISecret  string
}

// OpencastConfig holds the downstream Opencast API settings.
type OpencastConfig struct {
	BaseURL     string
	APIUser     string
	APIPassword string
	WorkflowID  string
}

// IngestConfig holds the ingest pipeline tuning knobs.
type IngestConfig struct {
	DownloadQueue          string
	UploadQueue            string
	DefaultSeriesID        string
	DefaultProducerEmail   string
	OverrideProducer       string
	OverrideProducerEmail  string
	LocalTimeZone          string
	ParallelEndpoint       string
	NumUploads             int
	DefaultMessageDelaySec int
	UploadVisibilitySec    int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ingester"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			VideosBucket:         getEnv("ZOOM_VIDEOS_BUCKET", "zoom-recording-files"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
		Zoom: ZoomConfig{
			APIBaseURL: getEnv("ZOOM_API_BASE_URL", "https://api.zoom.us/v2/"),
			APIKey:     getEnv("ZOOM_API_KEY", ""),
			APISecret:  getEnv("ZOOM_API_SECRET", ""),
		},
		Opencast: OpencastConfig{
			BaseURL:     getEnv("OPENCAST_BASE_URL", ""),
			APIUser:     getEnv("OPENCAST_API_USER", ""),
			APIPassword: getEnv("OPENCAST_API_PASSWORD", ""),
			WorkflowID:  getEnv("OPENCAST_WORKFLOW", "DCE-production-zoom"),
		},
		Ingest: IngestConfig{
			DownloadQueue:          getEnv("DOWNLOAD_QUEUE_NAME", "ingester:download"),
			UploadQueue:            getEnv("UPLOAD_QUEUE_NAME", "ingester:upload"),
			DefaultSeriesID:        getEnv("DEFAULT_SERIES_ID", ""),
			DefaultProducerEmail:   getEnv("DEFAULT_PRODUCER_EMAIL", ""),
			OverrideProducer:       getEnv("OVERRIDE_PRODUCER", ""),
			OverrideProducerEmail:  getEnv("OVERRIDE_PRODUCER_EMAIL", ""),
			LocalTimeZone:          getEnv("LOCAL_TIME_ZONE", "America/New_York"),
			ParallelEndpoint:       getEnv("PARALLEL_ENDPOINT", ""),
			NumUploads:             getEnvInt("NUM_UPLOADS", 1),
			DefaultMessageDelaySec: getEnvInt("DEFAULT_MESSAGE_DELAY_SEC", 300),
			UploadVisibilitySec:    getEnvInt("UPLOAD_VISIBILITY_SEC", 2500),
		},
	}

	if strings.TrimSpace(cfg.Ingest.LocalTimeZone) == "" {
		return nil, fmt.Errorf("LOCAL_TIME_ZONE must not be empty")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
