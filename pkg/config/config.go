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

const (
	StorageDriverLocal = "local"
	StorageDriverMinIO = "minio"

	MailProviderConsole  = "console"
	MailProviderSMTP     = "smtp"
	MailProviderSendGrid = "sendgrid"
)

type Config struct {
	Env           string
	Port          int
	APIPrefix     string
	PublicBaseURL string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Schedules     SchedulesConfig
	Attendance    AttendanceConfig
	Imports       ImportsConfig
	Exports       ExportsConfig
	Storage       StorageConfig
	Mail          MailConfig
	Notifications NotificationsConfig
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

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulesConfig tunes the slot listing cache.
type SchedulesConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// AttendanceConfig governs signature links and the public signing surface.
type AttendanceConfig struct {
	TokenTTL           time.Duration
	SignatureDedupTTL  time.Duration
	RateLimitPerMinute int
	SignaturePrefix    string
}

// ImportsConfig bounds spreadsheet uploads.
type ImportsConfig struct {
	MaxFileSizeBytes int64
	DefaultColor     string
}

// ExportsConfig controls rendered print files and their download links.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	RetentionTTL    time.Duration
	CleanupSchedule string
}

// StorageConfig selects where signature images and uploaded files live.
type StorageConfig struct {
	Driver         string
	LocalDir       string
	PublicBaseURL  string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// MailConfig selects the outbound email provider.
type MailConfig struct {
	Provider       string
	FromName       string
	FromAddress    string
	SendGridAPIKey string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPTLS        bool
	Workers        int
}

// NotificationsConfig governs retention and realtime delivery.
type NotificationsConfig struct {
	RetentionTTL    time.Duration
	PurgeSchedule   string
	RealtimeEnabled bool
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicBaseURL = strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/")

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

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Schedules = SchedulesConfig{
		CacheEnabled: v.GetBool("SCHEDULES_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("SCHEDULES_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Attendance = AttendanceConfig{
		TokenTTL:           parseDuration(v.GetString("ATTENDANCE_TOKEN_TTL"), 4*time.Hour),
		SignatureDedupTTL:  parseDuration(v.GetString("ATTENDANCE_SIGNATURE_DEDUP_TTL"), 30*time.Second),
		RateLimitPerMinute: v.GetInt("ATTENDANCE_RATE_LIMIT_PER_MINUTE"),
		SignaturePrefix:    v.GetString("ATTENDANCE_SIGNATURE_PREFIX"),
	}

	maxImportSize := v.GetInt64("IMPORTS_MAX_FILE_SIZE")
	if maxImportSize <= 0 {
		maxImportSize = 5 * 1024 * 1024
	}
	cfg.Imports = ImportsConfig{
		MaxFileSizeBytes: maxImportSize,
		DefaultColor:     v.GetString("IMPORTS_DEFAULT_COLOR"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), time.Hour),
		RetentionTTL:    parseDuration(v.GetString("EXPORTS_RETENTION_TTL"), 24*time.Hour),
		CleanupSchedule: v.GetString("EXPORTS_CLEANUP_SCHEDULE"),
	}

	cfg.Storage = StorageConfig{
		Driver:         strings.ToLower(v.GetString("STORAGE_DRIVER")),
		LocalDir:       v.GetString("STORAGE_LOCAL_DIR"),
		PublicBaseURL:  strings.TrimRight(v.GetString("STORAGE_PUBLIC_BASE_URL"), "/"),
		MinIOEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinIOAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinIOSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinIOBucket:    v.GetString("MINIO_BUCKET"),
		MinIOUseSSL:    v.GetBool("MINIO_USE_SSL"),
	}

	cfg.Mail = MailConfig{
		Provider:       strings.ToLower(v.GetString("MAIL_PROVIDER")),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		FromAddress:    v.GetString("MAIL_FROM_ADDRESS"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		SMTPHost:       v.GetString("SMTP_HOST"),
		SMTPPort:       v.GetInt("SMTP_PORT"),
		SMTPUsername:   v.GetString("SMTP_USERNAME"),
		SMTPPassword:   v.GetString("SMTP_PASSWORD"),
		SMTPTLS:        v.GetBool("SMTP_TLS"),
		Workers:        v.GetInt("MAIL_WORKERS"),
	}

	cfg.Notifications = NotificationsConfig{
		RetentionTTL:    parseDuration(v.GetString("NOTIFICATIONS_RETENTION_TTL"), 90*24*time.Hour),
		PurgeSchedule:   v.GetString("NOTIFICATIONS_PURGE_SCHEDULE"),
		RealtimeEnabled: v.GetBool("NOTIFICATIONS_REALTIME_ENABLED"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:5173")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "formation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULES_CACHE_ENABLED", true)
	v.SetDefault("SCHEDULES_CACHE_TTL", "5m")

	v.SetDefault("ATTENDANCE_TOKEN_TTL", "4h")
	v.SetDefault("ATTENDANCE_SIGNATURE_DEDUP_TTL", "30s")
	v.SetDefault("ATTENDANCE_RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("ATTENDANCE_SIGNATURE_PREFIX", "signatures")

	v.SetDefault("IMPORTS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("IMPORTS_DEFAULT_COLOR", "#3b82f6")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "1h")
	v.SetDefault("EXPORTS_RETENTION_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_SCHEDULE", "@hourly")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/uploads")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "formation")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("MAIL_PROVIDER", MailProviderConsole)
	v.SetDefault("MAIL_FROM_NAME", "Formation")
	v.SetDefault("MAIL_FROM_ADDRESS", "no-reply@localhost")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_TLS", true)
	v.SetDefault("MAIL_WORKERS", 2)

	v.SetDefault("NOTIFICATIONS_RETENTION_TTL", "2160h")
	v.SetDefault("NOTIFICATIONS_PURGE_SCHEDULE", "@daily")
	v.SetDefault("NOTIFICATIONS_REALTIME_ENABLED", true)
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
