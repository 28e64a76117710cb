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

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	PRM       PRMConfig
	LMS       LMSConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
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

// PRMConfig points at the partner-relationship-management API.
type PRMConfig struct {
	BaseURL   string
	AccessKey string
	PageSize  int
	PageDelay time.Duration
	MaxPages  int
	Timeout   time.Duration
}

// LMSConfig points at the learning-management-system API.
type LMSConfig struct {
	BaseURL   string
	APIToken  string
	PageSize  int
	PageDelay time.Duration
	MaxPages  int
	Timeout   time.Duration
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	SessionTTL          time.Duration
	WorkerConcurrency   int
	ErrorAbortThreshold int
	BreakerThreshold    int
	EnrollmentStaleness time.Duration
	LockTTL             time.Duration

	AllPartnersGroupName string
	PartnerGroupPrefix   string

	AllowedTiers          []string
	ExcludedStatuses      []string
	ExcludedNameParts     []string
	AllowedContactStates  []string
	ExcludedEmailDomains  []string
	ExcludedEmailKeywords []string
}

// SchedulerConfig toggles cron-driven incremental chains.
type SchedulerConfig struct {
	Enabled  bool
	CronExpr string
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

	cfg.PRM = PRMConfig{
		BaseURL:   v.GetString("PRM_BASE_URL"),
		AccessKey: v.GetString("PRM_ACCESS_KEY"),
		PageSize:  v.GetInt("PRM_PAGE_SIZE"),
		PageDelay: parseDuration(v.GetString("PRM_PAGE_DELAY"), 200*time.Millisecond),
		MaxPages:  v.GetInt("PRM_MAX_PAGES"),
		Timeout:   parseDuration(v.GetString("PRM_TIMEOUT"), 30*time.Second),
	}

	cfg.LMS = LMSConfig{
		BaseURL:   v.GetString("LMS_BASE_URL"),
		APIToken:  v.GetString("LMS_API_TOKEN"),
		PageSize:  v.GetInt("LMS_PAGE_SIZE"),
		PageDelay: parseDuration(v.GetString("LMS_PAGE_DELAY"), 500*time.Millisecond),
		MaxPages:  v.GetInt("LMS_MAX_PAGES"),
		Timeout:   parseDuration(v.GetString("LMS_TIMEOUT"), 30*time.Second),
	}

	cfg.Sync = SyncConfig{
		SessionTTL:            parseDuration(v.GetString("SYNC_SESSION_TTL"), time.Hour),
		WorkerConcurrency:     v.GetInt("SYNC_WORKER_CONCURRENCY"),
		ErrorAbortThreshold:   v.GetInt("SYNC_ERROR_ABORT_THRESHOLD"),
		BreakerThreshold:      v.GetInt("SYNC_BREAKER_THRESHOLD"),
		EnrollmentStaleness:   parseDuration(v.GetString("SYNC_ENROLLMENT_STALENESS"), 7*24*time.Hour),
		LockTTL:               parseDuration(v.GetString("SYNC_LOCK_TTL"), 2*time.Hour),
		AllPartnersGroupName:  v.GetString("SYNC_ALL_PARTNERS_GROUP"),
		PartnerGroupPrefix:    v.GetString("SYNC_PARTNER_GROUP_PREFIX"),
		AllowedTiers:          splitAndTrim(v.GetString("SYNC_ALLOWED_TIERS")),
		ExcludedStatuses:      splitAndTrim(v.GetString("SYNC_EXCLUDED_STATUSES")),
		ExcludedNameParts:     splitAndTrim(v.GetString("SYNC_EXCLUDED_NAME_PARTS")),
		AllowedContactStates:  splitAndTrim(v.GetString("SYNC_ALLOWED_CONTACT_STATES")),
		ExcludedEmailDomains:  splitAndTrim(v.GetString("SYNC_EXCLUDED_EMAIL_DOMAINS")),
		ExcludedEmailKeywords: splitAndTrim(v.GetString("SYNC_EXCLUDED_EMAIL_KEYWORDS")),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:  v.GetBool("ENABLE_SCHEDULER"),
		CronExpr: v.GetString("SCHEDULER_CRON"),
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
	v.SetDefault("DB_NAME", "partner_sync")
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

	v.SetDefault("PRM_BASE_URL", "http://localhost:9101")
	v.SetDefault("PRM_ACCESS_KEY", "")
	v.SetDefault("PRM_PAGE_SIZE", 200)
	v.SetDefault("PRM_PAGE_DELAY", "200ms")
	v.SetDefault("PRM_MAX_PAGES", 100)
	v.SetDefault("PRM_TIMEOUT", "30s")

	v.SetDefault("LMS_BASE_URL", "http://localhost:9102")
	v.SetDefault("LMS_API_TOKEN", "")
	v.SetDefault("LMS_PAGE_SIZE", 100)
	v.SetDefault("LMS_PAGE_DELAY", "500ms")
	v.SetDefault("LMS_MAX_PAGES", 200)
	v.SetDefault("LMS_TIMEOUT", "30s")

	v.SetDefault("SYNC_SESSION_TTL", "60m")
	v.SetDefault("SYNC_WORKER_CONCURRENCY", 10)
	v.SetDefault("SYNC_ERROR_ABORT_THRESHOLD", 10)
	v.SetDefault("SYNC_BREAKER_THRESHOLD", 5)
	v.SetDefault("SYNC_ENROLLMENT_STALENESS", "168h")
	v.SetDefault("SYNC_LOCK_TTL", "2h")
	v.SetDefault("SYNC_ALL_PARTNERS_GROUP", "All Partners")
	v.SetDefault("SYNC_PARTNER_GROUP_PREFIX", "Partner: ")
	v.SetDefault("SYNC_ALLOWED_TIERS", "Premier,Certified,Registered,Aggregator")
	v.SetDefault("SYNC_EXCLUDED_STATUSES", "Inactive,Churned,Duplicate")
	v.SetDefault("SYNC_EXCLUDED_NAME_PARTS", "do not use,test account")
	v.SetDefault("SYNC_ALLOWED_CONTACT_STATES", "Active")
	v.SetDefault("SYNC_EXCLUDED_EMAIL_DOMAINS", "example.com")
	v.SetDefault("SYNC_EXCLUDED_EMAIL_KEYWORDS", "noreply,donotreply")

	v.SetDefault("ENABLE_SCHEDULER", false)
	v.SetDefault("SCHEDULER_CRON", "@hourly")
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
