package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	JWTSecret     string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Endpoint   string
	S3PublicBase string
	S3PresignTTL time.Duration

	CORSAllowedOrigins []string

	RateLimitCreate         int
	RateLimitCreateWindow   time.Duration
	RateLimitReactions      int
	RateLimitReactionWindow time.Duration

	Core CoreConfig
}

// CoreConfig tunes the status caches, the view write queue and the viewer.
type CoreConfig struct {
	StatusLifetime     time.Duration
	ViewCacheTTL       time.Duration
	ViewFlushDelay     time.Duration
	ReactionCacheTTL   time.Duration
	ReactionLockWindow time.Duration
	ViewerTick         time.Duration
	ViewerAutoplay     time.Duration
	SessionIdleTTL     time.Duration
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		StatusLifetime:     24 * time.Hour,
		ViewCacheTTL:       45 * time.Second,
		ViewFlushDelay:     time.Second,
		ReactionCacheTTL:   45 * time.Second,
		ReactionLockWindow: 5 * time.Second,
		ViewerTick:         50 * time.Millisecond,
		ViewerAutoplay:     5 * time.Second,
		SessionIdleTTL:     30 * time.Minute,
	}
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	def := DefaultCoreConfig()

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "estados"),
		DBPort:        getEnv("DB_PORT", "5432"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		S3Region:     getEnv("S3_REGION", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3PublicBase: getEnv("S3_PUBLIC_BASE", ""),
		S3PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		RateLimitCreate:         getEnvAsInt("RATE_LIMIT_CREATE", 30),
		RateLimitCreateWindow:   getEnvAsDuration("RATE_LIMIT_CREATE_WINDOW", time.Hour),
		RateLimitReactions:      getEnvAsInt("RATE_LIMIT_REACTIONS", 120),
		RateLimitReactionWindow: getEnvAsDuration("RATE_LIMIT_REACTION_WINDOW", time.Minute),

		Core: CoreConfig{
			StatusLifetime:     getEnvAsDuration("STATUS_LIFETIME", def.StatusLifetime),
			ViewCacheTTL:       getEnvAsDuration("VIEW_CACHE_TTL", def.ViewCacheTTL),
			ViewFlushDelay:     getEnvAsDuration("VIEW_FLUSH_DELAY", def.ViewFlushDelay),
			ReactionCacheTTL:   getEnvAsDuration("REACTION_CACHE_TTL", def.ReactionCacheTTL),
			ReactionLockWindow: getEnvAsDuration("REACTION_LOCK_WINDOW", def.ReactionLockWindow),
			ViewerTick:         getEnvAsDuration("VIEWER_TICK", def.ViewerTick),
			ViewerAutoplay:     getEnvAsDuration("VIEWER_AUTOPLAY", def.ViewerAutoplay),
			SessionIdleTTL:     getEnvAsDuration("SESSION_IDLE_TTL", def.SessionIdleTTL),
		},
	}
}

// S3Enabled reports whether enough S3 settings are present to presign uploads.
func (c *Config) S3Enabled() bool {
	return c.S3Region != "" && c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// getEnvAsDuration accepts Go duration strings ("45s") or bare milliseconds ("45000").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(valueStr); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
