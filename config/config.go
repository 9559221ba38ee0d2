package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 应用配置，来自 .env 和环境变量
type Config struct {
	// HTTP 服务
	ServerPort string

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// 处理平台
	SieveAPIKey       string
	SieveBaseURL      string
	SieveFunction     string
	SievePollInterval time.Duration
	JobTimeout        time.Duration
	WorkerConcurrency int

	// 时间线
	MergePadding      float64
	MergeGapThreshold float64

	// 播放器
	PlayerPollInterval time.Duration
	PlaybackRates      []float64

	// 播放会话
	SessionSecret string
	SessionTTL    time.Duration

	// 结果缓存
	ResultCacheTTL time.Duration

	// 日志
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration 支持 "5s"、"150ms" 这类写法
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvFloatList 逗号分隔的浮点数列表，任一项非法或为非正数时使用默认值
func getEnvFloatList(key string, fallback []float64) []float64 {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || f <= 0 {
			return fallback
		}
		out = append(out, f)
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "tldrtube"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "tldrtube"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		SieveAPIKey:       os.Getenv("SIEVE_KEY"),
		SieveBaseURL:      getEnv("SIEVE_BASE_URL", "https://mango.sievedata.com"),
		SieveFunction:     getEnv("SIEVE_FUNCTION", "msg-containsmsg-com/isolate-podcast-guest"),
		SievePollInterval: getEnvDuration("SIEVE_POLL_INTERVAL", 5*time.Second),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 30*time.Minute),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),

		MergePadding:      getEnvFloat("MERGE_PADDING", 0.1),
		MergeGapThreshold: getEnvFloat("MERGE_GAP_THRESHOLD", 1.0),

		PlayerPollInterval: getEnvDuration("PLAYER_POLL_INTERVAL", 50*time.Millisecond),
		PlaybackRates:      getEnvFloatList("PLAYBACK_RATES", []float64{1, 2}),

		SessionSecret: getEnv("SESSION_SECRET", "change-me"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 2*time.Hour),

		ResultCacheTTL: getEnvDuration("RESULT_CACHE_TTL", 24*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", "logs/tldrtube.log"),
	}
}

// RedisAddr host:port
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
