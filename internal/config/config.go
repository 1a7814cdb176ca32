package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port string
	Env  string

	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	ResolverBaseURL string
	ResolverAPIKey  string

	IdentityUserinfoURL string
	IdentityJWTSecret   string

	SessionTTL time.Duration

	AllowedOrigins []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Load reads .env when present and falls back to sane local defaults,
// the same way the rest of the stack is configured in dev.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found")
	}

	cfg := Config{
		Port:                getenv("PORT", "8080"),
		Env:                 getenv("ENV", "dev"),
		MySQLHost:           getenv("MYSQL_HOST", "localhost"),
		MySQLPort:           getenv("MYSQL_PORT", "3306"),
		MySQLUser:           getenv("MYSQL_USER", "revibe"),
		MySQLPassword:       getenv("MYSQL_PASSWORD", "revibe"),
		MySQLDatabase:       getenv("MYSQL_DATABASE", "revibe"),
		RedisAddr:           getenv("REDIS_HOST", "localhost") + ":" + getenv("REDIS_PORT", "6379"),
		RedisPassword:       getenv("REDIS_PASSWORD", ""),
		KafkaTopic:          getenv("KAFKA_TOPIC", "revibe-events"),
		ResolverBaseURL:     getenv("RESOLVER_BASE_URL", "https://www.googleapis.com/youtube/v3"),
		ResolverAPIKey:      getenv("RESOLVER_API_KEY", ""),
		IdentityUserinfoURL: getenv("IDENTITY_USERINFO_URL", ""),
		IdentityJWTSecret:   getenv("IDENTITY_JWT_SECRET", ""),
		SessionTTL:          time.Duration(getenvInt("SESSION_TTL_DAYS", 30)) * 24 * time.Hour,
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	} else {
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}
	return cfg
}

// InitLogger wires zerolog: pretty console output in dev, JSON elsewhere.
func InitLogger(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
