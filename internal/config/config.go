package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port           string
	DatabaseDSN    string
	JWTSecret      string
	Env            string
	SessionTTLDays int
	RedisURL       string
	HistoryLimit   int
	WSSendRate     float64
	LogLevel       string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func positiveInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 读取环境变量，开发环境下先加载 .env。
func Load() Config {
	_ = godotenv.Load()
	rate, err := strconv.ParseFloat(getenv("WS_SEND_RATE", "10"), 64)
	if err != nil || rate <= 0 {
		rate = 10
	}
	return Config{
		Port:           getenv("APP_PORT", "8080"),
		DatabaseDSN:    getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatroom port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:      getenv("JWT_SECRET", defaultJWTSecret),
		Env:            getenv("APP_ENV", "dev"),
		SessionTTLDays: positiveInt("SESSION_TTL_DAYS", 30),
		RedisURL:       os.Getenv("REDIS_URL"),
		HistoryLimit:   positiveInt("HISTORY_LIMIT", 200),
		WSSendRate:     rate,
		LogLevel:       os.Getenv("LOG_LEVEL"),
	}
}

// Validate 拒绝空端口、空 DSN 以及非 dev 环境下的默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required (use \"memory\" to run without persistence)")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	if cfg.HistoryLimit > 200 {
		return errors.New("HISTORY_LIMIT must not exceed 200")
	}
	return nil
}
