package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var AppEnv Config

type Config struct {
	Port            string
	MongoURI        string
	DBName          string
	JWTSecret       string
	AdminEmails     []string
	StripeSecretKey string
	BackendURL      string
	RedisAddr       string
	KafkaBrokers    []string
	KafkaTopic      string
	Currency        string

	CheckoutMaxAttempts    int
	CheckoutPollInterval   time.Duration
	CheckoutPollAttempts   int
	CheckoutConfirmTimeout time.Duration
	CheckoutSessionTTL     time.Duration
}

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not loaded:", err)
	}
	AppEnv = FromEnv()
}

// FromEnv reads the configuration from the process environment without
// touching .env files.
func FromEnv() Config {
	port := getEnvOrDefault("PORT", "8080")
	return Config{
		Port:            port,
		MongoURI:        getEnvOrDefault("MONGO_URI", ""),
		DBName:          getEnvOrDefault("DB_NAME", "storefront"),
		JWTSecret:       getEnvOrDefault("JWT_SECRET", ""),
		AdminEmails:     getListEnv("ADMIN_EMAILS", "admin@example.com"),
		StripeSecretKey: getEnvOrDefault("STRIPE_SECRET_KEY", ""),
		BackendURL:      getEnvOrDefault("BACKEND_URL", "http://localhost:"+port),
		RedisAddr:       getEnvOrDefault("REDIS_ADDR", ""),
		KafkaBrokers:    getListEnv("KAFKA_BROKERS", ""),
		KafkaTopic:      getEnvOrDefault("KAFKA_TOPIC", "order-events"),
		Currency:        strings.ToLower(getEnvOrDefault("CURRENCY", "usd")),

		CheckoutMaxAttempts:    getIntEnv("CHECKOUT_MAX_ATTEMPTS", 3),
		CheckoutPollInterval:   getDurationEnv("CHECKOUT_POLL_INTERVAL_SECONDS", 3, time.Second),
		CheckoutPollAttempts:   getIntEnv("CHECKOUT_POLL_ATTEMPTS", 20),
		CheckoutConfirmTimeout: getDurationEnv("CHECKOUT_CONFIRM_TIMEOUT_SECONDS", 60, time.Second),
		CheckoutSessionTTL:     getDurationEnv("CHECKOUT_SESSION_TTL_MINUTES", 30, time.Minute),
	}
}

// IsAdminEmail reports whether email belongs to the configured admin list.
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, admin := range c.AdminEmails {
		if strings.ToLower(admin) == email {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int, unit time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * unit
		}
	}
	return time.Duration(defaultValue) * unit
}

func getIntEnv(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key, defaultValue string) []string {
	raw := getEnvOrDefault(key, defaultValue)
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
