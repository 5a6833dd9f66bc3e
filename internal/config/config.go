package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TenantID             string
	PerPlayerFee         float64
	CRDBDSN              string
	MongoURI             string
	RedisAddr            string
	RabbitURL            string
	AvailabilityURL      string
	PaymentWebhookSecret string
	OTLPEndpoint         string
	ListenAddr           string
	DedupTTL             time.Duration
	InquiryDedupeWindow  time.Duration
	AvailabilityAttempts int
	AvailabilityBackoff  time.Duration
	WorkerCount          int
	WorkerQueueDepth     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		TenantID:             getString("TENANT_ID", "ISL"),
		PerPlayerFee:         getFloat("PER_PLAYER_FEE", 325.00),
		CRDBDSN:              os.Getenv("CRDB_DSN"),
		MongoURI:             os.Getenv("MONGO_URI"),
		RedisAddr:            getString("REDIS_ADDR", "localhost:6379"),
		RabbitURL:            os.Getenv("RABBIT_URL"),
		AvailabilityURL:      os.Getenv("AVAILABILITY_URL"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ListenAddr:           getString("LISTEN_ADDR", ":8080"),
		DedupTTL:             getDuration("DEDUP_TTL", 72*time.Hour),
		InquiryDedupeWindow:  getDuration("INQUIRY_DEDUPE_WINDOW", time.Hour),
		AvailabilityAttempts: getInt("AVAILABILITY_ATTEMPTS", 3),
		AvailabilityBackoff:  getDuration("AVAILABILITY_BACKOFF", 10*time.Second),
		WorkerCount:          getInt("WORKER_COUNT", 8),
		WorkerQueueDepth:     getInt("WORKER_QUEUE_DEPTH", 256),
	}, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
