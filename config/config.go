package config

import (
	"os"
	"strconv"
	"time"

	"hotspot-portal/internal/payment/campuspay"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (buyer + operator notifications)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	OperatorChannel    string

	// Payment gateway (campus mobile-money)
	CampusPay campuspay.Config

	// Gateway listener (webhook + metrics + health)
	GatewayPort       string
	WebhookHMACKey    string
	WebhookSecretHash string // bcrypt hash of the gateway's shared secret

	// Reservation configuration
	ReservationTTL time.Duration

	// Sweeper configuration
	SweepInterval  time.Duration
	DriftInterval  time.Duration
	EnableSweeper  bool
	RemediationTTL time.Duration

	// Provisioner configuration
	ProvisionRetries int
	ProvisionBackoff time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		OperatorChannel:    getEnv("OPERATOR_CHANNEL", "hotspot-operators"),

		// Campus pay gateway
		CampusPay: campuspay.Config{
			BaseURL:     getEnv("CAMPUSPAY_BASE_URL", ""),
			MerchantID:  getEnv("CAMPUSPAY_MERCHANT_ID", ""),
			ClientID:    getEnv("CAMPUSPAY_CLIENT_ID", ""),
			ClientKey:   getEnv("CAMPUSPAY_CLIENT_KEY", ""),
			HMACKey:     getEnv("CAMPUSPAY_HMAC_KEY", ""),
			Ccy:         getEnv("CAMPUSPAY_CCY", "XOF"),
			PNSubKey:    getEnv("CAMPUSPAY_PN_SUBKEY", ""),
			PNSubSecret: getEnv("CAMPUSPAY_PN_SUBSECRET", ""),
			PNUUID:      getEnv("CAMPUSPAY_PN_UUID", "hotspot-portal"),
			PNChannel:   getEnv("CAMPUSPAY_PN_CHANNEL", "campuspay-settlements"),
		},

		// Gateway listener
		GatewayPort:       getEnv("GATEWAY_PORT", "8091"),
		WebhookHMACKey:    getEnv("WEBHOOK_HMAC_KEY", ""),
		WebhookSecretHash: getEnv("WEBHOOK_SECRET_HASH", ""),

		// Reservations
		ReservationTTL: getEnvAsDuration("RESERVATION_TTL", "10m"),

		// Sweeper
		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", "30s"),
		DriftInterval:  getEnvAsDuration("DRIFT_INTERVAL", "60s"),
		EnableSweeper:  getEnvAsBool("ENABLE_SWEEPER", true),
		RemediationTTL: getEnvAsDuration("REMEDIATION_TTL", "168h"),

		// Provisioner
		ProvisionRetries: getEnvAsInt("PROVISION_RETRIES", 3),
		ProvisionBackoff: getEnvAsDuration("PROVISION_BACKOFF", "2s"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
