package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Business profile
	BusinessName        string
	BusinessAddress     string
	BusinessHoursOpen   string
	BusinessHoursClose  string
	BusinessServices    string
	BusinessUTCOffset   int
	AppointmentMinutes  int
	RecoveryBookingLink string
	DefaultLanguage     string

	// Session registry
	SessionTTL      time.Duration
	UseRedisStore   bool
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	HistoryMaxTurns int

	// Field extractor (OpenAI)
	OpenAIAPIKey     string
	OpenAIModel      string
	ExtractorTimeout time.Duration

	// Telephony / messaging (Twilio)
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioWhatsAppFrom  string
	TwilioWebhookSecret string

	// Calendar (Google)
	GoogleCalendarID       string
	GoogleCredentialsJSON  string
	CalendarRequestTimeout time.Duration

	// Slot search
	SlotSearchMaxSteps int

	// Entitlement
	TenantActive   bool
	TrialExpiresAt string
	InactiveReason string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		BusinessName:        getEnv("BIZ_NAME", "Repliq"),
		BusinessAddress:     getEnv("BIZ_ADDRESS", "Rēzekne"),
		BusinessHoursOpen:   getEnv("BIZ_HOURS_OPEN", "09:00"),
		BusinessHoursClose:  getEnv("BIZ_HOURS_CLOSE", "18:00"),
		BusinessServices:    getEnv("BIZ_SERVICES", "men's and women's haircuts"),
		BusinessUTCOffset:   getEnvAsInt("BIZ_UTC_OFFSET_HOURS", 2),
		AppointmentMinutes:  getEnvAsInt("APPOINTMENT_MINUTES", 30),
		RecoveryBookingLink: getEnv("RECOVERY_BOOKING_LINK", "https://repliq.example/book"),
		DefaultLanguage:     strings.ToLower(getEnv("DEFAULT_LANGUAGE", "ru")),

		SessionTTL:      getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		UseRedisStore:   getEnvAsBool("USE_REDIS_STORE", false),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		HistoryMaxTurns: getEnvAsInt("HISTORY_MAX_TURNS", 50),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ExtractorTimeout: getEnvAsDuration("EXTRACTOR_TIMEOUT", 10*time.Second),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWhatsAppFrom:  getEnv("TWILIO_WHATSAPP_FROM", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		GoogleCalendarID:       getEnv("GOOGLE_CALENDAR_ID", ""),
		GoogleCredentialsJSON:  getEnv("GOOGLE_CREDENTIALS_JSON", ""),
		CalendarRequestTimeout: getEnvAsDuration("CALENDAR_REQUEST_TIMEOUT", 8*time.Second),

		SlotSearchMaxSteps: getEnvAsInt("SLOT_SEARCH_MAX_STEPS", 96),

		TenantActive:   getEnvAsBool("TENANT_ACTIVE", true),
		TrialExpiresAt: getEnv("TRIAL_EXPIRES_AT", ""),
		InactiveReason: getEnv("TENANT_INACTIVE_REASON", "trial_expired"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
