// Package config loads runtime settings from the environment. A .env file in
// the working directory is read first when present.
package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the HTTP server, the services and the
// background sweeper.
type Config struct {
	Env      string // dev, test or prod
	Port     string
	LogLevel string

	DBUser      string
	DBPass      string
	DBHost      string
	DBPort      string
	DBName      string
	AutoMigrate bool // apply the embedded schema on boot

	JWTSecret    string
	AccessTTLMin int
	BcryptCost   int

	ListingFeeKES    int64         // amount recorded on every manual claim
	ListingTTL       time.Duration // lifetime granted on activation
	ListingExtension time.Duration // added by the owner's extend action
	SweepInterval    time.Duration

	SSEHeartbeat time.Duration
	SSEBuffer    int

	AdminEmail    string
	AdminPassword string
	AdminPhone    string
}

// Load reads the environment and exits the process when a required variable
// is missing or malformed.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:      must("APP_ENV"),
		Port:     must("APP_PORT"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DBUser:      must("DB_USER"),
		DBPass:      os.Getenv("DB_PASS"),
		DBHost:      must("DB_HOST"),
		DBPort:      must("DB_PORT"),
		DBName:      must("DB_NAME"),
		AutoMigrate: envBool("DB_AUTO_MIGRATE", false),

		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 7*24*60),
		BcryptCost:   envInt("BCRYPT_COST", 10),

		ListingFeeKES:    int64(envInt("LISTING_FEE_KES", 2500)),
		ListingTTL:       days(envInt("LISTING_TTL_DAYS", 30)),
		ListingExtension: days(envInt("LISTING_EXTEND_DAYS", 30)),
		SweepInterval:    envDur("EXPIRY_SWEEP_INTERVAL", 24*time.Hour),

		SSEHeartbeat: envDur("SSE_HEARTBEAT", 25*time.Second),
		SSEBuffer:    envInt("SSE_BUFFER", 16),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminPhone:    os.Getenv("ADMIN_PHONE"),
	}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// must returns the value of a required variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
