package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env           string
	HTTPPort      string
	DatabaseURL   string
	RedisAddr     string
	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	FaceServiceURL string
	FaceSkip       bool

	// MatchThreshold is the minimum cosine similarity for a recognition
	// match (inclusive). DuplicateThreshold guards enrollment: a new face
	// at or above it against an already enrolled person is rejected.
	MatchThreshold     float64
	DuplicateThreshold float64

	AttendanceTZ   string
	StorageTimeout time.Duration

	QueueBackend    string
	RateLimitPerMin int

	SheetSinkURL   string
	SheetSinkToken string
	ExportAt       string
}

// Load returns application config populated from environment variables with
// sensible defaults. A local .env file is honored when present.
func Load() App {
	_ = godotenv.Load()

	return App{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPPort:      getEnv("HTTP_PORT", "8081"),
		DatabaseURL:   getEnv("DATABASE_URL", "attendance.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		JWTIssuer:     getEnv("JWT_ISSUER", "faceattend"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:     durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    durationEnv("REFRESH_TTL", 24*time.Hour),

		FaceServiceURL: getEnv("FACE_SERVICE_URL", "http://localhost:8000"),
		FaceSkip:       boolEnv("FACE_SKIP", true),

		MatchThreshold:     floatEnv("MATCH_THRESHOLD", 0.50),
		DuplicateThreshold: floatEnv("DUPLICATE_THRESHOLD", 0.75),

		AttendanceTZ:   getEnv("ATTENDANCE_TZ", "Local"),
		StorageTimeout: durationEnv("STORAGE_TIMEOUT", 3*time.Second),

		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),

		SheetSinkURL:   getEnv("SHEET_SINK_URL", ""),
		SheetSinkToken: getEnv("SHEET_SINK_TOKEN", ""),
		ExportAt:       getEnv("EXPORT_AT", "23:55"),
	}
}

// Location resolves the configured attendance timezone.
func (a App) Location() *time.Location {
	if a.AttendanceTZ == "" || a.AttendanceTZ == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(a.AttendanceTZ)
	if err != nil {
		log.Printf("invalid ATTENDANCE_TZ %q: %v, using local time", a.AttendanceTZ, err)
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var parsed float64
		if _, err := fmt.Sscanf(val, "%g", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %g", key, fallback)
	}
	return fallback
}
