package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by CREDENCE_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CREDENCE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// APIKey is the static bearer token guarding the API. Auth is disabled when
// it is unset.
func APIKey() string {
	return os.Getenv("API_KEY")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: openai, mock, none. Defaults to "none".
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "none"
	}
	return p
}

// EmbeddingModel selects the model for the openai embedding provider.
// Empty uses the provider default.
func EmbeddingModel() string {
	return os.Getenv("EMBEDDING_MODEL")
}

// ArbiterProvider returns the configured contradiction arbiter.
// Valid values: openai, mock, none. Defaults to "none" (timestamp-wins).
func ArbiterProvider() string {
	p := os.Getenv("ARBITER_PROVIDER")
	if p == "" {
		return "none"
	}
	return p
}

// ArbiterTimeout bounds a single arbitration call. Expiry triggers the
// timestamp-wins fallback.
func ArbiterTimeout() time.Duration {
	return durationEnv("ARBITER_TIMEOUT", 2*time.Second)
}

// DedupeThreshold is the similarity at or above which a candidate is treated
// as a duplicate of the active fact.
func DedupeThreshold() float64 {
	return thresholdEnv("DEDUPE_THRESHOLD", 0.92)
}

// ContradictionThreshold is the similarity below which a candidate for a
// single-valued predicate contradicts the active fact.
func ContradictionThreshold() float64 {
	return thresholdEnv("CONTRADICTION_THRESHOLD", 0.4)
}

// HistoryCap is the number of versions retained per fact lineage.
func HistoryCap() int {
	return intEnv("HISTORY_CAP", 10)
}

// CommitRetryAttempts bounds re-resolution after a version conflict.
func CommitRetryAttempts() int {
	return intEnv("COMMIT_RETRY_ATTEMPTS", 3)
}

func SyncBatchSize() int {
	return intEnv("SYNC_BATCH_SIZE", 100)
}

func SyncRetryAttempts() int {
	return intEnv("SYNC_RETRY_ATTEMPTS", 3)
}

func SyncWorkerCount() int {
	return intEnv("SYNC_WORKER_COUNT", 4)
}

func SyncPollInterval() time.Duration {
	return durationEnv("SYNC_POLL_INTERVAL", 500*time.Millisecond)
}

// SyncRetryBackoff is the base delay, doubled per attempt.
func SyncRetryBackoff() time.Duration {
	return durationEnv("SYNC_RETRY_BACKOFF", 1*time.Second)
}

// SyncVisibilityTimeout is how long a claimed task may sit in processing
// before it is presumed abandoned and requeued. Must exceed the longest
// expected batch.
func SyncVisibilityTimeout() time.Duration {
	return durationEnv("SYNC_VISIBILITY_TIMEOUT", 5*time.Minute)
}

func OrphanSweepInterval() time.Duration {
	return durationEnv("ORPHAN_SWEEP_INTERVAL", 15*time.Minute)
}

func OrphanBatchSize() int {
	return intEnv("ORPHAN_BATCH_SIZE", 200)
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// RateLimitCleanupInterval is how often idle per-IP limiter buckets are
// evicted; a bucket idle for one full interval is dropped.
func RateLimitCleanupInterval() time.Duration {
	return durationEnv("RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute)
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func thresholdEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 || v > 1 {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
