package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ClientConfig holds configuration for the exam client engine.
type ClientConfig struct {
	APIBaseURL string
	WSBaseURL  string
	LogLevel   string
	LogFormat  string
	// StateFile is where the persisted session state (token, role,
	// test/user identifiers) lives between runs.
	StateFile string
	// TargetSampleRate is the PCM rate expected by the server-side
	// speech pipeline. Capture is decimated down to this rate.
	TargetSampleRate int
	// ChunkSize is the number of samples sent per audio-data frame
	// (after decimation).
	ChunkSize int
	// PlaybackFallbackTimeout bounds how long the playback coordinator
	// waits for an end-of-audio signal before resolving anyway.
	PlaybackFallbackTimeout time.Duration
	// ConnectTimeout bounds the WebSocket dial plus handshake.
	ConnectTimeout time.Duration
}

// ServerConfig holds configuration for the development exam server.
type ServerConfig struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string
	JWTSecret  string
	JWTExpiry  time.Duration
	BcryptCost int
	// SQLitePath is the embedded database location. ":memory:" keeps
	// everything in RAM, which is what the e2e suite uses.
	SQLitePath string
	// AudioDir holds pre-rendered question narration files served by
	// the question-audio endpoints. Missing files fall back to the
	// client's synthesized-speech path.
	AudioDir string
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// LoadClient reads client configuration from environment variables with
// sensible defaults. It loads .env file if present but does not fail if
// missing.
func LoadClient() *ClientConfig {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &ClientConfig{
		APIBaseURL:              getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		WSBaseURL:               getEnv("WS_BASE_URL", "ws://localhost:8080/ws/v1"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "pretty"),
		StateFile:               getEnv("STATE_FILE", defaultStateFile()),
		TargetSampleRate:        getEnvInt("TARGET_SAMPLE_RATE", 16000),
		ChunkSize:               getEnvInt("AUDIO_CHUNK_SIZE", 2048),
		PlaybackFallbackTimeout: time.Duration(getEnvInt("PLAYBACK_FALLBACK_SECONDS", 30)) * time.Second,
		ConnectTimeout:          time.Duration(getEnvInt("CONNECT_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// LoadServer reads devserver configuration from environment variables.
func LoadServer() *ServerConfig {
	_ = godotenv.Load()

	return &ServerConfig{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		JWTSecret:      getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		JWTExpiry:      time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		BcryptCost:     getEnvInt("BCRYPT_COST", 6),
		SQLitePath:     getEnv("SQLITE_PATH", "./voxexam-dev.db"),
		AudioDir:       getEnv("AUDIO_DIR", "./audio"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voxexam-state.json"
	}
	return home + "/.voxexam-state.json"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
