// Package config loads runtime settings from environment variables.
// Every knob has a working default so a bare `codetrail` run records
// into ./events.db without any setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full runtime configuration, resolved once at startup.
type Config struct {
	Port   int
	DBPath string

	// RepoPath, when set, is registered as a project at boot if no
	// project with that path exists yet.
	RepoPath string

	// MaxBytes caps the file size the watcher will read and diff.
	MaxBytes int64

	// IgnoreParts are path segments skipped in every project, before
	// per-project glob patterns are consulted.
	IgnoreParts []string

	OpenAIKey           string
	OpenAIModel         string
	OpenAIMatchingModel string

	CORSEnabled bool
	CORSOrigins []string

	WorkerCount        int
	MatchWindowSeconds int
	DebounceMS         int
	StreamBuffer       int

	SummaryEventLimit int
	SummaryCharLimit  int
}

const defaultIgnoreParts = ".git,node_modules,.venv,.idea,.vscode,__pycache__"

// Load reads the configuration from the environment.
func Load() (Config, error) {
	port, err := intEnv("PORT", 4381)
	if err != nil {
		return Config{}, err
	}
	maxBytes, err := intEnv("MAX_BYTES", 2_000_000)
	if err != nil {
		return Config{}, err
	}
	workers, err := intEnv("WORKER_COUNT", 4)
	if err != nil {
		return Config{}, err
	}
	window, err := intEnv("MATCH_WINDOW_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	debounce, err := intEnv("DEBOUNCE_MS", 0)
	if err != nil {
		return Config{}, err
	}
	streamBuf, err := intEnv("STREAM_BUFFER", 64)
	if err != nil {
		return Config{}, err
	}
	summaryEvents, err := intEnv("SUMMARY_EVENT_LIMIT", 50)
	if err != nil {
		return Config{}, err
	}
	summaryChars, err := intEnv("SUMMARY_CHAR_LIMIT", 6000)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:                port,
		DBPath:              getEnvOrDefault("DB_PATH", "events.db"),
		RepoPath:            os.Getenv("REPO_PATH"),
		MaxBytes:            int64(maxBytes),
		IgnoreParts:         splitList(getEnvOrDefault("IGNORE_PARTS", defaultIgnoreParts)),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIMatchingModel: getEnvOrDefault("OPENAI_MATCHING_MODEL", "gpt-4o"),
		CORSEnabled:         boolEnv("CORS_ENABLED", true),
		CORSOrigins:         splitList(getEnvOrDefault("CORS_ORIGINS", "*")),
		WorkerCount:         workers,
		MatchWindowSeconds:  window,
		DebounceMS:          debounce,
		StreamBuffer:        streamBuf,
		SummaryEventLimit:   summaryEvents,
		SummaryCharLimit:    summaryChars,
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.WorkerCount <= 0 {
		return Config{}, fmt.Errorf("WORKER_COUNT must be positive: %d", cfg.WorkerCount)
	}
	if cfg.MaxBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_BYTES must be positive: %d", cfg.MaxBytes)
	}
	return cfg, nil
}

// LLMEnabled reports whether an OpenAI key is configured. Without one
// the correlation and summary features degrade to no-ops.
func (c Config) LLMEnabled() bool {
	return c.OpenAIKey != ""
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, defaultVal bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultVal
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
