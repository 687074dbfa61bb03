package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/elum-utils/gatekeeper/models"
	"github.com/elum-utils/gatekeeper/policy"
)

// Provider names a classifier backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

const maxClassifierTimeout = 60 * time.Second

// Cfg holds all runtime configuration loaded from environment variables.
// It is built once at startup and never mutated.
type Cfg struct {
	// Server
	ListenAddr string // e.g. :8080

	// Classifier
	Provider      Provider
	APIKey        string
	BaseURL       string // empty = provider default
	Model         string
	Timeout       time.Duration // per attempt
	RetryDelay    time.Duration
	RiskyMode     policy.Mode
	RiskyOverride map[string]policy.Mode

	// Prefilter
	Terms        []models.Term
	DatabaseURL  string // optional Postgres DSN for stored terms
	TermsTable   string
	MaxTextBytes int

	// OCR
	OCRBinary    string
	OCRLanguage  string
	OCRTimeout   time.Duration
	OCRTempDir   string
	OCRMaxBytes  int64
	OCRRateLimit float64 // requests per second, 0 disables

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads .env (if present) then environment variables and returns Cfg.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	port := env("PORT", "8080")

	provider := Provider(strings.ToLower(env("CLASSIFIER_PROVIDER", string(ProviderGemini))))
	if provider != ProviderGemini && provider != ProviderOpenAI {
		return nil, fmt.Errorf("config: unknown CLASSIFIER_PROVIDER %q", provider)
	}
	apiKey := env("CLASSIFIER_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("config: CLASSIFIER_API_KEY must be set")
	}
	model := env("CLASSIFIER_MODEL", "")
	if model == "" {
		model = "gemini-2.5-flash"
		if provider == ProviderOpenAI {
			model = "deepseek-chat"
		}
	}

	timeout, err := durationEnv("CLASSIFIER_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 || timeout > maxClassifierTimeout {
		return nil, fmt.Errorf("config: CLASSIFIER_TIMEOUT must be in (0, %s], got %s", maxClassifierTimeout, timeout)
	}
	retryDelay, err := durationEnv("CLASSIFIER_RETRY_DELAY", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if retryDelay < 0 {
		return nil, fmt.Errorf("config: CLASSIFIER_RETRY_DELAY must not be negative")
	}

	risky, err := policy.ParseMode(env("RISKY_MODE", string(policy.ModeStrict)))
	if err != nil {
		return nil, fmt.Errorf("config: RISKY_MODE: %w", err)
	}
	overrides, err := parseOverrides(os.Getenv("RISKY_MODE_OVERRIDES"))
	if err != nil {
		return nil, err
	}

	// PREFILTER_*_WORDS set to an empty value disables the built-in list.
	terms := make([]models.Term, 0, 8)
	for _, w := range listEnv("PREFILTER_HIGH_WORDS", "hate,kill") {
		terms = append(terms, models.Term{Value: w, Severity: models.SeverityHigh})
	}
	for _, w := range listEnv("PREFILTER_MEDIUM_WORDS", "ruin") {
		terms = append(terms, models.Term{Value: w, Severity: models.SeverityMedium})
	}

	maxText, err := intEnv("MAX_TEXT_BYTES", 16*1024)
	if err != nil {
		return nil, err
	}
	if maxText <= 0 {
		return nil, fmt.Errorf("config: MAX_TEXT_BYTES must be positive")
	}

	ocrTimeout, err := durationEnv("OCR_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	if ocrTimeout <= 0 {
		return nil, fmt.Errorf("config: OCR_TIMEOUT must be positive")
	}
	ocrMax, err := intEnv("OCR_MAX_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	if ocrMax <= 0 {
		return nil, fmt.Errorf("config: OCR_MAX_BYTES must be positive")
	}
	rateLimit := 5.0
	if raw := strings.TrimSpace(os.Getenv("OCR_RATE_LIMIT")); raw != "" {
		rateLimit, err = strconv.ParseFloat(raw, 64)
		if err != nil || rateLimit < 0 {
			return nil, fmt.Errorf("config: invalid OCR_RATE_LIMIT %q", raw)
		}
	}

	logLevel := strings.ToLower(env("LOG_LEVEL", "info"))
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("config: unknown LOG_LEVEL %q", logLevel)
	}
	logFormat := strings.ToLower(env("LOG_FORMAT", "json"))
	if logFormat != "json" && logFormat != "console" {
		return nil, fmt.Errorf("config: unknown LOG_FORMAT %q", logFormat)
	}

	return &Cfg{
		ListenAddr:    ":" + port,
		Provider:      provider,
		APIKey:        apiKey,
		BaseURL:       strings.TrimRight(env("CLASSIFIER_BASE_URL", ""), "/"),
		Model:         model,
		Timeout:       timeout,
		RetryDelay:    retryDelay,
		RiskyMode:     risky,
		RiskyOverride: overrides,
		Terms:         terms,
		DatabaseURL:   env("PREFILTER_DATABASE_URL", ""),
		TermsTable:    env("PREFILTER_TABLE", "prohibited_terms"),
		MaxTextBytes:  maxText,
		OCRBinary:     env("OCR_BINARY", "tesseract"),
		OCRLanguage:   env("OCR_LANGUAGE", "eng"),
		OCRTimeout:    ocrTimeout,
		OCRTempDir:    env("OCR_TEMP_DIR", ""),
		OCRMaxBytes:   int64(ocrMax),
		OCRRateLimit:  rateLimit,
		LogLevel:      logLevel,
		LogFormat:     logFormat,
	}, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// listEnv splits a comma list. An unset variable yields def; a set but empty
// one yields nothing.
func listEnv(key, def string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		raw = def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

// parseOverrides parses "context=mode,context=mode".
func parseOverrides(raw string) (map[string]policy.Mode, error) {
	out := make(map[string]policy.Mode)
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("config: RISKY_MODE_OVERRIDES entry %d %q is not context=mode", i+1, part)
		}
		mode, err := policy.ParseMode(part[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("config: RISKY_MODE_OVERRIDES entry %d: %w", i+1, err)
		}
		out[strings.TrimSpace(part[:idx])] = mode
	}
	return out, nil
}
