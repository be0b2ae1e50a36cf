package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendTesseract = "tesseract"
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"

	ProviderNone = "none"

	PolicyFailFast = "fail-fast"
	PolicyPartial  = "partial"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	AuthSecret     string        `mapstructure:"AUTH_SECRET"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	UploadBodyLimit string        `mapstructure:"UPLOAD_BODY_LIMIT"`
	UploadMaxFiles  int           `mapstructure:"UPLOAD_MAX_FILES"`
	UploadTimeout   time.Duration `mapstructure:"UPLOAD_TIMEOUT"`
	UploadRateRPS   float64       `mapstructure:"UPLOAD_RATE_LIMIT_RPS"`
	UploadRateBurst int           `mapstructure:"UPLOAD_RATE_LIMIT_BURST"`

	OCRBackend          string   `mapstructure:"OCR_BACKEND"`
	OCRLanguages        []string `mapstructure:"OCR_LANGUAGES"`
	OCRMaxDimension     int      `mapstructure:"OCR_MAX_DIMENSION"`
	OCRFastMode         bool     `mapstructure:"OCR_FAST_MODE"`
	OCRBatchPolicy      string   `mapstructure:"OCR_BATCH_POLICY"`
	OCRRemoteBatch      bool     `mapstructure:"OCR_REMOTE_BATCH"`
	OCRAllowOctetStream bool     `mapstructure:"OCR_ALLOW_OCTET_STREAM"`
	OCRPoolCapacity     int      `mapstructure:"OCR_POOL_CAPACITY"`

	ReformatProvider        string  `mapstructure:"REFORMAT_PROVIDER"`
	ReformatMode            string  `mapstructure:"REFORMAT_MODE"`
	ReformatSeparator       string  `mapstructure:"REFORMAT_SEPARATOR"`
	ReformatMinPreservation float64 `mapstructure:"REFORMAT_MIN_PRESERVATION"`

	GeminiProjectID string `mapstructure:"GEMINI_PROJECT_ID"`
	GeminiRegion    string `mapstructure:"GEMINI_REGION"`
	GeminiModel     string `mapstructure:"GEMINI_MODEL"`
	OpenAIAPIKey    string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel     string `mapstructure:"OPENAI_MODEL"`

	LLMMaxRetries uint          `mapstructure:"LLM_MAX_RETRIES"`
	LLMRetryDelay time.Duration `mapstructure:"LLM_RETRY_DELAY"`
	LLMTimeout    time.Duration `mapstructure:"LLM_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"UPLOAD_BODY_LIMIT", "UPLOAD_MAX_FILES", "UPLOAD_TIMEOUT",
	"UPLOAD_RATE_LIMIT_RPS", "UPLOAD_RATE_LIMIT_BURST",
	"OCR_BACKEND", "OCR_LANGUAGES", "OCR_MAX_DIMENSION", "OCR_FAST_MODE", "OCR_BATCH_POLICY",
	"OCR_REMOTE_BATCH", "OCR_ALLOW_OCTET_STREAM", "OCR_POOL_CAPACITY",
	"REFORMAT_PROVIDER", "REFORMAT_MODE", "REFORMAT_SEPARATOR", "REFORMAT_MIN_PRESERVATION",
	"GEMINI_PROJECT_ID", "GEMINI_REGION", "GEMINI_MODEL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
	"LLM_MAX_RETRIES", "LLM_RETRY_DELAY", "LLM_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("UPLOAD_BODY_LIMIT", "50M")
	v.SetDefault("UPLOAD_MAX_FILES", 20)
	v.SetDefault("UPLOAD_TIMEOUT", "5m")
	v.SetDefault("UPLOAD_RATE_LIMIT_RPS", 0.5)
	v.SetDefault("UPLOAD_RATE_LIMIT_BURST", 5)
	v.SetDefault("OCR_BACKEND", BackendTesseract)
	v.SetDefault("OCR_LANGUAGES", "eng")
	v.SetDefault("OCR_MAX_DIMENSION", 2000)
	v.SetDefault("OCR_BATCH_POLICY", PolicyFailFast)
	v.SetDefault("REFORMAT_PROVIDER", ProviderNone)
	v.SetDefault("REFORMAT_MODE", "merged")
	v.SetDefault("REFORMAT_MIN_PRESERVATION", 0.8)
	v.SetDefault("GEMINI_REGION", "us-central1")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_MAX_RETRIES", 3)
	v.SetDefault("LLM_RETRY_DELAY", "1s")
	v.SetDefault("LLM_TIMEOUT", "90s")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine; the environment alone is enough.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.OCRLanguages = splitList(v.GetString("OCR_LANGUAGES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PoolCapacity is the number of OCR worker slots shared by all requests.
// It defaults to three per CPU, the widest strategy the planner can choose.
func (c *Config) PoolCapacity() int {
	if c.OCRPoolCapacity > 0 {
		return c.OCRPoolCapacity
	}
	return 3 * runtime.NumCPU()
}

// needs reports whether provider p is selected for either stage.
func (c *Config) needs(p string) bool {
	return c.OCRBackend == p || c.ReformatProvider == p
}

// Validate rejects unknown enum values, missing credentials for the selected
// remote providers and unauthenticated non-development deployments.
func (c *Config) Validate() error {
	switch c.OCRBackend {
	case BackendTesseract, BackendGemini, BackendOpenAI:
	default:
		return fmt.Errorf("OCR_BACKEND must be %q, %q or %q, got %q", BackendTesseract, BackendGemini, BackendOpenAI, c.OCRBackend)
	}
	switch c.ReformatProvider {
	case ProviderNone, BackendGemini, BackendOpenAI:
	default:
		return fmt.Errorf("REFORMAT_PROVIDER must be %q, %q or %q, got %q", ProviderNone, BackendGemini, BackendOpenAI, c.ReformatProvider)
	}
	switch c.ReformatMode {
	case "merged", "joint":
	default:
		return fmt.Errorf("REFORMAT_MODE must be \"merged\" or \"joint\", got %q", c.ReformatMode)
	}
	switch c.OCRBatchPolicy {
	case PolicyFailFast, PolicyPartial:
	default:
		return fmt.Errorf("OCR_BATCH_POLICY must be %q or %q, got %q", PolicyFailFast, PolicyPartial, c.OCRBatchPolicy)
	}

	if c.needs(BackendGemini) && c.GeminiProjectID == "" {
		return fmt.Errorf("GEMINI_PROJECT_ID is required when gemini is selected")
	}
	if c.needs(BackendOpenAI) && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when openai is selected")
	}
	if c.OCRRemoteBatch && c.OCRBackend == BackendTesseract {
		return fmt.Errorf("OCR_REMOTE_BATCH requires a remote OCR_BACKEND")
	}
	if c.ReformatSeparator != "" && strings.TrimSpace(c.ReformatSeparator) == "" {
		return fmt.Errorf("REFORMAT_SEPARATOR must contain visible characters")
	}
	if c.ReformatMinPreservation < 0 || c.ReformatMinPreservation > 1 {
		return fmt.Errorf("REFORMAT_MIN_PRESERVATION must be within [0, 1], got %v", c.ReformatMinPreservation)
	}
	if c.UploadMaxFiles < 1 {
		return fmt.Errorf("UPLOAD_MAX_FILES must be at least 1, got %d", c.UploadMaxFiles)
	}
	if c.UploadRateRPS > 0 && c.UploadRateBurst < 1 {
		return fmt.Errorf("UPLOAD_RATE_LIMIT_BURST must be at least 1, got %d", c.UploadRateBurst)
	}
	if c.OCRMaxDimension < 64 {
		return fmt.Errorf("OCR_MAX_DIMENSION must be at least 64, got %d", c.OCRMaxDimension)
	}
	if len(c.OCRLanguages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must list at least one language")
	}

	if !c.IsDev() && c.AuthSecret == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SECRET or AUTH_JWKS_URL must be set outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters in production")
	}
	return nil
}
