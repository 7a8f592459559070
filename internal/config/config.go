// Package config reads the relay's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"wa-relay/internal/dedup"
	"wa-relay/internal/integrations/whatsapp"
	"wa-relay/internal/memory"
	"wa-relay/internal/retrieval"
	"wa-relay/internal/telemetry"
	"wa-relay/internal/usecase"
)

const (
	RuntimeServer = "server"
	RuntimeLambda = "lambda"

	DedupMemory   = "memory"
	DedupRedis    = "redis"
	DedupDynamoDB = "dynamodb"
	DedupNone     = "none"

	defaultPort        = "8080"
	defaultOpenAIModel = "gpt-4o-mini"
)

type WhatsApp struct {
	Token         string
	PhoneNumberID string
	VerifyToken   string
	AppSecret     string
	APIVersion    string
	BaseURL       string
	SendRPS       float64
	Timeout       time.Duration
}

type Retrieval struct {
	Backend       string
	TopK          int
	Timeout       time.Duration
	ExpandQueries bool
	Hybrid        retrieval.HybridConfig
	AutoRAG       retrieval.AutoRAGConfig
}

type OpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type Dedup struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Table         string
}

type Config struct {
	LogLevel    slog.Level
	Runtime     string
	Port        string
	ParamPrefix string

	WhatsApp  WhatsApp
	Retrieval Retrieval
	OpenAI    OpenAI
	Dedup     Dedup
	Telemetry telemetry.Config

	AdminToken      string
	MemoryWindow    int
	NotFoundMessage string
	FallbackMessage string
}

// Load builds a Config from lookup (usually os.Getenv). Malformed values are
// reported together; required secrets are checked later by Validate, once
// Parameter Store had a chance to fill them.
func Load(lookup func(string) string) (Config, error) {
	r := reader{lookup: lookup}

	cfg := Config{
		LogLevel:    r.level("LOG_LEVEL"),
		Runtime:     strings.ToLower(r.str("RUNTIME", "")),
		Port:        r.str("PORT", defaultPort),
		ParamPrefix: r.str("PARAM_PREFIX", ""),
		WhatsApp: WhatsApp{
			Token:         r.str("WHATSAPP_TOKEN", ""),
			PhoneNumberID: r.str("WHATSAPP_PHONE_ID", ""),
			VerifyToken:   r.str("VERIFY_TOKEN", ""),
			AppSecret:     r.str("WHATSAPP_APP_SECRET", ""),
			APIVersion:    r.str("WHATSAPP_API_VERSION", whatsapp.DefaultAPIVersion),
			BaseURL:       r.str("GRAPH_BASE_URL", whatsapp.DefaultBaseURL),
			SendRPS:       r.float("WHATSAPP_SEND_RPS", whatsapp.DefaultSendRPS),
			Timeout:       r.duration("WHATSAPP_TIMEOUT", 10*time.Second),
		},
		Retrieval: Retrieval{
			Backend:       strings.ToLower(r.str("RETRIEVAL_BACKEND", retrieval.BackendHybrid)),
			TopK:          r.int("RETRIEVAL_TOP_K", retrieval.DefaultTopK),
			Timeout:       r.duration("RETRIEVAL_TIMEOUT", retrieval.DefaultTimeout),
			ExpandQueries: r.bool("RETRIEVAL_EXPAND_QUERIES", true),
			Hybrid: retrieval.HybridConfig{
				APIKey:         r.str("TOPK_API_KEY", ""),
				Region:         r.str("TOPK_REGION", ""),
				Collection:     r.str("TOPK_COLLECTION", ""),
				BaseURL:        r.str("TOPK_BASE_URL", ""),
				SemanticWeight: r.float("TOPK_SEMANTIC_WEIGHT", retrieval.DefaultSemanticWeight),
				LexicalWeight:  r.float("TOPK_LEXICAL_WEIGHT", retrieval.DefaultLexicalWeight),
			},
			AutoRAG: retrieval.AutoRAGConfig{
				BaseURL:  r.str("AUTORAG_BASE_URL", ""),
				APIToken: r.str("AUTORAG_API_TOKEN", ""),
			},
		},
		OpenAI: OpenAI{
			APIKey:  r.str("OPENAI_API_KEY", ""),
			Model:   r.str("OPENAI_MODEL", defaultOpenAIModel),
			BaseURL: r.str("OPENAI_BASE_URL", ""),
			Timeout: r.duration("COMPLETION_TIMEOUT", usecase.DefaultCompletionTimeout),
		},
		Dedup: Dedup{
			Backend:       strings.ToLower(r.str("DEDUP_BACKEND", DedupMemory)),
			TTL:           r.duration("DEDUP_TTL", dedup.DefaultTTL),
			RedisAddr:     r.str("REDIS_ADDR", ""),
			RedisPassword: r.str("REDIS_PASSWORD", ""),
			RedisDB:       r.int("REDIS_DB", 0),
			Table:         r.str("DEDUP_TABLE", ""),
		},
		Telemetry: telemetry.Config{
			Enabled:     r.bool("OTEL_ENABLED", false),
			Endpoint:    r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    r.bool("OTEL_INSECURE", false),
			ServiceName: r.str("OTEL_SERVICE_NAME", "wa-relay"),
		},
		AdminToken:      r.str("ADMIN_TOKEN", ""),
		MemoryWindow:    r.int("MEMORY_WINDOW", memory.DefaultWindow),
		NotFoundMessage: r.str("NOT_FOUND_MESSAGE", usecase.DefaultNotFoundMessage),
		FallbackMessage: r.str("FALLBACK_MESSAGE", usecase.DefaultFallbackMessage),
	}

	if cfg.Runtime == "" {
		cfg.Runtime = RuntimeServer
		if lookup("AWS_LAMBDA_FUNCTION_NAME") != "" {
			cfg.Runtime = RuntimeLambda
		}
	}
	return cfg, errors.Join(r.errs...)
}

// SecretTargets maps Parameter Store names (relative to ParamPrefix) to the
// fields they may fill.
func (c *Config) SecretTargets() map[string]*string {
	return map[string]*string{
		"whatsapp-token":    &c.WhatsApp.Token,
		"open-ai-token":     &c.OpenAI.APIKey,
		"topk-api-key":      &c.Retrieval.Hybrid.APIKey,
		"autorag-api-token": &c.Retrieval.AutoRAG.APIToken,
		"admin-token":       &c.AdminToken,
		"app-secret":        &c.WhatsApp.AppSecret,
		"verify-token":      &c.WhatsApp.VerifyToken,
	}
}

// Validate checks required values and enumerations.
func (c Config) Validate() error {
	var errs []error
	need := func(key, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("config: %s is required", key))
		}
	}

	need("VERIFY_TOKEN", c.WhatsApp.VerifyToken)
	need("WHATSAPP_TOKEN", c.WhatsApp.Token)
	need("WHATSAPP_PHONE_ID", c.WhatsApp.PhoneNumberID)
	need("OPENAI_API_KEY", c.OpenAI.APIKey)

	switch c.Runtime {
	case RuntimeServer, RuntimeLambda:
	default:
		errs = append(errs, fmt.Errorf("config: RUNTIME %q is not one of server, lambda", c.Runtime))
	}

	switch c.Retrieval.Backend {
	case retrieval.BackendHybrid:
		need("TOPK_API_KEY", c.Retrieval.Hybrid.APIKey)
		need("TOPK_COLLECTION", c.Retrieval.Hybrid.Collection)
		if c.Retrieval.Hybrid.BaseURL == "" {
			need("TOPK_REGION", c.Retrieval.Hybrid.Region)
		}
	case retrieval.BackendAutoRAG:
		need("AUTORAG_BASE_URL", c.Retrieval.AutoRAG.BaseURL)
	default:
		errs = append(errs, fmt.Errorf("config: RETRIEVAL_BACKEND %q is not one of hybrid, autorag", c.Retrieval.Backend))
	}

	switch c.Dedup.Backend {
	case DedupMemory, DedupNone:
	case DedupRedis:
		need("REDIS_ADDR", c.Dedup.RedisAddr)
	case DedupDynamoDB:
		need("DEDUP_TABLE", c.Dedup.Table)
	default:
		errs = append(errs, fmt.Errorf("config: DEDUP_BACKEND %q is not one of memory, redis, dynamodb, none", c.Dedup.Backend))
	}

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("config: RETRIEVAL_TOP_K must be positive"))
	}
	if c.MemoryWindow <= 0 {
		errs = append(errs, errors.New("config: MEMORY_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) string
	errs   []error
}

func (r *reader) str(key, def string) string {
	v := strings.TrimSpace(r.lookup(key))
	if v == "" {
		return def
	}
	return v
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}

// duration accepts "750ms", "8s" or a bare number of seconds.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) level(key string) slog.Level {
	var lvl slog.Level
	v := r.str(key, "info")
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return slog.LevelInfo
	}
	return lvl
}
