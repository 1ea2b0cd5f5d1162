package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Completion selection modes.
const (
	ModeAuto     = "auto"
	ModeExplicit = "explicit"
	ModeFallback = "fallback"
)

// Config captures the settings required to boot the chatops service.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Clients      ClientsConfig      `yaml:"clients"`
	Completion   CompletionConfig   `yaml:"completion"`
	Resolver     ResolverConfig     `yaml:"resolver"`
	Intent       IntentConfig       `yaml:"intent"`
	Conversation ConversationConfig `yaml:"conversation"`
	Correlation  CorrelationConfig  `yaml:"correlation"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Logging      LoggingConfig      `yaml:"logging"`
	Cache        CacheConfig        `yaml:"cache"`
}

// ServerConfig controls the gRPC, HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// ClientsConfig groups integrations with external collaborators.
type ClientsConfig struct {
	Monitoring MonitoringClientConfig `yaml:"monitoring"`
}

// MonitoringClientConfig configures access to the monitoring platform REST API.
type MonitoringClientConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	APIToken       string        `yaml:"apiToken"`
	Timeout        time.Duration `yaml:"timeout"`
	EntitySelector string        `yaml:"entitySelector"`
	PageSize       int           `yaml:"pageSize"`
}

// CompletionConfig selects and configures natural-language completion backends.
type CompletionConfig struct {
	Mode      string         `yaml:"mode"`
	Provider  string         `yaml:"provider"`
	Timeout   time.Duration  `yaml:"timeout"`
	Gemini    ProviderConfig `yaml:"gemini"`
	Ollama    ProviderConfig `yaml:"ollama"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

// ProviderConfig holds the credentials and model for one completion backend.
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

// ResolverConfig tunes entity name resolution.
type ResolverConfig struct {
	AmbiguityMargin float64 `yaml:"ambiguityMargin"`
	MinConfidence   float64 `yaml:"minConfidence"`
	FuzzyMinScore   float64 `yaml:"fuzzyMinScore"`
	TopK            int     `yaml:"topK"`
}

// IntentConfig tunes intent resolution.
type IntentConfig struct {
	ConfidenceFloor  float64       `yaml:"confidenceFloor"`
	DefaultTimeframe time.Duration `yaml:"defaultTimeframe"`
	RulesPath        string        `yaml:"rulesPath"`
}

// ConversationConfig controls per-session context storage.
type ConversationConfig struct {
	Store          string        `yaml:"store"`
	SQLitePath     string        `yaml:"sqlitePath"`
	RecentEntities int           `yaml:"recentEntities"`
	SessionTTL     time.Duration `yaml:"sessionTTL"`
}

// CorrelationConfig controls problem categorisation.
type CorrelationConfig struct {
	HighSeverity string `yaml:"highSeverity"`
}

// CatalogConfig controls where entities come from and how often they refresh.
type CatalogConfig struct {
	Source          string              `yaml:"source"`
	Path            string              `yaml:"path"`
	RefreshInterval time.Duration       `yaml:"refreshInterval"`
	Aliases         map[string][]string `yaml:"aliases"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// CacheConfig controls in-process caching of catalog and metric lookups.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"maxEntries"`
	CatalogTTL time.Duration `yaml:"catalogTTL"`
	MetricsTTL time.Duration `yaml:"metricsTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_CHATOPS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Monitoring: MonitoringClientConfig{
				Timeout:        15 * time.Second,
				EntitySelector: `type("SERVICE")`,
				PageSize:       500,
			},
		},
		Completion: CompletionConfig{
			Mode:      ModeAuto,
			Timeout:   20 * time.Second,
			Gemini:    ProviderConfig{Model: "gemini-2.0-flash"},
			Ollama:    ProviderConfig{BaseURL: "http://localhost:11434", Model: "llama3.2"},
			Anthropic: ProviderConfig{BaseURL: "https://api.anthropic.com", Model: "claude-3-5-haiku-latest"},
			OpenAI:    ProviderConfig{BaseURL: "https://api.openai.com", Model: "gpt-4o-mini"},
		},
		Resolver: ResolverConfig{
			AmbiguityMargin: 0.2,
			MinConfidence:   0.7,
			FuzzyMinScore:   0.5,
			TopK:            5,
		},
		Intent: IntentConfig{
			ConfidenceFloor:  0.4,
			DefaultTimeframe: 2 * time.Hour,
		},
		Conversation: ConversationConfig{
			Store:          "memory",
			SQLitePath:     "chatops.db",
			RecentEntities: 5,
			SessionTTL:     24 * time.Hour,
		},
		Correlation: CorrelationConfig{HighSeverity: "high"},
		Catalog: CatalogConfig{
			Source:          "monitoring",
			RefreshInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false, MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 256,
			CatalogTTL: 5 * time.Minute,
			MetricsTTL: 30 * time.Second,
		},
	}
}

// Validate rejects configurations the resolver and stores cannot honour.
func (c *Config) Validate() error {
	var problems []string
	if c.Resolver.AmbiguityMargin < 0 || c.Resolver.AmbiguityMargin > 1 {
		problems = append(problems, "resolver.ambiguityMargin must be within [0,1]")
	}
	if c.Resolver.MinConfidence < 0 || c.Resolver.MinConfidence > 1 {
		problems = append(problems, "resolver.minConfidence must be within [0,1]")
	}
	if c.Resolver.FuzzyMinScore < 0 || c.Resolver.FuzzyMinScore > 1 {
		problems = append(problems, "resolver.fuzzyMinScore must be within [0,1]")
	}
	if c.Resolver.TopK <= 0 {
		problems = append(problems, "resolver.topK must be positive")
	}
	if c.Intent.ConfidenceFloor < 0 || c.Intent.ConfidenceFloor > 1 {
		problems = append(problems, "intent.confidenceFloor must be within [0,1]")
	}
	if c.Intent.DefaultTimeframe <= 0 {
		problems = append(problems, "intent.defaultTimeframe must be positive")
	}
	if c.Conversation.RecentEntities <= 0 {
		problems = append(problems, "conversation.recentEntities must be positive")
	}
	switch c.Conversation.Store {
	case "memory", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("conversation.store %q is not memory or sqlite", c.Conversation.Store))
	}
	switch c.Completion.Mode {
	case ModeAuto, ModeFallback:
	case ModeExplicit:
		if c.Completion.Provider == "" {
			problems = append(problems, "completion.provider is required in explicit mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("completion.mode %q is not auto, explicit or fallback", c.Completion.Mode))
	}
	switch c.Catalog.Source {
	case "monitoring":
	case "file":
		if c.Catalog.Path == "" {
			problems = append(problems, "catalog.path is required for file source")
		}
	default:
		problems = append(problems, fmt.Sprintf("catalog.source %q is not monitoring or file", c.Catalog.Source))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_CHATOPS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := firstEnv("MIRADOR_CHATOPS_MONITORING_URL", "DT_BASE_URL"); v != "" {
		cfg.Clients.Monitoring.BaseURL = v
	}
	if v := firstEnv("MIRADOR_CHATOPS_MONITORING_TOKEN", "DT_API_TOKEN"); v != "" {
		cfg.Clients.Monitoring.APIToken = v
	}
	if v := firstEnv("MIRADOR_CHATOPS_COMPLETION_PROVIDER", "AI_PROVIDER"); v != "" {
		// auto and fallback are modes; anything else names a provider.
		switch strings.ToLower(v) {
		case ModeAuto:
			cfg.Completion.Mode = ModeAuto
		case ModeFallback:
			cfg.Completion.Mode = ModeFallback
		default:
			cfg.Completion.Mode = ModeExplicit
			cfg.Completion.Provider = strings.ToLower(v)
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Completion.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Completion.Gemini.Model = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Completion.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Completion.Ollama.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Completion.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.Completion.Anthropic.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Completion.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Completion.OpenAI.Model = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_AMBIGUITY_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Resolver.AmbiguityMargin = f
		}
	}
	if v := os.Getenv("MIRADOR_CHATOPS_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Resolver.MinConfidence = f
		}
	}
	if v := os.Getenv("MIRADOR_CHATOPS_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Resolver.TopK = k
		}
	}
	if v := firstEnv("MIRADOR_CHATOPS_DEFAULT_TIMEFRAME", "DEFAULT_TIMEFRAME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Intent.DefaultTimeframe = d
		}
	}
	if v := os.Getenv("MIRADOR_CHATOPS_RULES_PATH"); v != "" {
		cfg.Intent.RulesPath = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_RECENT_ENTITIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversation.RecentEntities = n
		}
	}
	if v := os.Getenv("MIRADOR_CHATOPS_CONTEXT_STORE"); v != "" {
		cfg.Conversation.Store = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_SQLITE_PATH"); v != "" {
		cfg.Conversation.SQLitePath = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_HIGH_SEVERITY"); v != "" {
		cfg.Correlation.HighSeverity = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_CATALOG_PATH"); v != "" {
		cfg.Catalog.Source = "file"
		cfg.Catalog.Path = v
	}
	if v := firstEnv("MIRADOR_CHATOPS_LOG_LEVEL", "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_CHATOPS_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_CHATOPS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
