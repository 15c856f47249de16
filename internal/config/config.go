package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported generation providers
const (
	ProviderGitHub = "github"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Split modes for tolerant list and map recovery
const (
	SplitModeAware  = "aware"
	SplitModeLegacy = "legacy"
)

// DefaultGitHubModelsURL is the inference endpoint used by the github provider
const DefaultGitHubModelsURL = "https://models.github.ai/inference"

// Config holds all application configuration
// Secret precedence, highest first:
// 1. Vault (if configured)
// 2. Config file values
// 3. RESUMEALIGN_* environment variables
// 4. Provider environment variables (GITHUB_TOKEN, OPENAI_API_KEY, GEMINI_API_KEY)
type Config struct {
	AI            AIConfig            `mapstructure:"ai"`
	Analysis      AnalysisConfig      `mapstructure:"analysis"`
	Server        ServerConfig        `mapstructure:"server"`
	App           AppConfig           `mapstructure:"app"`
	Vault         VaultConfig         `mapstructure:"vault"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AIConfig holds generation service configuration
type AIConfig struct {
	Provider      string        `mapstructure:"provider"`
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"baseURL"`
	Timeout       time.Duration `mapstructure:"timeout"`
	APIKey        string        `mapstructure:"apiKey"`
	Temperature   float32       `mapstructure:"temperature"`
	TopP          float32       `mapstructure:"topP"`
	JSONResponse  bool          `mapstructure:"jsonResponse"`
	CustomPrompts PromptConfig  `mapstructure:"customPrompts"`

	// Analyze overrides the global settings above for the analysis operation
	Analyze OperationAIConfig `mapstructure:"analyze"`
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"maxRequests"`      // allowed while half-open
	Interval         time.Duration `mapstructure:"interval"`         // clears counts while closed
	Timeout          time.Duration `mapstructure:"timeout"`          // open before half-open
	MinRequests      uint32        `mapstructure:"minRequests"`      // before tripping is considered
	FailureThreshold float64       `mapstructure:"failureThreshold"` // 0.0-1.0
}

// OperationAIConfig holds per-operation overrides. Nil pointers and empty
// strings inherit from AIConfig.
type OperationAIConfig struct {
	Provider       string               `mapstructure:"provider"`
	Model          string               `mapstructure:"model"`
	BaseURL        string               `mapstructure:"baseURL"`
	Timeout        *time.Duration       `mapstructure:"timeout"`
	APIKey         string               `mapstructure:"apiKey"`
	Temperature    *float32             `mapstructure:"temperature"`
	TopP           *float32             `mapstructure:"topP"`
	JSONResponse   *bool                `mapstructure:"jsonResponse"`
	CustomPrompts  PromptConfig         `mapstructure:"customPrompts"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
}

// PromptConfig holds inline or file based prompt overrides. A file wins
// over the inline value once loaded.
type PromptConfig struct {
	SystemPrompt     string `mapstructure:"systemPrompt"`
	SystemPromptFile string `mapstructure:"systemPromptFile"`
	UserPrompt       string `mapstructure:"userPrompt"`
	UserPromptFile   string `mapstructure:"userPromptFile"`
}

// AnalysisConfig controls how model replies are interpreted
type AnalysisConfig struct {
	SplitMode       string `mapstructure:"splitMode"`
	StripCodeFences bool   `mapstructure:"stripCodeFences"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	MaxUploadSize  int64         `mapstructure:"maxUploadSize"`

	TLS TLSConfig `mapstructure:"tls"`

	// API authentication; empty APIKeys and empty JWT secret disable auth
	APIKeys []string  `mapstructure:"apiKeys"`
	JWT     JWTConfig `mapstructure:"jwt"`

	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// JWTConfig enables HS256 bearer tokens alongside static API keys
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// CORSConfig lists origins allowed to call the API from a browser
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// TLSConfig holds TLS/mTLS configuration
type TLSConfig struct {
	Mode             string        `mapstructure:"mode"` // disabled, server, mutual
	CertFile         string        `mapstructure:"certFile"`
	KeyFile          string        `mapstructure:"keyFile"`
	CAFile           string        `mapstructure:"caFile"`
	MinVersion       string        `mapstructure:"minVersion"`
	ClientAuthPolicy string        `mapstructure:"clientAuthPolicy"` // require, request, verify
	Reload           bool          `mapstructure:"reload"`
	DebounceDelay    time.Duration `mapstructure:"debounceDelay"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	RequestsPerMin int  `mapstructure:"requestsPerMin"`
	BurstCapacity  int  `mapstructure:"burstCapacity"`
	ByIP           bool `mapstructure:"byIP"`
	ByAPIKey       bool `mapstructure:"byAPIKey"`
}

// AppConfig holds general application configuration
type AppConfig struct {
	LogLevel         string   `mapstructure:"logLevel"`
	DefaultFormat    string   `mapstructure:"defaultFormat"`
	SupportedFormats []string `mapstructure:"supportedFormats"`
	MaxFileSize      int64    `mapstructure:"maxFileSize"`
}

// ObservabilityConfig holds observability configuration
type ObservabilityConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	ServiceName     string              `mapstructure:"serviceName"`
	ServiceVersion  string              `mapstructure:"serviceVersion"`
	ServiceInstance string              `mapstructure:"serviceInstance"`
	ConsoleOutput   bool                `mapstructure:"consoleOutput"`
	SampleRate      float64             `mapstructure:"sampleRate"`
	Tracing         TracingConfig       `mapstructure:"tracing"`
	Metrics         MetricsConfig       `mapstructure:"metrics"`
	CustomMetrics   CustomMetricsConfig `mapstructure:"customMetrics"`
	Console         ConsoleConfig       `mapstructure:"console"`
	Prometheus      PrometheusConfig    `mapstructure:"prometheus"`
	OTLP            OTLPConfig          `mapstructure:"otlp"`
	HealthCheck     HealthCheckConfig   `mapstructure:"healthCheck"`
}

type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sampleRate"`
}

type MetricsConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CollectionInterval time.Duration `mapstructure:"collectionInterval"`
}

type ConsoleConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	PrettyPrint bool `mapstructure:"prettyPrint"`
}

// CustomMetricsConfig toggles groups of application metrics
type CustomMetricsConfig struct {
	AIOperations    AIOperationsMetricsConfig   `mapstructure:"aiOperations"`
	BusinessMetrics BusinessMetricsConfig       `mapstructure:"businessMetrics"`
	Infrastructure  InfrastructureMetricsConfig `mapstructure:"infrastructure"`
}

type AIOperationsMetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	TrackDuration   bool `mapstructure:"trackDuration"`
	TrackTokenUsage bool `mapstructure:"trackTokenUsage"`
}

type BusinessMetricsConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	TrackInterpretation bool `mapstructure:"trackInterpretation"`
	TrackDocuments      bool `mapstructure:"trackDocuments"`
}

type InfrastructureMetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	TrackRateLimits bool `mapstructure:"trackRateLimits"`
}

type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Port     string `mapstructure:"port"`
}

type OTLPConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
}

type HealthCheckConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	AIModelCheckTimeout time.Duration `mapstructure:"aiModelCheckTimeout"`
}

// LoadConfig loads configuration from defaults, a config file and the environment
func LoadConfig() (*Config, error) {
	return load(viper.New(), true)
}

func load(v *viper.Viper, searchPaths bool) (*Config, error) {
	log.Println("[CONFIG] Starting configuration loading process")

	setDefaults(v)

	v.SetEnvPrefix("RESUMEALIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if searchPaths {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/resumealign/")
		v.AddConfigPath("$HOME/.resumealign")
		v.AddConfigPath(".")
	}

	configFileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("[CONFIG] No config file found, using defaults and environment variables")
	} else {
		configFileUsed = v.ConfigFileUsed()
		log.Printf("[CONFIG] Loaded config file: %s", configFileUsed)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyFallbacks()
	config.logConfigurationSources(configFileUsed)

	if err := config.loadPromptsFromFiles(); err != nil {
		return nil, fmt.Errorf("failed to load custom prompts: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Println("[CONFIG] Configuration loading completed")
	return &config, nil
}

// LoadConfigFile loads configuration from an explicit YAML file
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v, false)
}

// Validate checks if the configuration is valid. Missing provider
// credentials are not checked here so offline commands keep working.
func (c *Config) Validate() error {
	analyze := c.GetAnalyzeConfig()

	switch analyze.Provider {
	case ProviderGitHub, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported AI provider: %q (must be github, openai or gemini)", analyze.Provider)
	}

	if analyze.Model == "" {
		return fmt.Errorf("AI model is required")
	}
	if *analyze.Timeout <= 0 {
		return fmt.Errorf("AI timeout must be positive")
	}
	if t := *analyze.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("AI temperature must be within [0, 2], got %v", t)
	}
	if p := *analyze.TopP; p <= 0 || p > 1 {
		return fmt.Errorf("AI topP must be within (0, 1], got %v", p)
	}
	if tmpl := analyze.CustomPrompts.UserPrompt; tmpl != "" {
		if err := ValidateUserTemplate(tmpl); err != nil {
			return err
		}
	}

	switch c.Analysis.SplitMode {
	case SplitModeAware, SplitModeLegacy:
	default:
		return fmt.Errorf("invalid analysis splitMode: %q (must be aware or legacy)", c.Analysis.SplitMode)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("server maxUploadSize must be positive")
	}

	validFormats := make(map[string]bool)
	for _, format := range c.App.SupportedFormats {
		validFormats[format] = true
	}
	if !validFormats[c.App.DefaultFormat] {
		return fmt.Errorf("invalid default format: %s", c.App.DefaultFormat)
	}

	if err := c.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	return nil
}

// ValidateUserTemplate checks that a user prompt template takes exactly
// two %s verbs, resume text first and job text second. Any other percent
// sign must be escaped as %%, otherwise fmt would treat it as a verb and
// shift the documents.
func ValidateUserTemplate(tmpl string) error {
	verbs := 0
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' {
			continue
		}
		if i+1 >= len(tmpl) {
			return fmt.Errorf("user prompt template has a trailing %%; write %%%% for a literal percent sign")
		}
		switch tmpl[i+1] {
		case 's':
			verbs++
		case '%':
		default:
			return fmt.Errorf("user prompt template has an unescaped %% at offset %d; write %%%% for a literal percent sign", i)
		}
		i++
	}
	if verbs != 2 {
		return fmt.Errorf("user prompt template must contain exactly two %%s placeholders, found %d", verbs)
	}
	return nil
}

// GetAnalyzeConfig returns the analysis AI configuration with every
// override resolved against the global settings.
func (c *Config) GetAnalyzeConfig() OperationAIConfig {
	config := c.AI.Analyze

	if config.Provider == "" {
		config.Provider = c.AI.Provider
	}
	if config.Model == "" {
		if config.Provider == c.AI.Provider && c.AI.Model != "" {
			config.Model = c.AI.Model
		} else {
			config.Model = DefaultModel(config.Provider)
		}
	}
	if config.BaseURL == "" && config.Provider == c.AI.Provider {
		config.BaseURL = c.AI.BaseURL
	}
	if config.BaseURL == "" && config.Provider == ProviderGitHub {
		config.BaseURL = DefaultGitHubModelsURL
	}
	if config.Timeout == nil {
		config.Timeout = &c.AI.Timeout
	}
	if config.APIKey == "" && config.Provider == c.AI.Provider {
		config.APIKey = c.AI.APIKey
	}
	if config.APIKey == "" {
		config.APIKey = providerKeyFromEnv(config.Provider)
	}
	if config.Temperature == nil {
		config.Temperature = &c.AI.Temperature
	}
	if config.TopP == nil {
		config.TopP = &c.AI.TopP
	}
	if config.JSONResponse == nil {
		config.JSONResponse = &c.AI.JSONResponse
	}

	if config.CustomPrompts.SystemPrompt == "" {
		config.CustomPrompts.SystemPrompt = c.AI.CustomPrompts.SystemPrompt
	}
	if config.CustomPrompts.UserPrompt == "" {
		config.CustomPrompts.UserPrompt = c.AI.CustomPrompts.UserPrompt
	}

	return config
}

// DefaultModel returns the model used when none is configured for provider
func DefaultModel(provider string) string {
	switch provider {
	case ProviderGitHub:
		return "openai/gpt-4.1"
	case ProviderOpenAI:
		return "gpt-4.1"
	case ProviderGemini:
		return "gemini-2.0-flash"
	default:
		return ""
	}
}
