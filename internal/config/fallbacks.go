package config

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// providerKeyEnv maps each provider to the environment variable holding its credential
var providerKeyEnv = map[string]string{
	ProviderGitHub: "GITHUB_TOKEN",
	ProviderOpenAI: "OPENAI_API_KEY",
	ProviderGemini: "GEMINI_API_KEY",
}

func providerKeyFromEnv(provider string) string {
	if name, ok := providerKeyEnv[provider]; ok {
		return os.Getenv(name)
	}
	return ""
}

// applyFallbacks fills values that viper cannot express as plain defaults
func (c *Config) applyFallbacks() {
	if c.AI.Model == "" {
		c.AI.Model = DefaultModel(c.AI.Provider)
	}
	if c.AI.APIKey == "" {
		c.AI.APIKey = providerKeyFromEnv(c.AI.Provider)
	}

	// PORT is the conventional variable set by hosting platforms
	if port := os.Getenv("PORT"); port != "" && os.Getenv("RESUMEALIGN_SERVER_PORT") == "" {
		c.Server.Port = port
	}

	if len(c.Server.APIKeys) == 0 {
		if apiKeysEnv := os.Getenv("RESUMEALIGN_SERVER_APIKEYS"); apiKeysEnv != "" {
			c.Server.APIKeys = splitAndTrim(apiKeysEnv)
		}
	}
	if len(c.Server.CORS.AllowedOrigins) == 0 {
		if origins := os.Getenv("RESUMEALIGN_SERVER_CORS_ALLOWEDORIGINS"); origins != "" {
			c.Server.CORS.AllowedOrigins = splitAndTrim(origins)
		}
	}

	if c.Server.TLS.Mode == "mutual" && c.Server.TLS.ClientAuthPolicy == "" {
		c.Server.TLS.ClientAuthPolicy = "require"
	}
	if c.Server.TLS.MinVersion == "" && c.Server.TLS.Mode != "disabled" {
		c.Server.TLS.MinVersion = "1.2"
	}

	if c.Observability.ServiceInstance == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Observability.ServiceInstance = fmt.Sprintf("%s-%s", c.Observability.ServiceName, hostname)
		} else {
			c.Observability.ServiceInstance = fmt.Sprintf("%s-1", c.Observability.ServiceName)
		}
	}

	if c.App.LogLevel == "debug" && !c.Observability.ConsoleOutput {
		c.Observability.ConsoleOutput = true
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// logConfigurationSources logs where configuration came from, masking secrets
func (c *Config) logConfigurationSources(configFileUsed string) {
	if configFileUsed != "" {
		log.Printf("[CONFIG] Config file: %s", configFileUsed)
	} else {
		log.Println("[CONFIG] Config file: none")
	}

	envVars := []string{
		"RESUMEALIGN_AI_APIKEY",
		"RESUMEALIGN_AI_PROVIDER",
		"RESUMEALIGN_AI_MODEL",
		"RESUMEALIGN_SERVER_PORT",
		"RESUMEALIGN_APP_LOGLEVEL",
		"RESUMEALIGN_VAULT_ENABLED",
		"GITHUB_TOKEN",
		"OPENAI_API_KEY",
		"GEMINI_API_KEY",
		"PORT",
	}
	for _, envVar := range envVars {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		lower := strings.ToLower(envVar)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") {
			log.Printf("[CONFIG]   %s=***MASKED***", envVar)
		} else {
			log.Printf("[CONFIG]   %s=%s", envVar, value)
		}
	}

	log.Printf("[CONFIG] AI Provider: %s, Model: %s", c.AI.Provider, c.AI.Model)
	if c.AI.APIKey != "" {
		log.Println("[CONFIG] AI API Key: ***CONFIGURED***")
	} else {
		log.Println("[CONFIG] AI API Key: ***NOT SET***")
	}
	log.Printf("[CONFIG] Analysis split mode: %s", c.Analysis.SplitMode)
	log.Printf("[CONFIG] Server: %s:%s (TLS %s)", c.Server.Host, c.Server.Port, c.Server.TLS.Mode)
	log.Printf("[CONFIG] Log Level: %s", c.App.LogLevel)
}
