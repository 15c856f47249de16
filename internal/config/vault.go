package config

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"resumealign/internal/errors"

	"github.com/hashicorp/vault/api"
)

const defaultVaultMount = "secret"

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"tokenFile"`
	Namespace string `mapstructure:"namespace"`
	// Mount is the KV version 2 mount the secret paths live under
	Mount string `mapstructure:"mount"`

	Secrets VaultSecrets `mapstructure:"secrets"`
}

// VaultSecrets holds paths, relative to the mount, for each secret the
// service can pull from Vault
type VaultSecrets struct {
	// APIKeys is read from the "keys" field as a comma separated list
	APIKeys string `mapstructure:"apiKeys"`
	// ProviderKey is read from the "api_key" field and used for the generation provider
	ProviderKey string `mapstructure:"providerKey"`
	// JWTSecret is read from the "secret" field and enables bearer JWT auth
	JWTSecret string `mapstructure:"jwtSecret"`
}

// VaultClient reads string secrets from a KV version 2 engine
type VaultClient struct {
	kv     *api.KVv2
	logger *errors.Logger
}

// NewVaultClient connects to Vault and checks it is reachable and unsealed
func NewVaultClient(ctx context.Context, cfg VaultConfig, logger *errors.Logger) (*VaultClient, error) {
	token, err := resolveVaultToken(cfg)
	if err != nil {
		return nil, err
	}

	apiConfig := api.DefaultConfig()
	if cfg.Address != "" {
		apiConfig.Address = cfg.Address
	}
	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	health, err := client.Sys().HealthWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vault at %s: %w", apiConfig.Address, err)
	}
	if health.Sealed {
		return nil, fmt.Errorf("vault at %s is sealed", apiConfig.Address)
	}
	if logger != nil {
		logger.Debug("Connected to Vault",
			"address", apiConfig.Address,
			"version", health.Version,
			"cluster_name", health.ClusterName)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = defaultVaultMount
	}
	return &VaultClient{kv: client.KVv2(mount), logger: logger}, nil
}

// resolveVaultToken takes the token from config, then from the token file
func resolveVaultToken(cfg VaultConfig) (string, error) {
	token := cfg.Token
	if token == "" && cfg.TokenFile != "" {
		raw, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token file: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	if token == "" {
		return "", fmt.Errorf("vault token is required when vault is enabled")
	}
	return token, nil
}

// GetString reads one string field from the latest version of a secret
func (vc *VaultClient) GetString(ctx context.Context, path, key string) (string, error) {
	secret, err := vc.kv.Get(ctx, path)
	if err != nil {
		if stderrors.Is(err, api.ErrSecretNotFound) {
			return "", fmt.Errorf("secret not found at path: %s", path)
		}
		return "", fmt.Errorf("failed to read secret from %s: %w", path, err)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key '%s' not found in secret %s", key, path)
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key '%s' is not a string in secret %s", key, path)
	}

	if vc.logger != nil {
		version := 0
		if secret.VersionMetadata != nil {
			version = secret.VersionMetadata.Version
		}
		vc.logger.Debug("Secret read from Vault", "path", path, "key", key, "version", version)
	}
	return str, nil
}

// GetStringSlice reads a comma separated field as a list, dropping blanks
func (vc *VaultClient) GetStringSlice(ctx context.Context, path, key string) ([]string, error) {
	value, err := vc.GetString(ctx, path, key)
	if err != nil {
		return nil, err
	}
	return splitAndTrim(value), nil
}

// ApplyVaultSecrets loads secrets from Vault and applies them to the config
func ApplyVaultSecrets(ctx context.Context, config *Config, logger *errors.Logger) error {
	if !config.Vault.Enabled {
		if logger != nil {
			logger.Debug("Vault integration disabled, skipping secret loading")
		}
		return nil
	}

	client, err := NewVaultClient(ctx, config.Vault, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vault client: %w", err)
	}
	return applySecrets(ctx, client, config, logger)
}

// secretSource is the subset of VaultClient used to apply secrets
type secretSource interface {
	GetString(ctx context.Context, path, key string) (string, error)
	GetStringSlice(ctx context.Context, path, key string) ([]string, error)
}

func applySecrets(ctx context.Context, client secretSource, config *Config, logger *errors.Logger) error {
	secrets := config.Vault.Secrets

	if secrets.APIKeys != "" {
		apiKeys, err := client.GetStringSlice(ctx, secrets.APIKeys, "keys")
		if err != nil {
			return fmt.Errorf("failed to load API keys from vault: %w", err)
		}
		if len(apiKeys) > 0 {
			config.Server.APIKeys = apiKeys
			if logger != nil {
				logger.Info("API keys loaded from Vault", "count", len(apiKeys))
			}
		} else if logger != nil {
			logger.Warn("No API keys found in Vault", "path", secrets.APIKeys)
		}
	}

	if secrets.ProviderKey != "" {
		key, err := client.GetString(ctx, secrets.ProviderKey, "api_key")
		if err != nil {
			return fmt.Errorf("failed to load provider API key from vault: %w", err)
		}
		if key != "" {
			applyProviderKey(config, key)
			if logger != nil {
				logger.Info("Provider API key loaded from Vault", "provider", config.AI.Provider)
			}
		}
	}

	if secrets.JWTSecret != "" {
		secret, err := client.GetString(ctx, secrets.JWTSecret, "secret")
		if err != nil {
			return fmt.Errorf("failed to load JWT secret from vault: %w", err)
		}
		if secret != "" {
			config.Server.JWT.Secret = secret
		}
	}

	return nil
}

// applyProviderKey overrides the global key and fills the analyze key when unset
func applyProviderKey(config *Config, key string) {
	config.AI.APIKey = key
	if config.AI.Analyze.APIKey == "" {
		config.AI.Analyze.APIKey = key
	}
}
