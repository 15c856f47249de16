package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// maxPromptFileSize bounds prompt files; prompts are instructions, not documents
const maxPromptFileSize = 64 * 1024

// loadPromptsFromFiles replaces inline prompts with file content where a
// file path is configured, for both the global and the analyze sections.
func (c *Config) loadPromptsFromFiles() error {
	targets := []struct {
		scope   string
		prompts *PromptConfig
	}{
		{"global", &c.AI.CustomPrompts},
		{"analyze", &c.AI.Analyze.CustomPrompts},
	}

	for _, target := range targets {
		if err := loadPromptPair(target.scope, target.prompts); err != nil {
			return err
		}
	}
	return nil
}

func loadPromptPair(scope string, prompts *PromptConfig) error {
	if prompts.SystemPromptFile != "" {
		content, err := readPromptFile(prompts.SystemPromptFile, scope+" system")
		if err != nil {
			return err
		}
		prompts.SystemPrompt = content
	}
	if prompts.UserPromptFile != "" {
		content, err := readPromptFile(prompts.UserPromptFile, scope+" user")
		if err != nil {
			return err
		}
		if err := ValidateUserTemplate(content); err != nil {
			return fmt.Errorf("%s prompt file '%s': %w", scope, prompts.UserPromptFile, err)
		}
		prompts.UserPrompt = content
	}
	return nil
}

func readPromptFile(path, label string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path for %s prompt '%s': %w", label, path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s prompt file not found: %s", label, absPath)
		}
		return "", fmt.Errorf("cannot stat %s prompt file '%s': %w", label, absPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s prompt path is a directory: %s", label, absPath)
	}
	if info.Size() > maxPromptFileSize {
		return "", fmt.Errorf("%s prompt file '%s' exceeds %d bytes", label, absPath, maxPromptFileSize)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s prompt file '%s': %w", label, absPath, err)
	}

	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return "", fmt.Errorf("%s prompt file '%s' is empty", label, absPath)
	}

	log.Printf("[CONFIG] Loaded %s prompt from %s (%d characters)", label, absPath, len(trimmed))
	return trimmed, nil
}
