package common

import (
	"fmt"
	"slices"

	"resumealign/internal/errors"
	"resumealign/internal/formatters"
)

// ValidateOutputFormat validates format against configured supported formats
func ValidateOutputFormat(format string, supportedFormats []string) error {
	if len(supportedFormats) == 0 {
		return nil // No restrictions configured
	}

	if slices.Contains(supportedFormats, format) {
		return nil
	}

	return fmt.Errorf("unsupported output format '%s'. Supported formats: %v",
		format, supportedFormats)
}

// GetSupportedFormats returns the configured formats, or every registered
// formatter when none are configured
func GetSupportedFormats(supportedFormats []string) []string {
	if len(supportedFormats) == 0 {
		return formatters.GlobalRegistry.GetSupportedFormats()
	}
	return supportedFormats
}

// ValidateJobSource requires exactly one of a job description file or
// inline job text.
func ValidateJobSource(jobPath, jobText string) error {
	switch {
	case jobPath == "" && jobText == "":
		return errors.NewValidationError(errors.ErrCodeMissingDocument,
			"Job description is required (either file or text).", nil)
	case jobPath != "" && jobText != "":
		return errors.NewValidationError(errors.ErrCodeInvalidRequest,
			"Provide either a job description file or --job-text, not both.", nil)
	}
	return nil
}
