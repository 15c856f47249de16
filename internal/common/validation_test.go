package common

import (
	"testing"

	"resumealign/internal/errors"
)

var reportFormats = []string{"json", "yaml", "text", "markdown", "terminal"}

func TestValidateOutputFormat(t *testing.T) {
	tests := []struct {
		name             string
		format           string
		supportedFormats []string
		expectError      bool
		expectedError    string
	}{
		{
			name:             "valid format - json",
			format:           "json",
			supportedFormats: reportFormats,
		},
		{
			name:             "valid format - yaml",
			format:           "yaml",
			supportedFormats: reportFormats,
		},
		{
			name:             "valid format - terminal",
			format:           "terminal",
			supportedFormats: reportFormats,
		},
		{
			name:             "invalid format - xml",
			format:           "xml",
			supportedFormats: reportFormats,
			expectError:      true,
			expectedError:    "unsupported output format 'xml'. Supported formats: [json yaml text markdown terminal]",
		},
		{
			name:             "yaml not configured",
			format:           "yaml",
			supportedFormats: []string{"json", "text"},
			expectError:      true,
			expectedError:    "unsupported output format 'yaml'. Supported formats: [json text]",
		},
		{
			name:             "case sensitive - JSON uppercase",
			format:           "JSON",
			supportedFormats: reportFormats,
			expectError:      true,
		},
		{
			name:             "empty format string",
			format:           "",
			supportedFormats: reportFormats,
			expectError:      true,
		},
		{
			name:             "empty supported formats - should allow all",
			format:           "xml",
			supportedFormats: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputFormat(tt.format, tt.supportedFormats)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
					return
				}
				if tt.expectedError != "" && err.Error() != tt.expectedError {
					t.Errorf("Expected error '%s', got '%s'", tt.expectedError, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestValidateJobSource(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		text     string
		wantCode string
	}{
		{"file only", "job.txt", "", ""},
		{"text only", "", "Senior Go engineer", ""},
		{"neither", "", "", errors.ErrCodeMissingDocument},
		{"both", "job.txt", "Senior Go engineer", errors.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobSource(tt.path, tt.text)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func BenchmarkValidateOutputFormat(b *testing.B) {
	b.Run("valid format", func(b *testing.B) {
		for b.Loop() {
			_ = ValidateOutputFormat("json", reportFormats)
		}
	})

	b.Run("invalid format", func(b *testing.B) {
		for b.Loop() {
			_ = ValidateOutputFormat("xml", reportFormats)
		}
	})
}

func TestGetSupportedFormats(t *testing.T) {
	if got := GetSupportedFormats([]string{"json"}); len(got) != 1 || got[0] != "json" {
		t.Errorf("configured formats not returned: %v", got)
	}
	if got := GetSupportedFormats(nil); len(got) != 5 {
		t.Errorf("expected every registered format, got %v", got)
	}
}
