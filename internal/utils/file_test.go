package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateInputFile(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "resume.txt")
	if err := os.WriteFile(small, []byte("Jane Doe"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		file    string
		maxSize int64
		wantErr string
	}{
		{"ok", small, 1024, ""},
		{"no limit", small, 0, ""},
		{"too large", small, 4, "larger than the 4 B limit"},
		{"missing", filepath.Join(dir, "nope.txt"), 0, "does not exist"},
		{"directory", dir, 0, "is a directory"},
		{"empty name", "", 0, "cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInputFile(tt.file, tt.maxSize)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateInputFileSentinels(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(big, []byte("0123456789"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := ValidateInputFile(filepath.Join(dir, "missing.pdf"), 0); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing file: got %v, want ErrFileNotFound", err)
	}
	if err := ValidateInputFile(dir, 0); !errors.Is(err, ErrNotAFile) {
		t.Errorf("directory: got %v, want ErrNotAFile", err)
	}
	if err := ValidateInputFile(big, 5); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("oversize: got %v, want ErrFileTooLarge", err)
	}
}

func TestValidateOutputFileRejectsDirectory(t *testing.T) {
	if err := ValidateOutputFile(t.TempDir()); err == nil {
		t.Error("expected an error for a directory output path")
	}
}

func TestValidateOutputFileCreatesDirectory(t *testing.T) {
	target := filepath.Join(t.TempDir(), "reports", "out.json")
	if err := ValidateOutputFile(target); err != nil {
		t.Fatalf("ValidateOutputFile() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(target)); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestIsKnownDocument(t *testing.T) {
	for name, want := range map[string]bool{
		"cv.PDF":      true,
		"cv.docx":     true,
		"job.md":      true,
		"photo.png":   false,
		"no-ext-file": false,
	} {
		if got := IsKnownDocument(name); got != want {
			t.Errorf("IsKnownDocument(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFormatFileSize(t *testing.T) {
	for size, want := range map[int64]string{
		512:              "512 B",
		10 * 1024 * 1024: "10.0 MB",
		1536:             "1.5 KB",
	} {
		if got := FormatFileSize(size); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", size, got, want)
		}
	}
}
