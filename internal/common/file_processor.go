package common

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"resumealign/internal/errors"
	"resumealign/internal/extract"
	"resumealign/internal/observability"
	"resumealign/internal/utils"

	"golang.org/x/sync/errgroup"
)

// DocumentSource names where one input document comes from. Text wins
// over Path when both are set.
type DocumentSource struct {
	Label string
	Path  string
	Text  string
}

// FileProcessor handles common file operations
type FileProcessor struct {
	logger      *errors.Logger
	maxFileSize int64
	metrics     *observability.Metrics
}

// NewFileProcessor creates a new file processor instance
func NewFileProcessor(logger *errors.Logger, maxFileSize int64, metrics *observability.Metrics) *FileProcessor {
	return &FileProcessor{logger: logger, maxFileSize: maxFileSize, metrics: metrics}
}

// ReadFile reads raw bytes from a file with proper error handling
func (fp *FileProcessor) ReadFile(filename string) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewIOError(errors.ErrCodeFileNotFound,
				fmt.Sprintf("File not found: %s", filename), err)
		}
		return nil, errors.NewIOError(errors.ErrCodeFileNotReadable,
			fmt.Sprintf("Cannot read file: %s", filename), err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			if fp.logger != nil {
				fp.logger.Warn("Failed to close file", "filename", filename, "error", err)
			}
		}
	}()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileNotReadable,
			fmt.Sprintf("Failed to read file content: %s", filename), err)
	}

	return content, nil
}

// WriteFile writes content to a file with directory creation
func (fp *FileProcessor) WriteFile(filename, content string) error {
	dir := filepath.Dir(filename)
	if dir != "." {
		err := os.MkdirAll(dir, 0750)
		if err != nil {
			return errors.NewIOError("DIRECTORY_CREATE_FAILED",
				fmt.Sprintf("Cannot create directory: %s", dir), err)
		}
	}

	err := os.WriteFile(filename, []byte(content), 0600)
	if err != nil {
		return errors.NewIOError("FILE_WRITE_FAILED",
			fmt.Sprintf("Cannot write file: %s", filename), err)
	}

	return nil
}

// LoadDocuments resolves every source to plain text. Files are read and
// extracted concurrently; the first failure cancels the rest.
func (fp *FileProcessor) LoadDocuments(ctx context.Context, sources ...DocumentSource) ([]string, error) {
	contents := make([]string, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		if source.Text != "" {
			contents[i] = source.Text
			continue
		}
		g.Go(func() error {
			text, err := fp.loadFile(gctx, source)
			if err != nil {
				return err
			}
			contents[i] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contents, nil
}

func (fp *FileProcessor) loadFile(ctx context.Context, source DocumentSource) (string, error) {
	if err := utils.ValidateInputFile(source.Path, fp.maxFileSize); err != nil {
		return "", inputFileError(source, err)
	}

	if !utils.IsKnownDocument(source.Path) && fp.logger != nil {
		fp.logger.Debug("Unknown extension, sniffing content", "filename", source.Path)
	}

	data, err := fp.ReadFile(source.Path)
	if err != nil {
		return "", err
	}

	format := extract.DetectFormat(source.Path, data)
	text, err := extract.Text(ctx, source.Path, data)
	fp.metrics.RecordDocumentExtracted(ctx, format, err == nil)
	if err != nil {
		if decodeErr, ok := extract.AsDecodeError(err); ok {
			return "", decodeErr.AppError()
		}
		return "", err
	}

	if fp.logger != nil {
		fp.logger.Debug("Document loaded",
			"label", source.Label, "filename", source.Path, "format", format,
			"size", utils.FormatFileSize(int64(len(data))))
	}
	return text, nil
}

// inputFileError classifies a failed input file check
func inputFileError(source DocumentSource, err error) *errors.AppError {
	switch {
	case stderrors.Is(err, utils.ErrFileNotFound):
		return errors.NewIOError(errors.ErrCodeFileNotFound,
			fmt.Sprintf("The %s file %s does not exist", source.Label, source.Path), err)
	case stderrors.Is(err, utils.ErrFileTooLarge):
		return errors.NewValidationError(errors.ErrCodeFileTooLarge,
			fmt.Sprintf("The %s file %s is too large", source.Label, source.Path), err)
	default:
		return errors.NewValidationError(errors.ErrCodeInvalidInputFile,
			fmt.Sprintf("Invalid %s file %s", source.Label, source.Path), err)
	}
}

// ValidateOutputFile validates output file path
func (fp *FileProcessor) ValidateOutputFile(filename string) error {
	if filename == "" {
		return nil // stdout is valid
	}

	if err := utils.ValidateOutputFile(filename); err != nil {
		return errors.NewValidationError("INVALID_OUTPUT_FILE",
			fmt.Sprintf("Invalid output file: %s", filename), err)
	}

	return nil
}
