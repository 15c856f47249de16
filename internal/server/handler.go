package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"resumealign/internal/ai"
	apperrors "resumealign/internal/errors"
	"resumealign/internal/extract"
	"resumealign/internal/observability"
	"resumealign/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// InterpretationHeader tells clients whether the reply parsed as JSON
const InterpretationHeader = "X-Interpretation"

const (
	msgResumeRequired = "Resume file is required."
	msgJobRequired    = "Job description is required (either file or text)."
	msgUpstreamPrefix = "Failed to get response from AI service: "
	msgTimeout        = "The AI service did not respond in time."
	multipartMemory   = 8 << 20
)

// errBodyTooLarge marks a request rejected by the size limit
var errBodyTooLarge = stderrors.New("request body too large")

// createAnalyzeHandler serves POST /api/analyze
func (s *Server) createAnalyzeHandler(om *observability.ObservabilityManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx, span := om.Tracer("resumealign.api").Start(ctx, "api.analyze")
		defer span.End()

		if s.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
			defer cancel()
		}

		requestID := requestIDFrom(ctx)
		span.SetAttributes(attribute.String("request.id", requestID))

		req, err := s.readAnalysisRequest(ctx, r)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.type", "validation"))
			s.writeAnalysisError(w, err, requestID)
			return
		}

		span.SetAttributes(
			attribute.Int("request.resume_length", len(req.ResumeText)),
			attribute.Int("request.job_length", len(req.JobText)),
		)

		result, err := s.Pipeline.Run(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "analysis failed")
			s.writeAnalysisError(w, err, requestID)
			return
		}

		interpretation := "strict"
		if !result.Strict {
			interpretation = "recovered"
		}
		span.SetAttributes(
			attribute.String("interpretation", interpretation),
			attribute.Int("defaulted_count", len(result.Defaulted)),
		)

		s.Logger.Info("Analysis completed",
			"request_id", requestID,
			"interpretation", interpretation,
			"model", result.Model,
			"provider", result.Provider)

		w.Header().Set(InterpretationHeader, interpretation)
		writeJSON(w, http.StatusOK, result.Report)
	}
}

// readAnalysisRequest accepts multipart uploads or a JSON body
func (s *Server) readAnalysisRequest(ctx context.Context, r *http.Request) (types.AnalysisRequest, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	var req types.AnalysisRequest
	switch mediaType {
	case "multipart/form-data":
		req, err = s.readMultipart(ctx, r)
	case "application/json":
		req, err = readJSONBody(r)
	default:
		return req, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest,
			"Content-Type must be multipart/form-data or application/json.", nil)
	}
	if err != nil {
		return req, err
	}

	if strings.TrimSpace(req.ResumeText) == "" {
		return req, apperrors.NewValidationError(apperrors.ErrCodeMissingDocument, msgResumeRequired, nil)
	}
	if strings.TrimSpace(req.JobText) == "" {
		return req, apperrors.NewValidationError(apperrors.ErrCodeMissingDocument, msgJobRequired, nil)
	}
	return req, nil
}

func readJSONBody(r *http.Request) (types.AnalysisRequest, error) {
	var body AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if isTooLarge(err) {
			return types.AnalysisRequest{}, errBodyTooLarge
		}
		return types.AnalysisRequest{}, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest,
			"Invalid request body.", err)
	}
	return types.AnalysisRequest{ResumeText: body.ResumeText, JobText: body.JobDescriptionText}, nil
}

// readMultipart resolves each document from its file part or text field.
// Uploaded files are extracted concurrently.
func (s *Server) readMultipart(ctx context.Context, r *http.Request) (types.AnalysisRequest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			return types.AnalysisRequest{}, errBodyTooLarge
		}
		return types.AnalysisRequest{}, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest,
			"Invalid multipart form.", err)
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.Logger.Warn("Failed to remove multipart temp files", "error", err)
		}
	}()

	req := types.AnalysisRequest{
		ResumeText: r.FormValue("resumeText"),
		JobText:    r.FormValue("jobDescriptionText"),
	}

	g, gctx := errgroup.WithContext(ctx)
	if req.ResumeText == "" {
		if header := formFile(r, "resume"); header != nil {
			g.Go(func() error {
				text, err := s.extractUpload(gctx, header)
				req.ResumeText = text
				return err
			})
		}
	}
	if req.JobText == "" {
		if header := formFile(r, "jobDescription"); header != nil {
			g.Go(func() error {
				text, err := s.extractUpload(gctx, header)
				req.JobText = text
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return types.AnalysisRequest{}, err
	}
	return req, nil
}

func formFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil
	}
	return files[0]
}

// extractUpload turns one uploaded part into text
func (s *Server) extractUpload(ctx context.Context, header *multipart.FileHeader) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", apperrors.NewIOError(apperrors.ErrCodeFileNotReadable,
			fmt.Sprintf("Cannot read upload %s", header.Filename), err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.Logger.Warn("Failed to close upload", "filename", header.Filename, "error", err)
		}
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", apperrors.NewIOError(apperrors.ErrCodeFileNotReadable,
			fmt.Sprintf("Cannot read upload %s", header.Filename), err)
	}

	format := extract.DetectFormat(header.Filename, data)
	text, err := extract.Text(ctx, header.Filename, data)
	s.Metrics.RecordDocumentExtracted(ctx, format, err == nil)
	if err != nil {
		if decodeErr, ok := extract.AsDecodeError(err); ok {
			return "", decodeErr.AppError()
		}
		return "", err
	}
	return text, nil
}

func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if stderrors.As(err, &maxBytesErr) || stderrors.Is(err, multipart.ErrMessageTooLarge) {
		return true
	}
	// some multipart paths flatten the MaxBytesError into text
	return strings.Contains(err.Error(), "request body too large")
}

// writeAnalysisError maps a failure onto the response status and body
func (s *Server) writeAnalysisError(w http.ResponseWriter, err error, requestID string) {
	status, body := analysisErrorResponse(err, s.MaxRequestSize)
	if status >= http.StatusInternalServerError {
		s.Logger.LogError(err, "Analysis request failed", "request_id", requestID, "status", status)
	} else {
		s.Logger.Info("Analysis request rejected", "request_id", requestID, "status", status, "error", body.Error)
	}
	writeJSON(w, status, body)
}

func analysisErrorResponse(err error, limit int64) (int, ErrorResponse) {
	if stderrors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "Request body too large",
			Message: fmt.Sprintf("Limit is %d bytes", limit),
		}
	}

	if upstream, ok := ai.AsUpstream(err); ok {
		if upstream.Kind == ai.UpstreamCircuitOpen {
			return http.StatusServiceUnavailable, ErrorResponse{Error: msgUpstreamPrefix + upstream.Message}
		}
		return http.StatusBadGateway, ErrorResponse{Error: msgUpstreamPrefix + upstream.Message}
	}

	if apperrors.HasCode(err, apperrors.ErrCodeAITimeout) ||
		stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return http.StatusGatewayTimeout, ErrorResponse{Error: msgTimeout}
	}

	if appErr, ok := apperrors.As(err); ok && appErr.Type == apperrors.ErrorTypeValidation {
		return http.StatusBadRequest, ErrorResponse{Error: appErr.Message}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: apperrors.ProcessingFailureMessage}
}
