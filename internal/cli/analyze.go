package cli

import (
	"context"
	"fmt"

	"resumealign/internal/ai"
	"resumealign/internal/analysis"
	"resumealign/internal/common"
	"resumealign/internal/errors"
	"resumealign/internal/types"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze RESUME [JOB_DESCRIPTION]",
	Short: "Score a resume against a job description",
	Long: `Analyze a resume against a job description. Both documents may be PDF,
DOCX or plain text. The job description can also be given inline with
--job-text instead of a file.

The report includes:
- A match score from 0 to 100
- Recommendations for closing gaps
- Rewritten resume bullets
- A short summary of fit

Use --dry-run to print the prompt that would be sent without calling the model.`,
	Args: cobra.RangeArgs(1, 2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfigFromContext(cmd.Context())

		if analyzeConfig.OutputFormat == "" {
			analyzeConfig.OutputFormat = cfg.App.DefaultFormat
		}

		jobPath := ""
		if len(args) == 2 {
			jobPath = args[1]
		}
		if err := common.ValidateJobSource(jobPath, analyzeJobText); err != nil {
			return err
		}

		return common.ValidateOutputFormat(analyzeConfig.OutputFormat, cfg.App.SupportedFormats)
	},
	RunE: runAnalyze,
}

var (
	analyzeConfig  common.CommandConfig
	analyzeJobText string
	analyzeDryRun  bool
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeConfig.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	analyzeCmd.Flags().StringVar(&analyzeConfig.OutputFormat, "format", "", "Output format: json, yaml, text, markdown or terminal")
	analyzeCmd.Flags().StringVar(&analyzeJobText, "job-text", "", "Job description text, instead of a file")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Print the prompt without calling the model")

	_ = analyzeCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg := getConfigFromContext(cmd.Context())
		return common.GetSupportedFormats(cfg.App.SupportedFormats), cobra.ShellCompDirectiveNoFileComp
	})
}

func analyzeSources(args []string) []common.DocumentSource {
	sources := []common.DocumentSource{{Label: "resume", Path: args[0]}}
	if len(args) == 2 {
		return append(sources, common.DocumentSource{Label: "job description", Path: args[1]})
	}
	return append(sources, common.DocumentSource{Label: "job description", Text: analyzeJobText})
}

func createAnalysisRequest(contents []string) (types.AnalysisRequest, error) {
	if len(contents) != 2 {
		return types.AnalysisRequest{}, fmt.Errorf("expected 2 documents, got %d", len(contents))
	}
	req := types.AnalysisRequest{ResumeText: contents[0], JobText: contents[1]}
	return req, analysis.ValidateRequest(req)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	analyzeConfig.MaxFileSize = cfg.App.MaxFileSize
	analyzeConfig.Stdout = cmd.OutOrStdout()

	logDetails := func(input types.AnalysisRequest, cfg common.CommandConfig) {
		logger.Info("Starting resume analysis",
			"resume_chars", len(input.ResumeText),
			"job_chars", len(input.JobText),
			"output_format", cfg.OutputFormat,
			"dry_run", analyzeDryRun)
	}

	if analyzeDryRun {
		builder, err := ai.NewPromptBuilder(cfg.GetAnalyzeConfig().CustomPrompts)
		if err != nil {
			return errors.NewConfigError(errors.ErrCodeInvalidConfig, "Invalid prompt configuration", err)
		}
		promptOperation := func(_ context.Context, input types.AnalysisRequest) (ai.Prompt, *ai.TokenUsage, error) {
			return builder.Build(input.ResumeText, input.JobText), nil, nil
		}
		return common.RunAICommand(ctx, logger, nil, analyzeConfig, analyzeSources(args),
			createAnalysisRequest, promptOperation, logDetails)
	}

	analyzeAIConfig := cfg.GetAnalyzeConfig()
	aiService, err := ai.NewService(ctx, &analyzeAIConfig, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create AI service: %w", err)
	}
	defer func() {
		if err := aiService.Close(); err != nil {
			logger.Warn("Failed to close AI service", "error", err)
		}
	}()

	pipeline := analysis.NewPipeline(aiService, analysis.NewInterpreter(cfg.Analysis), logger, nil)

	analyzeOperation := func(ctx context.Context, input types.AnalysisRequest) (types.AnalysisReport, *ai.TokenUsage, error) {
		result, err := pipeline.Run(ctx, input)
		if err != nil {
			return types.AnalysisReport{}, nil, err
		}
		return result.Report, result.Usage, nil
	}

	err = common.RunAICommand(ctx, logger, nil, analyzeConfig, analyzeSources(args),
		createAnalysisRequest, analyzeOperation, logDetails)
	if err != nil {
		if upstream, ok := ai.AsUpstream(err); ok {
			return upstream.AppError()
		}
		return err
	}

	logger.Info("Resume analysis completed successfully")
	return nil
}
