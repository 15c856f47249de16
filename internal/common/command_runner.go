package common

import (
	"context"
	"fmt"

	"resumealign/internal/ai"
	"resumealign/internal/errors"
	"resumealign/internal/observability"
)

// CreateInputFunc builds the operation input from the loaded document texts.
type CreateInputFunc[Input any] func(contents []string) (Input, error)

// LogDetailsFunc defines how to log the start of an operation.
type LogDetailsFunc[Input any] func(input Input, cfg CommandConfig)

// AIOperationFunc is a generic function signature for any AI operation with context and token usage.
type AIOperationFunc[Input, Output any] func(context.Context, Input) (Output, *ai.TokenUsage, error)

// RunAICommand loads the documents, runs the operation, reports token
// usage and writes the formatted output.
func RunAICommand[Input, Output any](
	ctx context.Context,
	logger *errors.Logger,
	metrics *observability.Metrics,
	cmdConfig CommandConfig,
	sources []DocumentSource,
	createInput CreateInputFunc[Input],
	aiOperation AIOperationFunc[Input, Output],
	logDetails LogDetailsFunc[Input],
) error {
	fileProcessor := NewFileProcessor(logger, cmdConfig.MaxFileSize, metrics)
	outputHandler := NewOutputHandler(logger)

	contents, err := fileProcessor.LoadDocuments(ctx, sources...)
	if err != nil {
		return err
	}

	input, err := createInput(contents)
	if err != nil {
		return fmt.Errorf("failed to create input from file contents: %w", err)
	}

	if logDetails != nil {
		logDetails(input, cmdConfig)
	}

	result, tokenUsage, err := aiOperation(ctx, input)
	if err != nil {
		return err
	}

	logTokenUsage(logger, tokenUsage)

	return outputHandler.HandleOutput(result, cmdConfig)
}

// logTokenUsage reports usage when the operation called a provider. Dry
// runs return no usage.
func logTokenUsage(logger *errors.Logger, usage *ai.TokenUsage) {
	if usage == nil || logger == nil {
		return
	}
	logger.Info("AI token usage",
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"total_tokens", usage.TotalTokens)
}
