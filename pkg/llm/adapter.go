package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/retry"
)

// Validatable lets response types reject structurally valid JSON whose
// content violates their own constraints.
type Validatable interface {
	Validate() error
}

// AskOptions tunes one typed request.
type AskOptions struct {
	Temperature float64
	MaxAttempts int // transport retries; defaults to 3
}

// Ask sends the prompt and parses the response into T.
//
// Transport failures are retried with backoff up to MaxAttempts. A response
// that parses but violates the expected shape gets exactly one re-ask with
// the parse failure appended to the prompt; a second violation surfaces
// apperrors.ErrLLMSchemaViolation.
func Ask[T any](ctx context.Context, client ChatClient, logger *zap.Logger, systemMessage, prompt string, opts AskOptions) (T, error) {
	var zero T

	if client == nil {
		return zero, fmt.Errorf("no llm client configured: %w", apperrors.ErrLLMUnavailable)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = maxAttempts - 1

	result, err := askOnce[T](ctx, client, retryCfg, systemMessage, prompt, opts.Temperature)
	if err == nil {
		return result, nil
	}

	var schemaErr *Error
	if GetErrorType(err) != ErrorTypeSchema {
		return zero, err
	}
	schemaErr = ClassifyError(err)

	logger.Warn("LLM response violated expected shape, re-asking once",
		zap.String("model", client.GetModel()),
		zap.Error(schemaErr))

	reprompt := fmt.Sprintf("%s\n\nYour previous response could not be parsed: %s\nReturn ONLY valid JSON matching the requested structure.",
		prompt, schemaErr.Message)

	result, err = askOnce[T](ctx, client, retryCfg, systemMessage, reprompt, opts.Temperature)
	if err != nil {
		if GetErrorType(err) == ErrorTypeSchema {
			return zero, fmt.Errorf("%v: %w", err, apperrors.ErrLLMSchemaViolation)
		}
		return zero, err
	}
	return result, nil
}

func askOnce[T any](ctx context.Context, client ChatClient, retryCfg *retry.Config, systemMessage, prompt string, temperature float64) (T, error) {
	var zero T

	var response string
	err := retry.DoIfRetryable(ctx, retryCfg, func() error {
		var genErr error
		response, genErr = client.GenerateResponse(ctx, prompt, systemMessage, temperature)
		return genErr
	})
	if err != nil {
		if IsRetryable(err) {
			return zero, fmt.Errorf("%v: %w", err, apperrors.ErrLLMUnavailable)
		}
		return zero, err
	}

	result, err := ParseJSONResponse[T](response)
	if err != nil {
		return zero, NewError(ErrorTypeSchema, err.Error(), false, err)
	}

	if v, ok := any(&result).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return zero, NewError(ErrorTypeSchema, err.Error(), false, err)
		}
	}

	return result, nil
}
