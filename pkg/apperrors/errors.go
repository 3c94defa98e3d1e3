// Package apperrors defines the sentinel error kinds shared across the engine.
package apperrors

import "errors"

var (
	// ErrNotFound is returned when a schema, KG, ruleset, KPI, or execution
	// does not exist. Reported directly to the caller, never retried.
	ErrNotFound = errors.New("not found")

	// ErrInputInvalid is returned when a request or descriptor fails
	// structural validation. Never retried.
	ErrInputInvalid = errors.New("input invalid")

	// ErrSchemaInvalid is returned when a schema descriptor fails structural
	// checks. Wraps per-field reasons.
	ErrSchemaInvalid = errors.New("schema invalid")

	// ErrLLMUnavailable signals the LLM endpoint could not be reached within
	// the adapter's budget. Callers fall back to rule-based logic.
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrLLMSchemaViolation signals the LLM returned output that does not
	// conform to the declared response shape after one re-ask.
	ErrLLMSchemaViolation = errors.New("llm schema violation")

	// ErrConflict is returned on compare-and-set failures (cache-flag updates).
	ErrConflict = errors.New("conflict")

	// ErrInvariant marks a breach of a data-model invariant. Treated as a
	// fatal bug and logged with full context.
	ErrInvariant = errors.New("invariant violation")
)
