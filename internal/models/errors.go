package models

import "errors"

// Sentinel errors for the ingestion and query pipelines. Callers classify
// failures with errors.Is; wrapped messages carry the detail.
var (
	// ErrClassificationRejected: document is out of domain. Terminal, no retry.
	ErrClassificationRejected = errors.New("document rejected by content classifier")

	// ErrParseFailed: layout parsing failed outright and the linear fallback
	// also produced nothing usable.
	ErrParseFailed = errors.New("document parse failed")

	// ErrEmbeddingTransient: embedding provider failed in a retryable way.
	ErrEmbeddingTransient = errors.New("transient embedding failure")

	// ErrIndexVerificationMismatch: written vector count does not match the
	// expected chunk count after upsert.
	ErrIndexVerificationMismatch = errors.New("index verification mismatch")

	// ErrIngestionInFlight: an ingestion for the same source is already
	// running; ingestion is single-flight per source.
	ErrIngestionInFlight = errors.New("ingestion already in flight for source")

	// ErrScopeEmpty: the question's scope resolves to zero indexed sources.
	ErrScopeEmpty = errors.New("no indexed sources in scope")

	// ErrGroundingViolation: the synthesizer produced output citing evidence
	// it was not given. Retried once, then degraded to insufficient context.
	ErrGroundingViolation = errors.New("generation grounding violation")

	// ErrSourceNotFound is returned by storage lookups.
	ErrSourceNotFound = errors.New("source not found")
)
