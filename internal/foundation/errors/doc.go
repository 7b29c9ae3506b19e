// Package errors provides classified error primitives used across insightsync.
//
// A ClassifiedError carries a category, a severity and a retry strategy so that the
// job manager, the HTTP client and the CLI can decide what to do with a failure
// without string matching.
//
// Key features:
//   - ErrorCategory: broad classification (config, network, remote_job, throttle, state, ...)
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - RetryStrategy: never, immediate, backoff, rate_limit, user
//   - ErrorBuilder: fluent construction with context and cause
//   - CLIErrorAdapter: exit codes and user-facing formatting
//
// Example usage:
//
//	err := errors.NetworkError("poll report run").
//		WithContext("report_run_id", id).
//		WithCause(originalErr).
//		Build()
package errors
