package config

import (
	"log/slog"

	"git.home.luguber.info/inful/insightsync/internal/foundation/normalization"
)

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffNormalizer = normalization.NewNormalizer("retry backoff", map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
}, RetryBackoffLinear)

// ParseRetryBackoff converts user input into a typed mode. Empty input yields linear.
func ParseRetryBackoff(raw string) (RetryBackoffMode, error) {
	return retryBackoffNormalizer.Parse(raw)
}

// SplitStrategy selects how a failed report interval is broken up.
type SplitStrategy string

const (
	SplitHalve SplitStrategy = "halve"
	SplitDays  SplitStrategy = "days"
)

var splitStrategyNormalizer = normalization.NewNormalizer("split strategy", map[string]SplitStrategy{
	"halve":  SplitHalve,
	"binary": SplitHalve,
	"days":   SplitDays,
	"daily":  SplitDays,
}, SplitHalve)

// StateBackend selects the checkpoint store.
type StateBackend string

const (
	StateBackendFile   StateBackend = "file"
	StateBackendSQLite StateBackend = "sqlite"
	StateBackendNATS   StateBackend = "nats"
)

var stateBackendNormalizer = normalization.NewNormalizer("state backend", map[string]StateBackend{
	"file":   StateBackendFile,
	"json":   StateBackendFile,
	"sqlite": StateBackendSQLite,
	"nats":   StateBackendNATS,
	"kv":     StateBackendNATS,
}, StateBackendFile)

// OutputFormat selects the record sink.
type OutputFormat string

const (
	OutputJSONLines OutputFormat = "jsonl"
	OutputPostgres  OutputFormat = "postgres"
)

var outputFormatNormalizer = normalization.NewNormalizer("output format", map[string]OutputFormat{
	"jsonl":    OutputJSONLines,
	"json":     OutputJSONLines,
	"postgres": OutputPostgres,
	"pg":       OutputPostgres,
}, OutputJSONLines)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevelNormalizer = normalization.NewNormalizer("log level", map[string]LogLevel{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warn":    LogLevelWarn,
	"warning": LogLevelWarn,
	"error":   LogLevelError,
}, LogLevelInfo)

func NormalizeLogLevel(raw string) LogLevel {
	return logLevelNormalizer.Normalize(raw)
}

// SlogLevel maps the level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var logFormatNormalizer = normalization.NewNormalizer("log format", map[string]LogFormat{
	"json": LogFormatJSON,
	"text": LogFormatText,
}, LogFormatText)

func NormalizeLogFormat(raw string) LogFormat {
	return logFormatNormalizer.Normalize(raw)
}

// ReportLevel is the aggregation level of insights rows.
type ReportLevel string

const (
	LevelAd       ReportLevel = "ad"
	LevelAdSet    ReportLevel = "adset"
	LevelCampaign ReportLevel = "campaign"
	LevelAccount  ReportLevel = "account"
)

var reportLevelNormalizer = normalization.NewNormalizer("level", map[string]ReportLevel{
	"ad":       LevelAd,
	"adset":    LevelAdSet,
	"campaign": LevelCampaign,
	"account":  LevelAccount,
}, LevelAd)
