package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; connection
// settings (database, redis, temporal, storage) require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LLMRetryChanged covers both the attempt count and the backoff.
	LLMRetryChanged bool

	// RetentionChanged covers public.retention_days; public.mode itself
	// requires a restart because it decides whether the sweeper runs.
	RetentionChanged bool
	NewRetentionDays int
}

// Any reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.LLMRetryChanged || d.RetentionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.LLM.RetryAttempts != new.LLM.RetryAttempts || old.LLM.RetryBackoff != new.LLM.RetryBackoff {
		d.LLMRetryChanged = true
	}
	if old.Public.RetentionDays != new.Public.RetentionDays {
		d.RetentionChanged = true
		d.NewRetentionDays = new.Public.RetentionDays
	}
	return d
}
