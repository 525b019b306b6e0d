package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides deployment secrets and toggles from the environment.
// Environment values win over the file so the same config can be shipped
// across environments with only the secrets varying.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("PUBLIC_MODE"); ok {
		cfg.Public.Mode = v == "1" || v == "true"
	}
	if v, ok := lookupInt("PUBLIC_DATA_RETENTION_DAYS"); ok {
		cfg.Public.RetentionDays = v
	}
	if v, ok := lookupInt("LLM_RETRY_ATTEMPTS"); ok {
		cfg.LLM.RetryAttempts = v
	}
	if v, ok := lookupInt("LLM_RETRY_BACKOFF_MS"); ok {
		cfg.LLM.RetryBackoff = time.Duration(v) * time.Millisecond
	}
	if v, ok := lookupInt("JOIN_GRACE_SECONDS"); ok {
		cfg.Presence.JoinGraceSeconds = v
	}

	overlay(&cfg.LLM.BaseURL, "LLM_URL")
	overlay(&cfg.LLM.APIKey, "LLM_API_KEY")
	overlay(&cfg.Transcription.BaseURL, "TRANSCRIPTION_URL")
	overlay(&cfg.Transcription.APIKey, "TRANSCRIPTION_API_KEY")
	overlay(&cfg.Diarization.BaseURL, "DIARIZATION_URL")
	overlay(&cfg.Diarization.APIKey, "DIARIZATION_API_KEY")
	overlay(&cfg.Database.DSN, "DATABASE_DSN")
	overlay(&cfg.Redis.Addr, "REDIS_ADDR")
	overlay(&cfg.Storage.AccessKeyID, "AWS_ACCESS_KEY_ID")
	overlay(&cfg.Storage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	overlay(&cfg.Storage.RoleARN, "AWS_ROLE_ARN")
	overlay(&cfg.Storage.EndpointURL, "AWS_ENDPOINT_URL")
}

func overlay(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func lookupInt(env string) (int, bool) {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric environment override", "env", env, "value", v)
		return 0, false
	}
	return n, true
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Storage credential rule: static pair XOR assumed role.
	hasPair := cfg.Storage.AccessKeyID != "" || cfg.Storage.SecretAccessKey != ""
	if hasPair && cfg.Storage.RoleARN != "" {
		errs = append(errs, errors.New("storage: access key pair and role_arn are mutually exclusive"))
	}
	if (cfg.Storage.AccessKeyID == "") != (cfg.Storage.SecretAccessKey == "") {
		errs = append(errs, errors.New("storage: access_key_id and secret_access_key must be set together"))
	}
	if cfg.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}

	if cfg.Public.Mode && cfg.Public.RetentionDays <= 0 {
		errs = append(errs, errors.New("public.retention_days must be positive when public.mode is enabled"))
	}

	if cfg.LLM.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("llm.retry_attempts %d must not be negative", cfg.LLM.RetryAttempts))
	}
	if cfg.LLM.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("llm.retry_backoff %s must not be negative", cfg.LLM.RetryBackoff))
	}
	if cfg.Presence.JoinGraceSeconds < 0 {
		errs = append(errs, fmt.Errorf("presence.join_grace_seconds %d must not be negative", cfg.Presence.JoinGraceSeconds))
	}

	// Availability warnings, not errors: degraded deployments are allowed.
	if cfg.Database.DSN == "" {
		slog.Warn("database.dsn is empty; only in-memory operation is possible")
	}
	if cfg.Transcription.BaseURL == "" {
		slog.Warn("transcription.base_url is empty; pipelines cannot transcribe")
	}
	if cfg.LLM.Name == "" {
		slog.Warn("llm provider is not configured; topics, titles, and summaries are disabled")
	}

	return errors.Join(errs...)
}
