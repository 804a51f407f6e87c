package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/userimport/internal/core"
)

// Load reads configuration from environment variables, applies tag defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := loadSection(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadSection fills every env-tagged field of a section struct. Config itself
// is a struct of sections, so nested structs recurse one level.
func loadSection(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			if err := loadSection(v.Field(i)); err != nil {
				return err
			}
			continue
		}
		name, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		raw, err := lookupEnv(name, field.Tag)
		if err != nil {
			return err
		}
		if raw == "" {
			continue
		}
		if err := assign(v.Field(i), raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
	}
	return nil
}

// lookupEnv resolves a field's raw value: the env var, its envAlt fallback
// (DATABASE_URL/DB_URL), then the default tag.
func lookupEnv(name string, tag reflect.StructTag) (string, error) {
	if raw := os.Getenv(name); raw != "" {
		return raw, nil
	}
	if alt := tag.Get("envAlt"); alt != "" {
		if raw := os.Getenv(alt); raw != "" {
			return raw, nil
		}
	}
	if tag.Get("required") == "true" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return tag.Get("default"), nil
}

// assign parses raw into the kinds Config uses: string, int, int64 bytes,
// time.Duration, float64, bool and comma-separated []string.
func assign(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(raw)
	case field.CanInt():
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)
	case field.CanFloat():
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case field.Type() == reflect.TypeOf([]string(nil)):
		field.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}
	if c.Import.RowsPerSecond < 0 {
		errs = append(errs, "IMPORT_ROWS_PER_SECOND must be non-negative")
	}
	if _, err := core.ParseDelimiter(c.Import.Delimiter, 0); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_DELIMITER (%q) must be one of: ',', ';', 1, 2", c.Import.Delimiter))
	}
	if !core.IsSupportedEncoding(c.Import.Encoding) {
		errs = append(errs, fmt.Sprintf("IMPORT_ENCODING (%q) is not a supported charset", c.Import.Encoding))
	}
	if len(c.Import.Locales) == 0 {
		errs = append(errs, "IMPORT_LOCALES must list at least one locale")
	} else if !core.IsKnownLocale(c.Import.DefaultLocale, core.NewLocaleSet(c.Import.Locales...)) {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_LOCALE (%q) must be one of IMPORT_LOCALES", c.Import.DefaultLocale))
	}
	if !core.IsKnownTimezone(c.Import.DefaultTimezone, core.IANAZones{}) {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_TIMEZONE (%q) is not a known time zone", c.Import.DefaultTimezone))
	} else if !core.IsKnownTimezone(c.Import.DefaultTimezone, core.NewZoneSet(c.Import.Timezones...)) {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_TIMEZONE (%q) must be one of IMPORT_TIMEZONES", c.Import.DefaultTimezone))
	}
	for _, tz := range c.Import.Timezones {
		if !core.IsKnownTimezone(tz, core.IANAZones{}) {
			errs = append(errs, fmt.Sprintf("IMPORT_TIMEZONES entry %q is not a known time zone", tz))
		}
	}
	if c.Import.ReportDir == "" {
		errs = append(errs, "IMPORT_REPORT_DIR is required")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ImportLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	// Retention validation
	if c.Retention.ReportRetention <= 0 {
		errs = append(errs, "RETENTION_REPORTS must be positive")
	}
	if c.Retention.HistoryRetention <= 0 {
		errs = append(errs, "RETENTION_HISTORY must be positive")
	}
	if c.Retention.CheckInterval <= 0 {
		errs = append(errs, "RETENTION_CHECK_INTERVAL must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Import: {MaxFileSize: %d, MaxConcurrent: %d, Delimiter: %q, Encoding: %q, Locales: %v, Timezones: %v}, ",
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.Delimiter, c.Import.Encoding, c.Import.Locales, c.Import.Timezones))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Security: {APIKeys: [%d MASKED], RequireAPIKey: %v}, ",
		len(c.Security.APIKeys), c.Security.RequireAPIKey))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
