package config

import (
	"fmt"

	"github.com/JonMunkholm/userimport/internal/core"
)

// ImportSettings converts the import section into service settings.
func (c *Config) ImportSettings() (core.Settings, error) {
	delim, err := core.ParseDelimiter(c.Import.Delimiter, core.DelimiterComma)
	if err != nil {
		return core.Settings{}, fmt.Errorf("import delimiter: %w", err)
	}
	return core.Settings{
		Reconciler: core.ReconcilerConfig{
			Locales:         core.NewLocaleSet(c.Import.Locales...),
			Zones:           core.NewZoneSet(c.Import.Timezones...),
			DefaultLocale:   c.Import.DefaultLocale,
			DefaultTimezone: c.Import.DefaultTimezone,
		},
		DefaultDelimiter: delim,
		Encoding:         c.Import.Encoding,
		RowsPerSecond:    c.Import.RowsPerSecond,
		JobTimeout:       c.Import.Timeout,
		MaxConcurrent:    c.Import.MaxConcurrent,
		MaxWait:          c.Import.MaxWaitTime,
		ResultTTL:        c.Import.ResultTTL,
	}, nil
}

// RetentionSettings converts the retention section for the scheduler.
func (c *Config) RetentionSettings() core.RetentionConfig {
	return core.RetentionConfig{
		ReportRetention:  c.Retention.ReportRetention,
		HistoryRetention: c.Retention.HistoryRetention,
		CheckInterval:    c.Retention.CheckInterval,
	}
}
