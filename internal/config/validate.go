package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Paths.AssetsDir == "" {
		return errors.New("paths.assets_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Assembly.SampleRate < 8000 {
		return fmt.Errorf("assembly.sample_rate must be at least 8000, got %d", c.Assembly.SampleRate)
	}
	if c.Assembly.BitDepth != 16 {
		return fmt.Errorf("assembly.bit_depth must be 16, got %d", c.Assembly.BitDepth)
	}
	if c.History.MaxEntries < 1 {
		return errors.New("history.max_entries must be positive")
	}
	if c.Generation.RequestTimeoutSeconds <= 0 {
		return errors.New("generation.request_timeout_seconds must be positive")
	}
	if c.Generation.PromptInfluence < 0 || c.Generation.PromptInfluence > 1 {
		return errors.New("generation.prompt_influence must be between 0 and 1")
	}
	if c.Audition.Port <= 0 || c.Audition.Port > 65535 {
		return fmt.Errorf("audition.port out of range: %d", c.Audition.Port)
	}
	if c.Audition.CrossfadeSeconds < 0 {
		return errors.New("audition.crossfade_seconds must not be negative")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
