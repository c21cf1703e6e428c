package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnv overlays environment variables on file values.
func (c *Config) applyEnv() {
	c.Paths.ProjectDB = envStr("CUEMAP_PROJECT_DB", c.Paths.ProjectDB)
	c.Paths.AssetsDir = envStr("CUEMAP_ASSETS_DIR", c.Paths.AssetsDir)
	c.Paths.OutputDir = envStr("CUEMAP_OUTPUT_DIR", c.Paths.OutputDir)

	c.Assembly.SampleRate = envInt("CUEMAP_SAMPLE_RATE", c.Assembly.SampleRate)
	c.Assembly.DurationMS = envInt("CUEMAP_DURATION_MS", c.Assembly.DurationMS)
	c.History.MaxEntries = envInt("CUEMAP_HISTORY_MAX", c.History.MaxEntries)

	c.Generation.APIURL = envStr("ELEVENLABS_API_URL", c.Generation.APIURL)
	c.Generation.APIKey = envStr("ELEVENLABS_API_KEY", c.Generation.APIKey)
	c.Generation.PromptInfluence = envFloat("CUEMAP_PROMPT_INFLUENCE", c.Generation.PromptInfluence)

	c.Audition.Port = envInt("CUEMAP_PORT", c.Audition.Port)
	c.Audition.CrossfadeSeconds = envFloat("CUEMAP_CROSSFADE_SECONDS", c.Audition.CrossfadeSeconds)

	c.Logging.Level = envStr("CUEMAP_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envStr("CUEMAP_LOG_FORMAT", c.Logging.Format)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.ProjectDB, err = expandPath(c.Paths.ProjectDB); err != nil {
		return fmt.Errorf("paths.project_db: %w", err)
	}
	if c.Paths.AssetsDir, err = expandPath(c.Paths.AssetsDir); err != nil {
		return fmt.Errorf("paths.assets_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}

	c.Generation.APIURL = strings.TrimRight(strings.TrimSpace(c.Generation.APIURL), "/")
	if c.Generation.APIURL == "" {
		c.Generation.APIURL = defaultAPIURL
	}
	c.Generation.APIKey = strings.TrimSpace(c.Generation.APIKey)
	if strings.TrimSpace(c.Generation.DefaultVoiceID) == "" {
		c.Generation.DefaultVoiceID = defaultVoiceID
	}
	if c.Assembly.DurationMS < 0 {
		c.Assembly.DurationMS = 0
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
