// Package config loads, normalizes, and validates cuemap settings.
//
// Settings come from repository defaults, then an optional TOML or YAML
// file, then environment variables. A .env.local or .env file in the
// working directory is loaded first so API keys can live outside the
// config file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths holds where project state and audio live.
type Paths struct {
	ProjectDB string `toml:"project_db" yaml:"project_db"`
	AssetsDir string `toml:"assets_dir" yaml:"assets_dir"`
	OutputDir string `toml:"output_dir" yaml:"output_dir"`
}

// Assembly controls multi-channel rendering.
type Assembly struct {
	SampleRate int  `toml:"sample_rate" yaml:"sample_rate"`
	BitDepth   int  `toml:"bit_depth" yaml:"bit_depth"`
	Stems      bool `toml:"stems" yaml:"stems"`
	DurationMS int  `toml:"duration_ms" yaml:"duration_ms"`
}

// History bounds the undo stack.
type History struct {
	MaxEntries int `toml:"max_entries" yaml:"max_entries"`
}

// Generation holds the audio generation service settings.
type Generation struct {
	APIURL                string  `toml:"api_url" yaml:"api_url"`
	APIKey                string  `toml:"api_key" yaml:"api_key"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	VoiceDesignModel      string  `toml:"voice_design_model" yaml:"voice_design_model"`
	TTSModel              string  `toml:"tts_model" yaml:"tts_model"`
	DefaultVoiceID        string  `toml:"default_voice_id" yaml:"default_voice_id"`
	OutputFormat          string  `toml:"output_format" yaml:"output_format"`
	PromptInfluence       float64 `toml:"prompt_influence" yaml:"prompt_influence"`
}

// Audition configures the preview server.
type Audition struct {
	Port             int     `toml:"port" yaml:"port"`
	CrossfadeSeconds float64 `toml:"crossfade_seconds" yaml:"crossfade_seconds"`
	Watch            bool    `toml:"watch" yaml:"watch"`
	DebounceMS       int     `toml:"debounce_ms" yaml:"debounce_ms"`
}

// Logging configures log output.
type Logging struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Config is the full cuemap configuration.
type Config struct {
	Paths      Paths      `toml:"paths" yaml:"paths"`
	Assembly   Assembly   `toml:"assembly" yaml:"assembly"`
	History    History    `toml:"history" yaml:"history"`
	Generation Generation `toml:"generation" yaml:"generation"`
	Audition   Audition   `toml:"audition" yaml:"audition"`
	Logging    Logging    `toml:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cuemap/config.toml")
}

// Load locates, parses, and validates a configuration file. An empty path
// searches cuemap.toml, cuemap.yaml and cuemap.yml in the working directory
// and then the per-user location. A missing file is not an error; defaults
// and environment values apply. It returns the config, the resolved path and
// whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	loadDotenv()
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// loadDotenv reads .env.local then .env. Existing variables win, so the
// first file to set a key keeps it.
func loadDotenv() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := toml.NewDecoder(file).Decode(cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	for _, name := range []string{"cuemap.toml", "cuemap.yaml", "cuemap.yml"} {
		local, err := filepath.Abs(name)
		if err != nil {
			return "", false, err
		}
		if info, err := os.Stat(local); err == nil && !info.IsDir() {
			return local, true, nil
		}
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the assets and output directories and the
// parent of the project database.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.AssetsDir, c.Paths.OutputDir, filepath.Dir(c.Paths.ProjectDB)}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CrossfadeDuration is the audition crossfade as a duration.
func (c *Config) CrossfadeDuration() time.Duration {
	return time.Duration(c.Audition.CrossfadeSeconds * float64(time.Second))
}

// RequestTimeout bounds a single generation request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Generation.RequestTimeoutSeconds) * time.Second
}

// ListenAddr is the audition server bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Audition.Port)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath applies the config path rules (tilde and absolute) to p.
func ExpandPath(p string) (string, error) {
	return expandPath(p)
}

// CreateSample writes a commented sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
