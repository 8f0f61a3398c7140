package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and daemon socket configuration.
type Paths struct {
	WorkDir      string `toml:"work_dir"`
	ThumbnailDir string `toml:"thumbnail_dir"`
	LogDir       string `toml:"log_dir"`
	SocketPath   string `toml:"socket_path"`
}

// Store contains configuration for the external record store API.
type Store struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
	RetryBaseMS    int    `toml:"retry_base_ms"`
	PageSize       int    `toml:"page_size"`
}

// LLM contains shared connection settings for AI description and tagging.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains poll engine timing and chaining limits.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	MaxRunDuration     int `toml:"max_run_duration"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MaxChainDepth      int `toml:"max_chain_depth"`
	StepTimeout        int `toml:"step_timeout"`
}

// Workers contains worker pool sizes for queued steps and claim cadence.
type Workers struct {
	Thumbnail     int `toml:"thumbnail"`
	Describe      int `toml:"describe"`
	Tag           int `toml:"tag"`
	ClaimInterval int `toml:"claim_interval"`
	JobTimeout    int `toml:"job_timeout"`
}

// Quality contains the metadata quality rubric. The keyword lists and
// thresholds were tuned against real archive descriptions; treat them as
// product data rather than code.
type Quality struct {
	PassPercent        int      `toml:"pass_percent"`
	LengthDivisor      int      `toml:"length_divisor"`
	LengthCap          int      `toml:"length_cap"`
	KeywordCap         int      `toml:"keyword_cap"`
	EntityCap          int      `toml:"entity_cap"`
	TechnicalBonus     int      `toml:"technical_bonus"`
	BoilerplateCap     int      `toml:"boilerplate_cap"`
	FallbackMinLength  int      `toml:"fallback_min_length"`
	Keywords           []string `toml:"keywords"`
	BoilerplatePhrases []string `toml:"boilerplate_phrases"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Errors         bool   `toml:"errors"`
	Review         bool   `toml:"review"`
	QueueComplete  bool   `toml:"queue_complete"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for curator.
//
// Configuration sections by subsystem:
//   - Paths: working directories and the daemon control socket
//   - Store: external record store connection and retry policy
//   - LLM: shared connection settings for AI description and tagging
//   - Workflow: poll engine intervals, chaining, and timeouts
//   - Workers: queued-step worker pool sizes
//   - Quality: metadata quality rubric (tuned data, kept out of code)
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	LLM           LLM           `toml:"llm"`
	Workflow      Workflow      `toml:"workflow"`
	Workers       Workers       `toml:"workers"`
	Quality       Quality       `toml:"quality"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
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
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("curator.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// CreateSample writes the embedded sample configuration to the given path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories curator needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.ThumbnailDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
