package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeLLM()
	c.normalizeWorkflow()
	c.normalizeWorkers()
	c.normalizeQuality()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.ThumbnailDir, err = expandPath(c.Paths.ThumbnailDir); err != nil {
		return fmt.Errorf("paths.thumbnail_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.BaseURL = strings.TrimRight(strings.TrimSpace(c.Store.BaseURL), "/")
	if c.Store.APIKey == "" {
		c.Store.APIKey = strings.TrimSpace(os.Getenv("CURATOR_STORE_API_KEY"))
	}
	if c.Store.TimeoutSeconds <= 0 {
		c.Store.TimeoutSeconds = defaultStoreTimeoutSeconds
	}
	if c.Store.RetryAttempts <= 0 {
		c.Store.RetryAttempts = defaultStoreRetryAttempts
	}
	if c.Store.RetryBaseMS <= 0 {
		c.Store.RetryBaseMS = defaultStoreRetryBaseMS
	}
	if c.Store.PageSize <= 0 {
		c.Store.PageSize = defaultStorePageSize
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = strings.TrimSpace(os.Getenv("CURATOR_LLM_API_KEY"))
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PollInterval < 0 {
		c.Workflow.PollInterval = defaultPollInterval
	}
	if c.Workflow.MaxRunDuration <= 0 {
		c.Workflow.MaxRunDuration = defaultMaxRunDuration
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.MaxChainDepth <= 0 {
		c.Workflow.MaxChainDepth = defaultMaxChainDepth
	}
	if c.Workflow.StepTimeout <= 0 {
		c.Workflow.StepTimeout = defaultStepTimeout
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.Thumbnail <= 0 {
		c.Workers.Thumbnail = defaultThumbnailWorkers
	}
	if c.Workers.Describe <= 0 {
		c.Workers.Describe = defaultDescribeWorkers
	}
	if c.Workers.Tag <= 0 {
		c.Workers.Tag = defaultTagWorkers
	}
	if c.Workers.ClaimInterval <= 0 {
		c.Workers.ClaimInterval = defaultClaimInterval
	}
	if c.Workers.JobTimeout <= 0 {
		c.Workers.JobTimeout = defaultJobTimeout
	}
}

func (c *Config) normalizeQuality() {
	if c.Quality.PassPercent <= 0 {
		c.Quality.PassPercent = defaultQualityPassPercent
	}
	if c.Quality.LengthDivisor <= 0 {
		c.Quality.LengthDivisor = defaultQualityLengthDivisor
	}
	if c.Quality.LengthCap <= 0 {
		c.Quality.LengthCap = defaultQualityLengthCap
	}
	if c.Quality.KeywordCap <= 0 {
		c.Quality.KeywordCap = defaultQualityKeywordCap
	}
	if c.Quality.EntityCap <= 0 {
		c.Quality.EntityCap = defaultQualityEntityCap
	}
	if c.Quality.TechnicalBonus <= 0 {
		c.Quality.TechnicalBonus = defaultTechnicalBonus
	}
	if c.Quality.BoilerplateCap <= 0 {
		c.Quality.BoilerplateCap = defaultBoilerplateCap
	}
	if c.Quality.FallbackMinLength <= 0 {
		c.Quality.FallbackMinLength = defaultFallbackMinLength
	}
	if len(c.Quality.Keywords) == 0 {
		c.Quality.Keywords = defaultQualityKeywords()
	}
	if len(c.Quality.BoilerplatePhrases) == 0 {
		c.Quality.BoilerplatePhrases = defaultBoilerplatePhrases()
	}
}

func (c *Config) normalizeLogging() {
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Abs(path)
}
