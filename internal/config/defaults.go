package config

const (
	defaultWorkDir      = "~/.local/share/curator/work"
	defaultThumbnailDir = "~/.local/share/curator/thumbnails"
	defaultLogDir       = "~/.local/share/curator/logs"
	defaultSocketPath   = "~/.local/share/curator/curatord.sock"

	defaultStoreTimeoutSeconds = 30
	defaultStoreRetryAttempts  = 4
	defaultStoreRetryBaseMS    = 500
	defaultStorePageSize       = 100

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMTimeoutSeconds = 60

	defaultPollInterval       = 30
	defaultMaxRunDuration     = 3600
	defaultErrorRetryInterval = 10
	defaultMaxChainDepth      = 6
	defaultStepTimeout        = 300

	defaultThumbnailWorkers = 4
	defaultDescribeWorkers  = 2
	defaultTagWorkers       = 2
	defaultClaimInterval    = 5
	defaultJobTimeout       = 600

	defaultQualityPassPercent   = 20
	defaultQualityLengthDivisor = 4
	defaultQualityLengthCap     = 25
	defaultQualityKeywordCap    = 15
	defaultQualityEntityCap     = 10
	defaultTechnicalBonus       = 5
	defaultBoilerplateCap       = 15
	defaultFallbackMinLength    = 120

	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultNotifyTimeout  = 10
	defaultNotifyErrors   = true
	defaultNotifyReview   = true
	defaultNotifyComplete = true
)

func defaultQualityKeywords() []string {
	return []string{
		"footage", "archive", "archival", "newsreel", "documentary",
		"interview", "broadcast", "rally", "protest", "election",
		"parade", "ceremony", "speech", "press conference", "aerial",
		"historic", "historical", "vintage", "wartime", "military",
	}
}

func defaultBoilerplatePhrases() []string {
	return []string{
		"stock photo", "stock footage", "royalty free", "royalty-free",
		"download now", "high quality", "hd quality", "no watermark",
		"click here", "buy now", "premium content", "sample clip",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:      defaultWorkDir,
			ThumbnailDir: defaultThumbnailDir,
			LogDir:       defaultLogDir,
			SocketPath:   defaultSocketPath,
		},
		Store: Store{
			TimeoutSeconds: defaultStoreTimeoutSeconds,
			RetryAttempts:  defaultStoreRetryAttempts,
			RetryBaseMS:    defaultStoreRetryBaseMS,
			PageSize:       defaultStorePageSize,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			MaxRunDuration:     defaultMaxRunDuration,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxChainDepth:      defaultMaxChainDepth,
			StepTimeout:        defaultStepTimeout,
		},
		Workers: Workers{
			Thumbnail:     defaultThumbnailWorkers,
			Describe:      defaultDescribeWorkers,
			Tag:           defaultTagWorkers,
			ClaimInterval: defaultClaimInterval,
			JobTimeout:    defaultJobTimeout,
		},
		Quality: Quality{
			PassPercent:        defaultQualityPassPercent,
			LengthDivisor:      defaultQualityLengthDivisor,
			LengthCap:          defaultQualityLengthCap,
			KeywordCap:         defaultQualityKeywordCap,
			EntityCap:          defaultQualityEntityCap,
			TechnicalBonus:     defaultTechnicalBonus,
			BoilerplateCap:     defaultBoilerplateCap,
			FallbackMinLength:  defaultFallbackMinLength,
			Keywords:           defaultQualityKeywords(),
			BoilerplatePhrases: defaultBoilerplatePhrases(),
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Errors:         defaultNotifyErrors,
			Review:         defaultNotifyReview,
			QueueComplete:  defaultNotifyComplete,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
