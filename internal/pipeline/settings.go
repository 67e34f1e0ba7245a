package pipeline

import (
	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/retry"
)

// IdeaTitleScope is the embedding scope holding idea titles.
const IdeaTitleScope = "idea_title"

// Settings is the explicit configuration handed to every processor.
type Settings struct {
	TopK               int
	DuplicateThreshold float64
	WarnThreshold      float64
	KnownTitlesWindow  int
	IdeasPerRequest    int
	MinDraftWords      int
	Agents             config.AgentsConfig
	Retry              retry.Config
}

// SettingsFromConfig derives processor settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		TopK:               cfg.Retrieval.TopK,
		DuplicateThreshold: cfg.Pipeline.DuplicateThreshold,
		WarnThreshold:      cfg.Pipeline.WarnThreshold,
		KnownTitlesWindow:  cfg.Pipeline.KnownTitlesWindow,
		IdeasPerRequest:    cfg.Pipeline.IdeasPerRequest,
		MinDraftWords:      cfg.Pipeline.MinDraftWords,
		Agents:             cfg.Pipeline.Agents,
		Retry: retry.Config{
			MaxAttempts:    cfg.LLM.MaxAttempts,
			BaseDelay:      cfg.LLM.RetryBaseDelay,
			JitterPercent:  10,
			AttemptTimeout: cfg.LLM.CallTimeout,
		},
	}
}
