package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"curator/internal/logging"
	"curator/internal/media/ffprobe"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/workitem"
)

// Prober extracts technical metadata from the item's local media file.
type Prober struct {
	binary string
	logger *slog.Logger
}

// NewProber constructs the probe step handler.
func NewProber(binary string, logger *slog.Logger) *Prober {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, logger: logging.NewComponentLogger(logger, "probe")}
}

func (p *Prober) Execute(ctx context.Context, item *workitem.Item) error {
	path := strings.TrimSpace(item.Fields.Get(workitem.FieldMediaPath))
	if path == "" {
		return services.Wrap(
			services.ErrValidation,
			"probe",
			"validate inputs",
			"work item has no media_path field; the import process must record where the media lives",
			nil,
		)
	}

	result, err := ffprobe.Inspect(ctx, p.binary, path)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "probe", "inspect media", "ffprobe inspection failed", err)
	}

	if seconds := result.DurationSeconds(); seconds > 0 {
		item.Fields.Set(workitem.FieldDuration, fmt.Sprintf("%.2f", seconds))
	}
	if name := result.FormatName(); name != "" {
		item.Fields.Set(workitem.FieldFormat, name)
	}
	if res := result.Resolution(); res != "" {
		item.Fields.Set(workitem.FieldResolution, res)
	}
	if strings.TrimSpace(item.Fields.Get(workitem.FieldTitle)) == "" {
		item.Fields.Set(workitem.FieldTitle, deriveTitle(path))
	}

	logging.WithContext(ctx, p.logger).Info("media probed",
		logging.String("format", item.Fields.Get(workitem.FieldFormat)),
		logging.String("resolution", item.Fields.Get(workitem.FieldResolution)),
		logging.Int("video_streams", result.VideoStreamCount()),
		logging.Int("audio_streams", result.AudioStreamCount()),
	)
	return nil
}

func (p *Prober) HealthCheck(ctx context.Context) registry.Health {
	if _, err := exec.LookPath(p.binary); err != nil {
		return registry.Unhealthy("probe", fmt.Sprintf("%s not found on PATH", p.binary))
	}
	return registry.Healthy("probe")
}

// probeBranch skips the scrape step for items without a source to fetch.
func probeBranch(item *workitem.Item) workitem.Status {
	if strings.TrimSpace(item.Fields.Get(workitem.FieldSourceURL)) == "" {
		return workitem.StatusScraped
	}
	return ""
}

// deriveTitle turns a media filename into a presentable default title.
func deriveTitle(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Untitled"
	}
	return cases.Title(language.Und).String(title)
}
