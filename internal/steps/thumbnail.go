package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/workitem"
)

// Thumbnailer renders a preview image for the item with ffmpeg. Videos get a
// representative frame, images get a scaled copy.
type Thumbnailer struct {
	binary string
	outDir string
	logger *slog.Logger
}

// NewThumbnailer constructs the thumbnail step handler.
func NewThumbnailer(binary, outDir string, logger *slog.Logger) *Thumbnailer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Thumbnailer{binary: binary, outDir: outDir, logger: logging.NewComponentLogger(logger, "thumbnail")}
}

func (t *Thumbnailer) Execute(ctx context.Context, item *workitem.Item) error {
	path := strings.TrimSpace(item.Fields.Get(workitem.FieldMediaPath))
	if path == "" {
		return services.Wrap(
			services.ErrValidation,
			"thumbnail",
			"validate inputs",
			"work item has no media_path field",
			nil,
		)
	}
	if err := os.MkdirAll(t.outDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "thumbnail", "prepare output dir",
			fmt.Sprintf("cannot create thumbnail directory %s", t.outDir), err)
	}

	output := filepath.Join(t.outDir, item.ID+".jpg")
	args := t.renderArgs(item, path, output)
	cmd := exec.CommandContext(ctx, t.binary, args...)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExternalTool, "thumbnail", "render",
			fmt.Sprintf("ffmpeg failed: %s", strings.TrimSpace(string(combined))), err)
	}

	item.Fields.Set(workitem.FieldThumbnail, output)
	logging.WithContext(ctx, t.logger).Info("thumbnail rendered",
		logging.String("output", output),
	)
	return nil
}

// renderArgs picks the ffmpeg invocation for the item's media class. Video
// seeks a quarter of the way in so the frame is past any title card.
func (t *Thumbnailer) renderArgs(item *workitem.Item, input, output string) []string {
	args := []string{"-v", "error", "-y"}
	if item.Type != workitem.TypeImage {
		if seconds, err := strconv.ParseFloat(item.Fields.Get(workitem.FieldDuration), 64); err == nil && seconds > 0 {
			args = append(args, "-ss", fmt.Sprintf("%.2f", seconds/4))
		}
	}
	args = append(args, "-i", input, "-frames:v", "1", "-vf", "scale=640:-2", output)
	return args
}

func (t *Thumbnailer) HealthCheck(ctx context.Context) registry.Health {
	if _, err := exec.LookPath(t.binary); err != nil {
		return registry.Unhealthy("thumbnail", fmt.Sprintf("%s not found on PATH", t.binary))
	}
	return registry.Healthy("thumbnail")
}
