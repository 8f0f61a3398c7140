package steps

import (
	"context"
	"log/slog"
	"strings"

	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/services/llm"
	"curator/internal/workitem"
)

const tagSystemPrompt = `You are an archivist assigning index tags in a media archive.
Given the known metadata for one media item, produce 3 to 8 short lowercase
tags capturing its subject, setting, and format. Use only facts supported by
the metadata. Respond with JSON only: {"tags": ["...", "..."]}`

const maxTags = 8

// Tagger asks the language model for index tags.
type Tagger struct {
	client Completer
	logger *slog.Logger
}

// NewTagger constructs the tag step handler.
func NewTagger(client Completer, logger *slog.Logger) *Tagger {
	return &Tagger{client: client, logger: logging.NewComponentLogger(logger, "tag")}
}

func (t *Tagger) Execute(ctx context.Context, item *workitem.Item) error {
	content, err := t.client.CompleteJSON(ctx, tagSystemPrompt, metadataPrompt(item))
	if err != nil {
		return services.Wrap(services.ErrTransient, "tag", "complete", "tag request failed", err)
	}

	var parsed struct {
		Tags []string `json:"tags"`
	}
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return services.Wrap(services.ErrTransient, "tag", "parse response", "model returned unparseable payload", err)
	}

	tags := normalizeTags(parsed.Tags)
	if len(tags) == 0 {
		return services.Wrap(services.ErrTransient, "tag", "parse response", "model returned no usable tags", nil)
	}

	item.Fields.Set(workitem.FieldTags, strings.Join(tags, ", "))
	logging.WithContext(ctx, t.logger).Info("tags generated",
		logging.Int("count", len(tags)),
	)
	return nil
}

func (t *Tagger) HealthCheck(ctx context.Context) registry.Health {
	if err := t.client.HealthCheck(ctx); err != nil {
		return registry.Unhealthy("tag", err.Error())
	}
	return registry.Healthy("tag")
}

// normalizeTags lowercases, trims, and deduplicates model output.
func normalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var tags []string
	for _, tag := range raw {
		cleaned := strings.ToLower(strings.Join(strings.Fields(tag), " "))
		if cleaned == "" {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		tags = append(tags, cleaned)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}
