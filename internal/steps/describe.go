package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/services/llm"
	"curator/internal/workitem"
)

// Completer is the LLM surface the describe and tag steps depend on. The
// production client implements it; tests substitute canned responses.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	HealthCheck(ctx context.Context) error
}

const describeSystemPrompt = `You are an archivist writing catalog descriptions for a media archive.
Given the known metadata for one media item, write a factual one-paragraph
description of 2 to 4 sentences. Do not invent facts not supported by the
metadata. Respond with JSON only: {"description": "..."}`

// Describer asks the language model for a catalog description.
type Describer struct {
	client Completer
	logger *slog.Logger
}

// NewDescriber constructs the describe step handler.
func NewDescriber(client Completer, logger *slog.Logger) *Describer {
	return &Describer{client: client, logger: logging.NewComponentLogger(logger, "describe")}
}

func (d *Describer) Execute(ctx context.Context, item *workitem.Item) error {
	content, err := d.client.CompleteJSON(ctx, describeSystemPrompt, metadataPrompt(item))
	if err != nil {
		return services.Wrap(services.ErrTransient, "describe", "complete", "description request failed", err)
	}

	var parsed struct {
		Description string `json:"description"`
	}
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return services.Wrap(services.ErrTransient, "describe", "parse response", "model returned unparseable payload", err)
	}
	description := strings.TrimSpace(parsed.Description)
	if description == "" {
		return services.Wrap(services.ErrTransient, "describe", "parse response", "model returned an empty description", nil)
	}

	item.Fields.Set(workitem.FieldDescription, description)
	logging.WithContext(ctx, d.logger).Info("description generated",
		logging.Int("length", len(description)),
	)
	return nil
}

func (d *Describer) HealthCheck(ctx context.Context) registry.Health {
	if err := d.client.HealthCheck(ctx); err != nil {
		return registry.Unhealthy("describe", err.Error())
	}
	return registry.Healthy("describe")
}

// metadataPrompt renders the item's known fields as the user message. The
// audit log is excluded; it is operational noise, not catalog metadata.
func metadataPrompt(item *workitem.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "type: %s\n", item.Type)
	for _, name := range item.Fields.Names() {
		if name == workitem.FieldAuditLog {
			continue
		}
		if value := strings.TrimSpace(item.Fields.Get(name)); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, value)
		}
	}
	return b.String()
}
