package steps

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"curator/internal/logging"
	"curator/internal/recordstore"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/workitem"
)

// Finalizer completes an item. For video containers it rolls child metadata
// up onto the parent; the registry gate guarantees every child has already
// been tagged by the time this runs.
type Finalizer struct {
	store  recordstore.API
	logger *slog.Logger
}

// NewFinalizer constructs the finalize step handler.
func NewFinalizer(store recordstore.API, logger *slog.Logger) *Finalizer {
	return &Finalizer{store: store, logger: logging.NewComponentLogger(logger, "finalize")}
}

func (f *Finalizer) Execute(ctx context.Context, item *workitem.Item) error {
	if item.Type != workitem.TypeVideoContainer {
		logging.WithContext(ctx, f.logger).Info("item finalized")
		return nil
	}

	children, err := f.store.Children(ctx, item.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "finalize", "list children", "child lookup failed", err)
	}

	item.Fields.Set(workitem.FieldChildCount, strconv.Itoa(len(children)))
	if strings.TrimSpace(item.Fields.Get(workitem.FieldTags)) == "" {
		if rolled := rollUpTags(children); rolled != "" {
			item.Fields.Set(workitem.FieldTags, rolled)
		}
	}

	logging.WithContext(ctx, f.logger).Info("container finalized",
		logging.Int("children", len(children)),
	)
	return nil
}

func (f *Finalizer) HealthCheck(ctx context.Context) registry.Health {
	return registry.Healthy("finalize")
}

// rollUpTags merges the children's tag lists, preserving first-seen order.
func rollUpTags(children []*workitem.Item) string {
	seen := make(map[string]struct{})
	var merged []string
	for _, child := range children {
		for _, tag := range strings.Split(child.Fields.Get(workitem.FieldTags), ",") {
			cleaned := strings.ToLower(strings.TrimSpace(tag))
			if cleaned == "" {
				continue
			}
			if _, dup := seen[cleaned]; dup {
				continue
			}
			seen[cleaned] = struct{}{}
			merged = append(merged, cleaned)
			if len(merged) == maxTags {
				return strings.Join(merged, ", ")
			}
		}
	}
	return strings.Join(merged, ", ")
}
