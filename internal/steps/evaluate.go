package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"curator/internal/logging"
	"curator/internal/quality"
	"curator/internal/registry"
	"curator/internal/workitem"
)

// QualityEvaluator runs the metadata quality rubric and records the verdict
// on the item. The branch func routes failing items to review.
type QualityEvaluator struct {
	eval   *quality.Evaluator
	logger *slog.Logger
}

// NewQualityEvaluator constructs the evaluate step handler.
func NewQualityEvaluator(eval *quality.Evaluator, logger *slog.Logger) *QualityEvaluator {
	return &QualityEvaluator{eval: eval, logger: logging.NewComponentLogger(logger, "evaluate")}
}

func (q *QualityEvaluator) Execute(ctx context.Context, item *workitem.Item) error {
	result := q.eval.Evaluate(item.Fields)

	item.Fields.Set(workitem.FieldQualityScore, fmt.Sprintf("%d/%d", result.Score, result.MaxScore))
	item.Fields.Set(workitem.FieldQualityPassed, strconv.FormatBool(result.Passed))
	if !result.Passed {
		item.AppendAudit("evaluate", fmt.Sprintf("metadata quality below threshold (%d/%d): %s",
			result.Score, result.MaxScore, strings.Join(result.Reasons, "; ")))
	}

	logging.WithContext(ctx, q.logger).Info("metadata evaluated",
		logging.Int("score", result.Score),
		logging.Int("max_score", result.MaxScore),
		logging.Bool("passed", result.Passed),
	)
	return nil
}

func (q *QualityEvaluator) HealthCheck(ctx context.Context) registry.Health {
	return registry.Healthy("evaluate")
}

// evaluateBranch routes the quality verdict: failures pause for operator
// input, passing audio skips the thumbnail step.
func evaluateBranch(item *workitem.Item) workitem.Status {
	if item.Fields.Get(workitem.FieldQualityPassed) != "true" {
		return workitem.StatusReview
	}
	if item.Type == workitem.TypeAudio {
		return workitem.StatusThumbnailed
	}
	return ""
}
