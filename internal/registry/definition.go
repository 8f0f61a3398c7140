package registry

import (
	"context"
	"time"

	"curator/internal/workitem"
)

// Mode selects a step's execution strategy.
type Mode string

const (
	// ModeInline steps run synchronously inside a poll cycle.
	ModeInline Mode = "inline"
	// ModeQueued steps are enqueued to a named queue for worker-pool execution.
	ModeQueued Mode = "queued"
)

// Handler is the processor contract for a registered step. Side effects must
// be durably complete before Execute returns nil; the engines advance status
// only afterwards.
type Handler interface {
	Execute(ctx context.Context, item *workitem.Item) error
	HealthCheck(ctx context.Context) Health
}

// BranchFunc computes the success target at run time from the item's current
// fields. A nil result falls back to the step's static OnSuccess.
type BranchFunc func(item *workitem.Item) workitem.Status

// GateFunc decides whether a step may run for an item this cycle. Used for
// parent/child dependency gating; a false result defers without error.
type GateFunc func(ctx context.Context, item *workitem.Item) (bool, error)

// Definition describes one registered step.
type Definition struct {
	// Name identifies the step and, for queued steps, its queue.
	Name string
	// Precondition is the status this step consumes.
	Precondition workitem.Status
	// OnSuccess is the static advancement target; Branch overrides it.
	OnSuccess workitem.Status
	// OnFailure is where a failed execution leaves the item. Equal to
	// Precondition means "retry next cycle".
	OnFailure workitem.Status
	// Mode selects inline or queued execution.
	Mode Mode
	// Concurrency caps simultaneous executions within one poll cycle
	// (inline) or sizes the worker pool (queued).
	Concurrency int
	// Timeout is the wall-clock budget per invocation.
	Timeout time.Duration

	Branch  BranchFunc
	Gate    GateFunc
	Handler Handler
}

// SuccessTarget resolves the post-success status for an item, consulting the
// branch decision when one is attached.
func (d *Definition) SuccessTarget(item *workitem.Item) workitem.Status {
	if d.Branch != nil {
		if target := d.Branch(item); target != "" {
			return target
		}
	}
	return d.OnSuccess
}

// RetriesInPlace reports whether a failure leaves the item at its current
// status for the next cycle.
func (d *Definition) RetriesInPlace() bool {
	return d.OnFailure == d.Precondition
}

// Health describes a step's readiness.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy builds a ready Health for the named step.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy builds a not-ready Health with an operator-facing detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
