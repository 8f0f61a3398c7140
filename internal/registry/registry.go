package registry

import (
	"errors"
	"fmt"

	"curator/internal/workitem"
)

// Sentinel errors for the registry package.
var (
	// ErrStepAlreadyRegistered is returned when two steps claim one status.
	ErrStepAlreadyRegistered = errors.New("step already registered for status")

	// ErrUnknownStatus is returned when a step references a status outside
	// the pipeline vocabulary.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrTransitionCycle is returned when static success targets loop.
	ErrTransitionCycle = errors.New("transition cycle detected")
)

// Registry is the status → step table. Built once at startup, validated, and
// then read-only; both engines share one instance.
type Registry struct {
	steps map[workitem.Status]*Definition
	order []workitem.Status
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{steps: make(map[workitem.Status]*Definition)}
}

// Register adds a step keyed by its precondition status.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return errors.New("step definition required")
	}
	if def.Name == "" {
		return errors.New("step name required")
	}
	if def.Handler == nil {
		return fmt.Errorf("step %s: handler required", def.Name)
	}
	if _, ok := workitem.ParseStatus(string(def.Precondition)); !ok {
		return fmt.Errorf("%w: step %s precondition %q", ErrUnknownStatus, def.Name, def.Precondition)
	}
	if _, exists := r.steps[def.Precondition]; exists {
		return fmt.Errorf("%w: %s", ErrStepAlreadyRegistered, def.Precondition)
	}
	if def.Mode != ModeInline && def.Mode != ModeQueued {
		return fmt.Errorf("step %s: mode must be inline or queued", def.Name)
	}
	if def.Concurrency <= 0 {
		def.Concurrency = 1
	}
	if def.OnFailure == "" {
		def.OnFailure = def.Precondition
	}

	r.steps[def.Precondition] = def
	r.order = append(r.order, def.Precondition)
	return nil
}

// StepFor returns the step consuming the given status.
func (r *Registry) StepFor(status workitem.Status) (*Definition, bool) {
	def, ok := r.steps[status]
	return def, ok
}

// Steps returns all definitions in registration order.
func (r *Registry) Steps() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, status := range r.order {
		out = append(out, r.steps[status])
	}
	return out
}

// QueuedSteps returns the definitions executed through the job queue.
func (r *Registry) QueuedSteps() []*Definition {
	var out []*Definition
	for _, status := range r.order {
		if def := r.steps[status]; def.Mode == ModeQueued {
			out = append(out, def)
		}
	}
	return out
}

// Validate checks the whole transition table at startup: every target must be
// a known status and the static success chain must terminate. This catches
// typos that would otherwise silently strand items at runtime.
func (r *Registry) Validate() error {
	for _, status := range r.order {
		def := r.steps[status]
		if _, ok := workitem.ParseStatus(string(def.OnSuccess)); !ok {
			return fmt.Errorf("%w: step %s on_success %q", ErrUnknownStatus, def.Name, def.OnSuccess)
		}
		if _, ok := workitem.ParseStatus(string(def.OnFailure)); !ok {
			return fmt.Errorf("%w: step %s on_failure %q", ErrUnknownStatus, def.Name, def.OnFailure)
		}
	}

	// Walk static success links from every entry point; a walk longer than
	// the table means a loop.
	for _, start := range r.order {
		visited := 0
		current := start
		for {
			def, ok := r.steps[current]
			if !ok {
				break
			}
			visited++
			if visited > len(r.order) {
				return fmt.Errorf("%w: starting from %s", ErrTransitionCycle, start)
			}
			if def.OnSuccess == current {
				return fmt.Errorf("%w: step %s succeeds to its own precondition", ErrTransitionCycle, def.Name)
			}
			current = def.OnSuccess
		}
	}
	return nil
}
