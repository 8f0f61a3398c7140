package workitem

import (
	"strings"
	"time"
)

// Type identifies the media class of a work item.
type Type string

const (
	TypeImage          Type = "image"
	TypeVideoContainer Type = "video-container"
	TypeVideoSubframe  Type = "video-subframe"
	TypeAudio          Type = "audio"
)

var knownTypes = map[Type]struct{}{
	TypeImage:          {},
	TypeVideoContainer: {},
	TypeVideoSubframe:  {},
	TypeAudio:          {},
}

// ParseType converts a string into a known Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	_, ok := knownTypes[normalized]
	return normalized, ok
}

// Status represents a work item's position in the pipeline. Only at-rest
// positions are modeled; a status changes exactly once per successful step.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProbed      Status = "probed"
	StatusScraped     Status = "scraped"
	StatusEvaluated   Status = "evaluated"
	StatusThumbnailed Status = "thumbnailed"
	StatusDescribed   Status = "described"
	StatusTagged      Status = "tagged"
	StatusCompleted   Status = "completed"

	// StatusReview pauses an item for operator input. Paused, not terminal:
	// a human or external trigger resets it, the engines never advance it.
	StatusReview Status = "review"

	// StatusFailed marks an unrecoverable terminal error.
	StatusFailed Status = "failed"
)

// progression is the ordered advancement sequence. Ordinal positions feed the
// dependency gate's children-complete comparison.
var progression = []Status{
	StatusPending,
	StatusProbed,
	StatusScraped,
	StatusEvaluated,
	StatusThumbnailed,
	StatusDescribed,
	StatusTagged,
	StatusCompleted,
}

var ordinals = func() map[Status]int {
	m := make(map[Status]int, len(progression))
	for i, status := range progression {
		m[status] = i
	}
	return m
}()

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(progression)+2)
	for _, status := range progression {
		set[status] = struct{}{}
	}
	set[StatusReview] = struct{}{}
	set[StatusFailed] = struct{}{}
	return set
}()

// AllStatuses returns the ordered progression plus the paused and failed states.
func AllStatuses() []Status {
	cp := make([]Status, 0, len(progression)+2)
	cp = append(cp, progression...)
	cp = append(cp, StatusReview, StatusFailed)
	return cp
}

// Progression returns the ordered advancement sequence.
func Progression() []Status {
	cp := make([]Status, len(progression))
	copy(cp, progression)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Ordinal returns the position of a status in the progression. Review and
// failed have no ordinal.
func Ordinal(status Status) (int, bool) {
	ord, ok := ordinals[status]
	return ord, ok
}

// AtLeast reports whether status has reached threshold in the progression.
// Completed items count as past every threshold; review and failed never do.
func AtLeast(status, threshold Status) bool {
	ord, ok := ordinals[status]
	if !ok {
		return false
	}
	want, ok := ordinals[threshold]
	if !ok {
		return false
	}
	return ord >= want
}

// IsTerminal reports whether the engines should leave the item alone for good.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// IsPaused reports whether the item is waiting on operator input.
func IsPaused(status Status) bool {
	return status == StatusReview
}

// Actionable reports whether either engine may pick up an item at this status.
// Unknown statuses are treated as terminal and ignored.
func Actionable(status Status) bool {
	if _, known := statusSet[status]; !known {
		return false
	}
	return !IsTerminal(status) && !IsPaused(status)
}

// Item mirrors a record in the external store. The orchestrator never owns
// item state; it mutates status and fields through the record store only.
type Item struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`
	ParentID  string    `json:"parent_id,omitempty"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Fields = i.Fields.Clone()
	return &cp
}

// Description returns the accumulated descriptive text field.
func (i *Item) Description() string {
	return i.Fields.Get(FieldDescription)
}

// SourceURL returns the optional scrape source for this item.
func (i *Item) SourceURL() string {
	return strings.TrimSpace(i.Fields.Get(FieldSourceURL))
}
