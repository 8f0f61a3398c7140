package services

import (
	"context"
	"errors"
	"testing"
)

func TestWrapPreservesMarker(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	err := Wrap(ErrTransient, "scrape", "fetch source", "source fetch failed", inner)
	if !errors.Is(err, ErrTransient) {
		t.Error("marker lost")
	}
	if !errors.Is(err, inner) {
		t.Error("inner error lost")
	}

	noMarker := Wrap(nil, "scrape", "fetch source", "source fetch failed", nil)
	if !errors.Is(noMarker, ErrTransient) {
		t.Error("nil marker should default to transient")
	}
}

func TestNeedsReview(t *testing.T) {
	cases := []struct {
		marker error
		want   bool
	}{
		{ErrValidation, true},
		{ErrConfiguration, true},
		{ErrNotFound, true},
		{ErrTransient, false},
		{ErrTimeout, false},
		{ErrExternalTool, false},
		{ErrAuthExpired, false},
	}
	for _, tc := range cases {
		err := Wrap(tc.marker, "step", "op", "message", nil)
		if got := NeedsReview(err); got != tc.want {
			t.Errorf("NeedsReview(%v) = %v, want %v", tc.marker, got, tc.want)
		}
	}
	if NeedsReview(errors.New("plain")) {
		t.Error("plain error flagged for review")
	}
}

func TestDetailsOfStripsMarkerPrefix(t *testing.T) {
	err := Wrap(ErrValidation, "probe", "validate inputs", "media_path missing", nil)
	details := DetailsOf(err)
	if details.Message != "probe: validate inputs: media_path missing" {
		t.Errorf("message = %q", details.Message)
	}
	if DetailsOf(nil).Message != "" {
		t.Error("nil error produced a message")
	}
}

func TestWrapWithEmptyParts(t *testing.T) {
	err := Wrap(ErrTransient, "", "", "", nil)
	if DetailsOf(err).Message != "service failure" {
		t.Errorf("message = %q", DetailsOf(err).Message)
	}
}

func TestContextAnnotations(t *testing.T) {
	ctx := context.Background()

	if _, ok := ItemIDFromContext(ctx); ok {
		t.Error("empty context reported an item id")
	}

	ctx = WithItemID(ctx, "item-1")
	ctx = WithStep(ctx, "probe")
	ctx = WithRequestID(ctx, "req-1")

	if id, ok := ItemIDFromContext(ctx); !ok || id != "item-1" {
		t.Errorf("item id = %q, %v", id, ok)
	}
	if step, ok := StepFromContext(ctx); !ok || step != "probe" {
		t.Errorf("step = %q, %v", step, ok)
	}
	if rid, ok := RequestIDFromContext(ctx); !ok || rid != "req-1" {
		t.Errorf("request id = %q, %v", rid, ok)
	}

	// Empty values do not overwrite.
	if same := WithItemID(ctx, ""); same != ctx {
		t.Error("empty item id created a new context")
	}
}
