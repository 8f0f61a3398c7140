package depgate

import (
	"context"
	"testing"

	"curator/internal/testsupport"
	"curator/internal/workitem"
)

func TestChildrenAtLeast(t *testing.T) {
	store := testsupport.NewFakeStore()
	parent := store.NewItem("parent-1", workitem.TypeVideoContainer, workitem.StatusTagged)
	store.NewItem("child-1", workitem.TypeVideoSubframe, workitem.StatusTagged)
	store.NewItem("child-2", workitem.TypeVideoSubframe, workitem.StatusDescribed)
	linkChild(t, store, "child-1", parent.ID)
	linkChild(t, store, "child-2", parent.ID)

	gate := New(store)
	ctx := context.Background()

	ready, err := gate.ChildrenAtLeast(ctx, parent.ID, workitem.StatusTagged)
	if err != nil {
		t.Fatalf("children at least: %v", err)
	}
	if ready {
		t.Error("gate opened with a lagging child")
	}

	advanceChild(t, store, "child-2", workitem.StatusTagged)
	ready, err = gate.ChildrenAtLeast(ctx, parent.ID, workitem.StatusTagged)
	if err != nil {
		t.Fatalf("children at least: %v", err)
	}
	if !ready {
		t.Error("gate stayed closed with all children at threshold")
	}
}

func TestChildrenPastThresholdCount(t *testing.T) {
	store := testsupport.NewFakeStore()
	parent := store.NewItem("parent-1", workitem.TypeVideoContainer, workitem.StatusTagged)
	store.NewItem("child-1", workitem.TypeVideoSubframe, workitem.StatusCompleted)
	linkChild(t, store, "child-1", parent.ID)

	ready, err := New(store).ChildrenAtLeast(context.Background(), parent.ID, workitem.StatusTagged)
	if err != nil {
		t.Fatalf("children at least: %v", err)
	}
	if !ready {
		t.Error("completed child should satisfy a lower threshold")
	}
}

func TestReviewChildBlocks(t *testing.T) {
	store := testsupport.NewFakeStore()
	parent := store.NewItem("parent-1", workitem.TypeVideoContainer, workitem.StatusTagged)
	store.NewItem("child-1", workitem.TypeVideoSubframe, workitem.StatusReview)
	linkChild(t, store, "child-1", parent.ID)

	ready, err := New(store).ChildrenAtLeast(context.Background(), parent.ID, workitem.StatusTagged)
	if err != nil {
		t.Fatalf("children at least: %v", err)
	}
	if ready {
		t.Error("paused child should block the parent")
	}
}

func TestZeroChildrenBlocks(t *testing.T) {
	store := testsupport.NewFakeStore()
	parent := store.NewItem("parent-1", workitem.TypeVideoContainer, workitem.StatusTagged)

	ready, err := New(store).ChildrenAtLeast(context.Background(), parent.ID, workitem.StatusTagged)
	if err != nil {
		t.Fatalf("children at least: %v", err)
	}
	if ready {
		t.Error("parent with no children yet should block")
	}
}

func TestEmptyParentIDIsError(t *testing.T) {
	store := testsupport.NewFakeStore()
	if _, err := New(store).ChildrenAtLeast(context.Background(), "", workitem.StatusTagged); err == nil {
		t.Fatal("empty parent id accepted")
	}
}

func TestForContainersPassesOtherTypes(t *testing.T) {
	store := testsupport.NewFakeStore()
	gateFn := New(store).ForContainers(workitem.StatusTagged)
	ctx := context.Background()

	image := &workitem.Item{ID: "image-1", Type: workitem.TypeImage, Status: workitem.StatusTagged}
	ready, err := gateFn(ctx, image)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if !ready {
		t.Error("non-container type should pass through")
	}

	container := &workitem.Item{ID: "container-1", Type: workitem.TypeVideoContainer, Status: workitem.StatusTagged}
	ready, err = gateFn(ctx, container)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if ready {
		t.Error("childless container should block")
	}
}

func linkChild(t *testing.T, store *testsupport.FakeStore, childID, parentID string) {
	t.Helper()
	child := store.Item(childID)
	child.ParentID = parentID
	if err := store.Update(context.Background(), child); err != nil {
		t.Fatalf("link child: %v", err)
	}
}

func advanceChild(t *testing.T, store *testsupport.FakeStore, childID string, status workitem.Status) {
	t.Helper()
	child := store.Item(childID)
	child.Status = status
	if err := store.Update(context.Background(), child); err != nil {
		t.Fatalf("advance child: %v", err)
	}
}
