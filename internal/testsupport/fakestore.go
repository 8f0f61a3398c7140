package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"curator/internal/config"
	"curator/internal/jobqueue"
	"curator/internal/workitem"
)

// FakeStore is an in-memory stand-in for the external record store. It
// implements recordstore.API for engine and step tests.
type FakeStore struct {
	mu      sync.Mutex
	items   map[string]*workitem.Item
	updates int

	// GetErr and UpdateErr, when set, are returned by the matching call.
	GetErr    error
	UpdateErr error
}

// NewFakeStore returns an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{items: make(map[string]*workitem.Item)}
}

// Add inserts a deep copy of the item.
func (f *FakeStore) Add(item *workitem.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item.Clone()
}

// NewItem creates and inserts an item with the given id, type, status, and
// field pairs.
func (f *FakeStore) NewItem(id string, typ workitem.Type, status workitem.Status, fieldPairs ...string) *workitem.Item {
	item := &workitem.Item{
		ID:     id,
		Type:   typ,
		Status: status,
		Fields: workitem.NewFields(fieldPairs...),
	}
	f.Add(item)
	return item
}

func (f *FakeStore) FindByStatus(_ context.Context, status workitem.Status, typ workitem.Type) ([]*workitem.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*workitem.Item
	for _, item := range f.items {
		if status != "" && item.Status != status {
			continue
		}
		if typ != "" && item.Type != typ {
			continue
		}
		out = append(out, item.Clone())
	}
	sortItems(out)
	return out, nil
}

func (f *FakeStore) FindActionable(context.Context) ([]*workitem.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*workitem.Item
	for _, item := range f.items {
		if workitem.Actionable(item.Status) {
			out = append(out, item.Clone())
		}
	}
	sortItems(out)
	return out, nil
}

func (f *FakeStore) Get(_ context.Context, id string) (*workitem.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("record %s not found", id)
	}
	return item.Clone(), nil
}

func (f *FakeStore) Update(_ context.Context, item *workitem.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.items[item.ID] = item.Clone()
	f.updates++
	return nil
}

func (f *FakeStore) Children(_ context.Context, parentID string) ([]*workitem.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*workitem.Item
	for _, item := range f.items {
		if item.ParentID == parentID {
			out = append(out, item.Clone())
		}
	}
	sortItems(out)
	return out, nil
}

// Item returns the current copy of an item, or nil when absent.
func (f *FakeStore) Item(id string) *workitem.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Clone()
}

// UpdateCount reports how many Update calls succeeded.
func (f *FakeStore) UpdateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func sortItems(items []*workitem.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

// MustOpenJobStore opens a jobqueue.Store for tests and registers cleanup.
func MustOpenJobStore(t testing.TB, cfg *config.Config) *jobqueue.Store {
	t.Helper()

	store, err := jobqueue.Open(cfg)
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
