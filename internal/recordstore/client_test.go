package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"curator/internal/config"
	"curator/internal/services"
	"curator/internal/workitem"
)

// storeServer is a minimal in-process record store for client tests. Session
// tokens are sequential so tests can assert refresh behavior.
type storeServer struct {
	sessions int32
	items    []*workitem.Item

	// rejectToken causes authenticated requests bearing this token to 401.
	rejectToken string
}

func newStoreServer(items ...*workitem.Item) *storeServer {
	return &storeServer{items: items}
}

func (s *storeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&s.sessions, 1)
		json.NewEncoder(w).Encode(map[string]any{"token": fmt.Sprintf("token-%d", n)})
	})
	mux.HandleFunc("GET /api/records", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := offset + limit
		if end > len(s.items) {
			end = len(s.items)
		}
		page := []*workitem.Item{}
		if offset < len(s.items) {
			page = s.items[offset:end]
		}
		json.NewEncoder(w).Encode(map[string]any{"records": page, "total": len(s.items)})
	})
	mux.HandleFunc("GET /api/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		for _, item := range s.items {
			if item.ID == r.PathValue("id") {
				json.NewEncoder(w).Encode(map[string]any{"record": item})
				return
			}
		}
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("PUT /api/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		var body struct {
			Status workitem.Status `json:"status"`
			Fields workitem.Fields `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, item := range s.items {
			if item.ID == r.PathValue("id") {
				item.Status = body.Status
				item.Fields = body.Fields
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		http.Error(w, "not found", http.StatusNotFound)
	})
	return mux
}

func (s *storeServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get("Authorization")
	if token == "" || token == "Bearer "+s.rejectToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func newTestClient(t *testing.T, url string, pageSize int) *Client {
	t.Helper()
	return NewClient(config.Store{
		BaseURL:       url,
		APIKey:        "test-key",
		PageSize:      pageSize,
		RetryAttempts: 2,
		RetryBaseMS:   1,
	})
}

func TestSessionTokenAcquiredOnce(t *testing.T) {
	store := newStoreServer()
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	ctx := context.Background()

	first, err := client.SessionToken(ctx)
	if err != nil {
		t.Fatalf("session token: %v", err)
	}
	second, err := client.SessionToken(ctx)
	if err != nil {
		t.Fatalf("second session token: %v", err)
	}
	if first != second {
		t.Errorf("token changed without a 401: %s vs %s", first, second)
	}
	if got := atomic.LoadInt32(&store.sessions); got != 1 {
		t.Errorf("session requests = %d, want 1", got)
	}
}

func TestUnauthorizedRefreshesAndReplaysOnce(t *testing.T) {
	store := newStoreServer(&workitem.Item{ID: "item-1", Type: workitem.TypeImage, Status: workitem.StatusPending})
	store.rejectToken = "token-1"
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	ctx := context.Background()

	// Acquire the soon-to-be-rejected token up front.
	if _, err := client.SessionToken(ctx); err != nil {
		t.Fatalf("session token: %v", err)
	}

	item, err := client.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("get after refresh: %v", err)
	}
	if item.ID != "item-1" {
		t.Errorf("item = %+v", item)
	}
	if got := atomic.LoadInt32(&store.sessions); got != 2 {
		t.Errorf("session requests = %d, want 2", got)
	}
}

func TestUnauthorizedTwiceFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/session" {
			json.NewEncoder(w).Encode(map[string]any{"token": "token-x"})
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	_, err := client.Get(context.Background(), "item-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want unauthorized", err)
	}
}

func TestFindByStatusPages(t *testing.T) {
	var items []*workitem.Item
	for i := 0; i < 5; i++ {
		items = append(items, &workitem.Item{
			ID:     fmt.Sprintf("item-%d", i),
			Type:   workitem.TypeImage,
			Status: workitem.StatusPending,
		})
	}
	store := newStoreServer(items...)
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	got, err := client.FindByStatus(context.Background(), workitem.StatusPending, "")
	if err != nil {
		t.Fatalf("find by status: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("items = %d, want 5", len(got))
	}
	if got[4].ID != "item-4" {
		t.Errorf("last item = %s", got[4].ID)
	}
}

func TestFindActionableFiltersPausedStatuses(t *testing.T) {
	store := newStoreServer(
		&workitem.Item{ID: "item-1", Type: workitem.TypeImage, Status: workitem.StatusPending},
		&workitem.Item{ID: "item-2", Type: workitem.TypeImage, Status: workitem.StatusReview},
		&workitem.Item{ID: "item-3", Type: workitem.TypeImage, Status: workitem.Status("archived")},
	)
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	got, err := client.FindActionable(context.Background())
	if err != nil {
		t.Fatalf("find actionable: %v", err)
	}
	if len(got) != 1 || got[0].ID != "item-1" {
		t.Fatalf("actionable = %+v", got)
	}
}

func TestUpdateOverwritesStatusAndFields(t *testing.T) {
	item := &workitem.Item{
		ID:     "item-1",
		Type:   workitem.TypeImage,
		Status: workitem.StatusPending,
		Fields: workitem.NewFields(workitem.FieldTitle, "Before"),
	}
	store := newStoreServer(item)
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	updated := item.Clone()
	updated.Status = workitem.StatusProbed
	updated.Fields.Set(workitem.FieldTitle, "After")
	if err := client.Update(context.Background(), updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	if item.Status != workitem.StatusProbed {
		t.Errorf("status on server = %s", item.Status)
	}
	if item.Fields.Get(workitem.FieldTitle) != "After" {
		t.Errorf("title on server = %q", item.Fields.Get(workitem.FieldTitle))
	}
}

func TestGetNotFound(t *testing.T) {
	store := newStoreServer()
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	_, err := client.Get(context.Background(), "missing")
	if !services.NeedsReview(err) {
		t.Fatalf("error = %v, want a not-found classification", err)
	}
}

func TestTransientErrorsRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/session" {
			json.NewEncoder(w).Encode(map[string]any{"token": "token-x"})
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"record": &workitem.Item{ID: "item-1"}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	item, err := client.Get(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.ID != "item-1" {
		t.Errorf("item = %+v", item)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("record requests = %d, want 2", got)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	srv.Close()
	if err := client.Health(ctx); err == nil {
		t.Error("health against closed server should fail")
	}
}
