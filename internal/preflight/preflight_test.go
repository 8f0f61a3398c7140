package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"curator/internal/config"
	"curator/internal/testsupport"
)

func TestRunAllPasses(t *testing.T) {
	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer storeSrv.Close()

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer llmSrv.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithStoreURL(storeSrv.URL),
		testsupport.WithLLMURL(llmSrv.URL),
		testsupport.WithStubbedBinaries(),
	)
	testsupport.WriteFile(t, filepath.Join(testsupport.BaseDir(cfg), "incoming", "sample.mp4"), 256<<10)

	results := RunAll(context.Background(), cfg)
	if len(results) == 0 {
		t.Fatal("expected preflight results")
	}
	for _, result := range results {
		if !result.Passed {
			t.Fatalf("check %s failed: %s", result.Name, result.Detail)
		}
	}
	if !AllPassed(results) {
		t.Fatal("expected all checks to pass")
	}

	for _, status := range CheckSystemDeps() {
		if !status.Available {
			t.Fatalf("expected %s on PATH, got: %s", status.Name, status.Detail)
		}
	}
}

func TestCheckDirectoryAccessOK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccessNotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccessNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	result := CheckDiskSpace("test", t.TempDir())
	if result.Detail == "" {
		t.Fatal("expected detail either way")
	}
}

func TestCheckRecordStoreOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckRecordStore(context.Background(), config.Store{BaseURL: srv.URL, APIKey: "key"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckRecordStoreDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	result := CheckRecordStore(context.Background(), config.Store{BaseURL: srv.URL, APIKey: "key"})
	if result.Passed {
		t.Fatal("expected failure for unhealthy store")
	}
}

func TestCheckRecordStoreMissingKey(t *testing.T) {
	result := CheckRecordStore(context.Background(), config.Store{BaseURL: "http://localhost:1"})
	if result.Passed {
		t.Fatal("expected failure without api key")
	}
}

func TestCheckLLMMissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), config.LLM{})
	if result.Passed {
		t.Fatal("expected failure without api key")
	}
}

func TestAllPassed(t *testing.T) {
	if !AllPassed([]Result{{Passed: true}, {Passed: true}}) {
		t.Fatal("expected all passed")
	}
	if AllPassed([]Result{{Passed: true}, {}}) {
		t.Fatal("expected failure to propagate")
	}
}
