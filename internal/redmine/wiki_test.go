package redmine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestWikiCreateOrUpdate_UsesPutFirst(t *testing.T) {
	var sawPost atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /projects/demo/wiki/Setup.json", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("failed to parse request body: %v", err)
		}
		page, ok := req["wiki_page"]
		if !ok {
			t.Fatal("request body missing 'wiki_page' envelope")
		}
		if page["text"] != "h1. Setup" {
			t.Errorf("expected text to pass through, got %v", page["text"])
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /projects/demo/wiki.json", func(w http.ResponseWriter, r *http.Request) {
		sawPost.Store(true)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /projects/demo/wiki/Setup.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"wiki_page":{"title":"Setup","text":"h1. Setup","version":1}}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	page, err := client.Wiki.CreateOrUpdate(context.Background(), "demo", "Setup", map[string]any{"text": "h1. Setup"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawPost.Load() {
		t.Error("PUT must be the primary verb; POST fallback must not fire when PUT succeeds")
	}
	if page.Title != "Setup" || page.Version != 1 {
		t.Errorf("expected stored page state, got %+v", page)
	}
}

func TestWikiCreateOrUpdate_FallsBackToPostWhenPutRejected(t *testing.T) {
	var putCalls, postCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /projects/demo/wiki/Setup.json", func(w http.ResponseWriter, r *http.Request) {
		putCalls.Add(1)
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("POST /projects/demo/wiki.json", func(w http.ResponseWriter, r *http.Request) {
		postCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req map[string]map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("failed to parse request body: %v", err)
		}
		page := req["wiki_page"]
		if page["title"] != "Setup" {
			t.Errorf("fallback POST must carry the title in the body, got %v", page["title"])
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /projects/demo/wiki/Setup.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"wiki_page":{"title":"Setup","text":"content","version":1}}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	page, err := client.Wiki.CreateOrUpdate(context.Background(), "demo", "Setup", map[string]any{"text": "content"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if putCalls.Load() != 1 {
		t.Errorf("expected exactly 1 PUT attempt, got %d", putCalls.Load())
	}
	if postCalls.Load() != 1 {
		t.Errorf("expected exactly 1 POST fallback, got %d", postCalls.Load())
	}
	if page.Title != "Setup" {
		t.Errorf("expected stored page state, got %+v", page)
	}
}

func TestWikiCreateOrUpdate_ContentErrorDoesNotFallBack(t *testing.T) {
	var postCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /projects/demo/wiki/Setup.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":["Text cannot be blank"]}`))
	})
	mux.HandleFunc("POST /projects/demo/wiki.json", func(w http.ResponseWriter, r *http.Request) {
		postCalls.Add(1)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	_, err := client.Wiki.CreateOrUpdate(context.Background(), "demo", "Setup", map[string]any{"text": ""})
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if AsError(err).Kind != KindValidation {
		t.Errorf("expected validation kind, got %q", AsError(err).Kind)
	}
	if postCalls.Load() != 0 {
		t.Error("content rejection must not trigger the POST fallback")
	}
}

func TestWikiGet_EscapesTitle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/projects/demo/wiki/Release%20Notes.json" {
			t.Errorf("expected escaped title in path, got %q", r.URL.EscapedPath())
		}
		_, _ = w.Write([]byte(`{"wiki_page":{"title":"Release Notes","text":"...","version":4}}`))
	}))
	defer ts.Close()
	client := newTestClient(ts.URL)

	page, err := client.Wiki.Get(context.Background(), "demo", "Release Notes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Version != 4 {
		t.Errorf("expected version=4, got %d", page.Version)
	}
}

func TestWikiList_Index(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/demo/wiki/index.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"wiki_pages":[{"title":"Wiki","version":1},{"title":"Setup","version":3,"parent":{"title":"Wiki"}}]}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	list, err := client.Wiki.List(context.Background(), "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(list.Items))
	}
	if list.Items[1].Parent == nil || list.Items[1].Parent.Title != "Wiki" {
		t.Errorf("expected parent title to round-trip, got %+v", list.Items[1].Parent)
	}
}

func TestWikiDelete_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /projects/demo/wiki/Old.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	if err := client.Wiki.Delete(context.Background(), "demo", "Old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
