package redmine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateIssue_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /issues.json", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read request body: %v", err)
		}
		var req map[string]map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("failed to parse request body: %v", err)
		}
		issue, ok := req["issue"]
		if !ok {
			t.Fatal("request body missing 'issue' envelope")
		}
		if issue["subject"] != "New feature" {
			t.Errorf("expected subject='New feature', got %v", issue["subject"])
		}
		if issue["project_id"].(float64) != 1 {
			t.Errorf("expected project_id=1, got %v", issue["project_id"])
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"issue":{"id":10,"subject":"New feature","project":{"id":1,"name":"Demo"},"tracker":{"id":2,"name":"Feature"},"status":{"id":1,"name":"New"},"priority":{"id":2,"name":"Normal"},"author":{"id":1,"name":"Admin"}}}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	issue, err := client.Issues.Create(context.Background(), map[string]any{
		"project_id": 1,
		"subject":    "New feature",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue.ID != 10 {
		t.Errorf("expected id=10, got %d", issue.ID)
	}
	if issue.Subject != "New feature" {
		t.Errorf("expected subject='New feature', got %q", issue.Subject)
	}
	if issue.Project.Name != "Demo" {
		t.Errorf("expected project name 'Demo', got %q", issue.Project.Name)
	}
}

func TestCreateIssue_BodilessCreatedStillCarriesID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /issues.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/issues/57.json")
		w.WriteHeader(http.StatusCreated)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	issue, err := client.Issues.Create(context.Background(), map[string]any{
		"project_id": 1,
		"subject":    "x",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue.ID != 57 {
		t.Errorf("expected id=57 recovered from Location, got %d", issue.ID)
	}
}

func TestGetIssue_WithInclude(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues/5.json", func(w http.ResponseWriter, r *http.Request) {
		if inc := r.URL.Query().Get("include"); inc != "journals,watchers" {
			t.Errorf("expected include=journals,watchers, got %q", inc)
		}
		_, _ = w.Write([]byte(`{"issue":{"id":5,"subject":"Bug","journals":[{"id":1,"user":{"id":1,"name":"Admin"},"notes":"looks bad"}],"watchers":[{"id":3,"name":"Watcher"}]}}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	issue, err := client.Issues.Get(context.Background(), 5, "journals", "watchers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issue.Journals) != 1 || issue.Journals[0].Notes != "looks bad" {
		t.Errorf("expected journal to round-trip, got %+v", issue.Journals)
	}
	if len(issue.Watchers) != 1 || issue.Watchers[0].ID != 3 {
		t.Errorf("expected watcher to round-trip, got %+v", issue.Watchers)
	}
}

func TestGetIssue_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues/999.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	_, err := client.Issues.Get(context.Background(), 999)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if AsError(err).Kind != KindNotFound {
		t.Errorf("expected not_found kind, got %q", AsError(err).Kind)
	}
}

func TestListIssues_ReturnsArrayAndPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues.json", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("project_id") != "1" {
			t.Errorf("expected project_id=1, got %q", q.Get("project_id"))
		}
		if q.Get("limit") != "25" {
			t.Errorf("expected default limit=25, got %q", q.Get("limit"))
		}
		_, _ = w.Write([]byte(`{"issues":[{"id":1,"subject":"a"},{"id":2,"subject":"b"}],"total_count":2,"offset":0,"limit":25}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	list, err := client.Issues.List(context.Background(), ListOptions{
		Filters: map[string]string{"project_id": "1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(list.Items))
	}
	if list.TotalCount != 2 {
		t.Errorf("expected total_count=2, got %d", list.TotalCount)
	}
	if list.Items[0].ID != 1 || list.Items[1].ID != 2 {
		t.Errorf("expected issues in backend order, got %+v", list.Items)
	}
}

func TestListIssues_EmptyResultIsNonNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total_count":0,"offset":0,"limit":25}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	list, err := client.Issues.List(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list.Items == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(list.Items) != 0 {
		t.Errorf("expected 0 issues, got %d", len(list.Items))
	}
}

func TestUpdateIssue_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /issues/7.json", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("failed to parse request body: %v", err)
		}
		issue, ok := req["issue"]
		if !ok {
			t.Fatal("request body missing 'issue' envelope")
		}
		if issue["status_id"].(float64) != 3 {
			t.Errorf("expected status_id=3, got %v", issue["status_id"])
		}
		if issue["notes"] != "Fixed in main" {
			t.Errorf("expected notes to pass through, got %v", issue["notes"])
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	err := client.Issues.Update(context.Background(), 7, map[string]any{
		"status_id": 3,
		"notes":     "Fixed in main",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteIssue_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /issues/7.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	if err := client.Issues.Delete(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
