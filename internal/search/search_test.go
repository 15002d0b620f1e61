package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchSendsCategoryAndSpringname(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"category":"map","springname":"Comet Catcher","filename":"comet_catcher.sd7","mirrors":["http://a/comet_catcher.sd7"]}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())
	results, err := c.Search(context.Background(), "map", "Comet Catcher")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Filename != "comet_catcher.sd7" {
		t.Fatalf("results = %+v", results)
	}
	if gotQuery != "category=map&springname=Comet+Catcher" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestSearchOmitsEmptyCategory(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())
	if _, err := c.Search(context.Background(), "", "anything"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "springname=anything" {
		t.Fatalf("query = %q, category should have been omitted", gotQuery)
	}
}

func TestSearchReturnsErrorOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())
	if _, err := c.Search(context.Background(), "game", "x"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestPlatformEngineCategoryReturnsAPrefixedCategory(t *testing.T) {
	cat := PlatformEngineCategory()
	if len(cat) < len("engine-") || cat[:len("engine-")] != "engine-" {
		t.Fatalf("PlatformEngineCategory() = %q, want an engine-<platform> category", cat)
	}
}
