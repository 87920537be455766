package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListSensors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sensors" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"s1","attributes":["hr","hrv"]}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	sensors, err := c.ListSensors(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sensors) != 1 || sensors[0].ID != "s1" {
		t.Fatalf("unexpected sensors: %+v", sensors)
	}
}

func TestGetSensorNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.GetSensor(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestUpsertSensorSendsJSONBody(t *testing.T) {
	var gotPath, gotMethod, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod, gotContentType = r.URL.Path, r.Method, r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	err := c.UpsertSensor(context.Background(), Sensor{ID: "s1", Attributes: []string{"hr"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/sensors/s1" || gotMethod != http.MethodPut {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("want JSON content type, got %q", gotContentType)
	}
}

func TestGetAttributes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"hr","type":"heartrate","unit":"bpm"}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	attrs, err := c.GetAttributes(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attrs) != 1 || attrs[0].Unit != "bpm" {
		t.Fatalf("unexpected attributes: %+v", attrs)
	}
}
