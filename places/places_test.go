package places

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	limiter := newRateLimiter(3, time.Minute)
	current := time.Unix(1000, 0)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("request %d within the limit must be allowed", i+1)
		}
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("request over the limit must be rejected")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatal("limits are per client, another client must pass")
	}

	current = current.Add(time.Minute)
	if !limiter.allow("10.0.0.1") {
		t.Fatal("a new window must reset the counter")
	}
}

func newTestService(t *testing.T, upstreamHandler http.HandlerFunc) (*Service, *httptest.Server) {
	t.Helper()
	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	service := New(&Builder{APIKey: "test-key", BaseURL: upstream.URL})
	router := mux.NewRouter()
	service.HandleRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return service, server
}

func TestAutocompletePassThroughAndCache(t *testing.T) {
	upstreamCalls := 0
	_, server := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls++
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected api key on upstream request, got %q", r.URL.Query().Get("key"))
		}
		if r.URL.Query().Get("input") != "sunset" {
			t.Errorf("unexpected input: %q", r.URL.Query().Get("input"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"predictions":[{"description":"Sunset Blvd"}],"status":"OK"}`)
	})

	get := func() *http.Response {
		res, err := http.Get(server.URL + "/api/places/autocomplete?input=sunset")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		t.Cleanup(func() { res.Body.Close() })
		return res
	}

	res := get()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Header.Get("X-Cache") != "MISS" {
		t.Fatalf("first request must miss the cache, got %q", res.Header.Get("X-Cache"))
	}

	res = get()
	if res.Header.Get("X-Cache") != "HIT" {
		t.Fatalf("second request must hit the cache, got %q", res.Header.Get("X-Cache"))
	}
	if upstreamCalls != 1 {
		t.Fatalf("upstream must only be called once, got %d", upstreamCalls)
	}
}

func TestInputValidation(t *testing.T) {
	_, server := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for invalid input")
	})

	cases := []string{
		"/api/places/autocomplete?input=a",
		"/api/places/details",
		"/api/places/nearby?lat=91&lng=0",
		"/api/places/nearby?lat=34.05&lng=-118.24&radius=999999",
		"/api/places/nearby?lat=not-a-number&lng=0",
	}
	for _, path := range cases {
		res, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, res.StatusCode)
		}
	}
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	_, server := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	})
	res, err := http.Get(server.URL + "/api/places/details?place_id=abc")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.StatusCode)
	}
}

func TestPlaceholderKeyDisablesService(t *testing.T) {
	service := New(&Builder{APIKey: "your-api-key-here"})
	if !service.Disabled() {
		t.Fatal("placeholder key must disable the service")
	}
	router := mux.NewRouter()
	service.HandleRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	res, err := http.Get(server.URL + "/api/places/autocomplete?input=sunset")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.StatusCode)
	}
}
