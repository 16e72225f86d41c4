/*
Package places proxies a small slice of the Google Places API for the admin
frontend: autocomplete, place details and nearby search. Responses are cached
in-process with per-route TTLs and requests are rate limited per client IP, so
the upstream quota survives a busy office.
*/
package places

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/mux"

	"github.com/roomops/roomops/core/cache"
	"github.com/roomops/roomops/core/csql"
	"github.com/roomops/roomops/core/logger"
)

// upstream defaults
const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

	autocompleteTTL = time.Hour
	detailsTTL      = 24 * time.Hour
	nearbyTTL       = 7 * 24 * time.Hour

	// rate limit: requests per client IP per window
	rateLimit  = 30
	rateWindow = time.Minute
)

// Builder assembles the places service
type Builder struct {
	// APIKey is the upstream key. A placeholder or empty key disables the
	// service; the routes then answer with http.StatusServiceUnavailable.
	APIKey string
	// BaseURL overrides the upstream base url, used by tests
	BaseURL string
}

// Service proxies place lookups to the upstream API
type Service struct {
	key      string
	disabled bool
	client   *resty.Client

	autocompleteCache *cache.Cache
	detailsCache      *cache.Cache
	nearbyCache       *cache.Cache

	limiter *rateLimiter
}

// New realizes the places service.
func New(bb *Builder) *Service {
	baseURL := bb.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	disabled := bb.APIKey == "" || csql.IsPlaceholder(bb.APIKey)
	if disabled {
		logger.Default().Warningln("places service disabled: no usable api key")
	}
	return &Service{
		key:      bb.APIKey,
		disabled: disabled,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		autocompleteCache: cache.New(autocompleteTTL, 500),
		detailsCache:      cache.New(detailsTTL, 500),
		nearbyCache:       cache.New(nearbyTTL, 200),
		limiter:           newRateLimiter(rateLimit, rateWindow),
	}
}

// HandleRoutes registers the places proxy routes.
func (s *Service) HandleRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle places routes: /api/places/... GET")
	router.HandleFunc("/api/places/autocomplete", s.autocompleteWithRateLimit).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/api/places/details", s.detailsWithRateLimit).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/api/places/nearby", s.nearbyWithRateLimit).Methods(http.MethodOptions, http.MethodGet)
}

// Disabled reports whether the service runs without an upstream key.
func (s *Service) Disabled() bool {
	return s.disabled
}

func (s *Service) guard(w http.ResponseWriter, r *http.Request) bool {
	if s.disabled {
		http.Error(w, "places service is not configured", http.StatusServiceUnavailable)
		return false
	}
	if !s.limiter.allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded, try again later", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Service) autocompleteWithRateLimit(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}
	input := r.URL.Query().Get("input")
	if len(input) < 2 {
		http.Error(w, "parameter input must have at least 2 characters", http.StatusBadRequest)
		return
	}
	s.proxy(w, r, s.autocompleteCache, "autocomplete:"+input, "/autocomplete/json",
		map[string]string{"input": input, "types": "address"})
}

func (s *Service) detailsWithRateLimit(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}
	placeID := r.URL.Query().Get("place_id")
	if placeID == "" {
		http.Error(w, "parameter place_id is required", http.StatusBadRequest)
		return
	}
	s.proxy(w, r, s.detailsCache, "details:"+placeID, "/details/json",
		map[string]string{"place_id": placeID, "fields": "address_component,formatted_address,geometry,name"})
}

func (s *Service) nearbyWithRateLimit(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}
	query := r.URL.Query()
	lat, errLat := strconv.ParseFloat(query.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(query.Get("lng"), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		http.Error(w, "parameters lat and lng must be valid coordinates", http.StatusBadRequest)
		return
	}
	radius := query.Get("radius")
	if radius == "" {
		radius = "1000"
	}
	if meters, err := strconv.Atoi(radius); err != nil || meters < 1 || meters > 50000 {
		http.Error(w, "parameter radius must be between 1 and 50000 meters", http.StatusBadRequest)
		return
	}
	location := fmt.Sprintf("%.5f,%.5f", lat, lng)
	s.proxy(w, r, s.nearbyCache, "nearby:"+location+":"+radius, "/nearbysearch/json",
		map[string]string{"location": location, "radius": radius, "type": query.Get("type")})
}

// proxy serves the response from cache when possible, otherwise passes the
// request through to the upstream API and caches the successful body.
func (s *Service) proxy(w http.ResponseWriter, r *http.Request, c *cache.Cache, key, path string, params map[string]string) {
	rlog := logger.FromContext(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if body, hit := c.Get(key); hit {
		w.Header().Set("X-Cache", "HIT")
		w.Write(body.([]byte))
		return
	}

	params["key"] = s.key
	res, err := s.client.R().
		SetContext(r.Context()).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		rlog.WithError(err).Errorln("places upstream request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	if res.StatusCode() != http.StatusOK {
		rlog.Errorf("places upstream returned status %d", res.StatusCode())
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	body := res.Body()
	c.Set(key, body)
	w.Header().Set("X-Cache", "MISS")
	w.Write(body)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
