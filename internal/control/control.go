// Package control serves the proxy's local management API: health, cache
// inspection and purge, and pprof under /debug.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/die-net/gatehouse/internal/cache"
)

// API exposes a response cache over HTTP.
type API struct {
	cache     *cache.Cache
	log       zerolog.Logger
	startTime time.Time
}

func New(c *cache.Cache, logger zerolog.Logger) *API {
	return &API{
		cache:     c,
		log:       logger.With().Str("component", "control").Logger(),
		startTime: time.Now(),
	}
}

// Handler returns the API's router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(a.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("control request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Route("/cache", func(r chi.Router) {
		r.Get("/", a.handleCacheList)
		r.Delete("/", a.handleCachePurge)
		r.Delete("/{key}", a.handleCacheRemove)
	})
	r.Mount("/debug", middleware.Profiler())

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type cacheListResponse struct {
	Count int      `json:"count"`
	TTL   string   `json:"ttl"`
	Keys  []string `json:"keys"`
}

type purgeResponse struct {
	Purged int `json:"purged"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(a.startTime).Round(time.Second).String(),
	})
}

func (a *API) handleCacheList(w http.ResponseWriter, r *http.Request) {
	keys := a.cache.Keys()
	writeJSON(w, r, http.StatusOK, cacheListResponse{
		Count: len(keys),
		TTL:   a.cache.TTL().String(),
		Keys:  keys,
	})
}

func (a *API) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	n := a.cache.Purge()
	hlog.FromRequest(r).Info().Int("purged", n).Msg("cache purged")
	writeJSON(w, r, http.StatusOK, purgeResponse{Purged: n})
}

func (a *API) handleCacheRemove(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !a.cache.Remove(key) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	hlog.FromRequest(r).Info().Str("key", key).Msg("cache entry removed")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write response")
	}
}
