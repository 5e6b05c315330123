package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/gatehouse/internal/cache"
)

func setupTestAPI(t *testing.T) (*cache.Cache, *httptest.Server) {
	t.Helper()
	c := cache.New(time.Minute, nil)
	ts := httptest.NewServer(New(c, zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return c, ts
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := setupTestAPI(t)

	resp := do(t, http.MethodGet, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestCacheList(t *testing.T) {
	c, ts := setupTestAPI(t)
	c.Set("b.example", []byte("2"))
	c.Set("a.example", []byte("1"))

	resp := do(t, http.MethodGet, ts.URL+"/cache")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body cacheListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "1m0s", body.TTL)
	assert.Equal(t, []string{"a.example", "b.example"}, body.Keys)
}

func TestCacheRemove(t *testing.T) {
	c, ts := setupTestAPI(t)
	c.Set("a.example", []byte("1"))

	resp := do(t, http.MethodDelete, ts.URL+"/cache/a.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, c.Has("a.example"))

	resp = do(t, http.MethodDelete, ts.URL+"/cache/a.example")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCachePurge(t *testing.T) {
	c, ts := setupTestAPI(t)
	c.Set("a.example", []byte("1"))
	c.Set("b.example", []byte("2"))

	resp := do(t, http.MethodDelete, ts.URL+"/cache")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body purgeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Purged)
	assert.Zero(t, c.Len())
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := setupTestAPI(t)

	resp := do(t, http.MethodPost, ts.URL+"/cache")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProfilerMounted(t *testing.T) {
	_, ts := setupTestAPI(t)

	resp := do(t, http.MethodGet, ts.URL+"/debug/pprof/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
