package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/always-cache/fetchkit"
	"github.com/always-cache/fetchkit/cache"
	cachekey "github.com/always-cache/fetchkit/pkg/cache-key"
	loadrules "github.com/always-cache/fetchkit/pkg/load-rules"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = zerolog.Nop()

type fixture struct {
	api     *API
	manager *fetchkit.Manager
	store   *cache.MemoryStore
	origin  *httptest.Server
	release chan struct{}
}

func newFixture(t *testing.T, rules loadrules.Rules) *fixture {
	t.Helper()
	f := &fixture{release: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Hello world"))
	})
	mux.HandleFunc("/variant", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("variant " + r.Header.Get("Cache-Key")))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		select {
		case <-f.release:
		case <-r.Context().Done():
		}
	})
	f.origin = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(f.release)
		f.origin.Close()
	})

	require.NoError(t, rules.Compile())
	f.store = cache.NewMemoryStore(cache.WithLogger(&quietLogger))
	f.manager = fetchkit.CreateManager(fetchkit.Config{Storage: f.store, Logger: &quietLogger})
	t.Cleanup(f.manager.Close)
	f.api = New(Config{
		Manager: f.manager,
		Storage: f.store,
		Rules:   rules,
		Keyer:   cachekey.NewCacheKeyer("fetchkit"),
		Logger:  &quietLogger,
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.api.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func (f *fixture) doWithHeader(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	f.api.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rr)
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, rr.Body.String())
	return e["code"].(string)
}

func TestSyncLoadIsCached(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do("POST", "/loads", `{"url":"`+f.origin.URL+`/hello","sync":true,"cacheKey":"hello","id":"one"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode(t, rr)
	assert.Equal(t, "one", res["id"])
	assert.Equal(t, float64(200), res["status"])
	assert.Equal(t, float64(11), res["bytes"])
	assert.Equal(t, "text/plain", res["mime"])
	assert.Equal(t, true, res["cached"])

	rr = f.do("GET", "/cache", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	assert.Equal(t, []string{"hello"}, keys)

	rr = f.do("GET", "/cache/hello", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Hello world", rr.Body.String())
}

func TestRulesSupplyDefaults(t *testing.T) {
	rules := loadrules.Rules{
		{Prefix: "/missing", TreatHTTPErrorsAsFailures: true},
		{Prefix: "/hello", Cache: true},
	}
	f := newFixture(t, rules)

	rr := f.do("POST", "/loads", `{"url":"`+f.origin.URL+`/missing","sync":true}`)
	require.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())
	body := decode(t, rr)
	e := body["error"].(map[string]interface{})
	assert.Equal(t, "EXECUTION_FAILED", e["code"])
	assert.Equal(t, float64(404), e["context"].(map[string]interface{})["status"])

	// explicit options win over rules
	rr = f.do("POST", "/loads", `{"url":"`+f.origin.URL+`/missing","sync":true,"treatHTTPErrorsAsFailures":false}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(404), decode(t, rr)["status"])

	// cache key derived from the request
	rr = f.do("POST", "/loads", `{"url":"`+f.origin.URL+`/hello","sync":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	key, err := cachekey.NewCacheKeyer("fetchkit").GetKey("GET", f.origin.URL+"/hello", nil)
	require.NoError(t, err)
	assert.Equal(t, key, decode(t, rr)["cacheKey"])

	rr = f.do("GET", "/cache/"+url.PathEscape(key), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Hello world", rr.Body.String())
}

func TestInvalidLoadRequests(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do("POST", "/loads", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rr))

	rr = f.do("POST", "/loads", `{"url":"/relative"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rr))
}

func TestAsyncLoadLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	slow := `{"url":"` + f.origin.URL + `/slow","id":"slow","tag":"test"}`

	rr := f.do("POST", "/loads", slow)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "slow", decode(t, rr)["id"])

	rr = f.do("POST", "/loads", slow)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "ALREADY_EXISTS", errorCode(t, rr))

	rr = f.do("GET", "/loads/slow", "")
	require.Equal(t, http.StatusOK, rr.Code)
	info := decode(t, rr)
	assert.Equal(t, "running", info["state"])
	assert.Equal(t, "test", info["tag"])
	assert.Equal(t, "GET", info["method"])

	rr = f.do("GET", "/loads", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rr = f.do("DELETE", "/loads/slow", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do("DELETE", "/loads/slow", "")
	assert.Equal(t, http.StatusNoContent, rr.Code, "Cancelling twice is a no-op")

	rr = f.do("GET", "/loads/slow", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rr))
}

func TestCancelAllLoads(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"a", "b"} {
		rr := f.do("POST", "/loads", `{"url":"`+f.origin.URL+`/slow","id":"`+id+`"}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
	}
	assert.Len(t, f.manager.Active(), 2)

	rr := f.do("DELETE", "/loads", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, f.manager.Active())
}

func TestCacheEntries(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Write("a", []byte("coconut")))
	require.NoError(t, f.store.Write("b", []byte("banana")))

	rr := f.do("DELETE", "/cache/a", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do("GET", "/cache/a", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rr))

	rr = f.do("DELETE", "/cache", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 0, f.store.Len())
}

func TestCacheKeyVariantAndRefresh(t *testing.T) {
	f := newFixture(t, nil)
	keyer := cachekey.NewCacheKeyer("fetchkit")
	target := f.origin.URL + "/variant"
	header := http.Header{"Cache-Key": []string{"mobile"}}

	rr := f.doWithHeader("POST", "/loads", `{"url":"`+target+`","sync":true,"cache":true}`, header)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	key, err := keyer.GetKey("GET", target, header)
	require.NoError(t, err)
	assert.Equal(t, key, decode(t, rr)["cacheKey"])
	stored, err := f.store.Read(key)
	require.NoError(t, err)
	assert.Equal(t, "variant mobile", string(stored))

	plain, err := keyer.GetKey("GET", target, nil)
	require.NoError(t, err)
	assert.NotEqual(t, plain, key)
	assert.False(t, f.store.Exists(plain))

	require.NoError(t, f.store.Write(key, []byte("stale")))
	rr = f.do("POST", "/cache/"+url.PathEscape(key)+"/refresh", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode(t, rr)
	assert.Equal(t, key, res["cacheKey"])
	assert.Equal(t, true, res["cached"])
	stored, err = f.store.Read(key)
	require.NoError(t, err)
	assert.Equal(t, "variant mobile", string(stored))
	assert.Empty(t, f.manager.Active())
}

func TestRefreshRejectsForeignKeys(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Write("hello", []byte("x")))

	rr := f.do("POST", "/cache/hello/refresh", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rr))

	rr = f.do("POST", "/cache/"+url.PathEscape("fetchkit:GET:no-variant")+"/refresh", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rr))
}

func TestListKeysByMethod(t *testing.T) {
	f := newFixture(t, nil)
	keyer := cachekey.NewCacheKeyer("fetchkit")
	getKey, err := keyer.GetKey("GET", "https://example.com/a", nil)
	require.NoError(t, err)
	postKey, err := keyer.GetKey("POST", "https://example.com/a", nil)
	require.NoError(t, err)
	for _, key := range []string{getKey, postKey, "other"} {
		require.NoError(t, f.store.Write(key, []byte("x")))
	}

	rr := f.do("GET", "/cache?method=get", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	assert.Equal(t, []string{getKey}, keys)

	rr = f.do("GET", "/cache", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	assert.Len(t, keys, 3)
}
