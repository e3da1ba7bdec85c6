// Package api exposes a fetchkit manager and its storage over HTTP.
package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/always-cache/fetchkit"
	"github.com/always-cache/fetchkit/cache"
	cachekey "github.com/always-cache/fetchkit/pkg/cache-key"
	loadrules "github.com/always-cache/fetchkit/pkg/load-rules"
	"github.com/always-cache/fetchkit/transport"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/jmgilman/go/errors"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const maxRequestBody = 1 << 20

type Config struct {
	Manager *fetchkit.Manager
	// Storage browsed under /cache. Usually the one the manager writes to.
	Storage cache.StorageBackend
	// Defaults for loads that do not set their options explicitly.
	Rules loadrules.Rules
	// Derives cache keys for loads with caching enabled but no explicit key.
	Keyer cachekey.CacheKeyer
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type API struct {
	manager *fetchkit.Manager
	storage cache.StorageBackend
	rules   loadrules.Rules
	keyer   cachekey.CacheKeyer
	router  chi.Router
}

// New creates the API handler.
// The rules must already be compiled.
func New(config Config) *API {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "api").Logger()

	a := &API{
		manager: config.Manager,
		storage: config.Storage,
		rules:   config.Rules,
		keyer:   config.Keyer,
	}
	if a.storage == nil {
		a.storage = cache.NullStore{}
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))

	r.Route("/loads", func(r chi.Router) {
		r.Post("/", a.startLoad)
		r.Get("/", a.listLoads)
		r.Delete("/", a.cancelAll)
		r.Get("/{id}", a.getLoad)
		r.Delete("/{id}", a.cancelLoad)
	})
	r.Route("/cache", func(r chi.Router) {
		r.Get("/", a.listKeys)
		r.Delete("/", a.clearCache)
		r.Get("/{key}", a.readEntry)
		r.Delete("/{key}", a.deleteEntry)
		r.Post("/{key}/refresh", a.refreshEntry)
	})
	a.router = r
	return a
}

// ServeHTTP implements the http.Handler interface.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) startLoad(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidInput, "could not read request body"))
		return
	}
	var lr loadRequest
	if err := easyjson.Unmarshal(body, &lr); err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidInput, "malformed load request"))
		return
	}
	req, opts, err := a.prepare(lr, r.Header)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !lr.Sync {
		id, err := a.manager.Start(req, opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, loadStarted{ID: id})
		return
	}

	res, err := a.manager.RunSynchronously(r.Context(), req, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLoadResult(res))
}

// prepare validates a load request and fills in defaults from the rules.
// A Cache-Key header on the API request selects the key variant and is
// forwarded to the origin.
func (a *API) prepare(lr loadRequest, header http.Header) (transport.Request, fetchkit.Options, error) {
	method := strings.ToUpper(lr.Method)
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(lr.URL)
	if err != nil || lr.URL == "" || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return transport.Request{}, fetchkit.Options{},
			errors.WithContext(errors.New(errors.CodeInvalidInput, "url must be an absolute http(s) URL"), "url", lr.URL)
	}

	defaults, _ := a.rules.Apply(method, lr.URL)
	if lr.TreatHTTPErrorsAsFailures != nil {
		defaults.TreatHTTPErrorsAsFailures = *lr.TreatHTTPErrorsAsFailures
	}
	if lr.Cache != nil {
		defaults.Cache = *lr.Cache
	}

	key := lr.CacheKey
	if key == "" && defaults.Cache {
		if key, err = a.keyer.GetKey(method, lr.URL, header); err != nil {
			return transport.Request{}, fetchkit.Options{}, errors.Wrap(err, errors.CodeInvalidInput, "could not derive cache key")
		}
	}

	req := transport.Request{Method: method, URL: lr.URL}
	if variant := header.Get("Cache-Key"); variant != "" {
		req.Header = http.Header{"Cache-Key": []string{variant}}
	}
	opts := fetchkit.Options{
		ID:                        lr.ID,
		CacheKey:                  key,
		TreatHTTPErrorsAsFailures: defaults.TreatHTTPErrorsAsFailures,
		Tag:                       lr.Tag,
	}
	return req, opts, nil
}

func (a *API) listLoads(w http.ResponseWriter, r *http.Request) {
	infos := a.manager.Active()
	list := make(connectionList, 0, len(infos))
	for _, info := range infos {
		list = append(list, newConnectionInfo(info))
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (a *API) getLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := a.manager.Status(id)
	if !ok {
		writeError(w, r, errors.WithContext(errors.New(errors.CodeNotFound, "no running connection"), "id", id))
		return
	}
	writeJSON(w, r, http.StatusOK, newConnectionInfo(info))
}

func (a *API) cancelLoad(w http.ResponseWriter, r *http.Request) {
	a.manager.Cancel(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) cancelAll(w http.ResponseWriter, r *http.Request) {
	a.manager.CancelAll()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.storage.Keys()
	if err != nil {
		writeError(w, r, err)
		return
	}
	// ?method= narrows the list to keys derived for that method
	prefix := ""
	if method := r.URL.Query().Get("method"); method != "" {
		prefix = a.keyer.MethodPrefix(strings.ToUpper(method))
	}
	list := keyList{}
	for key := range keys {
		if strings.HasPrefix(key, prefix) {
			list = append(list, key)
		}
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (a *API) readEntry(w http.ResponseWriter, r *http.Request) {
	key, err := entryKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := a.storage.Read(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (a *API) deleteEntry(w http.ResponseWriter, r *http.Request) {
	key, err := entryKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.storage.Delete(key); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshEntry reloads the request a derived key was built from and stores
// the new body under the same key.
func (a *API) refreshEntry(w http.ResponseWriter, r *http.Request) {
	key, err := entryKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	origin, err := a.keyer.GetRequestFromKey(key)
	if err != nil {
		writeError(w, r, errors.WithContext(errors.Wrap(err, errors.CodeInvalidInput, "key was not derived from a request"), "key", key))
		return
	}
	defaults, _ := a.rules.Apply(origin.Method, origin.URL.String())
	req := transport.Request{Method: origin.Method, URL: origin.URL.String(), Header: origin.Header}
	res, err := a.manager.RunSynchronously(r.Context(), req, fetchkit.Options{
		CacheKey:                  key,
		TreatHTTPErrorsAsFailures: defaults.TreatHTTPErrorsAsFailures,
		Tag:                       "refresh",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLoadResult(res))
}

func (a *API) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := cache.Clear(a.storage); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// entryKey returns the path-escaped key of a /cache/{key} route.
func entryKey(r *http.Request) (string, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidInput, "malformed cache key")
	}
	return key, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v easyjson.Marshaler) {
	jw := jwriter.Writer{}
	v.MarshalEasyJSON(&jw)
	if jw.Error != nil {
		hlog.FromRequest(r).Error().Err(jw.Error).Msg("Could not encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := jw.DumpTo(w); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Could not write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	pe := platformError(err)
	status := httpStatus(pe.Code())
	logger := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Msg("Request rejected")
	}
	writeJSON(w, r, status, errorBody{Error: errors.ToJSON(pe)})
}
