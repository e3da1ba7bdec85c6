// Package transport performs the network I/O for fetchkit connections.
//
// A Client issues one request and hands back the status, headers and a
// streaming body. Transport failures (DNS, refused connections, timeouts,
// aborts) are returned as errors; HTTP error statuses are returned as data.
// Aborting is done by cancelling the context passed to Do.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Request describes one request to issue.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the head of a response plus its streaming body.
// The caller must close Body.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	// Declared body length, -1 when unknown.
	ContentLength int64
	Body          io.ReadCloser
}

// Client is the capability fetchkit needs from the network layer.
//
// Implementations must be thread-safe!
type Client interface {
	// Do issues req and returns once the response head has been received.
	// Cancelling ctx aborts the transfer, including a body still being read.
	Do(ctx context.Context, req Request) (*Response, error)
}

type Config struct {
	// HTTP client to use. A client tuned for streaming downloads is used if nil.
	HTTPClient *http.Client
	// Value for the User-Agent header, unless the request sets one.
	UserAgent string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// HTTPClient is a Client backed by net/http.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	log       zerolog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates the net/http transport.
func NewHTTPClient(config Config) *HTTPClient {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	client := config.HTTPClient
	if client == nil {
		// no overall timeout: bodies may stream for long, aborts go through ctx
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: time.Minute,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
		}
	}
	return &HTTPClient{
		client:    client,
		userAgent: config.UserAgent,
		log:       logger.With().Str("component", "transport").Logger(),
	}
}

func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	copyHeader(httpReq.Header, req.Header)
	if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	c.log.Trace().Str("method", method).Str("url", req.URL).Msg("Requesting")
	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	c.log.Trace().Str("url", req.URL).Int("status", res.StatusCode).
		Int64("length", res.ContentLength).Msg("Received response head")

	return &Response{
		StatusCode:    res.StatusCode,
		Status:        res.Status,
		Header:        res.Header,
		ContentLength: res.ContentLength,
		Body:          res.Body,
	}, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
