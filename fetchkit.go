// Package fetchkit runs concurrent, cancellable network loads with progress
// reporting and optional persistence of the fetched bodies.
package fetchkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/always-cache/fetchkit/cache"
	bodyrecorder "github.com/always-cache/fetchkit/pkg/body-recorder"
	"github.com/always-cache/fetchkit/transport"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultChunkSize = 32 * 1024

type Config struct {
	// Network layer. A net/http client is used if nil.
	Transport transport.Client
	// Storage for completed bodies. Nothing is stored if nil.
	Storage cache.StorageBackend
	// Where callbacks run. A queue with its own goroutine is used if nil.
	Dispatcher Dispatcher
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Optional function called when a completed body could not be stored.
	// It runs on the connection goroutine.
	OnCacheWarning func(id, key string, err error)
	// Read buffer size for response bodies.
	ChunkSize int
}

type Manager struct {
	transport      transport.Client
	storage        cache.StorageBackend
	dispatcher     Dispatcher
	ownQueue       *SerialQueue
	onCacheWarning func(id, key string, err error)
	chunkSize      int
	registry       *registry
	log            zerolog.Logger
}

// CreateManager initializes a connection manager.
// Call Close when done with it.
func CreateManager(config Config) *Manager {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	m := &Manager{
		transport:      config.Transport,
		storage:        config.Storage,
		dispatcher:     config.Dispatcher,
		onCacheWarning: config.OnCacheWarning,
		chunkSize:      config.ChunkSize,
		registry:       newRegistry(),
		log:            logger.With().Str("component", "manager").Logger(),
	}
	if m.transport == nil {
		m.transport = transport.NewHTTPClient(transport.Config{Logger: &logger})
	}
	if m.dispatcher == nil {
		m.ownQueue = NewSerialQueue()
		m.dispatcher = m.ownQueue
	}
	if m.chunkSize <= 0 {
		m.chunkSize = defaultChunkSize
	}
	return m
}

// Start begins loading req in the background and returns the connection identifier.
// Callbacks in opts are delivered through the manager's dispatcher.
func (m *Manager) Start(req transport.Request, opts Options) (string, error) {
	c, err := m.start(req, opts, false)
	if err != nil {
		return "", err
	}
	return c.id, nil
}

// RunSynchronously loads req and blocks until the connection is terminal.
// OnComplete is not called; the result is returned instead.
// Cancelling ctx cancels the connection.
func (m *Manager) RunSynchronously(ctx context.Context, req transport.Request, opts Options) (*Response, error) {
	c, err := m.start(req, opts, true)
	if err != nil {
		return nil, err
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		if m.cancel(c.id) {
			<-c.done
			return nil, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
		}
		<-c.done
	}
	return c.res, c.err
}

// Cancel stops a running connection. No callback for it is delivered afterwards.
// Unknown identifiers and finished connections are ignored.
func (m *Manager) Cancel(id string) {
	m.cancel(id)
}

func (m *Manager) cancel(id string) bool {
	c := m.registry.cancel(id)
	if c == nil {
		return false
	}
	c.cancel()
	close(c.done)
	c.log.Debug().Msg("Cancelled")
	return true
}

// CancelAll cancels every connection running at the time of the call.
func (m *Manager) CancelAll() {
	cancelled := m.registry.cancelAll()
	for _, c := range cancelled {
		c.cancel()
		close(c.done)
	}
	if len(cancelled) > 0 {
		m.log.Debug().Int("count", len(cancelled)).Msg("Cancelled all connections")
	}
}

// Active returns snapshots of the running connections, oldest first.
func (m *Manager) Active() []Info {
	return m.registry.active()
}

// Status returns a snapshot of a running connection.
func (m *Manager) Status(id string) (Info, bool) {
	return m.registry.status(id)
}

// Close cancels all connections and stops the default dispatcher.
func (m *Manager) Close() {
	m.CancelAll()
	if m.ownQueue != nil {
		m.ownQueue.Close()
	}
}

func (m *Manager) start(req transport.Request, opts Options, sync bool) (*connection, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:        id,
		request:   req,
		opts:      opts,
		sync:      sync,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		expected:  -1,
		done:      make(chan struct{}),
	}
	logCtx := m.log.With().Str("id", id).Str("url", req.URL)
	if opts.Tag != "" {
		logCtx = logCtx.Str("tag", opts.Tag)
	}
	c.log = logCtx.Logger()

	if err := m.registry.insert(c); err != nil {
		cancel()
		return nil, err
	}
	c.log.Debug().Bool("sync", sync).Msg("Started")
	go m.run(c)
	return c, nil
}

// run is the connection goroutine.
func (m *Manager) run(c *connection) {
	defer c.cancel()
	state, res, err := m.load(c)
	if !m.registry.finish(c, state, res, err) {
		c.log.Trace().Msg("Dropping result of cancelled connection")
		return
	}
	close(c.done)

	if err != nil {
		c.log.Error().Err(err).Msg("Load failed")
	} else {
		c.log.Debug().Int("status", res.StatusCode).Int("bytes", len(res.Body)).
			Bool("cached", res.Cached).Msg("Load completed")
	}

	if c.sync || c.opts.OnComplete == nil {
		return
	}
	m.dispatcher.Dispatch(func() {
		c.opts.OnComplete(res, err)
	})
}

// load performs the transfer and returns the terminal state it should end in.
func (m *Manager) load(c *connection) (State, *Response, error) {
	url := c.request.URL
	tres, err := m.transport.Do(c.ctx, c.request)
	if err != nil {
		return Failed, nil, &TransportError{URL: url, Err: err}
	}
	defer tres.Body.Close()

	m.registry.progress(c, 0, tres.ContentLength)
	rec := bodyrecorder.New(tres.ContentLength, func(received, expected int64) {
		m.progress(c, received, expected)
	})
	buf := make([]byte, m.chunkSize)
	if _, err := io.CopyBuffer(rec, tres.Body, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && rec.Expected() >= 0 {
			return Failed, nil, &IntegrityError{URL: url, Expected: rec.Expected(), Received: rec.Received()}
		}
		return Failed, nil, &TransportError{URL: url, Err: err}
	}
	if !rec.Complete() {
		return Failed, nil, &IntegrityError{URL: url, Expected: rec.Expected(), Received: rec.Received()}
	}

	res := &Response{
		ID:            c.id,
		URL:           url,
		StatusCode:    tres.StatusCode,
		Status:        tres.Status,
		Header:        tres.Header,
		Body:          rec.Bytes(),
		ContentLength: tres.ContentLength,
		MIME:          detectMIME(tres.Header.Get("Content-Type"), rec.Bytes()),
	}
	if res.Body == nil {
		res.Body = []byte{}
	}

	if c.opts.TreatHTTPErrorsAsFailures && res.StatusCode >= 400 {
		return Failed, res, &HTTPStatusError{URL: url, StatusCode: res.StatusCode, Status: res.Status}
	}

	m.store(c, res)
	return Completed, res, nil
}

// progress records the byte counts and queues the progress callback.
func (m *Manager) progress(c *connection, received, expected int64) {
	if !m.registry.progress(c, received, expected) {
		return
	}
	c.log.Trace().Int64("received", received).Int64("expected", expected).Msg("Progress")
	if c.opts.OnProgress == nil {
		return
	}
	m.dispatcher.Dispatch(func() {
		if m.registry.state(c) == Cancelled {
			return
		}
		c.opts.OnProgress(received, expected)
	})
}

// store writes the body of a completed load.
// Failures are reported as warnings and never fail the load.
func (m *Manager) store(c *connection, res *Response) {
	key := c.opts.CacheKey
	if m.storage == nil || key == "" {
		return
	}
	if m.registry.state(c) != Running {
		return
	}
	res.CacheKey = key
	if err := m.storage.Write(key, res.Body); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Could not store response body")
		if m.onCacheWarning != nil {
			m.onCacheWarning(c.id, key, err)
		}
		return
	}
	// a cancel that raced the write must not leave the entry behind
	if m.registry.state(c) != Running {
		if err := m.storage.Delete(key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Could not remove body of cancelled load")
		}
		return
	}
	res.Cached = true
	c.log.Trace().Str("key", key).Msg("Stored response body")
}

func detectMIME(contentType string, body []byte) string {
	if contentType != "" {
		return contentType
	}
	if len(body) == 0 {
		return ""
	}
	return mimetype.Detect(body).String()
}
