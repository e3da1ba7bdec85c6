package fetchkit

import (
	"context"
	"net/http"
	"time"

	"github.com/always-cache/fetchkit/transport"

	"github.com/rs/zerolog"
)

// State of a connection. Completed, Failed and Cancelled are terminal.
type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Options for a single load.
type Options struct {
	// Connection identifier. A random UUID is used if empty.
	ID string
	// Key to store the response body under once the load completes.
	// Nothing is stored if empty or if the manager has no storage.
	CacheKey string
	// Report responses with status >= 400 as Failed with *HTTPStatusError
	// instead of Completed.
	TreatHTTPErrorsAsFailures bool
	// Called with the running byte count and the expected total (-1 if unknown).
	OnProgress func(received, expected int64)
	// Called once when the connection completes or fails. Never called after
	// the connection was cancelled, nor for RunSynchronously.
	// On *HTTPStatusError the response is passed too.
	OnComplete func(res *Response, err error)
	// Free-form label shown in status snapshots and logs.
	Tag string
}

// Response is the result of a load.
type Response struct {
	ID         string
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	// Declared body length, -1 if it was unknown.
	ContentLength int64
	// Content-Type header, or the type detected from the body.
	MIME string
	// Storage key the body was written to, if any.
	CacheKey string
	// Whether the storage write succeeded.
	Cached bool
}

// Info is a snapshot of a connection.
type Info struct {
	ID        string
	Method    string
	URL       string
	Tag       string
	State     State
	Received  int64
	Expected  int64
	StartedAt time.Time
}

type connection struct {
	id        string
	request   transport.Request
	opts      Options
	sync      bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger

	// guarded by the registry mutex
	state    State
	received int64
	expected int64

	// set before done is closed
	res  *Response
	err  error
	done chan struct{}
}

func (c *connection) info() Info {
	method := c.request.Method
	if method == "" {
		method = http.MethodGet
	}
	return Info{
		ID:        c.id,
		Method:    method,
		URL:       c.request.URL,
		Tag:       c.opts.Tag,
		State:     c.state,
		Received:  c.received,
		Expected:  c.expected,
		StartedAt: c.startedAt,
	}
}
