package fetchkit

import (
	"fmt"
	"sort"
	"sync"
)

// registry holds running connections by identifier.
// Every state transition happens under its mutex.
type registry struct {
	mu    sync.Mutex
	conns map[string]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*connection)}
}

// insert moves c from Idle to Running.
func (r *registry) insert(c *connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, c.id)
	}
	c.state = Running
	r.conns[c.id] = c
	return nil
}

// finish moves c from Running to state and records the outcome.
// It reports false if c was no longer running.
func (r *registry) finish(c *connection, state State, res *Response, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.state != Running {
		return false
	}
	c.state = state
	c.res = res
	c.err = err
	delete(r.conns, c.id)
	return true
}

// cancel moves the connection with the given id to Cancelled.
// It returns nil if there is no such running connection.
func (r *registry) cancel(id string) *connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	r.markCancelled(c)
	return c
}

// cancelAll cancels every running connection.
func (r *registry) cancelAll() []*connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancelled := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		r.markCancelled(c)
		cancelled = append(cancelled, c)
	}
	return cancelled
}

func (r *registry) markCancelled(c *connection) {
	c.state = Cancelled
	c.err = ErrCancelled
	delete(r.conns, c.id)
}

func (r *registry) state(c *connection) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.state
}

// progress records byte counts of a running connection.
func (r *registry) progress(c *connection, received, expected int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.state != Running {
		return false
	}
	c.received = received
	c.expected = expected
	return true
}

func (r *registry) status(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Info{}, false
	}
	return c.info(), true
}

// active returns snapshots of running connections, oldest first.
func (r *registry) active() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.conns))
	for _, c := range r.conns {
		infos = append(infos, c.info())
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}
