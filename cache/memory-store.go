package cache

import (
	"container/list"
	"iter"
	"sync"

	"github.com/rs/zerolog"
)

// EvictionObserver is notified with the key of every entry the store evicts.
// It runs synchronously while the store is locked and must not call back into the store.
type EvictionObserver func(key string)

type memEntry struct {
	key   string
	bytes []byte
}

// MemoryStore is a StorageBackend holding entries in memory.
// The cost of an entry is its byte length. When a cost limit is set,
// least recently used entries are evicted until the total cost fits.
type MemoryStore struct {
	mutex     sync.Mutex
	db        map[string]*list.Element
	lru       *list.List // front is most recently used
	cost      int64
	costLimit int64
	observers []EvictionObserver
	log       zerolog.Logger
}

var _ StorageBackend = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithCostLimit sets the total byte cost above which entries are evicted.
// Zero means no limit.
func WithCostLimit(limit int64) MemoryOption {
	return func(m *MemoryStore) {
		m.costLimit = limit
	}
}

// WithEvictionObserver registers an observer at construction time.
func WithEvictionObserver(fn EvictionObserver) MemoryOption {
	return func(m *MemoryStore) {
		m.observers = append(m.observers, fn)
	}
}

// WithLogger sets the logger. A console logger is used if not set.
func WithLogger(logger *zerolog.Logger) MemoryOption {
	return func(m *MemoryStore) {
		m.log = *logger
	}
}

// NewMemoryStore creates an empty store with no cost limit unless configured.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		db:  make(map[string]*list.Element),
		lru: list.New(),
		log: zerolog.New(zerolog.NewConsoleWriter()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("store", "memory").Logger()
	return m
}

// AddEvictionObserver registers fn to be called for each evicted key.
func (m *MemoryStore) AddEvictionObserver(fn EvictionObserver) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *MemoryStore) Write(key string, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	bytes := append([]byte(nil), data...)
	elem, ok := m.db[key]
	if ok {
		entry := elem.Value.(*memEntry)
		m.cost += int64(len(bytes)) - int64(len(entry.bytes))
		entry.bytes = bytes
		m.lru.MoveToFront(elem)
	} else {
		elem = m.lru.PushFront(&memEntry{key: key, bytes: bytes})
		m.db[key] = elem
		m.cost += int64(len(bytes))
	}
	m.log.Trace().Str("key", key).Int("bytes", len(bytes)).Int64("cost", m.cost).Msg("Stored entry")
	m.evict(elem)
	return nil
}

func (m *MemoryStore) Read(key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	elem, ok := m.db[key]
	if !ok {
		return nil, notFound(key)
	}
	m.lru.MoveToFront(elem)
	return append([]byte(nil), elem.Value.(*memEntry).bytes...), nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if elem, ok := m.db[key]; ok {
		m.remove(elem)
	}
	return nil
}

func (m *MemoryStore) Exists(key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[key]
	return ok
}

func (m *MemoryStore) Keys() (iter.Seq[string], error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	keys := make([]string, 0, len(m.db))
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*memEntry).key)
	}
	return snapshot(keys), nil
}

// SetCostLimit changes the cost limit. Lowering it evicts immediately.
func (m *MemoryStore) SetCostLimit(limit int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.costLimit = limit
	m.evict(nil)
}

// CostLimit returns the configured cost limit (0 = unlimited).
func (m *MemoryStore) CostLimit() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.costLimit
}

// TotalCost returns the summed byte cost of all stored entries.
func (m *MemoryStore) TotalCost() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.cost
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.db)
}

// evict drops least recently used entries until the cost limit holds.
// The keep entry is never evicted; once it is the only candidate left
// the limit stays exceeded. Must be called with the mutex held.
func (m *MemoryStore) evict(keep *list.Element) {
	if m.costLimit <= 0 {
		return
	}
	for m.cost > m.costLimit {
		elem := m.lru.Back()
		if elem == nil {
			return
		}
		entry := elem.Value.(*memEntry)
		if elem == keep {
			m.log.Debug().Str("key", entry.key).Int64("cost", m.cost).Int64("limit", m.costLimit).
				Msg("Entry alone exceeds cost limit")
			return
		}
		for _, observe := range m.observers {
			observe(entry.key)
		}
		m.remove(elem)
		m.log.Debug().Str("key", entry.key).Int("bytes", len(entry.bytes)).Msg("Evicted entry")
	}
}

func (m *MemoryStore) remove(elem *list.Element) {
	entry := m.lru.Remove(elem).(*memEntry)
	delete(m.db, entry.key)
	m.cost -= int64(len(entry.bytes))
}
