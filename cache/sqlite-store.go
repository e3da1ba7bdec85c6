package cache

import (
	"database/sql"
	"errors"
	"iter"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is a disk-backed StorageBackend using a single sqlite table.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

var _ StorageBackend = SQLiteStore{}

// NewSQLiteStore opens (or creates) the store in the given database file.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) (SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStore{}, err
	}
	// a shared in-memory db lives only as long as one connection is open
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			written_at INTEGER,
			bytes BLOB
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStore{}, err
		}
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Close closes the underlying database.
func (s SQLiteStore) Close() error {
	return s.db.Close()
}

func (s SQLiteStore) Write(key string, data []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO blobs (key, written_at, bytes) VALUES (?, ?, ?)",
		key, time.Now().Unix(), data)
	if err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s SQLiteStore) Read(key string) ([]byte, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM blobs WHERE key = ?", key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	if bytes == nil {
		bytes = []byte{}
	}
	return bytes, nil
}

func (s SQLiteStore) Delete(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM blobs WHERE key = ?", key); err != nil {
		return &IOError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s SQLiteStore) Exists(key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM blobs WHERE key = ?", key).Scan(&one)
	return err == nil
}

func (s SQLiteStore) Keys() (iter.Seq[string], error) {
	rows, err := s.db.Query("SELECT key FROM blobs ORDER BY written_at DESC")
	if err != nil {
		return nil, &IOError{Op: "keys", Err: err}
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &IOError{Op: "keys", Err: err}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "keys", Err: err}
	}
	return snapshot(keys), nil
}
