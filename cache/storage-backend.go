package cache

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrNotFound is returned by Read when no entry is stored under the key.
var ErrNotFound = errors.New("cache: key not found")

var errEmptyKey = errors.New("empty key")

// StorageBackend is keyed byte-blob storage.
// It stores and retrieves []byte values, typically response bodies keyed by request URL.
// Backends are chosen at construction time (see Open) and used interchangeably.
//
// Implementations must be thread-safe!
type StorageBackend interface {
	// Write stores data under key, replacing any existing entry.
	// Storage failures are returned as *IOError.
	Write(key string, data []byte) error
	// Read returns the bytes stored under key.
	// If nothing is stored, the error matches ErrNotFound.
	Read(key string) ([]byte, error)
	// Delete removes the entry for key. Deleting an absent key is not an error.
	Delete(key string) error
	// Exists checks if the specified key exists in the store.
	Exists(key string) bool
	// Keys returns the keys stored at call time.
	// The sequence can be ranged over any number of times and is not affected
	// by writes or deletes made after Keys returns.
	Keys() (iter.Seq[string], error)
}

// IOError reports a failed storage operation on a key.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// snapshot turns a copied key slice into a restartable sequence.
func snapshot(keys []string) iter.Seq[string] {
	return slices.Values(keys)
}

// Clear deletes every key currently stored in the backend.
// It stops at the first delete that fails.
func Clear(s StorageBackend) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for key := range keys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
