package cache

import "iter"

// NullStore accepts every write and stores nothing.
type NullStore struct{}

var _ StorageBackend = NullStore{}

func (NullStore) Write(string, []byte) error { return nil }

func (NullStore) Read(key string) ([]byte, error) { return nil, notFound(key) }

func (NullStore) Delete(string) error { return nil }

func (NullStore) Exists(string) bool { return false }

func (NullStore) Keys() (iter.Seq[string], error) { return snapshot(nil), nil }
