package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"iter"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

const (
	tempDir    = ".tmp"
	headerSize = 4
)

var errCorruptEntry = errors.New("corrupt entry header")

// FileStore is a StorageBackend keeping one file per key on a billy filesystem.
// Files are named by the hex SHA-256 of their key, so key length and content
// are unrestricted. Each file starts with a big-endian uint32 key length and
// the key itself, followed by the payload.
type FileStore struct {
	fs    billy.Filesystem
	mutex sync.RWMutex
}

var _ StorageBackend = (*FileStore)(nil)

// NewFileStore stores entries in the root of fs.
func NewFileStore(fs billy.Filesystem) *FileStore {
	return &FileStore{fs: fs}
}

// NewDiskStore stores entries as files in dir, creating it if needed.
func NewDiskStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return NewFileStore(osfs.New(dir)), nil
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func isEntryName(name string) bool {
	if len(name) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

func (f *FileStore) Write(key string, data []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if key == "" {
		return &IOError{Op: "write", Key: key, Err: errEmptyKey}
	}
	entry := make([]byte, headerSize, headerSize+len(key)+len(data))
	binary.BigEndian.PutUint32(entry, uint32(len(key)))
	entry = append(entry, key...)
	entry = append(entry, data...)

	// write to a temp file first so readers never see a partial entry
	tmp, err := util.TempFile(f.fs, tempDir, "entry-")
	if err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	if _, err := tmp.Write(entry); err != nil {
		tmp.Close()
		f.fs.Remove(tmp.Name())
		return &IOError{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmp.Name())
		return &IOError{Op: "write", Key: key, Err: err}
	}
	if err := f.fs.Rename(tmp.Name(), fileName(key)); err != nil {
		f.fs.Remove(tmp.Name())
		return &IOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (f *FileStore) Read(key string) ([]byte, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	raw, err := util.ReadFile(f.fs, fileName(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	stored, data, err := splitEntry(raw)
	if err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	if stored != key {
		return nil, notFound(key)
	}
	return append([]byte{}, data...), nil
}

func (f *FileStore) Delete(key string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	err := f.fs.Remove(fileName(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (f *FileStore) Exists(key string) bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	_, err := f.fs.Stat(fileName(key))
	return err == nil
}

func (f *FileStore) Keys() (iter.Seq[string], error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	infos, err := f.fs.ReadDir("/")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &IOError{Op: "keys", Err: err}
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !isEntryName(info.Name()) {
			continue
		}
		// unreadable entries surface on Read instead
		key, err := f.readKey(info.Name(), info.Size())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return snapshot(keys), nil
}

// readKey reads only the header of the named entry file.
func (f *FileStore) readKey(name string, size int64) (string, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return "", err
	}
	defer file.Close()
	var header [headerSize]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		return "", errCorruptEntry
	}
	n := int64(binary.BigEndian.Uint32(header[:]))
	if n > size-headerSize {
		return "", errCorruptEntry
	}
	key := make([]byte, n)
	if _, err := io.ReadFull(file, key); err != nil {
		return "", errCorruptEntry
	}
	return string(key), nil
}

func splitEntry(raw []byte) (string, []byte, error) {
	if len(raw) < headerSize {
		return "", nil, errCorruptEntry
	}
	n := binary.BigEndian.Uint32(raw)
	rest := raw[headerSize:]
	if uint64(n) > uint64(len(rest)) {
		return "", nil, errCorruptEntry
	}
	return string(rest[:n]), rest[n:], nil
}
