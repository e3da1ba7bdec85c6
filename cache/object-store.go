package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes the bucket used by an ObjectStore.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

var errObjectNotFound = errors.New("object not found")

// objectAPI is the subset of bucket operations the store needs.
type objectAPI interface {
	put(ctx context.Context, name string, data []byte) error
	get(ctx context.Context, name string) ([]byte, error)
	stat(ctx context.Context, name string) error
	remove(ctx context.Context, name string) error
	list(ctx context.Context, prefix string) ([]string, error)
}

// ObjectStore is a StorageBackend keeping one object per key in an S3-compatible bucket.
type ObjectStore struct {
	api     objectAPI
	prefix  string
	timeout time.Duration
}

var _ StorageBackend = (*ObjectStore)(nil)

// NewObjectStore connects to the configured bucket through minio-go.
func NewObjectStore(config S3Config) (*ObjectStore, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return newObjectStore(&minioAPI{client: client, bucket: config.Bucket}, config.Prefix), nil
}

func newObjectStore(api objectAPI, prefix string) *ObjectStore {
	return &ObjectStore{
		api:     api,
		prefix:  prefix,
		timeout: 30 * time.Second,
	}
}

func (o *ObjectStore) Write(key string, data []byte) error {
	if key == "" {
		return &IOError{Op: "write", Key: key, Err: errEmptyKey}
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.api.put(ctx, o.prefix+key, data); err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (o *ObjectStore) Read(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	data, err := o.api.get(ctx, o.prefix+key)
	if errors.Is(err, errObjectNotFound) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	return data, nil
}

func (o *ObjectStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.api.remove(ctx, o.prefix+key); err != nil && !errors.Is(err, errObjectNotFound) {
		return &IOError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (o *ObjectStore) Exists(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	return o.api.stat(ctx, o.prefix+key) == nil
}

func (o *ObjectStore) Keys() (iter.Seq[string], error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	names, err := o.api.list(ctx, o.prefix)
	if err != nil {
		return nil, &IOError{Op: "keys", Err: err}
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, strings.TrimPrefix(name, o.prefix))
	}
	return snapshot(keys), nil
}

type minioAPI struct {
	client *minio.Client
	bucket string
}

func (m *minioAPI) put(ctx context.Context, name string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

func (m *minioAPI) get(ctx context.Context, name string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError(err)
	}
	return data, nil
}

func (m *minioAPI) stat(ctx context.Context, name string) error {
	_, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	return mapMinioError(err)
}

func (m *minioAPI) remove(ctx context.Context, name string) error {
	return mapMinioError(m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}))
}

func (m *minioAPI) list(ctx context.Context, prefix string) ([]string, error) {
	names := make([]string, 0)
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, info.Err
		}
		names = append(names, info.Key)
	}
	return names, nil
}

func mapMinioError(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errObjectNotFound
	}
	return err
}
