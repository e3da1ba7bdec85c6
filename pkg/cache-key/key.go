package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const (
	namespaceSeparator = ":"
	methodSeparator    = ":"
	variantSeparator   = "\t"
)

type CacheKeyer struct {
	// Namespace shared by all keys of this keyer.
	// Lets several loaders share one storage backend.
	Namespace string
	// Cache key prefix for this namespace
	NamespacePrefix string
}

func NewCacheKeyer(namespace string) CacheKeyer {
	return CacheKeyer{
		Namespace:       namespace,
		NamespacePrefix: namespace + namespaceSeparator,
	}
}

// MethodPrefix gets the key prefix for the namespace with the given method.
// E.g. prefix for all GET responses in the store.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.NamespacePrefix + method + methodSeparator
}

// GetKey returns the storage key for a request.
// The URL is normalized (lower-case scheme and host, no fragment) so equal resources share a key.
// If the request has a `Cache-Key` header, that value is appended as a variant.
func (c CacheKeyer) GetKey(method, rawURL string, header http.Header) (string, error) {
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	key := c.MethodPrefix(strings.ToUpper(method)) + u.String() + variantSeparator
	if ck := header.Get("Cache-Key"); ck != "" {
		key += ck
	}
	return key, nil
}

// GetRequestFromKey generates a request equal to the one that resulted in the
// provided key, including its `Cache-Key` variant.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.NamespacePrefix) {
		return nil, fmt.Errorf("Key and namespace do not match")
	}
	keyNoNamespace := strings.TrimPrefix(key, c.NamespacePrefix)
	keyNoVariant, variant, found := strings.Cut(keyNoNamespace, variantSeparator)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	method, uri, found := strings.Cut(keyNoVariant, methodSeparator)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return req, err
	}
	if variant != "" {
		req.Header.Set("Cache-Key", variant)
	}
	return req, nil
}
