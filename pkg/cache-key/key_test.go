package cachekey

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewCacheKeyer("this-is-the-namespace")
	key, err := keygen.GetKey("", "https://Dev.Localhost/page?x=1#top", nil)
	if err != nil {
		t.Fatal(err)
	}
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "https://dev.localhost/page?x=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if req.Method != http.MethodGet {
		t.Fatalf("Created request method for key %s is %s", key, req.Method)
	}
}

func TestCacheKeyHeaderIsVariant(t *testing.T) {
	keygen := NewCacheKeyer("ns")
	plain, _ := keygen.GetKey("GET", "https://example.com/a", nil)
	variant, _ := keygen.GetKey("GET", "https://example.com/a", http.Header{"Cache-Key": []string{"retina"}})
	if plain == variant {
		t.Fatalf("Keys should differ: %s", plain)
	}
	req, err := keygen.GetRequestFromKey(variant)
	if err != nil {
		t.Fatal(err)
	}
	if ck := req.Header.Get("Cache-Key"); ck != "retina" {
		t.Fatalf("Cache-Key header is %s", ck)
	}
}

func TestNamespacePrefixIncludesNamespace(t *testing.T) {
	namespace := "this-is-the-namespace"
	keygen := NewCacheKeyer(namespace)
	if !strings.Contains(keygen.NamespacePrefix, namespace) {
		t.Fatalf("NamespacePrefix is %s", keygen.NamespacePrefix)
	}
	key, _ := keygen.GetKey("post", "https://example.com/", nil)
	if !strings.HasPrefix(key, keygen.MethodPrefix("POST")) {
		t.Fatalf("Key %s does not start with method prefix", key)
	}
}

func TestMalformedKey(t *testing.T) {
	keygen := NewCacheKeyer("ns")
	if _, err := keygen.GetRequestFromKey("other:GET:https://example.com/\t"); err == nil {
		t.Fatal("Expected namespace mismatch error")
	}
	if _, err := keygen.GetRequestFromKey("ns:GET-no-separator"); !errors.Is(err, ErrorMalformedKey) {
		t.Fatalf("Expected malformed key error, got %v", err)
	}
}
