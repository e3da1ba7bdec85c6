package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/always-cache/fetchkit"
	cachekey "github.com/always-cache/fetchkit/pkg/cache-key"
	loadrules "github.com/always-cache/fetchkit/pkg/load-rules"
	"github.com/always-cache/fetchkit/transport"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const prefetchConcurrency = 4

// prefetch loads urls into storage, a few at a time.
// All URLs are attempted; the first failure is returned.
func prefetch(ctx context.Context, m *fetchkit.Manager, keyer cachekey.CacheKeyer, rules loadrules.Rules, urls []string) error {
	var g errgroup.Group
	g.SetLimit(prefetchConcurrency)
	for _, u := range urls {
		g.Go(func() error {
			key, err := keyer.GetKey(http.MethodGet, u, nil)
			if err != nil {
				return fmt.Errorf("prefetch %s: %w", u, err)
			}
			defaults, _ := rules.Apply(http.MethodGet, u)
			res, err := m.RunSynchronously(ctx, transport.Request{URL: u}, fetchkit.Options{
				CacheKey:                  key,
				TreatHTTPErrorsAsFailures: defaults.TreatHTTPErrorsAsFailures,
				Tag:                       "prefetch",
			})
			if err != nil {
				log.Warn().Err(err).Str("url", u).Msg("Prefetch failed")
				return fmt.Errorf("prefetch %s: %w", u, err)
			}
			log.Info().Str("url", u).Int("bytes", len(res.Body)).Bool("cached", res.Cached).Msg("Prefetched")
			return nil
		})
	}
	return g.Wait()
}
