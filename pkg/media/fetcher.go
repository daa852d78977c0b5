package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Downloader retrieves an upstream media reference. Satisfied by the
// upstream client, which resolves relative references against its base URL.
type Downloader interface {
	Download(ctx context.Context, credential, proxyAddress, ref string) (io.ReadCloser, string, error)
}

// Fetcher downloads upstream media references into the cache.
type Fetcher struct {
	cache      *Cache
	downloader Downloader
	timeout    time.Duration
	logger     *slog.Logger
}

// NewFetcher builds a fetcher on top of the cache.
func NewFetcher(cache *Cache, downloader Downloader, timeout time.Duration) *Fetcher {
	return &Fetcher{
		cache:      cache,
		downloader: downloader,
		timeout:    timeout,
		logger:     slog.Default().With("component", "media.fetcher"),
	}
}

// Cache exposes the underlying cache for serving and inlining.
func (f *Fetcher) Cache() *Cache {
	return f.cache
}

// Fetch downloads one reference through the given credential and proxy and
// returns the cache key. Re-fetching content that is already cached yields
// the same key.
func (f *Fetcher) Fetch(ctx context.Context, credential, proxyAddress, ref string) (string, error) {
	dlCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, contentType, err := f.downloader.Download(dlCtx, credential, proxyAddress, ref)
	if err != nil {
		return "", fmt.Errorf("failed to download media: %w", err)
	}
	defer body.Close()

	key, err := f.cache.Put(body, contentType)
	if err != nil {
		return "", err
	}
	f.logger.Debug("media fetched", "ref", ref, "key", key)
	return key, nil
}

// FetchAll downloads the references concurrently and returns a map of
// reference to cache key. References that fail are logged and omitted so one
// broken artifact does not sink the whole response.
func (f *Fetcher) FetchAll(ctx context.Context, credential, proxyAddress string, refs []string) map[string]string {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		keys = make(map[string]string, len(refs))
	)
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			key, err := f.Fetch(ctx, credential, proxyAddress, ref)
			if err != nil {
				f.logger.Warn("media fetch failed", "ref", ref, "error", err)
				return
			}
			mu.Lock()
			keys[ref] = key
			mu.Unlock()
		}(ref)
	}
	wg.Wait()
	return keys
}
