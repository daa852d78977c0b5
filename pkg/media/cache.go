// Package media implements a content-addressed cache for artifacts extracted
// from upstream responses. Keys are the sha256 of the content, so concurrent
// writers of the same artifact converge on one file and writes are
// idempotent.
package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mouseww/grok2api-pro/pkg/config"
)

// ErrNotFound is returned when a key has no cached artifact.
var ErrNotFound = errors.New("media artifact not found")

// ErrTooLarge is returned when an artifact exceeds the configured cap.
var ErrTooLarge = errors.New("media artifact exceeds size limit")

// Artifact describes one cached entry.
type Artifact struct {
	Key         string
	ContentType string
	Size        int64
}

// Cache stores artifacts on disk under sha256 keys. The layout is one file
// per artifact, named <hash><ext>, where the extension is derived from the
// content type so files can be served with a correct type after restart.
type Cache struct {
	dir      string
	maxBytes int64
	public   string
	logger   *slog.Logger

	mu    sync.RWMutex
	index map[string]*Artifact
}

// NewCache opens the cache directory and indexes existing artifacts.
func NewCache(cfg config.MediaConfig) (*Cache, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}

	c := &Cache{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxArtifactBytes,
		public:   strings.TrimRight(cfg.PublicBase, "/"),
		logger:   slog.Default().With("component", "media.cache"),
		index:    make(map[string]*Artifact),
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read media dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		key := strings.TrimSuffix(name, ext)
		if len(key) != sha256.Size*2 {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		c.index[key] = &Artifact{
			Key:         key,
			ContentType: mime.TypeByExtension(ext),
			Size:        info.Size(),
		}
	}

	c.logger.Info("media cache opened", "dir", cfg.Dir, "artifacts", len(c.index))
	return c, nil
}

// Put stores the artifact and returns its content-addressed key. Storing
// content that is already cached is a no-op returning the existing key.
func (c *Cache) Put(r io.Reader, contentType string) (string, error) {
	tmp, err := os.CreateTemp(c.dir, "dl-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	limited := io.LimitReader(r, c.maxBytes+1)
	size, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if size > c.maxBytes {
		return "", ErrTooLarge
	}

	key := hex.EncodeToString(hasher.Sum(nil))

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[key]; exists {
		return key, nil
	}

	final := filepath.Join(c.dir, key+extensionFor(contentType))
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}
	c.index[key] = &Artifact{Key: key, ContentType: contentType, Size: size}
	c.logger.Debug("artifact cached", "key", key, "size", size, "content_type", contentType)
	return key, nil
}

// PutBytes is Put for in-memory content.
func (c *Cache) PutBytes(data []byte, contentType string) (string, error) {
	return c.Put(bytes.NewReader(data), contentType)
}

// Open returns a reader over the artifact plus its metadata.
func (c *Cache) Open(key string) (io.ReadCloser, *Artifact, error) {
	c.mu.RLock()
	art, ok := c.index[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(c.dir, key+extensionFor(art.ContentType)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, art, nil
}

// Stat reports whether an artifact exists.
func (c *Cache) Stat(key string) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	art, ok := c.index[key]
	return art, ok
}

// PublicURL maps a cache key to the URL callers are given.
func (c *Cache) PublicURL(key string) string {
	return c.public + "/" + key
}

// DataURL returns the artifact inlined as a base64 data URL, for callers
// configured to receive media inline instead of by reference.
func (c *Cache) DataURL(key string) (string, error) {
	f, art, err := c.Open(key)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}
	ct := art.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Len reports the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// extensionFor maps common upstream content types to file extensions.
// mime.ExtensionsByType is avoided because its choice is platform dependent.
func extensionFor(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ""
	}
}
