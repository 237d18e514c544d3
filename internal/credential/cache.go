package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hbomb79/Archivist/pkg/logger"
)

var log = logger.Get("Credentials")

const DefaultMaxAge = 168 * time.Hour

type (
	// objectSource is the durable home of the credential. Archivist only
	// ever reads it; it's managed externally.
	objectSource interface {
		Get(ctx context.Context, key string) (io.ReadCloser, error)
	}

	Config struct {
		// ObjectKey is the key of the cookie file inside the credential bucket.
		ObjectKey string

		// LocalPath is where the cached copy of the cookie file is kept.
		LocalPath string

		// MaxAge is how long a cached copy is trusted before it's re-read
		// from durable storage.
		MaxAge time.Duration
	}

	// Cache manages a local copy of the session cookie file used by the
	// extractor. The cache never returns an error to it's caller; if the
	// credential cannot be refreshed the pipeline simply proceeds without one.
	Cache struct {
		mu     sync.Mutex
		source objectSource
		config Config
		now    func() time.Time
	}
)

// New creates a credential Cache. A nil source, or an empty object key,
// produces a cache which never does anything.
func New(source objectSource, config Config) *Cache {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}

	return &Cache{source: source, config: config, now: time.Now}
}

func (cache *Cache) configured() bool {
	return cache.source != nil && cache.config.ObjectKey != "" && cache.config.LocalPath != ""
}

// EnsureFresh makes sure that the local cookie file is no older than
// the configured max age, refreshing it from durable storage if needed.
// Failures are logged and otherwise ignored.
func (cache *Cache) EnsureFresh(ctx context.Context) {
	if !cache.configured() {
		return
	}

	// Workers share one cache; only one of them refreshes at a time
	cache.mu.Lock()
	defer cache.mu.Unlock()
	age, cached := cache.age()
	if cached && age < cache.config.MaxAge {
		log.Verbosef("Reusing cached credential (age=%s max_age=%s)\n", age.Truncate(time.Second), cache.config.MaxAge)
		return
	}

	if err := cache.refresh(ctx); err != nil {
		log.Warnf("Failed to refresh credential %q, continuing without it: %v\n", cache.config.ObjectKey, err)
		if cached {
			cache.discard()
		}
		return
	}

	log.Successf("Refreshed credential %q in to %s\n", cache.config.ObjectKey, cache.config.LocalPath)
}

// Path returns the path to the local credential file, and a boolean
// which is false if no local file currently exists.
func (cache *Cache) Path() (string, bool) {
	if cache.config.LocalPath == "" {
		return "", false
	}

	if _, err := os.Stat(cache.config.LocalPath); err != nil {
		return "", false
	}

	return cache.config.LocalPath, true
}

// discard removes an expired local copy so that Path no longer reports it.
func (cache *Cache) discard() {
	if err := os.Remove(cache.config.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to remove expired credential %s: %v\n", cache.config.LocalPath, err)
	}
}

func (cache *Cache) age() (time.Duration, bool) {
	info, err := os.Stat(cache.config.LocalPath)
	if err != nil {
		return 0, false
	}

	return cache.now().Sub(info.ModTime()), true
}

// refresh downloads the credential in to a temporary file beside the
// cached copy, and then renames it in to place so readers never observe
// a partially written file.
func (cache *Cache) refresh(ctx context.Context) error {
	body, err := cache.source.Get(ctx, cache.config.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to read credential object: %w", err)
	}
	defer body.Close()

	dir := filepath.Dir(cache.config.LocalPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary credential file: %w", err)
	}

	tmpPath := tmp.Name()
	if err := writeAndClose(tmp, body); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, cache.config.LocalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move credential in to place: %w", err)
	}

	if err := os.Chmod(cache.config.LocalPath, 0o600); err != nil {
		return fmt.Errorf("failed to restrict credential permissions: %w", err)
	}

	return nil
}

func writeAndClose(file *os.File, body io.Reader) error {
	_, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return fmt.Errorf("failed to write temporary credential file: %w", err)
	}

	return nil
}
