package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hbomb79/Archivist/internal/extract"
	"github.com/hbomb79/Archivist/pkg/logger"
)

var (
	log = logger.Get("Fetcher")

	ErrAllStrategiesFailed = errors.New("all extractor clients failed")
	ErrEmptyOutput         = errors.New("extractor exited successfully but produced an empty file")
)

const DefaultContentType = "video/mp4"

type (
	credentialCache interface {
		EnsureFresh(ctx context.Context)
		Path() (string, bool)
	}

	uploader interface {
		Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	}

	Outcome int

	// Attempt records the result of trying a single extractor client for an item.
	Attempt struct {
		SourceURL string
		Client    extract.Client
		Outcome   Outcome
		Err       error
	}

	// Result describes a successful fetch.
	Result struct {
		Key         string
		Client      extract.Client
		ContentType string
		Size        int64
		Attempts    []Attempt
	}

	// FetchError is returned when no client was able to retrieve the item.
	FetchError struct {
		SourceURL string
		Attempts  []Attempt
	}

	// Fetcher retrieves media using an ordered list of extractor clients,
	// falling through to the next client whenever an attempt fails. The
	// first successful payload is uploaded to durable storage.
	Fetcher struct {
		extractor   extract.Extractor
		credentials credentialCache
		uploader    uploader
		workDir     string
		clients     []extract.Client
	}
)

const (
	Succeeded Outcome = iota
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int(o))
	}
}

func (e *FetchError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %v", attempt.Client, attempt.Err))
	}

	return fmt.Sprintf("failed to fetch %s after %d attempt(s): %s", e.SourceURL, len(e.Attempts), strings.Join(reasons, "; "))
}

func (e *FetchError) Unwrap() error { return ErrAllStrategiesFailed }

// New creates a Fetcher. Payloads are staged inside of workDir, which
// must be writable; it's created if missing.
func New(extractor extract.Extractor, credentials credentialCache, uploader uploader, workDir string) (*Fetcher, error) {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("download work directory '%s' could not be created: %w", workDir, err)
	}

	return &Fetcher{
		extractor:   extractor,
		credentials: credentials,
		uploader:    uploader,
		workDir:     workDir,
		clients:     extract.Clients(),
	}, nil
}

// Fetch retrieves the media at itemURL and uploads it to destinationKey. Each
// extractor client is tried strictly in order; the first to produce a non-empty
// payload wins. If every client fails a *FetchError is returned, which wraps
// ErrAllStrategiesFailed. If the context is cancelled between attempts the
// context error is returned without trying the remaining clients.
func (fetcher *Fetcher) Fetch(ctx context.Context, itemURL string, destinationKey string) (*Result, error) {
	attempts := make([]Attempt, 0, len(fetcher.clients))
	for _, client := range fetcher.clients {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch of %s abandoned before client %s: %w", itemURL, client, err)
		}

		result, err := fetcher.attempt(ctx, itemURL, destinationKey, client)
		if err == nil {
			result.Attempts = append(attempts, Attempt{SourceURL: itemURL, Client: client, Outcome: Succeeded})
			return result, nil
		}

		attempts = append(attempts, Attempt{SourceURL: itemURL, Client: client, Outcome: Failed, Err: err})
		if errors.Is(err, errUpload) {
			return nil, err
		}

		log.Warnf("Fetch attempt failed client=%s url=%s error=%q\n", client, itemURL, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch of %s interrupted during client %s: %w", itemURL, client, ctxErr)
		}
	}

	return nil, &FetchError{SourceURL: itemURL, Attempts: attempts}
}

var errUpload = errors.New("upload failed")

// attempt performs a single extraction using the client provided. The temporary
// payload is always removed before returning. An upload failure is returned
// wrapping errUpload so that the caller does not fall through to another client,
// as the content itself was fetched successfully.
func (fetcher *Fetcher) attempt(ctx context.Context, itemURL string, destinationKey string, client extract.Client) (*Result, error) {
	fetcher.credentials.EnsureFresh(ctx)

	opts := extract.Options{Client: client, OutputPath: fetcher.payloadPath(destinationKey)}
	defer fetcher.removePayload(opts.OutputPath)

	// The extractor writes its cookie jar back on exit, so it's given a
	// private copy; the cached credential's mtime must only change on refresh.
	if cookiePath, ok := fetcher.credentials.Path(); ok {
		attemptCookies := opts.OutputPath + ".cookies"
		if err := copyFile(cookiePath, attemptCookies); err != nil {
			log.Warnf("Failed to stage credential for attempt, continuing without it: %v\n", err)
		} else {
			opts.CookiePath = attemptCookies
		}
		defer fetcher.removePayload(attemptCookies)
	}

	started := time.Now()
	path, err := fetcher.extractor.Extract(ctx, itemURL, opts)
	if err != nil {
		return nil, err
	}
	if path != opts.OutputPath {
		defer fetcher.removePayload(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("extractor output missing: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrEmptyOutput
	}

	log.Infof("Fetched url=%s client=%s bytes=%d elapsed=%s\n", itemURL, client, info.Size(), time.Since(started).Truncate(time.Millisecond))
	contentType := detectContentType(path)
	if err := fetcher.upload(ctx, path, destinationKey, contentType); err != nil {
		return nil, fmt.Errorf("%w: %w", errUpload, err)
	}

	return &Result{Key: destinationKey, Client: client, ContentType: contentType, Size: info.Size()}, nil
}

func (fetcher *Fetcher) upload(ctx context.Context, path string, key string, contentType string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open payload for upload: %w", err)
	}
	defer file.Close()

	return fetcher.uploader.Upload(ctx, key, file, contentType)
}

// payloadPath returns a unique local path for a payload. The name is
// derived from the destination key's base name, the current time and
// a random UUID so sequential attempts never collide.
func (fetcher *Fetcher) payloadPath(destinationKey string) string {
	base := strings.TrimSuffix(filepath.Base(destinationKey), filepath.Ext(destinationKey))
	name := fmt.Sprintf("%s-%d-%s.part", base, time.Now().UnixNano(), uuid.NewString())
	return filepath.Join(fetcher.workDir, name)
}

func (fetcher *Fetcher) removePayload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to remove temporary payload %s: %v\n", path, err)
	}
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

func detectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil || mtype.Is("application/octet-stream") {
		return DefaultContentType
	}

	return mtype.String()
}
