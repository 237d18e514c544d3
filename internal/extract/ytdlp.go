package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hbomb79/Archivist/pkg/logger"
)

var log = logger.Get("Extractor")

const (
	DefaultBinPath        = "yt-dlp"
	DefaultFormatSelector = "worst[ext=mp4]/worstvideo[ext=mp4]+worstaudio/worst"
	stderrTailLines       = 6
	maxStderrLine         = 64 * 1024

	// waitDelay bounds how long Wait lingers on stderr once the process
	// group has been killed.
	waitDelay = 5 * time.Second
)

type (
	// Options configures a single extraction attempt.
	Options struct {
		Client     Client
		OutputPath string

		// CookiePath is optional, and is only passed to the
		// extractor when non-empty.
		CookiePath string
	}

	// Extractor fetches the media at the given URL in to a local file, returning
	// the path of the file it wrote. The caller owns the returned file.
	Extractor interface {
		Extract(ctx context.Context, url string, opts Options) (string, error)
	}

	Config struct {
		BinPath        string
		FormatSelector string

		// AttemptTimeout bounds a single subprocess invocation. Zero
		// means the attempt is bounded only by the callers context.
		AttemptTimeout time.Duration
	}

	// ExitError is returned when the extractor process exits with a non-zero
	// status. Stderr holds the final few lines the process wrote.
	ExitError struct {
		Client Client
		Code   int
		Stderr string
	}

	// YtDlp is an Extractor which runs yt-dlp as a subprocess, streaming
	// its stdout directly in to the requested output file.
	YtDlp struct {
		config Config
	}
)

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("extractor (client=%s) exited with status %d", e.Client, e.Code)
	}

	return fmt.Sprintf("extractor (client=%s) exited with status %d: %s", e.Client, e.Code, e.Stderr)
}

func NewYtDlp(config Config) *YtDlp {
	if config.BinPath == "" {
		config.BinPath = DefaultBinPath
	}
	if config.FormatSelector == "" {
		config.FormatSelector = DefaultFormatSelector
	}

	return &YtDlp{config: config}
}

// Extract runs yt-dlp for the URL provided, writing the payload to opts.OutputPath.
// Lines written by the process to stderr are treated as log output; only a
// non-zero exit status is considered a failure here. Callers are expected to
// verify the output file themselves.
func (y *YtDlp) Extract(ctx context.Context, url string, opts Options) (string, error) {
	if !opts.Client.Valid() {
		return "", fmt.Errorf("unknown extractor client %s", opts.Client)
	}
	if opts.OutputPath == "" {
		return "", errors.New("extractor output path must not be empty")
	}

	if y.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.config.AttemptTimeout)
		defer cancel()
	}

	out, err := os.OpenFile(opts.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to open extractor output file: %w", err)
	}
	defer out.Close()

	stderr := newStderrTail(opts.Client)
	cmd := exec.CommandContext(ctx, y.config.BinPath, y.Args(url, opts)...)
	cmd.Stdout = out
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	isolateProcessGroup(cmd)

	log.Debugf("Starting extractor client=%s url=%s output=%s\n", opts.Client, url, opts.OutputPath)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start extractor %s: %w", y.config.BinPath, err)
	}

	err = cmd.Wait()
	tail := stderr.Flush()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("extractor (client=%s) interrupted: %w", opts.Client, ctxErr)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{Client: opts.Client, Code: exitErr.ExitCode(), Stderr: tail}
		}

		return "", fmt.Errorf("extractor (client=%s) failed: %w", opts.Client, err)
	}

	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("failed to flush extractor output: %w", err)
	}

	return opts.OutputPath, nil
}

// Args returns the argument list passed to yt-dlp for the URL and options given.
func (y *YtDlp) Args(url string, opts Options) []string {
	args := []string{
		"-f", y.config.FormatSelector,
		"--no-playlist",
		"--force-ipv4",
		"--extractor-args", "youtube:player_client=" + opts.Client.String(),
		"--merge-output-format", "mp4",
		"--no-progress",
	}

	if opts.CookiePath != "" {
		args = append(args, "--cookies", opts.CookiePath)
	}

	return append(args, "-o", "-", url)
}

// stderrTail is the io.Writer given to the extractor as stderr. Complete
// lines are logged as they arrive, and the last few are retained for
// use in error messages.
type stderrTail struct {
	mu      sync.Mutex
	client  Client
	partial []byte
	lines   []string
}

func newStderrTail(client Client) *stderrTail {
	return &stderrTail{client: client, lines: make([]string, 0, stderrTailLines)}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial = append(t.partial, p...)
	for {
		idx := bytes.IndexByte(t.partial, '\n')
		if idx < 0 {
			break
		}

		t.push(string(t.partial[:idx]))
		t.partial = t.partial[idx+1:]
	}

	if len(t.partial) > maxStderrLine {
		t.push(string(t.partial))
		t.partial = t.partial[:0]
	}

	return len(p), nil
}

// Flush logs any unterminated final line and returns the retained
// lines joined together.
func (t *stderrTail) Flush() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.partial) > 0 {
		t.push(string(t.partial))
		t.partial = nil
	}

	return strings.Join(t.lines, " | ")
}

func (t *stderrTail) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	log.Verbosef("[%s] %s\n", t.client, line)
	if len(t.lines) == stderrTailLines {
		t.lines = t.lines[1:]
	}
	t.lines = append(t.lines, line)
}
