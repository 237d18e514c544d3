package credential_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hbomb79/Archivist/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(key)
	if v, ok := args.Get(0).(io.ReadCloser); ok {
		return v, args.Error(1)
	}

	return nil, args.Error(1)
}

func body(s string) io.ReadCloser { return io.NopCloser(bytes.NewBufferString(s)) }

func writeCachedFile(t *testing.T, path string, age time.Duration) {
	require.NoError(t, os.WriteFile(path, []byte("old-cookies"), 0o600))
	modTime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestEnsureFresh_ReusesFreshCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCachedFile(t, path, time.Hour)

	source := &mockSource{}
	cache := credential.New(source, credential.Config{ObjectKey: "cookies.txt", LocalPath: path, MaxAge: 168 * time.Hour})
	cache.EnsureFresh(context.Background())

	source.AssertNotCalled(t, "Get", mock.Anything)
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old-cookies", string(contents))
}

func TestEnsureFresh_RefreshesStaleCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	writeCachedFile(t, path, 169*time.Hour)

	source := &mockSource{}
	source.On("Get", "cookies.txt").Return(body("new-cookies"), nil).Once()

	cache := credential.New(source, credential.Config{ObjectKey: "cookies.txt", LocalPath: path, MaxAge: 168 * time.Hour})
	cache.EnsureFresh(context.Background())

	source.AssertNumberOfCalls(t, "Get", 1)
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new-cookies", string(contents))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	p, ok := cache.Path()
	assert.True(t, ok)
	assert.Equal(t, path, p)
}

func TestEnsureFresh_RefreshesMissingCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cookies.txt")

	source := &mockSource{}
	source.On("Get", "cookies.txt").Return(body("cookies"), nil).Once()

	cache := credential.New(source, credential.Config{ObjectKey: "cookies.txt", LocalPath: path})
	_, ok := cache.Path()
	assert.False(t, ok)

	cache.EnsureFresh(context.Background())
	source.AssertExpectations(t)
	_, ok = cache.Path()
	assert.True(t, ok)
}

func TestEnsureFresh_DegradesOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")

	source := &mockSource{}
	source.On("Get", "cookies.txt").Return(nil, errors.New("access denied")).Once()

	cache := credential.New(source, credential.Config{ObjectKey: "cookies.txt", LocalPath: path})
	assert.NotPanics(t, func() { cache.EnsureFresh(context.Background()) })

	_, ok := cache.Path()
	assert.False(t, ok, "no credential should be available after a failed refresh")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files must be cleaned up")
}

func TestEnsureFresh_DiscardsExpiredCacheOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")
	writeCachedFile(t, path, 169*time.Hour)

	source := &mockSource{}
	source.On("Get", "cookies.txt").Return(nil, errors.New("access denied")).Once()

	cache := credential.New(source, credential.Config{ObjectKey: "cookies.txt", LocalPath: path, MaxAge: 168 * time.Hour})
	cache.EnsureFresh(context.Background())

	source.AssertExpectations(t)
	_, ok := cache.Path()
	assert.False(t, ok, "an expired credential must not be used after a failed refresh")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingReader) Close() error             { return nil }

func TestEnsureFresh_RemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")

	source := &mockSource{}
	source.On("Get", "cookies.txt").Return(failingReader{}, nil).Once()

	cache := credential.New(source, credential.Config{ObjectKey: "cookies.txt", LocalPath: path})
	cache.EnsureFresh(context.Background())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsureFresh_Unconfigured(t *testing.T) {
	source := &mockSource{}

	credential.New(source, credential.Config{LocalPath: filepath.Join(t.TempDir(), "c.txt")}).EnsureFresh(context.Background())
	credential.New(nil, credential.Config{ObjectKey: "cookies.txt", LocalPath: filepath.Join(t.TempDir(), "c.txt")}).EnsureFresh(context.Background())

	source.AssertNotCalled(t, "Get", mock.Anything)
}
