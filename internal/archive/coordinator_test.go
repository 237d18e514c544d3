package archive_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/Archivist/internal/archive"
	"github.com/hbomb79/Archivist/internal/completion"
	"github.com/hbomb79/Archivist/internal/download"
	"github.com/hbomb79/Archivist/internal/extract"
	"github.com/hbomb79/Archivist/internal/metrics"
	"github.com/hbomb79/Archivist/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

// conditionalStore is an in-memory completion.Store whose insert behaves
// like a server-side conditional write.
type conditionalStore struct {
	sync.Mutex
	records     map[string]completion.Record
	lookupError map[string]error
	inserts     int
}

func newConditionalStore() *conditionalStore {
	return &conditionalStore{records: make(map[string]completion.Record), lookupError: make(map[string]error)}
}

func (s *conditionalStore) AlreadyCompleted(ctx context.Context, id string) (bool, error) {
	s.Lock()
	defer s.Unlock()

	if err, ok := s.lookupError[id]; ok {
		return false, err
	}

	_, ok := s.records[id]
	return ok, nil
}

func (s *conditionalStore) RecordCompletion(ctx context.Context, record completion.Record) error {
	s.Lock()
	defer s.Unlock()

	s.inserts++
	if _, ok := s.records[record.ID]; ok {
		return completion.ErrAlreadyRecorded
	}

	s.records[record.ID] = record
	return nil
}

func (s *conditionalStore) count() int {
	s.Lock()
	defer s.Unlock()
	return len(s.records)
}

type fakeFetcher struct {
	sync.Mutex
	calls   []string
	failFor map[string]error
	panicOn string
	barrier *sync.WaitGroup
}

func (f *fakeFetcher) Fetch(ctx context.Context, itemURL string, destinationKey string) (*download.Result, error) {
	f.Lock()
	f.calls = append(f.calls, itemURL)
	err := f.failFor[itemURL]
	f.Unlock()

	if f.barrier != nil {
		f.barrier.Done()
		f.barrier.Wait()
	}
	if f.panicOn == itemURL {
		panic("extractor exploded")
	}
	if err != nil {
		return nil, err
	}

	return &download.Result{Key: destinationKey, Client: extract.ClientTV, ContentType: "video/mp4", Size: 42}, nil
}

func (f *fakeFetcher) callCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.calls)
}

type recordingMetrics struct {
	sync.Mutex
	items   []string
	batches []int
}

func (m *recordingMetrics) ObserveItem(ctx context.Context, outcome string, duration time.Duration) {
	m.Lock()
	defer m.Unlock()
	m.items = append(m.items, outcome)
}

func (m *recordingMetrics) ObserveBatch(ctx context.Context, size int, duration time.Duration) {
	m.Lock()
	defer m.Unlock()
	m.batches = append(m.batches, size)
}

var testConfig = archive.Config{
	URLTemplate: "https://example.com/watch?v=%s",
	KeyPrefix:   "downloads/",
	Bucket:      "archive-bucket",
}

func url(id string) string { return fmt.Sprintf(testConfig.URLTemplate, id) }

func message(id string, title string) archive.Message {
	return archive.Message{ID: "msg-" + id, Body: []byte(fmt.Sprintf(`{"videoId": %q, "title": %q}`, id, title))}
}

func TestProcessBatch_ArchivesItem(t *testing.T) {
	store := newConditionalStore()
	fetcher := &fakeFetcher{}
	recorder := &recordingMetrics{}
	coordinator := archive.NewCoordinator(testConfig, store, fetcher, recorder)

	outcomes := coordinator.ProcessBatch(context.Background(), []archive.Message{message("abc123", "Some Title")})
	require.Len(t, outcomes, 1)

	outcome := outcomes[0]
	assert.Equal(t, archive.Done, outcome.State)
	assert.Equal(t, "msg-abc123", outcome.MessageID)
	assert.Equal(t, "abc123", outcome.VideoID)
	assert.Equal(t, "downloads/Some_Title_abc123.mp4", outcome.Key)
	assert.NoError(t, outcome.Err)
	assert.False(t, outcome.Redeliver())

	assert.Equal(t, []string{url("abc123")}, fetcher.calls)
	require.Equal(t, 1, store.count())
	record := store.records["abc123"]
	assert.Equal(t, "Some Title", record.Title)
	assert.Equal(t, "downloads/Some_Title_abc123.mp4", record.StorageLocation)
	assert.Equal(t, "archive-bucket", record.StorageContainer)
	assert.False(t, record.CompletedAt.IsZero())

	assert.Equal(t, []string{metrics.OutcomeDone}, recorder.items)
	assert.Equal(t, []int{1}, recorder.batches)
}

func TestProcessBatch_Idempotent(t *testing.T) {
	store := newConditionalStore()
	fetcher := &fakeFetcher{}
	coordinator := archive.NewCoordinator(testConfig, store, fetcher, nil)

	first := coordinator.ProcessBatch(context.Background(), []archive.Message{message("abc123", "Title")})
	assert.Equal(t, archive.Done, first[0].State)
	assert.Equal(t, 1, fetcher.callCount())

	second := coordinator.ProcessBatch(context.Background(), []archive.Message{message("abc123", "Title")})
	assert.Equal(t, archive.Skipped, second[0].State)
	assert.Equal(t, archive.SkipDuplicate, second[0].Skip)
	assert.False(t, second[0].Redeliver())

	assert.Equal(t, 1, fetcher.callCount(), "second delivery must not fetch again")
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, store.inserts)
}

func TestProcessBatch_ConcurrentDeliveries(t *testing.T) {
	store := newConditionalStore()

	// Both deliveries pass the pre-check before either commits
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	fetcher := &fakeFetcher{barrier: barrier}

	outcomes := make([][]archive.Outcome, 2)
	wg := sync.WaitGroup{}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coordinator := archive.NewCoordinator(testConfig, store, fetcher, nil)
			outcomes[i] = coordinator.ProcessBatch(context.Background(), []archive.Message{message("race", "Race")})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, fetcher.callCount())
	assert.Equal(t, 2, store.inserts)
	assert.Equal(t, 1, store.count(), "exactly one completion record must exist")
	for _, o := range outcomes {
		require.Len(t, o, 1)
		assert.Equal(t, archive.Done, o[0].State, "losing the conditional insert is not a failure")
		assert.NoError(t, o[0].Err)
	}
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	store := newConditionalStore()
	store.lookupError["two"] = errExpected
	fetcher := &fakeFetcher{}
	recorder := &recordingMetrics{}
	coordinator := archive.NewCoordinator(testConfig, store, fetcher, recorder)

	outcomes := coordinator.ProcessBatch(context.Background(), []archive.Message{
		message("one", "One"),
		message("two", "Two"),
		message("three", "Three"),
	})
	require.Len(t, outcomes, 3)

	assert.Equal(t, archive.Done, outcomes[0].State)
	assert.Equal(t, archive.Failed, outcomes[1].State)
	assert.ErrorIs(t, outcomes[1].Err, errExpected)
	assert.True(t, outcomes[1].Redeliver())
	assert.Equal(t, archive.Done, outcomes[2].State)

	assert.Equal(t, 2, store.count())
	assert.Equal(t, []string{metrics.OutcomeDone, metrics.OutcomeFailed, metrics.OutcomeDone}, recorder.items)
}

func TestProcessBatch_RecoversFromPanic(t *testing.T) {
	store := newConditionalStore()
	fetcher := &fakeFetcher{panicOn: url("two")}
	coordinator := archive.NewCoordinator(testConfig, store, fetcher, nil)

	outcomes := coordinator.ProcessBatch(context.Background(), []archive.Message{
		message("one", "One"),
		message("two", "Two"),
		message("three", "Three"),
	})

	assert.Equal(t, archive.Done, outcomes[0].State)
	assert.Equal(t, archive.Failed, outcomes[1].State)
	assert.Error(t, outcomes[1].Err)
	assert.Equal(t, archive.Done, outcomes[2].State)
}

func TestProcessBatch_FetchFailure(t *testing.T) {
	store := newConditionalStore()
	fetchErr := &download.FetchError{SourceURL: url("abc123")}
	fetcher := &fakeFetcher{failFor: map[string]error{url("abc123"): fetchErr}}
	recorder := &recordingMetrics{}
	coordinator := archive.NewCoordinator(testConfig, store, fetcher, recorder)

	outcomes := coordinator.ProcessBatch(context.Background(), []archive.Message{message("abc123", "Title")})

	assert.Equal(t, archive.Failed, outcomes[0].State)
	assert.ErrorIs(t, outcomes[0].Err, download.ErrAllStrategiesFailed)
	assert.True(t, outcomes[0].Redeliver())
	assert.Equal(t, 0, store.count(), "a failed fetch must leave no completion record")
	assert.Equal(t, 0, store.inserts)
	assert.Equal(t, []string{metrics.OutcomeFailed}, recorder.items)
}

func TestProcessBatch_InvalidMessages(t *testing.T) {
	store := newConditionalStore()
	fetcher := &fakeFetcher{}
	coordinator := archive.NewCoordinator(testConfig, store, fetcher, nil)

	outcomes := coordinator.ProcessBatch(context.Background(), []archive.Message{
		{ID: "not-json", Body: []byte("{not json")},
		{ID: "missing-id", Body: []byte(`{"title": "No ID"}`)},
		{ID: "path-id", Body: []byte(`{"videoId": "../etc"}`)},
		message("good", "Good"),
	})
	require.Len(t, outcomes, 4)

	for _, o := range outcomes[:3] {
		assert.Equal(t, archive.Skipped, o.State, o.MessageID)
		assert.Equal(t, archive.SkipInvalid, o.Skip, o.MessageID)
		assert.False(t, o.Redeliver(), "invalid messages must not be retried")
	}
	assert.Equal(t, archive.Done, outcomes[3].State)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestProcessBatch_DeadlineExceeded(t *testing.T) {
	store := newConditionalStore()
	fetcher := &fakeFetcher{}
	coordinator := archive.NewCoordinator(testConfig, store, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := coordinator.ProcessBatch(ctx, []archive.Message{message("one", "One"), message("two", "Two")})
	for _, o := range outcomes {
		assert.Equal(t, archive.Failed, o.State)
		assert.ErrorIs(t, o.Err, context.Canceled)
		assert.True(t, o.Redeliver())
	}
	assert.Equal(t, 0, fetcher.callCount())
	assert.Equal(t, 0, store.count())
}

func TestProcessBatch_CommitFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	coordinator := archive.NewCoordinator(testConfig, failingCommitStore{}, fetcher, nil)

	outcomes := coordinator.ProcessBatch(context.Background(), []archive.Message{message("abc123", "Title")})
	assert.Equal(t, archive.Failed, outcomes[0].State)
	assert.ErrorIs(t, outcomes[0].Err, errExpected)
}

type failingCommitStore struct{}

func (failingCommitStore) AlreadyCompleted(context.Context, string) (bool, error) { return false, nil }
func (failingCommitStore) RecordCompletion(context.Context, completion.Record) error {
	return errExpected
}
