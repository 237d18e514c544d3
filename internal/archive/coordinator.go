package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Archivist/internal/completion"
	"github.com/hbomb79/Archivist/internal/download"
	"github.com/hbomb79/Archivist/internal/metrics"
	"github.com/hbomb79/Archivist/pkg/logger"
)

var log = logger.Get("Archive")

const DefaultURLTemplate = "https://www.youtube.com/watch?v=%s"

type (
	fetcher interface {
		Fetch(ctx context.Context, itemURL string, destinationKey string) (*download.Result, error)
	}

	Config struct {
		// URLTemplate is formatted with the item's ID to produce the URL
		// handed to the extractor.
		URLTemplate string

		// KeyPrefix is prepended to every destination key.
		KeyPrefix string

		// Bucket is the storage container recorded against each completion.
		Bucket string
	}

	// Coordinator drives a batch of delivered messages through the archive
	// pipeline: completion pre-check, fetch and upload, and completion commit.
	// Items are processed strictly one after another, and a failure of one item
	// never affects its siblings.
	Coordinator struct {
		config  Config
		store   completion.Store
		fetcher fetcher
		metrics metrics.Recorder
		now     func() time.Time
	}
)

func NewCoordinator(config Config, store completion.Store, fetcher fetcher, recorder metrics.Recorder) *Coordinator {
	if config.URLTemplate == "" {
		config.URLTemplate = DefaultURLTemplate
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	return &Coordinator{
		config:  config,
		store:   store,
		fetcher: fetcher,
		metrics: recorder,
		now:     time.Now,
	}
}

// ProcessBatch processes every message provided and returns one Outcome per
// message, in the same order. It never fails as a whole; per-item errors are
// captured in the returned outcomes.
func (coordinator *Coordinator) ProcessBatch(ctx context.Context, messages []Message) []Outcome {
	batchID := uuid.NewString()
	started := coordinator.now()
	log.Emit(logger.NEW, "Batch started batch=%s size=%d\n", batchID, len(messages))

	outcomes := make([]Outcome, len(messages))
	counts := make(map[State]int)
	for i, message := range messages {
		itemStarted := coordinator.now()
		outcome := coordinator.processMessage(ctx, message)
		outcome.Duration = coordinator.now().Sub(itemStarted)

		coordinator.metrics.ObserveItem(ctx, metricOutcome(outcome.State), outcome.Duration)
		counts[outcome.State]++
		outcomes[i] = outcome
	}

	elapsed := coordinator.now().Sub(started)
	coordinator.metrics.ObserveBatch(ctx, len(messages), elapsed)
	log.Emit(logger.STOP, "Batch complete batch=%s size=%d done=%d skipped=%d failed=%d elapsed=%s\n",
		batchID, len(messages), counts[Done], counts[Skipped], counts[Failed], elapsed.Truncate(time.Millisecond))

	return outcomes
}

// processMessage runs a single message to a terminal state. Panics raised
// by collaborators are recovered and reported as a failure of this item only.
func (coordinator *Coordinator) processMessage(ctx context.Context, message Message) (outcome Outcome) {
	outcome = Outcome{MessageID: message.ID, State: Pending}
	defer func() {
		if r := recover(); r != nil {
			outcome.State = Failed
			outcome.Err = fmt.Errorf("panic while processing message: %v", r)
			log.Errorf("Item failed message=%s video=%s state=PANIC error=%q\n", message.ID, outcome.VideoID, outcome.Err)
		}
	}()

	item, err := ParseItem(message.Body)
	if err != nil {
		log.Warnf("Skipping invalid message message=%s error=%q\n", message.ID, err)
		outcome.State = Skipped
		outcome.Skip = SkipInvalid
		outcome.Err = err
		return outcome
	}

	outcome.VideoID = item.VideoID
	if err := coordinator.process(ctx, item, &outcome); err != nil {
		log.Errorf("Item failed message=%s video=%s state=%s error=%q\n", message.ID, item.VideoID, outcome.State, err)
		outcome.State = Failed
		outcome.Err = err
	}

	return outcome
}

// process advances the outcome through the pipeline states. On return
// without error the outcome is in a terminal state; on error the outcome
// holds the state the item failed in.
func (coordinator *Coordinator) process(ctx context.Context, item *Item, outcome *Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch deadline reached before item started: %w", err)
	}

	outcome.State = Checking
	completed, err := coordinator.store.AlreadyCompleted(ctx, item.VideoID)
	if err != nil {
		return err
	}
	if completed {
		log.Infof("Skipping already archived item video=%s\n", item.VideoID)
		outcome.State = Skipped
		outcome.Skip = SkipDuplicate
		return nil
	}

	outcome.State = Fetching
	outcome.Key = DestinationKey(coordinator.config.KeyPrefix, item)
	url := fmt.Sprintf(coordinator.config.URLTemplate, item.VideoID)
	log.Infof("Fetching item video=%s url=%s key=%s\n", item.VideoID, url, outcome.Key)
	result, err := coordinator.fetcher.Fetch(ctx, url, outcome.Key)
	if err != nil {
		return err
	}

	outcome.State = Committing
	record := completion.Record{
		ID:               item.VideoID,
		Title:            item.Title,
		StorageLocation:  result.Key,
		StorageContainer: coordinator.config.Bucket,
		CompletedAt:      coordinator.now().UTC(),
	}
	if err := coordinator.store.RecordCompletion(ctx, record); err != nil {
		if !errors.Is(err, completion.ErrAlreadyRecorded) {
			return err
		}

		log.Infof("Item was recorded by a concurrent delivery video=%s\n", item.VideoID)
	}

	outcome.State = Done
	log.Successf("Item archived video=%s key=%s client=%s bytes=%d\n", item.VideoID, result.Key, result.Client, result.Size)
	return nil
}

func metricOutcome(state State) string {
	switch state {
	case Done:
		return metrics.OutcomeDone
	case Skipped:
		return metrics.OutcomeSkipped
	default:
		return metrics.OutcomeFailed
	}
}
