package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hbomb79/Archivist/internal/archive"
	"github.com/hbomb79/Archivist/pkg/logger"
	"github.com/hbomb79/Archivist/pkg/worker"
)

var log = logger.Get("Queue")

const (
	// Batches are cut short this long before the visibility timeout so
	// that acknowledgements land before the messages become visible again.
	visibilityMargin = 30 * time.Second
	receiveBackoff   = time.Second
	ackTimeout       = 10 * time.Second
)

type (
	SQSClient interface {
		ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
		DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	}

	batchProcessor interface {
		ProcessBatch(ctx context.Context, messages []archive.Message) []archive.Outcome
	}

	Config struct {
		URL               string        `yaml:"url" env:"QUEUE_URL" env-required:"true" validate:"required,url"`
		Workers           int           `yaml:"workers" env:"QUEUE_WORKERS" env-default:"1" validate:"min=1,max=64"`
		MaxMessages       int32         `yaml:"max_messages" env:"QUEUE_MAX_MESSAGES" env-default:"10" validate:"min=1,max=10"`
		WaitTime          time.Duration `yaml:"wait_time" env:"QUEUE_WAIT_TIME" env-default:"20s" validate:"min=0,max=20s"`
		VisibilityTimeout time.Duration `yaml:"visibility_timeout" env:"QUEUE_VISIBILITY_TIMEOUT" env-default:"15m" validate:"min=1m,max=12h"`
	}

	// Consumer long-polls a queue for batches of messages, hands each batch
	// to the processor, and acknowledges every message whose outcome does
	// not request redelivery. Failed messages are left untouched so that
	// the queue's own retry and dead-letter policy applies.
	Consumer struct {
		config    Config
		client    SQSClient
		processor batchProcessor
	}
)

func NewConsumer(config Config, client SQSClient, processor batchProcessor) *Consumer {
	return &Consumer{config: config, client: client, processor: processor}
}

// BatchTimeout is the upper bound placed on the processing of a single batch.
func (consumer *Consumer) BatchTimeout() time.Duration {
	timeout := consumer.config.VisibilityTimeout - visibilityMargin
	if timeout <= 0 {
		return consumer.config.VisibilityTimeout
	}

	return timeout
}

// Execute is the worker task for a consumer: it polls until the
// context is cancelled. A batch which is in flight when the context is
// cancelled is allowed to run to completion (bounded by BatchTimeout).
func (consumer *Consumer) Execute(ctx context.Context, w worker.Worker) error {
	for {
		w.SetStatus(worker.Sleeping)
		if ctx.Err() != nil {
			return nil
		}

		if _, err := consumer.Poll(ctx, w); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			log.Errorf("Failed to receive from queue worker=%s error=%q\n", w.Label(), err)
			select {
			case <-time.After(receiveBackoff):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Poll performs a single receive and processes the resulting batch (if
// any), returning the outcomes produced.
func (consumer *Consumer) Poll(ctx context.Context, w worker.Worker) ([]archive.Outcome, error) {
	out, err := consumer.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(consumer.config.URL),
		MaxNumberOfMessages: consumer.config.MaxMessages,
		WaitTimeSeconds:     int32(consumer.config.WaitTime / time.Second),
		VisibilityTimeout:   int32(consumer.config.VisibilityTimeout / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	w.SetStatus(worker.Working)
	messages := make([]archive.Message, len(out.Messages))
	for i, m := range out.Messages {
		messages[i] = archive.Message{ID: aws.ToString(m.MessageId), Body: []byte(aws.ToString(m.Body))}
	}

	// Shutdown stops polling, but never interrupts a batch already received
	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consumer.BatchTimeout())
	defer cancel()
	outcomes := consumer.processor.ProcessBatch(batchCtx, messages)

	if err := consumer.acknowledge(ctx, out.Messages, outcomes); err != nil {
		log.Warnf("Failed to acknowledge batch worker=%s error=%q\n", w.Label(), err)
	}

	return outcomes, nil
}

// acknowledge deletes every message from the queue whose outcome does
// not request redelivery.
func (consumer *Consumer) acknowledge(ctx context.Context, received []sqstypes.Message, outcomes []archive.Outcome) error {
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(outcomes))
	for i, outcome := range outcomes {
		if outcome.Redeliver() {
			continue
		}

		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: received[i].ReceiptHandle,
		})
	}
	if len(entries) == 0 {
		return nil
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	out, err := consumer.client.DeleteMessageBatch(ackCtx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(consumer.config.URL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	var errs []error
	for _, failed := range out.Failed {
		errs = append(errs, fmt.Errorf("entry %s: %s (%s)", aws.ToString(failed.Id), aws.ToString(failed.Message), aws.ToString(failed.Code)))
	}

	return errors.Join(errs...)
}
