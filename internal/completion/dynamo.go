package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hbomb79/Archivist/pkg/logger"
)

var log = logger.Get("CompletionStore")

// DynamoDBClient defines the DynamoDB operations used by the DynamoStore.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore is a Store backed by a DynamoDB table whose partition key is
// the string attribute 'id'. Inserts are guarded by a condition expression,
// which DynamoDB evaluates atomically server-side.
type DynamoStore struct {
	client DynamoDBClient
	table  string
}

func NewDynamoStore(client DynamoDBClient, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (store *DynamoStore) AlreadyCompleted(ctx context.Context, id string) (bool, error) {
	out, err := store.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(store.table),
		Key:                  map[string]dbtypes.AttributeValue{"id": &dbtypes.AttributeValueMemberS{Value: id}},
		ProjectionExpression: aws.String("id"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up completion for %s: %w", id, err)
	}

	return len(out.Item) > 0, nil
}

func (store *DynamoStore) RecordCompletion(ctx context.Context, record Record) error {
	_, err := store.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(store.table),
		Item: map[string]dbtypes.AttributeValue{
			"id":               &dbtypes.AttributeValueMemberS{Value: record.ID},
			"title":            &dbtypes.AttributeValueMemberS{Value: record.Title},
			"storageLocation":  &dbtypes.AttributeValueMemberS{Value: record.StorageLocation},
			"storageContainer": &dbtypes.AttributeValueMemberS{Value: record.StorageContainer},
			"completedAt":      &dbtypes.AttributeValueMemberS{Value: record.CompletedAt.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var conditionErr *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			log.Debugf("Completion for %s already exists in %s\n", record.ID, store.table)
			return ErrAlreadyRecorded
		}

		return fmt.Errorf("failed to record completion for %s: %w", record.ID, err)
	}

	return nil
}
