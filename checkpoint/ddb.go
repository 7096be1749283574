package checkpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentModification is returned when a Save would regress the stored
// progress, which means another writer is working on the same upload.
var ErrConcurrentModification = errors.New("checkpoint: concurrent modification detected")

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DDB implements Store backed by a DynamoDB table, providing the
// compare-and-swap semantics a shared checkpoint needs when uploads may be
// resumed from any host.
//
// Progress only ever grows within one upload, so Save uses a conditional
// write that rejects regressions: a stale writer (for example, a process that
// lost the upload and was restarted elsewhere) gets ErrConcurrentModification
// instead of silently rewinding the checkpoint.
//
// Table schema:
//   - Partition key: upload_key (string) - the object key being uploaded
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name blobfs-checkpoints \
//	  --attribute-definitions AttributeName=upload_key,AttributeType=S \
//	  --key-schema AttributeName=upload_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DDB struct {
	client    DDBClient
	tableName string
}

// NewDDB creates a DynamoDB-backed checkpoint store using tableName.
func NewDDB(client DDBClient, tableName string) *DDB {
	return &DDB{
		client:    client,
		tableName: tableName,
	}
}

// Save implements Store. The token's chunk count must be monotonically
// non-decreasing for a given key; regressions fail with
// ErrConcurrentModification.
func (d *DDB) Save(ctx context.Context, key string, token []byte) error {
	count := tokenCount(token)

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"upload_key":  &types.AttributeValueMemberS{Value: key},
			"token":       &types.AttributeValueMemberB{Value: token},
			"chunk_count": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", count)},
			"updated_at":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
		},
		ConditionExpression: aws.String("attribute_not_exists(upload_key) OR chunk_count <= :count"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":count": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", count)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store. Reads are strongly consistent so a resuming process
// always observes the latest saved progress.
func (d *DDB) Load(ctx context.Context, key string) ([]byte, error) {
	resp, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"upload_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if resp.Item == nil {
		return nil, ErrNotFound
	}

	tokenAttr, ok := resp.Item["token"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, errors.New("checkpoint: invalid token attribute in DynamoDB")
	}
	return tokenAttr.Value, nil
}

// Clear implements Store.
func (d *DDB) Clear(ctx context.Context, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"upload_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

// tokenCount extracts the chunk count from a 4-byte little-endian resume
// token. Malformed tokens count as zero, matching how the upload engine
// treats them.
func tokenCount(token []byte) int32 {
	if len(token) < 4 {
		return 0
	}
	count := int32(binary.LittleEndian.Uint32(token))
	if count < 0 {
		return 0
	}
	return count
}
