package checkpoint

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue // upload_key -> item
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func itemCount(item map[string]types.AttributeValue) int64 {
	attr, ok := item["chunk_count"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(attr.Value, 10, 64)
	return n
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := params.Item["upload_key"].(*types.AttributeValueMemberS).Value

	// Emulate "attribute_not_exists(upload_key) OR chunk_count <= :count".
	if params.ConditionExpression != nil {
		if existing, ok := m.items[key]; ok {
			countAttr := params.ExpressionAttributeValues[":count"].(*types.AttributeValueMemberN)
			newCount, _ := strconv.ParseInt(countAttr.Value, 10, 64)
			if itemCount(existing) > newCount {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
			}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := params.Key["upload_key"].(*types.AttributeValueMemberS).Value
	if item, ok := m.items[key]; ok {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := params.Key["upload_key"].(*types.AttributeValueMemberS).Value
	delete(m.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDDB_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewDDB(newMockDDBClient(), "blobfs-checkpoints")

	_, err := store.Load(ctx, "data/f")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, "data/f", token(4)))

	got, err := store.Load(ctx, "data/f")
	require.NoError(t, err)
	assert.Equal(t, token(4), got)
}

func TestDDB_MonotonicProgress(t *testing.T) {
	ctx := context.Background()
	store := NewDDB(newMockDDBClient(), "blobfs-checkpoints")

	require.NoError(t, store.Save(ctx, "data/f", token(2)))

	// Progress may repeat or advance but never rewind.
	assert.NoError(t, store.Save(ctx, "data/f", token(2)))
	assert.NoError(t, store.Save(ctx, "data/f", token(3)))
	assert.ErrorIs(t, store.Save(ctx, "data/f", token(1)), ErrConcurrentModification)

	got, err := store.Load(ctx, "data/f")
	require.NoError(t, err)
	assert.Equal(t, token(3), got)
}

func TestDDB_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewDDB(newMockDDBClient(), "blobfs-checkpoints")

	require.NoError(t, store.Save(ctx, "data/f", token(1)))
	require.NoError(t, store.Clear(ctx, "data/f"))

	_, err := store.Load(ctx, "data/f")
	assert.ErrorIs(t, err, ErrNotFound)

	// Clearing again is fine.
	assert.NoError(t, store.Clear(ctx, "data/f"))
}

func TestDDB_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := NewDDB(newMockDDBClient(), "blobfs-checkpoints")

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(count int32) {
			defer wg.Done()
			err := store.Save(ctx, "data/f", token(count))
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				successes++
			case ErrConcurrentModification:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int32(i))
	}
	wg.Wait()

	assert.Greater(t, successes, 0, "at least one writer should succeed")
	t.Logf("successes: %d, conflicts: %d", successes, conflicts)
}

func TestDDB_IsolatedKeys(t *testing.T) {
	ctx := context.Background()
	store := NewDDB(newMockDDBClient(), "blobfs-checkpoints")

	require.NoError(t, store.Save(ctx, "a/f", token(1)))
	require.NoError(t, store.Save(ctx, "b/f", token(9)))

	got, err := store.Load(ctx, "a/f")
	require.NoError(t, err)
	assert.Equal(t, token(1), got)
}

func TestDDB_TokenCount(t *testing.T) {
	tests := []struct {
		name  string
		token []byte
		want  int32
	}{
		{name: "nil", token: nil, want: 0},
		{name: "short", token: []byte{1, 2, 3}, want: 0},
		{name: "zero", token: token(0), want: 0},
		{name: "positive", token: token(255), want: 255},
		{name: "negative treated as zero", token: []byte{0xFF, 0xFF, 0xFF, 0xFF}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenCount(tt.token))
		})
	}
}
