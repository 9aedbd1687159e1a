package s3

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/envgo"
)

// mockLockClient is an in-memory DynamoDB mock honoring the two conditional
// expressions the lock protocol uses.
type mockLockClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMockLockClient() *mockLockClient {
	return &mockLockClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockLockClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := params.Item["lock_path"].(*types.AttributeValueMemberS).Value

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(lock_path)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockLockClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := params.Key["lock_path"].(*types.AttributeValueMemberS).Value
	item, exists := m.items[key]

	if params.ConditionExpression != nil {
		owner := params.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value
		if !exists || item["owner"].(*types.AttributeValueMemberS).Value != owner {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	delete(m.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newLockEnv(ddb DynamoDBClient) *Env {
	return NewWithClient(new(MockClient), "test-bucket",
		WithPrefix("db"),
		WithLockTable("envgo-locks"),
		WithDynamoDBClient(ddb),
	)
}

func TestLockFile(t *testing.T) {
	ddb := newMockLockClient()
	env := newLockEnv(ddb)

	lock, err := env.LockFile("LOCK")
	require.NoError(t, err)
	assert.Equal(t, "LOCK", lock.Path())

	t.Run("contention fails fast", func(t *testing.T) {
		other := newLockEnv(ddb)

		_, err := other.LockFile("LOCK")
		require.Error(t, err)
		assert.True(t, envgo.IsLocked(err))
	})

	t.Run("not reentrant", func(t *testing.T) {
		_, err := env.LockFile("LOCK")
		assert.True(t, envgo.IsLocked(err))
	})

	t.Run("different names do not contend", func(t *testing.T) {
		lock2, err := env.LockFile("other/LOCK")
		require.NoError(t, err)
		require.NoError(t, env.UnlockFile(lock2))
	})

	require.NoError(t, env.UnlockFile(lock))

	t.Run("released lock is reacquirable", func(t *testing.T) {
		again, err := env.LockFile("LOCK")
		require.NoError(t, err)
		require.NoError(t, env.UnlockFile(again))
	})
}

func TestUnlockFile(t *testing.T) {
	ddb := newMockLockClient()
	env := newLockEnv(ddb)

	lock, err := env.LockFile("LOCK")
	require.NoError(t, err)
	require.NoError(t, env.UnlockFile(lock))

	t.Run("double release", func(t *testing.T) {
		assert.ErrorIs(t, env.UnlockFile(lock), envgo.ErrInvalidArgument)
	})

	t.Run("foreign token", func(t *testing.T) {
		mem := envgo.NewMemEnv()
		foreign, err := mem.LockFile("LOCK")
		require.NoError(t, err)

		assert.ErrorIs(t, env.UnlockFile(foreign), envgo.ErrInvalidArgument)
		assert.ErrorIs(t, env.UnlockFile(nil), envgo.ErrInvalidArgument)
	})

	t.Run("token from another environment", func(t *testing.T) {
		other := newLockEnv(ddb)
		otherLock, err := other.LockFile("OTHER")
		require.NoError(t, err)

		assert.ErrorIs(t, env.UnlockFile(otherLock), envgo.ErrInvalidArgument)
		require.NoError(t, other.UnlockFile(otherLock))
	})
}

// A token left over from a lost lock must not release the current holder.
func TestUnlockStolenLock(t *testing.T) {
	ddb := newMockLockClient()
	env1 := newLockEnv(ddb)
	env2 := newLockEnv(ddb)

	stale, err := env1.LockFile("LOCK")
	require.NoError(t, err)

	// Simulate an operator clearing the item, then another process
	// acquiring the lock.
	ddb.mu.Lock()
	for key := range ddb.items {
		delete(ddb.items, key)
	}
	ddb.mu.Unlock()

	current, err := env2.LockFile("LOCK")
	require.NoError(t, err)

	err = env1.UnlockFile(stale)
	assert.ErrorIs(t, err, envgo.ErrInvalidArgument)

	// env2 still holds the lock.
	_, err = env1.LockFile("LOCK")
	assert.True(t, envgo.IsLocked(err))
	require.NoError(t, env2.UnlockFile(current))
}

func TestLockFileWithoutTable(t *testing.T) {
	env := NewWithClient(new(MockClient), "test-bucket")

	_, err := env.LockFile("LOCK")
	require.Error(t, err)
	assert.True(t, envgo.IsNotSupported(err))
}

func TestLockFileTableWithoutClient(t *testing.T) {
	env := NewWithClient(new(MockClient), "test-bucket", WithLockTable("envgo-locks"))

	_, err := env.LockFile("LOCK")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoLockTable)
	assert.False(t, envgo.IsNotSupported(err))
}

func TestLockURIsScopeByBucketAndPrefix(t *testing.T) {
	ddb := newMockLockClient()

	envA := NewWithClient(new(MockClient), "bucket-a", WithLockTable("t"), WithDynamoDBClient(ddb))
	envB := NewWithClient(new(MockClient), "bucket-b", WithLockTable("t"), WithDynamoDBClient(ddb))

	lockA, err := envA.LockFile("LOCK")
	require.NoError(t, err)
	lockB, err := envB.LockFile("LOCK")
	require.NoError(t, err)

	require.NoError(t, envA.UnlockFile(lockA))
	require.NoError(t, envB.UnlockFile(lockB))
}
