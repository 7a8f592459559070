package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemory_Seen(t *testing.T) {
	s := NewMemory(time.Minute)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = s.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = s.Seen(ctx, "wamid.2")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestMemory_Expires(t *testing.T) {
	s := NewMemory(20 * time.Millisecond)
	ctx := context.Background()

	_, err := s.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	seen, err := s.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestMemory_EmptyID(t *testing.T) {
	_, err := NewMemory(0).Seen(context.Background(), "  ")
	require.ErrorIs(t, err, ErrEmptyID)
}

func TestNoop(t *testing.T) {
	for i := 0; i < 2; i++ {
		seen, err := Noop{}.Seen(context.Background(), "wamid.1")
		require.NoError(t, err)
		require.False(t, seen)
	}
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedis_Seen(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	require.False(t, seen)
	require.True(t, mr.Exists("wa-relay:msg:wamid.1"))
	require.Equal(t, time.Minute, mr.TTL("wa-relay:msg:wamid.1"))

	seen, err = s.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	require.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = s.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRedis_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := newRedisWithClient(client, "bot:", 0)
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Seen(context.Background(), "wamid.9")
	require.NoError(t, err)
	require.True(t, mr.Exists("bot:wamid.9"))
	require.Equal(t, DefaultTTL, mr.TTL("bot:wamid.9"))
}

func TestRedis_ServerDown(t *testing.T) {
	s, mr := newTestRedis(t)
	mr.Close()
	_, err := s.Seen(context.Background(), "wamid.1")
	require.ErrorContains(t, err, "redis setnx")
}

func TestNewRedis_Validation(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{})
	require.ErrorContains(t, err, "address is required")

	_, err = NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	require.ErrorContains(t, err, "ping failed")
}

type fakeDynamo struct {
	putErr       error
	lastPutInput *dynamodb.PutItemInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func mustNewDynamo(t *testing.T, db *fakeDynamo) *DynamoDB {
	t.Helper()
	s, err := NewDynamoDB(db, "relay-dedup", time.Hour)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return s
}

func TestDynamoDB_FirstSight(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamo(t, db)

	seen, err := s.Seen(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.False(t, seen)

	in := db.lastPutInput
	require.Equal(t, "relay-dedup", *in.TableName)
	require.Equal(t, "MSG#wamid.1", in.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "1700003600", in.Item["ttl"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "attribute_not_exists(PK) OR #ttl < :now", *in.ConditionExpression)
	require.Equal(t, "1700000000", in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoDB_Duplicate(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	s := mustNewDynamo(t, db)

	seen, err := s.Seen(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestDynamoDB_Error(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	s := mustNewDynamo(t, db)

	_, err := s.Seen(context.Background(), "wamid.1")
	require.ErrorContains(t, err, "dynamodb put item")
}

func TestNewDynamoDB_Validation(t *testing.T) {
	_, err := NewDynamoDB(nil, "t", 0)
	require.ErrorContains(t, err, "must not be nil")

	_, err = NewDynamoDB(&fakeDynamo{}, " ", 0)
	require.ErrorContains(t, err, "must not be empty")
}
