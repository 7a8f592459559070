package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDB records message ids in a table keyed by PK, expiring them
// through the table's "ttl" attribute.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoDB creates a DynamoDB-backed Store.
func NewDynamoDB(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("dedup: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dedup: table name must not be empty")
	}
	return &DynamoDB{api: api, tableName: tableName, ttl: ttlOrDefault(ttl), now: time.Now}, nil
}

// msgPK returns the partition key for a message id.
func msgPK(messageID string) string {
	return "MSG#" + messageID
}

func (d *DynamoDB) Seen(ctx context.Context, messageID string) (bool, error) {
	id, err := normalizeID(messageID)
	if err != nil {
		return false, err
	}
	now := d.now().UTC()
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: msgPK(id)},
			"messageId":  &types.AttributeValueMemberS{Value: id},
			"receivedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(d.ttl).Unix(), 10)},
		},
		// Expired items linger until DynamoDB sweeps them, so the condition
		// also accepts rows whose ttl already passed.
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return true, nil
		}
		return false, fmt.Errorf("dedup: dynamodb put item: %w", err)
	}
	return false, nil
}
