// Package idempotency journals webhook deliveries so providers' retries of a
// delivery that was already handled are acknowledged without reprocessing.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/go-topup-payflow/internal/aws"
)

// Store encapsulates journal operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	lease     time.Duration // IN_PROGRESS entries older than this can be re-claimed
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long entries live (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		lease:     5 * time.Minute,
		nowFunc:   time.Now,
	}
}

// Key builds the journal key of one delivery.
func Key(provider, orderID, txnID, status string) string {
	return strings.Join([]string{provider, orderID, txnID, strings.ToLower(status)}, ":")
}

// Begin claims a delivery for processing.
// Returns (true, nil) when the caller should process it: the key is new, its
// previous attempt FAILED, its IN_PROGRESS lease ran out, or the entry expired.
// Returns (false, nil) when another attempt is done or still running.
func (s *Store) Begin(ctx context.Context, key, orderID string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := Delivery{
		DeliveryKey: key,
		Status:      StatusInProgress,
		OrderID:     orderID,
		StartedAt:   now.Unix(),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
		ConditionExpression: awsString("attribute_not_exists(delivery_key) OR #s = :failed OR " +
			"(#s = :inprogress AND started_at < :stale) OR expires_at < :now"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":stale":      &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(-s.lease).Unix(), 10)},
			":now":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		// detect conditional check failure
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}

	return true, nil
}

// Get retrieves a journal entry by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Delivery, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"delivery_key": &types.AttributeValueMemberS{Value: key},
		},
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Delivery
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone records the reconciliation outcome of a delivery.
func (s *Store) MarkDone(ctx context.Context, key, outcome string) error {
	return s.finish(ctx, key, StatusDone, "outcome", outcome)
}

// MarkFailed lets the next retry of the delivery be processed again.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.finish(ctx, key, StatusFailed, "note", note)
}

func (s *Store) finish(ctx context.Context, key, status, attr, text string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"delivery_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    awsString("SET #s = :st, #a = :t, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(delivery_key)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
			"#a": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st": &types.AttributeValueMemberS{Value: status},
			":t":  &types.AttributeValueMemberS{Value: text},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item (mark %s): %w", strings.ToLower(status), err)
	}
	return nil
}

// Helper
func awsString(s string) *string { return &s }
