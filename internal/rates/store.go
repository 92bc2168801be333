// Package rates reads and writes the single stored exchange rate
// (local currency units per USD).
package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-topup-payflow/internal/aws"
	"github.com/shopspring/decimal"
)

const settingKey = "exchange_rate"

var (
	ErrNotSet      = errors.New("exchange rate not set")
	ErrInvalidRate = errors.New("exchange rate must be positive")
)

// Default applies when the stored rate cannot be read.
var Default = decimal.NewFromInt(1)

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Get returns the stored rate. ErrNotSet if no rate was ever written.
func (s *Store) Get(ctx context.Context) (decimal.Decimal, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key(),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get rate: %w", err)
	}
	v, ok := out.Item["value"]
	if !ok {
		return decimal.Zero, ErrNotSet
	}
	var raw string
	switch av := v.(type) {
	case *types.AttributeValueMemberN:
		raw = av.Value
	case *types.AttributeValueMemberS:
		raw = av.Value
	default:
		return decimal.Zero, fmt.Errorf("rate has type %T", v)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", raw, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return rate, nil
}

// GetOrDefault returns the stored rate, or Default together with the read error.
func (s *Store) GetOrDefault(ctx context.Context) (decimal.Decimal, error) {
	rate, err := s.Get(ctx)
	if err != nil {
		return Default, err
	}
	return rate, nil
}

func (s *Store) Set(ctx context.Context, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ErrInvalidRate
	}
	_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]types.AttributeValue{
			"setting_key": &types.AttributeValueMemberS{Value: settingKey},
			"value":       &types.AttributeValueMemberN{Value: rate.String()},
			"updated_at":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("put rate: %w", err)
	}
	return nil
}

func key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"setting_key": &types.AttributeValueMemberS{Value: settingKey}}
}
