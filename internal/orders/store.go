package orders

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
	"github.com/imrishuroy/go-topup-payflow/internal/aws"
	"github.com/imrishuroy/go-topup-payflow/internal/money"
)

var (
	// ErrStatusMismatch means the conditional write found a different status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	ErrOrderExists    = errors.New("order already exists")
	ErrRefAlreadySet  = errors.New("notification ref already set")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *Store) key(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

// Create persists a new order. It fails with ErrOrderExists if the id is taken.
func (s *Store) Create(ctx context.Context, o Order) error {
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.ProviderDetails == nil {
		// nested SETs need the map to exist
		o.ProviderDetails = map[string]string{}
	}

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrOrderExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// updateBuilder accumulates SET/REMOVE actions and their placeholders.
type updateBuilder struct {
	sets    []string
	removes []string
	names   map[string]string
	values  map[string]types.AttributeValue
	n       int
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{
		names:  map[string]string{"#s": "status"},
		values: map[string]types.AttributeValue{},
	}
}

func (b *updateBuilder) value(v types.AttributeValue) string {
	b.n++
	k := ":v" + strconv.Itoa(b.n)
	b.values[k] = v
	return k
}

func (b *updateBuilder) set(path string, v types.AttributeValue) {
	b.sets = append(b.sets, path+" = "+b.value(v))
}

func (b *updateBuilder) expression() string {
	expr := "SET " + strings.Join(b.sets, ", ")
	if len(b.removes) > 0 {
		expr += " REMOVE " + strings.Join(b.removes, ", ")
	}
	return expr
}

// Update adds attribute changes to a status transition.
type Update func(b *updateBuilder)

// WithProviderDetails merges keys into provider_details.
func WithProviderDetails(details map[string]string) Update {
	return func(b *updateBuilder) {
		for k, v := range details {
			b.n++
			name := "#pd" + strconv.Itoa(b.n)
			b.names[name] = k
			b.set("provider_details."+name, &types.AttributeValueMemberS{Value: v})
		}
	}
}

// WithCredit records the credited USD amount on the order.
func WithCredit(amount money.Amount, at time.Time) Update {
	return func(b *updateBuilder) {
		av, _ := amount.MarshalDynamoDBAttributeValue()
		b.set("credited_usd", av)
		b.set("credited_at", &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)})
	}
}

// WithNote replaces status_note.
func WithNote(note string) Update {
	return func(b *updateBuilder) {
		b.set("status_note", &types.AttributeValueMemberS{Value: note})
	}
}

// Transition moves the order to `to` only if its current status is one of `from`
// and every from -> to edge is allowed. Returns the updated order, or
// ErrStatusMismatch if the stored status was not in `from`.
func (s *Store) Transition(ctx context.Context, orderID string, from []Status, to Status, updates ...Update) (*Order, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no source status given", ErrInvalidTransition)
	}
	for _, f := range from {
		if !CanTransition(f, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f, to)
		}
	}

	b := newUpdateBuilder()
	b.set("#s", &types.AttributeValueMemberS{Value: string(to)})
	b.set("updated_at", &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)})
	for _, u := range updates {
		u(b)
	}
	if to != StatusCrediting {
		b.removes = append(b.removes, "claimed_from", "claimed_at")
	}

	placeholders := make([]string, 0, len(from))
	for _, f := range from {
		placeholders = append(placeholders, b.value(&types.AttributeValueMemberS{Value: string(f)}))
	}
	cond := "#s IN (" + strings.Join(placeholders, ", ") + ")"

	return s.update(ctx, orderID, cond, b)
}

// Claim flips the order into StatusCrediting from the status the caller observed.
// Claims older than staleAfter can be taken over; the original claimed_from is kept.
func (s *Store) Claim(ctx context.Context, orderID string, observed Status, staleAfter time.Duration) (*Order, error) {
	now := s.nowFunc().UTC()
	b := newUpdateBuilder()
	b.set("updated_at", &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)})
	b.set("claimed_at", &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)})

	claim := b.value(&types.AttributeValueMemberS{Value: string(StatusCrediting)})
	var cond string
	if observed == StatusCrediting {
		stale := b.value(&types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(-staleAfter).UnixMilli(), 10)})
		cond = "#s = " + claim + " AND claimed_at < " + stale
	} else {
		if !CanTransition(observed, StatusCrediting) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, observed, StatusCrediting)
		}
		expected := b.value(&types.AttributeValueMemberS{Value: string(observed)})
		b.sets = append(b.sets, "#s = "+claim, "claimed_from = "+expected)
		cond = "#s = " + expected
	}

	return s.update(ctx, orderID, cond, b)
}

// Release gives up a claim and restores the status it was taken from.
func (s *Store) Release(ctx context.Context, orderID string, restore Status, note string) (*Order, error) {
	return s.Transition(ctx, orderID, []Status{StatusCrediting}, restore, WithNote(note))
}

func (s *Store) update(ctx context.Context, orderID, cond string, b *updateBuilder) (*Order, error) {
	names := b.names
	if len(names) == 0 {
		names = nil
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(orderID),
		UpdateExpression:          awsString(b.expression()),
		ConditionExpression:       awsString(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: b.values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// MergeProviderDetails writes provider identifiers without touching status.
func (s *Store) MergeProviderDetails(ctx context.Context, orderID string, details map[string]string) error {
	if len(details) == 0 {
		return nil
	}
	b := newUpdateBuilder()
	delete(b.names, "#s")
	b.set("updated_at", &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)})
	WithProviderDetails(details)(b)
	_, err := s.update(ctx, orderID, "attribute_exists(order_id)", b)
	return err
}

// SetNotificationRef records the operator chat message once.
func (s *Store) SetNotificationRef(ctx context.Context, orderID string, ref NotificationRef) error {
	av, err := attributevalue.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal notification ref: %w", err)
	}
	b := newUpdateBuilder()
	delete(b.names, "#s")
	b.set("notification_ref", av)
	_, err = s.update(ctx, orderID, "attribute_exists(order_id) AND attribute_not_exists(notification_ref)", b)
	if errors.Is(err, ErrStatusMismatch) {
		return ErrRefAlreadySet
	}
	return err
}

// ClearNotificationControls marks the chat message as having no inline controls.
func (s *Store) ClearNotificationControls(ctx context.Context, orderID string) error {
	b := newUpdateBuilder()
	delete(b.names, "#s")
	b.set("notification_ref.has_controls", &types.AttributeValueMemberBOOL{Value: false})
	_, err := s.update(ctx, orderID, "attribute_exists(notification_ref)", b)
	return err
}

// DeletePending removes an order that never left StatusPending. Used as
// compensation when invoice creation fails before any payment.
func (s *Store) DeletePending(ctx context.Context, orderID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(orderID),
		ConditionExpression:       awsString("#s = :pending"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pending": &types.AttributeValueMemberS{Value: string(StatusPending)}},
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
