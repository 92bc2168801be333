// Package wallet keeps per-user USD balances. Every balance change is written
// in the same DynamoDB transaction as an audit entry keyed by order id, so an
// order can move money at most once.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-topup-payflow/internal/aws"
	"github.com/imrishuroy/go-topup-payflow/internal/money"
)

var (
	ErrAlreadyCredited   = errors.New("order already has a ledger entry")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrMissingUser       = errors.New("user id is required")
)

type EntryKind string

const (
	EntryCredit EntryKind = "credit"
	EntryDebit  EntryKind = "debit"
)

// Entry is one row of the ledger audit table.
type Entry struct {
	OrderID   string       `dynamodbav:"order_id" json:"order_id"` // PK
	UserID    string       `dynamodbav:"user_id" json:"user_id"`
	Kind      EntryKind    `dynamodbav:"kind" json:"kind"`
	AmountUSD money.Amount `dynamodbav:"amount_usd" json:"amount_usd"`
	CreatedAt time.Time    `dynamodbav:"created_at" json:"created_at"`
}

type balanceRow struct {
	UserID     string       `dynamodbav:"user_id"`
	BalanceUSD money.Amount `dynamodbav:"balance_usd"`
}

// Ledger wraps the wallets and ledger tables.
type Ledger struct {
	client       aws.DynamoDBAPI
	walletsTable string
	ledgerTable  string
	nowFunc      func() time.Time
}

func NewLedger(client aws.DynamoDBAPI, walletsTable, ledgerTable string) *Ledger {
	return &Ledger{
		client:       client,
		walletsTable: walletsTable,
		ledgerTable:  ledgerTable,
		nowFunc:      time.Now,
	}
}

// Credit adds amount to the user's balance and records the audit entry for
// orderID in one transaction. Returns the balance after the credit.
func (l *Ledger) Credit(ctx context.Context, userID, orderID string, amount money.Amount) (money.Amount, error) {
	if userID == "" {
		return money.Zero, ErrMissingUser
	}
	if !amount.IsPositive() {
		return money.Zero, ErrInvalidAmount
	}
	amt, _ := amount.MarshalDynamoDBAttributeValue()
	now := l.nowFunc().UTC()

	entry, err := l.entryItem(Entry{OrderID: orderID, UserID: userID, Kind: EntryCredit, AmountUSD: amount, CreatedAt: now})
	if err != nil {
		return money.Zero, err
	}

	_, err = l.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:        &l.walletsTable,
					Key:              userKey(userID),
					UpdateExpression: awsString("ADD balance_usd :amt SET updated_at = :now"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":amt": amt,
						":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           &l.ledgerTable,
					Item:                entry,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	})
	if err != nil {
		if failedAt(err, 1) {
			return money.Zero, ErrAlreadyCredited
		}
		return money.Zero, fmt.Errorf("credit transaction: %w", err)
	}
	return l.Balance(ctx, userID)
}

// Debit subtracts amount from the user's balance if it covers it, recording
// the audit entry for orderID in the same transaction.
func (l *Ledger) Debit(ctx context.Context, userID, orderID string, amount money.Amount) (money.Amount, error) {
	if userID == "" {
		return money.Zero, ErrMissingUser
	}
	if !amount.IsPositive() {
		return money.Zero, ErrInvalidAmount
	}
	amt, _ := amount.MarshalDynamoDBAttributeValue()
	now := l.nowFunc().UTC()

	entry, err := l.entryItem(Entry{OrderID: orderID, UserID: userID, Kind: EntryDebit, AmountUSD: amount, CreatedAt: now})
	if err != nil {
		return money.Zero, err
	}

	_, err = l.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           &l.walletsTable,
					Key:                 userKey(userID),
					UpdateExpression:    awsString("SET balance_usd = balance_usd - :amt, updated_at = :now"),
					ConditionExpression: awsString("balance_usd >= :amt"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":amt": amt,
						":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           &l.ledgerTable,
					Item:                entry,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	})
	if err != nil {
		switch {
		case failedAt(err, 0):
			return money.Zero, ErrInsufficientFunds
		case failedAt(err, 1):
			return money.Zero, ErrAlreadyCredited
		}
		return money.Zero, fmt.Errorf("debit transaction: %w", err)
	}
	return l.Balance(ctx, userID)
}

// Balance returns the user's balance; users without a row have zero.
func (l *Ledger) Balance(ctx context.Context, userID string) (money.Amount, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.walletsTable,
		Key:            userKey(userID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return money.Zero, fmt.Errorf("get wallet: %w", err)
	}
	if len(out.Item) == 0 {
		return money.Zero, nil
	}
	var row balanceRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return money.Zero, fmt.Errorf("unmarshal wallet: %w", err)
	}
	return row.BalanceUSD, nil
}

// Audit returns the ledger entry for orderID, or (nil, nil) if none exists.
func (l *Ledger) Audit(ctx context.Context, orderID string) (*Entry, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.ledgerTable,
		Key:            map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshal ledger entry: %w", err)
	}
	return &e, nil
}

func (l *Ledger) entryItem(e Entry) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger entry: %w", err)
	}
	return item, nil
}

// failedAt reports whether a cancelled transaction failed the condition of item i.
func failedAt(err error, i int) bool {
	var tc *types.TransactionCanceledException
	if !errors.As(err, &tc) || i >= len(tc.CancellationReasons) {
		return false
	}
	code := tc.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"user_id": &types.AttributeValueMemberS{Value: userID}}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
