// Package dynamotest provides an in-memory DynamoDB used by store tests.
// It understands the condition and update expressions the stores emit and
// reproduces DynamoDB's conditional-failure error types.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake is a concurrency-safe in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]item
	fail   map[string][]error
	Calls  map[string]int
}

func New() *Fake {
	return &Fake{
		keys:   map[string][]string{},
		tables: map[string]map[string]item{},
		fail:   map[string][]error{},
		Calls:  map[string]int{},
	}
}

// CreateTable registers a table and its key attribute names (hash, optional range).
func (f *Fake) CreateTable(name string, keyAttrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = keyAttrs
	if _, ok := f.tables[name]; !ok {
		f.tables[name] = map[string]item{}
	}
}

// FailNext makes the next call of op ("PutItem", "UpdateItem", ...) return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = append(f.fail[op], err)
}

// Seed stores it without conditions.
func (f *Fake) Seed(table string, it item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, it)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = copyItem(it)
}

// Get returns a copy of the stored item or nil.
func (f *Fake) Get(table string, keyValues ...string) item {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][strings.Join(keyValues, "|")]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len is the number of items in table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *Fake) injected(op string) error {
	f.Calls[op]++
	errs := f.fail[op]
	if len(errs) == 0 {
		return nil
	}
	f.fail[op] = errs[1:]
	return errs[0]
}

func (f *Fake) keyOf(table string, it item) (string, error) {
	attrs, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("table %s does not exist", table)
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		switch v := it[a].(type) {
		case *types.AttributeValueMemberS:
			parts = append(parts, v.Value)
		case *types.AttributeValueMemberN:
			parts = append(parts, v.Value)
		default:
			return "", fmt.Errorf("missing key attribute %s", a)
		}
	}
	return strings.Join(parts, "|"), nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("PutItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	k, err := f.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := evalCondition(sdkaws.ToString(in.ConditionExpression), env, f.tables[table][k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	f.tables[table][k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("GetItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	k, err := f.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("UpdateItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	old, newItem, err := f.update(table, in.Key, sdkaws.ToString(in.ConditionExpression), sdkaws.ToString(in.UpdateExpression),
		exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues})
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = copyItem(newItem)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		out.Attributes = old
	}
	return out, nil
}

func (f *Fake) update(table string, key item, cond, upd string, env exprEnv) (item, item, error) {
	k, err := f.keyOf(table, key)
	if err != nil {
		return nil, nil, err
	}
	current, exists := f.tables[table][k]
	ok, err := evalCondition(cond, env, current)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, conditionFailed()
	}
	var old item
	next := copyItem(key)
	if exists {
		old = copyItem(current)
		next = copyItem(current)
	}
	if err := applyUpdate(upd, env, next); err != nil {
		return nil, nil, err
	}
	f.tables[table][k] = next
	return old, next, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("DeleteItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	k, err := f.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	env := exprEnv{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := evalCondition(sdkaws.ToString(in.ConditionExpression), env, f.tables[table][k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(f.tables[table], k)
	return &dyn.DeleteItemOutput{}, nil
}

// TransactWriteItems checks every condition first and applies nothing unless all pass.
func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false
	for i, it := range in.TransactItems {
		var table, cond string
		var key item
		var env exprEnv
		switch {
		case it.Put != nil:
			table, cond, key = sdkaws.ToString(it.Put.TableName), sdkaws.ToString(it.Put.ConditionExpression), it.Put.Item
			env = exprEnv{names: it.Put.ExpressionAttributeNames, values: it.Put.ExpressionAttributeValues}
		case it.Update != nil:
			table, cond, key = sdkaws.ToString(it.Update.TableName), sdkaws.ToString(it.Update.ConditionExpression), it.Update.Key
			env = exprEnv{names: it.Update.ExpressionAttributeNames, values: it.Update.ExpressionAttributeValues}
		case it.Delete != nil:
			table, cond, key = sdkaws.ToString(it.Delete.TableName), sdkaws.ToString(it.Delete.ConditionExpression), it.Delete.Key
			env = exprEnv{names: it.Delete.ExpressionAttributeNames, values: it.Delete.ExpressionAttributeValues}
		case it.ConditionCheck != nil:
			table, cond, key = sdkaws.ToString(it.ConditionCheck.TableName), sdkaws.ToString(it.ConditionCheck.ConditionExpression), it.ConditionCheck.Key
			env = exprEnv{names: it.ConditionCheck.ExpressionAttributeNames, values: it.ConditionCheck.ExpressionAttributeValues}
		default:
			return nil, errors.New("empty transact item")
		}
		k, err := f.keyOf(table, key)
		if err != nil {
			return nil, err
		}
		ok, err := evalCondition(cond, env, f.tables[table][k])
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			canceled = true
		}
		reasons[i] = types.CancellationReason{Code: sdkaws.String(code)}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			table := sdkaws.ToString(it.Put.TableName)
			k, _ := f.keyOf(table, it.Put.Item)
			f.tables[table][k] = copyItem(it.Put.Item)
		case it.Update != nil:
			u := it.Update
			if _, _, err := f.update(sdkaws.ToString(u.TableName), u.Key, "", sdkaws.ToString(u.UpdateExpression),
				exprEnv{names: u.ExpressionAttributeNames, values: u.ExpressionAttributeValues}); err != nil {
				return nil, err
			}
		case it.Delete != nil:
			table := sdkaws.ToString(it.Delete.TableName)
			k, _ := f.keyOf(table, it.Delete.Key)
			delete(f.tables[table], k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		if m, ok := v.(*types.AttributeValueMemberM); ok {
			v = &types.AttributeValueMemberM{Value: copyItem(m.Value)}
		}
		out[k] = v
	}
	return out
}
