// Package money holds the decimal amount type used for every monetary field.
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Amount is a decimal money value. The zero value is 0.
// It is stored in DynamoDB as a number and in JSON as a string with two decimals.
type Amount struct {
	d decimal.Decimal
}

var Zero = Amount{}

func New(d decimal.Decimal) Amount { return Amount{d: d} }

// Parse reads a decimal string such as "51.50".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromFloat(f float64) Amount { return Amount{d: decimal.NewFromFloat(f)} }

func (a Amount) Decimal() decimal.Decimal { return a.d }

// String renders with exactly two decimals.
func (a Amount) String() string { return a.d.StringFixed(2) }

func (a Amount) IsZero() bool     { return a.d.IsZero() }
func (a Amount) IsPositive() bool { return a.d.IsPositive() }
func (a Amount) IsNegative() bool { return a.d.IsNegative() }

func (a Amount) Equal(b Amount) bool              { return a.d.Equal(b.d) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Round2 rounds half away from zero to cents.
func (a Amount) Round2() Amount { return Amount{d: a.d.Round(2)} }

// WithFee returns a + a*percent/100 rounded to cents.
func (a Amount) WithFee(percent decimal.Decimal) Amount {
	fee := a.d.Mul(percent).Div(decimal.NewFromInt(100))
	return Amount{d: a.d.Add(fee).Round(2)}
}

// DivRate converts an amount quoted in a local currency into USD at rate
// local units per USD, rounded to cents.
func (a Amount) DivRate(rate decimal.Decimal) (Amount, error) {
	if !rate.IsPositive() {
		return Zero, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	return Amount{d: a.d.Div(rate).Round(2)}, nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	a.d = d
	return nil
}

func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.d.String()}, nil
}

func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		a.d = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported attribute type %T for amount", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", raw, err)
	}
	a.d = d
	return nil
}
