package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

func keys(t *testing.T, contentType, body string) []string {
	t.Helper()
	fields, err := ParseBody(contentType, []byte(body))
	require.NoError(t, err)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Key)
	}
	return out
}

func TestParseJSONKeepsOrder(t *testing.T) {
	body := `{"txn_id":"t1","status":"completed","amount":0.5,"order_number":"ORD-1","meta":{"a":[1,2]},"verify_hash":"ff"}`
	assert.Equal(t, []string{"txn_id", "status", "amount", "order_number", "meta", "verify_hash"}, keys(t, "application/json; charset=utf-8", body))

	fields, err := ParseBody("application/json", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "0.5", fields[2].Text())
	assert.Equal(t, `{"a":[1,2]}`, string(fields[4].Value))
}

func TestParseFormKeepsOrder(t *testing.T) {
	body := "status=completed&order_number=ORD-1&email=a%40b.c&note=hello+world"
	assert.Equal(t, []string{"status", "order_number", "email", "note"}, keys(t, "application/x-www-form-urlencoded", body))

	fields, err := ParseBody("application/x-www-form-urlencoded", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", fields[2].Text())
	assert.Equal(t, "hello world", fields[3].Text())
}

func TestParseSniffsJSONWithoutContentType(t *testing.T) {
	assert.Equal(t, []string{"a"}, keys(t, "", ` {"a":1}`))
	assert.Equal(t, []string{"a", "b"}, keys(t, "", "a=1&b=2"))
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, tc := range []struct{ ct, body string }{
		{"application/json", `{"a":`},
		{"application/json", `[1,2]`},
		{"application/json", `{"a":1} {"b":2}`},
		{"application/x-www-form-urlencoded", "a=%zz"},
		{"application/x-www-form-urlencoded", ""},
	} {
		_, err := ParseBody(tc.ct, []byte(tc.body))
		assert.ErrorIs(t, err, ErrUnparseable, tc.body)
	}
}

func TestNewEvent(t *testing.T) {
	fields, err := ParseBody("application/json", []byte(
		`{"order_number":"ORD-7","status":"Completed","txn_id":"tx","amount":"0.001","psys_cid":"BTC","wallet_hash":"","verify_hash":"abc"}`))
	require.NoError(t, err)

	e := NewEvent("plisio", fields, "verify_hash")
	assert.Equal(t, "ORD-7", e.OrderID)
	assert.Equal(t, "completed", e.Status)
	assert.Equal(t, "abc", e.Signature)

	d := e.Details()
	assert.Equal(t, "plisio", d[orders.DetailProvider])
	assert.Equal(t, "tx", d[orders.DetailTxnID])
	assert.Equal(t, "BTC", d[orders.DetailPaidCurrency])
	assert.NotContains(t, d, orders.DetailWalletAddress)
}

func TestNewEventFallsBackToOrderID(t *testing.T) {
	fields, err := ParseBody("", []byte("order_id=ORD-8&status=pending"))
	require.NoError(t, err)
	e := NewEvent("coinbase", fields, "signature")
	assert.Equal(t, "ORD-8", e.OrderID)
	assert.Empty(t, e.Signature)
}
