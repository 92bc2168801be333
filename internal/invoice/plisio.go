package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Plisio opens invoices through GET {base}/invoices/new.
type Plisio struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewPlisio(baseURL, apiKey string, client *http.Client) *Plisio {
	if client == nil {
		client = http.DefaultClient
	}
	return &Plisio{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (p *Plisio) Name() string { return "plisio" }

type plisioResponse struct {
	Status string `json:"status"`
	Data   struct {
		TxnID      string `json:"txn_id"`
		InvoiceURL string `json:"invoice_url"`
		Message    string `json:"message"`
		Name       string `json:"name"`
	} `json:"data"`
}

func (p *Plisio) CreateInvoice(ctx context.Context, r Request) (*Invoice, error) {
	q := url.Values{}
	q.Set("source_currency", r.Currency)
	q.Set("source_amount", r.Amount.String())
	q.Set("order_number", r.OrderID)
	q.Set("order_name", r.Description)
	// json=true makes the callback body JSON, which keeps verify_hash over ordered JSON
	q.Set("callback_url", r.CallbackURL+"?json=true")
	if r.Email != "" {
		q.Set("email", r.Email)
	}
	q.Set("api_key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/invoices/new?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plisio request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read plisio response: %w", err)
	}
	var out plisioResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode plisio response (http %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != "success" {
		msg := out.Data.Message
		if msg == "" {
			msg = out.Data.Name
		}
		return nil, fmt.Errorf("plisio http %d status %q: %s", resp.StatusCode, out.Status, msg)
	}
	if out.Data.TxnID == "" || out.Data.InvoiceURL == "" {
		return nil, fmt.Errorf("plisio response missing txn_id or invoice_url")
	}
	return &Invoice{TxnID: out.Data.TxnID, URL: out.Data.InvoiceURL}, nil
}
