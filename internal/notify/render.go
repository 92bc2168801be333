package notify

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/imrishuroy/go-topup-payflow/internal/orders"
)

var statusLabels = map[orders.Status]string{
	orders.StatusPending:               "⏳ Pending",
	orders.StatusPendingConfirmation:   "⏳ Awaiting network confirmation",
	orders.StatusConfirmed:             "💰 Paid, awaiting fulfilment",
	orders.StatusCrediting:             "🔄 Crediting",
	orders.StatusConfirmedErrorBalance: "⚠️ Paid, wallet credit FAILED",
	orders.StatusConfirmedErrorDB:      "🚨 Paid and credited, status NOT saved",
	orders.StatusDone:                  "✅ Done",
}

func statusLabel(s orders.Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	if s.IsFailed() {
		return "❌ " + strings.TrimPrefix(string(s), "failed_")
	}
	return string(s)
}

func writeOrder(b *strings.Builder, o orders.Order) {
	fmt.Fprintf(b, "<b>Order</b> <code>%s</code>\n", html.EscapeString(o.OrderID))
	fmt.Fprintf(b, "Status: %s\n", statusLabel(o.Status))
	fmt.Fprintf(b, "Amount: %s %s (base %s)\n", o.FinalAmount, html.EscapeString(o.Currency), o.BaseAmount)
	if o.UserID != "" {
		fmt.Fprintf(b, "User: <code>%s</code>\n", html.EscapeString(o.UserID))
	}
	if p := o.ProviderDetails[orders.DetailProvider]; p != "" {
		fmt.Fprintf(b, "Provider: %s", html.EscapeString(p))
		if tx := o.ProviderDetails[orders.DetailTxnID]; tx != "" {
			fmt.Fprintf(b, " (txn <code>%s</code>)", html.EscapeString(tx))
		}
		b.WriteString("\n")
	}
	if len(o.Cart) > 0 {
		b.WriteString("\n<b>Items</b>\n")
		for _, it := range o.Cart {
			fmt.Fprintf(b, "• %s / %s × %d: %s\n",
				html.EscapeString(it.Game), html.EscapeString(it.Package), it.Quantity, it.Price)
			if it.Credentials != "" {
				fmt.Fprintf(b, "  credentials: <code>%s</code>\n", html.EscapeString(it.Credentials))
			}
		}
	}
	if o.Contact.Email != "" || o.Contact.Phone != "" {
		b.WriteString("\n<b>Contact</b>\n")
		if o.Contact.Email != "" {
			fmt.Fprintf(b, "Email: %s\n", html.EscapeString(o.Contact.Email))
		}
		if o.Contact.Phone != "" {
			fmt.Fprintf(b, "Phone: %s\n", html.EscapeString(o.Contact.Phone))
		}
	}
}

func writeCredit(b *strings.Builder, c *CreditOutcome) {
	if c == nil {
		return
	}
	b.WriteString("\n<b>Wallet</b>\n")
	switch {
	case c.Error != "":
		fmt.Fprintf(b, "Credit of %s USD failed: %s\nManual review required.\n", c.AmountUSD, html.EscapeString(c.Error))
	case c.AlreadyCredited:
		fmt.Fprintf(b, "Already credited earlier (%s USD).\n", c.AmountUSD)
	default:
		fmt.Fprintf(b, "Credited %s USD.", c.AmountUSD)
		if c.Balance != nil {
			fmt.Fprintf(b, " New balance %s USD.", c.Balance)
		}
		b.WriteString("\n")
	}
	if c.FeeInclusive {
		b.WriteString("⚠️ base amount missing: credited the fee-inclusive amount.\n")
	}
}

// NoticeText renders the operator chat message for a notice.
func NoticeText(n Notice) string {
	var b strings.Builder
	writeOrder(&b, n.Order)
	writeCredit(&b, n.Credit)
	if n.Order.StatusNote != "" {
		fmt.Fprintf(&b, "\nNote: %s\n", html.EscapeString(n.Order.StatusNote))
	}
	return strings.TrimRight(b.String(), "\n")
}

// CompletionText replaces the original message once an operator marks it done.
func CompletionText(c Completion) string {
	var b strings.Builder
	writeOrder(&b, c.Order)
	writeCredit(&b, c.Credit)
	b.WriteString("\n✅ <b>COMPLETED</b>")
	if c.Operator != "" {
		fmt.Fprintf(&b, " by %s", html.EscapeString(c.Operator))
	}
	return b.String()
}

// AlertText renders a critical alert.
func AlertText(a Alert) string {
	var title string
	switch a.Kind {
	case AlertPersistenceFailure:
		title = "🚨 CRITICAL: money moved, order state NOT recorded"
	case AlertCreditingFailure:
		title = "🚨 CRITICAL: wallet credit failed"
	default:
		title = "🚨 CRITICAL: operator action failed, money and state may be inconsistent"
	}
	return fmt.Sprintf("<b>%s</b>\nOrder <code>%s</code>\n%s",
		title, html.EscapeString(a.OrderID), html.EscapeString(a.Detail))
}

var emailTmpl = template.Must(template.New("email").Parse(`<html><body>
<h2>{{.Title}}</h2>
<p>Order <b>{{.Order.OrderID}}</b></p>
<table>
{{range .Order.Cart}}<tr><td>{{.Game}}</td><td>{{.Package}}</td><td>{{.Quantity}}</td><td>{{.Price}}</td></tr>
{{end}}</table>
<p>Total: {{.Order.FinalAmount}} {{.Order.Currency}}</p>
{{if .Credit}}{{if .Credit.Succeeded}}<p>{{.Credit.AmountUSD}} USD was added to your wallet.</p>{{end}}{{end}}
{{if .SiteURL}}<p><a href="{{.SiteURL}}">{{.SiteURL}}</a></p>{{end}}
</body></html>`))

type emailData struct {
	Title   string
	Order   orders.Order
	Credit  *CreditOutcome
	SiteURL string
}

func renderEmail(subject, title string, o orders.Order, credit *CreditOutcome, siteURL string) (Email, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, emailData{Title: title, Order: o, Credit: credit, SiteURL: siteURL}); err != nil {
		return Email{}, fmt.Errorf("render email: %w", err)
	}
	text := fmt.Sprintf("%s\n\nOrder %s\nTotal: %s %s\n", title, o.OrderID, o.FinalAmount, o.Currency)
	return Email{To: o.Contact.Email, Subject: subject, Text: text, HTML: buf.String()}, nil
}

// PaymentEmail confirms a received payment to the customer.
func PaymentEmail(n Notice, siteURL string) (Email, error) {
	return renderEmail("Payment received: "+n.Order.OrderID, "We received your payment", n.Order, n.Credit, siteURL)
}

// InvoiceEmail summarizes a completed order.
func InvoiceEmail(c Completion, siteURL string) (Email, error) {
	return renderEmail("Your order "+c.Order.OrderID+" is complete", "Your order is complete", c.Order, c.Credit, siteURL)
}
