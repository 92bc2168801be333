package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/imrishuroy/go-topup-payflow/internal/aws"
)

// SESMailer sends customer email through SES v2.
type SESMailer struct {
	client aws.SESAPI
	from   string
}

// NewSESMailer builds a mailer. from is "Name <addr>" or a bare address.
func NewSESMailer(client aws.SESAPI, fromName, fromAddr string) *SESMailer {
	from := fromAddr
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromAddr)
	}
	return &SESMailer{client: client, from: from}
}

func (m *SESMailer) Send(ctx context.Context, e Email) error {
	body := &types.Body{}
	if e.Text != "" {
		body.Text = &types.Content{Data: &e.Text, Charset: awsString("UTF-8")}
	}
	if e.HTML != "" {
		body.Html = &types.Content{Data: &e.HTML, Charset: awsString("UTF-8")}
	}
	_, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: &m.from,
		Destination:      &types.Destination{ToAddresses: []string{e.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &e.Subject, Charset: awsString("UTF-8")},
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
