// Package notify sends failure-alert emails through SendGrid. Trimmed
// from the corpus's pluggable SMTP/SendGrid/Resend service: this domain
// has one configured admin recipient and one condition worth emailing
// about (an unrecoverable batch failure), so the provider-switch surface
// that made sense for end-user-configurable email doesn't carry over —
// see DESIGN.md.
package notify

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Config configures the SendGrid-backed notifier.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
	ToEmail   string
}

// Enabled reports whether enough configuration is present to send.
func (c Config) Enabled() bool {
	return c.APIKey != "" && c.FromEmail != "" && c.ToEmail != ""
}

// Notifier sends batch-failure emails via SendGrid.
type Notifier struct {
	cfg    Config
	client *sendgrid.Client
}

// New constructs a Notifier. Callers should check cfg.Enabled() before
// relying on SendBatchFailure actually delivering anything.
func New(cfg Config) *Notifier {
	return &Notifier{cfg: cfg, client: sendgrid.NewSendClient(cfg.APIKey)}
}

// SendBatchFailure emails the configured admin recipient about a batch
// that reached a terminal failed state.
func (n *Notifier) SendBatchFailure(batchID, collectionID string, failedCount, totalCount int, reason string) error {
	if !n.cfg.Enabled() {
		return nil
	}

	subject := fmt.Sprintf("Batch %s failed (%d/%d files)", batchID, failedCount, totalCount)
	body := fmt.Sprintf(
		"Batch %s (collection %s) reached a terminal failed state.\n\n"+
			"Files failed: %d of %d\nReason: %s\n",
		batchID, collectionID, failedCount, totalCount, reason,
	)

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromEmail)
	to := mail.NewEmail("", n.cfg.ToEmail)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	resp, err := n.client.Send(message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
