package crdb

import (
	"context"
	"time"
)

// InboundEmail archives each delivery before classification so nothing is
// lost even when processing fails downstream.
type InboundEmail struct {
	MessageID  string
	FromEmail  string
	ToEmail    string
	Subject    string
	TextBody   string
	HTMLBody   string
	ReceivedAt time.Time
}

// ArchiveInbound stores the raw email keyed by provider message id.
// Duplicate deliveries overwrite nothing.
func (r *Repository) ArchiveInbound(ctx context.Context, email InboundEmail) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbound_emails (message_id, from_email, to_email, subject, text_body, html_body, received_at, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'received')
		ON CONFLICT (message_id) DO NOTHING
	`, email.MessageID, email.FromEmail, email.ToEmail, email.Subject, email.TextBody, email.HTMLBody, email.ReceivedAt)
	return err
}

// MarkInboundProcessed records the classification outcome against the
// archived email.
func (r *Repository) MarkInboundProcessed(ctx context.Context, messageID, outcome string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE inbound_emails SET processing_status = $2, processed_at = now() WHERE message_id = $1
	`, messageID, outcome)
	return err
}
