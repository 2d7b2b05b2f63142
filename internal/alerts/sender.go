package alerts

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/estuary/agent/internal/ops"
	log "github.com/sirupsen/logrus"
)

// EmailSender delivers one rendered notification, grounded on
// crates/agent/src/alerts/notifier.rs's EmailSender trait.
type EmailSender interface {
	Send(ctx context.Context, email NotificationEmail) error
}

// DisabledSender discards every notification, logging it instead; used
// when no SMTP relay is configured (§4.7, §9 "Non-goals: an in-app
// notification center").
type DisabledSender struct {
	Logger ops.Logger
}

func (d DisabledSender) Send(ctx context.Context, email NotificationEmail) error {
	if d.Logger != nil {
		d.Logger.Log(log.InfoLevel, log.Fields{
			"recipient":      email.Recipient,
			"subject":        email.Subject,
			"idempotencyKey": email.IdempotencyKey,
		}, "alert notification suppressed: sender disabled")
	}
	return nil
}

// SMTPSender sends notifications through a plain SMTP relay.
//
// net/smtp is stdlib; justified in DESIGN.md since no mail-sending
// library appears anywhere in the retrieved example pack.
type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

func (s SMTPSender) Send(ctx context.Context, email NotificationEmail) error {
	var msg = fmt.Sprintf(
		"To: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		email.Recipient, email.Subject, email.Body)
	return smtp.SendMail(s.Addr, s.Auth, s.From, []string{email.Recipient}, []byte(msg))
}
