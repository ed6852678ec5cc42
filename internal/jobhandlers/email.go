// ABOUTME: SMTP email delivery using go-mail. Dial-per-send for sporadic job traffic.
// ABOUTME: Recipients are BCC'd on a single message, correlated to its job by Message-ID.
package jobhandlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/scarson/poolmaster/internal/jobrunner"
)

// SMTPConfig holds SMTP connection parameters, sourced from config.Config.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	TLS      bool
}

// EmailPayload is the job_queue.payload shape the "email" kind expects.
type EmailPayload struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	HTMLBody   string   `json:"html_body"`
	TextBody   string   `json:"text_body"`
}

// retrySubject strips CR/LF from subject (header injection) and tags
// it with the delivery attempt once a job has been retried, so a
// resend is visually distinguishable from a first send in an inbox.
func retrySubject(subject string, attempt int32) string {
	subject = strings.NewReplacer("\r", "", "\n", "").Replace(subject)
	if attempt > 1 {
		return fmt.Sprintf("[retry %d] %s", attempt, subject)
	}
	return subject
}

// EmailSend sends an HTML+plaintext multipart email to all recipients
// via BCC, using DialAndSend (dial-per-send, no persistent connection).
// The message's id is derived from job.JobID so a bounce or a support
// reply can be traced back to the job_queue row that produced it, and
// the subject is tagged with the delivery attempt once a job has been
// retried, so an operator scanning an inbox can tell a resend from a
// duplicate send.
func EmailSend(ctx context.Context, cfg SMTPConfig, job jobrunner.JobContext, recipients []string, subject, htmlBody, textBody string) error {
	if len(recipients) == 0 {
		return errors.New("email send: no recipients")
	}

	subject = retrySubject(subject, job.Attempt)

	m := mail.NewMsg()
	if err := m.FromFormat("poolmaster", cfg.From); err != nil {
		return fmt.Errorf("email send: set from: %w", err)
	}
	if err := m.Bcc(recipients...); err != nil {
		return fmt.Errorf("email send: set bcc: %w", err)
	}
	m.Subject(subject)
	m.SetMessageIDWithValue(fmt.Sprintf("%s@poolmaster", job.JobID))
	m.SetBodyString(mail.TypeTextPlain, textBody)
	m.AddAlternativeString(mail.TypeTextHTML, htmlBody)

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
	}
	if cfg.Username != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain))
		opts = append(opts, mail.WithUsername(cfg.Username))
		opts = append(opts, mail.WithPassword(cfg.Password))
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("email send: create client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

// NewEmailHandler returns a jobrunner.Handler that unmarshals its
// payload as an EmailPayload and delivers it via EmailSend.
func NewEmailHandler(cfg SMTPConfig) jobrunner.Handler {
	return func(ctx context.Context, job jobrunner.JobContext) error {
		var p EmailPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("email handler: decode payload: %w", err)
		}
		return EmailSend(ctx, cfg, job, p.Recipients, p.Subject, p.HTMLBody, p.TextBody)
	}
}
