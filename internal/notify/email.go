package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"cms-backend/internal/model"

	"github.com/sirupsen/logrus"
)

// SMTPConfig carries the mail gateway settings.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Configured reports whether the gateway has credentials to send with.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// EmailNotifier delivers notifications over SMTP as plain-text mail.
type EmailNotifier struct {
	cfg SMTPConfig
}

func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

func (n *EmailNotifier) Send(ctx context.Context, kind Kind, cr *model.ChangeRequest, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	if !n.cfg.Configured() {
		logrus.WithFields(logrus.Fields{
			"kind":      kind,
			"cr_number": cr.CRNumber,
		}).Warn("SMTP not configured, email not sent")
		return nil
	}

	subject, body := composeMessage(kind, cr)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", n.cfg.FromName, n.cfg.FromEmail)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	if err := smtp.SendMail(addr, auth, n.cfg.FromEmail, recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send %s email for %s: %w", kind, cr.CRNumber, err)
	}

	logrus.WithFields(logrus.Fields{
		"kind":       kind,
		"cr_number":  cr.CRNumber,
		"recipients": len(recipients),
	}).Info("email notification sent")
	return nil
}

func composeMessage(kind Kind, cr *model.ChangeRequest) (subject, body string) {
	deadline := "none"
	if cr.ImplementationDeadline != nil {
		deadline = cr.ImplementationDeadline.UTC().Format(time.RFC3339)
	}

	switch kind {
	case KindSubmitted:
		subject = fmt.Sprintf("[CMS] %s submitted for approval: %s", cr.CRNumber, cr.Title)
		body = fmt.Sprintf("Change request %s (%q) has been submitted and awaits your approval.\n\nPriority: %s\nRisk level: %s\nImplementation deadline: %s\n\nDescription:\n%s\n",
			cr.CRNumber, cr.Title, cr.Priority, cr.RiskLevel, deadline, cr.Description)
	case KindApproved:
		subject = fmt.Sprintf("[CMS] %s approved: %s", cr.CRNumber, cr.Title)
		body = fmt.Sprintf("Change request %s (%q) has been approved and is ready for implementation.\n\nImplementation deadline: %s\nApproval comments: %s\n",
			cr.CRNumber, cr.Title, deadline, cr.ApprovalComments)
	case KindRejected:
		subject = fmt.Sprintf("[CMS] %s rejected: %s", cr.CRNumber, cr.Title)
		body = fmt.Sprintf("Change request %s (%q) has been rejected.\n\nReason: %s\n",
			cr.CRNumber, cr.Title, cr.RejectionReason)
	case KindImplComplete:
		subject = fmt.Sprintf("[CMS] %s implemented: %s", cr.CRNumber, cr.Title)
		body = fmt.Sprintf("Change request %s (%q) has been marked implemented and awaits closure review.\n",
			cr.CRNumber, cr.Title)
	case KindClosed:
		subject = fmt.Sprintf("[CMS] %s closed: %s", cr.CRNumber, cr.Title)
		body = closureBody(cr)
	case KindRolledBack:
		subject = fmt.Sprintf("[CMS] %s rolled back: %s", cr.CRNumber, cr.Title)
		body = fmt.Sprintf("Change request %s (%q) has been rolled back.\n\nReason: %s\nRollback plan:\n%s\n",
			cr.CRNumber, cr.Title, cr.RollbackReason, cr.RollbackPlan)
	case KindSLAWarning:
		subject = fmt.Sprintf("[CMS] SLA warning: %s due within 24 hours", cr.CRNumber)
		body = fmt.Sprintf("Change request %s (%q) approaches its implementation deadline.\n\nDeadline: %s\nCurrent status: %s\n",
			cr.CRNumber, cr.Title, deadline, cr.Status)
	case KindSLABreach:
		subject = fmt.Sprintf("[CMS] SLA BREACH: %s missed its deadline", cr.CRNumber)
		body = fmt.Sprintf("Change request %s (%q) has breached its implementation deadline.\n\nDeadline: %s\nCurrent status: %s\nRollback plan:\n%s\n",
			cr.CRNumber, cr.Title, deadline, cr.Status, cr.RollbackPlan)
	default:
		subject = fmt.Sprintf("[CMS] %s: %s", cr.CRNumber, cr.Title)
		body = fmt.Sprintf("Update on change request %s (%q), current status %s.\n", cr.CRNumber, cr.Title, cr.Status)
	}

	return subject, body
}

func closureBody(cr *model.ChangeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change request %s (%q) has been closed.\n\n", cr.CRNumber, cr.Title)
	if cr.ClosureNotes != "" {
		fmt.Fprintf(&b, "Closure notes: %s\n", cr.ClosureNotes)
	}
	if cr.ClosureComments != "" {
		fmt.Fprintf(&b, "Comments: %s\n", cr.ClosureComments)
	}
	b.WriteString("\nTimeline:\n")
	for _, ev := range cr.Timeline() {
		ts := ""
		if ev.Timestamp != nil {
			ts = ev.Timestamp.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "  %-12s %s (%s)\n", ev.Event, ts, ev.Role)
	}
	return b.String()
}
