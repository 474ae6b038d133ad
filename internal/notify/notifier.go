// Package notify is the outbound notification gateway. The core hands it a
// semantic event kind, the change request and the resolved recipients;
// delivery mechanics live behind the Notifier interface.
package notify

import (
	"context"

	"cms-backend/internal/model"

	"github.com/sirupsen/logrus"
)

// Kind is the semantic notification type fired by lifecycle transitions and
// the SLA sweep.
type Kind string

const (
	KindSubmitted    Kind = "cr_submitted"
	KindApproved     Kind = "cr_approved"
	KindRejected     Kind = "cr_rejected"
	KindImplComplete Kind = "cr_implementation_complete"
	KindClosed       Kind = "cr_closed"
	KindRolledBack   Kind = "cr_rolled_back"
	KindSLAWarning   Kind = "sla_warning"
	KindSLABreach    Kind = "sla_breach"
)

// Notifier delivers a notification about a change request to a set of
// recipient addresses. Implementations must be safe for concurrent use; the
// sweep and request handlers share one instance.
type Notifier interface {
	Send(ctx context.Context, kind Kind, cr *model.ChangeRequest, recipients []string) error
}

// Fanout dispatches to several notifiers. One failing notifier does not stop
// the others; the first error is returned after all have run.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, kind Kind, cr *model.ChangeRequest, recipients []string) error {
	var firstErr error
	for _, n := range f {
		if err := n.Send(ctx, kind, cr, recipients); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"kind":      kind,
				"cr_number": cr.CRNumber,
			}).Error("notification dispatch failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Noop discards every notification. Useful when SMTP is not configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, kind Kind, cr *model.ChangeRequest, recipients []string) error {
	logrus.WithFields(logrus.Fields{
		"kind":       kind,
		"cr_number":  cr.CRNumber,
		"recipients": len(recipients),
	}).Debug("notification suppressed (no gateway configured)")
	return nil
}
