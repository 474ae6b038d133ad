package model

import "time"

// SLA deadline evaluation. Pure snapshot + now computations; persistence of
// the one-shot flags belongs to the sweep, not here. Deadlines are compared in
// UTC regardless of the location attached to the stored value.

// DeadlineWarningWindow is how far ahead of the deadline the warning
// notification fires.
const DeadlineWarningWindow = 24 * time.Hour

// TimeUntilDeadline returns the remaining time before the implementation
// deadline. The second return is false when no deadline is set.
func (cr *ChangeRequest) TimeUntilDeadline(now time.Time) (time.Duration, bool) {
	if cr.ImplementationDeadline == nil {
		return 0, false
	}
	return cr.ImplementationDeadline.UTC().Sub(now.UTC()), true
}

// DeadlineBreached reports whether the deadline has newly passed: a deadline
// is set, now is past it, and the breach has not been recorded yet. Once
// IsSlaBreached is persisted true this never reports true again.
func (cr *ChangeRequest) DeadlineBreached(now time.Time) bool {
	if cr.ImplementationDeadline == nil || cr.IsSlaBreached {
		return false
	}
	return now.UTC().After(cr.ImplementationDeadline.UTC())
}

// NeedsDeadlineWarning reports whether the advance warning should fire: a
// deadline is set, not breached, the warning has not been sent, and the
// remaining time is within (0, DeadlineWarningWindow].
func (cr *ChangeRequest) NeedsDeadlineWarning(now time.Time) bool {
	if cr.SlaWarningSent || cr.IsSlaBreached {
		return false
	}
	remaining, ok := cr.TimeUntilDeadline(now)
	if !ok {
		return false
	}
	return remaining > 0 && remaining <= DeadlineWarningWindow
}
