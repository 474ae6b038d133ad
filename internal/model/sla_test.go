package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crWithDeadline(deadline time.Time) *ChangeRequest {
	cr := draftCR()
	cr.Status = CRStatusApproved
	cr.ImplementationDeadline = &deadline
	return cr
}

func TestTimeUntilDeadline(t *testing.T) {
	deadline := testNow.Add(10 * time.Hour)
	cr := crWithDeadline(deadline)

	remaining, ok := cr.TimeUntilDeadline(testNow)
	require.True(t, ok)
	assert.Equal(t, 10*time.Hour, remaining)
}

func TestTimeUntilDeadlineNoDeadline(t *testing.T) {
	cr := draftCR()
	_, ok := cr.TimeUntilDeadline(testNow)
	assert.False(t, ok)
}

func TestTimeUntilDeadlineNormalizesZones(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	// Same instant as testNow+1h, expressed in another zone.
	deadline := testNow.Add(time.Hour).In(loc)
	cr := crWithDeadline(deadline)

	remaining, ok := cr.TimeUntilDeadline(testNow.In(loc))
	require.True(t, ok)
	assert.Equal(t, time.Hour, remaining)
}

func TestDeadlineBreached(t *testing.T) {
	cr := crWithDeadline(testNow.Add(-time.Minute))
	assert.True(t, cr.DeadlineBreached(testNow))
}

func TestDeadlineBreachedNotYet(t *testing.T) {
	cr := crWithDeadline(testNow.Add(time.Minute))
	assert.False(t, cr.DeadlineBreached(testNow))
}

func TestDeadlineBreachedExactlyAtDeadline(t *testing.T) {
	cr := crWithDeadline(testNow)
	// Breach requires now strictly after the deadline.
	assert.False(t, cr.DeadlineBreached(testNow))
}

func TestDeadlineBreachedMonotonic(t *testing.T) {
	cr := crWithDeadline(testNow.Add(-time.Hour))
	cr.IsSlaBreached = true
	assert.False(t, cr.DeadlineBreached(testNow))
}

func TestNeedsDeadlineWarningInsideWindow(t *testing.T) {
	cr := crWithDeadline(testNow.Add(12 * time.Hour))
	assert.True(t, cr.NeedsDeadlineWarning(testNow))
}

func TestNeedsDeadlineWarningAtWindowEdge(t *testing.T) {
	cr := crWithDeadline(testNow.Add(DeadlineWarningWindow))
	assert.True(t, cr.NeedsDeadlineWarning(testNow))
}

func TestNeedsDeadlineWarningOutsideWindow(t *testing.T) {
	cr := crWithDeadline(testNow.Add(DeadlineWarningWindow + time.Second))
	assert.False(t, cr.NeedsDeadlineWarning(testNow))
}

func TestNeedsDeadlineWarningPastDeadline(t *testing.T) {
	cr := crWithDeadline(testNow.Add(-time.Second))
	assert.False(t, cr.NeedsDeadlineWarning(testNow))
}

func TestNeedsDeadlineWarningOneShot(t *testing.T) {
	cr := crWithDeadline(testNow.Add(12 * time.Hour))
	cr.SlaWarningSent = true
	assert.False(t, cr.NeedsDeadlineWarning(testNow))
}

func TestNeedsDeadlineWarningSuppressedAfterBreach(t *testing.T) {
	cr := crWithDeadline(testNow.Add(12 * time.Hour))
	cr.IsSlaBreached = true
	assert.False(t, cr.NeedsDeadlineWarning(testNow))
}
