package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// TestDeadlineQueue_Ordering tests that the earliest deadline is always first
func TestDeadlineQueue_Ordering(t *testing.T) {
	q := newDeadlineQueue()
	base := time.Unix(1000, 0)

	assert.True(t, q.earliest().IsZero())

	q.set(1, base.Add(3*time.Second))
	q.set(2, base.Add(1*time.Second))
	q.set(3, base.Add(2*time.Second))
	assert.Equal(t, 3, q.len())
	assert.Equal(t, base.Add(time.Second), q.earliest())

	assert.Equal(t, []procmgr.ProcessID{2, 3}, q.expired(base.Add(2*time.Second)))
	assert.Equal(t, 1, q.len())
	assert.Equal(t, base.Add(3*time.Second), q.earliest())
}

// TestDeadlineQueue_KeepsEarlier tests that resetting a deadline never extends it
func TestDeadlineQueue_KeepsEarlier(t *testing.T) {
	q := newDeadlineQueue()
	base := time.Unix(1000, 0)

	q.set(1, base.Add(2*time.Second))
	q.set(1, base.Add(5*time.Second))
	assert.Equal(t, base.Add(2*time.Second), q.earliest())

	q.set(1, base.Add(time.Second))
	assert.Equal(t, base.Add(time.Second), q.earliest())
	assert.Equal(t, 1, q.len())
}

func TestDeadlineQueue_Remove(t *testing.T) {
	q := newDeadlineQueue()
	base := time.Unix(1000, 0)

	q.set(1, base.Add(time.Second))
	q.set(2, base.Add(2*time.Second))
	q.remove(1)
	q.remove(42)

	assert.Equal(t, 1, q.len())
	assert.Equal(t, base.Add(2*time.Second), q.earliest())
	assert.Empty(t, q.expired(base.Add(time.Second)))
}
