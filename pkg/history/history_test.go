package history

import (
	"context"
	"errors"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
)

func openTestJournal(t *testing.T, path string, opts ...Option) *Journal {
	t.Helper()
	j, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// TestJournal_PublishAndRecent tests that queued events survive Close and reopen
func TestJournal_PublishAndRecent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	base := time.Now().Truncate(time.Millisecond)

	j, err := Open(ctx, path)
	require.NoError(t, err)

	j.Publish(ctx, supervisor.Event{
		Time: base, Type: supervisor.EventStateChanged, Supervisor: "tree", State: supervisor.StateRunning,
	})
	j.Publish(ctx, supervisor.Event{
		Time: base.Add(time.Millisecond), Type: supervisor.EventChildStarted, Supervisor: "tree",
		ChildID: "api", InstanceID: "c1", PID: 42,
	})
	j.Publish(ctx, supervisor.Event{
		Time: base.Add(2 * time.Millisecond), Type: supervisor.EventChildExited, Supervisor: "tree",
		ChildID: "api", InstanceID: "c1", PID: 42,
		Status: &procmgr.ExitStatus{Code: -1, Signal: syscall.SIGKILL},
	})
	j.Publish(ctx, supervisor.Event{
		Time: base.Add(3 * time.Millisecond), Type: supervisor.EventIntensityExceeded, Supervisor: "tree",
		ChildID: "api", Err: errors.New("too many restarts"),
	})
	require.NoError(t, j.Close())

	j = openTestJournal(t, path)
	entries, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "intensity_exceeded", entries[0].Type)
	assert.Equal(t, "too many restarts", entries[0].Error)
	assert.Nil(t, entries[0].Status)

	exited := entries[1]
	assert.Equal(t, "child_exited", exited.Type)
	assert.Equal(t, 42, exited.PID)
	assert.Equal(t, "c1", exited.InstanceID)
	require.NotNil(t, exited.Status)
	assert.Equal(t, syscall.SIGKILL, exited.Status.Signal)
	assert.Equal(t, procmgr.Abnormal, exited.Status.Class())

	assert.Equal(t, "Running", entries[3].State)
	assert.True(t, entries[3].Time.Equal(base))

	limited, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestJournal_Prune(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	now := time.Now()

	j, err := Open(ctx, path)
	require.NoError(t, err)
	j.Publish(ctx, supervisor.Event{Time: now.Add(-2 * time.Hour), Type: supervisor.EventChildStarted, Supervisor: "t"})
	j.Publish(ctx, supervisor.Event{Time: now.Add(-90 * time.Minute), Type: supervisor.EventChildExited, Supervisor: "t"})
	j.Publish(ctx, supervisor.Event{Time: now, Type: supervisor.EventChildStarted, Supervisor: "t"})
	require.NoError(t, j.Close())

	j = openTestJournal(t, path)
	deleted, err := j.Prune(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_RetentionLoop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	j, err := Open(ctx, path)
	require.NoError(t, err)
	j.Publish(ctx, supervisor.Event{Time: time.Now().Add(-time.Hour), Type: supervisor.EventChildStarted, Supervisor: "t"})
	require.NoError(t, j.Close())

	j = openTestJournal(t, path, WithRetention(time.Minute, 20*time.Millisecond))
	require.Eventually(t, func() bool {
		entries, err := j.Recent(ctx, 0)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestJournal_Closed(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	// Publishing after Close is a no-op
	j.Publish(ctx, supervisor.Event{Type: supervisor.EventChildStarted})

	_, err = j.Recent(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = j.Prune(ctx, time.Now())
	assert.ErrorIs(t, err, ErrClosed)
}

// TestJournal_SupervisorSink tests the journal wired as a supervisor event sink
func TestJournal_SupervisorSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	j, err := Open(ctx, path, WithBufferSize(16))
	require.NoError(t, err)

	var sink supervisor.EventSink = j
	sink.Publish(ctx, supervisor.Event{Time: time.Now(), Type: supervisor.EventChildRestarted, Supervisor: "s", ChildID: "w"})
	require.NoError(t, j.Close())
	assert.Zero(t, j.Dropped())

	j = openTestJournal(t, path)
	entries, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "child_restarted", entries[0].Type)
	assert.Equal(t, "w", entries[0].ChildID)
}
