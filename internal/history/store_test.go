package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/model"
)

func finished(id, taskID string, status model.InstanceStatus, endedAt time.Time) model.InstanceInfo {
	return model.InstanceInfo{
		ID:        id,
		TaskID:    taskID,
		TaskName:  "Task " + taskID,
		Command:   "true",
		Status:    status,
		PID:       1234,
		StartedAt: endedAt.Add(-time.Minute),
		EndedAt:   &endedAt,
	}
}

func TestRecordAndGet(t *testing.T) {
	s, err := OpenInMemory(0)
	require.NoError(t, err)
	defer s.Close()

	ended := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Record(finished("build#1", "build", model.Exited(0), ended)))

	got, err := s.Get("build#1")
	require.NoError(t, err)
	assert.Equal(t, "build#1", got.ID)
	assert.Equal(t, "build", got.TaskID)
	assert.Equal(t, model.StateExited, got.Status.State)
	assert.Equal(t, 0, got.Status.ExitCode)
	assert.Equal(t, 1234, got.PID)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
}

func TestRecordErrorStatus(t *testing.T) {
	s, err := OpenInMemory(0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(finished("x#1", "x", model.Errored("read failed"), time.Now())))

	got, err := s.Get("x#1")
	require.NoError(t, err)
	assert.Equal(t, model.StateError, got.Status.State)
	assert.Equal(t, "read failed", got.Status.Message)
}

func TestRecordRejectsRunning(t *testing.T) {
	s, err := OpenInMemory(0)
	require.NoError(t, err)
	defer s.Close()

	info := finished("x#1", "x", model.Running(), time.Now())
	assert.Error(t, s.Record(info))
}

func TestGetNotFound(t *testing.T) {
	s, err := OpenInMemory(0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("nope#1")
	assert.ErrorIs(t, err, model.ErrInstanceNotFound)
}

func TestListOrderAndFilter(t *testing.T) {
	s, err := OpenInMemory(0)
	require.NoError(t, err)
	defer s.Close()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Record(finished("a#1", "a", model.Exited(0), base.Add(-2*time.Minute))))
	require.NoError(t, s.Record(finished("a#2", "a", model.Exited(1), base.Add(-time.Minute))))
	require.NoError(t, s.Record(finished("b#1", "b", model.Exited(0), base)))

	all, err := s.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b#1", all[0].ID)
	assert.Equal(t, "a#2", all[1].ID)
	assert.Equal(t, "a#1", all[2].ID)

	onlyA, err := s.List("a", 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "a#2", onlyA[0].ID)

	limited, err := s.List("", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestPruneKeepsNewestPerTask(t *testing.T) {
	s, err := OpenInMemory(3)
	require.NoError(t, err)
	defer s.Close()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("a#%d", i)
		ended := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Record(finished(id, "a", model.Exited(0), ended)))
	}
	// Another task is not affected by pruning of "a".
	require.NoError(t, s.Record(finished("b#1", "b", model.Exited(0), base)))

	onlyA, err := s.List("a", 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 3)
	assert.Equal(t, "a#5", onlyA[0].ID)
	assert.Equal(t, "a#3", onlyA[2].ID)

	onlyB, err := s.List("b", 0)
	require.NoError(t, err)
	assert.Len(t, onlyB, 1)
}
