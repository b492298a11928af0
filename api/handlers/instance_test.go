//go:build !windows

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/history"
	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/task"
)

func newTestRouter(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		HistoryLimit: 10,
		Tasks: []task.Definition{
			{ID: "echo", Name: "Echo", Command: "echo {{msg|hello}}"},
			{ID: "sleep", Name: "Sleep", Command: "sleep 30"},
		},
	}
	hist, err := history.OpenInMemory(10)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	m := session.NewManager(session.Config{
		KillGrace: 500 * time.Millisecond,
		History:   hist,
	})
	t.Cleanup(m.TerminateAll)

	r := gin.New()
	api := r.Group("/api")
	NewInstanceHandler(m, cfg, hist).RegisterRoutes(api)
	NewWebSocketHandler(m).RegisterRoutes(api)
	return r, m
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func instancePath(id, suffix string) string {
	return "/api/instances/" + url.PathEscape(id) + suffix
}

func TestListTasks(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tasks []task.Definition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "echo", tasks[0].ID)
}

func TestSpawnAndGet(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "echo"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "echo#1", resp.ID)
	assert.Equal(t, "echo hello", resp.Command)
	assert.Equal(t, "running", resp.State)

	w = doJSON(t, r, http.MethodGet, instancePath(resp.ID, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, resp.ID, got.ID)
}

func TestSpawnWithInputs(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances",
		SpawnRequest{TaskID: "echo", Inputs: map[string]string{"msg": "custom"}})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "echo custom", resp.Command)
}

func TestSpawnUnknownTask(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "TASK_NOT_FOUND", errResp.Error.Code)
}

func TestSpawnInvalidBody(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListInstances(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "sleep"})
	doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "sleep"})

	w := doJSON(t, r, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestGetUnknownInstance(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, instancePath("nope#1", ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKillInstance(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "sleep"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(t, r, http.MethodDelete, instancePath(resp.ID, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, instancePath(resp.ID, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.NotEqual(t, "running", got.State)
}

func TestKillWithRemove(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "sleep"})
	var resp InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(t, r, http.MethodDelete, instancePath(resp.ID, "?remove=true"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, instancePath(resp.ID, ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResize(t *testing.T) {
	r, m := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "sleep"})
	var resp InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(t, r, http.MethodPost, instancePath(resp.ID, "/resize"), ResizeRequest{Rows: 50, Cols: 132})
	require.Equal(t, http.StatusNoContent, w.Code)

	info, err := m.GetInfo(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, uint16(50), info.Rows)
	assert.Equal(t, uint16(132), info.Cols)
}

func TestBufferSnapshot(t *testing.T) {
	r, m := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "echo"})
	var resp InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := m.Snapshot(resp.ID)
		require.NoError(t, err)
		if strings.Contains(string(snap), "hello") {
			break
		}
		require.True(t, time.Now().Before(deadline), "output never reached the buffer")
		time.Sleep(10 * time.Millisecond)
	}

	w = doJSON(t, r, http.MethodGet, instancePath(resp.ID, "/buffer"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")
}

func TestHistoryEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/instances", SpawnRequest{TaskID: "echo"})
	var resp InstanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// Wait for the exit watcher to settle and record.
	deadline := time.Now().Add(10 * time.Second)
	for {
		w = doJSON(t, r, http.MethodGet, "/api/history?task=echo", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var records []InstanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
		if len(records) == 1 {
			assert.Equal(t, resp.ID, records[0].ID)
			require.NotNil(t, records[0].ExitCode)
			assert.Equal(t, 0, *records[0].ExitCode)
			return
		}
		require.True(t, time.Now().Before(deadline), "instance never recorded")
		time.Sleep(20 * time.Millisecond)
	}
}
