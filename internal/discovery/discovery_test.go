package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fancymatt/life-os-sub005/internal/common"
)

func newJobServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestListActiveJobsBareArray(t *testing.T) {
	srv := newJobServer(t, http.StatusOK, `[
		{"id":"job-1","status":"running","progress":0.5},
		{"id":"job-2","status":"queued"}
	]`)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, common.GetLogger())
	jobs, err := client.ListActiveJobs(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, "job-2", jobs[1].ID)
}

func TestListActiveJobsWrappedObject(t *testing.T) {
	srv := newJobServer(t, http.StatusOK, `{"jobs":[{"id":"job-1","status":"pending"}]}`)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, common.GetLogger())
	jobs, err := client.ListActiveJobs(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
}

func TestListActiveJobsFiltersTerminalRows(t *testing.T) {
	// Stale server caches have returned terminal rows in "active" lists.
	srv := newJobServer(t, http.StatusOK, `[
		{"id":"job-1","status":"running"},
		{"id":"job-2","status":"completed"},
		{"id":"job-3","status":"failed"},
		{"id":"job-4","status":"pending"}
	]`)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, common.GetLogger())
	jobs, err := client.ListActiveJobs(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, "job-4", jobs[1].ID)
}

func TestListActiveJobsServerError(t *testing.T) {
	srv := newJobServer(t, http.StatusInternalServerError, `boom`)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, common.GetLogger())
	_, err := client.ListActiveJobs(context.Background(), 25)
	assert.Error(t, err)
}

func TestListActiveJobsMalformedBody(t *testing.T) {
	srv := newJobServer(t, http.StatusOK, `not json`)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, common.GetLogger())
	_, err := client.ListActiveJobs(context.Background(), 25)
	assert.Error(t, err)
}

func TestListActiveJobsUnreachableServer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, common.GetLogger())
	_, err := client.ListActiveJobs(context.Background(), 25)
	assert.Error(t, err)
}
