package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fancymatt/life-os-sub005/internal/common"
	"github.com/fancymatt/life-os-sub005/internal/models"
)

type capturingPublisher struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (p *capturingPublisher) Publish(job models.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
}

func (p *capturingPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, job := range p.jobs {
		ids = append(ids, job.ID)
	}
	return ids
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newFeedServer serves one websocket connection, writes each message, then
// closes the connection.
func newFeedServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeedDeliversDecodedJobs(t *testing.T) {
	srv := newFeedServer(t, []string{
		`{"id":"job-1","status":"running","progress":0.5}`,
		`{"id":"job-2","status":"completed","progress":1}`,
	})
	defer srv.Close()

	pub := &capturingPublisher{}
	client := NewClient(pub, common.GetLogger(), nil)
	require.NoError(t, client.Dial(context.Background(), wsURL(srv)))
	defer client.Close()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("feed never terminated")
	}

	assert.Equal(t, []string{"job-1", "job-2"}, pub.ids())
}

func TestUndecodableMessagesAreDroppedNotFatal(t *testing.T) {
	srv := newFeedServer(t, []string{
		`{"id":"job-1","status":"running"}`,
		`this is not json`,
		`{"status":"running"}`, // decodes but has no id
		`{"id":"job-2","status":"completed"}`,
	})
	defer srv.Close()

	pub := &capturingPublisher{}
	client := NewClient(pub, common.GetLogger(), nil)
	require.NoError(t, client.Dial(context.Background(), wsURL(srv)))
	defer client.Close()

	<-client.Done()
	assert.Equal(t, []string{"job-1", "job-2"}, pub.ids())
}

func TestConnectionErrorSurfacesExactlyOnce(t *testing.T) {
	srv := newFeedServer(t, nil) // server closes immediately
	defer srv.Close()

	var errCount int32
	client := NewClient(&capturingPublisher{}, common.GetLogger(), func(err error) {
		atomic.AddInt32(&errCount, 1)
	})
	require.NoError(t, client.Dial(context.Background(), wsURL(srv)))

	<-client.Done()
	assert.Error(t, client.Err())
	assert.Equal(t, int32(1), atomic.LoadInt32(&errCount))

	// Close after failure stays clean and does not fire onError again.
	require.NoError(t, client.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&errCount))
}

func TestCleanCloseIsNotAnError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	var errCount int32
	client := NewClient(&capturingPublisher{}, common.GetLogger(), func(err error) {
		atomic.AddInt32(&errCount, 1)
	})
	require.NoError(t, client.Dial(context.Background(), wsURL(srv)))

	require.NoError(t, client.Close())
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after Close")
	}

	assert.NoError(t, client.Err())
	assert.Equal(t, int32(0), atomic.LoadInt32(&errCount))
}

func TestDialIsSingleUse(t *testing.T) {
	srv := newFeedServer(t, nil)
	defer srv.Close()

	client := NewClient(&capturingPublisher{}, common.GetLogger(), nil)
	require.NoError(t, client.Dial(context.Background(), wsURL(srv)))
	defer client.Close()

	assert.Error(t, client.Dial(context.Background(), wsURL(srv)))
}

func TestDialFailsAgainstNonWebsocketEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(&capturingPublisher{}, common.GetLogger(), nil)
	assert.Error(t, client.Dial(context.Background(), wsURL(srv)))
}

func TestSlowDialDoesNotBlockCloseOrErr(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the handshake open so the dial stays in flight.
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(&capturingPublisher{}, common.GetLogger(), nil)
	dialErr := make(chan error, 1)
	go func() {
		dialErr <- client.Dial(context.Background(), wsURL(srv))
	}()
	time.Sleep(50 * time.Millisecond)

	// Close and Err must return while the handshake is still pending.
	returned := make(chan struct{})
	go func() {
		client.Close()
		client.Err()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(500 * time.Millisecond):
		close(release)
		t.Fatal("Close/Err blocked behind an in-flight dial")
	}

	close(release)
	assert.Error(t, <-dialErr)
	assert.NoError(t, client.Err())

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
}

func TestCloseBeforeDialReleasesWaiters(t *testing.T) {
	client := NewClient(&capturingPublisher{}, common.GetLogger(), nil)
	require.NoError(t, client.Close())

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	assert.NoError(t, client.Err())
}
