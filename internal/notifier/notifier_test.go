package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failedJob(callback string) domain.Job {
	job := domain.NewJob("job-1", domain.Request{Prompt: "a cat", AspectRatio: "16:9", NumInferenceSteps: 50, TrueCFGScale: 4, CallbackURL: callback}, time.Now())
	_ = job.MarkRunning()
	_ = job.Fail("CUDA out of memory", time.Now())
	return job
}

type recordingPublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, body []byte, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, body)
	return p.err
}

func TestNotifier_DeliversSnapshotOnce(t *testing.T) {
	var calls atomic.Int32
	received := make(chan domain.JobView, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var view domain.JobView
		require.NoError(t, json.NewDecoder(r.Body).Decode(&view))
		received <- view
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := New(&Config{Logger: discardLogger()})
	job := failedJob(ts.URL)
	n.Notify(job)
	require.NoError(t, n.Wait(context.Background()))

	view := <-received
	assert.Equal(t, "job-1", view.ID)
	assert.Equal(t, domain.StatusFailed, view.Status)
	assert.Equal(t, "CUDA out of memory", view.Error)
	assert.Nil(t, view.Result)
	assert.NotNil(t, view.CompletedAt)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotifier_NoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	n := New(&Config{Logger: discardLogger()})
	n.Notify(failedJob(ts.URL))
	require.NoError(t, n.Wait(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
}

func TestNotifier_Deliver(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "accepted", status: http.StatusAccepted},
		{name: "redirect is failure", status: http.StatusNotModified, wantErr: true},
		{name: "client error", status: http.StatusNotFound, wantErr: true},
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			n := New(&Config{Logger: discardLogger()})
			status, err := n.Deliver(context.Background(), ts.URL, []byte(`{}`))
			assert.Equal(t, tt.status, status)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrDelivery)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotifier_DeliverTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	n := New(&Config{Logger: discardLogger(), Timeout: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := n.Deliver(ctx, ts.URL, []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrDelivery)
}

func TestNotifier_UnreachableTarget(t *testing.T) {
	n := New(&Config{Logger: discardLogger()})

	_, err := n.Deliver(context.Background(), "http://127.0.0.1:1/hook", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrDelivery)
}

func TestNotifier_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	n := New(&Config{Logger: discardLogger(), Events: pub})

	n.Notify(failedJob(""))
	require.NoError(t, n.Wait(context.Background()))

	require.Len(t, pub.bodies, 1)
	var view domain.JobView
	require.NoError(t, json.Unmarshal(pub.bodies[0], &view))
	assert.Equal(t, "job-1", view.ID)
	assert.Equal(t, domain.StatusFailed, view.Status)
}

func TestNotifier_PublishErrorIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	n := New(&Config{Logger: discardLogger(), Events: pub})

	n.Notify(failedJob(""))
	assert.NoError(t, n.Wait(context.Background()))
	assert.Len(t, pub.bodies, 1)
}

func TestNotifier_NothingToDo(t *testing.T) {
	n := New(&Config{Logger: discardLogger()})

	n.Notify(failedJob(""))
	assert.NoError(t, n.Wait(context.Background()))
}
