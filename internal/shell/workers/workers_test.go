package workers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/conveyor-ci/conveyor/internal/shell/docker"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "workers_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createFinishedRun(t *testing.T, s *store.SQLiteStore, finishedAt time.Time) *domain.Run {
	t.Helper()
	ctx := context.Background()

	pipeline, err := domain.NewPipeline("Retention "+uuid.New().String()[:8], "", "name: test\njobs: {}")
	require.NoError(t, err)
	pipeline.Publish()
	require.NoError(t, s.CreatePipeline(ctx, pipeline))

	run, err := domain.NewRun(*pipeline, "master", "abc", "msg")
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, run.Transition(domain.RunQueued))
	require.NoError(t, run.Transition(domain.RunRunning))
	require.NoError(t, run.Transition(domain.RunSucceeded))
	run.FinishedAt = &finishedAt
	require.NoError(t, s.UpdateRun(ctx, run))
	return run
}

// fakeDockerClient records list and remove calls. Unused Client methods
// panic through the embedded nil interface.
type fakeDockerClient struct {
	docker.Client

	containers []docker.ContainerInfo
	removed    []string
}

func (f *fakeDockerClient) ListContainers(opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	return f.containers, nil
}

func (f *fakeDockerClient) RemoveContainer(containerID string, opts docker.RemoveOptions) error {
	f.removed = append(f.removed, containerID)
	return nil
}

// =============================================================================
// Janitor Tests
// =============================================================================

func TestJanitor_PruneNow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)

	oldRun := createFinishedRun(t, s, old)
	recentRun := createFinishedRun(t, s, recent)

	janitor := NewJanitor(s, nil, JanitorConfig{Retention: 30 * 24 * time.Hour}, nil)

	deleted, err := janitor.PruneNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetRun(ctx, oldRun.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetRun(ctx, recentRun.ID)
	assert.NoError(t, err)
}

func TestJanitor_PruneNow_NothingToDelete(t *testing.T) {
	s := newTestStore(t)

	createFinishedRun(t, s, time.Now().UTC())

	janitor := NewJanitor(s, nil, DefaultJanitorConfig(), nil)

	deleted, err := janitor.PruneNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestJanitor_StartStop(t *testing.T) {
	s := newTestStore(t)

	janitor := NewJanitor(s, nil, JanitorConfig{Interval: time.Hour}, nil)
	janitor.Start()
	janitor.Stop()
}

func TestJanitor_ReapsOrphanedContainers(t *testing.T) {
	s := newTestStore(t)

	d := &fakeDockerClient{
		containers: []docker.ContainerInfo{
			{ID: "dead1", Status: docker.ContainerStatusExited},
			{ID: "dead2", Status: docker.ContainerStatusDead},
			{ID: "live1", Status: docker.ContainerStatusRunning},
		},
	}
	janitor := NewJanitor(s, d, DefaultJanitorConfig(), nil)

	janitor.Start()
	janitor.Stop()

	// The first cycle removes stopped containers but leaves running ones
	assert.ElementsMatch(t, []string{"dead1", "dead2"}, d.removed)
}

// =============================================================================
// Notifier Tests
// =============================================================================

func TestNotifier_DeliverPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := createFinishedRun(t, s, time.Now().UTC())

	require.NoError(t, s.CreateNotification(ctx,
		domain.NewNotification(run.ID, "run.succeeded", `{"text":"Run succeeded"}`)))
	require.NoError(t, s.CreateNotification(ctx,
		domain.NewNotification(run.ID, "run.failed", `{"text":"Run failed"}`)))

	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(s, NotifierConfig{WebhookURL: server.URL}, nil)

	delivered, err := notifier.DeliverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Contains(t, bodies, `{"text":"Run succeeded"}`)
	assert.Contains(t, bodies, `{"text":"Run failed"}`)

	// Outbox is now empty
	unsent, err := s.GetUnsentNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsent)

	// A second cycle delivers nothing
	delivered, err = notifier.DeliverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestNotifier_DeliverPending_FailureStaysQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := createFinishedRun(t, s, time.Now().UTC())
	require.NoError(t, s.CreateNotification(ctx,
		domain.NewNotification(run.ID, "run.failed", `{"text":"Run failed"}`)))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewNotifier(s, NotifierConfig{WebhookURL: server.URL}, nil)

	delivered, err := notifier.DeliverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	// Failed delivery is retried on the next cycle
	unsent, err := s.GetUnsentNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unsent, 1)
}

func TestNotifier_DisabledWithoutURL(t *testing.T) {
	s := newTestStore(t)

	notifier := NewNotifier(s, NotifierConfig{}, nil)
	notifier.Start()
	notifier.Stop()
}
