package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/notify"
	"github.com/technosupport/ts-nvr/internal/status"
	"github.com/technosupport/ts-nvr/internal/stream"
)

type stubPipeline struct {
	restarted bool
}

func (p *stubPipeline) RestartAllDetectionLoops() { p.restarted = true }
func (p *stubPipeline) ActiveLoopCount() int      { return 2 }

type stubEvents struct {
	event *data.Event
}

func (s *stubEvents) Insert(ctx context.Context, e *data.Event) error { return nil }
func (s *stubEvents) ApplyEnrichment(ctx context.Context, u data.EnrichmentUpdate) (bool, error) {
	return false, nil
}
func (s *stubEvents) GetByID(ctx context.Context, id uuid.UUID) (*data.Event, error) {
	if s.event != nil && s.event.ID == id {
		return s.event, nil
	}
	return nil, nil
}

func testServer(t *testing.T) (*Server, *stubPipeline, *stubEvents, *status.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cache := status.NewCache(rdb, 30*time.Second)
	pipe := &stubPipeline{}
	events := &stubEvents{}
	srv := &Server{
		Events:   events,
		Statuses: cache,
		Registry: stream.NewRegistry(stream.HandlerOpts{}),
		Pipeline: pipe,
		Hub:      notify.NewWSHub(),
	}
	return srv, pipe, events, cache
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["active_loops"])
}

func TestGetCameraStatus(t *testing.T) {
	srv, _, _, cache := testServer(t)
	cam := uuid.New()
	require.NoError(t, cache.Set(context.Background(), status.CameraStatus{
		CameraID:    cam,
		StreamState: "connected",
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cameras/"+cam.String()+"/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got status.CameraStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "connected", got.StreamState)
}

func TestGetCameraStatusNotFound(t *testing.T) {
	srv, _, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cameras/"+uuid.NewString()+"/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCameraStatusBadID(t *testing.T) {
	srv, _, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cameras/not-a-uuid/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEvent(t *testing.T) {
	srv, _, events, _ := testServer(t)
	events.event = &data.Event{
		ID:       uuid.New(),
		CameraID: uuid.New(),
		Type:     data.EventPersonDetected,
		Severity: data.SeverityMedium,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/"+events.event.ID.String(), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got data.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, events.event.ID, got.ID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestartLoops(t *testing.T) {
	srv, pipe, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/restart", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, pipe.restarted)
}
