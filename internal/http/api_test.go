package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url-courier/internal/domain"
)

type fakeLister struct {
	tasks []domain.Task
}

func (f *fakeLister) Active() []domain.Task { return f.tasks }

type fakeUsers struct {
	stats domain.Stats
}

func (f *fakeUsers) Init(context.Context) error { return nil }
func (f *fakeUsers) Ensure(_ context.Context, id int64, username string) (*domain.User, error) {
	return &domain.User{ID: id, Username: username}, nil
}
func (f *fakeUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	return &domain.User{ID: id}, nil
}
func (f *fakeUsers) RecordFetch(context.Context, int64, int64) error       { return nil }
func (f *fakeUsers) RecordUpload(context.Context, int64, int64) error      { return nil }
func (f *fakeUsers) SetCustomName(context.Context, int64, string) error    { return nil }
func (f *fakeUsers) SetCustomCaption(context.Context, int64, string) error { return nil }
func (f *fakeUsers) SetCustomThumb(context.Context, int64, string) error   { return nil }
func (f *fakeUsers) ClearSettings(context.Context, int64) error            { return nil }
func (f *fakeUsers) Stats(context.Context) (*domain.Stats, error) {
	return &f.stats, nil
}

func newTestRouter(lister *fakeLister, users *fakeUsers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(lister, users).RegisterRoutes(router)
	return router
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeLister{}, &fakeUsers{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListTasks(t *testing.T) {
	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{tasks: []domain.Task{{
		UserID:    7,
		Source:    "magnet:?xt=urn:btih:abc",
		Status:    domain.TaskStatusFetching,
		StartedAt: started,
	}}}
	router := newTestRouter(lister, &fakeUsers{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp []TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, int64(7), resp[0].UserID)
	assert.Equal(t, domain.TaskStatusFetching, resp[0].Status)
	assert.Equal(t, "2026-08-30T12:00:00Z", resp[0].StartedAt)
}

func TestStats(t *testing.T) {
	users := &fakeUsers{stats: domain.Stats{Users: 3, Fetches: 10, Uploads: 8, BytesFetched: 4096}}
	lister := &fakeLister{tasks: []domain.Task{{UserID: 1}, {UserID: 2}}}
	router := newTestRouter(lister, users)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Users)
	assert.Equal(t, int64(10), resp.Fetches)
	assert.Equal(t, 2, resp.ActiveTasks)
}
