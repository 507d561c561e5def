package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/pkg/clock"
	"github.com/yoavra/yoman/pkg/msgworker"
)

var testNow = time.Date(2025, 10, 10, 7, 0, 0, 0, time.UTC)

type fixture struct {
	server *Server
	kv     *ephemeral.MemoryKV
	repo   *repository.CalendarGormRepository
	events *service.EventService
	user   domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo := repository.NewCalendarGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))

	user := domain.User{
		ID:                 uuid.NewString(),
		Phone:              "972501234567",
		Name:               "יואב",
		PINHash:            "x",
		Timezone:           "Asia/Jerusalem",
		Language:           "he",
		DefaultDurationMin: 60,
		CreatedAt:          testNow,
		UpdatedAt:          testNow,
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))

	clk := clock.Fixed{Instant: testNow}
	kv := ephemeral.NewMemoryKV()
	events := service.NewEventService(repo, clk)
	server := NewServer(
		repo, kv,
		events,
		service.NewReminderService(repo, clk),
		service.NewTaskService(repo, clk),
		nil,
		clk,
	)
	return &fixture{server: server, kv: kv, repo: repo, events: events, user: user}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := f.server.App().Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func (f *fixture) mintToken(t *testing.T) string {
	t.Helper()
	token := uuid.NewString()
	require.NoError(t, f.kv.Set(context.Background(), "dashboard:token:"+token, f.user.ID, config.DashboardTokenTTL))
	return token
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "SUCCESS")
}

func TestDashboard_UnknownTokenIs404(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/dashboard/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDashboard_RendersWeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.events.Create(ctx, service.CreateEventRequest{
		User:     f.user,
		Title:    "פגישה עם דנה",
		StartUTC: testNow.Add(26 * time.Hour),
		Location: "תל אביב",
	})
	require.NoError(t, err)
	// Outside the week window.
	_, err = f.events.Create(ctx, service.CreateEventRequest{
		User:     f.user,
		Title:    "חתונה",
		StartUTC: testNow.Add(20 * 24 * time.Hour),
	})
	require.NoError(t, err)

	resp, body := f.get(t, "/dashboard/"+f.mintToken(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Results dashboardPayload `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))

	payload := envelope.Results
	assert.Equal(t, "יואב", payload.Name)
	assert.Equal(t, "Asia/Jerusalem", payload.Timezone)
	require.Len(t, payload.Events, 1)
	assert.Equal(t, "פגישה עם דנה", payload.Events[0].Title)
	assert.Equal(t, "תל אביב", payload.Events[0].Location)
	assert.Empty(t, payload.Reminders)
	assert.Empty(t, payload.Tasks)
}

func TestDashboard_TokenExpires(t *testing.T) {
	f := newFixture(t)
	token := uuid.NewString()
	require.NoError(t, f.kv.Set(context.Background(), "dashboard:token:"+token, f.user.ID, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	resp, _ := f.get(t, "/dashboard/"+token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkerStats(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/api/workers/stats")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	pool := msgworker.NewPool(2, 8)
	pool.Start(context.Background())
	defer pool.Stop()
	f.server.workers = pool

	resp, body := f.get(t, "/api/workers/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "num_workers")
}
