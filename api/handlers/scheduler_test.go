package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rvndrmann/mannmediaagency-sub005/api"
	"github.com/rvndrmann/mannmediaagency-sub005/scheduler"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

func setupSchedulerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&scheduler.Task{}, &scheduler.ExecutionLog{}, &scheduler.UserCredit{}))
	return db
}

type dispatchLog struct {
	mu   sync.Mutex
	reqs []scheduler.DispatchRequest
}

func (d *dispatchLog) dispatch(_ context.Context, req scheduler.DispatchRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	return "exec-1", nil
}

func newSchedulerMux(t *testing.T, d *dispatchLog) *http.ServeMux {
	repo := scheduler.NewRepository(setupSchedulerDB(t), zap.NewNop())
	cfg := scheduler.DefaultConfig()
	cfg.CreditCheckEnabled = false
	s := scheduler.New(repo, scheduler.DispatcherFunc(d.dispatch), cfg, zap.NewNop())
	mux := http.NewServeMux()
	NewSchedulerHandler(s, repo, zap.NewNop()).Register(mux)
	return mux
}

func TestSchedulerHandler_CreateAndTick(t *testing.T) {
	d := &dispatchLog{}
	mux := newSchedulerMux(t, d)

	w := serve(t, mux, http.MethodPost, "/api/v1/scheduler/tasks", api.CreateTaskRequest{
		UserID:        "u1",
		TaskBody:      "post the recap as {account}",
		ScheduleType:  "once",
		ScheduledTime: time.Now().Add(-time.Minute),
		Config: scheduler.TaskConfig{
			SensitiveData: []scheduler.SensitiveValue{{Key: "account", Value: "@studio"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var task scheduler.Task
	decodeData(t, w, &task)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, scheduler.TaskPending, task.Status)

	w = serve(t, mux, http.MethodPost, "/api/v1/scheduler/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report scheduler.TickReport
	decodeData(t, w, &report)
	assert.Equal(t, 1, report.Dispatched)
	require.Len(t, d.reqs, 1)
	assert.Equal(t, "post the recap as @studio", d.reqs[0].Task)

	w = serve(t, mux, http.MethodGet, "/api/v1/scheduler/tasks/"+task.ID, nil)
	var got scheduler.Task
	decodeData(t, w, &got)
	assert.Equal(t, scheduler.TaskCompleted, got.Status)

	w = serve(t, mux, http.MethodGet, "/api/v1/scheduler/tasks/"+task.ID+"/logs", nil)
	var logs []scheduler.ExecutionLog
	decodeData(t, w, &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "exec-1", logs[0].DispatchedExecutionID)
}

func TestSchedulerHandler_Errors(t *testing.T) {
	mux := newSchedulerMux(t, &dispatchLog{})

	w := serve(t, mux, http.MethodPost, "/api/v1/scheduler/tasks", api.CreateTaskRequest{
		TaskBody:      "x",
		ScheduleType:  "hourly",
		ScheduledTime: time.Now(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), errorCode(t, w))

	w = serve(t, mux, http.MethodGet, "/api/v1/scheduler/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrTaskNotFound), errorCode(t, w))

	w = serve(t, mux, http.MethodGet, "/api/v1/scheduler/tasks/missing/logs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
