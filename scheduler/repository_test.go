package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	glebarez "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	// 内存库每个连接独立，限制为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&Task{}, &ExecutionLog{}, &UserCredit{}))
	return db
}

func createTask(t *testing.T, repo *Repository, task Task) *Task {
	t.Helper()
	if task.TaskBody == "" {
		task.TaskBody = "render the weekly recap"
	}
	if task.ScheduleType == "" {
		task.ScheduleType = ScheduleOnce
	}
	require.NoError(t, repo.Create(context.Background(), &task))
	return &task
}

func TestRepository_CreateValidates(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name string
		task Task
	}{
		{"empty body", Task{ScheduleType: ScheduleOnce, ScheduledTime: testNow}},
		{"no time", Task{TaskBody: "x", ScheduleType: ScheduleOnce}},
		{"bad type", Task{TaskBody: "x", ScheduleType: "hourly", ScheduledTime: testNow}},
		{"bad interval", Task{TaskBody: "x", ScheduleType: ScheduleRecurring, ScheduledTime: testNow, RepeatInterval: "1 year"}},
		{"empty secret key", Task{TaskBody: "x", ScheduleType: ScheduleOnce, ScheduledTime: testNow,
			Config: TaskConfig{SensitiveData: []SensitiveValue{{Value: "v"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			assert.Error(t, repo.Create(ctx, &task))
		})
	}

	task := createTask(t, repo, Task{ScheduledTime: testNow, Config: TaskConfig{
		SensitiveData: []SensitiveValue{{Key: "user", Value: "alice"}},
	}})
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskPending, task.Status)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Config, got.Config)
	assert.True(t, got.ScheduledTime.Equal(testNow))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRepository_ClaimIsConditional(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	due := createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Minute)})
	future := createTask(t, repo, Task{ScheduledTime: testNow.Add(time.Hour)})

	ok, err := repo.Claim(ctx, due.ID, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, due.ID, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "a running task cannot be claimed again")

	ok, err = repo.Claim(ctx, future.ID, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "a task that is not due cannot be claimed")

	got, err := repo.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskRunning, got.Status)
	require.NotNil(t, got.ClaimedAt)
}

func TestRepository_ClaimDue(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	a := createTask(t, repo, Task{ScheduledTime: testNow.Add(-2 * time.Minute)})
	b := createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Minute), ScheduleType: ScheduleRecurring, RepeatInterval: "1 day", Status: TaskActive})
	createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Minute), Status: TaskCompleted})
	createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Minute), Status: TaskFailed})
	createTask(t, repo, Task{ScheduledTime: testNow.Add(time.Minute)})

	claimed, conflicts, err := repo.ClaimDue(ctx, testNow, 10)
	require.NoError(t, err)
	assert.Zero(t, conflicts)
	require.Len(t, claimed, 2)
	assert.Equal(t, a.ID, claimed[0].ID)
	assert.Equal(t, b.ID, claimed[1].ID)
	for _, task := range claimed {
		assert.Equal(t, TaskRunning, task.Status)
	}

	claimed, _, err = repo.ClaimDue(ctx, testNow, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRepository_FinishAppendsLog(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	task := createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Minute)})
	claimed, _, err := repo.ClaimDue(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	run := claimed[0]
	run.Status = TaskCompleted
	run.LastRunAt = &testNow
	require.NoError(t, repo.Finish(ctx, &run, &ExecutionLog{
		Status:                ExecutionDispatched,
		DispatchedExecutionID: "exec-1",
		ExecutedAt:            testNow,
	}))

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Nil(t, got.ClaimedAt)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(testNow))

	logs, err := repo.Logs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "exec-1", logs[0].DispatchedExecutionID)
	assert.Equal(t, ExecutionDispatched, logs[0].Status)
	assert.NotEmpty(t, logs[0].ID)

	// 已结算的任务不能再次结算
	err = repo.Finish(ctx, &run, &ExecutionLog{Status: ExecutionDispatched, ExecutedAt: testNow})
	assert.ErrorIs(t, err, ErrClaimLost)
	logs, err = repo.Logs(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1, "log entry rolled back with the lost claim")
}

func TestRepository_RecoverStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zap.NewNop())
	ctx := context.Background()

	once := createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Hour)})
	recurring := createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Hour), ScheduleType: ScheduleRecurring, RepeatInterval: "1 week"})
	fresh := createTask(t, repo, Task{ScheduledTime: testNow.Add(-time.Hour)})

	for _, id := range []string{once.ID, recurring.ID} {
		ok, err := repo.Claim(ctx, id, testNow.Add(-30*time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := repo.Claim(ctx, fresh.ID, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := repo.RecoverStale(ctx, testNow.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.Get(ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, got.Status)
	got, err = repo.Get(ctx, recurring.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskActive, got.Status)
	got, err = repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskRunning, got.Status)
}

func TestRepository_ClaimSQL(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	repo := NewRepository(db, zap.NewNop())

	// 认领必须是单条带状态条件的 UPDATE，而不是先查后写
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduled_tasks" SET .*"status"=.* WHERE .*id = \$\d+ AND status IN \(\$\d+,\$\d+\) AND scheduled_time <= \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.Claim(context.Background(), "t1", testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduled_tasks"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = repo.Claim(context.Background(), "t1", testNow)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormCreditLedger(t *testing.T) {
	ledger := NewGormCreditLedger(setupTestDB(t))
	ctx := context.Background()

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	require.NoError(t, ledger.Grant(ctx, "u1", 2))
	require.NoError(t, ledger.Grant(ctx, "u1", 1))
	balance, err = ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, balance)

	require.NoError(t, ledger.Deduct(ctx, "u1", 2))
	assert.Error(t, ledger.Deduct(ctx, "u1", 2), "never goes below zero")
	balance, err = ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, balance)
}
