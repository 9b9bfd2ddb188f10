package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contractsmq "taskhive/contracts/mq"
	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/internal/repository/memory"
	"taskhive/pkg/apperror"
	"taskhive/pkg/rbac"
)

var now = time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	svc     *Service
	owner   rbac.Principal
	other   rbac.Principal
	admin   rbac.Principal
	project model.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	store := memory.New(memory.WithClock(clock))
	f := &fixture{store: store, svc: NewService(store, zap.NewNop(), WithClock(clock))}

	f.owner = f.user(t, "owner@example.com", rbac.RoleUser)
	f.other = f.user(t, "other@example.com", rbac.RoleUser)
	f.admin = f.user(t, "admin@example.com", rbac.RoleUser, rbac.RoleAdmin)
	f.project = f.newProject(t, f.owner.UserID, "Roadmap")
	return f
}

func (f *fixture) user(t *testing.T, email string, roles ...string) rbac.Principal {
	t.Helper()
	u := model.User{Email: email, Roles: roles}
	require.NoError(t, f.store.Users().Insert(context.Background(), &u))
	return rbac.Principal{UserID: u.ID, Roles: roles}
}

func (f *fixture) newProject(t *testing.T, ownerID int, name string) model.Project {
	t.Helper()
	p := model.Project{OwnerID: ownerID, Name: name, Priority: model.PriorityMedium, Status: model.ProjectInProgress}
	require.NoError(t, f.store.Projects().Insert(context.Background(), &p))
	return p
}

func (f *fixture) create(t *testing.T, in CreateInput) *model.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), f.owner, f.project.ID, in)
	require.NoError(t, err)
	return task
}

func strPtr(s string) *string { return &s }

func TestCreateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.create(t, CreateInput{Name: "Write docs", Assignee: strPtr(" alice ")})
	assert.Equal(t, model.TaskTodo, task.Status)
	assert.Equal(t, model.PriorityMedium, task.Priority)
	require.NotNil(t, task.Assignee)
	assert.Equal(t, "alice", *task.Assignee)

	// 任务截止日期允许早于今天
	past := f.create(t, CreateInput{Name: "Backfill", DueDate: strPtr("2020-01-01"), Status: strPtr("Done")})
	assert.Equal(t, model.TaskCompleted, past.Status)

	_, err := f.svc.CreateTask(ctx, f.owner, 999, CreateInput{Name: "orphan"})
	assert.True(t, apperror.IsNotFound(err))
	n, err := f.store.Tasks().Count(ctx, repository.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.svc.CreateTask(ctx, f.other, f.project.ID, CreateInput{Name: "intruder"})
	assert.True(t, apperror.IsForbidden(err))

	for _, in := range []CreateInput{
		{Name: ""},
		{Name: "x", Priority: strPtr("Urgent")},
		{Name: "x", Status: strPtr("Blocked")},
		{Name: "x", Assignee: strPtr("  ")},
		{Name: "x", Progress: func() *float64 { v := 101.0; return &v }()},
	} {
		_, err := f.svc.CreateTask(ctx, f.owner, f.project.ID, in)
		assert.True(t, apperror.IsValidation(err), "input %+v", in)
	}
}

func TestUpdateTask_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Name: "Ship"})

	// Todo -> Completed 不允许
	_, err := f.svc.UpdateTask(ctx, f.owner, task.ID, UpdateInput{Status: model.Some("Completed")})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), "In Progress")

	got, err := f.svc.UpdateTask(ctx, f.owner, task.ID, UpdateInput{Status: model.Some("In Progress")})
	require.NoError(t, err)
	assert.Equal(t, model.TaskInProgress, got.Status)

	got, err = f.svc.ChangeTaskStatus(ctx, f.owner, task.ID, "Done", "shipped")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, got.Status)

	logs, err := f.svc.ListChangeLogs(ctx, f.owner, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "status changed from Todo to In Progress", logs[0].Remark)
	assert.Equal(t, "shipped", logs[1].Remark)
	assert.Nil(t, logs[1].ProjectID)
	require.NotNil(t, logs[1].TaskID)
	assert.Equal(t, task.ID, *logs[1].TaskID)

	_, err = f.svc.ChangeTaskStatus(ctx, f.owner, task.ID, "Todo", "")
	assert.True(t, apperror.IsValidation(err))

	// 同状态更新不写 change log
	_, err = f.svc.UpdateTask(ctx, f.owner, task.ID, UpdateInput{Status: model.Some("Completed")})
	require.NoError(t, err)
	logs, err = f.svc.ListChangeLogs(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	var statusEvents int
	for _, e := range f.store.Outbox().Events() {
		if e.RoutingKey == contractsmq.TaskStatusChanged {
			statusEvents++
		}
	}
	assert.Equal(t, 2, statusEvents)
}

func TestUpdateTask_ChangeLogFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Name: "Ship"})

	f.store.FailOn("changelogs.Insert", errors.New("connection reset"))
	_, err := f.svc.UpdateTask(ctx, f.owner, task.ID, UpdateInput{Status: model.Some("In Progress")})
	assert.True(t, apperror.IsTransaction(err))
	f.store.ClearFaults()

	got, err := f.svc.GetTask(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskTodo, got.Status)
}

func TestUpdateTask_Fields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Name: "Ship", DueDate: strPtr("2030-02-01"), Contents: strPtr("body")})

	got, err := f.svc.UpdateTask(ctx, f.admin, task.ID, UpdateInput{
		Priority: model.Some("Critical"),
		DueDate:  model.Some[*string](nil),
		Progress: model.Some(40.0),
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, got.Priority)
	assert.Nil(t, got.DueDate)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "body", got.Contents)

	_, err = f.svc.UpdateTask(ctx, f.other, task.ID, UpdateInput{Name: model.Some("x")})
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.UpdateTask(ctx, f.owner, 999, UpdateInput{Name: model.Some("x")})
	assert.True(t, apperror.IsNotFound(err))
}

func TestUpdateTask_NullProgressAndBlankRemark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Name: "Ship", Progress: func() *float64 { v := 30.0; return &v }()})

	decode := func(body string) UpdateInput {
		var in UpdateInput
		require.NoError(t, json.Unmarshal([]byte(body), &in))
		return in
	}

	_, err := f.svc.UpdateTask(ctx, f.owner, task.ID, decode(`{"progress": null}`))
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.UpdateTask(ctx, f.owner, task.ID, decode(`{"status":"In Progress","remark":"  "}`))
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	got, err := f.svc.GetTask(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Progress)
	assert.Equal(t, model.TaskTodo, got.Status)
	logs, err := f.svc.ListChangeLogs(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAssignAndUnassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Name: "Ship"})

	got, err := f.svc.AssignTask(ctx, f.owner, task.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, got.Assignee)
	assert.Equal(t, "bob", *got.Assignee)

	_, err = f.svc.AssignTask(ctx, f.owner, task.ID, "")
	assert.True(t, apperror.IsValidation(err))

	got, err = f.svc.UnassignTask(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Assignee)
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Name: "Ship"})
	_, err := f.svc.ChangeTaskStatus(ctx, f.owner, task.ID, "In Progress", "go")
	require.NoError(t, err)

	assert.True(t, apperror.IsForbidden(f.svc.DeleteTask(ctx, f.other, task.ID)))

	require.NoError(t, f.svc.DeleteTask(ctx, f.owner, task.ID))
	_, err = f.svc.GetTask(ctx, f.owner, task.ID)
	assert.True(t, apperror.IsNotFound(err))

	ids, err := f.store.ChangeLogs().FindIDsByReference(ctx, nil, []int{task.ID})
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.True(t, apperror.IsNotFound(f.svc.DeleteTask(ctx, f.owner, task.ID)))
}

func TestMoveTaskToProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, CreateInput{Name: "Ship"})
	mine := f.newProject(t, f.owner.UserID, "Second")
	theirs := f.newProject(t, f.other.UserID, "Foreign")

	_, err := f.svc.MoveTaskToProject(ctx, f.owner, task.ID, theirs.ID)
	assert.True(t, apperror.IsForbidden(err))
	got, err := f.svc.GetTask(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, f.project.ID, got.ProjectID)

	_, err = f.svc.MoveTaskToProject(ctx, f.owner, task.ID, 999)
	assert.True(t, apperror.IsNotFound(err))
	// 目标项目不存在时先报 NotFound，不泄露鉴权结果
	_, err = f.svc.MoveTaskToProject(ctx, f.other, task.ID, 999)
	assert.True(t, apperror.IsNotFound(err))
	_, err = f.svc.MoveTaskToProject(ctx, f.owner, 999, mine.ID)
	assert.True(t, apperror.IsNotFound(err))

	moved, err := f.svc.MoveTaskToProject(ctx, f.owner, task.ID, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, moved.ProjectID)

	// 管理员可以在任意项目之间移动
	moved, err = f.svc.MoveTaskToProject(ctx, f.admin, task.ID, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, theirs.ID, moved.ProjectID)

	events := f.store.Outbox().Events()
	last := events[len(events)-1]
	assert.Equal(t, contractsmq.TaskMoved, last.RoutingKey)
	assert.Contains(t, string(last.Payload), `"from_project_id"`)
}
