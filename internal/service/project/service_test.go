package project

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
	"taskhive/internal/repository/memory"
	"taskhive/pkg/apperror"
	"taskhive/pkg/rbac"
)

var now = time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	svc   *Service
	owner rbac.Principal
	other rbac.Principal
	admin rbac.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	store := memory.New(memory.WithClock(clock))
	ctx := context.Background()

	users := make([]rbac.Principal, 0, 3)
	for _, u := range []struct {
		email string
		roles []string
	}{
		{"owner@example.com", []string{rbac.RoleUser}},
		{"other@example.com", []string{rbac.RoleUser}},
		{"admin@example.com", []string{rbac.RoleUser, rbac.RoleAdmin}},
	} {
		user := model.User{Email: u.email, Roles: u.roles}
		require.NoError(t, store.Users().Insert(ctx, &user))
		users = append(users, rbac.Principal{UserID: user.ID, Roles: u.roles})
	}

	return &fixture{
		store: store,
		svc:   NewService(store, zap.NewNop(), WithClock(clock)),
		owner: users[0],
		other: users[1],
		admin: users[2],
	}
}

func (f *fixture) create(t *testing.T, name string) *model.Project {
	t.Helper()
	p, err := f.svc.CreateProject(context.Background(), f.owner, CreateInput{Name: name})
	require.NoError(t, err)
	return p
}

func (f *fixture) addTask(t *testing.T, projectID int, status model.TaskStatus) model.Task {
	t.Helper()
	task := model.Task{ProjectID: projectID, Name: "task", Status: status, Priority: model.PriorityMedium}
	require.NoError(t, f.store.Tasks().Insert(context.Background(), &task))
	return task
}

func (f *fixture) addLog(t *testing.T, projectID, taskID *int) model.ChangeLog {
	t.Helper()
	log := model.ChangeLog{ProjectID: projectID, TaskID: taskID, OldStatus: "Todo", NewStatus: "In Progress", Remark: "start"}
	require.NoError(t, f.store.ChangeLogs().Insert(context.Background(), &log))
	return log
}

func routingKeys(store *memory.Store) []string {
	var keys []string
	for _, e := range store.Outbox().Events() {
		keys = append(keys, e.RoutingKey)
	}
	return keys
}

func strPtr(s string) *string { return &s }

func TestCreateProject_Defaults(t *testing.T) {
	f := newFixture(t)

	p := f.create(t, "  Roadmap ")
	assert.Equal(t, "Roadmap", p.Name)
	assert.Equal(t, model.PriorityMedium, p.Priority)
	assert.Equal(t, model.ProjectInProgress, p.Status)
	assert.Equal(t, 0, p.Progress)
	assert.False(t, p.Archived)
	assert.Nil(t, p.ArchivedAt)
	assert.Equal(t, f.owner.UserID, p.OwnerID)
	assert.Equal(t, []string{contractsmq.ProjectCreated}, routingKeys(f.store))
}

func TestCreateProject_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"blank name", CreateInput{Name: "   "}},
		{"critical priority", CreateInput{Name: "x", Priority: strPtr("Critical")}},
		{"unknown status", CreateInput{Name: "x", Status: strPtr("Done")}},
		{"past due date", CreateInput{Name: "x", DueDate: strPtr("2030-01-09")}},
		{"bad due date", CreateInput{Name: "x", DueDate: strPtr("tomorrow")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateProject(ctx, f.owner, tt.in)
			assert.True(t, apperror.IsValidation(err), "got %v", err)
		})
	}

	p, err := f.svc.CreateProject(ctx, f.owner, CreateInput{Name: "today", DueDate: strPtr("2030-01-10")})
	require.NoError(t, err)
	require.NotNil(t, p.DueDate)
}

func TestCreateProject_Owner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otherID := f.other.UserID

	_, err := f.svc.CreateProject(ctx, f.owner, CreateInput{Name: "x", UserID: &otherID})
	assert.True(t, apperror.IsForbidden(err))

	p, err := f.svc.CreateProject(ctx, f.admin, CreateInput{Name: "x", UserID: &otherID})
	require.NoError(t, err)
	assert.Equal(t, otherID, p.OwnerID)

	missing := 999
	_, err = f.svc.CreateProject(ctx, f.admin, CreateInput{Name: "x", UserID: &missing})
	assert.True(t, apperror.IsNotFound(err))
}

func TestUpdateProjectProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Roadmap")

	for _, n := range []float64{-1, 101, 50.5} {
		_, err := f.svc.UpdateProjectProgress(ctx, f.owner, p.ID, n)
		assert.True(t, apperror.IsValidation(err), "progress %v", n)
	}

	updated, err := f.svc.UpdateProjectProgress(ctx, f.owner, p.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Progress)
}

func TestArchiveAndUnarchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Roadmap")

	archived, err := f.svc.ArchiveProject(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	require.NotNil(t, archived.ArchivedAt)
	assert.True(t, archived.ArchivedAt.Equal(now))

	unarchived, err := f.svc.UnarchiveProject(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.False(t, unarchived.Archived)
	assert.Nil(t, unarchived.ArchivedAt)

	assert.Contains(t, routingKeys(f.store), contractsmq.ProjectArchived)
}

func TestUpdateProject_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Roadmap")

	_, err := f.svc.UpdateProject(ctx, f.other, p.ID, UpdateInput{Name: model.Some("stolen")})
	assert.True(t, apperror.IsForbidden(err))

	got, err := f.svc.UpdateProject(ctx, f.admin, p.ID, UpdateInput{Name: model.Some("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	_, err = f.svc.UpdateProject(ctx, f.owner, 999, UpdateInput{Name: model.Some("x")})
	assert.True(t, apperror.IsNotFound(err))
}

func TestUpdateProject_PartialAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.CreateProject(ctx, f.owner, CreateInput{
		Name:        "Roadmap",
		Description: strPtr("keep me"),
		DueDate:     strPtr("2030-02-01"),
	})
	require.NoError(t, err)

	got, err := f.svc.UpdateProject(ctx, f.owner, p.ID, UpdateInput{
		Priority: model.Some("High"),
		DueDate:  model.Some[*string](nil),
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, got.Priority)
	assert.Equal(t, "keep me", got.Description)
	assert.Nil(t, got.DueDate)

	_, err = f.svc.UpdateProject(ctx, f.owner, p.ID, UpdateInput{Priority: model.Some("Urgent")})
	assert.True(t, apperror.IsValidation(err))
}

func decodeUpdate(t *testing.T, body string) UpdateInput {
	t.Helper()
	var in UpdateInput
	require.NoError(t, json.Unmarshal([]byte(body), &in))
	return in
}

func TestUpdateProject_RejectsNullForRequiredFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Roadmap")
	_, err := f.svc.UpdateProjectProgress(ctx, f.owner, p.ID, 60)
	require.NoError(t, err)
	_, err = f.svc.ArchiveProject(ctx, f.owner, p.ID)
	require.NoError(t, err)

	for _, body := range []string{`{"progress": null}`, `{"archived": null}`} {
		_, err := f.svc.UpdateProject(ctx, f.owner, p.ID, decodeUpdate(t, body))
		require.Error(t, err, body)
		assert.True(t, apperror.IsValidation(err), body)
	}

	got, err := f.svc.GetProject(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)
	assert.True(t, got.Archived)
	assert.NotNil(t, got.ArchivedAt)
}

func TestUpdateProject_BlankRemarkIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Roadmap")

	_, err := f.svc.UpdateProject(ctx, f.owner, p.ID, decodeUpdate(t, `{"status":"On Hold","remark":"   "}`))
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	got, err := f.svc.GetProject(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectInProgress, got.Status)
	logs, err := f.svc.ListChangeLogs(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	// 未提供 remark 时使用生成的文本
	_, err = f.svc.UpdateProject(ctx, f.owner, p.ID, decodeUpdate(t, `{"status":"On Hold"}`))
	require.NoError(t, err)
	logs, err = f.svc.ListChangeLogs(ctx, f.owner, p.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "status changed from In Progress to On Hold", logs[0].Remark)
}

func TestChangeProjectStatus_WritesChangeLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Roadmap")

	_, err := f.svc.ChangeProjectStatus(ctx, f.owner, p.ID, "To Review", " ")
	assert.True(t, apperror.IsValidation(err))

	got, err := f.svc.ChangeProjectStatus(ctx, f.owner, p.ID, "To Review", "ready for review")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectToReview, got.Status)

	logs, err := f.svc.ListChangeLogs(ctx, f.owner, p.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "In Progress", logs[0].OldStatus)
	assert.Equal(t, "To Review", logs[0].NewStatus)
	assert.Equal(t, "ready for review", logs[0].Remark)
	assert.Nil(t, logs[0].TaskID)

	// 同状态不产生新的 change log
	_, err = f.svc.ChangeProjectStatus(ctx, f.owner, p.ID, "To Review", "again")
	require.NoError(t, err)
	logs, err = f.svc.ListChangeLogs(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = f.svc.ListChangeLogs(ctx, f.other, p.ID)
	assert.True(t, apperror.IsForbidden(err))
	assert.Contains(t, routingKeys(f.store), contractsmq.ProjectStatusChanged)
}

func TestDeleteProject_Cascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Doomed")
	keep := f.create(t, "Survivor")

	t1 := f.addTask(t, p.ID, model.TaskTodo)
	t2 := f.addTask(t, p.ID, model.TaskInProgress)
	kept := f.addTask(t, keep.ID, model.TaskTodo)
	l1 := f.addLog(t, &p.ID, nil)
	l2 := f.addLog(t, nil, &t1.ID)
	l3 := f.addLog(t, nil, &t2.ID)
	keptLog := f.addLog(t, nil, &kept.ID)

	plan, err := f.svc.PlanProjectDeletion(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{t1.ID, t2.ID}, plan.TaskIDs)
	assert.ElementsMatch(t, []int{l1.ID, l2.ID, l3.ID}, plan.ChangeLogIDs)

	// dry run 不删除
	_, err = f.store.Projects().FindByID(ctx, p.ID)
	require.NoError(t, err)

	_, err = f.svc.DeleteProject(ctx, f.other, p.ID)
	assert.True(t, apperror.IsForbidden(err))

	deleted, err := f.svc.DeleteProject(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan, deleted)

	_, err = f.store.Projects().FindByID(ctx, p.ID)
	assert.Error(t, err)
	for _, id := range []int{t1.ID, t2.ID} {
		_, err := f.store.Tasks().FindByID(ctx, id)
		assert.Error(t, err)
	}
	ids, err := f.store.ChangeLogs().FindIDsByReference(ctx, nil, []int{kept.ID})
	require.NoError(t, err)
	assert.Equal(t, []int{keptLog.ID}, ids)
	assert.Contains(t, routingKeys(f.store), contractsmq.ProjectDeleted)

	_, err = f.svc.DeleteProject(ctx, f.owner, p.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestDeleteProject_RollbackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Doomed")
	task := f.addTask(t, p.ID, model.TaskTodo)
	log := f.addLog(t, nil, &task.ID)
	eventsBefore := len(f.store.Outbox().Events())

	f.store.FailOn("tasks.DeleteByIDs", errors.New("disk full"))
	_, err := f.svc.DeleteProject(ctx, f.owner, p.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsTransaction(err))

	f.store.ClearFaults()
	_, err = f.store.Projects().FindByID(ctx, p.ID)
	assert.NoError(t, err)
	_, err = f.store.Tasks().FindByID(ctx, task.ID)
	assert.NoError(t, err)
	ids, err := f.store.ChangeLogs().FindIDsByReference(ctx, nil, []int{task.ID})
	require.NoError(t, err)
	assert.Equal(t, []int{log.ID}, ids)
	assert.Len(t, f.store.Outbox().Events(), eventsBefore)
}

func TestRecalculateProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, "Roadmap")

	n, err := f.svc.RecalculateProgress(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.addTask(t, p.ID, model.TaskCompleted)
	f.addTask(t, p.ID, model.TaskTodo)
	f.addTask(t, p.ID, model.TaskInProgress)

	n, err = f.svc.RecalculateProgress(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, n)

	got, err := f.svc.GetProject(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, got.Progress)

	_, err = f.svc.RecalculateProgress(ctx, 999)
	assert.True(t, apperror.IsNotFound(err))
}
