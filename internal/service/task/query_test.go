package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/pkg/apperror"
	"taskhive/pkg/rbac"
)

func taskNames(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name
	}
	return out
}

func TestListOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, CreateInput{Name: "late", DueDate: strPtr("2030-01-09")})
	f.create(t, CreateInput{Name: "late but done", DueDate: strPtr("2030-01-09"), Status: strPtr("Completed")})
	f.create(t, CreateInput{Name: "future", DueDate: strPtr("2030-01-11")})
	f.create(t, CreateInput{Name: "undated"})

	got, err := f.svc.ListOverdue(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, taskNames(got))

	none, err := f.svc.ListOverdue(ctx, f.other)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := f.newProject(t, f.owner.UserID, "Second")

	f.create(t, CreateInput{Name: "a", DueDate: strPtr("2030-01-01"), Assignee: strPtr("bob")})
	f.create(t, CreateInput{Name: "b", Status: strPtr("In Progress"), Priority: strPtr("Critical")})
	f.create(t, CreateInput{Name: "c", Status: strPtr("Completed")})
	_, err := f.svc.CreateTask(ctx, f.owner, second.ID, CreateInput{Name: "d"})
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, f.owner, &f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, f.project.ID, stats.ProjectID)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Overdue)
	assert.Equal(t, 2, stats.Unassigned)
	assert.Equal(t, 1, stats.ByStatus[string(model.TaskTodo)])
	assert.Equal(t, 1, stats.ByStatus[string(model.TaskCompleted)])
	assert.Equal(t, 1, stats.ByPriority[string(model.PriorityCritical)])
	assert.Equal(t, 2, stats.ByPriority[string(model.PriorityMedium)])

	all, err := f.svc.Stats(ctx, f.owner, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.GreaterOrEqual(t, all.Total, all.Overdue)

	_, err = f.svc.Stats(ctx, f.other, &f.project.ID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, CreateInput{Name: "Fix login", Contents: strPtr("OAuth flow"), Assignee: strPtr("carol")})
	f.create(t, CreateInput{Name: "Docs", Priority: strPtr("High"), DueDate: strPtr("2030-03-01")})
	f.create(t, CreateInput{Name: "Release", Priority: strPtr("High"), DueDate: strPtr("2030-02-01")})

	byProject, err := f.svc.ListByProject(ctx, f.owner, f.project.ID)
	require.NoError(t, err)
	assert.Len(t, byProject, 3)
	_, err = f.svc.ListByProject(ctx, f.other, f.project.ID)
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.ListByProject(ctx, f.owner, 999)
	assert.True(t, apperror.IsNotFound(err))

	high, err := f.svc.ListByPriority(ctx, f.owner, "High")
	require.NoError(t, err)
	assert.Equal(t, []string{"Release", "Docs"}, taskNames(high))

	found, err := f.svc.Search(ctx, f.owner, "oauth")
	require.NoError(t, err)
	assert.Equal(t, []string{"Fix login"}, taskNames(found))
	found, err = f.svc.Search(ctx, f.owner, "CAROL")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	assigned, err := f.svc.ListByAssignee(ctx, f.owner, "carol")
	require.NoError(t, err)
	assert.Len(t, assigned, 1)

	todo, err := f.svc.ListByStatus(ctx, f.owner, "Todo")
	require.NoError(t, err)
	assert.Len(t, todo, 3)
	_, err = f.svc.ListByStatus(ctx, f.owner, "Blocked")
	assert.True(t, apperror.IsValidation(err))

	unassigned, err := f.svc.List(ctx, f.admin, ListQuery{Unassigned: true, Priority: "High"})
	require.NoError(t, err)
	assert.Len(t, unassigned, 2)
}

func TestScope(t *testing.T) {
	user := rbac.Principal{UserID: 1, Roles: []string{rbac.RoleUser}}
	admin := rbac.Principal{UserID: 3, Roles: []string{rbac.RoleUser, rbac.RoleAdmin}}
	other := 2

	f, visible := scope(user, repository.TaskFilter{})
	require.True(t, visible)
	require.NotNil(t, f.OwnerID)
	assert.Equal(t, 1, *f.OwnerID)

	_, visible = scope(user, repository.TaskFilter{OwnerID: &other})
	assert.False(t, visible)

	f, visible = scope(admin, repository.TaskFilter{OwnerID: &other})
	assert.True(t, visible)
	assert.Equal(t, 2, *f.OwnerID)

	f, visible = scope(admin, repository.TaskFilter{})
	assert.True(t, visible)
	assert.Nil(t, f.OwnerID)
}
