package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhive/internal/model"
	"taskhive/pkg/apperror"
)

// insert 绕过校验直接写入，用于构造过去的截止日期
func (f *fixture) insert(t *testing.T, p model.Project) model.Project {
	t.Helper()
	if p.OwnerID == 0 {
		p.OwnerID = f.owner.UserID
	}
	if p.Priority == "" {
		p.Priority = model.PriorityMedium
	}
	if p.Status == "" {
		p.Status = model.ProjectInProgress
	}
	require.NoError(t, f.store.Projects().Insert(context.Background(), &p))
	return p
}

func names(projects []model.Project) []string {
	out := make([]string, len(projects))
	for i, p := range projects {
		out[i] = p.Name
	}
	return out
}

func TestListOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)
	archivedAt := now

	f.insert(t, model.Project{Name: "late", DueDate: &yesterday})
	f.insert(t, model.Project{Name: "archived", DueDate: &yesterday, Archived: true, ArchivedAt: &archivedAt})
	f.insert(t, model.Project{Name: "done", DueDate: &yesterday, Status: model.ProjectCompleted})
	f.insert(t, model.Project{Name: "future", DueDate: &tomorrow})
	f.insert(t, model.Project{Name: "undated"})

	got, err := f.svc.ListOverdue(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, names(got))

	stats, err := f.svc.Stats(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 4, stats.Active)
	assert.Equal(t, 1, stats.Overdue)
	assert.Equal(t, 4, stats.ByStatus[string(model.ProjectInProgress)])
	assert.Equal(t, 1, stats.ByStatus[string(model.ProjectCompleted)])
	assert.Equal(t, 0, stats.ByStatus[string(model.ProjectOnHold)])
	assert.Equal(t, 5, stats.ByPriority[string(model.PriorityMedium)])
	assert.GreaterOrEqual(t, stats.Total, stats.Archived)
	assert.GreaterOrEqual(t, stats.Total, stats.Overdue)
}

func TestQueries_ScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insert(t, model.Project{Name: "Alpha launch", Description: "marketing"})
	f.insert(t, model.Project{Name: "Beta", Description: "ALPHA testers", Priority: model.PriorityHigh})
	f.insert(t, model.Project{Name: "Gamma alpha", OwnerID: f.other.UserID})

	mine, err := f.svc.Search(ctx, f.owner, "alpha")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alpha launch", "Beta"}, names(mine))

	all, err := f.svc.Search(ctx, f.admin, "alpha")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// 非管理员查询他人项目时结果为空
	theirs, err := f.svc.ListByOwner(ctx, f.owner, f.other.UserID)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	high, err := f.svc.ListByPriority(ctx, f.owner, "High")
	require.NoError(t, err)
	assert.Equal(t, []string{"Beta"}, names(high))

	_, err = f.svc.ListByPriority(ctx, f.owner, "Critical")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.List(ctx, f.owner, ListQuery{Status: "Bogus"})
	assert.True(t, apperror.IsValidation(err))

	archived := false
	listed, err := f.svc.List(ctx, f.admin, ListQuery{Archived: &archived, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = f.svc.GetProject(ctx, f.other, mine[0].ID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestListByPriority_DueDateAscending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := now.AddDate(0, 0, 5)
	d2 := now.AddDate(0, 0, 2)

	f.insert(t, model.Project{Name: "undated", Priority: model.PriorityLow})
	f.insert(t, model.Project{Name: "later", Priority: model.PriorityLow, DueDate: &d1})
	f.insert(t, model.Project{Name: "sooner", Priority: model.PriorityLow, DueDate: &d2})

	got, err := f.svc.ListByPriority(ctx, f.owner, "Low")
	require.NoError(t, err)
	assert.Equal(t, []string{"sooner", "later", "undated"}, names(got))
}

func TestListArchivedAndActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	archivedAt := now

	f.insert(t, model.Project{Name: "open"})
	f.insert(t, model.Project{Name: "shelved", Archived: true, ArchivedAt: &archivedAt})
	f.insert(t, model.Project{Name: "theirs", OwnerID: f.other.UserID, Archived: true, ArchivedAt: &archivedAt})

	archived, err := f.svc.ListArchived(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"shelved"}, names(archived))

	active, err := f.svc.ListActive(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"open"}, names(active))

	all, err := f.svc.ListArchived(ctx, f.admin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shelved", "theirs"}, names(all))
}

func TestListByOwner_DoesNotRewriteRequestedOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insert(t, model.Project{Name: "mine"})
	f.insert(t, model.Project{Name: "theirs", OwnerID: f.other.UserID})

	own, err := f.svc.ListByOwner(ctx, f.owner, f.owner.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, names(own))

	foreign, err := f.svc.ListByOwner(ctx, f.owner, f.other.UserID)
	require.NoError(t, err)
	assert.Empty(t, foreign)

	otherID := f.other.UserID
	listed, err := f.svc.List(ctx, f.owner, ListQuery{OwnerID: &otherID})
	require.NoError(t, err)
	assert.Empty(t, listed)

	byAdmin, err := f.svc.ListByOwner(ctx, f.admin, f.other.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"theirs"}, names(byAdmin))
}
