package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskhive/internal/model"
)

func TestCanTransitionTask_Table(t *testing.T) {
	legal := map[model.TaskStatus][]model.TaskStatus{
		model.TaskTodo:           {model.TaskInProgress, model.TaskOnHold},
		model.TaskInProgress:     {model.TaskCompleted, model.TaskOnHold, model.TaskRequestChanges, model.TaskTodo},
		model.TaskCompleted:      {model.TaskRequestChanges, model.TaskTodo},
		model.TaskOnHold:         {model.TaskTodo, model.TaskInProgress},
		model.TaskRequestChanges: {model.TaskTodo, model.TaskInProgress},
	}

	for _, from := range model.TaskStatuses {
		for _, to := range model.TaskStatuses {
			want := false
			for _, l := range legal[from] {
				if l == to {
					want = true
				}
			}
			assert.Equalf(t, want, CanTransitionTask(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionTask_UnknownStatus(t *testing.T) {
	assert.False(t, CanTransitionTask("Archived", model.TaskTodo))
	assert.False(t, CanTransitionTask(model.TaskTodo, "Archived"))
}

func TestAllowedTaskTransitions_ReturnsCopy(t *testing.T) {
	got := AllowedTaskTransitions(model.TaskTodo)
	got[0] = model.TaskCompleted
	assert.False(t, CanTransitionTask(model.TaskTodo, model.TaskCompleted))
}

func TestCanTransitionProject_Unconstrained(t *testing.T) {
	for _, from := range model.ProjectStatuses {
		for _, to := range model.ProjectStatuses {
			assert.True(t, CanTransitionProject(from, to))
		}
	}
	assert.False(t, CanTransitionProject(model.ProjectInProgress, "Todo"))
}
