package validation

import "taskhive/internal/model"

// taskTransitions 当前状态 -> 允许的下一个状态
var taskTransitions = map[model.TaskStatus][]model.TaskStatus{
	model.TaskTodo:           {model.TaskInProgress, model.TaskOnHold},
	model.TaskInProgress:     {model.TaskCompleted, model.TaskOnHold, model.TaskRequestChanges, model.TaskTodo},
	model.TaskCompleted:      {model.TaskRequestChanges, model.TaskTodo},
	model.TaskOnHold:         {model.TaskTodo, model.TaskInProgress},
	model.TaskRequestChanges: {model.TaskTodo, model.TaskInProgress},
}

// CanTransitionTask reports whether current -> next is a legal task status change.
// It never fails; callers decide how to treat false.
func CanTransitionTask(current, next model.TaskStatus) bool {
	for _, s := range taskTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// AllowedTaskTransitions 返回 current 之后允许的状态（拷贝）
func AllowedTaskTransitions(current model.TaskStatus) []model.TaskStatus {
	return append([]model.TaskStatus(nil), taskTransitions[current]...)
}

// CanTransitionProject 项目状态不受限制，只要求目标值合法
func CanTransitionProject(_, next model.ProjectStatus) bool {
	for _, s := range model.ProjectStatuses {
		if s == next {
			return true
		}
	}
	return false
}
