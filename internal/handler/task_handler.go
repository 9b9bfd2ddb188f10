package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhive/internal/service/task"
)

type TaskHandler struct {
	tasks  *task.Service
	logger *zap.Logger
}

func NewTaskHandler(tasks *task.Service, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

// Create POST /projects/:id/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req task.CreateInput
	if !bindJSON(c, &req) {
		return
	}

	created, err := h.tasks.CreateTask(c.Request.Context(), p, projectID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListByProject GET /projects/:id/tasks
func (h *TaskHandler) ListByProject(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	tasks, err := h.tasks.ListByProject(c.Request.Context(), p, projectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// ProjectStats GET /projects/:id/tasks/stats
func (h *TaskHandler) ProjectStats(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	stats, err := h.tasks.Stats(c.Request.Context(), p, &projectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// List GET /tasks?project_id=&status=&priority=&assignee=&unassigned=&q=&limit=
func (h *TaskHandler) List(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	projectID, ok := queryInt(c, "project_id")
	if !ok {
		return
	}
	unassigned, ok := queryBool(c, "unassigned")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	q := task.ListQuery{
		ProjectID: projectID,
		Status:    c.Query("status"),
		Priority:  c.Query("priority"),
		Assignee:  c.Query("assignee"),
		Search:    c.Query("q"),
	}
	if unassigned != nil {
		q.Unassigned = *unassigned
	}
	if limit != nil {
		q.Limit = *limit
	}

	tasks, err := h.tasks.List(c.Request.Context(), p, q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Overdue GET /tasks/overdue
func (h *TaskHandler) Overdue(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	tasks, err := h.tasks.ListOverdue(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Get GET /tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	found, err := h.tasks.GetTask(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// Update PATCH /tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req task.UpdateInput
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.tasks.UpdateTask(c.Request.Context(), p, id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete DELETE /tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.tasks.DeleteTask(c.Request.Context(), p, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ChangeStatus POST /tasks/:id/status
func (h *TaskHandler) ChangeStatus(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.tasks.ChangeTaskStatus(c.Request.Context(), p, id, req.Status, req.Remark)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Assign POST /tasks/:id/assign
func (h *TaskHandler) Assign(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Assignee string `json:"assignee"`
	}
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.tasks.AssignTask(c.Request.Context(), p, id, req.Assignee)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Unassign DELETE /tasks/:id/assignee
func (h *TaskHandler) Unassign(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	updated, err := h.tasks.UnassignTask(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Move POST /tasks/:id/move
func (h *TaskHandler) Move(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		ProjectID int `json:"project_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	moved, err := h.tasks.MoveTaskToProject(c.Request.Context(), p, id, req.ProjectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, moved)
}

// ChangeLogs GET /tasks/:id/changelogs
func (h *TaskHandler) ChangeLogs(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	logs, err := h.tasks.ListChangeLogs(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"change_logs": logs})
}
