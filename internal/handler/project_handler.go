package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhive/internal/service/project"
)

type ProjectHandler struct {
	projects *project.Service
	logger   *zap.Logger
}

func NewProjectHandler(projects *project.Service, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, logger: logger}
}

// Create POST /projects
func (h *ProjectHandler) Create(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	var req project.CreateInput
	if !bindJSON(c, &req) {
		return
	}

	created, err := h.projects.CreateProject(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// List GET /projects?status=&priority=&archived=&q=&owner_id=&limit=
func (h *ProjectHandler) List(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	ownerID, ok := queryInt(c, "owner_id")
	if !ok {
		return
	}
	archived, ok := queryBool(c, "archived")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	q := project.ListQuery{
		OwnerID:  ownerID,
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Archived: archived,
		Search:   c.Query("q"),
	}
	if limit != nil {
		q.Limit = *limit
	}

	projects, err := h.projects.List(c.Request.Context(), p, q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// Overdue GET /projects/overdue
func (h *ProjectHandler) Overdue(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	projects, err := h.projects.ListOverdue(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// Stats GET /projects/stats
func (h *ProjectHandler) Stats(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	stats, err := h.projects.Stats(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Get GET /projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	found, err := h.projects.GetProject(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// Update PATCH /projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req project.UpdateInput
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.projects.UpdateProject(c.Request.Context(), p, id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete DELETE /projects/:id，返回实际删除的行
func (h *ProjectHandler) Delete(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	plan, err := h.projects.DeleteProject(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": plan, "rows": plan.Rows()})
}

// DeletePlan GET /projects/:id/delete-plan
func (h *ProjectHandler) DeletePlan(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	plan, err := h.projects.PlanProjectDeletion(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "rows": plan.Rows()})
}

// Archive POST /projects/:id/archive
func (h *ProjectHandler) Archive(c *gin.Context) {
	h.archive(c, true)
}

// Unarchive POST /projects/:id/unarchive
func (h *ProjectHandler) Unarchive(c *gin.Context) {
	h.archive(c, false)
}

func (h *ProjectHandler) archive(c *gin.Context, archived bool) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	fn := h.projects.UnarchiveProject
	if archived {
		fn = h.projects.ArchiveProject
	}
	updated, err := fn(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// UpdateProgress PUT /projects/:id/progress
func (h *ProjectHandler) UpdateProgress(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Progress *float64 `json:"progress" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.projects.UpdateProjectProgress(c.Request.Context(), p, id, *req.Progress)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ChangeStatus POST /projects/:id/status
func (h *ProjectHandler) ChangeStatus(c *gin.Context) {
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

	updated, err := h.projects.ChangeProjectStatus(c.Request.Context(), p, id, req.Status, req.Remark)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ChangeLogs GET /projects/:id/changelogs
func (h *ProjectHandler) ChangeLogs(c *gin.Context) {
	p, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	logs, err := h.projects.ListChangeLogs(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"change_logs": logs})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Remark string `json:"remark"`
}
