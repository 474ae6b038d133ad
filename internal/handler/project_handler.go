package handler

import (
	"net/http"

	"cms-backend/internal/middleware"
	"cms-backend/internal/service"
	"cms-backend/pkg/pagination"
	"cms-backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ProjectHandler struct {
	projectService service.ProjectService
}

func NewProjectHandler(projectService service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

func (h *ProjectHandler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/projects")
	{
		projects.GET("", h.ListProjects)
		projects.GET("/:id", h.GetProject)
		projects.POST("", h.CreateProject)
		projects.PUT("/:id", h.UpdateProject)
		projects.POST("/:id/members", h.AddMember)
		projects.DELETE("/:id/members/:userID", h.RemoveMember)
	}
}

// CreateProject handles POST /projects
// @Summary      Create a project
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateProjectRequest  true  "Create Payload"
// @Success      201      {object}  response.Response{data=model.Project}
// @Failure      403      {object}  response.Response
// @Router       /projects [post]
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	project, err := h.projectService.CreateProject(c.Request.Context(), actor, req)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, project))
}

// ListProjects handles GET /projects
// @Summary      List projects visible to the caller
// @Tags         projects
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page"
// @Param        limit  query     int  false  "Page size"
// @Success      200    {object}  response.Response{data=response.Paginated}
// @Router       /projects [get]
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	params := pagination.Parse(c)
	projects, total, err := h.projectService.ListProjects(c.Request.Context(), actor, params.Page, params.Limit)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginate(projects, total, params.Page, params.Limit)))
}

// GetProject handles GET /projects/:id
// @Summary      Get a project
// @Tags         projects
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  response.Response{data=model.Project}
// @Failure      404  {object}  response.Response
// @Router       /projects/{id} [get]
func (h *ProjectHandler) GetProject(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid project id"))
		return
	}

	project, err := h.projectService.GetProject(c.Request.Context(), actor, id)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, project))
}

// UpdateProject handles PUT /projects/:id
// @Summary      Update a project
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                        true  "Project ID"
// @Param        payload  body      service.UpdateProjectRequest  true  "Update Payload"
// @Success      200      {object}  response.Response{data=model.Project}
// @Router       /projects/{id} [put]
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid project id"))
		return
	}
	var req service.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	project, err := h.projectService.UpdateProject(c.Request.Context(), actor, id, req)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, project))
}

// AddMember handles POST /projects/:id/members
// @Summary      Add a member to a project
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                   true  "Project ID"
// @Param        payload  body      service.AddMemberRequest true  "Member Payload"
// @Success      201      {object}  response.Response
// @Router       /projects/{id}/members [post]
func (h *ProjectHandler) AddMember(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid project id"))
		return
	}
	var req service.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.projectService.AddMember(c.Request.Context(), actor, id, req); err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	// Membership affects visibility immediately.
	middleware.InvalidateActor(req.UserID)
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gin.H{"message": "member added"}))
}

// RemoveMember handles DELETE /projects/:id/members/:userID
// @Summary      Remove a member from a project
// @Tags         projects
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "Project ID"
// @Param        userID  path      string  true  "User ID"
// @Success      200     {object}  response.Response
// @Router       /projects/{id}/members/{userID} [delete]
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid project id"))
		return
	}
	userID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user id"))
		return
	}

	if err := h.projectService.RemoveMember(c.Request.Context(), actor, projectID, userID); err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	middleware.InvalidateActor(userID.String())
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "member removed"}))
}
