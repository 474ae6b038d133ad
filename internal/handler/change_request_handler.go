package handler

import (
	"net/http"

	"cms-backend/internal/middleware"
	"cms-backend/internal/model"
	"cms-backend/internal/service"
	"cms-backend/pkg/pagination"
	"cms-backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ChangeRequestHandler struct {
	crService service.ChangeRequestService
}

// NewChangeRequestHandler sets up the routing dependencies for change
// request endpoints.
func NewChangeRequestHandler(crService service.ChangeRequestService) *ChangeRequestHandler {
	return &ChangeRequestHandler{crService: crService}
}

// RegisterRoutes binds the endpoints to the gin RouterGroup. The group is
// expected to already carry the authentication middleware.
func (h *ChangeRequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	crs := router.Group("/change-requests")
	{
		crs.POST("", middleware.RequirePermission(model.PermSubmitCR), h.Create)
		crs.GET("", h.List)
		crs.GET("/:id", h.Get)
		crs.PUT("/:id", h.Update)
		crs.POST("/:id/submit", h.Submit)
		crs.POST("/:id/approve", middleware.RequirePermission(model.PermApproveCR), h.Approve)
		crs.POST("/:id/reject", middleware.RequirePermission(model.PermRejectCR), h.Reject)
		crs.POST("/:id/start", middleware.RequirePermission(model.PermImplementCR), h.StartImplementation)
		crs.POST("/:id/complete", middleware.RequirePermission(model.PermImplementCR), h.CompleteImplementation)
		crs.POST("/:id/close", h.Close)
		crs.POST("/:id/rollback", middleware.RequirePermission(model.PermRollbackCR), h.Rollback)
		crs.POST("/:id/comments", h.AddComment)
		crs.POST("/:id/attachments", middleware.RequirePermission(model.PermAttachFiles), h.AddAttachment)
	}
}

func (h *ChangeRequestHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid change request id"))
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /change-requests
// @Summary      Create a change request
// @Description  Creates a change request in draft status, optionally submitting it immediately
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateChangeRequestDTO  true  "Create Payload"
// @Success      201      {object}  response.Response{data=model.ChangeRequest}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /change-requests [post]
func (h *ChangeRequestHandler) Create(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	var req service.CreateChangeRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	cr, err := h.crService.Create(c.Request.Context(), actor, req)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, cr))
}

// List handles GET /change-requests
// @Summary      List change requests
// @Description  Lists change requests visible to the caller, filtered by project, status and priority
// @Tags         change-requests
// @Produce      json
// @Security     BearerAuth
// @Param        project_id  query     string  false  "Project filter"
// @Param        status      query     string  false  "Status filter"
// @Param        priority    query     string  false  "Priority filter"
// @Param        page        query     int     false  "Page"
// @Param        limit       query     int     false  "Page size"
// @Success      200         {object}  response.Response{data=response.Paginated}
// @Router       /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	params := pagination.Parse(c)
	filter := service.ListCRFilter{
		ProjectID: c.Query("project_id"),
		Status:    c.Query("status"),
		Priority:  c.Query("priority"),
		Page:      params.Page,
		Limit:     params.Limit,
	}

	crs, total, err := h.crService.List(c.Request.Context(), actor, filter)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginate(crs, total, params.Page, params.Limit)))
}

// Get handles GET /change-requests/:id
// @Summary      Get a change request
// @Tags         change-requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Change request ID"
// @Success      200  {object}  response.Response{data=model.ChangeRequest}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	cr, err := h.crService.Get(c.Request.Context(), actor, id)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, cr))
}

// Update handles PUT /change-requests/:id
// @Summary      Update a change request
// @Description  Edits a draft or pending change request; frozen statuses reject edits
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                          true  "Change request ID"
// @Param        payload  body      service.UpdateChangeRequestDTO  true  "Update Payload"
// @Success      200      {object}  response.Response{data=model.ChangeRequest}
// @Failure      403      {object}  response.Response
// @Router       /change-requests/{id} [put]
func (h *ChangeRequestHandler) Update(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		var req service.UpdateChangeRequestDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return nil, errHandled
		}
		return h.crService.Update(c.Request.Context(), actor, id, req)
	})
}

// Submit handles POST /change-requests/:id/submit
// @Summary      Submit a change request for approval
// @Tags         change-requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Change request ID"
// @Success      200  {object}  response.Response{data=model.ChangeRequest}
// @Failure      409  {object}  response.Response
// @Router       /change-requests/{id}/submit [post]
func (h *ChangeRequestHandler) Submit(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		return h.crService.Submit(c.Request.Context(), actor, id)
	})
}

// Approve handles POST /change-requests/:id/approve
// @Summary      Approve a pending change request
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string             true   "Change request ID"
// @Param        payload  body      service.ApproveDTO false  "Approval comments"
// @Success      200      {object}  response.Response{data=model.ChangeRequest}
// @Failure      409      {object}  response.Response
// @Router       /change-requests/{id}/approve [post]
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		var req service.ApproveDTO
		_ = c.ShouldBindJSON(&req) // body optional
		return h.crService.Approve(c.Request.Context(), actor, id, req)
	})
}

// Reject handles POST /change-requests/:id/reject
// @Summary      Reject a pending change request
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string            true  "Change request ID"
// @Param        payload  body      service.RejectDTO true  "Rejection reason"
// @Success      200      {object}  response.Response{data=model.ChangeRequest}
// @Failure      409      {object}  response.Response
// @Router       /change-requests/{id}/reject [post]
func (h *ChangeRequestHandler) Reject(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		var req service.RejectDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return nil, errHandled
		}
		return h.crService.Reject(c.Request.Context(), actor, id, req)
	})
}

// StartImplementation handles POST /change-requests/:id/start
// @Summary      Start implementing an approved change request
// @Tags         change-requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Change request ID"
// @Success      200  {object}  response.Response{data=model.ChangeRequest}
// @Failure      409  {object}  response.Response
// @Router       /change-requests/{id}/start [post]
func (h *ChangeRequestHandler) StartImplementation(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		return h.crService.StartImplementation(c.Request.Context(), actor, id)
	})
}

// CompleteImplementation handles POST /change-requests/:id/complete
// @Summary      Mark a change request as implemented
// @Tags         change-requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Change request ID"
// @Success      200  {object}  response.Response{data=model.ChangeRequest}
// @Failure      409  {object}  response.Response
// @Router       /change-requests/{id}/complete [post]
func (h *ChangeRequestHandler) CompleteImplementation(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		return h.crService.CompleteImplementation(c.Request.Context(), actor, id)
	})
}

// Close handles POST /change-requests/:id/close
// @Summary      Close an implemented change request
// @Description  Only the assigned approver or a system manager may close
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string           true   "Change request ID"
// @Param        payload  body      service.CloseDTO false  "Closure notes"
// @Success      200      {object}  response.Response{data=model.ChangeRequest}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /change-requests/{id}/close [post]
func (h *ChangeRequestHandler) Close(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		var req service.CloseDTO
		_ = c.ShouldBindJSON(&req) // body optional
		return h.crService.Close(c.Request.Context(), actor, id, req)
	})
}

// Rollback handles POST /change-requests/:id/rollback
// @Summary      Roll back an implemented or closed change request
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string               true  "Change request ID"
// @Param        payload  body      service.RollbackDTO  true  "Rollback reason"
// @Success      200      {object}  response.Response{data=model.ChangeRequest}
// @Failure      409      {object}  response.Response
// @Router       /change-requests/{id}/rollback [post]
func (h *ChangeRequestHandler) Rollback(c *gin.Context) {
	h.withBody(c, func(c *gin.Context) (interface{}, error) {
		actor, _ := middleware.ActorFrom(c)
		id, ok := h.parseID(c)
		if !ok {
			return nil, errHandled
		}
		var req service.RollbackDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return nil, errHandled
		}
		return h.crService.Rollback(c.Request.Context(), actor, id, req)
	})
}

type addCommentRequest struct {
	Comment string `json:"comment" binding:"required"`
}

// AddComment handles POST /change-requests/:id/comments
// @Summary      Comment on a change request
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string             true  "Change request ID"
// @Param        payload  body      addCommentRequest  true  "Comment"
// @Success      201      {object}  response.Response{data=model.CRComment}
// @Router       /change-requests/{id}/comments [post]
func (h *ChangeRequestHandler) AddComment(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	comment, err := h.crService.AddComment(c.Request.Context(), actor, id, req.Comment)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, comment))
}

// AddAttachment handles POST /change-requests/:id/attachments
// @Summary      Attach a file record to a change request
// @Tags         change-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                 true  "Change request ID"
// @Param        payload  body      service.AttachmentDTO  true  "Attachment metadata"
// @Success      201      {object}  response.Response{data=model.CRAttachment}
// @Router       /change-requests/{id}/attachments [post]
func (h *ChangeRequestHandler) AddAttachment(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req service.AttachmentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	att, err := h.crService.AddAttachment(c.Request.Context(), actor, id, req)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, att))
}

// errHandled signals that the callback already wrote the HTTP response.
var errHandled = &handledError{}

type handledError struct{}

func (*handledError) Error() string { return "response already written" }

// withBody runs the callback and writes the standard success or error
// envelope unless the callback already responded.
func (h *ChangeRequestHandler) withBody(c *gin.Context, fn func(c *gin.Context) (interface{}, error)) {
	if _, ok := middleware.ActorFrom(c); !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	data, err := fn(c)
	if err != nil {
		if err == errHandled {
			return
		}
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, data))
}
