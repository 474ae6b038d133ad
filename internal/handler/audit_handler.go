package handler

import (
	"net/http"
	"time"

	"cms-backend/internal/middleware"
	"cms-backend/internal/model"
	"cms-backend/internal/repository"
	"cms-backend/internal/service"
	"cms-backend/pkg/pagination"
	"cms-backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/audit-logs", middleware.RequirePermission(model.PermViewAuditLogs), h.ListLogs)
}

// ListLogs handles GET /audit-logs
// @Summary      Query the audit trail
// @Tags         audit
// @Produce      json
// @Security     BearerAuth
// @Param        event_type      query     string  false  "Event type filter"
// @Param        event_category  query     string  false  "Category filter"
// @Param        username        query     string  false  "Username filter"
// @Param        from            query     string  false  "RFC3339 start time"
// @Param        to              query     string  false  "RFC3339 end time"
// @Param        page            query     int     false  "Page"
// @Param        limit           query     int     false  "Page size"
// @Success      200             {object}  response.Response{data=response.Paginated}
// @Router       /audit-logs [get]
func (h *AuditHandler) ListLogs(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}
	params := pagination.Parse(c)

	filter := repository.AuditFilter{
		EventType:     c.Query("event_type"),
		EventCategory: c.Query("event_category"),
		Username:      c.Query("username"),
		Page:          params.Page,
		Limit:         params.Limit,
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid 'from' timestamp"))
			return
		}
		filter.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid 'to' timestamp"))
			return
		}
		filter.To = &t
	}

	logs, total, err := h.auditService.ListLogs(c.Request.Context(), actor, filter)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginate(logs, total, params.Page, params.Limit)))
}
