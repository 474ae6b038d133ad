package handler

import (
	"net/http"
	"time"

	"cms-backend/internal/middleware"
	"cms-backend/internal/service"
	"cms-backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statsService service.StatisticsService
}

func NewStatisticsHandler(statsService service.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{statsService: statsService}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/statistics", h.GetStatistics)
}

// GetStatistics handles GET /statistics
// @Summary      Dashboard statistics
// @Description  Aggregates change request counts, SLA compliance and cost over a time range, scoped to the caller's projects
// @Tags         statistics
// @Produce      json
// @Security     BearerAuth
// @Param        start_date  query     string  false  "RFC3339 start (default: 30 days ago)"
// @Param        end_date    query     string  false  "RFC3339 end (default: now)"
// @Success      200         {object}  response.Response{data=service.StatisticsResponse}
// @Router       /statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return
	}

	endDate := time.Now().UTC()
	startDate := endDate.AddDate(0, 0, -30)
	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid 'start_date' timestamp"))
			return
		}
		startDate = t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid 'end_date' timestamp"))
			return
		}
		endDate = t
	}

	stats, err := h.statsService.GetStatistics(c.Request.Context(), actor, startDate, endDate)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
