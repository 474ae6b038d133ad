package service

import (
	"context"
	"fmt"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/policy"
	"cms-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatisticsResponse is the dashboard aggregate for the actor's visible
// projects.
type StatisticsResponse struct {
	TimeRangeStartDate time.Time `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time `json:"time_range_end_date"`

	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByPriority map[string]int64 `json:"by_priority"`

	Breached          int64   `json:"breached"`
	WithDeadline      int64   `json:"with_deadline"`
	SlaComplianceRate float64 `json:"sla_compliance_rate"`

	TotalEstimatedCost decimal.Decimal `json:"total_estimated_cost"`
}

type StatisticsService interface {
	GetStatistics(ctx context.Context, actor policy.Actor, startDate, endDate time.Time) (StatisticsResponse, error)
}

type statisticsService struct {
	db          *gorm.DB
	projectRepo repository.ProjectRepository
}

func NewStatisticsService(db *gorm.DB, projectRepo repository.ProjectRepository) StatisticsService {
	return &statisticsService{db: db, projectRepo: projectRepo}
}

// GetStatistics aggregates change request metrics inside a time bracket,
// scoped to the projects the actor can see.
func (s *statisticsService) GetStatistics(ctx context.Context, actor policy.Actor, startDate, endDate time.Time) (StatisticsResponse, error) {
	response := StatisticsResponse{
		TimeRangeStartDate: startDate.UTC(),
		TimeRangeEndDate:   endDate.UTC(),
		ByStatus:           map[string]int64{},
		ByPriority:         map[string]int64{},
		TotalEstimatedCost: decimal.Zero,
	}

	projectIDs, err := s.visibleProjects(ctx, actor)
	if err != nil {
		return response, err
	}
	if len(projectIDs) == 0 {
		return response, nil
	}

	base := func() *gorm.DB {
		return s.db.WithContext(ctx).
			Model(&model.ChangeRequest{}).
			Where("project_id IN ? AND created_at >= ? AND created_at <= ?",
				projectIDs, response.TimeRangeStartDate, response.TimeRangeEndDate)
	}

	if err := base().Count(&response.Total).Error; err != nil {
		return response, fmt.Errorf("failed to count change requests: %w", err)
	}

	var statusRows []struct {
		Status string
		Count  int64
	}
	if err := base().
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return response, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	for _, row := range statusRows {
		response.ByStatus[row.Status] = row.Count
	}

	var priorityRows []struct {
		Priority string
		Count    int64
	}
	if err := base().
		Select("priority, COUNT(*) as count").
		Group("priority").
		Scan(&priorityRows).Error; err != nil {
		return response, fmt.Errorf("failed to aggregate by priority: %w", err)
	}
	for _, row := range priorityRows {
		response.ByPriority[row.Priority] = row.Count
	}

	if err := base().Where("is_sla_breached = ?", true).Count(&response.Breached).Error; err != nil {
		return response, fmt.Errorf("failed to count breaches: %w", err)
	}
	if err := base().Where("implementation_deadline IS NOT NULL").Count(&response.WithDeadline).Error; err != nil {
		return response, fmt.Errorf("failed to count deadlined requests: %w", err)
	}
	if response.WithDeadline > 0 {
		response.SlaComplianceRate = float64(response.WithDeadline-response.Breached) / float64(response.WithDeadline)
	}

	var cost struct {
		Value decimal.Decimal
	}
	if err := base().
		Select("COALESCE(SUM(estimated_cost), 0) as value").
		Scan(&cost).Error; err != nil {
		return response, fmt.Errorf("failed to sum estimated cost: %w", err)
	}
	response.TotalEstimatedCost = cost.Value

	return response, nil
}

func (s *statisticsService) visibleProjects(ctx context.Context, actor policy.Actor) ([]uuid.UUID, error) {
	if actor.Role == model.RoleAdmin {
		projects, err := s.projectRepo.ListCreatedBy(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(projects))
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}
	return actorProjects(actor), nil
}
