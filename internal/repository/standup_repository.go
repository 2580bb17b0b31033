package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sprint-bot/internal/model"
)

// StandupRepository stores daily standup reports.
type StandupRepository struct {
	db *gorm.DB
}

func NewStandupRepository(db *gorm.DB) *StandupRepository {
	return &StandupRepository{db: db}
}

// Upsert writes the report; a second submission for the same
// (project, day, author) overwrites the first.
func (r *StandupRepository) Upsert(ctx context.Context, report *model.StandupReport) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "report_date"}, {Name: "author_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"yesterday", "today", "blockers", "reported_at", "updated_at",
		}),
	}).Create(report).Error
	if err != nil {
		return fmt.Errorf("save standup report: %w", err)
	}
	return nil
}

func (r *StandupRepository) ListByDate(ctx context.Context, projectID uint, date string) ([]model.StandupReport, error) {
	var reports []model.StandupReport
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND report_date = ?", projectID, date).
		Order("reported_at ASC").
		Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}
