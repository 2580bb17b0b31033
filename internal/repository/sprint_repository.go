package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sprint-bot/internal/model"
)

// SprintRepository handles sprint rows and the active-sprint flag.
type SprintRepository struct {
	db *gorm.DB
}

func NewSprintRepository(db *gorm.DB) *SprintRepository {
	return &SprintRepository{db: db}
}

// Create inserts a sprint. Inserting a second active sprint for the same
// project violates the partial unique index and surfaces as
// gorm.ErrDuplicatedKey for the caller to map to a conflict.
func (r *SprintRepository) Create(ctx context.Context, sprint *model.Sprint) error {
	return r.db.WithContext(ctx).Create(sprint).Error
}

func (r *SprintRepository) FindByID(ctx context.Context, id uint) (*model.Sprint, error) {
	var sprint model.Sprint
	if err := r.db.WithContext(ctx).First(&sprint, id).Error; err != nil {
		return nil, err
	}
	return &sprint, nil
}

func (r *SprintRepository) FindActive(ctx context.Context, projectID uint) (*model.Sprint, error) {
	var sprint model.Sprint
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND is_active = ?", projectID, true).
		First(&sprint).Error; err != nil {
		return nil, err
	}
	return &sprint, nil
}

// ListActiveWithEnd returns every active sprint that has an end timestamp,
// across all projects. Used by the auto-close sweep.
func (r *SprintRepository) ListActiveWithEnd(ctx context.Context) ([]model.Sprint, error) {
	var sprints []model.Sprint
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND ends_at IS NOT NULL", true).
		Find(&sprints).Error; err != nil {
		return nil, err
	}
	return sprints, nil
}

// Deactivate flips the active flag off, guarded so that two concurrent
// closers (manual end and the auto-close sweep) cannot both win.
// Returns the number of rows changed: 0 means the sprint was already closed.
func (r *SprintRepository) Deactivate(ctx context.Context, sprintID uint, endedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Sprint{}).
		Where("id = ? AND is_active = ?", sprintID, true).
		Updates(map[string]interface{}{"is_active": false, "ended_at": endedAt})
	if res.Error != nil {
		return 0, fmt.Errorf("deactivate sprint: %w", res.Error)
	}
	return res.RowsAffected, nil
}
