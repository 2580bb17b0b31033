package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"sprint-bot/internal/model"
)

// ProjectRepository manages projects and their chat bindings.
type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Bind creates a project for the chat or renames the existing binding.
func (r *ProjectRepository) Bind(ctx context.Context, chatID int64, name string) (*model.Project, error) {
	var project model.Project
	db := r.db.WithContext(ctx)
	err := db.Where("chat_id = ?", chatID).First(&project).Error
	switch {
	case err == nil:
		if err := db.Model(&project).Update("name", name).Error; err != nil {
			return nil, fmt.Errorf("rename project: %w", err)
		}
		project.Name = name
		return &project, nil
	case err == gorm.ErrRecordNotFound:
		project = model.Project{ChatID: chatID, Name: name}
		if err := db.Create(&project).Error; err != nil {
			return nil, fmt.Errorf("create project: %w", err)
		}
		return &project, nil
	default:
		return nil, fmt.Errorf("find project: %w", err)
	}
}

func (r *ProjectRepository) FindByChat(ctx context.Context, chatID int64) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, id uint) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).First(&project, id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *ProjectRepository) ListAll(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	if err := r.db.WithContext(ctx).Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

// StampStandupDate records that the standup prompt fired for the given local day.
func (r *ProjectRepository) StampStandupDate(ctx context.Context, projectID uint, date string) error {
	if err := r.db.WithContext(ctx).Model(&model.Project{}).Where("id = ?", projectID).
		Update("last_standup_date", date).Error; err != nil {
		return fmt.Errorf("stamp standup date: %w", err)
	}
	return nil
}
