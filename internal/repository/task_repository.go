package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sprint-bot/internal/model"
)

// TaskRepository handles task items. All ownership-sensitive mutations are
// expressed as conditional updates: the WHERE clause carries the expected
// prior state and the caller inspects RowsAffected to learn whether it won.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.TaskItem) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, projectID, taskID uint) (*model.TaskItem, error) {
	var task model.TaskItem
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, taskID).
		First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListBacklog returns unscheduled tasks, oldest first, optionally capped.
func (r *TaskRepository) ListBacklog(ctx context.Context, projectID uint, limit int) ([]model.TaskItem, error) {
	q := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, model.StatusBacklog).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var tasks []model.TaskItem
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) ListBySprint(ctx context.Context, sprintID uint) ([]model.TaskItem, error) {
	var tasks []model.TaskItem
	if err := r.db.WithContext(ctx).
		Where("sprint_id = ?", sprintID).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListClaimable returns unassigned Todo items of the project, bugs included.
func (r *TaskRepository) ListClaimable(ctx context.Context, projectID uint) ([]model.TaskItem, error) {
	var tasks []model.TaskItem
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ? AND assignee_id IS NULL", projectID, model.StatusTodo).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) ListByAssignee(ctx context.Context, projectID uint, assignee int64) ([]model.TaskItem, error) {
	var tasks []model.TaskItem
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND assignee_id = ? AND status <> ?", projectID, assignee, model.StatusDone).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ClaimTodo takes ownership of an unassigned (or already owned) Todo item.
// Returns the number of rows changed: 0 means a competitor won first.
func (r *TaskRepository) ClaimTodo(ctx context.Context, taskID uint, actor int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.TaskItem{}).
		Where("id = ? AND status = ? AND (assignee_id IS NULL OR assignee_id = ?)",
			taskID, model.StatusTodo, actor).
		Updates(map[string]interface{}{"status": model.StatusInProgress, "assignee_id": actor})
	if res.Error != nil {
		return 0, fmt.Errorf("claim task: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ClaimBug moves a non-Done bug into progress for the actor.
func (r *TaskRepository) ClaimBug(ctx context.Context, bugID uint, actor int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.TaskItem{}).
		Where("id = ? AND kind = ? AND status <> ? AND (assignee_id IS NULL OR assignee_id = ?)",
			bugID, model.KindBug, model.StatusDone, actor).
		Updates(map[string]interface{}{"status": model.StatusInProgress, "assignee_id": actor})
	if res.Error != nil {
		return 0, fmt.Errorf("claim bug: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CompleteOwned finishes an in-progress item owned by the actor.
func (r *TaskRepository) CompleteOwned(ctx context.Context, taskID uint, actor int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.TaskItem{}).
		Where("id = ? AND status = ? AND assignee_id = ?", taskID, model.StatusInProgress, actor).
		Update("status", model.StatusDone)
	if res.Error != nil {
		return 0, fmt.Errorf("complete task: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CloseBug marks a bug fixed by the actor. With privileged=true the
// ownership guard is waived (lead override).
func (r *TaskRepository) CloseBug(ctx context.Context, bugID uint, actor int64, privileged bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&model.TaskItem{}).
		Where("id = ? AND kind = ? AND status <> ?", bugID, model.KindBug, model.StatusDone)
	if !privileged {
		q = q.Where("assignee_id IS NULL OR assignee_id = ?", actor)
	}
	res := q.Updates(map[string]interface{}{"status": model.StatusDone, "assignee_id": actor})
	if res.Error != nil {
		return 0, fmt.Errorf("close bug: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AssignTodo hands an unassigned Todo item to the given member.
func (r *TaskRepository) AssignTodo(ctx context.Context, taskID uint, assignee int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.TaskItem{}).
		Where("id = ? AND status = ? AND assignee_id IS NULL", taskID, model.StatusTodo).
		Update("assignee_id", assignee)
	if res.Error != nil {
		return 0, fmt.Errorf("assign task: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AdmitToSprint schedules a backlog task into the sprint.
func (r *TaskRepository) AdmitToSprint(ctx context.Context, taskID, sprintID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.TaskItem{}).
		Where("id = ? AND status = ?", taskID, model.StatusBacklog).
		Updates(map[string]interface{}{"status": model.StatusTodo, "sprint_id": sprintID})
	if res.Error != nil {
		return 0, fmt.Errorf("admit task: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ReturnSprintLeftovers rolls every unfinished item of the sprint back to
// the backlog, clearing sprint binding and assignee. Bugs stay in Todo so
// they never enter Backlog. Returns the number of rolled-back items.
func (r *TaskRepository) ReturnSprintLeftovers(ctx context.Context, sprintID uint) (int64, error) {
	db := r.db.WithContext(ctx)

	bugs := db.Model(&model.TaskItem{}).
		Where("sprint_id = ? AND status <> ? AND kind = ?", sprintID, model.StatusDone, model.KindBug).
		Updates(map[string]interface{}{"status": model.StatusTodo, "sprint_id": nil, "assignee_id": nil})
	if bugs.Error != nil {
		return 0, fmt.Errorf("return bugs: %w", bugs.Error)
	}

	tasks := db.Model(&model.TaskItem{}).
		Where("sprint_id = ? AND status <> ? AND kind = ?", sprintID, model.StatusDone, model.KindTask).
		Updates(map[string]interface{}{"status": model.StatusBacklog, "sprint_id": nil, "assignee_id": nil})
	if tasks.Error != nil {
		return 0, fmt.Errorf("return tasks: %w", tasks.Error)
	}

	return bugs.RowsAffected + tasks.RowsAffected, nil
}

// ListOverdue returns sprint-bound unfinished items created before the
// cutoff that have not been reminded today yet.
func (r *TaskRepository) ListOverdue(ctx context.Context, cutoff time.Time, today string) ([]model.TaskItem, error) {
	var tasks []model.TaskItem
	if err := r.db.WithContext(ctx).
		Where("sprint_id IS NOT NULL AND status <> ? AND created_at < ?", model.StatusDone, cutoff).
		Where("last_overdue_reminder_date IS NULL OR last_overdue_reminder_date = '' OR last_overdue_reminder_date < ?", today).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// StampOverdueReminder records that a reminder went out for the item today.
// This stamp is the only thing preventing duplicate same-day reminders.
func (r *TaskRepository) StampOverdueReminder(ctx context.Context, taskID uint, today string) error {
	if err := r.db.WithContext(ctx).Model(&model.TaskItem{}).Where("id = ?", taskID).
		Update("last_overdue_reminder_date", today).Error; err != nil {
		return fmt.Errorf("stamp overdue reminder: %w", err)
	}
	return nil
}
