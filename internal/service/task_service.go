package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"sprint-bot/internal/model"
	"sprint-bot/internal/repository"
)

// TaskInput represents data required to create a work item.
type TaskInput struct {
	Kind      model.TaskKind
	Title     string
	Points    int
	CreatedBy int64
}

// ClaimResult reports the outcome of a batch claim: the items the actor
// won and how many were lost to competitors (or gone entirely).
type ClaimResult struct {
	Won  []model.TaskItem
	Lost int
}

// TaskService implements the task state machine. Every ownership-sensitive
// transition goes through a conditional update in the repository, so two
// actors racing for the same item get exactly one winner and one conflict.
type TaskService struct {
	tasks   *repository.TaskRepository
	rewards *RewardService
	notify  Notifier
}

func NewTaskService(tasks *repository.TaskRepository, rewards *RewardService, notify Notifier) *TaskService {
	return &TaskService{tasks: tasks, rewards: rewards, notify: notify}
}

// CreateTask adds a new item: tasks start in the backlog, bugs go straight
// to Todo and never pass through Backlog.
func (s *TaskService) CreateTask(ctx context.Context, projectID uint, input TaskInput) (*model.TaskItem, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if input.Points <= 0 {
		return nil, fmt.Errorf("%w: points must be positive", ErrValidation)
	}

	status := model.StatusBacklog
	switch input.Kind {
	case model.KindTask:
	case model.KindBug:
		status = model.StatusTodo
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, input.Kind)
	}

	task := model.TaskItem{
		ProjectID: projectID,
		Kind:      input.Kind,
		Status:    status,
		Title:     title,
		Points:    input.Points,
		CreatedBy: input.CreatedBy,
	}
	if err := s.tasks.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Claim attempts to take ownership of each listed item independently.
// Ids that lost the race, are already taken or do not exist are counted in
// Lost; the batch never fails as a whole because of them.
func (s *TaskService) Claim(ctx context.Context, projectID uint, actor int64, taskIDs []uint) (ClaimResult, error) {
	var result ClaimResult
	for _, id := range taskIDs {
		task, err := s.tasks.FindByID(ctx, projectID, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Lost++
				continue
			}
			return result, err
		}

		rows, err := s.tasks.ClaimTodo(ctx, task.ID, actor)
		if err != nil {
			return result, err
		}
		if rows == 0 {
			result.Lost++
			continue
		}

		claimed, err := s.tasks.FindByID(ctx, projectID, task.ID)
		if err != nil {
			return result, translateStoreErr(err)
		}
		result.Won = append(result.Won, *claimed)
		s.notify.TaskClaimed(ctx, TaskEvent{ProjectID: projectID, Actor: actor, Task: *claimed})
	}
	log.Printf("[info] claim batch actor=%d won=%d lost=%d", actor, len(result.Won), result.Lost)
	return result, nil
}

// Start moves a Todo item into progress. Re-entrant: the current assignee
// may call it again without losing the item.
func (s *TaskService) Start(ctx context.Context, projectID, taskID uint, actor int64) (*model.TaskItem, error) {
	task, err := s.tasks.FindByID(ctx, projectID, taskID)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	rows, err := s.tasks.ClaimTodo(ctx, task.ID, actor)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.classifyClaimLoss(ctx, projectID, taskID, actor)
	}

	started, err := s.tasks.FindByID(ctx, projectID, taskID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	s.notify.TaskClaimed(ctx, TaskEvent{ProjectID: projectID, Actor: actor, Task: *started})
	return started, nil
}

// Complete finishes an in-progress item owned by the actor and pays XP.
func (s *TaskService) Complete(ctx context.Context, projectID, taskID uint, actor int64) (*model.TaskItem, int64, error) {
	if _, err := s.tasks.FindByID(ctx, projectID, taskID); err != nil {
		return nil, 0, translateStoreErr(err)
	}

	rows, err := s.tasks.CompleteOwned(ctx, taskID, actor)
	if err != nil {
		return nil, 0, err
	}
	if rows == 0 {
		return nil, 0, s.classifyCompleteLoss(ctx, projectID, taskID, actor)
	}

	done, err := s.tasks.FindByID(ctx, projectID, taskID)
	if err != nil {
		return nil, 0, translateStoreErr(err)
	}

	xp := taskXP(done.Points)
	if done.Kind == model.KindBug {
		xp = bugXP(done.Points)
	}
	balance, err := s.rewards.Award(ctx, actor, xp)
	if err != nil {
		return nil, 0, err
	}

	log.Printf("[info] task completed id=%d actor=%d xp=%d balance=%d", done.ID, actor, xp, balance)
	s.notify.TaskCompleted(ctx, TaskEvent{ProjectID: projectID, Actor: actor, Task: *done, XPAwarded: xp})
	return done, xp, nil
}

// ClaimBug takes an unfinished bug, also when it already sits in progress
// unassigned. The current assignee may re-claim without effect loss.
func (s *TaskService) ClaimBug(ctx context.Context, projectID, bugID uint, actor int64) (*model.TaskItem, error) {
	task, err := s.tasks.FindByID(ctx, projectID, bugID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if task.Kind != model.KindBug {
		return nil, fmt.Errorf("%w: item %d is not a bug", ErrValidation, bugID)
	}

	rows, err := s.tasks.ClaimBug(ctx, bugID, actor)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.classifyClaimLoss(ctx, projectID, bugID, actor)
	}

	claimed, err := s.tasks.FindByID(ctx, projectID, bugID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	s.notify.TaskClaimed(ctx, TaskEvent{ProjectID: projectID, Actor: actor, Task: *claimed})
	return claimed, nil
}

// FixBug closes a bug. Allowed for the assignee, for anyone while the bug
// is unassigned, and for leads regardless of ownership. The fixer becomes
// the assignee of record and receives the XP.
func (s *TaskService) FixBug(ctx context.Context, projectID, bugID uint, actor int64, privileged bool) (*model.TaskItem, int64, error) {
	task, err := s.tasks.FindByID(ctx, projectID, bugID)
	if err != nil {
		return nil, 0, translateStoreErr(err)
	}
	if task.Kind != model.KindBug {
		return nil, 0, fmt.Errorf("%w: item %d is not a bug", ErrValidation, bugID)
	}

	rows, err := s.tasks.CloseBug(ctx, bugID, actor, privileged)
	if err != nil {
		return nil, 0, err
	}
	if rows == 0 {
		fresh, err := s.tasks.FindByID(ctx, projectID, bugID)
		if err != nil {
			return nil, 0, translateStoreErr(err)
		}
		if fresh.Status == model.StatusDone {
			return nil, 0, fmt.Errorf("%w: bug already fixed", ErrConflict)
		}
		return nil, 0, fmt.Errorf("%w: bug belongs to someone else", ErrForbidden)
	}

	fixed, err := s.tasks.FindByID(ctx, projectID, bugID)
	if err != nil {
		return nil, 0, translateStoreErr(err)
	}

	xp := bugXP(fixed.Points)
	if _, err := s.rewards.Award(ctx, actor, xp); err != nil {
		return nil, 0, err
	}

	log.Printf("[info] bug fixed id=%d actor=%d privileged=%t xp=%d", fixed.ID, actor, privileged, xp)
	s.notify.TaskCompleted(ctx, TaskEvent{ProjectID: projectID, Actor: actor, Task: *fixed, XPAwarded: xp})
	return fixed, xp, nil
}

// Assign hands an unassigned Todo item to a member. Lead-only.
func (s *TaskService) Assign(ctx context.Context, projectID, taskID uint, assignee, actor int64, privileged bool) (*model.TaskItem, error) {
	if !privileged {
		return nil, fmt.Errorf("%w: assigning requires lead privileges", ErrForbidden)
	}
	if _, err := s.tasks.FindByID(ctx, projectID, taskID); err != nil {
		return nil, translateStoreErr(err)
	}

	rows, err := s.tasks.AssignTodo(ctx, taskID, assignee)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: item is not an unassigned todo", ErrConflict)
	}

	assigned, err := s.tasks.FindByID(ctx, projectID, taskID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	s.notify.TaskAssigned(ctx, TaskEvent{ProjectID: projectID, Actor: actor, Task: *assigned})
	return assigned, nil
}

// Claimable lists unassigned Todo items of the project.
func (s *TaskService) Claimable(ctx context.Context, projectID uint) ([]model.TaskItem, error) {
	return s.tasks.ListClaimable(ctx, projectID)
}

// MyTasks lists the actor's unfinished items.
func (s *TaskService) MyTasks(ctx context.Context, projectID uint, actor int64) ([]model.TaskItem, error) {
	return s.tasks.ListByAssignee(ctx, projectID, actor)
}

// Backlog lists unscheduled tasks, oldest first.
func (s *TaskService) Backlog(ctx context.Context, projectID uint, limit int) ([]model.TaskItem, error) {
	return s.tasks.ListBacklog(ctx, projectID, limit)
}

// classifyClaimLoss turns a zero-row claim into the right failure reason.
func (s *TaskService) classifyClaimLoss(ctx context.Context, projectID, taskID uint, actor int64) error {
	fresh, err := s.tasks.FindByID(ctx, projectID, taskID)
	if err != nil {
		return translateStoreErr(err)
	}
	if fresh.AssigneeID != nil && *fresh.AssigneeID != actor {
		return fmt.Errorf("%w: item already taken", ErrConflict)
	}
	return fmt.Errorf("%w: item is not claimable in status %s", ErrConflict, fresh.Status)
}

func (s *TaskService) classifyCompleteLoss(ctx context.Context, projectID, taskID uint, actor int64) error {
	fresh, err := s.tasks.FindByID(ctx, projectID, taskID)
	if err != nil {
		return translateStoreErr(err)
	}
	switch {
	case fresh.Status == model.StatusDone:
		return fmt.Errorf("%w: item already done", ErrConflict)
	case fresh.AssigneeID == nil || *fresh.AssigneeID != actor:
		return fmt.Errorf("%w: only the assignee can complete the item", ErrForbidden)
	default:
		return fmt.Errorf("%w: item is not in progress", ErrConflict)
	}
}

func translateStoreErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
