package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"sprint-bot/internal/model"
	"sprint-bot/internal/repository"
)

// SprintSummary is the payload of a finished sprint.
type SprintSummary struct {
	Sprint     model.Sprint
	Velocity   int
	Completed  int
	RolledBack int
}

// SprintService manages the sprint lifecycle: activation, manual end and
// the shared end path used by the auto-close sweep.
type SprintService struct {
	sprints    *repository.SprintRepository
	tasks      *repository.TaskRepository
	notify     Notifier
	admitLimit int
}

func NewSprintService(sprints *repository.SprintRepository, tasks *repository.TaskRepository, notify Notifier, admitLimit int) *SprintService {
	if admitLimit <= 0 {
		admitLimit = 10
	}
	return &SprintService{sprints: sprints, tasks: tasks, notify: notify, admitLimit: admitLimit}
}

// StartSprint activates a new sprint and returns the oldest backlog tasks
// offered for admission. A project can run only one sprint at a time; the
// partial unique index turns a concurrent double-start into a conflict.
func (s *SprintService) StartSprint(ctx context.Context, projectID uint, name, goal string, startsAt, endsAt *time.Time, actor int64) (*model.Sprint, []model.TaskItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: sprint name is required", ErrValidation)
	}
	if startsAt != nil && endsAt != nil && endsAt.Before(*startsAt) {
		return nil, nil, fmt.Errorf("%w: end date is before start date", ErrValidation)
	}

	if _, err := s.sprints.FindActive(ctx, projectID); err == nil {
		return nil, nil, fmt.Errorf("%w: project already has an active sprint", ErrConflict)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("check active sprint: %w", err)
	}

	sprint := model.Sprint{
		ProjectID: projectID,
		Name:      name,
		Goal:      strings.TrimSpace(goal),
		IsActive:  true,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
	}
	if err := s.sprints.Create(ctx, &sprint); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the check-then-insert race to a concurrent starter.
			return nil, nil, fmt.Errorf("%w: project already has an active sprint", ErrConflict)
		}
		return nil, nil, fmt.Errorf("create sprint: %w", err)
	}

	log.Printf("[info] sprint started id=%d project=%d actor=%d", sprint.ID, projectID, actor)
	s.notify.SprintStarted(ctx, SprintStartedEvent{ProjectID: projectID, Actor: actor, Sprint: sprint})

	offered, err := s.tasks.ListBacklog(ctx, projectID, s.admitLimit)
	if err != nil {
		return &sprint, nil, fmt.Errorf("list backlog: %w", err)
	}
	return &sprint, offered, nil
}

// Admit schedules a backlog task into the sprint. The sprint must still be
// the project's active one.
func (s *SprintService) Admit(ctx context.Context, projectID, sprintID, taskID uint) (*model.TaskItem, error) {
	sprint, err := s.sprints.FindByID(ctx, sprintID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if sprint.ProjectID != projectID {
		return nil, ErrNotFound
	}
	if !sprint.IsActive {
		return nil, fmt.Errorf("%w: sprint already ended", ErrConflict)
	}

	if _, err := s.tasks.FindByID(ctx, projectID, taskID); err != nil {
		return nil, translateStoreErr(err)
	}

	rows, err := s.tasks.AdmitToSprint(ctx, taskID, sprintID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: item is no longer in the backlog", ErrConflict)
	}

	return s.tasks.FindByID(ctx, projectID, taskID)
}

// Active returns the project's running sprint.
func (s *SprintService) Active(ctx context.Context, projectID uint) (*model.Sprint, error) {
	sprint, err := s.sprints.FindActive(ctx, projectID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return sprint, nil
}

// Board returns all items bound to the project's active sprint.
func (s *SprintService) Board(ctx context.Context, projectID uint) (*model.Sprint, []model.TaskItem, error) {
	sprint, err := s.Active(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.tasks.ListBySprint(ctx, sprint.ID)
	if err != nil {
		return nil, nil, err
	}
	return sprint, tasks, nil
}

// EndSprint closes the project's active sprint: velocity is the sum of
// points over Done items only, everything unfinished is rolled back to the
// backlog with cleared sprint binding and assignee. Both the manual command
// and the auto-close sweep land here.
func (s *SprintService) EndSprint(ctx context.Context, projectID uint, actor int64) (*SprintSummary, error) {
	sprint, err := s.sprints.FindActive(ctx, projectID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return s.endSprint(ctx, sprint, actor)
}

func (s *SprintService) endSprint(ctx context.Context, sprint *model.Sprint, actor int64) (*SprintSummary, error) {
	items, err := s.tasks.ListBySprint(ctx, sprint.ID)
	if err != nil {
		return nil, fmt.Errorf("list sprint items: %w", err)
	}

	velocity, completed := 0, 0
	for _, item := range items {
		if item.Status == model.StatusDone {
			velocity += item.Points
			completed++
		}
	}

	rolledBack, err := s.tasks.ReturnSprintLeftovers(ctx, sprint.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rows, err := s.sprints.Deactivate(ctx, sprint.ID, now)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// A concurrent closer got there first.
		return nil, fmt.Errorf("%w: sprint already closed", ErrConflict)
	}
	sprint.IsActive = false
	sprint.EndedAt = &now

	summary := &SprintSummary{
		Sprint:     *sprint,
		Velocity:   velocity,
		Completed:  completed,
		RolledBack: int(rolledBack),
	}
	log.Printf("[info] sprint ended id=%d project=%d velocity=%d completed=%d rolled_back=%d actor=%d",
		sprint.ID, sprint.ProjectID, velocity, completed, rolledBack, actor)
	s.notify.SprintEnded(ctx, SprintEndedEvent{
		ProjectID:  sprint.ProjectID,
		Actor:      actor,
		Sprint:     *sprint,
		Velocity:   velocity,
		Completed:  completed,
		RolledBack: summary.RolledBack,
	})
	return summary, nil
}

// CloseExpired ends every active sprint whose effective end has passed,
// attributed to the system actor. Returns the closed summaries.
func (s *SprintService) CloseExpired(ctx context.Context, now time.Time) ([]SprintSummary, error) {
	sprints, err := s.sprints.ListActiveWithEnd(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sprints: %w", err)
	}

	var closed []SprintSummary
	for i := range sprints {
		sprint := sprints[i]
		if now.Before(effectiveEnd(*sprint.EndsAt)) {
			continue
		}
		summary, err := s.endSprint(ctx, &sprint, SystemActorID)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return closed, err
		}
		closed = append(closed, *summary)
	}
	return closed, nil
}

// effectiveEnd treats a date-only end stamp (midnight) as end of that day,
// so a sprint ending on day D stays open through D 23:59 local.
func effectiveEnd(endsAt time.Time) time.Time {
	h, m, sec := endsAt.Clock()
	if h == 0 && m == 0 && sec == 0 && endsAt.Nanosecond() == 0 {
		return endsAt.AddDate(0, 0, 1)
	}
	return endsAt
}
