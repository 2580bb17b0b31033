package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"sprint-bot/internal/model"
	"sprint-bot/internal/repository"
)

// newTestDB opens an isolated in-memory database per test. A single
// connection keeps the shared-cache memory db alive and serializes writes.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repository.NewDB(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// recordingNotifier captures emitted events for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	claimed   []TaskEvent
	assigned  []TaskEvent
	completed []TaskEvent
	overdue   []TaskEvent
	started   []SprintStartedEvent
	ended     []SprintEndedEvent
	standups  []StandupDueEvent
}

func (r *recordingNotifier) TaskClaimed(_ context.Context, ev TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed = append(r.claimed, ev)
}

func (r *recordingNotifier) TaskAssigned(_ context.Context, ev TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigned = append(r.assigned, ev)
}

func (r *recordingNotifier) TaskCompleted(_ context.Context, ev TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, ev)
}

func (r *recordingNotifier) TaskOverdue(_ context.Context, ev TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overdue = append(r.overdue, ev)
}

func (r *recordingNotifier) SprintStarted(_ context.Context, ev SprintStartedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, ev)
}

func (r *recordingNotifier) SprintEnded(_ context.Context, ev SprintEndedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, ev)
}

func (r *recordingNotifier) StandupDue(_ context.Context, ev StandupDueEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standups = append(r.standups, ev)
}

// engine bundles the wired services over one test database.
type engine struct {
	db       *gorm.DB
	users    *repository.UserRepository
	projects *repository.ProjectRepository
	sprints  *repository.SprintRepository
	tasks    *repository.TaskRepository
	standups *repository.StandupRepository

	notifier   *recordingNotifier
	rewardSvc  *RewardService
	taskSvc    *TaskService
	sprintSvc  *SprintService
	standupSvc *StandupService

	project *model.Project
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	db := newTestDB(t)

	e := &engine{
		db:       db,
		users:    repository.NewUserRepository(db),
		projects: repository.NewProjectRepository(db),
		sprints:  repository.NewSprintRepository(db),
		tasks:    repository.NewTaskRepository(db),
		standups: repository.NewStandupRepository(db),
		notifier: &recordingNotifier{},
	}
	e.rewardSvc = NewRewardService(e.users)
	e.taskSvc = NewTaskService(e.tasks, e.rewardSvc, e.notifier)
	e.sprintSvc = NewSprintService(e.sprints, e.tasks, e.notifier, 10)
	e.standupSvc = NewStandupService(e.standups, e.users)

	project, err := e.projects.Bind(context.Background(), 100500, "Test Project")
	if err != nil {
		t.Fatalf("bind project: %v", err)
	}
	e.project = project
	return e
}

func (e *engine) mustCreate(t *testing.T, kind model.TaskKind, points int, title string) *model.TaskItem {
	t.Helper()
	task, err := e.taskSvc.CreateTask(context.Background(), e.project.ID, TaskInput{
		Kind: kind, Title: title, Points: points, CreatedBy: 1,
	})
	if err != nil {
		t.Fatalf("create %s %q: %v", kind, title, err)
	}
	return task
}

func (e *engine) mustStartSprint(t *testing.T, name string, endsAt *time.Time) *model.Sprint {
	t.Helper()
	sprint, _, err := e.sprintSvc.StartSprint(context.Background(), e.project.ID, name, "", nil, endsAt, 1)
	if err != nil {
		t.Fatalf("start sprint %q: %v", name, err)
	}
	return sprint
}

func (e *engine) mustAdmit(t *testing.T, sprintID, taskID uint) {
	t.Helper()
	if _, err := e.sprintSvc.Admit(context.Background(), e.project.ID, sprintID, taskID); err != nil {
		t.Fatalf("admit task %d: %v", taskID, err)
	}
}

func (e *engine) reload(t *testing.T, taskID uint) *model.TaskItem {
	t.Helper()
	task, err := e.tasks.FindByID(context.Background(), e.project.ID, taskID)
	if err != nil {
		t.Fatalf("reload task %d: %v", taskID, err)
	}
	return task
}
