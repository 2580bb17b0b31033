package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"sprint-bot/internal/model"
)

func TestStartSprintValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if _, _, err := e.sprintSvc.StartSprint(ctx, e.project.ID, "  ", "", nil, nil, 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty name: want ErrValidation, got %v", err)
	}

	start := time.Date(2026, 9, 14, 0, 0, 0, 0, time.Local)
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)
	if _, _, err := e.sprintSvc.StartSprint(ctx, e.project.ID, "S", "", &start, &end, 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("inverted dates: want ErrValidation, got %v", err)
	}
}

func TestStartSprintRejectsSecondActive(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.mustStartSprint(t, "Sprint 1", nil)
	if _, _, err := e.sprintSvc.StartSprint(ctx, e.project.ID, "Sprint 2", "", nil, nil, 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("second active sprint: want ErrConflict, got %v", err)
	}

	// The store-level guard holds even when the existence check is bypassed.
	err := e.sprints.Create(ctx, &model.Sprint{ProjectID: e.project.ID, Name: "smuggled", IsActive: true})
	if err == nil {
		t.Fatal("direct second active insert must violate the partial unique index")
	}
}

func TestStartSprintOffersOldestBacklog(t *testing.T) {
	e := newEngine(t)

	first := e.mustCreate(t, model.KindTask, 1, "first")
	second := e.mustCreate(t, model.KindTask, 1, "second")
	// Bugs are not backlog items and must not be offered.
	e.mustCreate(t, model.KindBug, 1, "noise bug")

	_, offered, err := e.sprintSvc.StartSprint(context.Background(), e.project.ID, "Sprint 1", "", nil, nil, 1)
	if err != nil {
		t.Fatalf("start sprint: %v", err)
	}
	if len(offered) != 2 || offered[0].ID != first.ID || offered[1].ID != second.ID {
		t.Fatalf("offered = %+v, want the two tasks oldest-first", offered)
	}
	if len(e.notifier.started) != 1 {
		t.Fatalf("started events = %d, want 1", len(e.notifier.started))
	}
}

func TestAdmitRejectsEndedSprintAndNonBacklog(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	task := e.mustCreate(t, model.KindTask, 1, "late")
	e.mustAdmit(t, sprint.ID, task.ID)

	// Already admitted: no longer in backlog.
	if _, err := e.sprintSvc.Admit(ctx, e.project.ID, sprint.ID, task.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("re-admit: want ErrConflict, got %v", err)
	}

	if _, err := e.sprintSvc.EndSprint(ctx, e.project.ID, 1); err != nil {
		t.Fatalf("end sprint: %v", err)
	}
	leftover := e.mustCreate(t, model.KindTask, 1, "leftover")
	if _, err := e.sprintSvc.Admit(ctx, e.project.ID, sprint.ID, leftover.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("admit to ended sprint: want ErrConflict, got %v", err)
	}
}

func TestEndSprintVelocityAndRollback(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	doneA := e.mustCreate(t, model.KindTask, 3, "done a")
	doneB := e.mustCreate(t, model.KindTask, 5, "done b")
	unfinished := e.mustCreate(t, model.KindTask, 2, "unfinished")
	for _, task := range []*model.TaskItem{doneA, doneB, unfinished} {
		e.mustAdmit(t, sprint.ID, task.ID)
	}

	for _, task := range []*model.TaskItem{doneA, doneB} {
		if _, err := e.taskSvc.Claim(ctx, e.project.ID, 7, []uint{task.ID}); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if _, _, err := e.taskSvc.Complete(ctx, e.project.ID, task.ID, 7); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if _, err := e.taskSvc.Claim(ctx, e.project.ID, 8, []uint{unfinished.ID}); err != nil {
		t.Fatalf("claim unfinished: %v", err)
	}

	summary, err := e.sprintSvc.EndSprint(ctx, e.project.ID, 1)
	if err != nil {
		t.Fatalf("end sprint: %v", err)
	}
	if summary.Velocity != 8 {
		t.Fatalf("velocity = %d, want 8 (partial credit is never awarded)", summary.Velocity)
	}
	if summary.Completed != 2 || summary.RolledBack != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	rolled := e.reload(t, unfinished.ID)
	if rolled.Status != model.StatusBacklog || rolled.SprintID != nil || rolled.AssigneeID != nil {
		t.Fatalf("rollback: %+v", rolled)
	}
	for _, id := range []uint{doneA.ID, doneB.ID} {
		kept := e.reload(t, id)
		if kept.Status != model.StatusDone || kept.SprintID == nil || *kept.SprintID != sprint.ID {
			t.Fatalf("done item must keep its sprint: %+v", kept)
		}
	}

	if len(e.notifier.ended) != 1 || e.notifier.ended[0].Velocity != 8 {
		t.Fatalf("ended events = %+v", e.notifier.ended)
	}
}

func TestEndSprintRollsBugsToTodo(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	bug := e.mustCreate(t, model.KindBug, 2, "open bug")
	// Bind the bug to the sprint directly; there is no backlog path for bugs.
	if err := e.db.Model(&model.TaskItem{}).Where("id = ?", bug.ID).Update("sprint_id", sprint.ID).Error; err != nil {
		t.Fatalf("bind bug to sprint: %v", err)
	}
	if _, err := e.taskSvc.ClaimBug(ctx, e.project.ID, bug.ID, 7); err != nil {
		t.Fatalf("claim bug: %v", err)
	}

	if _, err := e.sprintSvc.EndSprint(ctx, e.project.ID, 1); err != nil {
		t.Fatalf("end sprint: %v", err)
	}

	rolled := e.reload(t, bug.ID)
	if rolled.Status != model.StatusTodo {
		t.Fatalf("bug status = %s, want todo (bugs never enter backlog)", rolled.Status)
	}
	if rolled.SprintID != nil || rolled.AssigneeID != nil {
		t.Fatalf("bug rollback must clear sprint and assignee: %+v", rolled)
	}
}

func TestEndSprintWithoutActive(t *testing.T) {
	e := newEngine(t)

	if _, err := e.sprintSvc.EndSprint(context.Background(), e.project.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEffectiveEndTreatsDateOnlyAsEndOfDay(t *testing.T) {
	dateOnly := time.Date(2026, 9, 14, 0, 0, 0, 0, time.Local)
	if got := effectiveEnd(dateOnly); !got.Equal(dateOnly.AddDate(0, 0, 1)) {
		t.Fatalf("date-only end = %v, want next midnight", got)
	}

	withClock := time.Date(2026, 9, 14, 18, 30, 0, 0, time.Local)
	if got := effectiveEnd(withClock); !got.Equal(withClock) {
		t.Fatalf("timed end = %v, want unchanged", got)
	}
}
