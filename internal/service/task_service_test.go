package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sprint-bot/internal/model"
)

func TestCreateTaskValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input TaskInput
	}{
		{"empty title", TaskInput{Kind: model.KindTask, Title: "   ", Points: 3}},
		{"zero points", TaskInput{Kind: model.KindTask, Title: "ok", Points: 0}},
		{"negative points", TaskInput{Kind: model.KindBug, Title: "ok", Points: -1}},
		{"unknown kind", TaskInput{Kind: "epic", Title: "ok", Points: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.taskSvc.CreateTask(ctx, e.project.ID, tc.input); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateTaskInitialStatus(t *testing.T) {
	e := newEngine(t)

	task := e.mustCreate(t, model.KindTask, 3, "plain task")
	if task.Status != model.StatusBacklog {
		t.Fatalf("task status = %s, want backlog", task.Status)
	}
	if task.SprintID != nil {
		t.Fatalf("new task must not be sprint-bound")
	}

	bug := e.mustCreate(t, model.KindBug, 2, "broken export")
	if bug.Status != model.StatusTodo {
		t.Fatalf("bug status = %s, want todo", bug.Status)
	}
}

func TestTaskLifecycleAwardsXP(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	const actor int64 = 42

	task := e.mustCreate(t, model.KindTask, 5, "ship feature")
	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	e.mustAdmit(t, sprint.ID, task.ID)

	if got := e.reload(t, task.ID); got.Status != model.StatusTodo || got.SprintID == nil {
		t.Fatalf("after admit: status=%s sprint=%v", got.Status, got.SprintID)
	}

	result, err := e.taskSvc.Claim(ctx, e.project.ID, actor, []uint{task.ID})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(result.Won) != 1 || result.Lost != 0 {
		t.Fatalf("claim result = %+v", result)
	}
	if got := e.reload(t, task.ID); got.Status != model.StatusInProgress || got.AssigneeID == nil || *got.AssigneeID != actor {
		t.Fatalf("after claim: %+v", got)
	}

	done, xp, err := e.taskSvc.Complete(ctx, e.project.ID, task.ID, actor)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != model.StatusDone {
		t.Fatalf("status = %s, want done", done.Status)
	}
	if xp != 50 {
		t.Fatalf("xp = %d, want max(10, 5*10) = 50", xp)
	}

	balance, err := e.rewardSvc.Balance(ctx, actor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 50 {
		t.Fatalf("balance = %d, want 50", balance)
	}
	if len(e.notifier.claimed) != 1 || len(e.notifier.completed) != 1 {
		t.Fatalf("events: claimed=%d completed=%d", len(e.notifier.claimed), len(e.notifier.completed))
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	task := e.mustCreate(t, model.KindTask, 3, "contested")
	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	e.mustAdmit(t, sprint.ID, task.ID)

	results := make([]ClaimResult, 2)
	var wg sync.WaitGroup
	for i, actor := range []int64{7, 8} {
		wg.Add(1)
		go func(i int, actor int64) {
			defer wg.Done()
			result, err := e.taskSvc.Claim(ctx, e.project.ID, actor, []uint{task.ID})
			if err != nil {
				t.Errorf("claim by %d: %v", actor, err)
				return
			}
			results[i] = result
		}(i, actor)
	}
	wg.Wait()

	wins := len(results[0].Won) + len(results[1].Won)
	losses := results[0].Lost + results[1].Lost
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want exactly one of each", wins, losses)
	}

	got := e.reload(t, task.ID)
	if got.AssigneeID == nil {
		t.Fatal("task ended without assignee")
	}
	if *got.AssigneeID != 7 && *got.AssigneeID != 8 {
		t.Fatalf("unexpected assignee %d", *got.AssigneeID)
	}
}

func TestBatchClaimPartialSuccess(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	free := e.mustCreate(t, model.KindTask, 1, "free")
	taken := e.mustCreate(t, model.KindTask, 1, "taken")
	e.mustAdmit(t, sprint.ID, free.ID)
	e.mustAdmit(t, sprint.ID, taken.ID)

	if _, err := e.taskSvc.Claim(ctx, e.project.ID, 99, []uint{taken.ID}); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	result, err := e.taskSvc.Claim(ctx, e.project.ID, 7, []uint{free.ID, taken.ID, 4040})
	if err != nil {
		t.Fatalf("batch claim: %v", err)
	}
	if len(result.Won) != 1 || result.Won[0].ID != free.ID {
		t.Fatalf("won = %+v, want only the free task", result.Won)
	}
	if result.Lost != 2 {
		t.Fatalf("lost = %d, want 2 (taken + missing)", result.Lost)
	}
}

func TestCompleteOnlyByAssignee(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	task := e.mustCreate(t, model.KindTask, 3, "owned work")
	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	e.mustAdmit(t, sprint.ID, task.ID)
	if _, err := e.taskSvc.Claim(ctx, e.project.ID, 7, []uint{task.ID}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, _, err := e.taskSvc.Complete(ctx, e.project.ID, task.ID, 8); !errors.Is(err, ErrForbidden) {
		t.Fatalf("complete by stranger: want ErrForbidden, got %v", err)
	}
	if got := e.reload(t, task.ID); got.Status != model.StatusInProgress || *got.AssigneeID != 7 {
		t.Fatalf("rejected complete must not mutate: %+v", got)
	}

	if _, _, err := e.taskSvc.Complete(ctx, e.project.ID, task.ID, 7); err != nil {
		t.Fatalf("complete by assignee: %v", err)
	}
	if _, _, err := e.taskSvc.Complete(ctx, e.project.ID, task.ID, 7); !errors.Is(err, ErrConflict) {
		t.Fatalf("double complete: want ErrConflict, got %v", err)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	bug := e.mustCreate(t, model.KindBug, 1, "fresh bug")
	if _, _, err := e.taskSvc.Complete(ctx, e.project.ID, bug.ID, 7); err == nil {
		t.Fatal("completing a todo item must fail")
	}
	if got := e.reload(t, bug.ID); got.Status != model.StatusTodo {
		t.Fatalf("status changed to %s", got.Status)
	}
}

func TestStartIsReentrantForAssignee(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	task := e.mustCreate(t, model.KindTask, 2, "restartable")
	e.mustAdmit(t, sprint.ID, task.ID)

	if _, err := e.taskSvc.Start(ctx, e.project.ID, task.ID, 7); err != nil {
		t.Fatalf("first start: %v", err)
	}
	// Second start by a competitor loses; the item stays with 7.
	if _, err := e.taskSvc.Start(ctx, e.project.ID, task.ID, 8); !errors.Is(err, ErrConflict) {
		t.Fatalf("start by competitor: want ErrConflict, got %v", err)
	}
	if got := e.reload(t, task.ID); *got.AssigneeID != 7 {
		t.Fatalf("assignee = %d, want 7", *got.AssigneeID)
	}
}

func TestFixBugOwnershipAndOverride(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	bug := e.mustCreate(t, model.KindBug, 4, "race in exporter")
	if _, err := e.taskSvc.ClaimBug(ctx, e.project.ID, bug.ID, 7); err != nil {
		t.Fatalf("claim bug: %v", err)
	}

	// A stranger without privileges is rejected.
	if _, _, err := e.taskSvc.FixBug(ctx, e.project.ID, bug.ID, 8, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("fix by stranger: want ErrForbidden, got %v", err)
	}

	// A lead overrides ownership and becomes the fixer of record.
	fixed, xp, err := e.taskSvc.FixBug(ctx, e.project.ID, bug.ID, 9, true)
	if err != nil {
		t.Fatalf("privileged fix: %v", err)
	}
	if fixed.Status != model.StatusDone || fixed.AssigneeID == nil || *fixed.AssigneeID != 9 {
		t.Fatalf("after fix: %+v", fixed)
	}
	if xp != 20 {
		t.Fatalf("xp = %d, want max(20, 4*5) = 20", xp)
	}
	balance, err := e.rewardSvc.Balance(ctx, 9)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 20 {
		t.Fatalf("lead balance = %d, want 20", balance)
	}

	if _, _, err := e.taskSvc.FixBug(ctx, e.project.ID, bug.ID, 9, true); !errors.Is(err, ErrConflict) {
		t.Fatalf("double fix: want ErrConflict, got %v", err)
	}
}

func TestFixBugRejectsNonBug(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	task := e.mustCreate(t, model.KindTask, 2, "not a bug")
	if _, _, err := e.taskSvc.FixBug(ctx, e.project.ID, task.ID, 7, true); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestAssignRequiresPrivilege(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sprint := e.mustStartSprint(t, "Sprint 1", nil)
	task := e.mustCreate(t, model.KindTask, 2, "delegated")
	e.mustAdmit(t, sprint.ID, task.ID)

	if _, err := e.taskSvc.Assign(ctx, e.project.ID, task.ID, 7, 8, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("assign without privilege: want ErrForbidden, got %v", err)
	}

	assigned, err := e.taskSvc.Assign(ctx, e.project.ID, task.ID, 7, 1, true)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.AssigneeID == nil || *assigned.AssigneeID != 7 || assigned.Status != model.StatusTodo {
		t.Fatalf("after assign: %+v", assigned)
	}
	if len(e.notifier.assigned) != 1 {
		t.Fatalf("assigned events = %d, want 1", len(e.notifier.assigned))
	}

	// Already assigned items cannot be reassigned.
	if _, err := e.taskSvc.Assign(ctx, e.project.ID, task.ID, 8, 1, true); !errors.Is(err, ErrConflict) {
		t.Fatalf("reassign: want ErrConflict, got %v", err)
	}
}

func TestClaimMissingTask(t *testing.T) {
	e := newEngine(t)

	result, err := e.taskSvc.Claim(context.Background(), e.project.ID, 7, []uint{12345})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(result.Won) != 0 || result.Lost != 1 {
		t.Fatalf("result = %+v, want one lost", result)
	}
}
