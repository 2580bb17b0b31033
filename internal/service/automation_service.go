package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"sprint-bot/internal/repository"
)

// Automation runs the recurring maintenance work. One short-interval cron
// job calls RunTick; inside, three sweeps fire independently so a slow or
// failing sweep never blocks the others on the next tick.
type Automation struct {
	projects *repository.ProjectRepository
	tasks    *repository.TaskRepository
	sprints  *SprintService
	standups *StandupService
	notify   Notifier

	standupHour, standupMinute int
	overdueAfter               time.Duration
	overdueSweepEvery          time.Duration
	lastOverdueSweep           time.Time

	now func() time.Time
}

func NewAutomation(
	projects *repository.ProjectRepository,
	tasks *repository.TaskRepository,
	sprints *SprintService,
	standups *StandupService,
	notify Notifier,
	standupHour, standupMinute int,
	overdueAfter, overdueSweepEvery time.Duration,
) *Automation {
	return &Automation{
		projects:          projects,
		tasks:             tasks,
		sprints:           sprints,
		standups:          standups,
		notify:            notify,
		standupHour:       standupHour,
		standupMinute:     standupMinute,
		overdueAfter:      overdueAfter,
		overdueSweepEvery: overdueSweepEvery,
		now:               time.Now,
	}
}

// RunTick executes one scheduler iteration. Not reentrant: the cron wrapper
// serializes ticks, so the sweeps never overlap themselves.
func (a *Automation) RunTick(ctx context.Context) {
	now := a.now()
	a.runSweep("standup", func() error { return a.sweepStandups(ctx, now) })
	a.runSweep("overdue", func() error { return a.sweepOverdue(ctx, now) })
	a.runSweep("sprint-close", func() error { return a.sweepSprintClose(ctx, now) })
}

// runSweep shields the tick loop: a panicking or failing sweep is logged
// and the loop carries on with the next sweep and the next tick.
func (a *Automation) runSweep(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[error] %s sweep panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("[warn] %s sweep: %v", name, err)
	}
}

// sweepStandups posts the daily prompt once per project per local day,
// after the configured trigger time.
func (a *Automation) sweepStandups(ctx context.Context, now time.Time) error {
	hour, minute, _ := now.Clock()
	if hour < a.standupHour || (hour == a.standupHour && minute < a.standupMinute) {
		return nil
	}

	today := now.Format(localDateLayout)
	projects, err := a.projects.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	for _, project := range projects {
		if project.LastStandupDate >= today {
			continue
		}
		digest, err := a.standups.Digest(ctx, project.ID, today)
		if err != nil {
			log.Printf("[warn] standup digest project=%d: %v", project.ID, err)
			continue
		}
		a.notify.StandupDue(ctx, StandupDueEvent{ProjectID: project.ID, Date: today, Digest: digest})
		if err := a.projects.StampStandupDate(ctx, project.ID, today); err != nil {
			log.Printf("[warn] stamp standup project=%d: %v", project.ID, err)
			continue
		}
		log.Printf("[info] standup prompt sent project=%d date=%s", project.ID, today)
	}
	return nil
}

// sweepOverdue reminds about sprint-bound items stuck past the threshold.
// Rate-limited regardless of tick frequency; the per-item date stamp keeps
// each task at one reminder per local day.
func (a *Automation) sweepOverdue(ctx context.Context, now time.Time) error {
	if !a.lastOverdueSweep.IsZero() && now.Sub(a.lastOverdueSweep) < a.overdueSweepEvery {
		return nil
	}
	a.lastOverdueSweep = now

	today := now.Format(localDateLayout)
	cutoff := now.Add(-a.overdueAfter)
	overdue, err := a.tasks.ListOverdue(ctx, cutoff, today)
	if err != nil {
		return fmt.Errorf("list overdue: %w", err)
	}

	for _, task := range overdue {
		if err := a.tasks.StampOverdueReminder(ctx, task.ID, today); err != nil {
			log.Printf("[warn] stamp overdue task=%d: %v", task.ID, err)
			continue
		}
		actor := SystemActorID
		if task.AssigneeID != nil {
			actor = *task.AssigneeID
		}
		a.notify.TaskOverdue(ctx, TaskEvent{ProjectID: task.ProjectID, Actor: actor, Task: task})
	}
	if len(overdue) > 0 {
		log.Printf("[info] overdue sweep reminded=%d", len(overdue))
	}
	return nil
}

// sweepSprintClose ends every active sprint whose effective end has passed.
func (a *Automation) sweepSprintClose(ctx context.Context, now time.Time) error {
	closed, err := a.sprints.CloseExpired(ctx, now)
	if len(closed) > 0 {
		log.Printf("[info] auto-closed sprints=%d", len(closed))
	}
	return err
}
