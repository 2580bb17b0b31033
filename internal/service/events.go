package service

import (
	"context"
	"sync"

	"sprint-bot/internal/model"
)

// SystemActorID attributes scheduler-driven mutations (sprint auto-close)
// when no human actor is involved.
const SystemActorID int64 = 0

// TaskEvent accompanies a task-level transition.
type TaskEvent struct {
	ProjectID uint
	Actor     int64
	Task      model.TaskItem
	XPAwarded int64
}

// SprintStartedEvent is emitted once the sprint row is committed.
type SprintStartedEvent struct {
	ProjectID uint
	Actor     int64
	Sprint    model.Sprint
}

// SprintEndedEvent carries the sprint metrics computed at close.
type SprintEndedEvent struct {
	ProjectID  uint
	Actor      int64
	Sprint     model.Sprint
	Velocity   int
	Completed  int
	RolledBack int
}

// StandupDueEvent asks the presentation layer to post the daily prompt.
type StandupDueEvent struct {
	ProjectID uint
	Date      string
	Digest    string
}

// Notifier renders domain events externally. Delivery is fire-and-forget:
// implementations log their own failures and never propagate them, so a
// broken channel cannot roll back a committed state change.
type Notifier interface {
	TaskClaimed(ctx context.Context, ev TaskEvent)
	TaskAssigned(ctx context.Context, ev TaskEvent)
	TaskCompleted(ctx context.Context, ev TaskEvent)
	TaskOverdue(ctx context.Context, ev TaskEvent)
	SprintStarted(ctx context.Context, ev SprintStartedEvent)
	SprintEnded(ctx context.Context, ev SprintEndedEvent)
	StandupDue(ctx context.Context, ev StandupDueEvent)
}

// Dispatcher is a Notifier whose sink is attached after construction,
// breaking the bot <-> services construction cycle in main. With no sink
// attached events are dropped, which keeps tests quiet by default.
type Dispatcher struct {
	mu   sync.RWMutex
	sink Notifier
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) SetSink(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = n
}

func (d *Dispatcher) get() Notifier {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sink
}

func (d *Dispatcher) TaskClaimed(ctx context.Context, ev TaskEvent) {
	if n := d.get(); n != nil {
		n.TaskClaimed(ctx, ev)
	}
}

func (d *Dispatcher) TaskAssigned(ctx context.Context, ev TaskEvent) {
	if n := d.get(); n != nil {
		n.TaskAssigned(ctx, ev)
	}
}

func (d *Dispatcher) TaskCompleted(ctx context.Context, ev TaskEvent) {
	if n := d.get(); n != nil {
		n.TaskCompleted(ctx, ev)
	}
}

func (d *Dispatcher) TaskOverdue(ctx context.Context, ev TaskEvent) {
	if n := d.get(); n != nil {
		n.TaskOverdue(ctx, ev)
	}
}

func (d *Dispatcher) SprintStarted(ctx context.Context, ev SprintStartedEvent) {
	if n := d.get(); n != nil {
		n.SprintStarted(ctx, ev)
	}
}

func (d *Dispatcher) SprintEnded(ctx context.Context, ev SprintEndedEvent) {
	if n := d.get(); n != nil {
		n.SprintEnded(ctx, ev)
	}
}

func (d *Dispatcher) StandupDue(ctx context.Context, ev StandupDueEvent) {
	if n := d.get(); n != nil {
		n.StandupDue(ctx, ev)
	}
}
