package model

import "time"

// TaskKind separates planned work from defects.
type TaskKind string

const (
	KindTask TaskKind = "task"
	KindBug  TaskKind = "bug"
)

// TaskStatus is the workflow state of an item. Bugs never sit in Backlog.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// TaskItem represents a single unit of work inside a project.
// SprintID is nil while the item waits in the backlog.
type TaskItem struct {
	ID                      uint       `gorm:"primaryKey"`
	ProjectID               uint       `gorm:"index"`
	SprintID                *uint      `gorm:"index"`
	Kind                    TaskKind   `gorm:"index"`
	Status                  TaskStatus `gorm:"index"`
	Title                   string
	Points                  int
	AssigneeID              *int64 `gorm:"index"`
	CreatedBy               int64
	LastOverdueReminderDate string // local date "2006-01-02", empty if never reminded
	CreatedAt               time.Time
	UpdatedAt               time.Time
}
