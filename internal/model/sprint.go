package model

import "time"

// Sprint is a time-boxed container of tasks. At most one sprint per project
// is active at a time, enforced by a partial unique index (see repository.NewDB).
type Sprint struct {
	ID        uint `gorm:"primaryKey"`
	ProjectID uint `gorm:"index"`
	Name      string
	Goal      string
	IsActive  bool `gorm:"index"`
	StartsAt  *time.Time
	EndsAt    *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
