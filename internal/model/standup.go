package model

import "time"

// StandupReport is one teammate's daily report. A member submits at most
// one report per project per local calendar day; resubmitting overwrites it.
type StandupReport struct {
	ID         uint   `gorm:"primaryKey"`
	ProjectID  uint   `gorm:"index:idx_standup_day_author,unique"`
	ReportDate string `gorm:"index:idx_standup_day_author,unique"` // local date "2006-01-02"
	AuthorID   int64  `gorm:"index:idx_standup_day_author,unique"`
	Yesterday  string
	Today      string
	Blockers   string
	ReportedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
