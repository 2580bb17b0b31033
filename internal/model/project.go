package model

import "time"

// Project binds a team workspace to a chat. Sprints and tasks live under it.
type Project struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"index"`
	ChatID          int64  `gorm:"uniqueIndex"`
	LastStandupDate string // local date "2006-01-02", empty until first prompt
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Sprints         []Sprint   `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Tasks           []TaskItem `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}
