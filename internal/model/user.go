package model

import "time"

// User stores Telegram user metadata and the accumulated XP balance.
// Rows are created lazily on the first interaction or award.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	XP         int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
