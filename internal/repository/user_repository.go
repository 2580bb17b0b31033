package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"sprint-bot/internal/model"
)

// UserRepository handles users and their XP balances.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case err == gorm.ErrRecordNotFound:
		user = model.User{
			TelegramID: telegramID,
			FirstName:  firstName,
			LastName:   lastName,
			Username:   username,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AddXP atomically increases the XP counter, lazily creating the user row.
// Returns the resulting balance.
func (r *UserRepository) AddXP(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	db := r.db.WithContext(ctx)

	res := db.Model(&model.User{}).Where("telegram_id = ?", telegramID).
		Update("xp", gorm.Expr("xp + ?", amount))
	if res.Error != nil {
		return 0, fmt.Errorf("award xp: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		user := model.User{TelegramID: telegramID, XP: amount}
		if err := db.Create(&user).Error; err != nil {
			return 0, fmt.Errorf("create user for xp: %w", err)
		}
		return user.XP, nil
	}

	user, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return 0, fmt.Errorf("reload xp: %w", err)
	}
	return user.XP, nil
}

// SpendXP atomically decrements the balance if it covers the cost.
// Returns the resulting balance; ok=false means the balance was insufficient
// and nothing changed, so the purchase must not be granted.
func (r *UserRepository) SpendXP(ctx context.Context, telegramID int64, cost int64) (int64, bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("telegram_id = ? AND xp >= ?", telegramID, cost).
		Update("xp", gorm.Expr("xp - ?", cost))
	if res.Error != nil {
		return 0, false, fmt.Errorf("spend xp: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	user, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return 0, false, fmt.Errorf("reload xp: %w", err)
	}
	return user.XP, true, nil
}
