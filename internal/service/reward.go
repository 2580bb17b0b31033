package service

import (
	"context"

	"sprint-bot/internal/repository"
)

// XP awarded per completion. Small items still pay the floor amount.
func taskXP(points int) int64 {
	xp := int64(points) * 10
	if xp < 10 {
		xp = 10
	}
	return xp
}

func bugXP(points int) int64 {
	xp := int64(points) * 5
	if xp < 20 {
		xp = 20
	}
	return xp
}

// RewardService owns the XP ledger: awards on completion, guarded spends
// for the shop collaborator.
type RewardService struct {
	users *repository.UserRepository
}

func NewRewardService(users *repository.UserRepository) *RewardService {
	return &RewardService{users: users}
}

func (s *RewardService) Award(ctx context.Context, actor int64, amount int64) (int64, error) {
	return s.users.AddXP(ctx, actor, amount)
}

func (s *RewardService) Balance(ctx context.Context, actor int64) (int64, error) {
	user, err := s.users.FindByTelegramID(ctx, actor)
	if err != nil {
		return 0, translateStoreErr(err)
	}
	return user.XP, nil
}

// Spend decrements the balance if it covers the cost. An insufficient
// balance comes back as ErrConflict; the caller must not grant the
// purchased effect in that case.
func (s *RewardService) Spend(ctx context.Context, actor int64, cost int64) (int64, error) {
	if cost <= 0 {
		return 0, ErrValidation
	}
	balance, ok, err := s.users.SpendXP(ctx, actor, cost)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrConflict
	}
	return balance, nil
}
