package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"sprint-bot/internal/model"
	"sprint-bot/internal/repository"
)

const localDateLayout = "2006-01-02"

// StandupService stores daily reports and renders the team digest.
type StandupService struct {
	standups *repository.StandupRepository
	users    *repository.UserRepository
}

func NewStandupService(standups *repository.StandupRepository, users *repository.UserRepository) *StandupService {
	return &StandupService{standups: standups, users: users}
}

// Submit saves the author's report for the local day of now. Submitting
// again on the same day replaces the earlier report.
func (s *StandupService) Submit(ctx context.Context, projectID uint, author int64, yesterday, today, blockers string, now time.Time) (*model.StandupReport, error) {
	yesterday = strings.TrimSpace(yesterday)
	today = strings.TrimSpace(today)
	if yesterday == "" && today == "" {
		return nil, fmt.Errorf("%w: report must mention at least yesterday or today", ErrValidation)
	}

	report := model.StandupReport{
		ProjectID:  projectID,
		ReportDate: now.Format(localDateLayout),
		AuthorID:   author,
		Yesterday:  yesterday,
		Today:      today,
		Blockers:   strings.TrimSpace(blockers),
		ReportedAt: now,
	}
	if err := s.standups.Upsert(ctx, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Digest renders the reports submitted for the given local day as an HTML
// summary, or an empty-state line when nobody reported yet.
func (s *StandupService) Digest(ctx context.Context, projectID uint, date string) (string, error) {
	reports, err := s.standups.ListByDate(ctx, projectID, date)
	if err != nil {
		return "", err
	}

	names := make(map[int64]string)
	for _, report := range reports {
		if _, ok := names[report.AuthorID]; ok {
			continue
		}
		if user, err := s.users.FindByTelegramID(ctx, report.AuthorID); err == nil {
			names[report.AuthorID] = displayName(user)
		}
	}

	var builder strings.Builder
	builder.WriteString("🗣 <b>Стендап</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", date))

	if len(reports) == 0 {
		builder.WriteString("— отчётов пока нет, расскажи о себе через /standup\n")
		return strings.TrimSpace(builder.String()), nil
	}

	for _, report := range reports {
		name := names[report.AuthorID]
		if name == "" {
			name = fmt.Sprintf("участник %d", report.AuthorID)
		}
		builder.WriteString(fmt.Sprintf("👤 <b>%s</b>\n", html.EscapeString(name)))
		if report.Yesterday != "" {
			builder.WriteString(fmt.Sprintf("   ✅ Вчера: %s\n", html.EscapeString(report.Yesterday)))
		}
		if report.Today != "" {
			builder.WriteString(fmt.Sprintf("   🎯 Сегодня: %s\n", html.EscapeString(report.Today)))
		}
		if report.Blockers != "" {
			builder.WriteString(fmt.Sprintf("   🧱 Блокеры: %s\n", html.EscapeString(report.Blockers)))
		}
		builder.WriteByte('\n')
	}

	return strings.TrimSpace(builder.String()), nil
}

func displayName(user *model.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return name
}
