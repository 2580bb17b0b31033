package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sprint-bot/internal/bot"
	"sprint-bot/internal/config"
	"sprint-bot/internal/repository"
	"sprint-bot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	sprintRepo := repository.NewSprintRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	standupRepo := repository.NewStandupRepository(db)

	dispatcher := service.NewDispatcher()
	rewardSvc := service.NewRewardService(userRepo)
	taskSvc := service.NewTaskService(taskRepo, rewardSvc, dispatcher)
	sprintSvc := service.NewSprintService(sprintRepo, taskRepo, dispatcher, cfg.SprintAdmitLimit)
	standupSvc := service.NewStandupService(standupRepo, userRepo)
	sessions := service.NewSessionStore(15 * time.Minute)

	telegramBot, err := bot.New(cfg.TelegramToken, &cfg, userRepo, projectRepo, taskSvc, sprintSvc, standupSvc, rewardSvc, sessions)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}
	dispatcher.SetSink(telegramBot)

	automation := service.NewAutomation(
		projectRepo, taskRepo, sprintSvc, standupSvc, dispatcher,
		cfg.StandupHour, cfg.StandupMinute,
		cfg.OverdueAfter, cfg.OverdueSweepEvery,
	)

	scheduler := service.NewSchedulerService(time.Local)
	if _, err := scheduler.ScheduleInterval(cfg.TickInterval, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		automation.RunTick(tickCtx)
	}); err != nil {
		log.Fatalf("schedule automation: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Println("Sprint bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped with error: %v", err)
	}
	log.Println("Shutdown complete.")
}
