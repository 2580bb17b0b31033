package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"sprint-bot/internal/config"
	"sprint-bot/internal/model"
	"sprint-bot/internal/repository"
	"sprint-bot/internal/service"
)

const (
	cbClaimPrefix      = "claim:"
	cbAdmitPrefix      = "admit:"
	cbSprintOKPrefix   = "sprintok:"
	cbSprintDropPrefix = "sprintno:"
)

const (
	iconTask  = "📌"
	iconBug   = "🐞"
	iconDone  = "✅"
	iconWork  = "🔧"
	iconQueue = "🗂"
)

// Bot aggregates the Telegram API with the workflow engine. It is also the
// production Notifier: domain events are rendered into the project's chat.
type Bot struct {
	api           *tgbotapi.BotAPI
	config        *config.Config
	userRepo      *repository.UserRepository
	projectRepo   *repository.ProjectRepository
	taskSvc       *service.TaskService
	sprintSvc     *service.SprintService
	standupSvc    *service.StandupService
	rewardSvc     *service.RewardService
	sessions      *service.SessionStore
	conversations map[int64]string // user id -> pending sprint draft token
	mu            sync.Mutex
}

func New(
	token string,
	cfg *config.Config,
	userRepo *repository.UserRepository,
	projectRepo *repository.ProjectRepository,
	taskSvc *service.TaskService,
	sprintSvc *service.SprintService,
	standupSvc *service.StandupService,
	rewardSvc *service.RewardService,
	sessions *service.SessionStore,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:           api,
		config:        cfg,
		userRepo:      userRepo,
		projectRepo:   projectRepo,
		taskSvc:       taskSvc,
		sprintSvc:     sprintSvc,
		standupSvc:    standupSvc,
		rewardSvc:     rewardSvc,
		sessions:      sessions,
		conversations: make(map[int64]string),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || update.Message.From == nil {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if token, ok := b.pendingDraft(msg.From.ID); ok {
		return b.handleSprintDates(ctx, msg, token)
	}

	return nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start", "help":
		return b.handleHelp(msg)
	case "bind":
		return b.handleBind(ctx, msg)
	case "newtask":
		return b.handleNewItem(ctx, msg, model.KindTask)
	case "newbug":
		return b.handleNewItem(ctx, msg, model.KindBug)
	case "backlog":
		return b.handleBacklog(ctx, msg)
	case "board":
		return b.handleBoard(ctx, msg)
	case "mytasks":
		return b.handleMyTasks(ctx, msg)
	case "claimable":
		return b.handleClaimable(ctx, msg)
	case "claim":
		return b.handleClaim(ctx, msg)
	case "begin":
		return b.handleBegin(ctx, msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "fixbug":
		return b.handleFixBug(ctx, msg)
	case "assign":
		return b.handleAssign(ctx, msg)
	case "sprint":
		return b.handleSprintDraft(ctx, msg)
	case "endsprint":
		return b.handleEndSprint(ctx, msg)
	case "standup":
		return b.handleStandup(ctx, msg)
	case "xp":
		return b.handleXP(ctx, msg)
	case "cancel":
		b.clearDraft(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Текущий ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Команды</b>\n" +
		"• /bind &lt;название&gt; — привязать проект к этому чату (лид)\n" +
		"• /newtask &lt;поинты&gt; &lt;название&gt; — задача в бэклог\n" +
		"• /newbug &lt;поинты&gt; &lt;название&gt; — баг сразу в Todo\n" +
		"• /backlog — бэклог проекта\n" +
		"• /board — доска активного спринта\n" +
		"• /claimable — свободные задачи с кнопками\n" +
		"• /claim &lt;id&gt; [id ...] — взять задачи себе\n" +
		"• /begin &lt;id&gt; — начать работу над своей задачей\n" +
		"• /done &lt;id&gt; — завершить свою задачу\n" +
		"• /fixbug &lt;id&gt; — закрыть баг\n" +
		"• /assign &lt;id&gt; &lt;кому&gt; — назначить задачу (лид)\n" +
		"• /mytasks — мои задачи\n" +
		"• /sprint &lt;название&gt; | &lt;цель&gt; — начать спринт (лид)\n" +
		"• /endsprint — завершить спринт (лид)\n" +
		"• /standup вчера | сегодня | блокеры — дневной отчёт\n" +
		"• /xp — мой баланс XP\n" +
		"• /cancel — отменить текущий ввод"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleBind(ctx context.Context, msg *tgbotapi.Message) error {
	if !b.config.IsAdmin(msg.From.ID) {
		return b.sendText(msg.Chat.ID, "🚫 Привязывать проект может только лид.")
	}
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		return b.sendText(msg.Chat.ID, "Укажи название: /bind Платёжный шлюз")
	}
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	project, err := b.projectRepo.Bind(ctx, msg.Chat.ID, name)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось привязать проект: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📎 Проект <b>%s</b> привязан к этому чату.", escape(project.Name)))
}

func (b *Bot) handleNewItem(ctx context.Context, msg *tgbotapi.Message, kind model.TaskKind) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	points, title, ok := splitPointsTitle(msg.CommandArguments())
	if !ok {
		example := "/newtask 3 Настроить CI"
		if kind == model.KindBug {
			example = "/newbug 2 Падает выгрузка отчёта"
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Формат: %s", example))
	}

	task, err := b.taskSvc.CreateTask(ctx, project.ID, service.TaskInput{
		Kind:      kind,
		Title:     title,
		Points:    points,
		CreatedBy: msg.From.ID,
	})
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}

	if kind == model.KindBug {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("%s Баг <b>#%d</b> «%s» (%d SP) ждёт в Todo.",
			iconBug, task.ID, escape(task.Title), task.Points))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("%s Задача <b>#%d</b> «%s» (%d SP) добавлена в бэклог.",
		iconTask, task.ID, escape(task.Title), task.Points))
}

func (b *Bot) handleBacklog(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	tasks, err := b.taskSvc.Backlog(ctx, project.ID, 0)
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	if len(tasks) == 0 {
		return b.sendText(msg.Chat.ID, "Бэклог пуст. Добавь задачу через /newtask.")
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s <b>Бэклог · %s</b>\n", iconQueue, escape(project.Name)))
	for _, task := range tasks {
		builder.WriteString(formatItemLine(task))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleBoard(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	sprint, tasks, err := b.sprintSvc.Board(ctx, project.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return b.sendText(msg.Chat.ID, "Активного спринта нет. Начни новый через /sprint.")
		}
		return b.replyErr(msg.Chat.ID, err)
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🏁 <b>Спринт «%s»</b>\n", escape(sprint.Name)))
	if sprint.Goal != "" {
		builder.WriteString(fmt.Sprintf("🎯 %s\n", escape(sprint.Goal)))
	}
	if sprint.EndsAt != nil {
		builder.WriteString(fmt.Sprintf("📅 до %s\n", sprint.EndsAt.Format("2006-01-02")))
	}
	builder.WriteByte('\n')

	sections := []struct {
		status model.TaskStatus
		label  string
	}{
		{model.StatusTodo, "📋 Todo"},
		{model.StatusInProgress, iconWork + " В работе"},
		{model.StatusDone, iconDone + " Готово"},
	}
	for _, section := range sections {
		builder.WriteString(fmt.Sprintf("<b>%s</b>\n", section.label))
		empty := true
		for _, task := range tasks {
			if task.Status != section.status {
				continue
			}
			builder.WriteString(formatItemLine(task))
			empty = false
		}
		if empty {
			builder.WriteString("— пусто\n")
		}
		builder.WriteByte('\n')
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleMyTasks(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	tasks, err := b.taskSvc.MyTasks(ctx, project.ID, msg.From.ID)
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	if len(tasks) == 0 {
		return b.sendText(msg.Chat.ID, "За тобой сейчас ничего не числится. Посмотри /claimable.")
	}

	var builder strings.Builder
	builder.WriteString("🙋 <b>Мои задачи</b>\n")
	for _, task := range tasks {
		builder.WriteString(formatItemLine(task))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleClaimable(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	tasks, err := b.taskSvc.Claimable(ctx, project.ID)
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	if len(tasks) == 0 {
		return b.sendText(msg.Chat.ID, "Свободных задач нет.")
	}

	var builder strings.Builder
	builder.WriteString("🆓 <b>Свободные задачи</b>\nНажми на кнопку, чтобы взять задачу себе.\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(formatItemLine(task))
		buttons = append(buttons, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🤝 #%d · %s", task.ID, shortTitle(task.Title, 24)),
				fmt.Sprintf("%s%d", cbClaimPrefix, task.ID),
			),
		})
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) handleClaim(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	ids, ok := parseIDList(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Укажи номера задач: /claim 3 4 7")
	}
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	result, err := b.taskSvc.Claim(ctx, project.ID, msg.From.ID, ids)
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, claimSummary(msg.From, result))
}

func (b *Bot) handleBegin(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	taskID, ok := parseID(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Укажи номер задачи: /begin 12")
	}
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	task, err := b.taskSvc.Start(ctx, project.ID, taskID, msg.From.ID)
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("%s <b>#%d</b> «%s» в работе у %s.",
		iconWork, task.ID, escape(task.Title), mention(msg.From)))
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	taskID, ok := parseID(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Укажи номер задачи: /done 12")
	}
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	task, xp, err := b.taskSvc.Complete(ctx, project.ID, taskID, msg.From.ID)
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("%s <b>#%d</b> «%s» завершена. %s получает +%d XP!",
		iconDone, task.ID, escape(task.Title), mention(msg.From), xp))
}

func (b *Bot) handleFixBug(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	bugID, ok := parseID(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Укажи номер бага: /fixbug 12")
	}
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	bug, xp, err := b.taskSvc.FixBug(ctx, project.ID, bugID, msg.From.ID, b.config.IsAdmin(msg.From.ID))
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("%s Баг <b>#%d</b> «%s» закрыт. %s получает +%d XP!",
		iconBug, bug.ID, escape(bug.Title), mention(msg.From), xp))
}

func (b *Bot) handleAssign(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 {
		return b.sendText(msg.Chat.ID, "Формат: /assign <id задачи> <id участника>")
	}
	taskID, ok := parseID(fields[0])
	if !ok {
		return b.sendText(msg.Chat.ID, "ID задачи должен быть числом.")
	}
	assignee, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return b.sendText(msg.Chat.ID, "ID участника должен быть числом.")
	}

	task, err := b.taskSvc.Assign(ctx, project.ID, taskID, assignee, msg.From.ID, b.config.IsAdmin(msg.From.ID))
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📨 <b>#%d</b> «%s» назначена участнику %d.",
		task.ID, escape(task.Title), assignee))
}

func (b *Bot) handleSprintDraft(ctx context.Context, msg *tgbotapi.Message) error {
	if !b.config.IsAdmin(msg.From.ID) {
		return b.sendText(msg.Chat.ID, "🚫 Начинать спринт может только лид.")
	}
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}

	name, goal := splitNameGoal(msg.CommandArguments())
	if name == "" {
		return b.sendText(msg.Chat.ID, "Формат: /sprint Спринт 42 | Выкатить платежи")
	}

	token := b.sessions.Put(&service.SprintDraft{
		ProjectID: project.ID,
		ChatID:    msg.Chat.ID,
		ActorID:   msg.From.ID,
		Name:      name,
		Goal:      goal,
	})
	b.setDraft(msg.From.ID, token)

	return b.sendText(msg.Chat.ID,
		"🗓 Укажи даты спринта: <code>2026-09-01 2026-09-14</code>.\n"+
			"Можно одну дату (только конец) или «-», чтобы обойтись без дат.")
}

func (b *Bot) handleSprintDates(ctx context.Context, msg *tgbotapi.Message, token string) error {
	draft, ok := b.sessions.Get(token)
	if !ok {
		b.clearDraft(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⌛ Черновик спринта истёк. Начни заново через /sprint.")
	}
	if draft.ChatID != msg.Chat.ID {
		return nil
	}

	startsAt, endsAt, ok := parseSprintDates(msg.Text)
	if !ok {
		return b.sendText(msg.Chat.ID, "Не понял даты. Формат: <code>2026-09-01 2026-09-14</code> или «-».")
	}
	if startsAt != nil && endsAt != nil && endsAt.Before(*startsAt) {
		return b.sendText(msg.Chat.ID, "Дата конца раньше даты начала. Попробуй ещё раз.")
	}
	draft.StartsAt, draft.EndsAt, draft.DatesSet = startsAt, endsAt, true

	var summary strings.Builder
	summary.WriteString(fmt.Sprintf("🏁 <b>Спринт «%s»</b>\n", escape(draft.Name)))
	if draft.Goal != "" {
		summary.WriteString(fmt.Sprintf("🎯 %s\n", escape(draft.Goal)))
	}
	switch {
	case startsAt != nil && endsAt != nil:
		summary.WriteString(fmt.Sprintf("📅 %s — %s\n", startsAt.Format("2006-01-02"), endsAt.Format("2006-01-02")))
	case endsAt != nil:
		summary.WriteString(fmt.Sprintf("📅 до %s\n", endsAt.Format("2006-01-02")))
	default:
		summary.WriteString("📅 без дат, закрытие вручную\n")
	}
	summary.WriteString("\nЗапускаем?")

	out := tgbotapi.NewMessage(msg.Chat.ID, summary.String())
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚀 Запустить", cbSprintOKPrefix+token),
			tgbotapi.NewInlineKeyboardButtonData("↩️ Отмена", cbSprintDropPrefix+token),
		),
	)
	_, err := b.api.Send(out)
	return err
}

func (b *Bot) handleEndSprint(ctx context.Context, msg *tgbotapi.Message) error {
	if !b.config.IsAdmin(msg.From.ID) {
		return b.sendText(msg.Chat.ID, "🚫 Завершать спринт может только лид.")
	}
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}

	summary, err := b.sprintSvc.EndSprint(ctx, project.ID, msg.From.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return b.sendText(msg.Chat.ID, "Активного спринта нет.")
		}
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, sprintSummaryText(*summary))
}

func (b *Bot) handleStandup(ctx context.Context, msg *tgbotapi.Message) error {
	project, err := b.resolveProject(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	parts := strings.SplitN(msg.CommandArguments(), "|", 3)
	yesterday, today, blockers := "", "", ""
	if len(parts) > 0 {
		yesterday = parts[0]
	}
	if len(parts) > 1 {
		today = parts[1]
	}
	if len(parts) > 2 {
		blockers = parts[2]
	}

	if _, err := b.standupSvc.Submit(ctx, project.ID, msg.From.ID, yesterday, today, blockers, time.Now()); err != nil {
		if errors.Is(err, service.ErrValidation) {
			return b.sendText(msg.Chat.ID, "Формат: /standup что сделал вчера | что сегодня | блокеры")
		}
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📝 Отчёт %s записан. Спасибо!", mention(msg.From)))
}

func (b *Bot) handleXP(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	balance, err := b.rewardSvc.Balance(ctx, msg.From.ID)
	if err != nil {
		return b.replyErr(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("💎 Баланс %s: <b>%d XP</b>", mention(msg.From), balance))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}

	data := cb.Data
	chatID := cb.Message.Chat.ID

	switch {
	case strings.HasPrefix(data, cbClaimPrefix):
		taskID, ok := parseID(strings.TrimPrefix(data, cbClaimPrefix))
		if !ok {
			return nil
		}
		return b.claimFromButton(ctx, chatID, cb.From, taskID)
	case strings.HasPrefix(data, cbAdmitPrefix):
		sprintID, taskID, ok := parseAdmitData(strings.TrimPrefix(data, cbAdmitPrefix))
		if !ok {
			return nil
		}
		return b.admitFromButton(ctx, chatID, cb.From, sprintID, taskID)
	case strings.HasPrefix(data, cbSprintOKPrefix):
		return b.confirmSprint(ctx, chatID, cb.From, strings.TrimPrefix(data, cbSprintOKPrefix))
	case strings.HasPrefix(data, cbSprintDropPrefix):
		token := strings.TrimPrefix(data, cbSprintDropPrefix)
		b.sessions.Delete(token)
		b.clearDraft(cb.From.ID)
		return b.sendText(chatID, "↩️ Черновик спринта отменён.")
	default:
		return nil
	}
}

func (b *Bot) claimFromButton(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	project, err := b.resolveProject(ctx, chatID)
	if err != nil {
		return err
	}
	if _, err := b.ensureUser(ctx, from); err != nil {
		return err
	}

	result, err := b.taskSvc.Claim(ctx, project.ID, from.ID, []uint{taskID})
	if err != nil {
		return b.replyErr(chatID, err)
	}
	if len(result.Won) == 0 {
		return b.sendText(chatID, fmt.Sprintf("⚡ <b>#%d</b> уже разобрали — кто-то успел раньше.", taskID))
	}
	task := result.Won[0]
	return b.sendText(chatID, fmt.Sprintf("🤝 <b>#%d</b> «%s» теперь у %s.",
		task.ID, escape(task.Title), mention(from)))
}

func (b *Bot) admitFromButton(ctx context.Context, chatID int64, from *tgbotapi.User, sprintID, taskID uint) error {
	if !b.config.IsAdmin(from.ID) {
		return nil
	}
	project, err := b.resolveProject(ctx, chatID)
	if err != nil {
		return err
	}
	task, err := b.sprintSvc.Admit(ctx, project.ID, sprintID, taskID)
	if err != nil {
		if errors.Is(err, service.ErrConflict) {
			return b.sendText(chatID, fmt.Sprintf("⚡ <b>#%d</b> уже не в бэклоге.", taskID))
		}
		return b.replyErr(chatID, err)
	}
	return b.sendText(chatID, fmt.Sprintf("➡️ <b>#%d</b> «%s» взята в спринт.", task.ID, escape(task.Title)))
}

func (b *Bot) confirmSprint(ctx context.Context, chatID int64, from *tgbotapi.User, token string) error {
	draft, ok := b.sessions.Get(token)
	if !ok {
		return b.sendText(chatID, "⌛ Черновик спринта истёк. Начни заново через /sprint.")
	}
	if from.ID != draft.ActorID && !b.config.IsAdmin(from.ID) {
		return nil
	}

	sprint, offered, err := b.sprintSvc.StartSprint(ctx, draft.ProjectID, draft.Name, draft.Goal, draft.StartsAt, draft.EndsAt, from.ID)
	if err != nil {
		if errors.Is(err, service.ErrConflict) {
			return b.sendText(chatID, "⚡ В проекте уже идёт спринт. Сначала /endsprint.")
		}
		return b.replyErr(chatID, err)
	}
	b.sessions.Delete(token)
	b.clearDraft(draft.ActorID)

	if len(offered) == 0 {
		return nil // SprintStarted event already announced the launch
	}

	var builder strings.Builder
	builder.WriteString("🗂 <b>Бэклог ждёт</b>\nВыбери задачи для спринта:\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range offered {
		builder.WriteString(formatItemLine(task))
		buttons = append(buttons, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("➡️ #%d · %s", task.ID, shortTitle(task.Title, 24)),
				fmt.Sprintf("%s%d:%d", cbAdmitPrefix, sprint.ID, task.ID),
			),
		})
	}
	out := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	_, err = b.api.Send(out)
	return err
}

// --- Notifier implementation -------------------------------------------------

// TaskClaimed announces the new owner in the project chat.
func (b *Bot) TaskClaimed(ctx context.Context, ev service.TaskEvent) {
	// Claim feedback is already part of the command reply; keep the chat quiet.
}

func (b *Bot) TaskAssigned(ctx context.Context, ev service.TaskEvent) {
	b.notifyProject(ctx, ev.ProjectID, fmt.Sprintf("📨 <b>#%d</b> «%s» назначена — загляни в /mytasks.",
		ev.Task.ID, escape(ev.Task.Title)))
}

func (b *Bot) TaskCompleted(ctx context.Context, ev service.TaskEvent) {
	// Completion is reported inline by the command handler.
}

func (b *Bot) TaskOverdue(ctx context.Context, ev service.TaskEvent) {
	owner := "без владельца"
	if ev.Task.AssigneeID != nil {
		owner = fmt.Sprintf("у участника %d", *ev.Task.AssigneeID)
	}
	b.notifyProject(ctx, ev.ProjectID, fmt.Sprintf("⏰ <b>#%d</b> «%s» висит дольше суток (%s).",
		ev.Task.ID, escape(ev.Task.Title), owner))
}

func (b *Bot) SprintStarted(ctx context.Context, ev service.SprintStartedEvent) {
	text := fmt.Sprintf("🚀 <b>Спринт «%s» запущен!</b>", escape(ev.Sprint.Name))
	if ev.Sprint.Goal != "" {
		text += fmt.Sprintf("\n🎯 %s", escape(ev.Sprint.Goal))
	}
	if ev.Sprint.EndsAt != nil {
		text += fmt.Sprintf("\n📅 до %s", ev.Sprint.EndsAt.Format("2006-01-02"))
	}
	b.notifyProject(ctx, ev.ProjectID, text)
}

func (b *Bot) SprintEnded(ctx context.Context, ev service.SprintEndedEvent) {
	if ev.Actor != service.SystemActorID {
		return // the manual path already posted the summary
	}
	b.notifyProject(ctx, ev.ProjectID, sprintSummaryText(service.SprintSummary{
		Sprint:     ev.Sprint,
		Velocity:   ev.Velocity,
		Completed:  ev.Completed,
		RolledBack: ev.RolledBack,
	}))
}

func (b *Bot) StandupDue(ctx context.Context, ev service.StandupDueEvent) {
	b.notifyProject(ctx, ev.ProjectID,
		ev.Digest+"\n\nРасскажи о своём дне: /standup вчера | сегодня | блокеры")
}

// notifyProject delivers a rendered event into the project's bound chat.
// Best effort: failures are logged and never bubble up.
func (b *Bot) notifyProject(ctx context.Context, projectID uint, text string) {
	project, err := b.projectRepo.FindByID(ctx, projectID)
	if err != nil {
		log.Printf("notify project %d: %v", projectID, err)
		return
	}
	if err := b.sendText(project.ChatID, text); err != nil {
		log.Printf("notify chat %d: %v", project.ChatID, err)
	}
}

// --- helpers -----------------------------------------------------------------

func (b *Bot) resolveProject(ctx context.Context, chatID int64) (*model.Project, error) {
	project, err := b.projectRepo.FindByChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, b.sendText(chatID, "Чат не привязан к проекту. Лид может сделать это через /bind.")
		}
		return nil, err
	}
	return project, nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) setDraft(userID int64, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = token
}

func (b *Bot) pendingDraft(userID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	token, ok := b.conversations[userID]
	return token, ok
}

func (b *Bot) clearDraft(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func claimSummary(from *tgbotapi.User, result service.ClaimResult) string {
	if len(result.Won) == 0 {
		return "⚡ Ничего взять не удалось: задачи уже разобраны или не существуют."
	}
	ids := make([]string, 0, len(result.Won))
	for _, task := range result.Won {
		ids = append(ids, fmt.Sprintf("#%d", task.ID))
	}
	text := fmt.Sprintf("🤝 %s берёт: <b>%s</b>.", mention(from), strings.Join(ids, ", "))
	if result.Lost > 0 {
		text += fmt.Sprintf(" Не досталось: %d.", result.Lost)
	}
	return text
}

func sprintSummaryText(summary service.SprintSummary) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🏁 <b>Спринт «%s» завершён</b>\n", escape(summary.Sprint.Name)))
	builder.WriteString(fmt.Sprintf("⚡ Velocity: <b>%d SP</b>\n", summary.Velocity))
	builder.WriteString(fmt.Sprintf("%s Выполнено задач: %d\n", iconDone, summary.Completed))
	builder.WriteString(fmt.Sprintf("↩️ Вернулось в бэклог: %d", summary.RolledBack))
	return builder.String()
}

func formatItemLine(task model.TaskItem) string {
	icon := iconTask
	if task.Kind == model.KindBug {
		icon = iconBug
	}
	line := fmt.Sprintf("%s <b>#%d</b> %s · %d SP", icon, task.ID, escape(task.Title), task.Points)
	if task.AssigneeID != nil {
		line += fmt.Sprintf(" · 👤 %d", *task.AssigneeID)
	}
	return line + "\n"
}

func mention(from *tgbotapi.User) string {
	name := strings.TrimSpace(from.FirstName)
	if name == "" {
		name = from.UserName
	}
	return escape(name)
}

func escape(s string) string {
	return html.EscapeString(s)
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func splitPointsTitle(args string) (int, string, bool) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return 0, "", false
	}
	points, err := strconv.Atoi(fields[0])
	if err != nil || points <= 0 {
		return 0, "", false
	}
	return points, strings.Join(fields[1:], " "), true
}

func splitNameGoal(args string) (string, string) {
	parts := strings.SplitN(args, "|", 2)
	name := strings.TrimSpace(parts[0])
	goal := ""
	if len(parts) > 1 {
		goal = strings.TrimSpace(parts[1])
	}
	return name, goal
}

func parseID(raw string) (uint, bool) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || value == 0 {
		return 0, false
	}
	return uint(value), true
}

func parseIDList(args string) ([]uint, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return nil, false
	}
	ids := make([]uint, 0, len(fields))
	for _, field := range fields {
		id, ok := parseID(strings.TrimPrefix(field, "#"))
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func parseAdmitData(raw string) (uint, uint, bool) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	sprintID, ok := parseID(parts[0])
	if !ok {
		return 0, 0, false
	}
	taskID, ok := parseID(parts[1])
	if !ok {
		return 0, 0, false
	}
	return sprintID, taskID, true
}

func parseSprintDates(raw string) (*time.Time, *time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "-" || strings.EqualFold(raw, "без дат") {
		return nil, nil, true
	}
	fields := strings.Fields(raw)
	switch len(fields) {
	case 1:
		end, err := time.ParseInLocation("2006-01-02", fields[0], time.Local)
		if err != nil {
			return nil, nil, false
		}
		return nil, &end, true
	case 2:
		start, err := time.ParseInLocation("2006-01-02", fields[0], time.Local)
		if err != nil {
			return nil, nil, false
		}
		end, err := time.ParseInLocation("2006-01-02", fields[1], time.Local)
		if err != nil {
			return nil, nil, false
		}
		return &start, &end, true
	default:
		return nil, nil, false
	}
}

// replyErr maps the engine's failure taxonomy onto user-facing messages.
func (b *Bot) replyErr(chatID int64, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return b.sendText(chatID, "Задача или спринт не найдены.")
	case errors.Is(err, service.ErrForbidden):
		return b.sendText(chatID, "🚫 Недостаточно прав для этого действия.")
	case errors.Is(err, service.ErrConflict):
		return b.sendText(chatID, fmt.Sprintf("⚡ Не получилось: %s", escape(err.Error())))
	case errors.Is(err, service.ErrValidation):
		return b.sendText(chatID, fmt.Sprintf("Проверь ввод: %s", escape(err.Error())))
	default:
		return b.sendText(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}
}
