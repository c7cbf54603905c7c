package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"opora/app/client/llm"
	"opora/app/client/telegram"
	"opora/app/config"
	"opora/app/service/cache"
	"opora/app/service/memory"
	"opora/app/service/notify"
	"opora/app/service/queue"
	"opora/app/service/therapy"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/samber/do"
)

// memoryHistoryLimit is how many past exchanges are replayed from the
// memory files when the transcript cache has nothing.
const memoryHistoryLimit = 5

const (
	greetingMessage = "Привет. Я твой КПТ-тренер. Расскажи, что тебя беспокоит?"
	thinkingMessage = "Думаю... (нейро-символическая проверка)"
	forgetMessage   = "Я всё забыл. Начнём с чистого листа?"

	// Shown on any unrecovered failure. Internal error text never
	// reaches the user.
	internalErrorMessage = "Произошла внутренняя ошибка. Мы уже работаем над этим. Попробуй нажать /start."
)

type Service struct {
	cfg            *config.Config
	telegramClient *telegram.Client
	therapySvc     *therapy.Service
	memorySvc      *memory.Service
	cacheSvc       *cache.Service
	queueSvc       *queue.Service
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:            do.MustInvoke[*config.Config](di),
		telegramClient: do.MustInvoke[*telegram.Client](di),
		therapySvc:     do.MustInvoke[*therapy.Service](di),
		memorySvc:      do.MustInvoke[*memory.Service](di),
		cacheSvc:       do.MustInvoke[*cache.Service](di),
		queueSvc:       do.MustInvoke[*queue.Service](di),
	}

	// Registered at construction time so the poll loop never races an
	// unset handler.
	appCtx := do.MustInvoke[context.Context](di)
	s.telegramClient.OnMessage(func(msg telegram.IncomingMessage) {
		s.handleIncoming(appCtx, msg)
	})

	return s, nil
}

func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.queueSvc.Channel():
			if !ok {
				return
			}

			go func() {
				start := time.Now()

				s.processMessage(ctx, msg)

				slog.Info("Processed message",
					"subject", msg.SubjectID,
					"duration", time.Since(start))
			}()
		}
	}
}

func (s *Service) handleIncoming(ctx context.Context, msg telegram.IncomingMessage) {
	switch msg.Command {
	case "start":
		s.cacheSvc.Clear(ctx, msg.SubjectID)
		s.reply(msg.ChatID, greetingMessage)

	case "forget":
		if err := s.memorySvc.Clear(ctx, msg.SubjectID); err != nil {
			slog.Error("Failed to clear memory", "subject", msg.SubjectID, "error", err)
			s.reply(msg.ChatID, internalErrorMessage)
			return
		}

		s.cacheSvc.Clear(ctx, msg.SubjectID)
		s.reply(msg.ChatID, forgetMessage)

	case "stats":
		stats := s.memorySvc.Stats(msg.SubjectID)
		if !stats.FileExists {
			s.reply(msg.ChatID, "Записей пока нет.")
			return
		}

		s.reply(msg.ChatID, fmt.Sprintf("Сеансов записано: %d", stats.TotalSessions))

	case "":
		s.queueSvc.Add(queue.Message{
			SubjectID: msg.SubjectID,
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			Text:      msg.Text,
		})

	default:
		s.reply(msg.ChatID, "Я не знаю такой команды. Просто напиши, что тебя беспокоит.")
	}
}

func (s *Service) processMessage(ctx context.Context, msg queue.Message) {
	requestID := uuid.NewString()
	logger := slog.With("request_id", requestID, "subject", msg.SubjectID)

	s.telegramClient.SendTyping(msg.ChatID)

	statusID, err := s.telegramClient.SendMessage(msg.ChatID, thinkingMessage)
	if err != nil {
		logger.Error("Failed to send status message", "error", err)
		return
	}

	// Edit failures (e.g. identical text) must never abort the run.
	notifier := notify.ContextFunc(func(_ context.Context, text string) error {
		return s.telegramClient.EditMessage(msg.ChatID, statusID, text)
	})

	history := s.assembleHistory(ctx, msg.SubjectID)

	outcome, err := s.therapySvc.Run(ctx, msg.Text, history, notifier)
	if err != nil {
		logger.Error("Generation run failed", "error", err, "telegram", true)

		if editErr := s.telegramClient.EditMessage(msg.ChatID, statusID, internalErrorMessage); editErr != nil {
			logger.Error("Failed to deliver error message", "error", editErr)
		}

		return
	}

	if err = s.telegramClient.EditMessage(msg.ChatID, statusID, outcome.Reply); err != nil {
		logger.Error("Failed to deliver reply", "error", err)
		s.reply(msg.ChatID, outcome.Reply)
	}

	s.persistExchange(ctx, logger, msg, outcome)
}

// persistExchange runs only after a terminal state: an abandoned run
// leaves no orphaned writes.
func (s *Service) persistExchange(
	ctx context.Context,
	logger *slog.Logger,
	msg queue.Message,
	outcome *therapy.Outcome,
) {
	entry := memory.Entry{
		Timestamp:     time.Now(),
		SubjectID:     msg.SubjectID,
		UserMessage:   msg.Text,
		AgentResponse: outcome.Reply,
		Technique:     outcome.Technique,
	}

	if state := outcome.Assessment; state != nil {
		entry.Emotion = state.Emotion
		entry.Intensity = state.Intensity
		entry.CognitiveLevel = string(state.CognitiveLevel)
		entry.Distortion = string(state.Distortion)
	}

	if err := s.memorySvc.Save(ctx, entry); err != nil {
		if errors.Is(err, memory.ErrLockTimeout) {
			logger.Warn("Memory save skipped, lock contention", "error", err)
		} else {
			logger.Error("Failed to save memory entry", "error", err)
		}
	}

	s.cacheSvc.Append(ctx, msg.SubjectID,
		llm.Turn{Role: llm.RoleSubject, Content: msg.Text},
		llm.Turn{Role: llm.RoleAssistant, Content: outcome.Reply},
	)
}

// assembleHistory prefers the short-term cache and falls back to the
// memory files when the cache is empty or disabled. Either source goes
// through the normalizer inside the run, so raw values are fine here.
func (s *Service) assembleHistory(ctx context.Context, subjectID string) []any {
	if cached := s.cacheSvc.Load(ctx, subjectID); len(cached) > 0 {
		return cached
	}

	turns := s.memorySvc.Load(ctx, subjectID, memoryHistoryLimit)

	return pie.Map(turns, func(turn llm.Turn) any {
		return turn
	})
}

func (s *Service) reply(chatID int64, text string) {
	if _, err := s.telegramClient.SendMessage(chatID, text); err != nil {
		slog.Error("Failed to send reply", "error", err)
	}
}
