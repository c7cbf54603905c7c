package therapy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"opora/app/client/llm"
	"opora/app/config"
	"opora/app/service/notify"

	"github.com/samber/do"
)

const maxAttempts = 3

const (
	// Fixed, never-generated texts. The crisis referral is the only
	// possible output when the assessment flags a safety risk.
	crisisMessage    = "Я ИИ-ассистент и не могу помочь в кризисной ситуации. Пожалуйста, позвоните в скорую (103) или телефон доверия."
	exhaustedMessage = "Извини, я затрудняюсь сформулировать терапевтический ответ прямо сейчас. Попробуй перефразировать."
)

const (
	statusAnalyzing   = "Анализирую сообщение..."
	statusDraftingFmt = "Формулирую ответ (попытка %d)..."
	statusReviewing   = "Проверяю черновик..."
)

// ErrEmptyMessage rejects a blank subject message before any generative
// call is made. The platform adapter substitutes a placeholder for
// non-text input, so hitting this means the caller skipped that step.
var ErrEmptyMessage = errors.New("therapy: empty subject message")

// Service drives the grounding loop: analyze, safety gate, then a
// bounded draft/critique cycle.
type Service struct {
	analyst   *analystAgent
	therapist *therapistAgent
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewWithCompleters(
		llm.NewClient(cfg.OpenAI.Supervisor),
		llm.NewClient(cfg.OpenAI.Therapist),
	), nil
}

// NewWithCompleters wires explicit generative backends. Tests inject
// scripted completers through this.
func NewWithCompleters(supervisor, therapist llm.Completer) *Service {
	return &Service{
		analyst:   newAnalystAgent(supervisor),
		therapist: newTherapistAgent(therapist),
	}
}

// Run executes one full request. At most 7 generative calls happen:
// one assessment plus a draft and critique per attempt. Transport and
// schema failures propagate unrecovered; only a supervisor rejection is
// retried, and only up to maxAttempts.
func (s *Service) Run(
	ctx context.Context,
	subjectMessage string,
	history []any,
	notifier notify.Notifier,
) (*Outcome, error) {
	if strings.TrimSpace(subjectMessage) == "" {
		return nil, ErrEmptyMessage
	}

	turns := NormalizeHistory(history)

	s.notify(ctx, notifier, statusAnalyzing)

	state, err := s.analyst.Assess(ctx, subjectMessage)
	if err != nil {
		return nil, fmt.Errorf("analyst.Assess: %w", err)
	}

	if state.SafetyRisk {
		slog.Warn("Safety risk detected, short-circuiting",
			"emotion", state.Emotion,
			"intensity", state.Intensity)

		return &Outcome{
			Reply:      crisisMessage,
			Assessment: state,
			Terminal:   TerminalSafeExit,
		}, nil
	}

	var lastRejected *rejectedAttempt

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.notify(ctx, notifier, fmt.Sprintf(statusDraftingFmt, attempt))

		draft, err := s.therapist.Draft(ctx, turns, subjectMessage, lastRejected)
		if err != nil {
			return nil, fmt.Errorf("therapist.Draft: %w", err)
		}

		s.notify(ctx, notifier, statusReviewing)

		critique, err := s.analyst.Critique(ctx, subjectMessage, draft.Content)
		if err != nil {
			return nil, fmt.Errorf("analyst.Critique: %w", err)
		}

		if critique.Approved() {
			return &Outcome{
				Reply:      draft.Content,
				Assessment: state,
				Technique:  draft.Technique,
				Terminal:   TerminalAccepted,
			}, nil
		}

		slog.Warn("Draft rejected by supervisor",
			"attempt", attempt,
			"feedback", critique.Feedback)

		lastRejected = &rejectedAttempt{draft: draft, critique: critique}
	}

	return &Outcome{
		Reply:      exhaustedMessage,
		Assessment: state,
		Terminal:   TerminalExhausted,
	}, nil
}

// Notifier failures never abort the loop.
func (s *Service) notify(ctx context.Context, notifier notify.Notifier, text string) {
	if notifier == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Status notifier panicked", "panic", r)
		}
	}()

	if err := notifier.Notify(ctx, text); err != nil {
		slog.Debug("Status update failed", "error", err)
	}
}
