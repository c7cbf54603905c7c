package therapy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"opora/app/client/llm"
	"opora/app/service/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompleter plays back scripted results in call order. The same
// instance is wired as both supervisor and therapist so the call count
// covers every generative invocation of a run.
type fakeCompleter struct {
	script []any
	calls  int
	convs  [][]llm.Turn

	failAt  int
	failErr error
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, conv []llm.Turn, out any) error {
	f.calls++
	f.convs = append(f.convs, conv)

	if f.failAt != 0 && f.calls == f.failAt {
		return f.failErr
	}

	if f.calls > len(f.script) {
		return fmt.Errorf("unexpected call %d", f.calls)
	}

	switch v := out.(type) {
	case *StateAssessment:
		*v = f.script[f.calls-1].(StateAssessment)
	case *Draft:
		*v = f.script[f.calls-1].(Draft)
	case *Critique:
		*v = f.script[f.calls-1].(Critique)
	default:
		return fmt.Errorf("unexpected out type %T", out)
	}

	return nil
}

func safeAssessment() StateAssessment {
	return StateAssessment{
		Emotion:        "тревога",
		Intensity:      6,
		CognitiveLevel: LevelSituational,
		Distortion:     DistortionCatastrophizing,
		SafetyRisk:     false,
	}
}

func goodDraft(content string) Draft {
	return Draft{
		Content:     content,
		Technique:   "Сократовский диалог",
		TargetLevel: LevelSituational,
	}
}

func approval() Critique {
	return Critique{
		IsSafe:                     true,
		AdherenceToProtocol:        true,
		CorrectLevelIdentification: true,
		Feedback:                   "Хорошо.",
	}
}

func rejection(feedback string) Critique {
	return Critique{
		IsSafe:                     true,
		AdherenceToProtocol:        false,
		CorrectLevelIdentification: true,
		Feedback:                   feedback,
	}
}

func TestRun_SafetyShortCircuit(t *testing.T) {
	fake := &fakeCompleter{script: []any{
		StateAssessment{
			Emotion:        "отчаяние",
			Intensity:      10,
			CognitiveLevel: LevelCoreIdentity,
			Distortion:     DistortionCatastrophizing,
			SafetyRisk:     true,
		},
	}}
	svc := NewWithCompleters(fake, fake)

	outcome, err := svc.Run(context.Background(), "Я хочу, чтобы всё закончилось", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, crisisMessage, outcome.Reply)
	assert.Equal(t, TerminalSafeExit, outcome.Terminal)
	assert.Equal(t, 1, fake.calls)
}

func TestRun_FirstAttemptAccept(t *testing.T) {
	draft := goodDraft("Похоже, ты очень переживаешь. Какие у тебя есть доказательства этой мысли?")

	fake := &fakeCompleter{script: []any{safeAssessment(), draft, approval()}}
	svc := NewWithCompleters(fake, fake)

	outcome, err := svc.Run(context.Background(), "Я всё провалю", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, draft.Content, outcome.Reply)
	assert.Equal(t, draft.Technique, outcome.Technique)
	assert.Equal(t, TerminalAccepted, outcome.Terminal)
	assert.Equal(t, 3, fake.calls)

	require.NotNil(t, outcome.Assessment)
	assert.Equal(t, "тревога", outcome.Assessment.Emotion)
}

func TestRun_RejectionsThenAccept(t *testing.T) {
	for rejections := 1; rejections <= 2; rejections++ {
		t.Run(fmt.Sprintf("%d rejections", rejections), func(t *testing.T) {
			script := []any{safeAssessment()}
			for i := 0; i < rejections; i++ {
				script = append(script, goodDraft(fmt.Sprintf("Черновик %d", i+1)), rejection(fmt.Sprintf("Замечание %d", i+1)))
			}
			accepted := goodDraft("Итоговый черновик")
			script = append(script, accepted, approval())

			fake := &fakeCompleter{script: script}
			svc := NewWithCompleters(fake, fake)

			outcome, err := svc.Run(context.Background(), "Мне плохо", nil, nil)
			require.NoError(t, err)

			assert.Equal(t, accepted.Content, outcome.Reply)
			assert.Equal(t, 1+2*(rejections+1), fake.calls)
		})
	}
}

func TestRun_Exhausted(t *testing.T) {
	fake := &fakeCompleter{script: []any{
		safeAssessment(),
		goodDraft("Черновик 1"), rejection("Замечание 1"),
		goodDraft("Черновик 2"), rejection("Замечание 2"),
		goodDraft("Черновик 3"), rejection("Замечание 3"),
	}}
	svc := NewWithCompleters(fake, fake)

	outcome, err := svc.Run(context.Background(), "Мне плохо", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, exhaustedMessage, outcome.Reply)
	assert.Equal(t, TerminalExhausted, outcome.Terminal)
	assert.Equal(t, 7, fake.calls)
}

func TestRun_FeedbackCarriesOnlyLatestRejection(t *testing.T) {
	fake := &fakeCompleter{script: []any{
		safeAssessment(),
		goodDraft("Черновик 1"), rejection("Замечание 1"),
		goodDraft("Черновик 2"), rejection("Замечание 2"),
		goodDraft("Черновик 3"), approval(),
	}}
	svc := NewWithCompleters(fake, fake)

	_, err := svc.Run(context.Background(), "Мне плохо", nil, nil)
	require.NoError(t, err)

	// Call order: assess, draft, critique, draft, critique, draft, critique.
	// The third draft call sees only the second rejection.
	thirdDraftConv := fake.convs[5]
	feedback := thirdDraftConv[len(thirdDraftConv)-1].Content

	assert.Contains(t, feedback, "Черновик 2")
	assert.Contains(t, feedback, "Замечание 2")
	assert.NotContains(t, feedback, "Черновик 1")
	assert.NotContains(t, feedback, "Замечание 1")
}

func TestRun_EmptyMessageRejected(t *testing.T) {
	fake := &fakeCompleter{}
	svc := NewWithCompleters(fake, fake)

	for _, message := range []string{"", "   \n\t"} {
		_, err := svc.Run(context.Background(), message, nil, nil)
		require.ErrorIs(t, err, ErrEmptyMessage)
	}

	assert.Zero(t, fake.calls)
}

func TestRun_TransportFailurePropagates(t *testing.T) {
	fake := &fakeCompleter{
		script:  []any{safeAssessment()},
		failAt:  2,
		failErr: fmt.Errorf("%w: connection refused", llm.ErrTransport),
	}
	svc := NewWithCompleters(fake, fake)

	_, err := svc.Run(context.Background(), "Мне плохо", nil, nil)
	require.ErrorIs(t, err, llm.ErrTransport)

	// No internal retry for infrastructure errors.
	assert.Equal(t, 2, fake.calls)
}

func TestRun_MalformedHistoryNeverForwarded(t *testing.T) {
	fake := &fakeCompleter{script: []any{safeAssessment(), goodDraft("Ответ"), approval()}}
	svc := NewWithCompleters(fake, fake)

	history := []any{
		map[string]any{"role": "user", "content": "Valid"},
		"invalid_string_message",
		nil,
	}

	_, err := svc.Run(context.Background(), "Help me", history, nil)
	require.NoError(t, err)

	// Assessment uses the raw message only.
	assert.Len(t, fake.convs[0], 1)

	// The draft call sees the one valid turn plus the message itself.
	draftConv := fake.convs[1]
	require.Len(t, draftConv, 2)
	assert.Equal(t, llm.Turn{Role: llm.RoleSubject, Content: "Valid"}, draftConv[0])
	assert.Equal(t, "Help me", draftConv[1].Content)
}

func TestRun_NotifierCheckpoints(t *testing.T) {
	t.Run("plain synchronous callback", func(t *testing.T) {
		fake := &fakeCompleter{script: []any{safeAssessment(), goodDraft("Ответ"), approval()}}
		svc := NewWithCompleters(fake, fake)

		var seen []string
		notifier := notify.Func(func(text string) {
			seen = append(seen, text)
		})

		_, err := svc.Run(context.Background(), "Мне плохо", nil, notifier)
		require.NoError(t, err)

		require.Len(t, seen, 3)
		assert.Equal(t, statusAnalyzing, seen[0])
		assert.Equal(t, "Формулирую ответ (попытка 1)...", seen[1])
		assert.Equal(t, statusReviewing, seen[2])
	})

	t.Run("context-aware callback", func(t *testing.T) {
		fake := &fakeCompleter{script: []any{safeAssessment(), goodDraft("Ответ"), approval()}}
		svc := NewWithCompleters(fake, fake)

		var seen []string
		notifier := notify.ContextFunc(func(_ context.Context, text string) error {
			seen = append(seen, text)
			return nil
		})

		_, err := svc.Run(context.Background(), "Мне плохо", nil, notifier)
		require.NoError(t, err)
		require.NotEmpty(t, seen)
		assert.Equal(t, statusAnalyzing, seen[0])
	})

	t.Run("drafting checkpoint carries attempt index", func(t *testing.T) {
		fake := &fakeCompleter{script: []any{
			safeAssessment(),
			goodDraft("Черновик 1"), rejection("Замечание"),
			goodDraft("Черновик 2"), approval(),
		}}
		svc := NewWithCompleters(fake, fake)

		var seen []string
		_, err := svc.Run(context.Background(), "Мне плохо", nil, notify.Func(func(text string) {
			seen = append(seen, text)
		}))
		require.NoError(t, err)

		assert.Contains(t, seen, "Формулирую ответ (попытка 1)...")
		assert.Contains(t, seen, "Формулирую ответ (попытка 2)...")
	})

	t.Run("failing notifier never aborts the loop", func(t *testing.T) {
		fake := &fakeCompleter{script: []any{safeAssessment(), goodDraft("Ответ"), approval()}}
		svc := NewWithCompleters(fake, fake)

		notifier := notify.ContextFunc(func(_ context.Context, _ string) error {
			return errors.New("message is not modified")
		})

		outcome, err := svc.Run(context.Background(), "Мне плохо", nil, notifier)
		require.NoError(t, err)
		assert.Equal(t, "Ответ", outcome.Reply)
	})

	t.Run("panicking notifier never aborts the loop", func(t *testing.T) {
		fake := &fakeCompleter{script: []any{safeAssessment(), goodDraft("Ответ"), approval()}}
		svc := NewWithCompleters(fake, fake)

		notifier := notify.Func(func(_ string) {
			panic("render conflict")
		})

		outcome, err := svc.Run(context.Background(), "Мне плохо", nil, notifier)
		require.NoError(t, err)
		assert.Equal(t, "Ответ", outcome.Reply)
	})
}
