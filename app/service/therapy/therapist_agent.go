package therapy

import (
	"context"
	"fmt"

	"opora/app/client/llm"

	_ "embed"
)

//go:embed therapist_prompt.txt
var therapistPromptTemplate string

// therapistAgent runs the drafting model.
type therapistAgent struct {
	client llm.Completer
}

func newTherapistAgent(client llm.Completer) *therapistAgent {
	return &therapistAgent{client: client}
}

// Draft produces one candidate reply. From the second attempt onward the
// latest rejected draft and its critique are appended as a feedback
// block; earlier rejections are not carried.
func (a *therapistAgent) Draft(
	ctx context.Context,
	history []llm.Turn,
	message string,
	lastRejected *rejectedAttempt,
) (*Draft, error) {
	conv := make([]llm.Turn, 0, len(history)+2)
	conv = append(conv, history...)
	conv = append(conv, llm.Turn{Role: llm.RoleSubject, Content: message})

	if lastRejected != nil {
		conv = append(conv, llm.Turn{
			Role:    llm.RoleSubject,
			Content: formatFeedback(lastRejected),
		})
	}

	var draft Draft
	if err := a.client.Complete(ctx, therapistPromptTemplate, conv, &draft); err != nil {
		return nil, fmt.Errorf("draft generation failed: %w", err)
	}

	return &draft, nil
}

func formatFeedback(rejected *rejectedAttempt) string {
	return fmt.Sprintf(
		"Супервизор отклонил твой предыдущий черновик.\n\nЧерновик: %s\n\nЗамечание супервизора: %s\n\nНапиши новый ответ с учётом замечания.",
		rejected.draft.Content,
		rejected.critique.Feedback,
	)
}
