package therapy

import (
	"context"
	"fmt"

	"opora/app/client/llm"

	_ "embed"
)

//go:embed analyst_prompt.txt
var analystPromptTemplate string

//go:embed supervisor_prompt.txt
var supervisorPromptTemplate string

// analystAgent runs the supervisor model: patient state assessment
// before the loop, draft critique inside it.
type analystAgent struct {
	client llm.Completer
}

func newAnalystAgent(client llm.Completer) *analystAgent {
	return &analystAgent{client: client}
}

// Assess works from the raw patient message only; history is
// deliberately not supplied to keep the risk read unbiased by earlier
// assistant output.
func (a *analystAgent) Assess(ctx context.Context, message string) (*StateAssessment, error) {
	conv := []llm.Turn{
		{Role: llm.RoleSubject, Content: message},
	}

	var state StateAssessment
	if err := a.client.Complete(ctx, analystPromptTemplate, conv, &state); err != nil {
		return nil, fmt.Errorf("state assessment failed: %w", err)
	}

	return &state, nil
}

// Critique reviews a single draft against the patient message. History
// is not passed either: the verdict is about this exchange only.
func (a *analystAgent) Critique(ctx context.Context, message, draftContent string) (*Critique, error) {
	conv := []llm.Turn{
		{
			Role:    llm.RoleSubject,
			Content: fmt.Sprintf("Сообщение пациента: %s\n\nОтвет терапевта: %s", message, draftContent),
		},
	}

	var critique Critique
	if err := a.client.Complete(ctx, supervisorPromptTemplate, conv, &critique); err != nil {
		return nil, fmt.Errorf("draft critique failed: %w", err)
	}

	return &critique, nil
}
