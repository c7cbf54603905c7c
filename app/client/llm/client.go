package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"opora/app/config"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai"
)

const maxReasonDuration = 30 * time.Second

// Completer is a single structured-output request against a generative
// backend. The decoded result lands in out, which must be a pointer to a
// struct carrying validate tags.
type Completer interface {
	Complete(ctx context.Context, rolePrompt string, conv []Turn, out any) error
}

var _ Completer = (*Client)(nil)

type Client struct {
	api      *openai.Client
	model    string
	validate *validator.Validate
}

func NewClient(cfg config.ModelConfig) *Client {
	clientConfig := openai.DefaultConfig(cfg.Token)

	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	return &Client{
		api:      openai.NewClientWithConfig(clientConfig),
		model:    cfg.Model,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (c *Client) Complete(ctx context.Context, rolePrompt string, conv []Turn, out any) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(conv)+2)

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: rolePrompt + "\n\n" + schemaInstruction(out),
	})

	for _, turn := range conv {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    wireRole(turn.Role),
			Content: turn.Content,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, maxReasonDuration)
	defer cancel()

	aiResponse, err := c.api.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:               c.model,
			Messages:            messages,
			MaxCompletionTokens: 1000,
			Temperature:         1,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if len(aiResponse.Choices) == 0 {
		return fmt.Errorf("%w: no chat completion found", ErrTransport)
	}

	result := trimFencing(aiResponse.Choices[0].Message.Content)

	if err = json.Unmarshal([]byte(result), out); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidation, err)
	}

	if err = c.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidation, err)
	}

	return nil
}

// Models sometimes wrap JSON-mode output in a markdown fence anyway.
func trimFencing(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func wireRole(role Role) string {
	if role == RoleAssistant {
		return openai.ChatMessageRoleAssistant
	}

	return openai.ChatMessageRoleUser
}

func schemaInstruction(out any) string {
	data, err := json.Marshal(out)
	if err != nil {
		return "Ответь строго одним JSON-объектом."
	}

	return fmt.Sprintf("Ответь строго одним JSON-объектом с такими же полями, как в примере: %s", data)
}
