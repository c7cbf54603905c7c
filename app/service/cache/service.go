package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"opora/app/client/llm"
	"opora/app/config"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/samber/oops"
)

// maxTurns caps the transcript list per subject. Only the most recent
// turns are worth keeping, the memory files hold the full record.
const maxTurns = 10

type cachedTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Service is a short-term transcript cache on a Redis list per subject,
// newest turn first. It is strictly best-effort: every failure degrades
// to an empty transcript and a log line. With no Redis configured the
// service stays disabled and all calls are no-ops.
type Service struct {
	client *redis.Client
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if cfg.Redis.URL == "" {
		slog.Info("Transcript cache disabled, no redis url configured")
		return &Service{}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, oops.Errorf("failed to parse redis url: %w", err)
	}

	return &Service{
		client: redis.NewClient(opts),
	}, nil
}

func (s *Service) Enabled() bool {
	return s.client != nil
}

func key(subjectID string) string {
	return "history:" + subjectID
}

// Append pushes turns and trims the list to maxTurns.
func (s *Service) Append(ctx context.Context, subjectID string, turns ...llm.Turn) {
	if s.client == nil {
		return
	}

	for _, turn := range turns {
		data, err := json.Marshal(cachedTurn{
			Role:    wireRole(turn.Role),
			Content: turn.Content,
		})
		if err != nil {
			slog.Error("Failed to marshal cached turn", "error", err)
			return
		}

		if err = s.client.LPush(ctx, key(subjectID), data).Err(); err != nil {
			slog.Warn("Transcript cache write failed", "subject", subjectID, "error", err)
			return
		}
	}

	if err := s.client.LTrim(ctx, key(subjectID), 0, maxTurns-1).Err(); err != nil {
		slog.Warn("Transcript cache trim failed", "subject", subjectID, "error", err)
	}
}

// Load returns the cached transcript oldest-first as raw values for the
// history normalizer. The cache is an unreliable source, so no schema
// is enforced here.
func (s *Service) Load(ctx context.Context, subjectID string) []any {
	if s.client == nil {
		return nil
	}

	raw, err := s.client.LRange(ctx, key(subjectID), 0, -1).Result()
	if err != nil {
		slog.Warn("Transcript cache read failed", "subject", subjectID, "error", err)
		return nil
	}

	result := make([]any, 0, len(raw))

	// Stored newest-first, replayed oldest-first.
	for i := len(raw) - 1; i >= 0; i-- {
		var value any
		if err := json.Unmarshal([]byte(raw[i]), &value); err != nil {
			result = append(result, raw[i])
			continue
		}
		result = append(result, value)
	}

	return result
}

// Clear drops the subject's cached transcript.
func (s *Service) Clear(ctx context.Context, subjectID string) {
	if s.client == nil {
		return
	}

	if err := s.client.Del(ctx, key(subjectID)).Err(); err != nil {
		slog.Warn("Transcript cache clear failed", "subject", subjectID, "error", err)
	}
}

func (s *Service) Shutdown() error {
	if s.client == nil {
		return nil
	}

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

func wireRole(role llm.Role) string {
	if role == llm.RoleAssistant {
		return "assistant"
	}

	return "user"
}
