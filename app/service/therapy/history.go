package therapy

import (
	"opora/app/client/llm"
)

// NormalizeHistory converts whatever turn representations an upstream
// transcript source produced into validated turns, preserving order and
// silently dropping everything else. Upstream caches deserialize to
// loosely typed values, and the generative boundary rejects an entire
// request over a single malformed message, so nothing may pass through
// unchecked. Re-normalizing an already clean sequence is a no-op.
func NormalizeHistory(raw []any) []llm.Turn {
	turns := make([]llm.Turn, 0, len(raw))

	for _, item := range raw {
		if turn, ok := normalizeTurn(item); ok {
			turns = append(turns, turn)
		}
	}

	return turns
}

func normalizeTurn(item any) (llm.Turn, bool) {
	switch v := item.(type) {
	case llm.Turn:
		if v.Content == "" {
			return llm.Turn{}, false
		}
		if v.Role != llm.RoleSubject && v.Role != llm.RoleAssistant {
			return llm.Turn{}, false
		}
		return v, true

	case map[string]any:
		role, roleOk := v["role"].(string)
		content, contentOk := v["content"].(string)
		if !roleOk || !contentOk {
			return llm.Turn{}, false
		}
		return makeTurn(role, content)

	case map[string]string:
		return makeTurn(v["role"], v["content"])

	default:
		return llm.Turn{}, false
	}
}

func makeTurn(role, content string) (llm.Turn, bool) {
	if content == "" {
		return llm.Turn{}, false
	}

	switch role {
	case "user", "subject":
		return llm.Turn{Role: llm.RoleSubject, Content: content}, true
	case "assistant":
		return llm.Turn{Role: llm.RoleAssistant, Content: content}, true
	default:
		return llm.Turn{}, false
	}
}
