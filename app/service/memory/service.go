package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"opora/app/client/llm"
	"opora/app/config"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

const timestampLayout = "2006-01-02 15:04:05"

// pairWindow is how many lines below a user marker the matching agent
// marker may appear. Pairs further apart are treated as malformed.
const pairWindow = 10

// Service keeps one append-only markdown log per subject. All mutation
// happens under a per-subject lock held for the whole read-modify-write
// cycle; different subjects never block each other.
type Service struct {
	dir      string
	lockWait time.Duration

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	svc, err := NewService(cfg.Memory.Dir, cfg.Memory.LockTimeout)
	if err != nil {
		return nil, oops.Errorf("failed to init memory service: %w", err)
	}

	slog.Info("Memory service ready",
		"dir", cfg.Memory.Dir,
		"subjects", len(svc.ListSubjects()))

	return svc, nil
}

func NewService(dir string, lockWait time.Duration) (*Service, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory dir: %w", err)
	}

	return &Service{
		dir:      dir,
		lockWait: lockWait,
		locks:    make(map[string]*semaphore.Weighted),
	}, nil
}

func (s *Service) filePath(subjectID string) string {
	return filepath.Join(s.dir, "user_"+subjectID+".md")
}

func (s *Service) lockFor(subjectID string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem, ok := s.locks[subjectID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[subjectID] = sem
	}

	return sem
}

func (s *Service) acquire(ctx context.Context, subjectID string) (release func(), err error) {
	sem := s.lockFor(subjectID)

	waitCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	if err := sem.Acquire(waitCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: subject %s: %w", ErrLockTimeout, subjectID, err)
	}

	return func() { sem.Release(1) }, nil
}

// Save appends one exchange to the subject's log. The full file is
// rewritten with the new block under the subject lock, so concurrent
// writers cannot interleave partial blocks. Submission order between
// concurrent writers is not promised, only mutual exclusion.
func (s *Service) Save(ctx context.Context, entry Entry) error {
	release, err := s.acquire(ctx, entry.SubjectID)
	if err != nil {
		return err
	}
	defer release()

	path := s.filePath(entry.SubjectID)

	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read memory file: %w", err)
		}

		header := fmt.Sprintf("# Memory Log for User %s\n\nCreated: %s\n\n---\n\n",
			entry.SubjectID, time.Now().Format(timestampLayout))
		content = []byte(header)
	}

	content = append(content, []byte(formatEntry(entry))...)

	if err = os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write memory file: %w", err)
	}

	slog.Info("Saved memory entry",
		"subject", entry.SubjectID,
		"technique", entry.Technique)

	return nil
}

func formatEntry(entry Entry) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("## Session: %s\n\n", entry.Timestamp.Format(timestampLayout)))

	if entry.Emotion != "" || entry.Intensity != 0 || entry.CognitiveLevel != "" || entry.Distortion != "" {
		builder.WriteString("### 🧠 Analysis\n\n")
		if entry.Emotion != "" {
			builder.WriteString(fmt.Sprintf("- **Emotion**: %s\n", entry.Emotion))
		}
		if entry.Intensity != 0 {
			builder.WriteString(fmt.Sprintf("- **Intensity**: %d/10\n", entry.Intensity))
		}
		if entry.CognitiveLevel != "" {
			builder.WriteString(fmt.Sprintf("- **Cognitive Level**: %s\n", entry.CognitiveLevel))
		}
		if entry.Distortion != "" {
			builder.WriteString(fmt.Sprintf("- **Primary Distortion**: %s\n", entry.Distortion))
		}
		builder.WriteString("\n")
	}

	builder.WriteString("### 💬 Conversation\n\n")
	builder.WriteString(fmt.Sprintf("**User**: %s\n\n", entry.UserMessage))
	builder.WriteString(fmt.Sprintf("**Agent**: %s\n\n", entry.AgentResponse))

	if entry.Technique != "" {
		builder.WriteString(fmt.Sprintf("**Technique Used**: %s\n\n", entry.Technique))
	}

	builder.WriteString("---\n\n")

	return builder.String()
}

// Load reconstructs the most recent limit exchanges in chronological
// order by scanning the log forward. Reconstruction is heuristic: a
// user marker is paired with the first agent marker within pairWindow
// lines, anything unpaired is skipped. Missing files and read failures
// yield an empty history; failures are logged, not raised.
func (s *Service) Load(_ context.Context, subjectID string, limit int) []llm.Turn {
	content, err := os.ReadFile(s.filePath(subjectID))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read memory file", "subject", subjectID, "error", err)
		}
		return nil
	}

	type exchange struct {
		user  string
		agent string
	}

	var exchanges []exchange

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "**User**:") {
			continue
		}

		userMsg := strings.TrimSpace(strings.TrimPrefix(line, "**User**:"))
		if userMsg == "" {
			continue
		}

		for j := i + 1; j < len(lines) && j <= i+pairWindow; j++ {
			next := strings.TrimSpace(lines[j])
			if strings.HasPrefix(next, "**Agent**:") {
				agentMsg := strings.TrimSpace(strings.TrimPrefix(next, "**Agent**:"))
				if agentMsg != "" {
					exchanges = append(exchanges, exchange{user: userMsg, agent: agentMsg})
				}
				i = j
				break
			}
		}
	}

	if limit > 0 && len(exchanges) > limit {
		exchanges = exchanges[len(exchanges)-limit:]
	}

	turns := make([]llm.Turn, 0, len(exchanges)*2)
	for _, ex := range exchanges {
		turns = append(turns,
			llm.Turn{Role: llm.RoleSubject, Content: ex.user},
			llm.Turn{Role: llm.RoleAssistant, Content: ex.agent},
		)
	}

	return turns
}

// Stats counts recorded exchanges without taking the lock, so it may
// race with a concurrent save or clear.
func (s *Service) Stats(subjectID string) Stats {
	path := s.filePath(subjectID)

	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read memory file", "subject", subjectID, "error", err)
		}
		return Stats{}
	}

	return Stats{
		TotalSessions: strings.Count(string(content), "## Session:"),
		FileExists:    true,
		FilePath:      path,
	}
}

// Clear removes the subject's whole log. Clearing a subject with no log
// succeeds trivially.
func (s *Service) Clear(ctx context.Context, subjectID string) error {
	release, err := s.acquire(ctx, subjectID)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(s.filePath(subjectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove memory file: %w", err)
	}

	slog.Info("Cleared memory", "subject", subjectID)

	return nil
}

// ListSubjects is best-effort: it derives subject ids from file names
// and may race with concurrent creates and clears.
func (s *Service) ListSubjects() []string {
	paths, err := filepath.Glob(filepath.Join(s.dir, "user_*.md"))
	if err != nil {
		slog.Error("Failed to list memory files", "error", err)
		return nil
	}

	return pie.Map(paths, func(path string) string {
		name := strings.TrimSuffix(filepath.Base(path), ".md")
		return strings.TrimPrefix(name, "user_")
	})
}
