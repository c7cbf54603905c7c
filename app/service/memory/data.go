package memory

import (
	"errors"
	"time"
)

// Entry is one recorded exchange. Once written it is never edited, only
// superseded by later entries or removed by clearing the whole log.
type Entry struct {
	Timestamp     time.Time
	SubjectID     string
	UserMessage   string
	AgentResponse string

	// Analysis fields, folded in from the state assessment when present.
	Emotion        string
	Intensity      int
	CognitiveLevel string
	Distortion     string
	Technique      string
}

// Stats is a lock-free snapshot of one subject's log.
type Stats struct {
	TotalSessions int
	FileExists    bool
	FilePath      string
}

// ErrLockTimeout reports that the per-subject write lock could not be
// acquired within the configured wait. The caller decides whether to
// retry.
var ErrLockTimeout = errors.New("memory: lock acquisition timed out")
