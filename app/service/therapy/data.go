package therapy

// CognitiveLevel is the three-tier classification of an expressed
// thought. Technique selection and draft review both key off it.
type CognitiveLevel string

const (
	LevelSituational  CognitiveLevel = "situational"
	LevelRuleBased    CognitiveLevel = "rule_based"
	LevelCoreIdentity CognitiveLevel = "core_identity"
)

// Distortion is a closed set of cognitive distortion categories.
type Distortion string

const (
	DistortionNone               Distortion = "none"
	DistortionAllOrNothing       Distortion = "all_or_nothing"
	DistortionCatastrophizing    Distortion = "catastrophizing"
	DistortionOvergeneralization Distortion = "overgeneralization"
	DistortionMindReading        Distortion = "mind_reading"
	DistortionShouldStatements   Distortion = "should_statements"
	DistortionLabeling           Distortion = "labeling"
)

// StateAssessment is the supervisor's read of the patient state,
// produced once per run before any drafting.
type StateAssessment struct {
	Emotion        string         `json:"emotion" validate:"required"`
	Intensity      int            `json:"intensity" validate:"required,gte=1,lte=10"`
	CognitiveLevel CognitiveLevel `json:"cognitive_level" validate:"required,oneof=situational rule_based core_identity"`
	Distortion     Distortion     `json:"distortion" validate:"required,oneof=none all_or_nothing catastrophizing overgeneralization mind_reading should_statements labeling"`
	SafetyRisk     bool           `json:"safety_risk"`
}

// Draft is one candidate reply from the therapist model.
type Draft struct {
	Content     string         `json:"content" validate:"required"`
	Technique   string         `json:"technique" validate:"required"`
	TargetLevel CognitiveLevel `json:"target_level" validate:"required,oneof=situational rule_based core_identity"`
}

// Critique is the supervisor's verdict on a draft. All three checks must
// pass for the draft to be released.
type Critique struct {
	IsSafe                     bool   `json:"is_safe"`
	AdherenceToProtocol        bool   `json:"adherence_to_protocol"`
	CorrectLevelIdentification bool   `json:"correct_level_identification"`
	Feedback                   string `json:"feedback"`
}

func (c *Critique) Approved() bool {
	return c.IsSafe && c.AdherenceToProtocol && c.CorrectLevelIdentification
}

// Terminal names the state the grounding loop ended in.
type Terminal string

const (
	TerminalAccepted  Terminal = "accepted"
	TerminalSafeExit  Terminal = "safe_exit"
	TerminalExhausted Terminal = "exhausted"
)

// Outcome is the result of one run. Reply is the only part shown to the
// subject; Assessment and Technique exist so the caller can fold them
// into the persisted memory entry.
type Outcome struct {
	Reply      string
	Assessment *StateAssessment
	Technique  string
	Terminal   Terminal
}

// Only the most recent rejection is carried into the next attempt.
type rejectedAttempt struct {
	draft    *Draft
	critique *Critique
}
