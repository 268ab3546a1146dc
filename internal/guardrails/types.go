package guardrails

import "time"

// RiskLevel is the categorical severity derived from a risk score.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the level as its name rather than the raw enum.
func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON accepts the level name.
func (l *RiskLevel) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"low"`:
		*l = RiskLow
	case `"medium"`:
		*l = RiskMedium
	case `"high"`:
		*l = RiskHigh
	case `"critical"`:
		*l = RiskCritical
	default:
		*l = RiskLow
	}
	return nil
}

// RiskLevelFor maps a risk score onto a level. Boundaries are closed on
// the lower bound: exactly 0.8 is critical, 0.6 high, 0.3 medium.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ViolationType tags the category of a guardrail violation.
type ViolationType string

const (
	ViolationHarmfulContent  ViolationType = "harmful_content"
	ViolationPIIExposure     ViolationType = "pii_exposure"
	ViolationPromptInjection ViolationType = "prompt_injection"
	ViolationToxicContent    ViolationType = "toxic_content"
	ViolationBiasDetection   ViolationType = "bias_detection"
	ViolationInternalError   ViolationType = "internal_error"
)

// ValidationContext identifies who and what is being validated.
// Built fresh per call and passed by value into the engine.
type ValidationContext struct {
	TenantID  string
	UserID    string
	AgentID   string
	SessionID string
	Category  string
	Source    string // "input" or "output"
	Timestamp time.Time
}

// ValidationResult is the immutable outcome of one validation call.
type ValidationResult struct {
	IsValid          bool            `json:"is_valid"`
	Violations       []string        `json:"violations,omitempty"`
	ViolationTypes   []ViolationType `json:"violation_types,omitempty"`
	RiskScore        float64         `json:"risk_score"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	SanitizedContent string          `json:"sanitized_content,omitempty"`
	BlockedPhrases   []string        `json:"blocked_phrases,omitempty"`
	Confidence       float64         `json:"confidence"`
	ProcessingTime   time.Duration   `json:"processing_time_ns"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// HasViolationType reports whether the result carries the given tag.
func (r *ValidationResult) HasViolationType(t ViolationType) bool {
	for _, v := range r.ViolationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Policy is one tenant policy rule evaluated by CheckPolicy.
// Action and Resource match exactly or via the "*" wildcard.
type Policy struct {
	Name      string  `yaml:"name"`
	Action    string  `yaml:"action"`
	Resource  string  `yaml:"resource"`
	Allowed   bool    `yaml:"allowed"`
	Reason    string  `yaml:"reason"`
	RiskScore float64 `yaml:"risk_score"`
}

// PolicyResult is the outcome of a policy check.
type PolicyResult struct {
	Allowed   bool    `json:"allowed"`
	Policy    string  `json:"policy"`
	Reason    string  `json:"reason"`
	RiskScore float64 `json:"risk_score"`
}
