package model

import "time"

// ScoreResult is the outcome of one analysis
type ScoreResult struct {
	AnalysisID string             `json:"analysis_id,omitempty"`
	Score      float64            `json:"score"`      // 0-100
	RiskLevel  RiskLevel          `json:"risk_level"` // low, medium, high
	Confidence float64            `json:"confidence"` // 0-1
	Factors    FactorSet          `json:"factors"`
	Promises   []PromiseStatement `json:"promises"`
	Budget     *BudgetVerdict     `json:"budget,omitempty"`
	Signals    []Signal           `json:"signals,omitempty"` // Diagnostic signals with transparent data
}

// FactorSet holds the five scoring factors, each in [0,1]
type FactorSet struct {
	PromiseSpecificity   float64 `json:"promise_specificity"`
	HistoricalCompliance float64 `json:"historical_compliance"`
	BudgetaryFeasibility float64 `json:"budgetary_feasibility"`
	TimelineFeasibility  float64 `json:"timeline_feasibility"`
	AuthorTrack          float64 `json:"author_track"`
}

// RiskLevel is the coarse reading of a score
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"` // Formula and inputs
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalSpecificity SignalType = "promise_specificity"
	SignalCompliance  SignalType = "historical_compliance"
	SignalBudget      SignalType = "budgetary_feasibility"
	SignalTimeline    SignalType = "timeline_feasibility"
	SignalAuthorTrack SignalType = "author_track"
	SignalIncoherence SignalType = "legislative_incoherence"
	SignalNoPromises  SignalType = "no_promises"
	SignalConditional SignalType = "conditional_promises"
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// AnalysisStatus is the lifecycle state of a persisted analysis
type AnalysisStatus string

const (
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// Analysis is the persisted record of one run
type Analysis struct {
	ID          string         `json:"id"`
	TargetName  string         `json:"target_name"`
	Author      string         `json:"author"`
	Category    Category       `json:"category"`
	Status      AnalysisStatus `json:"status"`
	Score       float64        `json:"score"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	Confidence  float64        `json:"confidence"`
	Factors     FactorSet      `json:"factors"`
	SourceCount int            `json:"source_count"`
	Summary     string         `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Promises []PromiseStatement `json:"promises,omitempty"`
}

// CircuitState is a snapshot of one breaker
type CircuitState struct {
	Service      string    `json:"service"`
	State        string    `json:"state"` // CLOSED, OPEN, HALF_OPEN
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}
