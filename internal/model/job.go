package model

import "time"

// JobState is where a dispatched analysis is in its lifecycle
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// JobStatus is the record clients poll for dispatched analyses
type JobStatus struct {
	ID         string       `json:"id"`
	State      JobState     `json:"state"`
	AnalysisID string       `json:"analysis_id,omitempty"`
	Result     *ScoreResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorCode  string       `json:"error_code,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Done reports whether the job reached a terminal state
func (s *JobStatus) Done() bool {
	return s.State == JobCompleted || s.State == JobFailed
}

// AnalysisRequest carries the inputs of one analysis run
type AnalysisRequest struct {
	Target             Target   `json:"target"`
	AuthorName         string   `json:"author_name,omitempty"`
	Category           Category `json:"category,omitempty"`
	ExistingAnalysisID string   `json:"existing_analysis_id,omitempty"`
	DeepSearch         bool     `json:"deep_search,omitempty"`
	Lenient            bool     `json:"lenient,omitempty"`
	Text               string   `json:"text,omitempty"` // Analyse this statement instead of collecting
}

// Author returns the name used for history lookups
func (r AnalysisRequest) Author() string {
	if r.AuthorName != "" {
		return r.AuthorName
	}
	return r.Target.Name
}
