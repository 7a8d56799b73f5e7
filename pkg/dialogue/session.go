package dialogue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is a session's lifecycle state.
type Status string

const (
	// StatusActive marks a session still collecting responses.
	StatusActive Status = "active"
	// StatusCompleted is terminal; the record remains readable.
	StatusCompleted Status = "completed"
)

// Response is one round of the clarification exchange.
type Response struct {
	Round    int       `json:"round"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// Session is a multi-round clarification dialogue for one project.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Status    Status `json:"status"`

	// Goal is the raw goal text the dialogue is clarifying.
	Goal string `json:"goal"`

	// Context is a free-form state blob owned by the dialogue engine.
	Context json.RawMessage `json:"context,omitempty"`

	// Round counts completed exchange rounds.
	Round int `json:"round"`

	// Responses is the ordered response log.
	Responses []Response `json:"responses,omitempty"`

	// Summaries holds derived per-round summaries.
	Summaries []string `json:"summaries,omitempty"`

	// Result is the terminal outcome, set on completion.
	Result json.RawMessage `json:"result,omitempty"`

	// FinalConfidence is the confidence score recorded on completion.
	FinalConfidence float64 `json:"final_confidence"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSession creates an active session for a project.
func NewSession(projectID, goal string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Status:    StatusActive,
		Goal:      goal,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// AddResponse appends one exchange round and advances the round counter.
func (s *Session) AddResponse(question, answer string) {
	s.Round++
	s.Responses = append(s.Responses, Response{
		Round:    s.Round,
		Question: question,
		Answer:   answer,
		At:       time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// IsActive reports whether the session is still collecting responses.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}
