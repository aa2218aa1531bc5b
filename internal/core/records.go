package core

import "time"

// ProjectRecord is a codebase registered for analysis. DirectoryPath is the
// working-directory scope handed to the agent CLI.
type ProjectRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	DirectoryPath string    `json:"directory_path"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TicketRecord is the subject of analysis: one QA question thread against a
// project, owning a sequence of structured events and at most one running
// analysis at a time.
type TicketRecord struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            string     `json:"status"`
	CodeContext       string     `json:"code_context,omitempty"`
	AnalysisResult    string     `json:"analysis_result,omitempty"`
	IsAnalyzing       bool       `json:"is_analyzing"`
	Mode              string     `json:"mode"`
	PlanContent       string     `json:"plan_content,omitempty"`
	PlanCreatedAt     *time.Time `json:"plan_created_at,omitempty"`
	RequiredApprovals int        `json:"required_approvals"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Session status values. A session transitions from running to exactly one
// terminal state and is never mutated afterwards.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionCancelled = "cancelled"
)

// AnalysisSession is one execution attempt of an analysis for a ticket.
type AnalysisSession struct {
	ID           string     `json:"id"`
	TicketID     string     `json:"ticket_id"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// PlanEdit is one revision in a ticket's plan history.
type PlanEdit struct {
	ID       string    `json:"id"`
	TicketID string    `json:"ticket_id"`
	UserID   string    `json:"user_id"`
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// PlanApproval records one user's approval or rejection of a ticket's plan.
type PlanApproval struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"` // "approved" or "rejected"
	ApprovedAt time.Time `json:"approved_at"`
}

// UserRecord is an authenticated user account.
type UserRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
