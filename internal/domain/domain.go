package domain

import (
	"encoding/json"
	"time"
)

// TimeLayout is fixed width so stored timestamps order correctly as strings.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the store's timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

type Project struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	RootPath  string         `json:"root_path,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type Epic struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type StoryStatus string

const (
	StoryDraft       StoryStatus = "draft"
	StoryReadyForDev StoryStatus = "ready-for-dev"
	StoryInProgress  StoryStatus = "in-progress"
	StoryReview      StoryStatus = "review"
	StoryDone        StoryStatus = "done"
	StoryBlocked     StoryStatus = "blocked"
)

var StoryStatuses = []StoryStatus{StoryDraft, StoryReadyForDev, StoryInProgress, StoryReview, StoryDone, StoryBlocked}

func (s StoryStatus) Valid() bool {
	for _, v := range StoryStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type Story struct {
	ID                 string                `json:"id"`
	ProjectID          string                `json:"project_id"`
	EpicID             string                `json:"epic_id,omitempty"`
	Key                string                `json:"key"`
	Title              string                `json:"title"`
	Description        string                `json:"description,omitempty"`
	Status             StoryStatus           `json:"status" enum:"draft,ready-for-dev,in-progress,review,done,blocked"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptance_criteria"`
	DevNotes           string                `json:"dev_notes,omitempty"`
	CreatedAt          string                `json:"created_at" format:"date-time"`
	UpdatedAt          string                `json:"updated_at" format:"date-time"`
}

type AcceptanceCriterion struct {
	Criterion string `json:"criterion"`
	Met       bool   `json:"met"`
}

// UnmarshalJSON also accepts a bare string as an unmet criterion.
func (c *AcceptanceCriterion) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		*c = AcceptanceCriterion{Criterion: text}
		return nil
	}
	type plain AcceptanceCriterion
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = AcceptanceCriterion(p)
	return nil
}

// Criteria builds unmet criteria from their text.
func Criteria(texts ...string) []AcceptanceCriterion {
	out := make([]AcceptanceCriterion, 0, len(texts))
	for _, t := range texts {
		out = append(out, AcceptanceCriterion{Criterion: t})
	}
	return out
}

// RootTask is a top-level task of a story. Only root tasks carry review
// metadata and only root tasks can be reserved.
type RootTask struct {
	ID               int64     `json:"-"`
	Idx              int       `json:"idx"`
	Description      string    `json:"description"`
	Done             bool      `json:"done"`
	IsReviewFollowup bool      `json:"is_review_followup,omitempty"`
	Severity         string    `json:"severity,omitempty"`
	CreatedAt        string    `json:"created_at,omitempty"`
	CompletedAt      string    `json:"completed_at,omitempty"`
	Subtasks         []Subtask `json:"subtasks"`
}

type Subtask struct {
	ID          int64  `json:"-"`
	Idx         int    `json:"idx"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
	CreatedAt   string `json:"created_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// TaskSpec describes a root task to create.
type TaskSpec struct {
	Description string   `json:"description"`
	Subtasks    []string `json:"subtasks,omitempty"`
}

type FollowUp struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// TaskRef points at a pending root task.
type TaskRef struct {
	Idx         int    `json:"idx"`
	Description string `json:"description"`
}

type Reservation struct {
	ProjectID string `json:"project_id"`
	StoryID   string `json:"story_id"`
	TaskIdx   int    `json:"task_idx"`
	Agent     string `json:"agent"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PlanningDoc struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Summary   string `json:"summary,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// VersionInfo names one immutable snapshot.
type VersionInfo struct {
	Version   string `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ChangelogEntry struct {
	ID        int64  `json:"id"`
	Entry     string `json:"entry"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type StoryFile struct {
	Path       string `json:"path"`
	ChangeType string `json:"change_type" enum:"added,modified,deleted"`
	CreatedAt  string `json:"created_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// StoryRef is the short form of a story used by sprint and label listings.
type StoryRef struct {
	ID        string      `json:"id"`
	Key       string      `json:"key"`
	Title     string      `json:"title"`
	Status    StoryStatus `json:"status"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type EpicChangelogEntry struct {
	ID         int64  `json:"id"`
	EpicNumber int    `json:"epic_number"`
	Entry      string `json:"entry"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

const (
	ReviewOpen     = "open"
	ReviewClosed   = "closed"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// ReviewSession groups the findings of one review pass over a story.
type ReviewSession struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	StoryID   string          `json:"story_id,omitempty"`
	Reviewer  string          `json:"reviewer,omitempty"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at" format:"date-time"`
	UpdatedAt string          `json:"updated_at" format:"date-time"`
	Findings  []ReviewFinding `json:"findings,omitempty"`
}

type ReviewFinding struct {
	Idx         int    `json:"idx"`
	Severity    string `json:"severity" enum:"high,medium,low"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
