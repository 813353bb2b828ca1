package server

import (
	"encoding/json"

	"planline/internal/domain"
	"planline/internal/tools"
)

// Request payloads

type RegisterProjectRequest struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	RootPath string         `json:"root_path,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

type UpdateStoryRequest struct {
	Title              *string                      `json:"title,omitempty"`
	Description        *string                      `json:"description,omitempty"`
	Status             *string                      `json:"status,omitempty" enum:"draft,ready-for-dev,in-progress,review,done,blocked"`
	EpicNumber         *int                         `json:"epic_number,omitempty"`
	AcceptanceCriteria []domain.AcceptanceCriterion `json:"acceptance_criteria,omitempty"`
	DevNotes           *string                      `json:"dev_notes,omitempty"`
	ExpectedUpdatedAt  string                       `json:"expected_updated_at,omitempty" doc:"Version token from the last read"`
}

type CompleteTaskRequest struct {
	SubtaskIdx int    `json:"subtask_idx,omitempty" minimum:"0"`
	Note       string `json:"note,omitempty"`
}

type ReserveTaskRequest struct {
	Agent      string `json:"agent,omitempty" doc:"Defaults to the X-Actor-Id header"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" minimum:"0"`
}

type PlanningDocRequest struct {
	Content           string `json:"content"`
	GenerateSummary   bool   `json:"generate_summary,omitempty"`
	ExpectedUpdatedAt string `json:"expected_updated_at,omitempty"`
}

type SnapshotRequest struct {
	Version string `json:"version" minLength:"1"`
}

// Response payloads

type ToolResponse struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type RegisterProjectResponse struct {
	Project domain.Project `json:"project"`
	Created bool           `json:"created"`
}

type ReleaseResponse struct {
	Released bool `json:"released"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toolResponses(items []tools.Tool) []ToolResponse {
	out := make([]ToolResponse, 0, len(items))
	for _, t := range items {
		out = append(out, ToolResponse{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
