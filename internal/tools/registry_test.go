package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/logging"
	"planline/internal/migrate"
	"planline/internal/telemetry"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "planline.db"), BusyTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	eng := engine.New(conn, config.Default())
	base := []Option{
		WithLogger(logging.Discard()),
		WithInstruments(telemetry.NewCallInstruments(noop.NewMeterProvider(), tracenoop.NewTracerProvider())),
	}
	return New(eng, append(base, opts...)...)
}

func call(t *testing.T, r *Registry, name string, args any) Result {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	res, err := r.Call(WithActor(context.Background(), "tester"), name, raw)
	require.NoError(t, err)
	require.NotEmpty(t, res["call_id"])
	return res
}

func seed(t *testing.T, r *Registry) string {
	t.Helper()
	require.True(t, call(t, r, "register_project", map[string]any{"project_id": "proj"}).Success())
	res := call(t, r, "create_story", map[string]any{
		"project_id": "proj",
		"key":        "1-1",
		"title":      "Login",
		"tasks": []map[string]any{
			{"description": "form", "subtasks": []string{"html", "css"}},
			{"description": "backend"},
		},
	})
	require.True(t, res.Success(), res)
	return res["story"].(domain.Story).ID
}

func TestCatalogSchemas(t *testing.T) {
	r := newRegistry(t)
	tools := r.List()
	assert.Len(t, tools, 60)
	for _, tl := range tools {
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tl.InputSchema, &schema), tl.Name)
		assert.Equal(t, "object", schema["type"], tl.Name)
		assert.NotEmpty(t, tl.Description, tl.Name)
	}

	reserve, ok := r.Get("reserve_task")
	require.True(t, ok)
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	require.NoError(t, json.Unmarshal(reserve.InputSchema, &schema))
	assert.Contains(t, schema.Properties, "ttl_seconds")
	assert.ElementsMatch(t, []string{"story_id", "task_idx", "agent"}, schema.Required)

	// Nested argument types are inlined, not referenced.
	create, ok := r.Get("create_story")
	require.True(t, ok)
	var nested struct {
		Properties map[string]struct {
			Items struct {
				Type       string         `json:"type"`
				Properties map[string]any `json:"properties"`
			} `json:"items"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(create.InputSchema, &nested))
	tasks := nested.Properties["tasks"].Items
	assert.Equal(t, "object", tasks.Type)
	assert.Contains(t, tasks.Properties, "subtasks")
	criteria := nested.Properties["acceptance_criteria"].Items
	assert.Contains(t, criteria.Properties, "criterion")
	assert.Contains(t, criteria.Properties, "met")
	assert.NotContains(t, string(create.InputSchema), "$ref")
}

func TestReserveConflictIsAResult(t *testing.T) {
	r := newRegistry(t)
	storyID := seed(t, r)

	res := call(t, r, "reserve_task", map[string]any{"story_id": storyID, "task_idx": 1, "agent": "alice"})
	require.True(t, res.Success(), res)

	res = call(t, r, "reserve_task", map[string]any{"story_id": storyID, "task_idx": 1, "agent": "bob"})
	assert.False(t, res.Success())
	assert.Equal(t, "conflict", res.ErrorKind())
	assert.Equal(t, "alice", res["reserved_by"])
	assert.NotEmpty(t, res["expires_at"])

	res = call(t, r, "release_task", map[string]any{"story_id": storyID, "task_idx": 1, "agent": "bob"})
	assert.Equal(t, "not_owner", res.ErrorKind())

	res = call(t, r, "release_task", map[string]any{"story_id": storyID, "task_idx": 1, "agent": "alice"})
	require.True(t, res.Success())
	assert.Equal(t, true, res["released"])
}

func TestStaleTokenIsAResult(t *testing.T) {
	r := newRegistry(t)
	storyID := seed(t, r)

	ctxRes := call(t, r, "get_story_context", map[string]any{"story_id": storyID})
	require.True(t, ctxRes.Success())
	story := ctxRes["story"].(map[string]any)
	token := story["updated_at"].(string)

	res := call(t, r, "update_story", map[string]any{"story_id": storyID, "title": "Login v2", "expected_updated_at": token})
	require.True(t, res.Success(), res)
	fresh := res["updated_at"].(string)

	res = call(t, r, "update_story", map[string]any{"story_id": storyID, "title": "Login v3", "expected_updated_at": token})
	assert.Equal(t, "conflict", res.ErrorKind())
	assert.Equal(t, true, res["conflict"])
	assert.Equal(t, fresh, res["current_updated_at"])
}

func TestArgumentValidation(t *testing.T) {
	r := newRegistry(t)

	res := call(t, r, "reserve_task", map[string]any{"story_id": "proj:1-1", "task_idx": 0})
	assert.Equal(t, "invalid_argument", res.ErrorKind())
	fields := res["fields"].(map[string]string)
	assert.Equal(t, "gt", fields["task_idx"])
	assert.Equal(t, "required", fields["agent"])

	res = call(t, r, "list_projects", map[string]any{"bogus": 1})
	assert.Equal(t, "invalid_argument", res.ErrorKind())

	res = call(t, r, "add_dev_note", map[string]any{"story_id": "x", "note": "n", "section": "gossip"})
	assert.Equal(t, "invalid_argument", res.ErrorKind())

	_, err := r.Call(context.Background(), "drop_tables", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestCompleteTaskFlattensResult(t *testing.T) {
	r := newRegistry(t)
	storyID := seed(t, r)
	res := call(t, r, "complete_task", map[string]any{"story_id": storyID, "task_idx": 1})
	require.True(t, res.Success(), res)
	assert.Equal(t, map[string]any{"done": float64(1), "total": float64(2)}, res["story_progress"])
	assert.Equal(t, false, res["all_tasks_done"])

	res = call(t, r, "complete_task", map[string]any{"story_id": storyID, "task_idx": 1, "subtask_idx": 5})
	assert.Equal(t, "invalid_state", res.ErrorKind())
}

func TestCallsAreMetered(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := newRegistry(t, WithInstruments(telemetry.NewCallInstruments(mp, tracenoop.NewTracerProvider())))
	call(t, r, "list_projects", map[string]any{})
	call(t, r, "get_project_context", map[string]any{"project_id": "nope"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["planline.tool.calls"])
	assert.Equal(t, int64(1), totals["planline.tool.conflicts"])
}

func TestAcceptanceCriteriaCarryMetFlag(t *testing.T) {
	r := newRegistry(t)
	require.True(t, call(t, r, "register_project", map[string]any{"project_id": "proj"}).Success())
	res := call(t, r, "create_story", map[string]any{
		"project_id":          "proj",
		"key":                 "1-1",
		"title":               "Login",
		"acceptance_criteria": []map[string]any{{"criterion": "user can log in", "met": false}},
	})
	require.True(t, res.Success(), res)
	storyID := res["story"].(domain.Story).ID

	res = call(t, r, "update_acceptance_criteria", map[string]any{
		"story_id": storyID,
		"acceptance_criteria": []map[string]any{
			{"criterion": "user can log in", "met": true},
			{"criterion": "user can log out"},
		},
	})
	require.True(t, res.Success(), res)

	res = call(t, r, "get_story_context", map[string]any{"story_id": storyID})
	require.True(t, res.Success(), res)
	story := res["story"].(map[string]any)
	assert.Equal(t, []any{
		map[string]any{"criterion": "user can log in", "met": true},
		map[string]any{"criterion": "user can log out", "met": false},
	}, story["acceptance_criteria"])

	res = call(t, r, "update_acceptance_criteria", map[string]any{
		"story_id":            storyID,
		"acceptance_criteria": []map[string]any{{"met": true}},
	})
	assert.Equal(t, "invalid_argument", res.ErrorKind())
}

func TestMergeDeletesSourceByDefault(t *testing.T) {
	r := newRegistry(t)
	target := seed(t, r)
	for _, key := range []string{"1-2", "1-3"} {
		res := call(t, r, "create_story", map[string]any{
			"project_id": "proj", "key": key, "title": "extra " + key,
			"tasks": []map[string]any{{"description": "leftover"}},
		})
		require.True(t, res.Success(), res)
	}

	res := call(t, r, "merge_stories", map[string]any{"target_story_id": target, "source_story_id": "proj:1-2"})
	require.True(t, res.Success(), res)
	assert.Equal(t, true, res["source_deleted"])
	res = call(t, r, "get_story_summary", map[string]any{"story_id": "proj:1-2"})
	assert.Equal(t, "not_found", res.ErrorKind())

	res = call(t, r, "merge_stories", map[string]any{"target_story_id": target, "source_story_id": "proj:1-3", "delete_source": false})
	require.True(t, res.Success(), res)
	assert.Equal(t, false, res["source_deleted"])
	res = call(t, r, "get_story_summary", map[string]any{"story_id": "proj:1-3"})
	assert.True(t, res.Success(), res)

	res = call(t, r, "get_story_context", map[string]any{"story_id": target})
	require.True(t, res.Success(), res)
	assert.Len(t, res["tasks"], 4)
}

func TestWorkflowTools(t *testing.T) {
	r := newRegistry(t)
	storyID := seed(t, r)

	res := call(t, r, "set_current_sprint", map[string]any{"project_id": "proj", "current_sprint": "s1"})
	require.True(t, res.Success(), res)
	res = call(t, r, "get_sprint_status", map[string]any{"project_id": "proj"})
	assert.Equal(t, "s1", res["current_sprint"])
	res = call(t, r, "set_current_sprint", map[string]any{"project_id": "proj"})
	require.True(t, res.Success(), res)
	res = call(t, r, "get_sprint_status", map[string]any{"project_id": "proj"})
	assert.Contains(t, res, "current_sprint")
	assert.Nil(t, res["current_sprint"])

	res = call(t, r, "set_story_labels", map[string]any{"story_id": storyID, "labels": []string{"ui", "auth"}})
	require.True(t, res.Success(), res)
	assert.Equal(t, []string{"auth", "ui"}, res["labels"])

	res = call(t, r, "add_review_tasks", map[string]any{"story_id": storyID, "tasks": []map[string]any{{"description": "fix", "severity": "high"}}})
	require.True(t, res.Success(), res)
	res = call(t, r, "complete_review_item", map[string]any{"story_id": storyID, "idx": 1})
	assert.False(t, res.Success())
	assert.Equal(t, "not_found", res.ErrorKind())
	res = call(t, r, "complete_review_item", map[string]any{"story_id": storyID, "idx": 3})
	require.True(t, res.Success(), res)
	assert.Equal(t, true, res["completed"])

	res = call(t, r, "start_review", map[string]any{"project_id": "proj", "story_id": storyID})
	require.True(t, res.Success(), res)
	session := res["session_id"].(string)
	res = call(t, r, "add_review_finding", map[string]any{"session_id": session, "description": "leak", "severity": "critical"})
	assert.Equal(t, "invalid_argument", res.ErrorKind())
	res = call(t, r, "add_review_finding", map[string]any{"session_id": session, "description": "leak"})
	require.True(t, res.Success(), res)
	assert.Equal(t, 1, res["idx"])
	res = call(t, r, "reject_review", map[string]any{"session_id": session, "reason": "leak"})
	require.True(t, res.Success(), res)
	assert.Equal(t, "rejected", res["review"].(domain.ReviewSession).Status)

	res = call(t, r, "delete_epic", map[string]any{"project_id": "proj", "epic_number": 4})
	require.True(t, res.Success(), res)
	assert.Equal(t, false, res["deleted"])
}
