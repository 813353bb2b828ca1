package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/logging"
	"planline/internal/migrate"
	"planline/internal/tools"
)

const storyID = "proj:1-1"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "planline.db"), BusyTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	reg := tools.New(e, tools.WithLogger(logging.Discard()))
	handler, err := New(Config{Engine: e, Tools: reg, BasePath: "/v0", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func errorBody(t *testing.T, data []byte) map[string]any {
	t.Helper()
	body, ok := decode(t, data)["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %s", string(data))
	}
	return body
}

// seed registers project proj and story 1-1 with two root tasks through the tool endpoint.
func seed(t *testing.T, srv *testServer) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tools/register_project", map[string]any{"project_id": "proj"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register project status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tools/create_story", map[string]any{
		"project_id":  "proj",
		"epic_number": 1,
		"key":         "1-1",
		"title":       "Login",
		"tasks": []map[string]any{
			{"description": "form"},
			{"description": "backend"},
		},
	}, map[string]string{ActorHeader: "planner"})
	if res.StatusCode != http.StatusOK || decode(t, data)["success"] != true {
		t.Fatalf("create story status %d: %s", res.StatusCode, string(data))
	}
}

func TestToolEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tools", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tools status %d: %s", res.StatusCode, string(data))
	}
	var listed []ToolResponse
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal tools: %v", err)
	}
	if len(listed) == 0 || listed[0].Name == "" || len(listed[0].InputSchema) == 0 {
		t.Fatalf("unexpected tool list: %s", string(data))
	}

	// Business errors stay inside a 200 envelope.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tools/get_story_context", map[string]any{"story_id": "ghost:1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, string(data))
	}
	env := decode(t, data)
	if env["success"] != false || env["error"] != "not_found" {
		t.Fatalf("unexpected envelope: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tools/drop_everything", map[string]any{}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorBody(t, data)["code"]; code != "unknown_tool" {
		t.Fatalf("expected unknown_tool, got %v", code)
	}
}

func TestLeaseConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)
	client := srv.Client()
	leaseURL := srv.URL + "/v0/stories/" + storyID + "/tasks/1/reservation"

	res, data := doJSON(t, client, http.MethodPost, leaseURL, map[string]any{"ttl_seconds": 60}, map[string]string{ActorHeader: "alice"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reserve status %d: %s", res.StatusCode, string(data))
	}
	if decode(t, data)["agent"] != "alice" {
		t.Fatalf("expected alice to hold the lease: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, leaseURL, map[string]any{"agent": "bob"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	body := errorBody(t, data)
	details, _ := body["details"].(map[string]any)
	if body["code"] != "conflict" || details["reserved_by"] != "alice" {
		t.Fatalf("unexpected conflict body: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, leaseURL+"?agent=bob", nil, nil)
	if res.StatusCode != http.StatusConflict || errorBody(t, data)["code"] != "not_owner" {
		t.Fatalf("expected not_owner, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, leaseURL, nil, map[string]string{ActorHeader: "alice"})
	if res.StatusCode != http.StatusOK || decode(t, data)["released"] != true {
		t.Fatalf("release status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj/reservations", nil, nil)
	if res.StatusCode != http.StatusOK || string(bytes.TrimSpace(data)) != "[]" {
		t.Fatalf("expected no reservations, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStaleStoryUpdate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)
	client := srv.Client()
	storyURL := srv.URL + "/v0/stories/" + storyID

	res, data := doJSON(t, client, http.MethodGet, storyURL, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get story status %d: %s", res.StatusCode, string(data))
	}
	token := decode(t, data)["story"].(map[string]any)["updated_at"].(string)

	res, data = doJSON(t, client, http.MethodPatch, storyURL, map[string]any{"title": "Login v2", "expected_updated_at": token}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	fresh := decode(t, data)["updated_at"]

	res, data = doJSON(t, client, http.MethodPatch, storyURL, map[string]any{"title": "Login v3", "expected_updated_at": token}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	details, _ := errorBody(t, data)["details"].(map[string]any)
	if details["current_updated_at"] != fresh {
		t.Fatalf("expected current token %v, got %s", fresh, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, storyURL+"/tasks/2/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	progress := decode(t, data)["story_progress"].(map[string]any)
	if progress["done"] != float64(1) || progress["total"] != float64(2) {
		t.Fatalf("unexpected progress: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, storyURL+"/tasks/9/complete", map[string]any{}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing task, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStoryVersions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)
	client := srv.Client()
	versionsURL := srv.URL + "/v0/stories/" + storyID + "/versions"

	res, data := doJSON(t, client, http.MethodPost, versionsURL, map[string]any{"version": "v1"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("snapshot status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, versionsURL, map[string]any{"version": "v1"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate label, got %d: %s", res.StatusCode, string(data))
	}

	doJSON(t, client, http.MethodPatch, srv.URL+"/v0/stories/"+storyID, map[string]any{"title": "Renamed"}, nil)

	res, data = doJSON(t, client, http.MethodPost, versionsURL+"/v1/switch", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("switch status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories/"+storyID, nil, nil)
	if title := decode(t, data)["story"].(map[string]any)["title"]; title != "Login" {
		t.Fatalf("expected restored title, got %v", title)
	}

	res, data = doJSON(t, client, http.MethodPost, versionsURL+"/v9/switch", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown version, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPlanningDocs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)
	client := srv.Client()
	docURL := srv.URL + "/v0/projects/proj/docs/prd"

	res, data := doJSON(t, client, http.MethodGet, docURL, nil, nil)
	if res.StatusCode != http.StatusOK || decode(t, data)["exists"] != false {
		t.Fatalf("expected empty doc, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, docURL, map[string]any{"content": "# PRD"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put doc status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, docURL, map[string]any{"content": "# PRD v2", "expected_updated_at": "2020-01-01T00:00:00.000000000Z"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj/docs/novel", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown doc type, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj/events?limit=1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("expected one event and a cursor: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj/events?limit=50&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	for _, evt := range next.Items {
		if evt.ID >= page.Items[0].ID {
			t.Fatalf("page 2 overlaps page 1: %s", string(data))
		}
	}
	if len(next.Items) == 0 {
		t.Fatalf("expected older events")
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj/events?cursor=abc", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", res.StatusCode)
	}
}
