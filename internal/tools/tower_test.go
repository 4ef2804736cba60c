package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frontiertower/towerbot/internal/timeline"
)

func TestTowerInfoTool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tower.json")
	if err := os.WriteFile(path, []byte("{\n  \"floors\": 16,\n  \"name\": \"Frontier Tower\"\n}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := NewTowerInfoTool(path).Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"floors":16,"name":"Frontier Tower"}` {
		t.Errorf("unexpected output %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	_ = os.WriteFile(bad, []byte("{nope"), 0o600)
	if _, err := NewTowerInfoTool(bad).Execute(context.Background(), nil); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestCalendarTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"entries":[
			{"event":{"name":"Demo Night","start_at":"2026-10-16T02:00:00Z","url":"demo"}},
			{"event":{"name":"Founders Breakfast","start_at":"2026-10-17T16:00:00Z","end_at":"2026-10-17T17:00:00Z"}}
		]}`))
	}))
	defer srv.Close()

	tool := NewCalendarTool(srv.URL, srv.Client())
	tool.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

	out, err := tool.Execute(context.Background(), map[string]any{"limit": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Today is 2026-10-16") {
		t.Errorf("missing date header: %q", out)
	}
	if !strings.Contains(out, "Demo Night") || !strings.Contains(out, "https://lu.ma/demo") {
		t.Errorf("missing first event: %q", out)
	}
	if strings.Contains(out, "Founders Breakfast") {
		t.Errorf("limit not applied: %q", out)
	}
}

func TestCalendarToolUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := NewCalendarTool(srv.URL, srv.Client()).Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error on 502")
	}
	out, err := NewCalendarTool("", nil).Execute(context.Background(), nil)
	if err != nil || !strings.Contains(out, "not configured") {
		t.Fatalf("unconfigured calendar: %q %v", out, err)
	}
}

type fakeCommunities struct {
	raw json.RawMessage
	err error
}

func (f fakeCommunities) Communities(ctx context.Context) (json.RawMessage, error) {
	return f.raw, f.err
}

func TestCommunitiesTool(t *testing.T) {
	out, err := NewCommunitiesTool(fakeCommunities{raw: json.RawMessage(`[{"name":"Biotech"}]`)}).Execute(context.Background(), nil)
	if err != nil || out != `[{"name":"Biotech"}]` {
		t.Fatalf("got %q %v", out, err)
	}
	if _, err := NewCommunitiesTool(fakeCommunities{err: errors.New("down")}).Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

type fakeGraph struct {
	query  string
	limit  int
	labels []string
	result json.RawMessage
}

func (f *fakeGraph) Search(ctx context.Context, query string, limit int, nodeLabels, edgeTypes []string) (json.RawMessage, error) {
	f.query, f.limit, f.labels = query, limit, nodeLabels
	return f.result, nil
}

func TestConnectionsTool(t *testing.T) {
	g := &fakeGraph{result: json.RawMessage(`[{"name":"Ada","fact":"works on robotics"}]`)}
	tool := NewConnectionsTool(g)

	out, err := tool.Execute(context.Background(), map[string]any{
		"query":       "robotics",
		"node_labels": []any{"Person"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.query != "robotics" || g.limit != 10 || len(g.labels) != 1 || g.labels[0] != "Person" {
		t.Errorf("search args = %+v", g)
	}
	if !strings.Contains(out, "Ada") {
		t.Errorf("unexpected output %q", out)
	}

	out, _ = tool.Execute(context.Background(), map[string]any{})
	if !strings.Contains(out, "query is required") {
		t.Errorf("missing query: %q", out)
	}

	g.result = json.RawMessage(`[]`)
	out, _ = tool.Execute(context.Background(), map[string]any{"query": "x"})
	if out != "No connections found." {
		t.Errorf("empty result: %q", out)
	}
}

type fakeMemories struct {
	byUser map[string][]timeline.MemoryRecord
	next   int
}

func (f *fakeMemories) AddMemory(ctx context.Context, userID, content string) (string, error) {
	if f.byUser == nil {
		f.byUser = map[string][]timeline.MemoryRecord{}
	}
	f.next++
	id := "m" + string(rune('0'+f.next))
	f.byUser[userID] = append(f.byUser[userID], timeline.MemoryRecord{ID: id, UserID: userID, Content: content, UpdatedAt: time.Now()})
	return id, nil
}

func (f *fakeMemories) UpdateMemory(ctx context.Context, userID, id, content string) error {
	for i, m := range f.byUser[userID] {
		if m.ID == id {
			f.byUser[userID][i].Content = content
			return nil
		}
	}
	return timeline.ErrNotFound
}

func (f *fakeMemories) DeleteMemory(ctx context.Context, userID, id string) error {
	for i, m := range f.byUser[userID] {
		if m.ID == id {
			f.byUser[userID] = append(f.byUser[userID][:i], f.byUser[userID][i+1:]...)
			return nil
		}
	}
	return timeline.ErrNotFound
}

func (f *fakeMemories) SearchMemories(ctx context.Context, userID, query string, limit int) ([]timeline.MemoryRecord, error) {
	var out []timeline.MemoryRecord
	for _, m := range f.byUser[userID] {
		if strings.Contains(m.Content, query) {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestMemoryToolsAreScopedToUser(t *testing.T) {
	store := &fakeMemories{}
	manage := NewManageMemoryTool(store)
	search := NewSearchMemoryTool(store)

	alice := WithUserID(context.Background(), "1")
	bob := WithUserID(context.Background(), "2")

	out, err := manage.Execute(alice, map[string]any{"content": "likes climbing"})
	if err != nil || !strings.Contains(out, "Remembered") {
		t.Fatalf("create: %q %v", out, err)
	}

	out, _ = search.Execute(alice, map[string]any{"query": "climbing"})
	if !strings.Contains(out, "likes climbing") {
		t.Errorf("alice search: %q", out)
	}
	out, _ = search.Execute(bob, map[string]any{"query": "climbing"})
	if out != "No relevant memories found." {
		t.Errorf("bob sees alice's memory: %q", out)
	}

	out, _ = manage.Execute(bob, map[string]any{"action": "delete", "id": "m1"})
	if !strings.Contains(out, "Error deleting memory") {
		t.Errorf("bob deleted alice's memory: %q", out)
	}
	out, _ = manage.Execute(alice, map[string]any{"action": "update", "id": "m1", "content": "likes bouldering"})
	if !strings.Contains(out, "Updated memory m1") {
		t.Errorf("update: %q", out)
	}
	out, _ = manage.Execute(alice, map[string]any{"action": "delete", "id": "m1"})
	if !strings.Contains(out, "Deleted memory m1") {
		t.Errorf("delete: %q", out)
	}
}

func TestMemoryToolsRequireUser(t *testing.T) {
	store := &fakeMemories{}
	out, _ := NewManageMemoryTool(store).Execute(context.Background(), map[string]any{"content": "x"})
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("expected error without user: %q", out)
	}
	out, _ = NewSearchMemoryTool(store).Execute(context.Background(), map[string]any{"query": "x"})
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("expected error without user: %q", out)
	}
	out, _ = NewManageMemoryTool(store).Execute(WithUserID(context.Background(), "1"), map[string]any{"action": "explode"})
	if !strings.Contains(out, "unknown action") {
		t.Errorf("unknown action: %q", out)
	}
}
