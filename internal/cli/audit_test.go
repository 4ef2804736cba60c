package cli

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/frontiertower/towerbot/internal/timeline"
)

func seedTimeline(t *testing.T) {
	t.Helper()
	svc, err := timeline.NewTimelineService(os.Getenv("TIMELINE_PATH"))
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	defer svc.Close()
	ctx := context.Background()
	for _, rec := range []*timeline.PolicyDecisionRecord{
		{TraceID: "t1", Channel: "telegram", ChatID: "42", Sender: "42", Category: "informational-query", Tier: 3, Allowed: true, Reason: "COMMUNITY_MEMBER"},
		{TraceID: "t2", Channel: "telegram", ChatID: "7", Sender: "7", Category: "informational-query", Tier: 1, Allowed: false, Reason: "NOT_IN_GROUP"},
		{TraceID: "t3", Channel: "telegram", ChatID: "8", Sender: "8", Category: "connection-search", Tier: 1, Allowed: false, Reason: "NOT_IN_GROUP"},
	} {
		if err := svc.LogPolicyDecision(ctx, rec); err != nil {
			t.Fatalf("log decision: %v", err)
		}
	}
	task, err := svc.CreateTask(ctx, &timeline.AgentTask{Channel: "telegram", ChatID: "42", SenderID: "42", Category: "informational-query"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := svc.UpdateTaskStatus(ctx, task.TaskID, timeline.TaskStatusFailed, "", "agent timeout"); err != nil {
		t.Fatalf("update task: %v", err)
	}
}

func TestAuditReasons(t *testing.T) {
	isolateConfig(t)
	seedTimeline(t)

	out, err := runRootCommand(t, "audit", "reasons", "--json")
	if err != nil {
		t.Fatalf("audit reasons: %v", err)
	}
	var counts []timeline.ReasonCount
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	got := map[string]int{}
	for _, c := range counts {
		got[c.Reason] = c.Count
	}
	if got["NOT_IN_GROUP"] != 2 || got["COMMUNITY_MEMBER"] != 1 {
		t.Fatalf("unexpected counts %v", got)
	}
}

func TestAuditDecisionsFilters(t *testing.T) {
	isolateConfig(t)
	seedTimeline(t)

	out, err := runRootCommand(t, "audit", "decisions", "--denied", "--sender", "", "--trace", "", "--json")
	if err != nil {
		t.Fatalf("audit decisions: %v", err)
	}
	var rows []timeline.PolicyDecisionRecord
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 denials, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Allowed {
			t.Fatalf("allowed row in denied listing: %+v", r)
		}
	}

	out, err = runRootCommand(t, "audit", "decisions", "--denied=false", "--trace", "t1", "--json=false")
	if err != nil {
		t.Fatalf("audit decisions text: %v", err)
	}
	if !strings.Contains(out, "ALLOW") || !strings.Contains(out, "COMMUNITY_MEMBER") || strings.Contains(out, "NOT_IN_GROUP") {
		t.Fatalf("unexpected text output:\n%s", out)
	}
}

func TestAuditTasks(t *testing.T) {
	isolateConfig(t)
	seedTimeline(t)

	out, err := runRootCommand(t, "audit", "tasks", "--status", "failed", "--channel", "", "--json=false")
	if err != nil {
		t.Fatalf("audit tasks: %v", err)
	}
	if !strings.Contains(out, "failed") || !strings.Contains(out, "error=agent timeout") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	out, err = runRootCommand(t, "audit", "tasks", "--status", "completed", "--json=false")
	if err != nil {
		t.Fatalf("audit tasks: %v", err)
	}
	if out != "No tasks recorded." {
		t.Fatalf("expected empty listing, got %q", out)
	}
}
