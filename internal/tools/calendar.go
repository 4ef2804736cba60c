package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CalendarTool lists upcoming events from the community calendar.
type CalendarTool struct {
	url  string
	http *http.Client
	now  func() time.Time
}

func NewCalendarTool(url string, httpClient *http.Client) *CalendarTool {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &CalendarTool{url: url, http: httpClient, now: time.Now}
}

func (t *CalendarTool) Name() string { return ToolCalendarEvents }
func (t *CalendarTool) Description() string {
	return "List upcoming community events from the tower calendar. Highlights what happens today (US Pacific time)."
}

func (t *CalendarTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of events (default: 20)",
			},
		},
	}
}

type calendarResponse struct {
	Entries []struct {
		Event struct {
			Name    string `json:"name"`
			StartAt string `json:"start_at"`
			EndAt   string `json:"end_at"`
			URL     string `json:"url"`
		} `json:"event"`
	} `json:"entries"`
}

func (t *CalendarTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.url == "" {
		return "The event calendar is not configured.", nil
	}
	limit := GetInt(params, "limit", 20)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return "", fmt.Errorf("calendar: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("calendar: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("calendar: read: %w", err)
	}

	var cal calendarResponse
	if err := json.Unmarshal(raw, &cal); err != nil {
		return "", fmt.Errorf("calendar: decode: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Today is %s (US Pacific).\n", t.today())
	if len(cal.Entries) == 0 {
		sb.WriteString("No upcoming events.")
		return sb.String(), nil
	}
	for i, e := range cal.Entries {
		if i >= limit {
			break
		}
		fmt.Fprintf(&sb, "- %s | %s", e.Event.Name, e.Event.StartAt)
		if e.Event.EndAt != "" {
			fmt.Fprintf(&sb, " - %s", e.Event.EndAt)
		}
		if e.Event.URL != "" {
			fmt.Fprintf(&sb, " | https://lu.ma/%s", e.Event.URL)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (t *CalendarTool) today() string {
	now := t.now()
	if loc, err := time.LoadLocation("America/Los_Angeles"); err == nil {
		now = now.In(loc)
	}
	return now.Format("2006-01-02")
}
