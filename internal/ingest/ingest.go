// Package ingest forwards group conversation episodes to the knowledge graph
// pipeline and queries the graph it builds.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Episode is one group message recorded into the knowledge graph.
type Episode struct {
	Channel   string
	ChatID    string
	UserID    string
	Text      string
	Timestamp time.Time
	MessageID string
}

// Name is the episode identifier, e.g. telegram_message_42.
func (e Episode) Name() string {
	ch := e.Channel
	if ch == "" {
		ch = "telegram"
	}
	return fmt.Sprintf("%s_message_%s", ch, e.MessageID)
}

// Ingestor records episodes. Implementations are best effort; callers log
// errors and move on.
type Ingestor interface {
	IngestEpisode(ctx context.Context, ep Episode) error
}

// envelope is the JSON document the graph extraction workers consume.
type envelope struct {
	Name              string `json:"name"`
	EpisodeBody       string `json:"episode_body"`
	Source            string `json:"source"`
	SourceDescription string `json:"source_description"`
	ReferenceTime     string `json:"reference_time"`
	GroupID           string `json:"group_id"`
	UserID            string `json:"user_id"`
}

func encodeEpisode(ep Episode) ([]byte, error) {
	ts := ep.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(envelope{
		Name:              ep.Name(),
		EpisodeBody:       ep.Text,
		Source:            "message",
		SourceDescription: ep.Channel + " group message",
		ReferenceTime:     ts.UTC().Format(time.RFC3339),
		GroupID:           ep.ChatID,
		UserID:            ep.UserID,
	})
}

// Noop discards episodes. Used when ingestion is disabled.
type Noop struct{}

func (Noop) IngestEpisode(ctx context.Context, ep Episode) error { return nil }
