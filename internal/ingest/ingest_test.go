package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/frontiertower/towerbot/internal/config"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestEpisodeName(t *testing.T) {
	if got := (Episode{MessageID: "42"}).Name(); got != "telegram_message_42" {
		t.Errorf("default channel name = %q", got)
	}
	if got := (Episode{Channel: "slack", MessageID: "1700.1"}).Name(); got != "slack_message_1700.1" {
		t.Errorf("slack name = %q", got)
	}
}

func TestKafkaIngestorWritesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaIngestor{topic: "episodes", writer: w}

	ts := time.Date(2026, 10, 16, 10, 30, 0, 0, time.FixedZone("PDT", -7*3600))
	err := k.IngestEpisode(context.Background(), Episode{
		Channel:   "telegram",
		ChatID:    "-100123",
		UserID:    "42",
		Text:      "Anyone into robotics? Meet on floor 4.",
		Timestamp: ts,
		MessageID: "77",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "-100123" {
		t.Errorf("key = %q", msg.Key)
	}
	var env map[string]string
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatal(err)
	}
	if env["name"] != "telegram_message_77" || env["reference_time"] != "2026-10-16T17:30:00Z" {
		t.Errorf("envelope = %v", env)
	}
	if env["episode_body"] != "Anyone into robotics? Meet on floor 4." || env["group_id"] != "-100123" {
		t.Errorf("envelope body = %v", env)
	}
}

func TestKafkaIngestorErrors(t *testing.T) {
	k := &KafkaIngestor{topic: "episodes", writer: &fakeWriter{err: errors.New("broker down")}}
	if err := k.IngestEpisode(context.Background(), Episode{ChatID: "1", MessageID: "1"}); err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	if err := k.IngestEpisode(context.Background(), Episode{ChatID: "1"}); err == nil {
		t.Fatal("expected error without message id")
	}
}

func TestNewKafkaIngestorConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.IngestConfig
		wantErr bool
	}{
		{"plain", config.IngestConfig{KafkaBrokers: "a:9092, b:9092", Topic: "t", SASLMechanism: "PLAIN", SASLUsername: "u", SASLPassword: "p"}, false},
		{"scram", config.IngestConfig{KafkaBrokers: "a:9092", Topic: "t", SASLMechanism: "scram-sha-512", SASLUsername: "u", SASLPassword: "p", TLS: true}, false},
		{"none", config.IngestConfig{KafkaBrokers: "a:9092", Topic: "t"}, false},
		{"bad mechanism", config.IngestConfig{KafkaBrokers: "a:9092", Topic: "t", SASLMechanism: "GSSAPI"}, true},
		{"no brokers", config.IngestConfig{KafkaBrokers: " , ", Topic: "t"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k, err := NewKafkaIngestor(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if k != nil {
				_ = k.Close()
			}
		})
	}
}

func TestGraphClientSearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`[{"name":"Ada"}]`))
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, srv.Client())
	res, err := c.Search(context.Background(), "robotics", 10, []string{"Person"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != `[{"name":"Ada"}]` {
		t.Errorf("result = %s", res)
	}
	if got.Query != "robotics" || got.Limit != 10 || len(got.NodeLabels) != 1 {
		t.Errorf("request = %+v", got)
	}
}

func TestGraphClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	if _, err := NewGraphClient(srv.URL, srv.Client()).Search(context.Background(), "x", 1, nil, nil); err == nil {
		t.Fatal("expected error on 500")
	}
	if _, err := NewGraphClient("", nil).Search(context.Background(), "x", 1, nil, nil); err == nil {
		t.Fatal("expected error when unconfigured")
	}
}
