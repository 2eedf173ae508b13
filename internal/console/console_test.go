package console

import (
	"bytes"
	"strings"
	"testing"

	"streamengine/internal/model"
)

func TestSinkHandleWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)

	event := model.TwitterEvent{
		Type:      model.EventPostCreated,
		Timestamp: "2026-01-01T00:00:00Z",
		PrimaryID: "t1",
		User:      model.User{Username: "elonmusk"},
		Data: &model.PostData{
			Action: "created",
			Tweet:  &model.Tweet{Body: model.TweetBody{Text: "hello world"}},
		},
	}

	if err := s.Handle(event); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", out)
	}
	for _, want := range []string{"post_created", "elonmusk", "hello world"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestSinkHandleTruncatesLongText(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)

	long := strings.Repeat("a", 200)
	event := model.TwitterEvent{
		Type: model.EventPostCreated,
		User: model.User{Username: "u"},
		Data: &model.PostData{Tweet: &model.Tweet{Body: model.TweetBody{Text: long}}},
	}

	if err := s.Handle(event); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if strings.Contains(buf.String(), long) {
		t.Error("expected long tweet text to be truncated")
	}
}

func TestSinkHandleFallsBackWithoutSummary(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)

	event := model.TwitterEvent{
		Type: model.EventUserUpdated,
		User: model.User{Username: "u"},
	}
	if err := s.Handle(event); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(buf.String(), "user_updated") {
		t.Errorf("expected fallback line to include event type, got %q", buf.String())
	}
}

func TestNewDefaultsToStdoutWithoutPanicking(t *testing.T) {
	s := New(nil)
	if s.w == nil {
		t.Fatal("expected default writer to be set")
	}
}
