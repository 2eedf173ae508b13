// Package console implements the always-on CLIOutput sink (SPEC_FULL.md
// §4.10): one line per delivered event written to an io.Writer, grounded
// on the teacher's plain log.Printf status lines in relay.go.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"streamengine/internal/model"
	"streamengine/internal/util"
)

// Sink writes one line per delivered event. Safe for concurrent use since
// it is typically registered as an EventBus handler, which may be invoked
// from the publisher goroutine while another write is still in flight on
// a slow writer.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New builds a Sink writing to w. A nil w defaults to os.Stdout.
func New(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w}
}

// Handle renders event as one line and satisfies eventbus.Handler.
func (s *Sink) Handle(event model.TwitterEvent) error {
	line := formatLine(event)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, line)
	return err
}

func formatLine(event model.TwitterEvent) string {
	summary := summarizeData(event)
	if summary == "" {
		return fmt.Sprintf("[%s] %s @%s", event.Timestamp, event.Type, event.User.Username)
	}
	return fmt.Sprintf("[%s] %s @%s - %s", event.Timestamp, event.Type, event.User.Username, summary)
}

func summarizeData(event model.TwitterEvent) string {
	switch d := event.Data.(type) {
	case *model.PostData:
		if d.Tweet != nil && d.Tweet.Body.Text != "" {
			return util.TruncateString(d.Tweet.Body.Text, 80)
		}
		return d.Action
	case *model.ProfileData:
		return d.Action
	case *model.FollowingData:
		if d.Following != nil {
			return d.Action + " " + d.Following.Handle
		}
		return d.Action
	default:
		return ""
	}
}
