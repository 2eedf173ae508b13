package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"streamengine/internal/model"
)

// rawFrame is the wire shape of one SSE data: payload. sig/pubkey are
// optional, populated only when a signing proxy fronts the upstream (see
// safety.go).
type rawFrame struct {
	Type      model.EventType `json:"type"`
	Timestamp string          `json:"timestamp"`
	PrimaryID string          `json:"primaryId"`
	User      model.User      `json:"user"`
	Data      json.RawMessage `json:"data"`
	Sig       string          `json:"sig"`
	Pubkey    string          `json:"pubkey"`
}

// sseReader turns an SSE byte stream into frame payloads, one per
// blank-line-terminated event; several "data:" lines in one event are
// joined with "\n".
// Grounded on sse.go's writer (event:/data: lines), read in reverse.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: scanner}
}

// next blocks until the next complete frame, EOF (io.EOF), or a scan error.
func (s *sseReader) next() (string, error) {
	var data strings.Builder
	sawData := false
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if sawData {
				return data.String(), nil
			}
		case strings.HasPrefix(line, "data:"):
			if sawData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			sawData = true
		case strings.HasPrefix(line, ":"):
			// comment/keepalive ping line, ignored
		default:
			// event:, id:, retry: fields — not needed by this feed
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if sawData {
		return data.String(), nil
	}
	return "", io.EOF
}

// parseFrame decodes one data: payload into a TwitterEvent, verifying an
// optional signature and the payload's data variant. Returns a wrapped
// ErrParse on any malformed shape.
func parseFrame(raw string) (*model.TwitterEvent, error) {
	var f rawFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w: %v", ErrParse, err)
	}
	if !EventTypeValid(f.Type) {
		return nil, fmt.Errorf("%w: unrecognised event type %q", ErrParse, f.Type)
	}
	if !verifyFrameSignature(f.PrimaryID, f.Timestamp, f.User.UserID, f.Sig, f.Pubkey) {
		return nil, fmt.Errorf("%w: signature verification failed", ErrParse)
	}

	data, err := decodeData(f.Type, f.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return &model.TwitterEvent{
		Type:      f.Type,
		Timestamp: f.Timestamp,
		PrimaryID: f.PrimaryID,
		User:      f.User,
		Data:      data,
	}, nil
}

func decodeData(t model.EventType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch t {
	case model.EventPostCreated, model.EventPostUpdated:
		var d model.PostData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case model.EventProfileUpdated, model.EventProfilePinned, model.EventUserUpdated:
		var d model.ProfileData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case model.EventFollowCreated, model.EventFollowUpdated:
		var d model.FollowingData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("no data decoder for type %q", t)
	}
}
