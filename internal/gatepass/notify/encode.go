package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// Format is the wire encoding of an event published off-process.
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

// ParseFormat accepts "json" and "protobuf" (or "proto").  Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "protobuf", "proto":
		return FormatProtobuf, nil
	}
	return "", fmt.Errorf("unknown event encoding %q", s)
}

// ContentType is the MIME type recorded alongside encoded events.
func (f Format) ContentType() string {
	if f == FormatProtobuf {
		return "application/x-protobuf"
	}
	return "application/json"
}

// Encode serialises ev.  The protobuf form is a google.protobuf.Struct
// with the same keys as the JSON form.
func Encode(ev types.Event, f Format) ([]byte, error) {
	switch f {
	case FormatJSON, "":
		return json.Marshal(ev)
	case FormatProtobuf:
		st, err := structpb.NewStruct(eventFields(ev))
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", ev.Kind, err)
		}
		return proto.Marshal(st)
	}
	return nil, fmt.Errorf("unknown event encoding %q", f)
}

// Decode is the inverse of Encode.  Payload numbers come back as float64.
func Decode(data []byte, f Format) (types.Event, error) {
	var ev types.Event
	switch f {
	case FormatJSON, "":
		if err := json.Unmarshal(data, &ev); err != nil {
			return types.Event{}, err
		}
		return ev, nil
	case FormatProtobuf:
		var st structpb.Struct
		if err := proto.Unmarshal(data, &st); err != nil {
			return types.Event{}, err
		}
		m := st.AsMap()
		ev.RecipientID, _ = m["recipient_id"].(string)
		ev.PassID, _ = m["pass_id"].(string)
		if s, ok := m["kind"].(string); ok {
			ev.Kind = types.EventKind(s)
		}
		if s, ok := m["priority"].(string); ok {
			ev.Priority = types.Priority(s)
		}
		if s, ok := m["occurred_at"].(string); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return types.Event{}, fmt.Errorf("decode occurred_at: %w", err)
			}
			ev.OccurredAt = t
		}
		if p, ok := m["payload"].(map[string]any); ok && len(p) > 0 {
			ev.Payload = p
		}
		return ev, nil
	}
	return types.Event{}, fmt.Errorf("unknown event encoding %q", f)
}

func eventFields(ev types.Event) map[string]any {
	payload := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		payload[k] = v
	}
	return map[string]any{
		"recipient_id": ev.RecipientID,
		"kind":         string(ev.Kind),
		"pass_id":      ev.PassID,
		"priority":     string(ev.Priority),
		"occurred_at":  ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		"payload":      payload,
	}
}
