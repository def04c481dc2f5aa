package bayeux

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event is a data message received on a subscribed channel. Data is the raw
// JSON value and is not interpreted beyond extracting identity fields.
type Event struct {
	Channel    string
	Data       json.RawMessage
	ReceivedAt time.Time
	ID         string
	ReplayID   int64
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("channel", e.Channel),
		slog.String("id", e.ID),
	}
	if e.ReplayID != 0 {
		attrs = append(attrs, slog.Int64("replay_id", e.ReplayID))
	}
	return slog.GroupValue(attrs...)
}

// eventEnvelope covers the platform event data shape:
// {"schema": "...", "payload": {...}, "event": {"replayId": 1, "EventUuid": "..."}}.
type eventEnvelope struct {
	Event struct {
		ReplayID  json.Number `json:"replayId"`
		EventUUID string      `json:"EventUuid"`
	} `json:"event"`
	Payload struct {
		EventUUID string `json:"EventUuid"`
	} `json:"payload"`
}

func newEvent(msg Message, receivedAt time.Time) Event {
	ev := Event{
		Channel:    msg.Channel,
		Data:       append(json.RawMessage(nil), msg.Data...),
		ReceivedAt: receivedAt,
	}

	var envelope eventEnvelope
	if json.Unmarshal(msg.Data, &envelope) == nil {
		if replay, err := strconv.ParseInt(envelope.Event.ReplayID.String(), 10, 64); err == nil {
			ev.ReplayID = replay
		}
		switch {
		case envelope.Event.EventUUID != "":
			ev.ID = envelope.Event.EventUUID
		case envelope.Payload.EventUUID != "":
			ev.ID = envelope.Payload.EventUUID
		}
	}
	if ev.ID == "" && msg.ID != "" {
		ev.ID = msg.ID
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev
}
