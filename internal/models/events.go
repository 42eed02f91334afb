package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the discriminant of the message envelope
type EventKind string

const (
	EventStatsUpdate    EventKind = "stats_update"
	EventNewScreenshot  EventKind = "new_screenshot"
	EventActivityUpdate EventKind = "activity_update"
)

// Event is a closed set of viewer notifications. Only the types declared in
// this file implement it; consumers switch over them with an explicit
// default branch for kinds they do not know.
type Event interface {
	Kind() EventKind
	sealed()
}

// Activity is the payload of activity notices shown in a viewer's feed
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "screenshot_processed", "screenshot_added"
	Message   string    `json:"message"`
	Details   string    `json:"details"` // file base name
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "success", "error"
	RecordID  int64     `json:"record_id,omitempty"`
}

// StatsUpdate carries a full replacement snapshot
type StatsUpdate struct {
	Snapshot StatsSnapshot
}

// NewScreenshot announces a newly detected screenshot file
type NewScreenshot struct {
	Activity Activity
}

// ActivityUpdate is a generic activity notice
type ActivityUpdate struct {
	Activity Activity
}

func (StatsUpdate) Kind() EventKind    { return EventStatsUpdate }
func (NewScreenshot) Kind() EventKind  { return EventNewScreenshot }
func (ActivityUpdate) Kind() EventKind { return EventActivityUpdate }

func (StatsUpdate) sealed()    {}
func (NewScreenshot) sealed()  {}
func (ActivityUpdate) sealed() {}

// Envelope is the wire format of every message: {"type": ..., "payload": {...}}
type Envelope struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent serializes an event into its envelope bytes. The result is
// shared by every recipient of a broadcast and must not be modified.
func EncodeEvent(e Event) ([]byte, error) {
	var payload interface{}
	switch ev := e.(type) {
	case StatsUpdate:
		payload = ev.Snapshot
	case NewScreenshot:
		payload = ev.Activity
	case ActivityUpdate:
		payload = ev.Activity
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(Envelope{Type: e.Kind(), Payload: raw})
}

// DecodeEvent parses envelope bytes. Unknown kinds return an error wrapping
// ErrUnknownEvent together with the envelope so callers can log the type.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case EventStatsUpdate:
		var snap StatsSnapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		return StatsUpdate{Snapshot: snap}, nil
	case EventNewScreenshot, EventActivityUpdate:
		var act Activity
		if err := json.Unmarshal(env.Payload, &act); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		if env.Type == EventNewScreenshot {
			return NewScreenshot{Activity: act}, nil
		}
		return ActivityUpdate{Activity: act}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}
