package protocol

import (
	"maps"
	"time"
)

// EventKind names the room phase an event belongs to.
type EventKind string

const (
	EventSetup        EventKind = "Setup"
	EventKickOff      EventKind = "KickOff"
	EventInDiscussion EventKind = "InDiscussion"
	EventClose        EventKind = "Close"
)

// Well-known event property keys.
const (
	PropMessage       = "Message"
	PropProblem       = "Problem"
	PropAttendeeCount = "AttendeeCount"
	PropActor         = "Actor"
	PropID            = "Id"
)

// RoomEvent is a single entry of a room's live feed.
type RoomEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	Kind       EventKind         `json:"kind"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewRoomEvent stamps a new event with the current time.
func NewRoomEvent(kind EventKind, props map[string]string) RoomEvent {
	return RoomEvent{Timestamp: time.Now().UTC(), Kind: kind, Properties: props}
}

// Clone returns a copy that shares no mutable state with e.
func (e RoomEvent) Clone() RoomEvent {
	e.Properties = maps.Clone(e.Properties)
	return e
}

// Prop returns a property value or "".
func (e RoomEvent) Prop(key string) string {
	return e.Properties[key]
}
