package models

import (
	"strings"
	"time"
)

// EventKind classifies a scored respiratory event.
type EventKind string

const (
	EventClearAirway EventKind = "ClearAirway"
	EventObstructive EventKind = "Obstructive"
	EventMixed       EventKind = "Mixed"
	EventHypopnea    EventKind = "Hypopnea"
	EventFLG         EventKind = "FLG"
)

// IsApnea reports whether the kind is a scored apnea counted by the clustering core.
func (k EventKind) IsApnea() bool {
	switch k {
	case EventClearAirway, EventObstructive, EventMixed:
		return true
	default:
		return false
	}
}

// ApneaEvent is a single scored apnea.
type ApneaEvent struct {
	Timestamp   time.Time
	DurationSec float64
	Kind        EventKind
}

// End returns the instant the event finished.
func (e ApneaEvent) End() time.Time {
	return e.Timestamp.Add(SecondsToDuration(e.DurationSec))
}

// FlgSample is one flow-limitation reading.
type FlgSample struct {
	Timestamp time.Time
	Level     float64
}

// DetailRow is an already-parsed therapy log row. Data holds the duration in seconds for
// apnea rows and the flow-limitation level for FLG rows.
type DetailRow struct {
	Event    string
	DateTime time.Time
	Data     float64
}

// SecondsToDuration converts fractional seconds into a time.Duration.
func SecondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// ParseEventKind maps a row label such as "Clear Airway" or "obstructive" onto a kind.
func ParseEventKind(label string) (EventKind, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(label), ""))
	for _, kind := range []EventKind{EventClearAirway, EventObstructive, EventMixed, EventHypopnea, EventFLG} {
		if normalized == strings.ToLower(string(kind)) {
			return kind, true
		}
	}
	return "", false
}
