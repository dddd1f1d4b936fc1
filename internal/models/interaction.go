package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ClickPhase is the phase of a mouse button event.
type ClickPhase string

const (
	ClickDown ClickPhase = "down"
	ClickUp   ClickPhase = "up"
)

// TouchPhase is the phase of a touch event.
type TouchPhase string

const (
	TouchStart TouchPhase = "start"
	TouchMove  TouchPhase = "move"
	TouchEnd   TouchPhase = "end"
)

// MouseMove is a single pointer position sample.
type MouseMove struct {
	X    float64
	Y    float64
	Time float64
}

// KeyPress is a single keydown event.
type KeyPress struct {
	Key  string
	Time float64
}

// ScrollEvent records the document scroll offset at a point in time.
type ScrollEvent struct {
	ScrollTop float64
	Time      float64
}

// FormInteraction records a submitted form field.
type FormInteraction struct {
	Field string
	Time  float64
}

// TouchEvent is a single touch sample.
type TouchEvent struct {
	X     float64
	Y     float64
	Time  float64
	Force float64
	Phase TouchPhase
}

// MouseClick is a mouse button transition.
type MouseClick struct {
	Time  float64
	Phase ClickPhase
}

// Interactions holds the ordered event sequences captured on the client.
type Interactions struct {
	MouseMovements   []MouseMove
	KeyPresses       []KeyPress
	ScrollEvents     []ScrollEvent
	FormInteractions []FormInteraction
	TouchEvents      []TouchEvent
	MouseClicks      []MouseClick
}

// Count returns the total number of events across all categories.
func (i Interactions) Count() int {
	return len(i.MouseMovements) + len(i.KeyPresses) + len(i.ScrollEvents) +
		len(i.FormInteractions) + len(i.TouchEvents) + len(i.MouseClicks)
}

// Viewport is the client window size.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// InteractionSession is one validated client submission.
type InteractionSession struct {
	Interactions  Interactions
	Duration      float64 // milliseconds
	Viewport      Viewport
	LoadTimestamp float64
	DeviceType    string // client hint, informational only
}

// UserAgentSummary is the parsed form of a User-Agent header.
type UserAgentSummary struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	Device         string `json:"device"`
}

// InteractionRecord is a persisted interaction plus its (eventual) label.
type InteractionRecord struct {
	InteractionID   string           `json:"interaction_id"`
	SessionID       string           `json:"session_id"`
	Timestamp       time.Time        `json:"timestamp"`
	InteractionData json.RawMessage  `json:"interaction_data"` // as submitted
	Duration        float64          `json:"duration"`
	Label           *float64         `json:"label"`
	UserAgent       UserAgentSummary `json:"user_agent"`
	Viewport        Viewport         `json:"viewport"`
	LoadTimestamp   float64          `json:"load_timestamp"`
}

// LabelCount is one bucket of the label histogram.
type LabelCount struct {
	Label float64 `json:"label" db:"label"`
	Count int     `json:"count" db:"count"`
}
