package models

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"aicaptcha/internal/validation"
)

// ErrInvalidPayload marks a payload that failed decoding or schema checks.
var ErrInvalidPayload = errors.New("invalid payload")

// MouseMoveInput is the wire form of MouseMove.
type MouseMoveInput struct {
	X    *float64 `json:"x" validate:"required"`
	Y    *float64 `json:"y" validate:"required"`
	Time *float64 `json:"time" validate:"required"`
}

// KeyPressInput is the wire form of KeyPress.
type KeyPressInput struct {
	Key  *string  `json:"key" validate:"required"`
	Time *float64 `json:"time" validate:"required"`
}

// ScrollEventInput is the wire form of ScrollEvent.
type ScrollEventInput struct {
	ScrollTop *float64 `json:"scrollTop" validate:"required"`
	Time      *float64 `json:"time" validate:"required"`
}

// FormInteractionInput is the wire form of FormInteraction.
type FormInteractionInput struct {
	Field *string  `json:"field" validate:"required"`
	Time  *float64 `json:"time" validate:"required"`
}

// TouchEventInput is the wire form of TouchEvent.
type TouchEventInput struct {
	X     *float64 `json:"x" validate:"required"`
	Y     *float64 `json:"y" validate:"required"`
	Time  *float64 `json:"time" validate:"required"`
	Force *float64 `json:"force" validate:"required"`
	Type  *string  `json:"type" validate:"required,oneof=start move end"`
}

// MouseClickInput is the wire form of MouseClick.
type MouseClickInput struct {
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	Time *float64 `json:"time" validate:"required"`
	Type *string  `json:"type" validate:"required,oneof=down up"`
}

// InteractionsInput is the wire form of Interactions. Missing arrays are empty.
type InteractionsInput struct {
	MouseMovements   []MouseMoveInput       `json:"mouseMovements" validate:"dive"`
	KeyPresses       []KeyPressInput        `json:"keyPresses" validate:"dive"`
	ScrollEvents     []ScrollEventInput     `json:"scrollEvents" validate:"dive"`
	FormInteractions []FormInteractionInput `json:"formInteractions" validate:"dive"`
	TouchEvents      []TouchEventInput      `json:"touchEvents" validate:"dive"`
	MouseClicks      []MouseClickInput      `json:"mouseClicks" validate:"dive"`
}

// ViewportInput is the wire form of Viewport.
type ViewportInput struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

// InteractionPayload is the document produced by the client capture script.
type InteractionPayload struct {
	Interactions  json.RawMessage `json:"interactions" validate:"required"`
	Duration      *float64        `json:"duration" validate:"required"`
	Viewport      *ViewportInput  `json:"viewport" validate:"required"`
	LoadTimestamp *float64        `json:"loadTimestamp" validate:"required"`
	DeviceType    string          `json:"deviceType"`
	UserAgent     string          `json:"userAgent"`
	Label         *float64        `json:"label"`

	events InteractionsInput
}

// DecodePayload parses and validates a payload JSON document.
func DecodePayload(data []byte) (*InteractionPayload, error) {
	var p InteractionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, decodeError(data, &p, err)
	}
	if err := validation.Struct(&p); err != nil {
		return nil, invalid("%v", err)
	}

	raw := bytes.TrimSpace(p.Interactions)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, invalid("'interactions' must be an object")
	}
	if err := json.Unmarshal(raw, &p.events); err != nil {
		return nil, decodeError(raw, &p.events, err)
	}
	if err := validation.Struct(&p.events); err != nil {
		return nil, invalid("%v", err)
	}
	p.Interactions = raw

	return &p, nil
}

// DecodeBase64Payload decodes a base64 string and then the payload inside it.
func DecodeBase64Payload(s string) (*InteractionPayload, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, invalid("data is not valid base64: %v", err)
		}
	}
	return DecodePayload(data)
}

// DecodeChallengeData accepts the challenge "data" field either as a payload
// object or as a base64 string of the payload JSON.
func DecodeChallengeData(raw json.RawMessage) (*InteractionPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, invalid("No data provided")
	}

	switch raw[0] {
	case '{':
		return DecodePayload(raw)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalid("Invalid JSON format: %v", err)
		}
		if s == "" {
			return nil, invalid("No data provided")
		}
		return DecodeBase64Payload(s)
	default:
		return nil, invalid("data must be an object or a base64 string")
	}
}

// Session converts the validated payload into its domain form.
func (p *InteractionPayload) Session() InteractionSession {
	s := InteractionSession{
		Duration:      deref(p.Duration),
		LoadTimestamp: deref(p.LoadTimestamp),
		DeviceType:    p.DeviceType,
	}
	if p.Viewport != nil {
		s.Viewport = Viewport{Width: deref(p.Viewport.Width), Height: deref(p.Viewport.Height)}
	}

	ev := p.events
	in := &s.Interactions
	for _, m := range ev.MouseMovements {
		in.MouseMovements = append(in.MouseMovements, MouseMove{X: *m.X, Y: *m.Y, Time: *m.Time})
	}
	for _, k := range ev.KeyPresses {
		in.KeyPresses = append(in.KeyPresses, KeyPress{Key: *k.Key, Time: *k.Time})
	}
	for _, sc := range ev.ScrollEvents {
		in.ScrollEvents = append(in.ScrollEvents, ScrollEvent{ScrollTop: *sc.ScrollTop, Time: *sc.Time})
	}
	for _, f := range ev.FormInteractions {
		in.FormInteractions = append(in.FormInteractions, FormInteraction{Field: *f.Field, Time: *f.Time})
	}
	for _, t := range ev.TouchEvents {
		in.TouchEvents = append(in.TouchEvents, TouchEvent{
			X: *t.X, Y: *t.Y, Time: *t.Time, Force: *t.Force, Phase: TouchPhase(*t.Type),
		})
	}
	for _, c := range ev.MouseClicks {
		in.MouseClicks = append(in.MouseClicks, MouseClick{Time: *c.Time, Phase: ClickPhase(*c.Type)})
	}

	return s
}

// DecodeInteractions re-reads stored raw interaction data.
func DecodeInteractions(raw []byte) (Interactions, error) {
	var p InteractionPayload
	if err := json.Unmarshal(raw, &p.events); err != nil {
		return Interactions{}, decodeError(raw, &p.events, err)
	}
	if err := validation.Struct(&p.events); err != nil {
		return Interactions{}, invalid("%v", err)
	}
	return p.Session().Interactions, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// decodeError names the offending field when a value has the wrong JSON type.
func decodeError(data []byte, v interface{}, err error) error {
	if fe := validation.TypeMismatch(data, v); fe != nil {
		return invalid("%v", fe)
	}
	return invalid("Invalid JSON format: %v", err)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
