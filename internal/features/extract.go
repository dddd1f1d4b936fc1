// Package features turns raw interaction telemetry into the fixed-order
// numeric vector consumed by the classifier.
//
// Every average divides by a sum or count that can be zero; any such
// degenerate denominator yields 0 rather than NaN or Inf.
package features

import (
	"math"

	"aicaptcha/internal/models"
)

// Size is the number of features in a Vector.
const Size = 11

// Names lists the features in vector order. The order is part of the model
// contract and must not change.
var Names = [Size]string{
	"avg_mouse_speed",
	"avg_key_press_interval",
	"avg_scroll_speed",
	"form_completion_time",
	"interaction_count",
	"mouse_linearity",
	"avg_touch_pressure",
	"avg_touch_movement",
	"avg_click_duration",
	"avg_touch_duration",
	"duration",
}

// Vector is the extracted feature set of one session.
type Vector struct {
	AvgMouseSpeed       float64 `json:"avg_mouse_speed"`
	AvgKeyPressInterval float64 `json:"avg_key_press_interval"`
	AvgScrollSpeed      float64 `json:"avg_scroll_speed"`
	FormCompletionTime  float64 `json:"form_completion_time"`
	InteractionCount    float64 `json:"interaction_count"`
	MouseLinearity      float64 `json:"mouse_linearity"`
	AvgTouchPressure    float64 `json:"avg_touch_pressure"`
	AvgTouchMovement    float64 `json:"avg_touch_movement"`
	AvgClickDuration    float64 `json:"avg_click_duration"`
	AvgTouchDuration    float64 `json:"avg_touch_duration"`
	Duration            float64 `json:"duration"`
}

// Slice returns the features in Names order.
func (v Vector) Slice() []float64 {
	return []float64{
		v.AvgMouseSpeed,
		v.AvgKeyPressInterval,
		v.AvgScrollSpeed,
		v.FormCompletionTime,
		v.InteractionCount,
		v.MouseLinearity,
		v.AvgTouchPressure,
		v.AvgTouchMovement,
		v.AvgClickDuration,
		v.AvgTouchDuration,
		v.Duration,
	}
}

// Extract computes the feature vector of a session. It is pure.
func Extract(s models.InteractionSession) Vector {
	in := s.Interactions
	return Vector{
		AvgMouseSpeed:       AvgMouseSpeed(in.MouseMovements),
		AvgKeyPressInterval: AvgKeyPressInterval(in.KeyPresses),
		AvgScrollSpeed:      AvgScrollSpeed(in.ScrollEvents),
		FormCompletionTime:  FormCompletionTime(in.FormInteractions),
		InteractionCount:    float64(in.Count()),
		MouseLinearity:      MouseLinearity(in.MouseMovements),
		AvgTouchPressure:    AvgTouchPressure(in.TouchEvents),
		AvgTouchMovement:    AvgTouchMovement(in.TouchEvents),
		AvgClickDuration:    AvgClickDuration(in.MouseClicks),
		AvgTouchDuration:    AvgTouchDuration(in.TouchEvents),
		Duration:            s.Duration,
	}
}

// AvgMouseSpeed is total path length over total elapsed time.
func AvgMouseSpeed(moves []models.MouseMove) float64 {
	if len(moves) < 2 {
		return 0
	}
	var dist, elapsed float64
	for i := 1; i < len(moves); i++ {
		dist += distance(moves[i-1].X, moves[i-1].Y, moves[i].X, moves[i].Y)
		elapsed += moves[i].Time - moves[i-1].Time
	}
	return ratio(dist, elapsed)
}

// AvgKeyPressInterval is the mean gap between consecutive key presses.
func AvgKeyPressInterval(keys []models.KeyPress) float64 {
	if len(keys) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(keys); i++ {
		total += keys[i].Time - keys[i-1].Time
	}
	return ratio(total, float64(len(keys)-1))
}

// AvgScrollSpeed is total absolute scroll distance over total elapsed time.
func AvgScrollSpeed(scrolls []models.ScrollEvent) float64 {
	if len(scrolls) < 2 {
		return 0
	}
	var dist, elapsed float64
	for i := 1; i < len(scrolls); i++ {
		dist += math.Abs(scrolls[i].ScrollTop - scrolls[i-1].ScrollTop)
		elapsed += scrolls[i].Time - scrolls[i-1].Time
	}
	return ratio(dist, elapsed)
}

// FormCompletionTime is the time between the first and last form interaction.
func FormCompletionTime(forms []models.FormInteraction) float64 {
	if len(forms) < 2 {
		return 0
	}
	return finite(forms[len(forms)-1].Time - forms[0].Time)
}

// MouseLinearity is the straight-line distance between the first and last
// sample over the path length. A closed or zero-length path yields 0.
func MouseLinearity(moves []models.MouseMove) float64 {
	if len(moves) < 2 {
		return 0
	}
	first, last := moves[0], moves[len(moves)-1]
	straight := distance(first.X, first.Y, last.X, last.Y)

	var path float64
	for i := 1; i < len(moves); i++ {
		path += distance(moves[i-1].X, moves[i-1].Y, moves[i].X, moves[i].Y)
	}
	return ratio(straight, path)
}

// AvgTouchPressure is the mean force over all touch samples.
func AvgTouchPressure(touches []models.TouchEvent) float64 {
	if len(touches) == 0 {
		return 0
	}
	var total float64
	for _, t := range touches {
		total += t.Force
	}
	return ratio(total, float64(len(touches)))
}

// AvgTouchMovement is the mean distance between consecutive touch samples.
func AvgTouchMovement(touches []models.TouchEvent) float64 {
	if len(touches) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(touches); i++ {
		total += distance(touches[i-1].X, touches[i-1].Y, touches[i].X, touches[i].Y)
	}
	return ratio(total, float64(len(touches)-1))
}

// AvgClickDuration averages the time of each adjacent down->up pair.
func AvgClickDuration(clicks []models.MouseClick) float64 {
	var total float64
	var pairs int
	for i := 1; i < len(clicks); i++ {
		if clicks[i-1].Phase == models.ClickDown && clicks[i].Phase == models.ClickUp {
			total += clicks[i].Time - clicks[i-1].Time
			pairs++
		}
	}
	return ratio(total, float64(pairs))
}

// AvgTouchDuration averages the time of each adjacent start->end pair.
func AvgTouchDuration(touches []models.TouchEvent) float64 {
	var total float64
	var pairs int
	for i := 1; i < len(touches); i++ {
		if touches[i-1].Phase == models.TouchStart && touches[i].Phase == models.TouchEnd {
			total += touches[i].Time - touches[i-1].Time
			pairs++
		}
	}
	return ratio(total, float64(pairs))
}

func distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// ratio returns num/den, or 0 when den is 0 or the result is not finite.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
