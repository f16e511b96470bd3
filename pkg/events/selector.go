package events

import (
	"math"

	"comptonsky/internal/models"
)

// Selector decides whether an event qualifies for imaging.
type Selector interface {
	Qualified(ev models.Event) bool
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(ev models.Event) bool

func (f SelectorFunc) Qualified(ev models.Event) bool { return f(ev) }

// AcceptAll qualifies every event.
var AcceptAll = SelectorFunc(func(models.Event) bool { return true })

// WindowSelector qualifies events whose energy lies in [MinEnergy, MaxEnergy]
// and whose id is not excluded. A zero MaxEnergy means no upper bound.
type WindowSelector struct {
	MinEnergy float64
	MaxEnergy float64
	Excluded  map[uint64]struct{}
}

func (s WindowSelector) Qualified(ev models.Event) bool {
	if _, skip := s.Excluded[ev.EventID()]; skip {
		return false
	}

	e, ok := Energy(ev)
	if !ok || math.IsNaN(e) {
		return false
	}
	if e < s.MinEnergy {
		return false
	}
	return s.MaxEnergy == 0 || e <= s.MaxEnergy
}

// Energy returns the measured energy of events that carry one.
func Energy(ev models.Event) (float64, bool) {
	switch e := ev.(type) {
	case models.Compton:
		return e.Energy, true
	case models.Pair:
		return e.Energy, true
	case models.Photo:
		return e.Energy, true
	case models.Unidentifiable:
		return 0, false
	default:
		return 0, false
	}
}
