package models

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind tags the physical variant of a reconstructed event.
type Kind int

const (
	KindUnidentifiable Kind = iota
	KindCompton
	KindPair
	KindPhoto
)

func (k Kind) String() string {
	switch k {
	case KindCompton:
		return "compton"
	case KindPair:
		return "pair"
	case KindPhoto:
		return "photo"
	default:
		return "unidentifiable"
	}
}

// Orientation is the instrument attitude at event time: the galactic
// latitude and longitude (degrees) of the detector X and Z reference axes.
type Orientation struct {
	XLat, XLon float64
	ZLat, ZLon float64
}

// Event is one reconstructed gamma-ray interaction. The set of
// implementations is closed: Compton, Pair, Photo and Unidentifiable.
type Event interface {
	EventID() uint64
	Time() float64
	Kind() Kind
	Attitude() (Orientation, bool)
	sealed()
}

// Header carries the fields shared by every event variant.
type Header struct {
	// ID is the event id assigned upstream.
	ID uint64

	// Timestamp is the event time in seconds.
	Timestamp float64

	// Pointing is nil when the event carries no galactic attitude.
	Pointing *Orientation
}

func (h Header) EventID() uint64 { return h.ID }
func (h Header) Time() float64   { return h.Timestamp }
func (h Header) sealed()         {}

// Attitude returns the instrument orientation if the event has one.
func (h Header) Attitude() (Orientation, bool) {
	if h.Pointing == nil {
		return Orientation{}, false
	}
	return *h.Pointing, true
}

// Compton is a Compton-scatter event.
type Compton struct {
	Header

	// Energy is the reconstructed initial gamma energy in keV.
	Energy float64

	// Phi is the Compton scatter angle in degrees.
	Phi float64

	// Direction is the scattered gamma direction in the detector frame.
	Direction r3.Vec
}

func (Compton) Kind() Kind { return KindCompton }

// Pair is a pair-production event.
type Pair struct {
	Header
	Energy    float64
	Direction r3.Vec
}

func (Pair) Kind() Kind { return KindPair }

// Photo is a photo-absorption event.
type Photo struct {
	Header
	Energy   float64
	Position r3.Vec
}

func (Photo) Kind() Kind { return KindPhoto }

// Unidentifiable is an event that could not be classified.
type Unidentifiable struct {
	Header
}

func (Unidentifiable) Kind() Kind { return KindUnidentifiable }
