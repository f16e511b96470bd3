// Package events provides upstream event sources and the event-selection
// predicate consumed by the data-space builder.
package events

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/spatial/r3"

	"comptonsky/internal/models"
)

// ErrBadRecord is returned for event records that cannot be decoded.
var ErrBadRecord = errors.New("events: malformed record")

// Source yields reconstructed events in time order. Next returns io.EOF
// once the source is exhausted.
type Source interface {
	Next() (models.Event, error)
}

// SliceSource serves events from memory.
type SliceSource struct {
	events []models.Event
	pos    int
}

// NewSliceSource returns a source over the given events.
func NewSliceSource(evs ...models.Event) *SliceSource {
	return &SliceSource{events: evs}
}

func (s *SliceSource) Next() (models.Event, error) {
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

type record struct {
	Kind     string      `cbor:"kind"`
	ID       uint64      `cbor:"id"`
	Time     float64     `cbor:"time"`
	Energy   float64     `cbor:"energy,omitempty"`
	Phi      float64     `cbor:"phi,omitempty"`
	Vec      [3]float64  `cbor:"vec"`
	Pointing *[4]float64 `cbor:"pointing,omitempty"`
}

// Reader decodes a stream of CBOR event records.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

func (r *Reader) Next() (models.Event, error) {
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode event: %v: %w", err, ErrBadRecord)
	}

	h := models.Header{ID: rec.ID, Timestamp: rec.Time}
	if rec.Pointing != nil {
		p := rec.Pointing
		h.Pointing = &models.Orientation{XLat: p[0], XLon: p[1], ZLat: p[2], ZLon: p[3]}
	}
	vec := r3.Vec{X: rec.Vec[0], Y: rec.Vec[1], Z: rec.Vec[2]}

	switch rec.Kind {
	case models.KindCompton.String():
		return models.Compton{Header: h, Energy: rec.Energy, Phi: rec.Phi, Direction: vec}, nil
	case models.KindPair.String():
		return models.Pair{Header: h, Energy: rec.Energy, Direction: vec}, nil
	case models.KindPhoto.String():
		return models.Photo{Header: h, Energy: rec.Energy, Position: vec}, nil
	case models.KindUnidentifiable.String():
		return models.Unidentifiable{Header: h}, nil
	default:
		return nil, fmt.Errorf("event %d: unknown kind %q: %w", rec.ID, rec.Kind, ErrBadRecord)
	}
}

// Writer encodes events as a CBOR record stream readable by Reader.
type Writer struct {
	enc *cbor.Encoder
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w)}
}

// Write appends one event to the stream.
func (w *Writer) Write(ev models.Event) error {
	rec := record{Kind: ev.Kind().String(), ID: ev.EventID(), Time: ev.Time()}
	if o, ok := ev.Attitude(); ok {
		rec.Pointing = &[4]float64{o.XLat, o.XLon, o.ZLat, o.ZLon}
	}

	switch e := ev.(type) {
	case models.Compton:
		rec.Energy, rec.Phi = e.Energy, e.Phi
		rec.Vec = [3]float64{e.Direction.X, e.Direction.Y, e.Direction.Z}
	case models.Pair:
		rec.Energy = e.Energy
		rec.Vec = [3]float64{e.Direction.X, e.Direction.Y, e.Direction.Z}
	case models.Photo:
		rec.Energy = e.Energy
		rec.Vec = [3]float64{e.Position.X, e.Position.Y, e.Position.Z}
	case models.Unidentifiable:
	}
	return w.enc.Encode(rec)
}
