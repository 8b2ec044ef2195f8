package models

import (
	"encoding/json"
	"errors"
)

var ErrAreasIncomplete = errors.New("areas must have both ids and simple_polygons or neither")

// Polygon is a ring of coordinate pairs as stored by the area picker.
type Polygon [][]float64

// Areas is either unset or a complete selection. The ids and polygons of a
// selection can only be set together.
type Areas struct {
	set            bool
	ids            []string
	names          []string
	simplePolygons []Polygon
}

func NewAreas(ids []string, names []string, simplePolygons []Polygon) Areas {
	if ids == nil {
		ids = []string{}
	}
	if simplePolygons == nil {
		simplePolygons = []Polygon{}
	}
	return Areas{set: true, ids: ids, names: names, simplePolygons: simplePolygons}
}

func (a Areas) IsSet() bool               { return a.set }
func (a Areas) IDs() []string             { return a.ids }
func (a Areas) Names() []string           { return a.names }
func (a Areas) SimplePolygons() []Polygon { return a.simplePolygons }

// HasPolygons reports whether there is anything to broadcast to.
func (a Areas) HasPolygons() bool {
	return a.set && len(a.simplePolygons) > 0
}

// Clone returns a deep copy so event snapshots never share slices with the message.
func (a Areas) Clone() Areas {
	if !a.set {
		return Areas{}
	}
	out := Areas{set: true, ids: append([]string{}, a.ids...)}
	if a.names != nil {
		out.names = append([]string{}, a.names...)
	}
	out.simplePolygons = make([]Polygon, 0, len(a.simplePolygons))
	for _, p := range a.simplePolygons {
		cp := make(Polygon, 0, len(p))
		for _, pt := range p {
			cp = append(cp, append([]float64{}, pt...))
		}
		out.simplePolygons = append(out.simplePolygons, cp)
	}
	return out
}

type areasJSON struct {
	IDs            *[]string  `json:"ids,omitempty"`
	Names          []string   `json:"names,omitempty"`
	SimplePolygons *[]Polygon `json:"simple_polygons,omitempty"`
}

func (a Areas) MarshalJSON() ([]byte, error) {
	if !a.set {
		return []byte("{}"), nil
	}
	return json.Marshal(areasJSON{IDs: &a.ids, Names: a.names, SimplePolygons: &a.simplePolygons})
}

func (a *Areas) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Areas{}
		return nil
	}
	var raw areasJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.IDs == nil && raw.SimplePolygons == nil:
		*a = Areas{}
	case raw.IDs == nil || raw.SimplePolygons == nil:
		return ErrAreasIncomplete
	default:
		*a = NewAreas(*raw.IDs, raw.Names, *raw.SimplePolygons)
	}
	return nil
}
