// Package mapview builds the marker payload for the map widget and owns the
// centering policy: follow the first location fix of a page load, then only
// move when the user asks.
package mapview

import (
	"errors"
	"strconv"

	"github.com/samber/lo"

	"veganagain/internal/geo"
	"veganagain/internal/restaurants/types"
)

// DefaultLevel is the Kakao map zoom level used for a fresh page.
const DefaultLevel = 5

var ErrNoLocation = errors.New("no location fix available")

type Marker struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Category string  `json:"category"`
	Emoji    string  `json:"emoji"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Distance string  `json:"distance,omitempty"`
	URL      string  `json:"url"`
}

// View is everything the client needs to redraw the map. Markers always
// replace the previous set.
type View struct {
	Center     types.Location  `json:"center"`
	Level      int             `json:"level"`
	Markers    []Marker        `json:"markers"`
	Bounds     *geo.Bounds     `json:"bounds,omitempty"`
	FitBounds  bool            `json:"fitBounds"`
	MyLocation *types.Location `json:"myLocation,omitempty"`
}

// State is the per-session centering memory.
type State struct {
	Center    types.Location `json:"center"`
	FirstFix  bool           `json:"firstFix"`
	ResultKey string         `json:"resultKey,omitempty"`
	// Visible is the last viewport the client reported after a pan or zoom.
	Visible geo.Bounds `json:"visible,omitzero"`
}

func New() State {
	return State{Center: types.DefaultLocation}
}

// PageLoad starts a new page. The current center is kept; the next fix may
// recenter again.
func (s State) PageLoad() State {
	s.FirstFix = false
	s.ResultKey = ""
	if !s.Center.Valid() || s.Center == (types.Location{}) {
		s.Center = types.DefaultLocation
	}
	return s
}

// OnLocationFix recenters on the first granted fix of the page load and
// reports whether it did.
func (s State) OnLocationFix(g geo.State) (State, bool) {
	if s.FirstFix || !g.Granted() {
		return s, false
	}
	s.FirstFix = true
	s.Center = g.Center()
	return s, true
}

// MoveToMyLocation is the explicit "my location" control.
func (s State) MoveToMyLocation(g geo.State) (State, error) {
	if !g.Granted() {
		return s, ErrNoLocation
	}
	s.Center = g.Center()
	return s, nil
}

// OnPan records where the user left the map.
func (s State) OnPan(center types.Location, visible geo.Bounds) State {
	if center.Valid() {
		s.Center = center
	}
	s.Visible = visible
	return s
}

// OnResults notes a new result set and reports whether the map should fit
// its bounds. After the first fix the user's viewport wins.
func (s State) OnResults(key string) (State, bool) {
	if key == s.ResultKey {
		return s, false
	}
	s.ResultKey = key
	return s, !s.FirstFix
}

// Build rebuilds every marker for list. Distances are filled when the
// session has a location fix.
func Build(list []types.Restaurant, s State, g geo.State, fit bool) View {
	v := View{
		Center:  s.Center,
		Level:   DefaultLevel,
		Markers: make([]Marker, 0, len(list)),
	}
	if !v.Center.Valid() || v.Center == (types.Location{}) {
		v.Center = types.DefaultLocation
	}
	if g.Granted() {
		loc := g.Center()
		v.MyLocation = &loc
	}
	for _, r := range list {
		m := Marker{
			ID:       r.ID,
			Name:     r.Name,
			Address:  r.Address,
			Category: r.Category.Localized(),
			Emoji:    r.Category.Emoji(),
			Lat:      r.Location.Lat,
			Lng:      r.Location.Lng,
			URL:      "/restaurants/" + strconv.FormatInt(r.ID, 10),
		}
		if v.MyLocation != nil {
			m.Distance = geo.FormatDistance(geo.Distance(*v.MyLocation, r.Location))
		}
		v.Markers = append(v.Markers, m)
	}
	if len(v.Markers) > 0 {
		b := BoundsOf(list)
		v.Bounds = &b
		v.FitBounds = fit
	}
	return v
}

// BoundsOf is the smallest rectangle holding every restaurant.
func BoundsOf(list []types.Restaurant) geo.Bounds {
	if len(list) == 0 {
		return geo.Bounds{}
	}
	lats := lo.Map(list, func(r types.Restaurant, _ int) float64 { return r.Location.Lat })
	lngs := lo.Map(list, func(r types.Restaurant, _ int) float64 { return r.Location.Lng })
	return geo.Bounds{South: lo.Min(lats), West: lo.Min(lngs), North: lo.Max(lats), East: lo.Max(lngs)}
}

// Visible keeps the restaurants inside the last reported viewport.
func Visible(list []types.Restaurant, b geo.Bounds) []types.Restaurant {
	if b.Zero() {
		return list
	}
	return lo.Filter(list, func(r types.Restaurant, _ int) bool { return geo.InBounds(r.Location, b) })
}
