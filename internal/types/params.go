package types

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// JobType names a capability a vehicle advertises and a mission requires.
type JobType string

// Params carries mission parameters and setup data as decoded from JSON or
// msgpack.
type Params map[string]interface{}

// Has reports whether key is present with a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Float reads a numeric parameter. NaN and infinities are rejected.
func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, ValidationError("missing parameter %q", key)
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ValidationError("parameter %q is not a number", key)
	}
	return f, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Bool reads an optional flag. Missing keys read as false.
func (p Params) Bool(key string) bool {
	switch b := p[key].(type) {
	case bool:
		return b
	case string:
		v, _ := strconv.ParseBool(b)
		return v
	}
	return false
}

// Location reads a coordinate pair stored under latKey and lngKey.
func (p Params) Location(latKey, lngKey string) (Location, error) {
	lat, err := p.Float(latKey)
	if err != nil {
		return Location{}, err
	}
	lng, err := p.Float(lngKey)
	if err != nil {
		return Location{}, err
	}
	loc := Location{Lat: lat, Lng: lng}
	return loc, loc.Validate()
}

// Copy returns a shallow copy.
func (p Params) Copy() Params {
	res := make(Params, len(p))
	for k, v := range p {
		res[k] = v
	}
	return res
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates out of range, NaN included.
func (l Location) Validate() error {
	if !(l.Lat >= -90 && l.Lat <= 90) {
		return ValidationError("latitude %v out of range", l.Lat)
	}
	if !(l.Lng >= -180 && l.Lng <= 180) {
		return ValidationError("longitude %v out of range", l.Lng)
	}
	return nil
}

// Results accumulates mission outcome data, keyed by result name.
type Results map[string][]Location

// Add appends loc to the named result list.
func (r Results) Add(name string, loc Location) {
	r[name] = append(r[name], loc)
}

// Copy returns a deep copy.
func (r Results) Copy() Results {
	res := make(Results, len(r))
	for k, v := range r {
		res[k] = append([]Location(nil), v...)
	}
	return res
}

// Names returns the result names in sorted order.
func (r Results) Names() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
