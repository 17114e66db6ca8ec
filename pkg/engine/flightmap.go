package engine

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FlightMap is a string-keyed map of JSON-encoded values. It is used for both
// the input parameters and the working map of a flight, so every value must
// survive a JSON round trip.
type FlightMap map[string]json.RawMessage

// NewFlightMap creates an empty flight map.
func NewFlightMap() FlightMap {
	return make(FlightMap)
}

// Put encodes v and stores it under key, replacing any existing value.
func (m FlightMap) Put(key string, v any) error {
	if key == "" {
		return fmt.Errorf("flight map key cannot be empty")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode flight map value %q: %w", key, err)
	}
	m[key] = data
	return nil
}

// Get decodes the value stored under key into out. It reports false if the
// key is absent.
func (m FlightMap) Get(key string, out any) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode flight map value %q: %w", key, err)
	}
	return true, nil
}

// GetString returns the string stored under key, or "" if the key is absent
// or does not hold a string.
func (m FlightMap) GetString(key string) string {
	var s string
	if ok, err := m.Get(key, &s); !ok || err != nil {
		return ""
	}
	return s
}

// Has reports whether key is present.
func (m FlightMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Delete removes key.
func (m FlightMap) Delete(key string) {
	delete(m, key)
}

// Keys returns the keys in sorted order.
func (m FlightMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the map.
func (m FlightMap) Clone() FlightMap {
	out := make(FlightMap, len(m))
	for k, v := range m {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
