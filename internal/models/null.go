package models

import (
	"bytes"
	"encoding/json"
	"math"
)

// NullFloat is a float64 that may be undefined. Missing values and undefined
// statistics use Valid=false and are never conflated with zero.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Some returns a defined value. NaN and infinities are treated as undefined.
func Some(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NullFloat{}
	}
	return NullFloat{Float64: v, Valid: true}
}

// None returns an undefined value.
func None() NullFloat {
	return NullFloat{}
}

// Get returns the value and whether it is defined.
func (n NullFloat) Get() (float64, bool) {
	return n.Float64, n.Valid
}

// MarshalJSON encodes an undefined value as null.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

// UnmarshalJSON decodes null into an undefined value.
func (n *NullFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}
