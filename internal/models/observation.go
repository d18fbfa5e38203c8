package models

import (
	"errors"
	"math"
	"time"
)

// Observation is one raw daily row for a single futures contract.
type Observation struct {
	ContractID string    `json:"contract_id"`         // Datastream futcode
	Mnemonic   string    `json:"mnemonic,omitempty"`  // Datastream mnemonic, informational
	Date       time.Time `json:"date"`                // trading day, time component ignored
	Close      float64   `json:"close"`               // settlement price
	Expiration time.Time `json:"expiration,omitzero"` // last trading date; zero when unknown
}

// Validate checks that all observation fields are valid.
func (o *Observation) Validate() error {
	if o.ContractID == "" {
		return errors.New("contract ID must not be empty")
	}
	if o.Date.IsZero() {
		return errors.New("observation date must be set")
	}
	if math.IsNaN(o.Close) || math.IsInf(o.Close, 0) {
		return errors.New("close price must be finite")
	}
	return nil
}

// Day truncates t to its calendar day at UTC midnight.
// The calendar date is taken from t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
