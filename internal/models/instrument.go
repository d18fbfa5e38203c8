// Package models defines the core domain entities for calspread.
// These models represent raw futures contract observations, day-granular price series,
// and the statistics derived from calendar spreads. All models are plain values that
// serialize to JSON unchanged so any reporting layer can consume them.
//
// Terminology:
//   - Instrument: a futures underlying (e.g. CL, crude oil) with many listed contracts.
//   - Contract: one expiry of an instrument, identified by its Datastream futcode.
//   - Calendar spread: second-month close minus front-month close.
package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownInstrument is returned when a ticker is not in the supported instrument table.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Instrument is a supported futures underlying.
type Instrument string

const (
	// CL is NYMEX light sweet crude oil.
	CL Instrument = "CL"
	// HO is NYMEX heating oil.
	HO Instrument = "HO"
	// YM is the CBOT micro E-mini Dow Jones.
	YM Instrument = "YM"
	// RTY is the CME E-mini Russell 2000.
	RTY Instrument = "RTY"
)

// instrumentSpec maps an instrument to its Thomson Reuters Datastream contract code.
type instrumentSpec struct {
	ContractCode int
	Name         string
}

var instruments = map[Instrument]instrumentSpec{
	CL:  {ContractCode: 1986, Name: "Crude Oil (Light Sweet)"},
	HO:  {ContractCode: 2029, Name: "Heating Oil (New York)"},
	YM:  {ContractCode: 4712, Name: "Micro E-Mini Dow Jones"},
	RTY: {ContractCode: 4396, Name: "CME E-mini Russell 2000"},
}

// ParseInstrument converts a ticker into an Instrument, case-insensitively.
func ParseInstrument(ticker string) (Instrument, error) {
	inst := Instrument(strings.ToUpper(strings.TrimSpace(ticker)))
	if _, ok := instruments[inst]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInstrument, ticker)
	}
	return inst, nil
}

// ContractCode returns the Datastream contract code, or 0 for an unknown instrument.
func (i Instrument) ContractCode() int {
	return instruments[i].ContractCode
}

// Name returns the human-readable instrument name.
func (i Instrument) Name() string {
	return instruments[i].Name
}

// Valid reports whether the instrument is in the supported table.
func (i Instrument) Valid() bool {
	_, ok := instruments[i]
	return ok
}

// SpreadLabel is the label used for this instrument's calendar spread.
func (i Instrument) SpreadLabel() string {
	return string(i) + " Calendar Spread"
}

// Instruments returns all supported instruments sorted by ticker.
func Instruments() []Instrument {
	out := make([]Instrument, 0, len(instruments))
	for inst := range instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
