// Package datasource fetches raw daily futures observations from upstream.
//
// SQLSource queries the Datastream futures tables. Guarded and Cached decorate
// any Source with rate limiting, a circuit breaker, retries and a Redis cache.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/calspread/internal/models"
)

var (
	// ErrPermanent marks upstream errors that retrying cannot fix
	// (bad credentials, missing tables, malformed queries).
	ErrPermanent = errors.New("permanent source error")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("source unavailable")
)

// Source returns every observation of every contract of an instrument that
// trades within [start, end], ordered by date.
type Source interface {
	Fetch(ctx context.Context, inst models.Instrument, start, end time.Time) ([]models.Observation, error)
}

// Static is an in-memory Source for tests and offline runs.
// It returns all stored observations of an instrument regardless of range.
type Static struct {
	mu    sync.Mutex
	data  map[models.Instrument][]models.Observation
	errs  map[models.Instrument]error
	calls map[models.Instrument]int
}

// NewStatic creates a Static source over data.
func NewStatic(data map[models.Instrument][]models.Observation) *Static {
	s := &Static{
		data:  make(map[models.Instrument][]models.Observation, len(data)),
		errs:  make(map[models.Instrument]error),
		calls: make(map[models.Instrument]int),
	}
	for inst, obs := range data {
		s.data[inst] = append([]models.Observation(nil), obs...)
	}
	return s
}

// LoadStatic reads a Static source from a JSON object mapping tickers to
// observations, e.g. {"CL": [{"contract_id": "1001", "date": "2025-12-12T00:00:00Z", ...}]}.
func LoadStatic(r io.Reader) (*Static, error) {
	var raw map[string][]models.Observation
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}

	data := make(map[models.Instrument][]models.Observation, len(raw))
	for ticker, obs := range raw {
		inst, err := models.ParseInstrument(ticker)
		if err != nil {
			return nil, err
		}
		for i := range obs {
			if err := obs[i].Validate(); err != nil {
				return nil, fmt.Errorf("%s observation %d: %w", inst, i, err)
			}
		}
		data[inst] = obs
	}
	return NewStatic(data), nil
}

// SetError makes every Fetch for inst fail with err. A nil err clears it.
func (s *Static) SetError(inst models.Instrument, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, inst)
		return
	}
	s.errs[inst] = err
}

// Calls returns how many times inst was fetched.
func (s *Static) Calls(inst models.Instrument) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[inst]
}

// Fetch implements Source.
func (s *Static) Fetch(ctx context.Context, inst models.Instrument, start, end time.Time) ([]models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[inst]++
	if err := s.errs[inst]; err != nil {
		return nil, err
	}

	out := append([]models.Observation(nil), s.data[inst]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
