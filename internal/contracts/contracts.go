// Package contracts picks the front- and second-month contracts of an instrument.
package contracts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/calspread/internal/models"
)

// Policy decides which of the two selected contracts is the front month.
type Policy string

const (
	// PolicyExpiration orders the two densest contracts by last trading date.
	// Density order breaks ties and is used when an expiration is unknown.
	PolicyExpiration Policy = "expiration"
	// PolicyDensity takes the densest contract as front and the next as second.
	PolicyDensity Policy = "density"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyExpiration, PolicyDensity:
		return p, nil
	default:
		return "", fmt.Errorf("unknown role policy %q: must be one of expiration, density", s)
	}
}

// Roles names the contracts that make up a calendar spread.
// An empty ID means no contract was available for that role.
type Roles struct {
	Front   string
	Second  string
	Swapped bool // density order was reversed by expiration
}

// SelectTop returns up to n contract IDs ranked by observation count, descending.
// Equal counts keep the order in which contracts first appear in obs.
func SelectTop(obs []models.Observation, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("contract count must be at least 1, got %d", n)
	}

	counts := make(map[string]int)
	var order []string
	for _, o := range obs {
		if _, seen := counts[o.ContractID]; !seen {
			order = append(order, o.ContractID)
		}
		counts[o.ContractID]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if n > len(order) {
		n = len(order)
	}
	return order[:n], nil
}

// ResolveRoles selects the two densest contracts and assigns front and second month.
func ResolveRoles(obs []models.Observation, policy Policy) (Roles, error) {
	top, err := SelectTop(obs, 2)
	if err != nil {
		return Roles{}, err
	}

	var r Roles
	if len(top) > 0 {
		r.Front = top[0]
	}
	if len(top) > 1 {
		r.Second = top[1]
	}

	if policy == PolicyExpiration && r.Front != "" && r.Second != "" {
		exp := Expirations(obs)
		ef, es := exp[r.Front], exp[r.Second]
		if !ef.IsZero() && !es.IsZero() && es.Before(ef) {
			r.Front, r.Second = r.Second, r.Front
			r.Swapped = true
		}
	}
	return r, nil
}

// ForContract returns the observations belonging to one contract, in input order.
func ForContract(obs []models.Observation, contractID string) []models.Observation {
	if contractID == "" {
		return nil
	}
	var out []models.Observation
	for _, o := range obs {
		if o.ContractID == contractID {
			out = append(out, o)
		}
	}
	return out
}

// Expirations returns the first known expiration per contract.
func Expirations(obs []models.Observation) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, o := range obs {
		if o.Expiration.IsZero() {
			continue
		}
		if _, ok := out[o.ContractID]; !ok {
			out[o.ContractID] = models.Day(o.Expiration)
		}
	}
	return out
}
