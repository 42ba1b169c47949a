// Package plate turns noisy OCR text into a registered bin plate.
package plate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyRegistry = errors.New("plate registry is empty")
	ErrBlankEntry    = errors.New("plate registry entry is blank")
	ErrThreshold     = errors.New("match threshold outside [0,1]")
)

// DefaultThreshold is the minimum similarity accepted as a match.
const DefaultThreshold = 0.7

// Match is the outcome of resolving one OCR string.
//
// When Matched is false, Plate is empty and Nearest/Ratio describe the
// best candidate seen, for diagnostics only.
type Match struct {
	Plate   string
	Nearest string
	Ratio   float64
	Matched bool
}

func (m Match) String() string {
	if m.Matched {
		return fmt.Sprintf("%s (%.2f)", m.Plate, m.Ratio)
	}
	return fmt.Sprintf("no match (nearest %s %.2f)", m.Nearest, m.Ratio)
}

// Resolver matches text against a fixed, ordered registry.
type Resolver struct {
	registry  []string
	threshold float64
}

// NewResolver copies registry; later changes to the caller's slice do
// not affect the resolver.
func NewResolver(registry []string, threshold float64) (*Resolver, error) {
	if len(registry) == 0 {
		return nil, ErrEmptyRegistry
	}
	for i, p := range registry {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: index %d", ErrBlankEntry, i)
		}
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrThreshold, threshold)
	}
	return &Resolver{
		registry:  append([]string(nil), registry...),
		threshold: threshold,
	}, nil
}

// Registry returns a copy of the registry in match order.
func (r *Resolver) Registry() []string {
	return append([]string(nil), r.registry...)
}

// Threshold returns the acceptance threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve returns the registry entry most similar to text. Entries are
// scanned in order and only a strictly greater ratio replaces the
// current best, so the first entry reaching the maximum wins.
func (r *Resolver) Resolve(text string) Match {
	best, bestRatio := r.registry[0], Ratio(text, r.registry[0])
	for _, candidate := range r.registry[1:] {
		if ratio := Ratio(text, candidate); ratio > bestRatio {
			best, bestRatio = candidate, ratio
		}
	}

	m := Match{Nearest: best, Ratio: bestRatio}
	if bestRatio >= r.threshold {
		m.Plate = best
		m.Matched = true
	}
	return m
}
