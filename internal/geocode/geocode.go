// Package geocode resolves free-text addresses and parcel ids to a
// brief.ResolvedLocation.
package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/blockbrief/blockbrief/internal/brief"
)

// Geocoding errors.
var (
	ErrMissingInput = errors.New("either address or bbl is required")
	ErrNotFound     = errors.New("location could not be resolved")
)

// Request names what to resolve. BBL takes precedence over Address.
type Request struct {
	Address string
	BBL     string
}

// Text is the search text sent to the provider.
func (r Request) Text() string {
	if bbl := strings.TrimSpace(r.BBL); bbl != "" {
		return bbl
	}
	return strings.TrimSpace(r.Address)
}

// Resolver turns a request into a resolved location.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (brief.ResolvedLocation, error)
}

// NormalizeBorough title-cases a borough name: "STATEN ISLAND" becomes
// "Staten Island".
func NormalizeBorough(value string) string {
	parts := strings.Fields(value)
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}
