package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockadvisor/internal/provider/ratelimit"
)

// SourceID names a data source. It keys rate-limit state, config and logs.
type SourceID string

// Kind groups sources by how they are reached.
type Kind string

const (
	KindOfficial   Kind = "official"
	KindCommercial Kind = "commercial"
	KindScrape     Kind = "scrape"
)

// Quote is the normalized shape returned by all adapters.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Source     SourceID        `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Adapter fetches the last traded price of one canonical symbol from one source.
//
// Fetch returns an error for every failure: transport, status, parse and
// validation. Callers must treat any error as "no result".
//
//go:generate mockgen -package=providertest -destination=providertest/mock_adapter.go -source=provider.go Adapter,Checker
type Adapter interface {
	ID() SourceID
	Supports(canonical string) bool
	Fetch(ctx context.Context, canonical string) (Quote, error)
}

// Source is an adapter together with its admission policy and per-request
// timeout, as seen by the cascade.
type Source struct {
	Adapter Adapter
	Limits  ratelimit.Limits
	Timeout time.Duration
}

// Checker validates a candidate price for a canonical symbol.
type Checker interface {
	Validate(price decimal.Decimal, canonical string) bool
}

var (
	ErrBlocked      = errors.New("blocked or unauthorized")
	ErrNotFound     = errors.New("symbol not found")
	ErrNoMatch      = errors.New("no candidate matched")
	ErrInvalidPrice = errors.New("price failed validation")
	ErrUnsupported  = errors.New("symbol not supported by source")
)

// StatusError carries a non-200 response status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string { return fmt.Sprintf("GET %s -> %d", e.URL, e.Code) }

// FailureKind is how the cascade reacts to and logs a failed fetch.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureBlocked   FailureKind = "blocked"
	FailureInvalid   FailureKind = "invalid"
)

// Classify maps an adapter error to its failure kind.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrBlocked):
		return FailureBlocked
	case errors.Is(err, ErrInvalidPrice):
		return FailureInvalid
	default:
		return FailureTransient
	}
}

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ParseNumber extracts the leading numeric token from free text such as
// "₹1,650.25 +12.40 (0.76%)". Thousands separators are removed first.
func ParseNumber(text string) (decimal.Decimal, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	m := numberRe.FindString(s)
	if m == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}
