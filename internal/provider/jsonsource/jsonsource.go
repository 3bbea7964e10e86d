package jsonsource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/sourceclient"
)

// Spec defines a JSON quote source.
type Spec struct {
	provider.Endpoint

	// Paths are gjson paths to the price, tried in order.
	Paths []string
	// BlockedPaths mark a 200 body that is really a throttle or key refusal
	// (e.g. Alpha Vantage's "Note" / "Information").
	BlockedPaths []string
	// ErrorPaths mark a 200 body carrying an API error message.
	ErrorPaths []string
}

// Adapter fetches prices from a JSON API described by a Spec.
type Adapter struct {
	spec   Spec
	client *sourceclient.Client
	check  provider.Checker
	now    func() time.Time
}

func New(spec Spec, client *sourceclient.Client, check provider.Checker) *Adapter {
	if spec.Kind == "" {
		spec.Kind = provider.KindOfficial
	}
	return &Adapter{spec: spec, client: client, check: check, now: time.Now}
}

func (a *Adapter) ID() provider.SourceID { return a.spec.ID }

func (a *Adapter) Supports(canonical string) bool { return a.spec.Supports(canonical) }

func (a *Adapter) Fetch(ctx context.Context, canonical string) (provider.Quote, error) {
	u, ok := a.spec.URL(canonical)
	if !ok {
		return provider.Quote{}, fmt.Errorf("%s: %w", a.spec.ID, provider.ErrUnsupported)
	}
	body, err := a.client.Get(ctx, sourceclient.Request{URL: u, Handshake: a.spec.Handshake, Header: a.spec.Header})
	if err != nil {
		return provider.Quote{}, fmt.Errorf("%s: %w", a.spec.ID, err)
	}
	price, err := Extract(body, canonical, a.spec, a.check)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("%s %s: %w", a.spec.ID, canonical, err)
	}
	return provider.Quote{
		Symbol:     canonical,
		Price:      price,
		Source:     a.spec.ID,
		ObservedAt: a.now().UTC(),
	}, nil
}

// Extract applies spec's paths to body and returns the first price that
// parses and passes check.
func Extract(body []byte, canonical string, spec Spec, check provider.Checker) (decimal.Decimal, error) {
	if !gjson.ValidBytes(body) {
		return decimal.Zero, fmt.Errorf("malformed json body")
	}
	for _, p := range spec.BlockedPaths {
		if r := gjson.GetBytes(body, p); r.Exists() {
			return decimal.Zero, fmt.Errorf("%w: %s", provider.ErrBlocked, truncate(r.String()))
		}
	}
	for _, p := range spec.ErrorPaths {
		if r := gjson.GetBytes(body, p); r.Exists() {
			return decimal.Zero, fmt.Errorf("api error: %s", truncate(r.String()))
		}
	}

	rejected := false
	for _, p := range spec.Paths {
		v, ok := Number(gjson.GetBytes(body, p))
		if !ok {
			continue
		}
		if check != nil && !check.Validate(v, canonical) {
			rejected = true
			continue
		}
		return v, nil
	}
	if rejected {
		return decimal.Zero, provider.ErrInvalidPrice
	}
	return decimal.Zero, provider.ErrNoMatch
}

// Number reads a gjson result holding either a JSON number or a numeric
// string such as "1,650.25".
func Number(r gjson.Result) (decimal.Decimal, bool) {
	switch r.Type {
	case gjson.Number:
		v, err := decimal.NewFromString(r.Raw)
		if err != nil {
			return decimal.NewFromFloat(r.Num), true
		}
		return v, true
	case gjson.String:
		return provider.ParseNumber(r.Str)
	default:
		return decimal.Zero, false
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
