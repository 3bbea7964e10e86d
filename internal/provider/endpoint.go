package provider

import (
	"net/http"
	"net/url"
	"strings"

	"stockadvisor/internal/symbol"
)

// Listing describes how a source addresses a symbol on one exchange.
type Listing struct {
	Suffix string // appended to the base symbol, e.g. ".NS"
	Venue  string // substituted for {venue}, e.g. "NSE"
}

// Endpoint is the request half of a data-driven source definition.
//
// URLTemplate placeholders: {symbol} (base + listing suffix), {venue}, {key}.
// An exchange missing from Listings is not served by the source.
type Endpoint struct {
	ID          SourceID
	Kind        Kind
	URLTemplate string
	Handshake   string
	Listings    map[symbol.Exchange]Listing
	Header      http.Header
	APIKey      string
}

// Supports reports whether the endpoint can address canonical.
func (e Endpoint) Supports(canonical string) bool {
	_, ex := symbol.Split(canonical)
	_, ok := e.Listings[ex]
	return ok
}

// URL renders the request URL for canonical. ok is false when the symbol's
// exchange is not listed.
func (e Endpoint) URL(canonical string) (string, bool) {
	base, ex := symbol.Split(canonical)
	l, ok := e.Listings[ex]
	if !ok {
		return "", false
	}
	path, query, hasQuery := strings.Cut(e.URLTemplate, "?")
	out := render(path, url.PathEscape, base+l.Suffix, l.Venue, e.APIKey)
	if hasQuery {
		out += "?" + render(query, url.QueryEscape, base+l.Suffix, l.Venue, e.APIKey)
	}
	return out, true
}

// render fills placeholders in one part of a URL template with escape.
func render(part string, escape func(string) string, sym, venue, key string) string {
	return strings.NewReplacer(
		"{symbol}", escape(sym),
		"{venue}", escape(venue),
		"{key}", escape(key),
	).Replace(part)
}
