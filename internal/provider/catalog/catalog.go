// Package catalog defines the built-in price sources in cascade order and
// turns configuration into ready adapters.
package catalog

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/htmlsource"
	"stockadvisor/internal/provider/jsonsource"
	"stockadvisor/internal/provider/ratelimit"
	"stockadvisor/internal/provider/sourceclient"
	"stockadvisor/internal/symbol"
)

const (
	NSE           provider.SourceID = "nse"
	YahooNSE      provider.SourceID = "yahoo_nse"
	YahooBSE      provider.SourceID = "yahoo_bse"
	AlphaVantage  provider.SourceID = "alpha_vantage"
	TwelveData    provider.SourceID = "twelve_data"
	Finnhub       provider.SourceID = "finnhub"
	GoogleFinance provider.SourceID = "google_finance"
	Screener      provider.SourceID = "screener"
)

// Settings is the operator-tunable part of a source.
type Settings struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	APIKey       string        `mapstructure:"api_key" json:"-"`
	MaxPerMinute int           `mapstructure:"max_per_minute" json:"max_per_minute" validate:"gte=0"`
	MaxPerDay    int           `mapstructure:"max_per_day" json:"max_per_day" validate:"gte=0"`
	MinInterval  time.Duration `mapstructure:"min_interval" json:"min_interval" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout" validate:"gte=0"`
	// BaseURL replaces the scheme and host of the built-in URL template.
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty"`
	// Paths and Selectors replace the built-in extraction candidates of JSON
	// and HTML sources. Selectors use "css@attr" notation.
	Paths     []string `mapstructure:"paths" json:"paths,omitempty"`
	Selectors []string `mapstructure:"selectors" json:"selectors,omitempty"`
}

// Definition is one built-in source. Exactly one of JSON or HTML is set.
type Definition struct {
	ID       provider.SourceID
	Keyed    bool
	Defaults Settings
	JSON     *jsonsource.Spec
	HTML     *htmlsource.Spec
}

func (d Definition) endpoint() provider.Endpoint {
	if d.JSON != nil {
		return d.JSON.Endpoint
	}
	return d.HTML.Endpoint
}

var jsonAccept = http.Header{"Accept": []string{"application/json"}}

func listings(nse, bse provider.Listing) map[symbol.Exchange]provider.Listing {
	return map[symbol.Exchange]provider.Listing{symbol.NSE: nse, symbol.BSE: bse}
}

// Definitions returns the built-in sources in priority order: official
// exchange APIs, then commercial keyed APIs, then scraping.
func Definitions() []Definition {
	on := func(perMin, perDay int, spacing, timeout time.Duration) Settings {
		return Settings{Enabled: true, MaxPerMinute: perMin, MaxPerDay: perDay, MinInterval: spacing, Timeout: timeout}
	}
	return []Definition{
		{
			ID:       NSE,
			Defaults: on(30, 0, 1*time.Second, 10*time.Second),
			JSON: &jsonsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          NSE,
					Kind:        provider.KindOfficial,
					URLTemplate: "https://www.nseindia.com/api/quote-equity?symbol={symbol}",
					Handshake:   "https://www.nseindia.com/",
					Listings:    map[symbol.Exchange]provider.Listing{symbol.NSE: {}},
					Header: http.Header{
						"Accept":  []string{"application/json"},
						"Referer": []string{"https://www.nseindia.com/get-quotes/equity"},
					},
				},
				Paths: []string{"priceInfo.lastPrice"},
			},
		},
		{
			ID:       YahooNSE,
			Defaults: on(60, 0, 500*time.Millisecond, 10*time.Second),
			JSON: &jsonsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          YahooNSE,
					Kind:        provider.KindCommercial,
					URLTemplate: "https://query1.finance.yahoo.com/v8/finance/chart/{symbol}?interval=1d&range=1d",
					Listings:    map[symbol.Exchange]provider.Listing{symbol.NSE: {Suffix: ".NS"}},
					Header:      jsonAccept,
				},
				Paths:      []string{"chart.result.0.meta.regularMarketPrice"},
				ErrorPaths: []string{"chart.error.description"},
			},
		},
		{
			ID:       YahooBSE,
			Defaults: on(60, 0, 500*time.Millisecond, 10*time.Second),
			JSON: &jsonsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          YahooBSE,
					Kind:        provider.KindCommercial,
					URLTemplate: "https://query1.finance.yahoo.com/v8/finance/chart/{symbol}?interval=1d&range=1d",
					// BSE listing of NSE-default symbols as well.
					Listings: listings(provider.Listing{Suffix: ".BO"}, provider.Listing{Suffix: ".BO"}),
					Header:   jsonAccept,
				},
				Paths:      []string{"chart.result.0.meta.regularMarketPrice"},
				ErrorPaths: []string{"chart.error.description"},
			},
		},
		{
			ID:       AlphaVantage,
			Keyed:    true,
			Defaults: on(5, 25, 12*time.Second, 12*time.Second),
			JSON: &jsonsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          AlphaVantage,
					Kind:        provider.KindCommercial,
					URLTemplate: "https://www.alphavantage.co/query?function=GLOBAL_QUOTE&symbol={symbol}&apikey={key}",
					Listings:    listings(provider.Listing{Suffix: ".BSE"}, provider.Listing{Suffix: ".BSE"}),
					Header:      jsonAccept,
				},
				Paths:        []string{`Global Quote.05\. price`},
				BlockedPaths: []string{"Note", "Information"},
				ErrorPaths:   []string{"Error Message"},
			},
		},
		{
			ID:       TwelveData,
			Keyed:    true,
			Defaults: on(8, 800, 7500*time.Millisecond, 12*time.Second),
			JSON: &jsonsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          TwelveData,
					Kind:        provider.KindCommercial,
					URLTemplate: "https://api.twelvedata.com/price?symbol={symbol}&exchange={venue}&apikey={key}",
					Listings:    listings(provider.Listing{Venue: "NSE"}, provider.Listing{Venue: "BSE"}),
					Header:      jsonAccept,
				},
				Paths:      []string{"price"},
				ErrorPaths: []string{"message"},
			},
		},
		{
			ID:       Finnhub,
			Keyed:    true,
			Defaults: on(60, 0, 1*time.Second, 10*time.Second),
			JSON: &jsonsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          Finnhub,
					Kind:        provider.KindCommercial,
					URLTemplate: "https://finnhub.io/api/v1/quote?symbol={symbol}&token={key}",
					Listings:    listings(provider.Listing{Suffix: ".NS"}, provider.Listing{Suffix: ".BO"}),
					Header:      jsonAccept,
				},
				Paths:      []string{"c"},
				ErrorPaths: []string{"error"},
			},
		},
		{
			ID:       GoogleFinance,
			Defaults: on(20, 0, 2*time.Second, 12*time.Second),
			HTML: &htmlsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          GoogleFinance,
					Kind:        provider.KindScrape,
					URLTemplate: "https://www.google.com/finance/quote/{symbol}",
					Listings:    listings(provider.Listing{Suffix: ":NSE"}, provider.Listing{Suffix: ":BOM"}),
				},
				Selectors: []htmlsource.Selector{
					{CSS: "div.YMlKec.fxKbKc"},
					{CSS: "[data-last-price]", Attr: "data-last-price"},
				},
			},
		},
		{
			ID:       Screener,
			Defaults: on(20, 0, 2*time.Second, 12*time.Second),
			HTML: &htmlsource.Spec{
				Endpoint: provider.Endpoint{
					ID:          Screener,
					Kind:        provider.KindScrape,
					URLTemplate: "https://www.screener.in/company/{symbol}/",
					Listings:    listings(provider.Listing{}, provider.Listing{}),
				},
				Selectors: []htmlsource.Selector{
					{CSS: "#top-ratios li:nth-child(2) span.number"},
					{CSS: "#top-ratios .number"},
				},
			},
		},
	}
}

// DefaultSettings returns the built-in settings keyed by source.
func DefaultSettings() map[provider.SourceID]Settings {
	defs := Definitions()
	out := make(map[provider.SourceID]Settings, len(defs))
	for _, d := range defs {
		out[d.ID] = d.Defaults
	}
	return out
}

var placeholderKeys = map[string]struct{}{
	"demo":         {},
	"test":         {},
	"xxx":          {},
	"changeme":     {},
	"change_me":    {},
	"your_api_key": {},
	"your-api-key": {},
	"yourapikey":   {},
	"api_key":      {},
	"none":         {},
	"null":         {},
}

// IsPlaceholderKey reports whether key is empty or a sample value copied from
// a template rather than a real credential.
func IsPlaceholderKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" || strings.Trim(k, "x*") == "" {
		return true
	}
	if strings.HasPrefix(k, "your_") || strings.HasPrefix(k, "<") {
		return true
	}
	_, ok := placeholderKeys[k]
	return ok
}

// Build constructs the enabled sources in priority order. settings entries
// replace the defaults for their source; sources absent from settings use
// their defaults. Keyed sources without a real key are left out.
func Build(settings map[provider.SourceID]Settings, client *sourceclient.Client, check provider.Checker, log *zap.Logger) []provider.Source {
	if log == nil {
		log = zap.NewNop()
	}
	var out []provider.Source
	for _, d := range Definitions() {
		s, ok := settings[d.ID]
		if !ok {
			s = d.Defaults
		}
		if !s.Enabled {
			log.Debug("source disabled", zap.String("source", string(d.ID)))
			continue
		}
		if d.Keyed && IsPlaceholderKey(s.APIKey) {
			log.Info("source skipped: no api key", zap.String("source", string(d.ID)))
			continue
		}

		var a provider.Adapter
		switch {
		case d.JSON != nil:
			spec := *d.JSON
			spec.Endpoint = configure(spec.Endpoint, s)
			if len(s.Paths) > 0 {
				spec.Paths = s.Paths
			}
			a = jsonsource.New(spec, client, check)
		case d.HTML != nil:
			spec := *d.HTML
			spec.Endpoint = configure(spec.Endpoint, s)
			if sels := selectors(s.Selectors); len(sels) > 0 {
				spec.Selectors = sels
			}
			a = htmlsource.New(spec, client, check)
		default:
			continue
		}
		out = append(out, provider.Source{
			Adapter: a,
			Limits: ratelimit.Limits{
				MaxPerMinute: s.MaxPerMinute,
				MaxPerDay:    s.MaxPerDay,
				MinInterval:  s.MinInterval,
			},
			Timeout: s.Timeout,
		})
	}
	return out
}

func selectors(raw []string) []htmlsource.Selector {
	out := make([]htmlsource.Selector, 0, len(raw))
	for _, r := range raw {
		if sel := htmlsource.ParseSelector(r); sel.CSS != "" {
			out = append(out, sel)
		}
	}
	return out
}

func configure(e provider.Endpoint, s Settings) provider.Endpoint {
	e.APIKey = s.APIKey
	if s.BaseURL != "" {
		e.URLTemplate = rebase(e.URLTemplate, s.BaseURL)
		if e.Handshake != "" {
			e.Handshake = rebase(e.Handshake, s.BaseURL)
		}
	}
	return e
}

// rebase swaps the scheme://host prefix of tmpl for base.
func rebase(tmpl, base string) string {
	rest := tmpl
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[i:]
	} else {
		rest = ""
	}
	return strings.TrimRight(base, "/") + rest
}
