package market

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/jsonsource"
	"stockadvisor/internal/provider/sourceclient"
)

// Index names served by the resolver.
const (
	NIFTY     = "NIFTY"
	SENSEX    = "SENSEX"
	BANKNIFTY = "BANKNIFTY"
)

// Names lists the indices in display order.
var Names = []string{NIFTY, SENSEX, BANKNIFTY}

// Source yields quotes for some indices in a single request.
type Source interface {
	ID() provider.SourceID
	Covers(name string) bool
	Fetch(ctx context.Context, names []string) (map[string]IndexQuote, error)
}

var jsonHeader = http.Header{"Accept": []string{"application/json"}}

// NSEIndices reads the NSE allIndices feed.
type NSEIndices struct {
	URL       string
	Handshake string
	Client    *sourceclient.Client
	now       func() time.Time
}

// nseNames maps index names to the feed's "index" field.
var nseNames = map[string]string{
	NIFTY:     "NIFTY 50",
	BANKNIFTY: "NIFTY BANK",
}

func NewNSEIndices(client *sourceclient.Client) *NSEIndices {
	return &NSEIndices{
		URL:       "https://www.nseindia.com/api/allIndices",
		Handshake: "https://www.nseindia.com/",
		Client:    client,
		now:       time.Now,
	}
}

func (s *NSEIndices) ID() provider.SourceID { return "nse_indices" }

func (s *NSEIndices) Covers(name string) bool { _, ok := nseNames[name]; return ok }

func (s *NSEIndices) Fetch(ctx context.Context, names []string) (map[string]IndexQuote, error) {
	body, err := s.Client.Get(ctx, sourceclient.Request{URL: s.URL, Handshake: s.Handshake, Header: jsonHeader})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.ID(), err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: malformed json body", s.ID())
	}
	out := make(map[string]IndexQuote, len(names))
	for _, name := range names {
		feed, ok := nseNames[name]
		if !ok {
			continue
		}
		row := gjson.GetBytes(body, fmt.Sprintf(`data.#(index==%q)`, feed))
		if !row.Exists() {
			continue
		}
		q, ok := quoteFrom(row, "last", "variation", "percentChange")
		if !ok {
			continue
		}
		q.Source = s.ID()
		q.ObservedAt = s.now().UTC()
		out[name] = q
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", s.ID(), provider.ErrNoMatch)
	}
	return out, nil
}

// BSESensex reads the BSE SENSEX summary endpoint.
type BSESensex struct {
	URL    string
	Client *sourceclient.Client
	now    func() time.Time
}

func NewBSESensex(client *sourceclient.Client) *BSESensex {
	return &BSESensex{
		URL:    "https://api.bseindia.com/BseIndiaAPI/api/GetSensexData/w",
		Client: client,
		now:    time.Now,
	}
}

func (s *BSESensex) ID() provider.SourceID { return "bse_sensex" }

func (s *BSESensex) Covers(name string) bool { return name == SENSEX }

func (s *BSESensex) Fetch(ctx context.Context, _ []string) (map[string]IndexQuote, error) {
	body, err := s.Client.Get(ctx, sourceclient.Request{
		URL: s.URL,
		Header: http.Header{
			"Accept":  []string{"application/json"},
			"Referer": []string{"https://www.bseindia.com/"},
			"Origin":  []string{"https://www.bseindia.com"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.ID(), err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: malformed json body", s.ID())
	}
	row := gjson.ParseBytes(body)
	if row.IsArray() {
		row = row.Get("0")
	}
	q, ok := quoteFrom(row, "ltp", "chg", "perchg")
	if !ok {
		return nil, fmt.Errorf("%s: %w", s.ID(), provider.ErrNoMatch)
	}
	q.Source = s.ID()
	q.ObservedAt = s.now().UTC()
	return map[string]IndexQuote{SENSEX: q}, nil
}

// YahooIndex reads one chart per index and derives change from the previous
// close.
type YahooIndex struct {
	URLTemplate string
	Client      *sourceclient.Client
	now         func() time.Time
}

var yahooTickers = map[string]string{
	NIFTY:     "^NSEI",
	SENSEX:    "^BSESN",
	BANKNIFTY: "^NSEBANK",
}

func NewYahooIndex(client *sourceclient.Client) *YahooIndex {
	return &YahooIndex{
		URLTemplate: "https://query1.finance.yahoo.com/v8/finance/chart/{symbol}?interval=1d&range=1d",
		Client:      client,
		now:         time.Now,
	}
}

func (s *YahooIndex) ID() provider.SourceID { return "yahoo_index" }

func (s *YahooIndex) Covers(name string) bool { _, ok := yahooTickers[name]; return ok }

func (s *YahooIndex) Fetch(ctx context.Context, names []string) (map[string]IndexQuote, error) {
	out := make(map[string]IndexQuote, len(names))
	var lastErr error
	for _, name := range names {
		ticker, ok := yahooTickers[name]
		if !ok {
			continue
		}
		u := strings.ReplaceAll(s.URLTemplate, "{symbol}", urlEscape(ticker))
		body, err := s.Client.Get(ctx, sourceclient.Request{URL: u, Header: jsonHeader})
		if err != nil {
			lastErr = err
			continue
		}
		meta := gjson.GetBytes(body, "chart.result.0.meta")
		price, ok := jsonsource.Number(meta.Get("regularMarketPrice"))
		if !ok || !price.IsPositive() {
			continue
		}
		q := IndexQuote{Price: price, Source: s.ID(), ObservedAt: s.now().UTC()}
		prev, ok := jsonsource.Number(meta.Get("chartPreviousClose"))
		if !ok {
			prev, ok = jsonsource.Number(meta.Get("previousClose"))
		}
		if ok && prev.IsPositive() {
			q.Change = price.Sub(prev).Round(2)
			q.ChangePercent = price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
		}
		out[name] = q
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%s: %w", s.ID(), lastErr)
		}
		return nil, fmt.Errorf("%s: %w", s.ID(), provider.ErrNoMatch)
	}
	return out, nil
}

func urlEscape(s string) string {
	return strings.ReplaceAll(s, "^", "%5E")
}

// quoteFrom reads price, change and percent fields from row. Only the price
// is required.
func quoteFrom(row gjson.Result, priceKey, changeKey, pctKey string) (IndexQuote, bool) {
	price, ok := jsonsource.Number(row.Get(priceKey))
	if !ok || !price.IsPositive() {
		return IndexQuote{}, false
	}
	q := IndexQuote{Price: price}
	if v, ok := jsonsource.Number(row.Get(changeKey)); ok {
		q.Change = v
	}
	if v, ok := jsonsource.Number(row.Get(pctKey)); ok {
		q.ChangePercent = v
	}
	return q, true
}
