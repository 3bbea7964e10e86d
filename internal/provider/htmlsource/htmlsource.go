// Package htmlsource scrapes prices out of quote pages with CSS selectors.
package htmlsource

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"stockadvisor/internal/provider"
	"stockadvisor/internal/provider/sourceclient"
)

// Selector locates a price candidate. When Attr is set the attribute value is
// read instead of the element text.
type Selector struct {
	CSS  string
	Attr string
}

// ParseSelector reads "css@attr" notation; a missing "@" selects text.
func ParseSelector(s string) Selector {
	css, attr, _ := strings.Cut(s, "@")
	return Selector{CSS: strings.TrimSpace(css), Attr: strings.TrimSpace(attr)}
}

func (s Selector) String() string {
	if s.Attr == "" {
		return s.CSS
	}
	return s.CSS + "@" + s.Attr
}

type Spec struct {
	provider.Endpoint

	// Selectors are tried in order; within a selector every matched node is
	// tried in document order.
	Selectors []Selector
}

type Adapter struct {
	spec   Spec
	client *sourceclient.Client
	check  provider.Checker
	now    func() time.Time
}

func New(spec Spec, client *sourceclient.Client, check provider.Checker) *Adapter {
	if spec.Kind == "" {
		spec.Kind = provider.KindScrape
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
	price, err := Extract(body, canonical, a.spec.Selectors, a.check)
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

// Extract returns the first selector match in body that parses as a number
// and passes check.
func Extract(body []byte, canonical string, selectors []Selector, check provider.Checker) (decimal.Decimal, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing html: %w", err)
	}

	rejected := false
	var found decimal.Decimal
	hit := false
	for _, sel := range selectors {
		doc.Find(sel.CSS).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			text := node.Text()
			if sel.Attr != "" {
				v, ok := node.Attr(sel.Attr)
				if !ok {
					return true
				}
				text = v
			}
			v, ok := provider.ParseNumber(text)
			if !ok {
				return true
			}
			if check != nil && !check.Validate(v, canonical) {
				rejected = true
				return true
			}
			found, hit = v, true
			return false
		})
		if hit {
			return found, nil
		}
	}
	if rejected {
		return decimal.Zero, provider.ErrInvalidPrice
	}
	return decimal.Zero, provider.ErrNoMatch
}
