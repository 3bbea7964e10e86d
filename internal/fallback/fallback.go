// Package fallback holds the last-resort price table consulted when every
// live source fails. Entries are approximate by nature and are replaced at
// most once per market day by freshly scraped values.
package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockadvisor/internal/clock"
	"stockadvisor/internal/symbol"
)

// Defaults seeds the table. Values are INR and refreshed by the daily feed.
var Defaults = map[string]string{
	"RELIANCE":    "2935.40",
	"TCS":         "4120.75",
	"HDFCBANK":    "1650.25",
	"INFY":        "1534.80",
	"ICICIBANK":   "1245.60",
	"SBIN":        "812.35",
	"HINDUNILVR":  "2480.10",
	"BHARTIARTL":  "1520.45",
	"ITC":         "465.30",
	"LT":          "3580.90",
	"KOTAKBANK":   "1785.20",
	"AXISBANK":    "1150.65",
	"BAJFINANCE":  "7120.00",
	"ASIANPAINT":  "2890.55",
	"MARUTI":      "12450.00",
	"WIPRO":       "545.20",
	"HCLTECH":     "1710.35",
	"SUNPHARMA":   "1780.40",
	"TITAN":       "3420.15",
	"ULTRACEMCO":  "11250.00",
	"TATAMOTORS":  "925.60",
	"TATASTEEL":   "152.30",
	"POWERGRID":   "325.80",
	"NTPC":        "365.45",
	"ONGC":        "268.90",
	"ADANIENT":    "3010.25",
	"LTIM":        "5820.00",
	"ETERNAL":     "265.40",
	"NESTLEIND":   "2450.70",
	"TECHM":       "1620.85",
	"HDFCBANK.BO": "1650.10",
}

// Table maps canonical symbols to fallback prices. Safe for concurrent use.
type Table struct {
	now clock.Func

	mu          sync.RWMutex
	prices      map[string]decimal.Decimal
	lastUpdated time.Time
	lastDay     string
}

type Option func(*Table)

func WithClock(now clock.Func) Option {
	return func(t *Table) { t.now = clock.OrNow(now) }
}

// WithSeed merges seed over the built-in defaults. Keys are normalized.
func WithSeed(seed map[string]decimal.Decimal) Option {
	return func(t *Table) {
		for k, v := range seed {
			if v.IsPositive() {
				t.prices[symbol.Normalize(k)] = v
			}
		}
	}
}

// New returns a table seeded with Defaults and any WithSeed values.
func New(opts ...Option) *Table {
	t := &Table{now: time.Now, prices: make(map[string]decimal.Decimal, len(Defaults))}
	for k, v := range Defaults {
		t.prices[k] = decimal.RequireFromString(v)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Lookup returns the fallback price of a canonical symbol.
func (t *Table) Lookup(canonical string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[canonical]
	return p, ok
}

// Snapshot returns a copy of the table.
func (t *Table) Snapshot() map[string]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(t.prices))
	for k, v := range t.prices {
		out[k] = v
	}
	return out
}

// Symbols returns the table's symbols sorted.
func (t *Table) Symbols() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.prices))
	for k := range t.prices {
		out = append(out, k)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// LastUpdated is the time of the last applied refresh, zero if none.
func (t *Table) LastUpdated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdated
}

// ErrEmptyRefresh is returned when a refresh carries no usable price.
var ErrEmptyRefresh = errors.New("fallback: refresh has no positive prices")

// Refresh merges scraped prices into the table: present entries are
// replaced, new ones added, the rest kept. It applies at most once per market
// calendar day; later calls that day return false without changes.
func (t *Table) Refresh(scraped map[string]decimal.Decimal) (bool, error) {
	clean := make(map[string]decimal.Decimal, len(scraped))
	for k, v := range scraped {
		if !v.IsPositive() {
			continue
		}
		if s := symbol.Normalize(k); s != "" {
			clean[s] = v
		}
	}
	if len(clean) == 0 {
		return false, ErrEmptyRefresh
	}

	now := t.now()
	day := clock.Day(now)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastDay == day {
		return false, nil
	}
	for k, v := range clean {
		t.prices[k] = v
	}
	t.lastDay = day
	t.lastUpdated = now
	return true, nil
}

// LoadFile reads a {"SYMBOL": price} JSON object. Prices may be numbers or
// strings.
func LoadFile(path string) (map[string]decimal.Decimal, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback seed: %w", err)
	}
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse fallback seed %s: %w", path, err)
	}
	return raw, nil
}

// SaveFile writes the current table as JSON, replacing path atomically.
func (t *Table) SaveFile(path string) error {
	snap := t.Snapshot()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fallback table: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fallback-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
