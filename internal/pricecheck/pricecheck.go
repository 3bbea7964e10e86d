// Package pricecheck rejects implausible prices before they leave a source
// adapter. Scraped pages regularly yield values off by a decimal point, a
// date or a volume figure; the bounds here catch those.
package pricecheck

import (
	"github.com/shopspring/decimal"

	"stockadvisor/internal/symbol"
)

// Bounds is an inclusive [Min, Max] price range.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether p lies within b, bounds included.
func (b Bounds) Contains(p decimal.Decimal) bool {
	return p.GreaterThanOrEqual(b.Min) && p.LessThanOrEqual(b.Max)
}

// ReferenceFunc returns a recent known price for a canonical symbol.
type ReferenceFunc func(canonical string) (decimal.Decimal, bool)

// Validator checks candidate prices against a global range, optional
// per-symbol overrides and an optional band around a reference price.
type Validator struct {
	Global    Bounds
	Overrides map[string]Bounds // key: base symbol

	// Reference and BandRatio enable relative checking: a price must lie in
	// [ref/BandRatio, ref*BandRatio]. BandRatio <= 1 disables it.
	Reference ReferenceFunc
	BandRatio float64
}

// DefaultGlobal is the plausible range for any listed Indian equity in INR.
var DefaultGlobal = Bounds{Min: decimal.RequireFromString("0.01"), Max: decimal.NewFromInt(500000)}

// DefaultOverrides are point-in-time ranges for a few heavily traded large
// caps. They drift; config can replace them.
func DefaultOverrides() map[string]Bounds {
	r := func(lo, hi int64) Bounds { return Bounds{Min: decimal.NewFromInt(lo), Max: decimal.NewFromInt(hi)} }
	return map[string]Bounds{
		"RELIANCE":   r(800, 5000),
		"TCS":        r(2000, 6000),
		"HDFCBANK":   r(1000, 3000),
		"INFY":       r(1000, 3000),
		"ICICIBANK":  r(600, 2500),
		"SBIN":       r(400, 1500),
		"HINDUNILVR": r(1500, 4000),
		"BHARTIARTL": r(800, 3000),
		"ITC":        r(250, 700),
		"LT":         r(2000, 5500),
	}
}

// New returns a Validator with the default global range and overrides.
func New() *Validator {
	return &Validator{Global: DefaultGlobal, Overrides: DefaultOverrides()}
}

// Validate reports whether price is plausible for the canonical symbol.
func (v *Validator) Validate(price decimal.Decimal, canonical string) bool {
	if !price.IsPositive() {
		return false
	}
	if !v.Global.Contains(price) {
		return false
	}
	base, _ := symbol.Split(canonical)
	if b, ok := v.Overrides[base]; ok && !b.Contains(price) {
		return false
	}
	if v.Reference != nil && v.BandRatio > 1 {
		if ref, ok := v.Reference(canonical); ok && ref.IsPositive() {
			ratio := decimal.NewFromFloat(v.BandRatio)
			band := Bounds{Min: ref.Div(ratio), Max: ref.Mul(ratio)}
			if !band.Contains(price) {
				return false
			}
		}
	}
	return true
}
