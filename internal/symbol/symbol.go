package symbol

import (
	"strings"
)

// Exchange identifies the listing venue a canonical symbol refers to.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// bseSuffix is the only suffix kept in canonical form. NSE is the default
// exchange and carries no marker.
const bseSuffix = ".BO"

// aliasMap resolves merged, renamed and commonly misspelled tickers to the
// symbol currently listed. Values must never appear as keys.
var aliasMap = map[string]string{
	"HDFC":              "HDFCBANK",
	"HDFCBANKLTD":       "HDFCBANK",
	"INFOSYS":           "INFY",
	"MINDTREE":          "LTIM",
	"LTI":               "LTIM",
	"SBI":               "SBIN",
	"AIRTEL":            "BHARTIARTL",
	"BHARTI":            "BHARTIARTL",
	"HUL":               "HINDUNILVR",
	"RELIANCEIND":       "RELIANCE",
	"RIL":               "RELIANCE",
	"TATAMOTOR":         "TATAMOTORS",
	"TATA MOTORS":       "TATAMOTORS",
	"L&T":               "LT",
	"LARSEN":            "LT",
	"ADANITRANS":        "ADANIENSOL",
	"ZOMATO":            "ETERNAL",
	"MCDOWELL-N":        "UNITDSPR",
	"KOTAK":             "KOTAKBANK",
	"ICICI":             "ICICIBANK",
	"AXIS":              "AXISBANK",
	"BAJAJFINANCE":      "BAJFINANCE",
	"MARUTISUZUKI":      "MARUTI",
	"ASIANPAINTS":       "ASIANPAINT",
	"NESTLE":            "NESTLEIND",
	"ULTRATECH":         "ULTRACEMCO",
	"SUNPHARMACEUTICAL": "SUNPHARMA",
}

// suffix markers, checked longest first so ".NSE" wins over ".NS".
var suffixes = []struct {
	marker string
	ex     Exchange
}{
	{".NSE", NSE},
	{".BSE", BSE},
	{".NS", NSE},
	{".BO", BSE},
	{"-EQ", NSE},
	{":NSE", NSE},
	{":BSE", BSE},
	{":BOM", BSE},
}

var prefixes = []struct {
	marker string
	ex     Exchange
}{
	{"NSE:", NSE},
	{"BSE:", BSE},
	{"BOM:", BSE},
}

// Normalize maps a user supplied ticker to its canonical form.
//
// It upper-cases, strips known exchange markers, resolves the base through
// the alias table and re-attaches ".BO" for BSE listings. Input that matches
// no rule is returned upper-cased. Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	base, ex := strip(s)
	if canon, ok := aliasMap[base]; ok {
		base = canon
	}
	if ex == BSE {
		return base + bseSuffix
	}
	return base
}

// Split returns the base ticker and exchange of a canonical symbol.
func Split(canonical string) (string, Exchange) {
	if b, ok := strings.CutSuffix(canonical, bseSuffix); ok && b != "" {
		return b, BSE
	}
	return canonical, NSE
}

// strip removes exchange markers until none remain. The outermost suffix
// decides the exchange, then the outermost prefix; bare tickers are NSE.
func strip(s string) (string, Exchange) {
	var pre, suf Exchange
	for {
		changed := false
		for _, p := range prefixes {
			if rest, ok := strings.CutPrefix(s, p.marker); ok && strings.TrimSpace(rest) != "" {
				s = strings.TrimSpace(rest)
				if pre == "" {
					pre = p.ex
				}
				changed = true
				break
			}
		}
		for _, sf := range suffixes {
			if rest, ok := strings.CutSuffix(s, sf.marker); ok && strings.TrimSpace(rest) != "" {
				s = strings.TrimSpace(rest)
				if suf == "" {
					suf = sf.ex
				}
				changed = true
				break
			}
		}
		if !changed {
			break
		}
	}
	switch {
	case suf != "":
		return s, suf
	case pre != "":
		return s, pre
	}
	return s, NSE
}
