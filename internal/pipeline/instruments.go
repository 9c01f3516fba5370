package pipeline

import (
	"strings"
	"unicode"

	"signal-intel/internal/provider"
	"signal-intel/internal/storage"
)

// DefaultInstrumentSymbol is used when a batch mentions no instrument.
const DefaultInstrumentSymbol = "EUR/USD"

// NormalizeSymbol canonicalizes instrument symbols: "eurusd", "EUR-USD" and
// "eur/usd" all become "EUR/USD". Unrecognised shapes are upper-cased as is.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	letters := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, s)
	if len(letters) == 6 && len(letters) == countLettersOrSeparators(s) {
		return letters[:3] + "/" + letters[3:]
	}
	return s
}

func countLettersOrSeparators(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			n++
		case r == '/' || r == '-' || r == '_' || r == ' ':
		default:
			// digits and other characters mean this is not a plain pair
			return -1
		}
	}
	return n
}

// MostMentionedSymbol returns the symbol mentioned most often across the
// batch, ties broken by first appearance. ok is false when nothing was mentioned.
func MostMentionedSymbol(extractions []provider.Extraction) (symbol string, ok bool) {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, ex := range extractions {
		for _, raw := range ex.RelevantInstruments {
			sym := NormalizeSymbol(raw)
			if sym == "" {
				continue
			}
			if _, seen := counts[sym]; !seen {
				order = append(order, sym)
			}
			counts[sym]++
		}
	}

	best := 0
	for _, sym := range order {
		if counts[sym] > best {
			best = counts[sym]
			symbol = sym
		}
	}
	return symbol, best > 0
}

// ResolveInstrument picks the instrument a batch's signals attach to. The
// most mentioned symbol wins; with no mention the default symbol is used;
// when the symbol is not tracked the first tracked instrument is used.
// ok is false only when no instruments are tracked at all.
func ResolveInstrument(extractions []provider.Extraction, tracked []storage.Instrument, defaultSymbol string) (storage.Instrument, bool) {
	if len(tracked) == 0 {
		return storage.Instrument{}, false
	}
	symbol, mentioned := MostMentionedSymbol(extractions)
	if !mentioned {
		symbol = NormalizeSymbol(defaultSymbol)
		if symbol == "" {
			symbol = DefaultInstrumentSymbol
		}
	}
	for _, inst := range tracked {
		if NormalizeSymbol(inst.Symbol) == symbol {
			return inst, true
		}
	}
	return tracked[0], true
}
