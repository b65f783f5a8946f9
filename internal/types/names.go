package types

import (
	"strings"
	"unicode"
)

var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true, "co": true,
	"company": true, "llc": true, "llp": true, "lp": true, "ltd": true, "limited": true,
	"plc": true, "gmbh": true, "ag": true, "sa": true, "sas": true, "sarl": true, "bv": true,
	"nv": true, "oy": true, "ab": true, "as": true, "aps": true, "spa": true, "srl": true,
	"pty": true, "pte": true, "kk": true, "holdings": true, "group": true,
}

// NormalizeCompanyName lower-cases, strips punctuation and trailing legal suffixes,
// and collapses whitespace: "Stripe, Inc." and "STRIPE INC" both become "stripe".
func NormalizeCompanyName(name string) string {
	words := normalizedWords(name)
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true, "dr": true, "prof": true,
	"sir": true, "dame": true, "jr": true, "sr": true, "ii": true, "iii": true, "phd": true,
	"md": true, "mba": true, "esq": true, "cpa": true,
}

// NormalizePersonName case-folds, strips honorifics, punctuation and post-nominals.
func NormalizePersonName(name string) string {
	words := normalizedWords(name)
	kept := words[:0]
	for _, w := range words {
		if !honorifics[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func normalizedWords(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '\'':
			// "Inc." and "O'Brien" collapse without a word break
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
