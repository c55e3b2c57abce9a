// Package conversion holds the token → currency rate table and the exact
// arithmetic used to price a conversion bundle.
//
// Rates are decimals so that fractional rates (e.g. 0.25 SHF per token) do
// not drift through float rounding. The gain of a bundle is
//
//	gain = floor(Σ amount_i × rate_i)
//
// and any fractional remainder is discarded, never carried.
package conversion

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tutu-network/shf/internal/domain"
)

// DefaultRates is the built-in table used when configuration supplies none.
var DefaultRates = map[domain.Token]string{
	"corn":  "2",
	"wheat": "1.5",
	"gold":  "10",
	"seeds": "0.25",
}

// RateTable maps each convertible token to its rate in currency units.
// It is immutable after construction and safe for concurrent use.
type RateTable struct {
	rates map[domain.Token]decimal.Decimal
}

// NewRateTable parses decimal rate strings. Rates must be non-negative and
// the reserved currency cannot appear as a source token.
func NewRateTable(raw map[domain.Token]string) (*RateTable, error) {
	rates := make(map[domain.Token]decimal.Decimal, len(raw))
	for tok, s := range raw {
		if tok == "" {
			return nil, &domain.ValidationError{Field: "rates", Reason: "empty token symbol"}
		}
		if tok == domain.Currency {
			return nil, &domain.ValidationError{Field: "rates." + string(tok), Reason: "currency cannot be converted into itself"}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, &domain.ValidationError{Field: "rates." + string(tok), Reason: fmt.Sprintf("parse %q: %v", s, err)}
		}
		if d.IsNegative() {
			return nil, &domain.ValidationError{Field: "rates." + string(tok), Reason: "must not be negative"}
		}
		rates[tok] = d
	}
	return &RateTable{rates: rates}, nil
}

// MustRateTable is NewRateTable for static tables; it panics on error.
func MustRateTable(raw map[domain.Token]string) *RateTable {
	t, err := NewRateTable(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// Rate returns the rate of a token.
func (t *RateTable) Rate(tok domain.Token) (decimal.Decimal, bool) {
	d, ok := t.rates[tok]
	return d, ok
}

// Known reports whether tok has a rate (and therefore may be held and converted).
func (t *RateTable) Known(tok domain.Token) bool {
	_, ok := t.rates[tok]
	return ok
}

// KnownTokens returns the set of convertible tokens, for catalog validation.
func (t *RateTable) KnownTokens() map[domain.Token]bool {
	out := make(map[domain.Token]bool, len(t.rates))
	for tok := range t.rates {
		out[tok] = true
	}
	return out
}

// Tokens returns the convertible token symbols in sorted order.
func (t *RateTable) Tokens() []domain.Token {
	out := make([]domain.Token, 0, len(t.rates))
	for tok := range t.rates {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings renders the table back into its configuration form.
func (t *RateTable) Strings() map[domain.Token]string {
	out := make(map[domain.Token]string, len(t.rates))
	for tok, d := range t.rates {
		out[tok] = d.String()
	}
	return out
}

// Quote is the priced result of a bundle before it is posted.
type Quote struct {
	Gain      int64           `json:"gain"`
	Exact     decimal.Decimal `json:"exact"`     // Σ amount × rate before flooring
	Remainder decimal.Decimal `json:"remainder"` // discarded fraction
}

// Price computes the floored currency gain of a bundle. Every token must be
// known and every amount non-negative. A bundle with no positive amount
// fails with ErrEmptyBundle.
func (t *RateTable) Price(bundle map[domain.Token]int64) (Quote, error) {
	nonEmpty := false
	exact := decimal.Zero
	for tok, amt := range bundle {
		if amt < 0 {
			return Quote{}, &domain.ValidationError{Field: "bundle." + string(tok), Reason: "amount must not be negative"}
		}
		rate, ok := t.rates[tok]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %s", domain.ErrUnknownToken, tok)
		}
		if amt > 0 {
			nonEmpty = true
		}
		exact = exact.Add(decimal.NewFromInt(amt).Mul(rate))
	}
	if !nonEmpty {
		return Quote{}, domain.ErrEmptyBundle
	}
	floor := exact.Floor()
	if floor.GreaterThan(decimal.NewFromInt(1 << 62)) {
		return Quote{}, &domain.ValidationError{Field: "bundle", Reason: "gain out of range"}
	}
	return Quote{
		Gain:      floor.IntPart(),
		Exact:     exact,
		Remainder: exact.Sub(floor),
	}, nil
}
