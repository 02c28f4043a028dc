// Package instrument handles tradable ticker normalization and validation
// of instrument definitions supplied by the external price feed.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/model"
)

// tickerRegex matches 1-16 upper-case letters, digits, '.', '_' or '-',
// starting with a letter or digit. Examples: ACME, BRK.B, GUILD-01.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,15}$`)

var (
	ErrInvalidTicker = errors.New("instrument: invalid ticker format")
	ErrInvalidPrice  = errors.New("instrument: price must be positive")
)

// NormalizeTicker trims and upper-cases raw, then validates the result.
func NormalizeTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerRegex.MatchString(ticker) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, raw)
	}
	return ticker, nil
}

// New builds a validated instrument.
func New(rawTicker, name string, price decimal.Decimal) (*model.Instrument, error) {
	ticker, err := NormalizeTicker(rawTicker)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: %s has price %s", ErrInvalidPrice, ticker, price)
	}
	if strings.TrimSpace(name) == "" {
		name = ticker
	}
	return &model.Instrument{Ticker: ticker, Name: strings.TrimSpace(name), CurrentPrice: price}, nil
}
