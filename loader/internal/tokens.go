package internal

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// LengthFunc measures a piece of text in chunking units.
type LengthFunc func(string) int

// RuneLength counts characters.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

// TokenLength counts tokens of the named tiktoken encoding, e.g. "cl100k_base".
func TokenLength(encoding string) (LengthFunc, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// LengthFor returns the LengthFunc for a chunking unit.
func LengthFor(unit Unit, encoding string) (LengthFunc, error) {
	switch unit {
	case "", UnitChars:
		return RuneLength, nil
	case UnitTokens:
		return TokenLength(encoding)
	default:
		return nil, fmt.Errorf("unknown chunk unit %q", unit)
	}
}
