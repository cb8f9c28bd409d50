package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// amountPattern matches a currency amount in normalized (lower-cased) text.
var amountPattern = regexp.MustCompile(`r\$\s*(\d[\d.]*(?:,\d{1,2})?)`)

// runeIndex maps every byte offset of a text, plus len(text), to the number
// of characters before it. Windows are measured in characters so accented
// text is not squeezed.
type runeIndex []int32

func newRuneIndex(text string) runeIndex {
	idx := make(runeIndex, len(text)+1)
	var n int32
	for b := 0; b < len(text); b++ {
		if b > 0 && utf8.RuneStart(text[b]) {
			n++
		}
		idx[b] = n
	}
	if len(text) > 0 {
		n++
	}
	idx[len(text)] = n
	return idx
}

// span converts a byte span to a character span.
func (ix runeIndex) span(start, end int) (int, int) {
	return int(ix[start]), int(ix[end])
}

// amount is a parsed currency value and its character span in the
// normalized text.
type amount struct {
	Start int
	End   int
	Value float64
}

func findAmounts(text string, ix runeIndex) []amount {
	var out []amount
	for _, loc := range amountPattern.FindAllStringSubmatchIndex(text, -1) {
		v := ToNumberBRL(text[loc[2]:loc[3]])
		if v == nil {
			continue
		}
		start, end := ix.span(loc[0], loc[1])
		out = append(out, amount{Start: start, End: end, Value: *v})
	}
	return out
}

// Window bounds the search around an anchor, in characters.
type Window struct {
	Before int
	After  int
}

// Proximity picks the amount closest to an anchor phrase. Amounts that end
// before the anchor get BeforeBias subtracted from their distance so that on a
// tie the price printed ahead of the label wins.
type Proximity struct {
	Window     Window
	BeforeBias float64
}

// Distance returns the biased distance between a candidate and the anchor span
// and whether the candidate falls inside the window at all.
func (p Proximity) Distance(c amount, anchorStart, anchorEnd int) (float64, bool) {
	if c.Start < anchorStart-p.Window.Before || c.End > anchorEnd+p.Window.After {
		return 0, false
	}

	switch {
	case c.End <= anchorStart:
		return float64(anchorStart-c.End) - p.BeforeBias, true
	case c.Start >= anchorEnd:
		return float64(c.Start - anchorEnd), true
	default:
		return 0, true
	}
}

// Nearest returns the value of the lowest-scoring candidate, nil when none is
// inside the window. Earlier candidates win exact ties.
func (p Proximity) Nearest(amounts []amount, anchorStart, anchorEnd int) *float64 {
	var (
		best     *float64
		bestDist float64
	)
	for _, c := range amounts {
		d, ok := p.Distance(c, anchorStart, anchorEnd)
		if !ok {
			continue
		}
		if best == nil || d < bestDist {
			v := c.Value
			best, bestDist = &v, d
		}
	}
	return best
}

// Max returns the largest amount inside the window around the anchor.
func (p Proximity) Max(amounts []amount, anchorStart, anchorEnd int) *float64 {
	var best *float64
	for _, c := range amounts {
		if _, ok := p.Distance(c, anchorStart, anchorEnd); !ok {
			continue
		}
		if best == nil || c.Value > *best {
			v := c.Value
			best = &v
		}
	}
	return best
}

// indexWord finds the first occurrence of phrase that is not glued to an
// ASCII letter on either side. Digits are allowed since adjacent text nodes
// often collapse into "r$ 10,00à vista".
func indexWord(text, phrase string) int {
	offset := 0
	for {
		i := strings.Index(text[offset:], phrase)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(phrase)
		if (start == 0 || !isLetterByte(text[start-1])) && (end == len(text) || !isLetterByte(text[end])) {
			return start
		}
		offset = start + 1
	}
}

func isLetterByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
