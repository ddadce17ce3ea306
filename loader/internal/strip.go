package internal

import (
	"strings"
	"unicode"
)

const (
	edgeLines     = 3 // lines inspected at the top and bottom of each page
	minStripPages = 3 // documents shorter than this are left alone
)

// StripRepeatedLines removes running headers and footers. A line among the
// first (or last) few lines of a page is dropped when the same line sits
// on the same side of an adjacent page. Digits are ignored when comparing,
// so "Page 3 of 10" matches "Page 4 of 10".
//
// Only adjacent pages are consulted, so editing one page can change the
// stripped text of its two neighbours but never of pages further away.
func StripRepeatedLines(pages []Page) []Page {
	if len(pages) < minStripPages {
		return pages
	}

	lines := make([][]string, len(pages))
	tops := make([]map[string]bool, len(pages))
	bottoms := make([]map[string]bool, len(pages))
	for i, p := range pages {
		lines[i] = strings.Split(p.Text, "\n")
		tops[i], bottoms[i] = edgeKeys(lines[i])
	}

	neighbours := func(sets []map[string]bool, i int, key string) bool {
		return (i > 0 && sets[i-1][key]) || (i+1 < len(sets) && sets[i+1][key])
	}

	out := make([]Page, len(pages))
	for i, p := range pages {
		n := len(lines[i])
		kept := make([]string, 0, n)
		for j, line := range lines[i] {
			key := lineKey(line)
			if key != "" {
				if j < edgeLines && neighbours(tops, i, key) {
					continue
				}
				if j >= n-edgeLines && neighbours(bottoms, i, key) {
					continue
				}
			}
			kept = append(kept, line)
		}
		out[i] = Page{Number: p.Number, Text: strings.Join(kept, "\n")}
	}
	return out
}

func edgeKeys(lines []string) (top, bottom map[string]bool) {
	top = make(map[string]bool)
	bottom = make(map[string]bool)
	for j, line := range lines {
		key := lineKey(line)
		if key == "" {
			continue
		}
		if j < edgeLines {
			top[key] = true
		}
		if j >= len(lines)-edgeLines {
			bottom[key] = true
		}
	}
	return top, bottom
}

func lineKey(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return '#'
		}
		return unicode.ToLower(r)
	}, line)
}
