// Package splitter decides where one invoice ends and the next begins
// in a multi-invoice PDF, and partitions the pages accordingly.
package splitter

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrEmptyDocument reports a partition request over zero pages.
var ErrEmptyDocument = errors.New("splitter: document has no pages")

// headerWindow is how far into a page's text a marker may appear and
// still count as an invoice header, in characters.
const headerWindow = 500

// Source yields page text for detection. Pages are 0-based and text
// may be empty for pages whose extraction failed.
type Source interface {
	PageCount() int
	PageText(page int) string
}

// MarkerConfig selects the boundary rule. A non-empty Pattern wins
// over Markers; it is compiled case-insensitively.
type MarkerConfig struct {
	Markers []string
	Pattern string
}

// Literal builds a config matching any of the given marker strings.
func Literal(markers ...string) MarkerConfig {
	return MarkerConfig{Markers: markers}
}

// Pattern builds a config matching a regular expression rule.
func Pattern(rule string) MarkerConfig {
	return MarkerConfig{Pattern: rule}
}

// Result is the outcome of boundary detection.
type Result struct {
	// Boundaries are the 0-based first pages of each detected invoice,
	// ascending. Page 0 is always present: whatever precedes the first
	// marker belongs to the first invoice.
	Boundaries []int
	// Matched reports whether any page matched the rule at all.
	Matched bool
	// TextPages counts pages that yielded any text.
	TextPages int
}

// PageRange is a half-open page interval [Start, End).
type PageRange struct {
	Start, End int
}

func (r PageRange) Len() int { return r.End - r.Start }

func (r PageRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Detect scans every page of src and returns the invoice start pages.
func Detect(src Source, cfg MarkerConfig) (Result, error) {
	match, err := compileRule(cfg)
	if err != nil {
		return Result{}, err
	}
	res := Result{Boundaries: []int{0}}
	for page := 0; page < src.PageCount(); page++ {
		text := src.PageText(page)
		if text != "" {
			res.TextPages++
		}
		if !match(text) {
			continue
		}
		res.Matched = true
		if page != 0 {
			res.Boundaries = append(res.Boundaries, page)
		}
	}
	return res, nil
}

func compileRule(cfg MarkerConfig) (func(string) bool, error) {
	if cfg.Pattern != "" {
		re, err := regexp.Compile("(?i)" + cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("splitter: bad boundary pattern: %w", err)
		}
		// The header window applies to literal markers only; a pattern
		// rule is tested against the whole page text.
		return re.MatchString, nil
	}
	markers := make([]string, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		if m != "" {
			markers = append(markers, strings.ToLower(m))
		}
	}
	if len(markers) == 0 {
		return nil, errors.New("splitter: no markers configured")
	}
	return func(text string) bool {
		lower := strings.ToLower(text)
		window := runePrefix(lower, headerWindow)
		for _, m := range markers {
			// The window check alone admits markers straddling the
			// cutoff; the offset check pins the first occurrence.
			if !strings.Contains(window, m) {
				continue
			}
			idx := strings.Index(lower, m)
			if idx >= 0 && utf8.RuneCountInString(lower[:idx]) < headerWindow {
				return true
			}
		}
		return false
	}, nil
}

// runePrefix returns the first n characters of s.
func runePrefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Partition slices pageCount pages at the given boundaries. Boundaries
// must be ascending, unique, in range, and start at page 0; every page
// lands in exactly one range.
func Partition(pageCount int, boundaries []int) ([]PageRange, error) {
	if pageCount <= 0 {
		return nil, ErrEmptyDocument
	}
	if len(boundaries) == 0 || boundaries[0] != 0 {
		return nil, errors.New("splitter: boundaries must start at page 0")
	}
	if !sort.IntsAreSorted(boundaries) {
		return nil, errors.New("splitter: boundaries out of order")
	}
	for i, b := range boundaries {
		if b < 0 || b >= pageCount {
			return nil, fmt.Errorf("splitter: boundary %d out of range", b)
		}
		if i > 0 && boundaries[i-1] == b {
			return nil, fmt.Errorf("splitter: duplicate boundary %d", b)
		}
	}
	ranges := make([]PageRange, 0, len(boundaries))
	for i, start := range boundaries {
		end := pageCount
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}
	return ranges, nil
}
