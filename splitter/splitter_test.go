package splitter

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type fakeSource []string

func (f fakeSource) PageCount() int           { return len(f) }
func (f fakeSource) PageText(page int) string { return f[page] }

func TestDetectMarkersStartNewInvoices(t *testing.T) {
	src := fakeSource{
		"Invoice No. 100\nACME Corp",
		"line items continued",
		"totals",
		"Invoice No. 101\nACME Corp",
		"line items",
		"totals",
	}
	res, err := Detect(src, Literal("Invoice"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.Boundaries, []int{0, 3}) {
		t.Fatalf("boundaries = %v, want [0 3]", res.Boundaries)
	}
	if !res.Matched {
		t.Fatal("Matched should be true")
	}
	if res.TextPages != 6 {
		t.Fatalf("TextPages = %d, want 6", res.TextPages)
	}
}

func TestDetectPageZeroAlwaysBoundary(t *testing.T) {
	// A cover page before the first marker still belongs to the first
	// invoice.
	src := fakeSource{"cover sheet", "Invoice No. 7", "items"}
	res, err := Detect(src, Literal("Invoice"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.Boundaries, []int{0, 1}) {
		t.Fatalf("boundaries = %v, want [0 1]", res.Boundaries)
	}
}

func TestDetectCaseInsensitive(t *testing.T) {
	src := fakeSource{"FAKTURA BR. 42", "invoice no. 43"}
	res, err := Detect(src, Literal("Faktura br.", "Invoice No."))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.Boundaries, []int{0, 1}) {
		t.Fatalf("boundaries = %v, want [0 1]", res.Boundaries)
	}
}

func TestDetectHeaderWindow(t *testing.T) {
	// A marker buried past the first 500 characters is body text, not
	// a header.
	deep := strings.Repeat("x", 600) + " Invoice"
	src := fakeSource{"first page", deep}
	res, err := Detect(src, Literal("Invoice"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Boundaries) != 1 {
		t.Fatalf("boundaries = %v, want only page 0", res.Boundaries)
	}
	if res.Matched {
		t.Fatal("deep match should not count")
	}

	// Just inside the window counts.
	shallow := strings.Repeat("x", 490) + " Invoice"
	res, err = Detect(fakeSource{"first", shallow}, Literal("Invoice"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.Boundaries, []int{0, 1}) {
		t.Fatalf("boundaries = %v, want [0 1]", res.Boundaries)
	}
}

func TestDetectWindowCountsRunesNotBytes(t *testing.T) {
	// 300 two-byte characters put the marker past 500 bytes but well
	// inside 500 characters.
	prefix := strings.Repeat("č", 300)
	src := fakeSource{"first", prefix + " Invoice"}
	res, err := Detect(src, Literal("Invoice"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.Boundaries, []int{0, 1}) {
		t.Fatalf("boundaries = %v, want [0 1]", res.Boundaries)
	}
}

func TestDetectPatternPrecedence(t *testing.T) {
	src := fakeSource{
		"Invoice No. 1",
		"RECHNUNG Nr. 2",
		"Invoice No. 3",
	}
	// Pattern set: markers are ignored entirely.
	cfg := MarkerConfig{Markers: []string{"Invoice"}, Pattern: `rechnung\s+nr`}
	res, err := Detect(src, cfg)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.Boundaries, []int{0, 1}) {
		t.Fatalf("boundaries = %v, want [0 1]", res.Boundaries)
	}
}

func TestDetectPatternSearchesFullPageText(t *testing.T) {
	// Literal markers are confined to the header window; a pattern rule
	// is not and may match anywhere on the page.
	deep := strings.Repeat("x", 601) + " invoice-start 42"
	src := fakeSource{"first page", deep}
	res, err := Detect(src, Pattern(`invoice-start`))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.Boundaries, []int{0, 1}) {
		t.Fatalf("boundaries = %v, want [0 1]", res.Boundaries)
	}
}

func TestDetectBadPattern(t *testing.T) {
	if _, err := Detect(fakeSource{"x"}, Pattern("(")); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestDetectNoMarkers(t *testing.T) {
	if _, err := Detect(fakeSource{"x"}, MarkerConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestDetectEmptyPagesCounted(t *testing.T) {
	src := fakeSource{"", "Invoice", ""}
	res, err := Detect(src, Literal("Invoice"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.TextPages != 1 {
		t.Fatalf("TextPages = %d, want 1", res.TextPages)
	}
}

func TestDetectDeterministic(t *testing.T) {
	src := fakeSource{"Invoice A", "body", "Invoice B", "body"}
	first, err := Detect(src, Literal("Invoice"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Detect(src, Literal("Invoice"))
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
}

func TestPartitionCoversEveryPageOnce(t *testing.T) {
	ranges, err := Partition(6, []int{0, 3})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	want := []PageRange{{Start: 0, End: 3}, {Start: 3, End: 6}}
	if !reflect.DeepEqual(ranges, want) {
		t.Fatalf("ranges = %v, want %v", ranges, want)
	}
	covered := make(map[int]int)
	for _, r := range ranges {
		for p := r.Start; p < r.End; p++ {
			covered[p]++
		}
	}
	for p := 0; p < 6; p++ {
		if covered[p] != 1 {
			t.Fatalf("page %d covered %d times", p, covered[p])
		}
	}
}

func TestPartitionSingleInvoice(t *testing.T) {
	ranges, err := Partition(4, []int{0})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != (PageRange{Start: 0, End: 4}) {
		t.Fatalf("ranges = %v", ranges)
	}
}

func TestPartitionErrors(t *testing.T) {
	if _, err := Partition(0, []int{0}); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("zero pages: %v", err)
	}
	cases := [][]int{
		nil,       // no boundaries
		{1},       // does not start at 0
		{0, 5, 3}, // out of order
		{0, 2, 2}, // duplicate
		{0, 9},    // out of range
	}
	for _, bs := range cases {
		if _, err := Partition(6, bs); err == nil {
			t.Errorf("boundaries %v: expected error", bs)
		}
	}
}

func TestPartitionBoundaryOnLastPage(t *testing.T) {
	ranges, err := Partition(3, []int{0, 2})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if ranges[1].Len() != 1 {
		t.Fatalf("last range = %v, want one page", ranges[1])
	}
}
