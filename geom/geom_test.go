package geom

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"invoicekit/ir/decoded"
	"invoicekit/ir/raw"
)

// testEngine builds a one-page document around the given content
// stream. The page font is Helvetica without a Widths array, so every
// glyph advances by the 500/1000 default.
func testEngine(t *testing.T, content string) *Engine {
	t.Helper()
	return testEngineFont(t, content, nil)
}

func testEngineFont(t *testing.T, content string, font *raw.DictObj) *Engine {
	t.Helper()
	if font == nil {
		font = raw.Dict()
		font.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
		font.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Type1"))
		font.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral("Helvetica"))
	}

	fonts := raw.Dict()
	fonts.Set(raw.NameLiteral("F1"), raw.Ref(5, 0))
	res := raw.Dict()
	res.Set(raw.NameLiteral("Font"), fonts)

	page := raw.Dict()
	page.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	page.Set(raw.NameLiteral("Resources"), res)
	page.Set(raw.NameLiteral("Contents"), raw.Ref(4, 0))
	page.Set(raw.NameLiteral("MediaBox"), raw.NewArray(
		raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberInt(792)))

	src := &raw.Document{Objects: map[raw.ObjectRef]raw.Object{
		{Num: 2, Gen: 0}: page,
		{Num: 4, Gen: 0}: raw.NewStream(raw.Dict(), []byte(content)),
		{Num: 5, Gen: 0}: font,
	}}
	dec, err := decoded.NewDecoder().Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return NewEngine(dec, []raw.ObjectRef{{Num: 2, Gen: 0}})
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestPageTextSimple(t *testing.T) {
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (ABC) Tj ET")
	text, err := e.PageText(0)
	if err != nil {
		t.Fatalf("PageText: %v", err)
	}
	if text != "ABC" {
		t.Fatalf("text = %q, want ABC", text)
	}
}

func TestPageTextLineBreaksAndKernGaps(t *testing.T) {
	e := testEngine(t, `BT /F1 10 Tf 72 700 Td [(AB) -400 (CD)] TJ 0 -20 Td (EF) Tj ET`)
	text, err := e.PageText(0)
	if err != nil {
		t.Fatalf("PageText: %v", err)
	}
	// -400 TJ units at size 10 is a 4pt gap, wide enough to read as a
	// space; the Td drop is a new line.
	if text != "AB CD\nEF" {
		t.Fatalf("text = %q, want %q", text, "AB CD\nEF")
	}
}

func TestLocateSingleOccurrence(t *testing.T) {
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (ABC) Tj ET")
	regions, err := e.Locate(0, "B")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
	r := regions[0].Rect
	// Default width 500/1000 at size 10 advances 5pt per glyph.
	if !near(r.LLX, 77) || !near(r.URX, 82) {
		t.Errorf("x span = [%v,%v], want [77,82]", r.LLX, r.URX)
	}
	if !near(r.LLY, 698) || !near(r.URY, 708) {
		t.Errorf("y span = [%v,%v], want [698,708]", r.LLY, r.URY)
	}
}

func TestLocateCaseSensitive(t *testing.T) {
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (Total total) Tj ET")
	regions, err := e.Locate(0, "Total")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want exactly the capitalized one", len(regions))
	}
}

func TestLocateMultipleOccurrences(t *testing.T) {
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (ab ab ab) Tj ET")
	regions, err := e.Locate(0, "ab")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(regions) != 3 {
		t.Fatalf("got %d regions, want 3", len(regions))
	}
	for i := 1; i < len(regions); i++ {
		if regions[i].Rect.LLX <= regions[i-1].Rect.LLX {
			t.Fatal("regions not in reading order")
		}
	}
}

func TestLocateAcrossShowOps(t *testing.T) {
	// The search string spans a TJ item boundary.
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td [(INV) (OICE)] TJ ET")
	regions, err := e.Locate(0, "INVOICE")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
	if r := regions[0].Rect; !near(r.LLX, 72) || !near(r.URX, 72+35) {
		t.Errorf("x span = [%v,%v], want [72,107]", r.LLX, r.URX)
	}
}

func TestApplyRemovalRewritesWithKerns(t *testing.T) {
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (HELLO WORLD) Tj ET")
	regions, err := e.Locate(0, "WORLD")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	edit, err := e.Apply(0, []Replacement{{Region: regions[0]}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out := string(edit.Streams[0])
	if !strings.Contains(out, "[(HELLO )-2500] TJ") {
		t.Fatalf("rewritten stream = %q", out)
	}
	// Everything outside the show op is untouched.
	if !strings.HasPrefix(out, "BT /F1 10 Tf 72 700 Td ") || !strings.HasSuffix(out, " ET") {
		t.Fatalf("surrounding operators disturbed: %q", out)
	}
	if len(edit.Appended) != 0 || edit.FontAlias != "" {
		t.Fatal("pure removal should not append content")
	}

	// Re-extract from the rewritten stream: the removed word is gone
	// and the kept glyphs keep their geometry.
	e2 := testEngine(t, out)
	text, err := e2.PageText(0)
	if err != nil {
		t.Fatalf("PageText: %v", err)
	}
	if strings.Contains(text, "WORLD") || !strings.Contains(text, "HELLO") {
		t.Fatalf("text after removal = %q", text)
	}
	before, _ := e.Locate(0, "HELLO")
	after, err := e2.Locate(0, "HELLO")
	if err != nil || len(after) != 1 {
		t.Fatalf("Locate after removal: %v %v", after, err)
	}
	if !near(before[0].Rect.LLX, after[0].Rect.LLX) || !near(before[0].Rect.URX, after[0].Rect.URX) {
		t.Fatalf("kept glyphs moved: %+v vs %+v", before[0].Rect, after[0].Rect)
	}
}

func TestApplyKernPreservesFollowingText(t *testing.T) {
	// Glyphs after the removed span, in the same op, must not shift.
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (AA XX BB) Tj ET")
	regions, err := e.Locate(0, "XX")
	if err != nil || len(regions) != 1 {
		t.Fatalf("Locate: %v %v", regions, err)
	}
	edit, err := e.Apply(0, []Replacement{{Region: regions[0]}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	e2 := testEngine(t, string(edit.Streams[0]))
	before, _ := e.Locate(0, "BB")
	after, err := e2.Locate(0, "BB")
	if err != nil || len(after) != 1 {
		t.Fatalf("Locate BB after edit: %v %v", after, err)
	}
	if !near(before[0].Rect.LLX, after[0].Rect.LLX) {
		t.Fatalf("BB moved from %v to %v", before[0].Rect.LLX, after[0].Rect.LLX)
	}
}

func TestApplyBatchComputedBeforeMutation(t *testing.T) {
	// Two regions located against the same layout are both applied in
	// one pass; the first rewrite must not invalidate the second.
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (KEY1 mid KEY2) Tj ET")
	r1, err := e.Locate(0, "KEY1")
	if err != nil || len(r1) != 1 {
		t.Fatalf("Locate KEY1: %v %v", r1, err)
	}
	r2, err := e.Locate(0, "KEY2")
	if err != nil || len(r2) != 1 {
		t.Fatalf("Locate KEY2: %v %v", r2, err)
	}
	edit, err := e.Apply(0, []Replacement{{Region: r1[0]}, {Region: r2[0]}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	e2 := testEngine(t, string(edit.Streams[0]))
	text, _ := e2.PageText(0)
	if strings.Contains(text, "KEY1") || strings.Contains(text, "KEY2") {
		t.Fatalf("text after batch = %q", text)
	}
	if !strings.Contains(text, "mid") {
		t.Fatalf("untouched text lost: %q", text)
	}
}

func TestApplyConvertsQuoteOperator(t *testing.T) {
	e := testEngine(t, "BT /F1 10 Tf 12 TL 72 700 Td (first) Tj (REMOVE me) ' ET")
	regions, err := e.Locate(0, "REMOVE")
	if err != nil || len(regions) != 1 {
		t.Fatalf("Locate: %v %v", regions, err)
	}
	edit, err := e.Apply(0, []Replacement{{Region: regions[0]}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out := string(edit.Streams[0])
	if !strings.Contains(out, "T* [") {
		t.Fatalf("quote operator not converted: %q", out)
	}
	e2 := testEngine(t, out)
	text, _ := e2.PageText(0)
	if strings.Contains(text, "REMOVE") || !strings.Contains(text, "me") {
		t.Fatalf("text after edit = %q", text)
	}
}

func TestApplyInsertionFormula(t *testing.T) {
	e := testEngine(t, "BT /F1 10 Tf 72 700 Td (OLDTEXT) Tj ET")
	regions, err := e.Locate(0, "OLDTEXT")
	if err != nil || len(regions) != 1 {
		t.Fatalf("Locate: %v %v", regions, err)
	}
	edit, err := e.Apply(0, []Replacement{{Region: regions[0], Text: "NEW"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if edit.FontAlias != "FR1" {
		t.Fatalf("alias = %q, want FR1", edit.FontAlias)
	}
	appended := string(edit.Appended)
	// Region is 10pt high: size 8, baseline at LLY + 1 = 699.
	if !strings.Contains(appended, "/FR1 8 Tf") {
		t.Fatalf("appended = %q", appended)
	}
	if !strings.Contains(appended, "1 0 0 1 72 699 Tm") {
		t.Fatalf("appended = %q", appended)
	}
	if !strings.Contains(appended, "(NEW) Tj") {
		t.Fatalf("appended = %q", appended)
	}
	if !strings.Contains(appended, "0 g") {
		t.Fatalf("inserted text should be black: %q", appended)
	}
}

func TestApplyDropsCoveredRectFill(t *testing.T) {
	e := testEngine(t, "73 699 3 3 re f BT /F1 10 Tf 72 700 Td (AB) Tj ET")
	regions, err := e.Locate(0, "AB")
	if err != nil || len(regions) != 1 {
		t.Fatalf("Locate: %v %v", regions, err)
	}
	edit, err := e.Apply(0, []Replacement{{Region: regions[0]}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out := string(edit.Streams[0])
	if strings.Contains(out, "re") || bytes.Contains([]byte(out), []byte(" f ")) {
		t.Fatalf("covered fill not removed: %q", out)
	}
}

func TestApplyKeepsUncoveredRectFill(t *testing.T) {
	e := testEngine(t, "300 300 50 50 re f BT /F1 10 Tf 72 700 Td (AB) Tj ET")
	regions, _ := e.Locate(0, "AB")
	edit, err := e.Apply(0, []Replacement{{Region: regions[0]}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(string(edit.Streams[0]), "300 300 50 50 re f") {
		t.Fatalf("unrelated fill dropped: %q", edit.Streams[0])
	}
}

func TestApplyRectFillCoverageUnderCTM(t *testing.T) {
	// Path coordinates are raw while regions are in user space. With a
	// 2x cm the first rect lands inside the scaled region and must go;
	// the second rect's raw numbers fall inside the region's values but
	// it transforms far outside and must survive.
	e := testEngine(t,
		"q 2 0 0 2 0 0 cm 73 699 3 3 re f 150 1400 2 2 re f BT /F1 10 Tf 72 700 Td (AB) Tj ET Q")
	regions, err := e.Locate(0, "AB")
	if err != nil || len(regions) != 1 {
		t.Fatalf("Locate: %v %v", regions, err)
	}
	edit, err := e.Apply(0, []Replacement{{Region: regions[0]}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out := string(edit.Streams[0])
	if strings.Contains(out, "73 699 3 3 re") {
		t.Fatalf("covered fill not removed under cm: %q", out)
	}
	if !strings.Contains(out, "150 1400 2 2 re f") {
		t.Fatalf("uncovered fill dropped under cm: %q", out)
	}
}

func TestWidthsArrayRespected(t *testing.T) {
	font := raw.Dict()
	font.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	font.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Type1"))
	font.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral("Helvetica"))
	font.Set(raw.NameLiteral("FirstChar"), raw.NumberInt(65))
	font.Set(raw.NameLiteral("Widths"), raw.NewArray(
		raw.NumberInt(1000), raw.NumberInt(250))) // A=1000, B=250

	e := testEngineFont(t, "BT /F1 10 Tf 72 700 Td (AB) Tj ET", font)
	regions, err := e.Locate(0, "B")
	if err != nil || len(regions) != 1 {
		t.Fatalf("Locate: %v %v", regions, err)
	}
	r := regions[0].Rect
	if !near(r.LLX, 82) || !near(r.URX, 84.5) {
		t.Fatalf("B span = [%v,%v], want [82,84.5]", r.LLX, r.URX)
	}
}

func TestCTMScalesGeometry(t *testing.T) {
	e := testEngine(t, "q 2 0 0 2 0 0 cm BT /F1 10 Tf 72 700 Td (A) Tj ET Q")
	regions, err := e.Locate(0, "A")
	if err != nil || len(regions) != 1 {
		t.Fatalf("Locate: %v %v", regions, err)
	}
	r := regions[0].Rect
	if !near(r.LLX, 144) || !near(r.URX, 154) {
		t.Fatalf("x span = [%v,%v], want [144,154]", r.LLX, r.URX)
	}
}
