package invoicekit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"invoicekit/document"
)

func TestEditDocumentReplacesText(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "contract.pdf",
		"Customer: ACME Ltd",
		"no occurrences here",
		"ACME again and ACME once more",
	)

	result, err := EditDocument(context.Background(), input, ReplacementSet{"ACME": "ZETA"})
	if err != nil {
		t.Fatalf("EditDocument: %v", err)
	}
	if filepath.Base(result.File) != "contract_edited.pdf" {
		t.Fatalf("output = %q", result.File)
	}
	if result.Replacements != 3 {
		t.Fatalf("replacements = %d, want 3", result.Replacements)
	}
	if result.PagesTouched != 2 {
		t.Fatalf("pages touched = %d, want 2", result.PagesTouched)
	}

	out := loadOutput(t, result.File)
	if out.PageCount() != 3 {
		t.Fatalf("output pages = %d, want 3", out.PageCount())
	}
	for i := 0; i < out.PageCount(); i++ {
		if strings.Contains(out.PageText(i), "ACME") {
			t.Fatalf("page %d still contains the search text: %q", i, out.PageText(i))
		}
	}
	if !strings.Contains(out.PageText(0), "ZETA") {
		t.Fatalf("page 0 = %q, want inserted text", out.PageText(0))
	}
	if !strings.Contains(out.PageText(1), "no occurrences here") {
		t.Fatalf("untouched page changed: %q", out.PageText(1))
	}
}

func TestEditDocumentMultipleKeys(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "multi.pdf", "Acme pays Globex monthly")

	// Both keys sit on the same page; locating the second must not be
	// disturbed by removing the first.
	result, err := EditDocument(context.Background(), input, ReplacementSet{
		"Acme":   "Initech",
		"Globex": "Umbrella",
	})
	if err != nil {
		t.Fatalf("EditDocument: %v", err)
	}
	if result.Replacements != 2 || result.PagesTouched != 1 {
		t.Fatalf("result = %+v", result)
	}
	text := loadOutput(t, result.File).PageText(0)
	for _, gone := range []string{"Acme", "Globex"} {
		if strings.Contains(text, gone) {
			t.Fatalf("text = %q, %q not removed", text, gone)
		}
	}
	for _, want := range []string{"Initech", "Umbrella", "pays", "monthly"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text = %q, want %q", text, want)
		}
	}
}

func TestEditDocumentRemovalOnly(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "redact.pdf", "account 12345 end")

	result, err := EditDocument(context.Background(), input, ReplacementSet{"12345": ""})
	if err != nil {
		t.Fatalf("EditDocument: %v", err)
	}
	out := loadOutput(t, result.File)
	text := out.PageText(0)
	if strings.Contains(text, "12345") {
		t.Fatalf("text = %q, number not removed", text)
	}
	if !strings.Contains(text, "account") || !strings.Contains(text, "end") {
		t.Fatalf("text = %q, surrounding text lost", text)
	}
}

func TestEditDocumentZeroMatchesSucceeds(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "plain.pdf", "nothing to see")

	result, err := EditDocument(context.Background(), input, ReplacementSet{"absent": "x"})
	if err != nil {
		t.Fatalf("EditDocument: %v", err)
	}
	if result.Replacements != 0 || result.PagesTouched != 0 {
		t.Fatalf("result = %+v, want zero counts", result)
	}
	out := loadOutput(t, result.File)
	if !strings.Contains(out.PageText(0), "nothing to see") {
		t.Fatalf("output text = %q", out.PageText(0))
	}
}

func TestEditDocumentOutputFile(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "x.pdf", "some text")
	target := filepath.Join(t.TempDir(), "renamed.pdf")

	result, err := EditDocument(context.Background(), input,
		ReplacementSet{"some": "other"}, WithOutputFile(target))
	if err != nil {
		t.Fatalf("EditDocument: %v", err)
	}
	if result.File != target {
		t.Fatalf("output = %q, want %q", result.File, target)
	}
}

func TestEditDocumentRejectsBadSets(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "x.pdf", "text")
	if _, err := EditDocument(context.Background(), input, nil); err == nil {
		t.Fatal("empty set should fail")
	}
	if _, err := EditDocument(context.Background(), input, ReplacementSet{"": "y"}); err == nil {
		t.Fatal("empty key should fail")
	}
}

func TestEditorWithoutEngine(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "cap.pdf", "text")
	doc, err := document.Open(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	editor := &Editor{}
	if _, _, err := editor.Replace(context.Background(), doc, ReplacementSet{"a": "b"}); !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("err = %v, want ErrMissingCapability", err)
	}
}

func TestEditDocumentEncryptedInput(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPDF(t, dir, "enc.pdf", "text")
	data, err := os.ReadFile(input)
	if err != nil {
		t.Fatal(err)
	}
	data = bytes.Replace(data, []byte("/Size"), []byte("/Encrypt 99 0 R /Size"), 1)
	if err := os.WriteFile(input, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := EditDocument(context.Background(), input, ReplacementSet{"a": "b"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}
