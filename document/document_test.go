package document

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"invoicekit/ir/raw"
	"invoicekit/writer"
)

// makePDF serializes a document with one page per text.
func makePDF(t *testing.T, pageTexts ...string) []byte {
	t.Helper()
	src := &raw.Document{Objects: make(map[raw.ObjectRef]raw.Object)}

	fontRef := raw.ObjectRef{Num: 100, Gen: 0}
	font := raw.Dict()
	font.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	font.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Type1"))
	font.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral("Helvetica"))
	src.Objects[fontRef] = font

	var specs []writer.PageSpec
	for i, text := range pageTexts {
		contentRef := raw.ObjectRef{Num: 2*i + 1, Gen: 0}
		pageRef := raw.ObjectRef{Num: 2*i + 2, Gen: 0}

		content := []byte("BT /F1 12 Tf 72 720 Td (" + text + ") Tj ET")
		src.Objects[contentRef] = raw.NewStream(raw.Dict(), content)

		fonts := raw.Dict()
		fonts.Set(raw.NameLiteral("F1"), raw.Ref(fontRef.Num, 0))
		res := raw.Dict()
		res.Set(raw.NameLiteral("Font"), fonts)

		page := raw.Dict()
		page.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
		page.Set(raw.NameLiteral("Resources"), res)
		page.Set(raw.NameLiteral("Contents"), raw.Ref(contentRef.Num, 0))
		page.Set(raw.NameLiteral("MediaBox"), raw.NewArray(
			raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberInt(792)))
		src.Objects[pageRef] = page

		specs = append(specs, writer.PageSpec{Ref: pageRef, Dict: page})
	}
	var buf bytes.Buffer
	if err := writer.Write(&buf, src, specs); err != nil {
		t.Fatalf("write test pdf: %v", err)
	}
	return buf.Bytes()
}

func TestLoadRejectsNonPDF(t *testing.T) {
	_, err := Load(context.Background(), []byte("plain text file"), "x", nil)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"), nil)
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestLoadPagesInOrder(t *testing.T) {
	data := makePDF(t, "alpha page", "beta page", "gamma page")
	doc, err := Load(context.Background(), data, "test", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.PageCount() != 3 {
		t.Fatalf("PageCount = %d, want 3", doc.PageCount())
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if text := doc.PageText(i); !strings.Contains(text, want) {
			t.Errorf("page %d text = %q, want containing %q", i, text, want)
		}
	}
	// Out-of-range pages are empty, not panics.
	if doc.PageText(99) != "" {
		t.Error("out of range page should be empty")
	}
}

func TestLoadName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acme_batch.pdf")
	if err := os.WriteFile(path, makePDF(t, "one"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if doc.Name() != "acme_batch" {
		t.Fatalf("Name = %q, want acme_batch", doc.Name())
	}
}

func TestEncryptedFlag(t *testing.T) {
	data := makePDF(t, "secret")
	data = bytes.Replace(data, []byte("/Size"), []byte("/Encrypt 99 0 R /Size"), 1)
	doc, err := Load(context.Background(), data, "enc", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !doc.Encrypted() {
		t.Fatal("Encrypted = false, want true")
	}
}

func TestEngineSharedAndCached(t *testing.T) {
	doc, err := Load(context.Background(), makePDF(t, "needle here"), "x", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Engine() != doc.Engine() {
		t.Fatal("Engine not cached")
	}
	regions, err := doc.Engine().Locate(0, "needle")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}
}

func TestPageTextCached(t *testing.T) {
	doc, err := Load(context.Background(), makePDF(t, "stable text"), "x", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a, b := doc.PageText(0), doc.PageText(0); a != b {
		t.Fatalf("PageText not stable: %q vs %q", a, b)
	}
}
