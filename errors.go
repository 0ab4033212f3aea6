package invoicekit

import "errors"

// Sentinel errors returned by the package-level operations. Callers
// match them with errors.Is.
var (
	// ErrNotFound reports a missing input file.
	ErrNotFound = errors.New("invoicekit: file not found")

	// ErrInvalidFormat reports input that is not a parseable PDF.
	ErrInvalidFormat = errors.New("invoicekit: invalid PDF")

	// ErrEmptyDocument reports a PDF with no pages.
	ErrEmptyDocument = errors.New("invoicekit: document has no pages")

	// ErrNoInvoicesDetected reports a split over a document where no
	// page yielded any text to match markers against.
	ErrNoInvoicesDetected = errors.New("invoicekit: no invoices detected")

	// ErrMissingCapability reports an edit attempted without a layout
	// engine.
	ErrMissingCapability = errors.New("invoicekit: layout engine not available")

	// ErrUnsupportedFormat reports a document the pipelines cannot
	// process, such as an encrypted file.
	ErrUnsupportedFormat = errors.New("invoicekit: unsupported document")
)
