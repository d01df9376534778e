package stamp

import "errors"

var (
	// ErrMissingInputFile means no source document bytes were supplied.
	ErrMissingInputFile = errors.New("missing input file")
	// ErrDocumentDecode means the source bytes could not be read as a PDF.
	ErrDocumentDecode = errors.New("document decode error")
	// ErrPageDimensionInvalid marks a page whose size is zero, negative or
	// missing. It is reported as a Warning; the page is replaced, not fatal.
	ErrPageDimensionInvalid = errors.New("page dimension invalid")
	// ErrEncoding covers QR rendering, stamping and archive failures.
	ErrEncoding = errors.New("encoding error")
	// ErrInvalidMode means the output mode is neither archive nor merged.
	ErrInvalidMode = errors.New("invalid output mode")
	// ErrInvalidPlacement means a placement override is not a finite point.
	ErrInvalidPlacement = errors.New("invalid placement")
)
