package pdfinfo

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// PageCount reads the entire content of r and returns the number of pages
// in the PDF. An unparseable document yields an error; the backends do
// their own validation, so callers may treat this as advisory.
func PageCount(r io.Reader) (int, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, fmt.Errorf("empty document")
	}
	readerAt := bytes.NewReader(b)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(b)))
	if err != nil {
		return 0, err
	}
	return pdfReader.NumPage(), nil
}
