package pdfextract

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PageCount opens the PDF at path and returns its number of pages.
// A file that does not parse as PDF returns an error.
func PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf %s failed: %w", path, err)
	}
	defer f.Close()

	n := r.NumPage()
	if n <= 0 {
		return 0, fmt.Errorf("pdf %s has no pages", path)
	}
	return n, nil
}
