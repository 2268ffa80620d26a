package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lecture-ingest/internal/ingest"
	"lecture-ingest/internal/pkg/pdfextract"
)

// PDFImageCaptioner pulls embedded images out of PDFs with poppler's
// pdfimages and captions each of them.
type PDFImageCaptioner struct {
	pdfimages string
	captioner Captioner
	run       Runner
	pageCount func(path string) (int, error)
}

func NewPDFImageCaptioner(pdfimagesPath string, captioner Captioner) *PDFImageCaptioner {
	if pdfimagesPath == "" {
		pdfimagesPath = "pdfimages"
	}
	return &PDFImageCaptioner{
		pdfimages: pdfimagesPath,
		captioner: captioner,
		run:       ExecRunner,
		pageCount: pdfextract.PageCount,
	}
}

func (p *PDFImageCaptioner) ExtractAndCaptionImages(ctx context.Context, pdfDir, imageOutDir string) ([]ingest.Document, error) {
	names, err := listFiles(pdfDir)
	if err != nil {
		return nil, err
	}

	var docs []ingest.Document
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(pdfDir, name)
		pages, err := p.pageCount(path)
		if err != nil {
			return nil, fmt.Errorf("validate %s failed: %w", name, err)
		}

		prefix := stem(name)
		if _, err := p.run(ctx, nil, p.pdfimages, "-png", "-p", path, filepath.Join(imageOutDir, prefix)); err != nil {
			return nil, fmt.Errorf("extract images from %s failed: %w", name, err)
		}

		images, err := filesWithPrefix(imageOutDir, prefix+"-", ".png")
		if err != nil {
			return nil, err
		}
		for _, img := range images {
			page, num, ok := parseImageName(img, prefix)
			if !ok {
				continue
			}
			data, err := os.ReadFile(filepath.Join(imageOutDir, img))
			if err != nil {
				return nil, fmt.Errorf("read image %s failed: %w", img, err)
			}
			caption, err := p.captioner.Caption(ctx, data)
			if err != nil {
				return nil, fmt.Errorf("caption %s page %d failed: %w", name, page, err)
			}
			docs = append(docs, ingest.Document{
				Text:   caption,
				Source: name,
				Metadata: map[string]any{
					"page":  page,
					"image": num,
					"pages": pages,
				},
			})
		}
	}
	return docs, nil
}

// parseImageName reads "<prefix>-PPP-NNN.png" as written by pdfimages -p.
func parseImageName(name, prefix string) (page, num int, ok bool) {
	rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ".png")
	parts := strings.Split(rest, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	page, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	num, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return page, num, true
}
