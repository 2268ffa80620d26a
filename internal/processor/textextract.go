package processor

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var errNotArchive = errors.New("file is not a valid zip archive")

// extractText dispatches on extension. Formats without a dedicated reader
// are returned as-is.
func extractText(name string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".docx":
		return officeText(data, func(n string) bool { return n == "word/document.xml" }, nil)
	case ".pptx":
		return officeText(data, isSlide, slideOrder)
	case ".xlsx":
		return officeText(data, func(n string) bool { return n == "xl/sharedStrings.xml" }, nil)
	case ".epub":
		return epubText(data)
	case ".html", ".htm":
		return stripHTML(string(data)), nil
	case ".xml":
		return xmlText(bytes.NewReader(data), "")
	case ".ipynb":
		return notebookText(data)
	default:
		if !utf8.Valid(data) {
			return strings.ToValidUTF8(string(data), ""), nil
		}
		return string(data), nil
	}
}

func openZip(data []byte) (*zip.Reader, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotArchive, err)
	}
	return r, nil
}

// officeText concatenates the <t> runs of every matching part of an OOXML archive.
func officeText(data []byte, match func(string) bool, less func(a, b string) bool) (string, error) {
	r, err := openZip(data)
	if err != nil {
		return "", err
	}
	var parts []*zip.File
	for _, f := range r.File {
		if match(f.Name) {
			parts = append(parts, f)
		}
	}
	if less != nil {
		sort.Slice(parts, func(i, j int) bool { return less(parts[i].Name, parts[j].Name) })
	}

	var out strings.Builder
	for _, f := range parts {
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s failed: %w", f.Name, err)
		}
		text, err := xmlText(rc, "t")
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s failed: %w", f.Name, err)
		}
		out.WriteString(text)
		out.WriteString("\n\n")
	}
	return out.String(), nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func isSlide(name string) bool {
	return slideName.MatchString(name)
}

func slideOrder(a, b string) bool {
	na, _ := strconv.Atoi(slideName.FindStringSubmatch(a)[1])
	nb, _ := strconv.Atoi(slideName.FindStringSubmatch(b)[1])
	return na < nb
}

var xmlBreaks = map[string]string{
	"p":   "\n",
	"si":  "\n",
	"br":  "\n",
	"tab": " ",
}

// xmlText collects character data. With textElem set, only the content of
// elements with that local name is kept; paragraph-like closers add breaks.
func xmlText(r io.Reader, textElem string) (string, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	var out strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if textElem != "" && t.Name.Local == textElem {
				depth++
			}
		case xml.EndElement:
			if textElem != "" && t.Name.Local == textElem && depth > 0 {
				depth--
			}
			if sep, ok := xmlBreaks[t.Name.Local]; ok {
				out.WriteString(sep)
			}
		case xml.CharData:
			if textElem == "" {
				out.Write(t)
				out.WriteString(" ")
			} else if depth > 0 {
				out.Write(t)
			}
		}
	}
	return out.String(), nil
}

func epubText(data []byte) (string, error) {
	r, err := openZip(data)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, f := range r.File {
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xhtml", ".html", ".htm":
		default:
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s failed: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s failed: %w", f.Name, err)
		}
		out.WriteString(stripHTML(string(body)))
		out.WriteString("\n\n")
	}
	return out.String(), nil
}

var (
	scriptTag    = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag     = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTag      = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockClose   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>|<br\s*/?>`)
	allTags      = regexp.MustCompile(`<[^>]+>`)
)

func stripHTML(content string) string {
	for _, re := range []*regexp.Regexp{scriptTag, styleTag, headTag, htmlComments} {
		content = re.ReplaceAllString(content, "")
	}
	content = blockClose.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, " ")
	return html.UnescapeString(content)
}

type notebook struct {
	Cells []struct {
		CellType string          `json:"cell_type"`
		Source   json.RawMessage `json:"source"`
	} `json:"cells"`
}

// notebookText keeps markdown and code cell sources; outputs are ignored.
func notebookText(data []byte) (string, error) {
	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return "", fmt.Errorf("parse notebook failed: %w", err)
	}
	var out strings.Builder
	for _, cell := range nb.Cells {
		if cell.CellType != "markdown" && cell.CellType != "code" {
			continue
		}
		var lines []string
		if err := json.Unmarshal(cell.Source, &lines); err != nil {
			var single string
			if err := json.Unmarshal(cell.Source, &single); err != nil {
				continue
			}
			lines = []string{single}
		}
		out.WriteString(strings.Join(lines, ""))
		out.WriteString("\n\n")
	}
	return out.String(), nil
}
