package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"docrag/internal/domain"
)

// DOCXExtractor reads the text runs of word/document.xml, one line per paragraph.
type DOCXExtractor struct {
	MaxBytes int64
}

func (e *DOCXExtractor) Extract(_ context.Context, src Source) (domain.SourceDocument, error) {
	data, err := readFile(src.path(), e.MaxBytes)
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	body, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	text, err := parseDocumentXML(body)
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	doc := domain.SourceDocument{Text: text}
	if core, err := readZipEntry(zr, "docProps/core.xml"); err == nil {
		var props struct {
			Title string `xml:"title"`
		}
		if xml.Unmarshal(core, &props) == nil {
			doc.Title = strings.TrimSpace(props.Title)
		}
	}
	return doc, nil
}

var errMissingEntry = errors.New("missing archive entry")

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: %s", errMissingEntry, name)
}

// parseDocumentXML walks the token stream so text inside tables and
// nested elements is kept. Tabs and breaks become whitespace.
func parseDocumentXML(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		b      strings.Builder
		inText bool
	)
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
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
