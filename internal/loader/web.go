package loader

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"docrag/internal/domain"
)

// WebExtractor fetches a page and reduces its HTML to readable text.
type WebExtractor struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

func (e *WebExtractor) Extract(ctx context.Context, src Source) (domain.SourceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.path(), nil)
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	resp, err := e.Client.Do(req)
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return domain.SourceDocument{}, extractionFailed(src.Origin, fmt.Errorf("GET returned %s", resp.Status))
	}
	body, err := readLimited(resp.Body, e.MaxBytes)
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/plain" || mediaType == "text/markdown" {
		return domain.SourceDocument{Text: strings.TrimSpace(strings.ToValidUTF8(string(body), "\uFFFD"))}, nil
	}
	title, text, err := htmlText(body)
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	return domain.SourceDocument{Title: title, Text: text}, nil
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Template: true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Tr: true, atom.Blockquote: true, atom.Pre: true, atom.Table: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Ul: true, atom.Ol: true, atom.Dd: true, atom.Dt: true,
}

// htmlText returns the document title and its visible text, one block per line.
func htmlText(data []byte) (string, string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}
	var (
		b    strings.Builder
		walk func(n *html.Node)
	)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if blocks[n.DataAtom] {
				b.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Td || n.DataAtom == atom.Th) {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(root)
	title := findTitle(root)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return title, strings.Join(out, "\n"), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return strings.Join(strings.Fields(b.String()), " ")
	}
	if n.Type == html.ElementNode && n.DataAtom == atom.Svg {
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
