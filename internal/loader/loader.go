// Package loader turns an uploaded file or a URL into plain text.
package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"docrag/internal/domain"
)

// Source names what to load. Origin is the user-visible name used for
// duplicate detection; Path is where the bytes live and defaults to Origin.
type Source struct {
	Origin string
	Path   string
}

func (s Source) path() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Origin
}

// Extractor produces the text of one kind of source.
type Extractor interface {
	Extract(ctx context.Context, src Source) (domain.SourceDocument, error)
}

// Loader dispatches each source to the extractor for its kind. It keeps no
// state between calls.
type Loader struct {
	extractors map[domain.SourceKind]Extractor
}

type options struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	runner     CommandRunner
}

// Option configures a Loader.
type Option func(*options)

// WithHTTPClient sets the client used for URL sources.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithUserAgent sets the User-Agent sent for URL sources.
func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithMaxBytes caps how much of a single source is read.
func WithMaxBytes(n int64) Option { return func(o *options) { o.maxBytes = n } }

// WithCommandRunner replaces the runner used to call pdftotext.
func WithCommandRunner(r CommandRunner) Option { return func(o *options) { o.runner = r } }

const (
	DefaultUserAgent = "docrag/1.0 (+https://github.com/docrag)"
	DefaultMaxBytes  = 32 << 20
	defaultTimeout   = 30 * time.Second
)

func New(opts ...Option) *Loader {
	o := options{userAgent: DefaultUserAgent, maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if o.runner == nil {
		o.runner = ExecRunner{}
	}
	return &Loader{extractors: map[domain.SourceKind]Extractor{
		domain.KindText: &TextExtractor{MaxBytes: o.maxBytes},
		domain.KindDOCX: &DOCXExtractor{MaxBytes: o.maxBytes},
		domain.KindPDF:  &PDFExtractor{Runner: o.runner},
		domain.KindWeb:  &WebExtractor{Client: o.httpClient, UserAgent: o.userAgent, MaxBytes: o.maxBytes},
	}}
}

// Load extracts the text of src. Unknown kinds fail with
// domain.ErrUnsupportedSourceKind, extractor failures with
// domain.ErrExtractionFailed.
func (l *Loader) Load(ctx context.Context, src Source) (domain.SourceDocument, error) {
	kind, err := KindOf(src.Origin)
	if err != nil {
		return domain.SourceDocument{}, err
	}
	ex, ok := l.extractors[kind]
	if !ok {
		return domain.SourceDocument{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedSourceKind, kind)
	}
	doc, err := ex.Extract(ctx, src)
	if err != nil {
		return domain.SourceDocument{}, err
	}
	doc.Origin = src.Origin
	doc.Kind = kind
	if doc.Title == "" {
		doc.Title = titleFromName(src.Origin)
	}
	return doc, nil
}

// KindOf classifies an origin by URL scheme or file extension.
func KindOf(origin string) (domain.SourceKind, error) {
	if IsURL(origin) {
		return domain.KindWeb, nil
	}
	switch strings.ToLower(filepath.Ext(origin)) {
	case ".txt", ".md", ".markdown":
		return domain.KindText, nil
	case ".docx":
		return domain.KindDOCX, nil
	case ".pdf":
		return domain.KindPDF, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedSourceKind, origin)
}

// IsURL reports whether origin is an http or https URL.
func IsURL(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func titleFromName(origin string) string {
	if IsURL(origin) {
		return origin
	}
	name := filepath.Base(origin)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func extractionFailed(origin string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrExtractionFailed, origin, err)
}
