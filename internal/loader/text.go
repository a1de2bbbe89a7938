package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"docrag/internal/domain"
)

// TextExtractor reads plain text and Markdown files as-is.
type TextExtractor struct {
	MaxBytes int64
}

func (e *TextExtractor) Extract(_ context.Context, src Source) (domain.SourceDocument, error) {
	data, err := readFile(src.path(), e.MaxBytes)
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, err)
	}
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	return domain.SourceDocument{Text: strings.TrimPrefix(text, "\ufeff")}, nil
}

func readFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f, maxBytes)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("larger than %d bytes", maxBytes)
	}
	return data, nil
}
