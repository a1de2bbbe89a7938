package loader

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"docrag/internal/domain"
)

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH; install poppler-utils")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, ErrPDFToolNotFound
	}
	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// PDFExtractor shells out to pdftotext.
type PDFExtractor struct {
	Runner CommandRunner
}

func (e *PDFExtractor) Extract(ctx context.Context, src Source) (domain.SourceDocument, error) {
	out, err := e.Runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", src.path(), "-")
	if err != nil {
		return domain.SourceDocument{}, extractionFailed(src.Origin, fmt.Errorf("pdftotext failed: %w", err))
	}
	// form feeds separate pages
	text := strings.ReplaceAll(string(out), "\f", "\n")
	return domain.SourceDocument{Text: strings.TrimSpace(strings.ToValidUTF8(text, "\uFFFD"))}, nil
}
