package parser

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/p2psettle/backend/internal/models"
)

// TextExtractor converts a raw document into plain text. The PDF library is
// kept behind this boundary so the parser can be tested with canned text and
// the extraction call can be retried and timed out independently.
type TextExtractor interface {
	ExtractText(ctx context.Context, document []byte) (string, error)
}

// PDFExtractor extracts plain text from PDF bytes.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) ExtractText(ctx context.Context, document []byte) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("pdf extraction panic: %v", r)}
			}
		}()
		reader, err := pdf.NewReader(bytes.NewReader(document), int64(len(document)))
		if err != nil {
			done <- result{err: err}
			return
		}
		var buf bytes.Buffer
		for i := 1; i <= reader.NumPage(); i++ {
			p := reader.Page(i)
			if p.V.IsNull() {
				continue
			}
			text, err := p.GetPlainText(nil)
			if err != nil {
				continue
			}
			buf.WriteString(text)
			buf.WriteString("\n")
		}
		done <- result{text: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.text, res.err
	}
}

// RetryingExtractor wraps an extractor with a per-attempt timeout and a
// bounded retry count. After the last attempt fails the document is left
// pending, never marked as a parse failure.
type RetryingExtractor struct {
	inner   TextExtractor
	timeout time.Duration
	retries int
}

func NewRetryingExtractor(inner TextExtractor, timeout time.Duration, retries int) *RetryingExtractor {
	if retries < 1 {
		retries = 1
	}
	return &RetryingExtractor{inner: inner, timeout: timeout, retries: retries}
}

func (e *RetryingExtractor) ExtractText(ctx context.Context, document []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		text, err := e.inner.ExtractText(attemptCtx, document)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Printf("[EXTRACT] attempt %d/%d failed: %v", attempt, e.retries, err)
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	return "", fmt.Errorf("%w: %v", models.ErrExternalDependency, lastErr)
}
