package core

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/elum-utils/gatekeeper/engine"
	"github.com/elum-utils/gatekeeper/models"
)

// ScanResult is the OCR answer with the prohibited terms found in it.
type ScanResult struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	FoundWords []string `json:"foundWords,omitempty"`
}

// ImageResult is the outcome of moderating the text inside an image.
type ImageResult struct {
	Extracted models.ExtractedText
	Result    models.Result
	// ExtractionFailed is set when OCR failed and the image was treated as
	// carrying no text.
	ExtractionFailed bool
}

// Scan extracts text from an image and lists the prohibited terms it
// contains. Validation and extraction errors are returned to the caller.
func (c *Core) Scan(ctx context.Context, img models.Image) (ScanResult, error) {
	ext, err := c.extract(ctx, img)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{
		Text:       ext.Text,
		Confidence: ext.Confidence,
		FoundWords: engine.Terms(c.engine.Find(ext.Text)),
	}, nil
}

// ModerateImage extracts text from an image and moderates it. An OCR failure
// never blocks the submission: the image is treated as carrying no text.
func (c *Core) ModerateImage(ctx context.Context, img models.Image, requestContext string) (ImageResult, error) {
	if err := c.validate(); err != nil {
		return ImageResult{}, err
	}
	var out ImageResult
	ext, err := c.extract(ctx, img)
	switch {
	case errors.Is(err, models.ErrValidation):
		return ImageResult{}, err
	case err != nil:
		c.logWarn("ocr failed, treating image as text-free", map[string]any{
			"error":   err.Error(),
			"context": requestContext,
		})
		out.ExtractionFailed = true
		ext = models.ExtractedText{}
	}
	out.Extracted = ext

	res, err := c.Moderate(ctx, models.Request{Text: truncateUTF8(ext.Text, c.maxTextBytes), Context: requestContext})
	if err != nil {
		return ImageResult{}, err
	}
	out.Result = res
	return out, nil
}

func (c *Core) extract(ctx context.Context, img models.Image) (models.ExtractedText, error) {
	if c.extractor == nil {
		return models.ExtractedText{}, errors.New("core: text extractor is nil")
	}
	start := time.Now()
	ext, err := c.extractor.Extract(ctx, img)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		c.metrics.ObserveExtraction("ok", elapsed)
	case errors.Is(err, models.ErrValidation):
		c.metrics.ObserveExtraction("invalid", elapsed)
	default:
		c.metrics.ObserveExtraction("error", elapsed)
		c.logWarn("ocr extraction failed", map[string]any{"error": err.Error(), "elapsed_ms": elapsed.Milliseconds()})
	}
	return ext, err
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
