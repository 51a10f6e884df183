// Package processors implements keep's pure, store-free processing
// functions (summarization, OCR). They encapsulate the "compute" half
// of background work so the same logic can run locally inside the
// pending-queue drain loop or be delegated to a remote task service —
// see internal/remoteclient.
package processors

import (
	"context"
	"sort"
	"strings"
	"unicode"

	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/keepid"
)

// Summarizer produces a short summary of content, optionally informed
// by surrounding tag/context text gathered by the caller.
type Summarizer interface {
	Summarize(ctx context.Context, content, context string) (string, error)
}

// Extractor produces text from a single document unit: an image (OCR),
// or one page of a multi-page document (text-layer or rendered-page
// OCR, selected by ocr). PageCount reports how many pages path has.
type Extractor interface {
	Extract(ctx context.Context, path, contentType string) (string, error)
	PageCount(ctx context.Context, path string) (int, error)
	ExtractPage(ctx context.Context, path string, page int, ocr bool) (string, error)
}

// ProcessSummarize summarizes content via provider. Pure — no store access.
func ProcessSummarize(ctx context.Context, content, context string, provider Summarizer) (string, error) {
	if provider == nil {
		return "", kerrors.ProviderUnavailable("no summarization provider configured")
	}
	return provider.Summarize(ctx, content, context)
}

// OCRResult is the output of ProcessOCR, ready for the caller to apply
// to DocumentStore/VectorStore.
type OCRResult struct {
	Summary         string
	Content         string
	ContentHash     string
	ContentHashFull string
}

// ProcessOCR summarizes already-OCR'd text (summarizing only if it
// exceeds maxSummaryLength) and computes its content hashes. Pure — no
// store access.
func ProcessOCR(ctx context.Context, fullContent string, maxSummaryLength int, context string, provider Summarizer) (OCRResult, error) {
	var summary string
	switch {
	case len(fullContent) <= maxSummaryLength:
		summary = fullContent
	case provider != nil:
		s, err := provider.Summarize(ctx, fullContent, context)
		if err != nil {
			return OCRResult{}, err
		}
		summary = s
	default:
		summary = fullContent[:maxSummaryLength] + "..."
	}

	short, full := keepid.ContentHash(fullContent)
	return OCRResult{
		Summary:         summary,
		Content:         fullContent,
		ContentHash:     short,
		ContentHashFull: full,
	}, nil
}

// OCRImage extracts and cleans text from a single image file, rejecting
// low-confidence or too-short results.
func OCRImage(ctx context.Context, path, contentType string, extractor Extractor) (string, bool, error) {
	if extractor == nil {
		return "", false, kerrors.Dependency("no content extractor configured")
	}
	text, err := extractor.Extract(ctx, path, contentType)
	if err != nil {
		return "", false, kerrors.Wrap(kerrors.KindProviderTransient, err)
	}
	if text == "" {
		return "", false, nil
	}
	cleaned := CleanOCRText(text)
	if EstimateOCRConfidence(cleaned) < 0.3 || len(cleaned) <= 10 {
		return "", false, nil
	}
	return cleaned, true, nil
}

// OCRPDF interleaves a PDF's existing text-layer pages with freshly
// OCR'd pages (the indices in ocrPages), in page order. Each OCR'd page
// is cleaned and confidence-filtered the same as OCRImage; a page that
// fails that filter is dropped rather than failing the whole document.
func OCRPDF(ctx context.Context, path string, ocrPages []int, extractor Extractor) (string, bool, error) {
	if extractor == nil {
		return "", false, kerrors.Dependency("no content extractor configured")
	}
	n, err := extractor.PageCount(ctx, path)
	if err != nil {
		return "", false, kerrors.Wrap(kerrors.KindProviderTransient, err)
	}

	ocrSet := make(map[int]bool, len(ocrPages))
	for _, p := range ocrPages {
		ocrSet[p] = true
	}

	type page struct {
		idx  int
		text string
	}
	var pages []page
	for i := 0; i < n; i++ {
		if ocrSet[i] {
			text, err := extractor.ExtractPage(ctx, path, i, true)
			if err != nil {
				continue
			}
			cleaned := CleanOCRText(text)
			if EstimateOCRConfidence(cleaned) < 0.3 || len(cleaned) <= 10 {
				continue
			}
			pages = append(pages, page{i, cleaned})
			continue
		}
		text, err := extractor.ExtractPage(ctx, path, i, false)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, page{i, text})
	}

	if len(pages) == 0 {
		return "", false, nil
	}
	sort.Slice(pages, func(a, b int) bool { return pages[a].idx < pages[b].idx })
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.text
	}
	return strings.Join(parts, "\n\n"), true, nil
}

// CleanOCRText drops lines that look like OCR garbage: blank or
// single-character lines, long no-space blobs, and lines with no
// alphanumeric content at all.
func CleanOCRText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) <= 1 {
			continue
		}
		if len(trimmed) > 20 && !strings.Contains(trimmed, " ") {
			continue
		}
		if !containsAlnum(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}

// EstimateOCRConfidence scores text by the fraction of its runes that
// are letters or digits; pure noise (symbols only) scores 0.
func EstimateOCRConfidence(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0.0
	}
	var alnum int
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return float64(alnum) / float64(len(runes))
}

func containsAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
