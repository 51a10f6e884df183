package processors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, content, context string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

type stubExtractor struct {
	text     string
	err      error
	pages    []string
	pageErrs map[int]error
}

func (s *stubExtractor) Extract(ctx context.Context, path, contentType string) (string, error) {
	return s.text, s.err
}

func (s *stubExtractor) PageCount(ctx context.Context, path string) (int, error) {
	return len(s.pages), nil
}

func (s *stubExtractor) ExtractPage(ctx context.Context, path string, page int, ocr bool) (string, error) {
	if err, ok := s.pageErrs[page]; ok {
		return "", err
	}
	return s.pages[page], nil
}

func TestCleanOCRText_StripsShortLines(t *testing.T) {
	assert.Equal(t, "Hello World", CleanOCRText("a\nHello World\nb"))
}

func TestCleanOCRText_StripsNoSpaceBlobs(t *testing.T) {
	assert.Equal(t, "", CleanOCRText("abcdefghijklmnopqrstuvwxyz"))
}

func TestCleanOCRText_StripsNonAlphanumericLines(t *testing.T) {
	assert.Equal(t, "Hello", CleanOCRText("---\n===\nHello"))
}

func TestCleanOCRText_PreservesGoodLines(t *testing.T) {
	cleaned := CleanOCRText("Chapter 1\nThis is real content.\nPage 42")
	assert.Contains(t, cleaned, "Chapter 1")
	assert.Contains(t, cleaned, "This is real content.")
	assert.Contains(t, cleaned, "Page 42")
}

func TestCleanOCRText_EmptyInput(t *testing.T) {
	assert.Equal(t, "", CleanOCRText(""))
}

func TestCleanOCRText_AllJunk(t *testing.T) {
	assert.Equal(t, "", CleanOCRText("a\n.\n---"))
}

func TestEstimateOCRConfidence_Empty(t *testing.T) {
	assert.Equal(t, 0.0, EstimateOCRConfidence(""))
}

func TestEstimateOCRConfidence_GoodText(t *testing.T) {
	assert.Greater(t, EstimateOCRConfidence("Hello World"), 0.8)
}

func TestEstimateOCRConfidence_Garbage(t *testing.T) {
	assert.Equal(t, 0.0, EstimateOCRConfidence("!@#$%^&*()"))
}

func TestEstimateOCRConfidence_Mixed(t *testing.T) {
	conf := EstimateOCRConfidence("ab!!")
	assert.GreaterOrEqual(t, conf, 0.4)
	assert.LessOrEqual(t, conf, 0.6)
}

func TestProcessSummarize_CallsProvider(t *testing.T) {
	provider := &stubSummarizer{summary: "a short summary"}
	summary, err := ProcessSummarize(context.Background(), "long content", "", provider)
	require.NoError(t, err)
	assert.Equal(t, "a short summary", summary)
	assert.Equal(t, 1, provider.calls)
}

func TestProcessSummarize_NoProviderIsUnavailable(t *testing.T) {
	_, err := ProcessSummarize(context.Background(), "content", "", nil)
	assert.Error(t, err)
}

func TestProcessOCR_ShortContentSkipsSummarizer(t *testing.T) {
	provider := &stubSummarizer{summary: "should not be called"}
	result, err := ProcessOCR(context.Background(), "short text", 500, "", provider)
	require.NoError(t, err)
	assert.Equal(t, "short text", result.Summary)
	assert.Zero(t, provider.calls)
	assert.NotEmpty(t, result.ContentHash)
	assert.Contains(t, result.ContentHashFull, result.ContentHash)
}

func TestProcessOCR_LongContentSummarizes(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	provider := &stubSummarizer{summary: "condensed"}
	result, err := ProcessOCR(context.Background(), string(long), 10, "", provider)
	require.NoError(t, err)
	assert.Equal(t, "condensed", result.Summary)
	assert.Equal(t, 1, provider.calls)
}

func TestProcessOCR_LongContentNoProviderTruncates(t *testing.T) {
	long := make([]byte, 20)
	for i := range long {
		long[i] = 'x'
	}
	result, err := ProcessOCR(context.Background(), string(long), 10, "", nil)
	require.NoError(t, err)
	assert.True(t, len(result.Summary) == 13)
	assert.Contains(t, result.Summary, "...")
}

func TestOCRImage_RejectsLowConfidence(t *testing.T) {
	extractor := &stubExtractor{text: "!@#$%^&*()"}
	text, ok, err := OCRImage(context.Background(), "/tmp/x.png", "image/png", extractor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestOCRImage_AcceptsGoodText(t *testing.T) {
	extractor := &stubExtractor{text: "This is a perfectly legible OCR result."}
	text, ok, err := OCRImage(context.Background(), "/tmp/x.png", "image/png", extractor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "This is a perfectly legible OCR result.", text)
}

func TestOCRImage_NoExtractorIsDependencyError(t *testing.T) {
	_, _, err := OCRImage(context.Background(), "/tmp/x.png", "image/png", nil)
	assert.Error(t, err)
}

func TestOCRImage_ExtractErrorIsTransient(t *testing.T) {
	extractor := &stubExtractor{err: errors.New("boom")}
	_, _, err := OCRImage(context.Background(), "/tmp/x.png", "image/png", extractor)
	assert.Error(t, err)
}

func TestOCRPDF_InterleavesTextAndOCRPagesInOrder(t *testing.T) {
	extractor := &stubExtractor{
		pages: []string{
			"",
			"Real text layer content on page two.",
			"",
		},
	}
	extractor.pageErrs = map[int]error{}
	// pages 0 and 2 need OCR; page 1 has a text layer.
	// The stub's ExtractPage returns pages[i] regardless of ocr flag, so
	// give pages 0 and 2 legible OCR text by overriding via a second stub.
	ocrExtractor := &recordingExtractor{
		stubExtractor: extractor,
		ocrText: map[int]string{
			0: "First page OCR result with real words.",
			2: "Third page OCR result also legible.",
		},
	}
	text, ok, err := OCRPDF(context.Background(), "/tmp/doc.pdf", []int{0, 2}, ocrExtractor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, indexOf(text, "First page") < indexOf(text, "Real text layer"))
	assert.True(t, indexOf(text, "Real text layer") < indexOf(text, "Third page"))
}

func TestOCRPDF_NoExtractorIsDependencyError(t *testing.T) {
	_, _, err := OCRPDF(context.Background(), "/tmp/doc.pdf", []int{0}, nil)
	assert.Error(t, err)
}

func TestOCRPDF_AllPagesRejectedReturnsFalse(t *testing.T) {
	extractor := &stubExtractor{pages: []string{""}}
	text, ok, err := OCRPDF(context.Background(), "/tmp/doc.pdf", []int{0}, extractor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, text)
}

// recordingExtractor overrides OCR'd pages with distinct legible text
// while delegating text-layer pages to the wrapped stub.
type recordingExtractor struct {
	*stubExtractor
	ocrText map[int]string
}

func (r *recordingExtractor) ExtractPage(ctx context.Context, path string, page int, ocr bool) (string, error) {
	if ocr {
		return r.ocrText[page], nil
	}
	return r.stubExtractor.ExtractPage(ctx, path, page, ocr)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
