package keeper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hughpyle/keep/internal/remoteclient"
)

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, content, context string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

type stubAnalyzer struct {
	called bool
	err    error
}

func (a *stubAnalyzer) Analyze(ctx context.Context, collection, id, content string, metadata map[string]any) error {
	a.called = true
	return a.err
}

func TestProcessPending_SummarizeUpdatesSummaryInPlace(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()
	k.SetSummarizer(&stubSummarizer{summary: "a tidy summary"})

	_, err := k.Upsert(ctx, "note1", "original content", map[string]string{"project": "keep"}, "", nil, "")
	require.NoError(t, err)
	require.NoError(t, k.queue.Enqueue(ctx, "note1", k.collection, "original content", "summarize", nil))

	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Failed)

	doc, err := k.docs.Get(ctx, k.collection, "note1")
	require.NoError(t, err)
	assert.Equal(t, "a tidy summary", doc.Summary)

	entry, err := k.vectors.Get(ctx, "note1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "a tidy summary", entry.Summary)
}

func TestProcessPending_OCRAppliesSummaryAndHash(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()
	k.SetSummarizer(&stubSummarizer{summary: "condensed ocr text"})

	_, err := k.Upsert(ctx, "doc1", "placeholder", nil, "", nil, "")
	require.NoError(t, err)
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, k.queue.Enqueue(ctx, "doc1", k.collection, string(long), "ocr", nil))

	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	doc, err := k.docs.Get(ctx, k.collection, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "condensed ocr text", doc.Summary)
	assert.NotEmpty(t, doc.ContentHash)
}

func TestProcessPending_UnknownTaskTypeFails(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	require.NoError(t, k.queue.Enqueue(ctx, "x1", k.collection, "content", "bogus", nil))

	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Errors, 1)
}

func TestProcessPending_AbandonsAtMaxAttempts(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()
	k.cfg.Daemon.MaxSummaryAttempts = 1

	require.NoError(t, k.queue.Enqueue(ctx, "x1", k.collection, "content", "bogus", nil))
	first, err := k.queue.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, k.queue.FailOrAbandon(ctx, first[0], 1, "forced failure"))

	require.NoError(t, k.queue.Enqueue(ctx, "x1", k.collection, "content", "bogus", nil))
	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Abandoned)
}

func TestProcessPending_AnalyzeWithNoAnalyzerIsNonFatalNoop(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	require.NoError(t, k.queue.Enqueue(ctx, "x1", k.collection, "content", "analyze", nil))
	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
}

func TestProcessPending_AnalyzeCallsConfiguredAnalyzer(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()
	analyzer := &stubAnalyzer{}
	k.SetAnalyzer(analyzer)

	require.NoError(t, k.queue.Enqueue(ctx, "x1", k.collection, "content", "analyze", nil))
	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.True(t, analyzer.called)
}

func TestDispatchRemote_LocalOnlyMetadataSkipsDelegationEvenWithRemoteConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("remote service should not be contacted for a _local_only task, got %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	k := newTestKeeper(t)
	ctx := context.Background()
	k.SetSummarizer(&stubSummarizer{summary: "local summary"})
	remote, err := remoteclient.New(srv.URL, "key", "")
	require.NoError(t, err)
	k.SetRemoteClient(remote)

	_, err = k.Upsert(ctx, "note1", "original content", nil, "", nil, "")
	require.NoError(t, err)
	require.NoError(t, k.queue.Enqueue(ctx, "note1", k.collection, "original content", "summarize",
		map[string]any{"_local_only": true}))

	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	doc, err := k.docs.Get(ctx, k.collection, "note1")
	require.NoError(t, err)
	assert.Equal(t, "local summary", doc.Summary)
}

func TestDispatchRemote_SubmitsThenPollsToCompletion(t *testing.T) {
	var submitted, polled, acked bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
			submitted = true
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"task_id":"remote-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/tasks/remote-1":
			polled = true
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"completed","task_type":"summarize","result":{"summary":"remote summary"}}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/tasks/remote-1":
			acked = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	k := newTestKeeper(t)
	ctx := context.Background()
	remote, err := remoteclient.New(srv.URL, "key", "")
	require.NoError(t, err)
	k.SetRemoteClient(remote)

	_, err = k.Upsert(ctx, "note1", "original content", nil, "", nil, "")
	require.NoError(t, err)
	require.NoError(t, k.queue.Enqueue(ctx, "note1", k.collection, "original content", "summarize", nil))

	// First pass: submits and re-enqueues for polling, not yet done.
	result, err := k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.True(t, submitted)

	// Second pass: polls, finds it completed, applies the result.
	result, err = k.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.True(t, polled)
	assert.True(t, acked)

	doc, err := k.docs.Get(ctx, k.collection, "note1")
	require.NoError(t, err)
	assert.Equal(t, "remote summary", doc.Summary)
}

func TestFormatTagContext_SortsKeys(t *testing.T) {
	assert.Equal(t, "a=1, b=2", formatTagContext(map[string]string{"b": "2", "a": "1"}))
}

func TestToInt_HandlesJSONNumberTypes(t *testing.T) {
	v, ok := toInt(float64(3))
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = toInt(int64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = toInt("nope")
	assert.False(t, ok)
}

func TestCloneMetadata_DoesNotAliasSource(t *testing.T) {
	src := map[string]any{"a": 1}
	clone := cloneMetadata(src)
	clone["b"] = 2
	_, present := src["b"]
	assert.False(t, present)
}
