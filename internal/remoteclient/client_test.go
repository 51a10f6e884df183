package remoteclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonHTTPSNonLocalhost(t *testing.T) {
	_, err := New("http://example.com", "key", "")
	assert.Error(t, err)
}

func TestNew_AllowsLocalhostOverHTTP(t *testing.T) {
	c, err := New("http://localhost:8080", "key", "")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNew_AllowsHTTPS(t *testing.T) {
	c, err := New("https://example.com", "key", "")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSubmit_SucceedsFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "POST", r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t1"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	id, err := c.Submit(t.Context(), "summarize", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
}

func TestSubmit_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t2"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	id, err := c.Submit(t.Context(), "ocr", "content", nil)
	require.NoError(t, err)
	assert.Equal(t, "t2", id)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestSubmit_4xxIsPermanentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	_, err = c.Submit(t.Context(), "summarize", "x", nil)
	require.Error(t, err)
}

func TestSubmit_HonorsRetryAfterOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t3"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	id, err := c.Submit(t.Context(), "summarize", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "t3", id)
}

func TestPoll_NotFoundMapsToStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	result, err := c.Poll(t.Context(), "missing")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, result.Status)
}

func TestPoll_CompletedReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "completed",
			"task_type": "summarize",
			"result":    map[string]any{"summary": "done"},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	result, err := c.Poll(t.Context(), "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "done", result.Result["summary"])
}

func TestAcknowledge_404IsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	assert.NoError(t, c.Acknowledge(t.Context(), "t1"))
}

func TestAvailable_CachesAfterFirstCheck(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"processors": []map[string]string{{"task_type": "summarize"}},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	assert.True(t, c.Available(t.Context()))
	assert.True(t, c.Available(t.Context()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubmit_SetsXProjectHeaderWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "research", r.Header.Get("X-Project"))
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t1"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "research")
	require.NoError(t, err)

	_, err = c.Submit(t.Context(), "summarize", "x", nil)
	require.NoError(t, err)
}

func TestRetryAfterDelay_CapsAt60Seconds(t *testing.T) {
	assert.Equal(t, maxRetryAfter, retryAfterDelay("3600"))
	assert.Equal(t, 5*time.Second, retryAfterDelay("not-a-number"))
	assert.Equal(t, 2*time.Second, retryAfterDelay(strconv.Itoa(2)))
}

func TestPoll_CircuitOpensAfterRepeatedFailuresThenFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", "")
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = c.Poll(t.Context(), "t1")
		assert.Error(t, lastErr)
	}

	srv.Close() // subsequent requests would now fail to connect at all
	_, err = c.Poll(t.Context(), "t1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}
