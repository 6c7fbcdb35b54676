package upstream

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ogg-bytes"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	start := time.Now()
	res := c.Fetch(t.Context(), "secret", start, start.Add(time.Minute))
	require.Equal(t, OutcomeBlob, res.Outcome)
	assert.Equal(t, []byte("ogg-bytes"), res.Audio)
}

func TestFetchNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	start := time.Now()
	res := c.Fetch(t.Context(), "secret", start, start.Add(time.Minute))
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.NoError(t, res.Err)
}

func TestFetchTransientGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	start := time.Now()
	res := c.Fetch(t.Context(), "secret", start, start.Add(time.Minute))
	assert.Equal(t, OutcomeTransient, res.Outcome)
	assert.Error(t, res.Err)
}

func TestFetchFatalUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	start := time.Now()
	res := c.Fetch(t.Context(), "bad-key", start, start.Add(time.Minute))
	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.Error(t, res.Err)
}

func TestFetchRejectsOversizedWindow(t *testing.T) {
	c := New("http://example.invalid", time.Second)
	start := time.Now()
	res := c.Fetch(t.Context(), "secret", start, start.Add(3*time.Hour))
	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.Error(t, res.Err)
}

func TestFetchRejectsZeroWidthWindow(t *testing.T) {
	c := New("http://example.invalid", time.Second)
	start := time.Now()
	res := c.Fetch(t.Context(), "secret", start, start)
	assert.Equal(t, OutcomeFatal, res.Outcome)
}
