// Package upstream fetches pendant-recorded audio from the third-party
// wearable service (C2). A fetch result is always one of a small set of
// tagged outcomes; callers branch on Outcome rather than on error type,
// since a "no audio for this window" response is routine, not failure.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stokedbloke/gigglepipe/internal/errors"
)

// Outcome classifies the result of a fetch attempt.
type Outcome int

const (
	// OutcomeBlob means audio bytes were returned (HTTP 200).
	OutcomeBlob Outcome = iota
	// OutcomeNoData means the upstream has nothing for this window
	// (HTTP 404); this is expected, not an error condition.
	OutcomeNoData
	// OutcomeTransient means a retryable upstream failure (502/503/504);
	// callers skip this chunk for the current run without failing it.
	OutcomeTransient
	// OutcomeFatal means the request cannot succeed as given (401 bad
	// key, 429 rate limited, or any other unexpected status).
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBlob:
		return "blob"
	case OutcomeNoData:
		return "no_data"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the outcome of one fetch call.
type Result struct {
	Outcome    Outcome
	Audio      []byte
	StatusCode int
	Duration   time.Duration
	Err        error // set for OutcomeFatal and OutcomeTransient
}

// MaxWindow is the largest span the upstream service accepts per
// request; callers must chunk requests to this size or smaller (C1).
const MaxWindow = 2 * time.Hour

// Client fetches audio windows from the upstream service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL with the given per-request
// timeout; a timeout that is not positive becomes 5 minutes.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ReleaseConnections closes the client's idle keep-alive connections,
// releasing sockets back to the OS between users (C9's per-user
// teardown).
func (c *Client) ReleaseConnections() {
	c.http.CloseIdleConnections()
}

// RequestURL builds the download-audio URL for [start, end), the same
// one Fetch issues against; callers use this to label API call records
// without duplicating the query-string format.
func (c *Client) RequestURL(start, end time.Time) string {
	return fmt.Sprintf("%s/v1/download-audio?startMs=%d&endMs=%d",
		c.baseURL, start.UnixMilli(), end.UnixMilli())
}

// Fetch retrieves the audio recorded for [start, end) under apiKey. The
// window must not exceed MaxWindow; callers are expected to have
// chunked already (internal/chunker), so this is checked defensively
// rather than silently clamped.
func (c *Client) Fetch(ctx context.Context, apiKey string, start, end time.Time) Result {
	begin := time.Now()
	if !end.After(start) {
		return Result{Outcome: OutcomeFatal, Err: errors.Newf("fetch window end %s not after start %s", end, start).
			Component("upstream").Category(errors.CategoryValidation).Build()}
	}
	if end.Sub(start) > MaxWindow {
		return Result{Outcome: OutcomeFatal, Err: errors.Newf("fetch window %s exceeds max %s", end.Sub(start), MaxWindow).
			Component("upstream").Category(errors.CategoryValidation).Build()}
	}

	url := c.RequestURL(start, end)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Outcome: OutcomeFatal, Duration: time.Since(begin), Err: errors.New(err).
			Component("upstream").Category(errors.CategoryUpstream).Build()}
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := c.http.Do(req)
	duration := time.Since(begin)
	if err != nil {
		return Result{Outcome: OutcomeTransient, Duration: duration, Err: errors.New(err).
			Component("upstream").Category(errors.CategoryUpstream).
			Context("start", start).Context("end", end).Build()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{Outcome: OutcomeNoData, StatusCode: resp.StatusCode, Duration: duration}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusTooManyRequests:
		return Result{Outcome: OutcomeFatal, StatusCode: resp.StatusCode, Duration: duration, Err: errors.Newf(
			"upstream returned %d", resp.StatusCode).Component("upstream").
			Category(errors.CategoryCredential).Context("status_code", resp.StatusCode).Build()}

	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return Result{Outcome: OutcomeTransient, StatusCode: resp.StatusCode, Duration: duration, Err: errors.Newf(
			"upstream gateway error %d", resp.StatusCode).Component("upstream").
			Category(errors.CategoryUpstream).Context("status_code", resp.StatusCode).Build()}

	case resp.StatusCode != http.StatusOK:
		return Result{Outcome: OutcomeFatal, StatusCode: resp.StatusCode, Duration: duration, Err: errors.Newf(
			"upstream returned unexpected status %d", resp.StatusCode).Component("upstream").
			Category(errors.CategoryUpstream).Context("status_code", resp.StatusCode).Build()}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Outcome: OutcomeFatal, StatusCode: resp.StatusCode, Duration: duration, Err: errors.New(err).
			Component("upstream").Category(errors.CategoryUpstream).Build()}
	}

	return Result{Outcome: OutcomeBlob, Audio: audio, StatusCode: resp.StatusCode, Duration: duration}
}

// APICallRecord is an observability record of one Fetch call, fed into
// C7's per-run accounting (ProcessingLog.APICalls).
type APICallRecord struct {
	At         time.Time `json:"at"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	DurationMs int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
}

// Record converts a Result into the record C7 accumulates.
func (r Result) Record(url string, at time.Time) APICallRecord {
	return APICallRecord{
		At:         at,
		URL:        url,
		StatusCode: r.StatusCode,
		DurationMs: r.Duration.Milliseconds(),
		Outcome:    r.Outcome.String(),
	}
}
