// Package proclog accumulates per-run counters for one user/local-day
// and upserts them into the processing_logs table (C7). One Accumulator
// backs one local day (window) of a pipeline run against one user; its
// counters are written once, when that window ends, into the
// (user_id, date_local) row that update-today/nightly/reprocess all share.
package proclog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stokedbloke/gigglepipe/internal/datastore"
	"github.com/stokedbloke/gigglepipe/internal/dedup"
	"github.com/stokedbloke/gigglepipe/internal/errors"
	"github.com/stokedbloke/gigglepipe/internal/upstream"
)

// Accumulator tracks per-run counters. The accounting identity the
// spec requires is: EventsFound == EventsInserted + EventsUpdated +
// SkippedTimeWindow + SkippedClipPath + SkippedMissingFile.
// DuplicatesSkipped is the sum of the three skip counters. RecordEvent
// enforces this by deriving every increment from a single
// dedup.Decision, never from an independently tracked count.
type Accumulator struct {
	userID    string
	dateLocal string

	filesDownloaded    int
	eventsFound        int
	eventsInserted     int
	eventsUpdated      int
	skippedTimeWindow  int
	skippedClipPath    int
	skippedMissingFile int
	apiCalls           []upstream.APICallRecord
	lastError          string
	failed             bool
}

func New(userID, dateLocal string) *Accumulator {
	return &Accumulator{userID: userID, dateLocal: dateLocal}
}

// RecordAPICall appends one upstream fetch outcome; if it produced a
// blob, FilesDownloaded is incremented.
func (a *Accumulator) RecordAPICall(rec upstream.APICallRecord) {
	a.apiCalls = append(a.apiCalls, rec)
	if rec.Outcome == upstream.OutcomeBlob.String() {
		a.filesDownloaded++
	}
}

// RecordEvent tallies one classifier event's dedup decision.
func (a *Accumulator) RecordEvent(d dedup.Decision) {
	a.eventsFound++
	switch d.Kind {
	case dedup.DecisionInsert:
		a.eventsInserted++
	case dedup.DecisionUpdate:
		a.eventsUpdated++
	case dedup.DecisionSkipTimeWindow:
		a.skippedTimeWindow++
	case dedup.DecisionSkipClipPath:
		a.skippedClipPath++
	case dedup.DecisionSkipMissingFile:
		a.skippedMissingFile++
	}
}

// duplicatesSkipped is the derived sum the spec's accounting identity
// is stated in terms of.
func (a *Accumulator) duplicatesSkipped() int {
	return a.skippedTimeWindow + a.skippedClipPath + a.skippedMissingFile
}

// RecordError notes the last error seen this run for LastError/status.
func (a *Accumulator) RecordError(err error) {
	if err != nil {
		a.lastError = err.Error()
	}
}

// Verify checks the accounting identity the spec requires; a failure
// here means a code path incremented a counter without also calling
// RecordEvent, and is a programming bug, not a runtime condition.
func (a *Accumulator) Verify() error {
	sum := a.eventsInserted + a.eventsUpdated + a.duplicatesSkipped()
	if sum != a.eventsFound {
		return errors.Newf("accounting identity violated: found=%d inserted=%d updated=%d skipped_time_window=%d skipped_clip_path=%d skipped_missing_file=%d",
			a.eventsFound, a.eventsInserted, a.eventsUpdated, a.skippedTimeWindow, a.skippedClipPath, a.skippedMissingFile).
			Component("proclog").Category(errors.CategoryProcessingLog).Build()
	}
	return nil
}

// Flush upserts the accumulated counters into the processing_logs row
// for (userID, dateLocal), setting status to "ok" or "partial"/"failed"
// depending on whether lastError is set.
func (a *Accumulator) Flush(ctx context.Context, store datastore.Interface, runAt time.Time) error {
	if err := a.Verify(); err != nil {
		return err
	}

	status := "ok"
	switch {
	case a.failed:
		status = "failed"
	case a.lastError != "":
		status = "partial"
	}

	apiCallsJSON, err := json.Marshal(a.apiCalls)
	if err != nil {
		return errors.New(err).Component("proclog").Category(errors.CategoryProcessingLog).Build()
	}

	row := &datastore.ProcessingLog{
		UserID:             a.userID,
		DateLocal:          a.dateLocal,
		FilesDownloaded:    a.filesDownloaded,
		EventsFound:        a.eventsFound,
		EventsInserted:     a.eventsInserted,
		EventsUpdated:      a.eventsUpdated,
		DuplicatesSkipped:  a.duplicatesSkipped(),
		SkippedTimeWindow:  a.skippedTimeWindow,
		SkippedClipPath:    a.skippedClipPath,
		SkippedMissingFile: a.skippedMissingFile,
		APICalls:           string(apiCallsJSON),
		LastRunUTC:         runAt,
		LastRunStatus:      status,
		LastError:          a.lastError,
	}
	if err := store.UpsertProcessingLog(ctx, row); err != nil {
		return errors.New(err).Component("proclog").Category(errors.CategoryProcessingLog).
			Context("user_id", a.userID).Context("date_local", a.dateLocal).Build()
	}
	return nil
}

// MarkFailed records a fatal run-ending error and forces "failed"
// status on the next Flush regardless of what was accumulated so far.
func (a *Accumulator) MarkFailed(err error) {
	a.failed = true
	a.RecordError(err)
}
