// Package pipeline implements the per-user pipeline (C8): compute the
// resume point for the requested mode, iterate chunks through
// upstream fetch, segment store, classifier, clip writer and dedup,
// and record one processing log per local day.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stokedbloke/gigglepipe/internal/audiodecode"
	"github.com/stokedbloke/gigglepipe/internal/classifier"
	"github.com/stokedbloke/gigglepipe/internal/chunker"
	"github.com/stokedbloke/gigglepipe/internal/clipwriter"
	"github.com/stokedbloke/gigglepipe/internal/conf"
	"github.com/stokedbloke/gigglepipe/internal/datastore"
	"github.com/stokedbloke/gigglepipe/internal/dedup"
	"github.com/stokedbloke/gigglepipe/internal/errors"
	"github.com/stokedbloke/gigglepipe/internal/logging"
	"github.com/stokedbloke/gigglepipe/internal/metrics"
	"github.com/stokedbloke/gigglepipe/internal/proclog"
	"github.com/stokedbloke/gigglepipe/internal/reconciler"
	"github.com/stokedbloke/gigglepipe/internal/secrets"
	"github.com/stokedbloke/gigglepipe/internal/upstream"
)

const dateFormat = "2006-01-02"

// classifying is the slice of *classifier.Classifier the pipeline
// depends on; narrowing to an interface lets tests exercise the
// pipeline's chunk-iteration logic with a fake scorer instead of a
// real TFLite model file.
type classifying interface {
	Classify(samples []float32, threshold float64) ([]classifier.Event, error)
}

// Runner executes the per-user pipeline. One Runner is built per
// process and reused across users; per-user state (decrypted key,
// timezone) is resolved fresh on every Run call.
type Runner struct {
	Store      datastore.Interface
	Upstream   *upstream.Client
	Classifier classifying
	Reconciler *reconciler.Reconciler
	Metrics    *metrics.Pipeline // optional; nil disables metrics recording

	UploadDir     string
	Threshold     float64
	ClipBefore    time.Duration
	ClipAfter     time.Duration
	ChunkSize     time.Duration
	EncryptionKey []byte
}

// New builds a Runner from resolved settings; the upstream client and
// classifier are shared across users, matching the "process-global
// singleton, per-user Runner" split in the design notes.
func New(store datastore.Interface, upstreamClient *upstream.Client, clf *classifier.Classifier, settings *conf.Settings, metricsPipeline *metrics.Pipeline) (*Runner, error) {
	key, err := hex.DecodeString(settings.Service.EncryptionKey)
	if err != nil {
		return nil, errors.New(err).Component("pipeline").Category(errors.CategoryConfiguration).Build()
	}
	half := settings.Detection.ClipDuration / 2
	return &Runner{
		Store:         store,
		Upstream:      upstreamClient,
		Classifier:    clf,
		Reconciler:    reconciler.New(store, settings.Storage.UploadDir).WithMetrics(metricsPipeline),
		Metrics:       metricsPipeline,
		UploadDir:     settings.Storage.UploadDir,
		Threshold:     settings.Detection.Threshold,
		ClipBefore:    half,
		ClipAfter:     half,
		ChunkSize:     settings.Detection.ChunkSize,
		EncryptionKey: key,
	}, nil
}

// window is one local-day (or partial-day) UTC span to iterate chunks
// over, labelled with the local date it belongs to for C7's per-day log.
type window struct {
	dateLocal string
	start     time.Time
	end       time.Time
}

// RunUpdateToday tops up the current local day: start resumes from the
// latest segment end already recorded today (or the start of today,
// whichever is later), end is now.
func (r *Runner) RunUpdateToday(ctx context.Context, userID string) error {
	loc, err := r.userLocation(ctx, userID)
	if err != nil {
		return err
	}
	nowUTC := time.Now().UTC()
	nowLocal := nowUTC.In(loc)
	dateLocal := nowLocal.Format(dateFormat)
	startOfDayUTC := startOfLocalDay(nowLocal, loc).UTC()

	start := startOfDayUTC
	if latestEnd, ok, err := r.Store.LatestSegmentEnd(ctx, userID, dateLocal); err != nil {
		return err
	} else if ok && latestEnd.After(start) {
		start = latestEnd
	}
	if start.After(nowUTC) {
		start = nowUTC // a future-skewed segment end must not rewind the clock
	}

	return r.run(ctx, userID, []window{{dateLocal: dateLocal, start: start, end: nowUTC}}, false)
}

// RunNightly processes the user's previous local day in full.
func (r *Runner) RunNightly(ctx context.Context, userID string) error {
	loc, err := r.userLocation(ctx, userID)
	if err != nil {
		return err
	}
	yesterday := time.Now().In(loc).AddDate(0, 0, -1)
	startLocal := startOfLocalDay(yesterday, loc)
	endLocal := startLocal.AddDate(0, 0, 1)
	w := window{dateLocal: startLocal.Format(dateFormat), start: startLocal.UTC(), end: endLocal.UTC()}
	return r.run(ctx, userID, []window{w}, false)
}

// RunReprocess reprocesses every local day in [from, to] inclusive,
// deleting existing files and rows for each day before reprocessing it
// fresh, one ProcessingLog row per day.
func (r *Runner) RunReprocess(ctx context.Context, userID string, from, to time.Time) error {
	loc, err := r.userLocation(ctx, userID)
	if err != nil {
		return err
	}
	var windows []window
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		startLocal := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
		endLocal := startLocal.AddDate(0, 0, 1)
		windows = append(windows, window{dateLocal: startLocal.Format(dateFormat), start: startLocal.UTC(), end: endLocal.UTC()})
	}
	return r.run(ctx, userID, windows, true)
}

// userLocation resolves userID's IANA timezone to a *time.Location;
// local-day boundaries for every run mode are computed from it, never
// from UTC (invariant 5).
func (r *Runner) userLocation(ctx context.Context, userID string) (*time.Location, error) {
	user, err := r.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return nil, errors.New(err).Component("pipeline").Category(errors.CategoryValidation).
			Context("user_id", userID).Context("timezone", user.Timezone).Build()
	}
	return loc, nil
}

func startOfLocalDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// run drives the shared per-window iteration for all three CLI modes.
// It always runs pre-flight and post-flight reconciliation (the
// "finally" cleanup path the spec requires even on failure), and
// writes one ProcessingLog row for each window it reaches, failed or
// not. The first failing window ends the run: the windows after it are
// not processed and get no row.
func (r *Runner) run(ctx context.Context, userID string, windows []window, purgeBeforeRun bool) error {
	if err := r.Reconciler.Reconcile(ctx, userID, nil); err != nil { // pre-flight: clears crash debris
		logging.With("component", "pipeline").Warn("pre-flight reconciliation failed", "user_id", userID, "err", err)
	}

	apiKey, keyErr := r.decryptedKey(ctx, userID)

	var sessionClips []string
	var runErr error

	for _, w := range windows {
		acc := proclog.New(userID, w.dateLocal)

		if keyErr != nil {
			acc.MarkFailed(keyErr)
			if ferr := acc.Flush(ctx, r.Store, time.Now()); ferr != nil {
				logging.With("component", "pipeline").Error("failed to flush processing log", "err", ferr)
			}
			runErr = keyErr
			break
		}

		if purgeBeforeRun {
			if err := r.purgeDate(ctx, userID, w.dateLocal); err != nil {
				acc.MarkFailed(err)
				_ = acc.Flush(ctx, r.Store, time.Now())
				runErr = err
				break
			}
		}

		clips, err := r.runWindow(ctx, userID, apiKey, w, acc)
		sessionClips = append(sessionClips, clips...)
		if err != nil {
			acc.MarkFailed(err)
		}
		if ferr := acc.Flush(ctx, r.Store, time.Now()); ferr != nil {
			logging.With("component", "pipeline").Error("failed to flush processing log", "err", ferr)
			if err == nil {
				err = ferr
			}
		}
		if err != nil {
			runErr = err
			break
		}
	}

	if err := r.Reconciler.Reconcile(ctx, userID, reconciler.ExclusionFromPaths(sessionClips)); err != nil { // post-flight
		logging.With("component", "pipeline").Warn("post-flight reconciliation failed", "user_id", userID, "err", err)
	}
	return runErr
}

func (r *Runner) decryptedKey(ctx context.Context, userID string) (string, error) {
	credential, err := r.Store.ActiveUpstreamKey(ctx, userID)
	if err != nil {
		return "", err
	}
	key, err := secrets.Decrypt(r.EncryptionKey, credential.EncryptedKey, userID)
	if err != nil {
		return "", errors.New(err).Component("pipeline").Category(errors.CategoryCredential).
			Context("user_id", userID).Build()
	}
	return key, nil
}

// purgeDate implements the reprocess path's delete-files-then-rows
// ordering: file paths are read from the rows before the rows
// themselves are deleted, the reverse of the normal flow's
// mark-processed-then-delete-file ordering (§9 open question).
func (r *Runner) purgeDate(ctx context.Context, userID, dateLocal string) error {
	segs, err := r.Store.SegmentsForDate(ctx, userID, dateLocal)
	if err != nil {
		return err
	}
	detections, err := r.Store.DetectionsForUserDate(ctx, userID, dateLocal)
	if err != nil {
		return err
	}

	for _, d := range detections {
		removeIfExists(d.ClipPath)
	}
	for _, s := range segs {
		removeIfExists(s.FilePath)
	}

	if err := r.Store.DeleteDetectionsForDate(ctx, userID, dateLocal); err != nil {
		return err
	}
	return r.Store.DeleteSegmentsForDate(ctx, userID, dateLocal)
}

// runWindow iterates C1's chunks over w, driving C2 through C6 for
// each, and returns the clip paths written or confirmed during this
// window (fed into the caller's session exclusion set).
func (r *Runner) runWindow(ctx context.Context, userID, apiKey string, w window, acc *proclog.Accumulator) ([]string, error) {
	resolver := dedup.New(r.Store)
	var clips []string

	for _, chunk := range chunker.Chunks(w.start, w.end, r.ChunkSize) {
		overlaps, err := r.Store.SegmentOverlapsProcessed(ctx, userID, chunk.Start, chunk.End)
		if err != nil {
			return clips, err
		}
		if overlaps {
			continue
		}

		result := r.Upstream.Fetch(ctx, apiKey, chunk.Start, chunk.End)
		acc.RecordAPICall(result.Record(r.Upstream.RequestURL(chunk.Start, chunk.End), time.Now()))
		if r.Metrics != nil {
			r.Metrics.RecordAPICall(result.Outcome.String(), result.Duration.Seconds())
		}

		switch result.Outcome {
		case upstream.OutcomeNoData, upstream.OutcomeTransient:
			continue
		case upstream.OutcomeFatal:
			return clips, result.Err
		}

		segClips, err := r.processSegment(ctx, userID, w.dateLocal, chunk, result.Audio, acc, resolver)
		clips = append(clips, segClips...)
		if err != nil {
			return clips, err
		}
	}

	return clips, nil
}

// processSegment handles one fetched blob: persist the segment row,
// decode and classify it, write and store each event's clip, then mark
// the segment processed and remove its on-disk file.
func (r *Runner) processSegment(ctx context.Context, userID, dateLocal string, chunk chunker.Window, blob []byte, acc *proclog.Accumulator, resolver *dedup.Resolver) ([]string, error) {
	segFilePath := audioFilePath(r.UploadDir, userID, chunk.Start, chunk.End)
	if err := writeFileAtomic(segFilePath, blob); err != nil {
		return nil, err
	}

	seg := &datastore.AudioSegment{
		UserID:    userID,
		DateLocal: dateLocal,
		StartUTC:  chunk.Start,
		EndUTC:    chunk.End,
		FilePath:  segFilePath,
	}
	if err := r.Store.InsertSegment(ctx, seg); err != nil {
		return nil, err
	}

	var clips []string
	samples, err := audiodecode.Decode(blob)
	if err != nil {
		// A corrupt blob cannot be recovered by retrying it later; log
		// and retire the segment rather than leaving it unprocessed
		// forever.
		acc.RecordError(err)
	} else {
		events, classifyErr := r.Classifier.Classify(samples, r.Threshold)
		if classifyErr != nil {
			return clips, classifyErr // classifier fault: fatal to this run
		}

		segmentStem := strings.TrimSuffix(filepath.Base(segFilePath), filepath.Ext(segFilePath))
		for _, ev := range events {
			eventClips, err := r.storeEvent(ctx, userID, dateLocal, seg.ID, chunk.Start, segmentStem, samples, ev, acc, resolver)
			if err != nil {
				acc.RecordError(err)
				continue
			}
			clips = append(clips, eventClips...)
		}
	}

	classifier.ReleaseSegmentMemory()
	if err := r.Store.MarkSegmentProcessed(ctx, seg.ID, time.Now()); err != nil {
		return clips, err
	}
	removeIfExists(segFilePath) // normal path: delete after marking processed
	return clips, nil
}

// storeEvent writes the clip for one classifier event and resolves its
// dedup decision, returning the clip path if it should join the
// session exclusion set (inserted or updated), or nil if the clip was
// a duplicate and has been removed.
func (r *Runner) storeEvent(ctx context.Context, userID, dateLocal string, segmentID uint, segmentStart time.Time, segmentStem string, samples []float32, ev classifier.Event, acc *proclog.Accumulator, resolver *dedup.Resolver) ([]string, error) {
	eventTS := segmentStart.Add(time.Duration(ev.TimestampRelSeconds * float64(time.Second)))
	clipName := clipwriter.FileName(segmentStem, ev.TimestampRelSeconds, ev.ClassID)
	clipPath := filepath.Join(r.UploadDir, "clips", userID, clipName)

	offset := time.Duration(ev.TimestampRelSeconds * float64(time.Second))
	if err := clipwriter.Cut(samples, classifier.SampleRate, offset, r.ClipBefore, r.ClipAfter, clipPath); err != nil {
		return nil, err
	}

	decision, err := resolver.Resolve(ctx, dedup.Candidate{
		UserID:       userID,
		SegmentID:    segmentID,
		TimestampUTC: eventTS,
		ClassID:      ev.ClassID,
		ClassName:    ev.ClassName,
		Probability:  ev.Probability,
		ClipPath:     clipPath,
		DateLocal:    dateLocal,
	})
	if err != nil {
		removeIfExists(clipPath)
		return nil, err
	}
	acc.RecordEvent(decision)
	if r.Metrics != nil {
		r.Metrics.RecordEvent(decision.Kind.String())
	}

	switch decision.Kind {
	case dedup.DecisionInsert, dedup.DecisionUpdate:
		return []string{clipPath}, nil
	default: // DecisionSkipTimeWindow, DecisionSkipClipPath, DecisionSkipMissingFile
		removeIfExists(clipPath)
		return nil, nil
	}
}

// audioFilePath builds the segment's on-disk path per the filesystem
// layout: uploads/audio/{user_id}/{YYYYMMDD_HHMMSS}-{YYYYMMDD_HHMMSS}.ogg.
func audioFilePath(uploadDir, userID string, start, end time.Time) string {
	stem := fmt.Sprintf("%s-%s", start.UTC().Format("20060102_150405"), end.UTC().Format("20060102_150405"))
	return filepath.Join(uploadDir, "audio", userID, stem+".ogg")
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).Component("pipeline").Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).Component("pipeline").Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).Component("pipeline").Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	return nil
}

func removeIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.With("component", "pipeline").Warn("failed to remove file", "path", path, "err", err)
	}
}
