// Package verify implements a read-only audit of a user's on-disk and
// database state against the invariants the pipeline is supposed to
// maintain (no-orphan-file, no-dangling-row, no-audio-after-processed,
// clip-path uniqueness). It never mutates anything; fixing a violation
// it reports is the reconciler's job.
package verify

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/stokedbloke/gigglepipe/internal/datastore"
)

const clipPathPageSize = 1000

// Violation is one invariant breach found during a Report.
type Violation struct {
	Invariant string
	Detail    string
}

// Report summarizes one user's audit pass.
type Report struct {
	UserID     string
	Violations []Violation
}

func (r Report) Clean() bool { return len(r.Violations) == 0 }

// Run audits userID against invariants 1, 2, 3 and the clip-path half
// of invariant 5 from spec.md §8.
func Run(ctx context.Context, store datastore.Interface, uploadDir, userID string) (Report, error) {
	report := Report{UserID: userID}

	clipPaths, err := allClipPaths(ctx, store, userID)
	if err != nil {
		return report, err
	}
	knownClips := make(map[string]int, len(clipPaths))
	for _, p := range clipPaths {
		knownClips[p]++
	}

	// Invariant 5 (clip-path half): no two detections share clip_path.
	for p, count := range knownClips {
		if count > 1 {
			report.Violations = append(report.Violations, Violation{
				Invariant: "uniqueness",
				Detail:    "clip_path referenced by " + strconv.Itoa(count) + " rows: " + p,
			})
		}
	}

	// Invariant 2: no-dangling-row — every clip_path must exist on disk.
	for p := range knownClips {
		if !fileExists(p) {
			report.Violations = append(report.Violations, Violation{
				Invariant: "no-dangling-row",
				Detail:    "clip_path has no file: " + p,
			})
		}
	}

	// Invariant 1: no-orphan-file — every on-disk clip must have a row.
	clipsDir := filepath.Join(uploadDir, "clips", userID)
	entries, err := os.ReadDir(clipsDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			abs := filepath.Join(clipsDir, e.Name())
			if _, ok := knownClips[abs]; !ok {
				report.Violations = append(report.Violations, Violation{
					Invariant: "no-orphan-file",
					Detail:    "file has no referencing row: " + abs,
				})
			}
		}
	}

	// Invariant 3: no-audio-after-processed.
	segs, err := store.ListSegmentFiles(ctx, userID)
	if err != nil {
		return report, err
	}
	for _, s := range segs {
		if s.Processed && fileExists(s.FilePath) {
			report.Violations = append(report.Violations, Violation{
				Invariant: "no-audio-after-processed",
				Detail:    "processed segment file still on disk: " + s.FilePath,
			})
		}
	}

	return report, nil
}

func allClipPaths(ctx context.Context, store datastore.Interface, userID string) ([]string, error) {
	var out []string
	for page := 0; ; page++ {
		paths, err := store.AllClipPaths(ctx, userID, page, clipPathPageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, paths...)
		if len(paths) < clipPathPageSize {
			break
		}
	}
	return out, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
