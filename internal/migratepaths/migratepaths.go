// Package migratepaths rewrites relative AudioSegment.FilePath and
// LaughterDetection.ClipPath values absolute against uploadDir. Every
// path the pipeline itself writes is already absolute (§3); this only
// matters for rows left over from an earlier layout or a manual import,
// per spec.md §4.C6's "resolved against a fixed project root and
// re-written on next touch" clause.
package migratepaths

import (
	"context"
	"path/filepath"

	"github.com/stokedbloke/gigglepipe/internal/datastore"
)

// Result counts the rows touched by one Run.
type Result struct {
	SegmentsRewritten   int
	DetectionsRewritten int
}

// Run rewrites every relative path belonging to userID. uploadDir is
// the fixed project root relative paths are resolved against.
func Run(ctx context.Context, store datastore.Interface, uploadDir, userID string) (Result, error) {
	var result Result

	segs, err := store.ListAllSegments(ctx, userID)
	if err != nil {
		return result, err
	}
	for _, s := range segs {
		if filepath.IsAbs(s.FilePath) {
			continue
		}
		abs := filepath.Join(uploadDir, s.FilePath)
		if err := store.UpdateSegmentPath(ctx, s.ID, abs); err != nil {
			return result, err
		}
		result.SegmentsRewritten++
	}

	detections, err := store.ListAllDetections(ctx, userID)
	if err != nil {
		return result, err
	}
	for _, d := range detections {
		if filepath.IsAbs(d.ClipPath) {
			continue
		}
		abs := filepath.Join(uploadDir, d.ClipPath)
		if err := store.UpdateDetectionClipPath(ctx, d.ID, abs); err != nil {
			return result, err
		}
		result.DetectionsRewritten++
	}

	return result, nil
}
