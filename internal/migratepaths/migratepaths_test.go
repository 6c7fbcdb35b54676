package migratepaths

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokedbloke/gigglepipe/internal/datastore"
)

type fakeStore struct {
	datastore.Interface
	segments   []datastore.AudioSegment
	detections []datastore.LaughterDetection
}

func (f *fakeStore) ListAllSegments(ctx context.Context, userID string) ([]datastore.AudioSegment, error) {
	return f.segments, nil
}

func (f *fakeStore) UpdateSegmentPath(ctx context.Context, segmentID uint, path string) error {
	for i := range f.segments {
		if f.segments[i].ID == segmentID {
			f.segments[i].FilePath = path
		}
	}
	return nil
}

func (f *fakeStore) ListAllDetections(ctx context.Context, userID string) ([]datastore.LaughterDetection, error) {
	return f.detections, nil
}

func (f *fakeStore) UpdateDetectionClipPath(ctx context.Context, detectionID uint, path string) error {
	for i := range f.detections {
		if f.detections[i].ID == detectionID {
			f.detections[i].ClipPath = path
		}
	}
	return nil
}

var _ datastore.Interface = (*fakeStore)(nil)

func TestRunRewritesRelativePathsOnly(t *testing.T) {
	store := &fakeStore{
		segments: []datastore.AudioSegment{
			{ID: 1, UserID: "u1", FilePath: "audio/u1/a.ogg"},
			{ID: 2, UserID: "u1", FilePath: "/already/absolute.ogg"},
		},
		detections: []datastore.LaughterDetection{
			{ID: 10, UserID: "u1", ClipPath: "clips/u1/a.wav"},
		},
	}

	result, err := Run(t.Context(), store, "/data/uploads", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SegmentsRewritten)
	assert.Equal(t, 1, result.DetectionsRewritten)
	assert.Equal(t, "/data/uploads/audio/u1/a.ogg", store.segments[0].FilePath)
	assert.Equal(t, "/already/absolute.ogg", store.segments[1].FilePath)
	assert.Equal(t, "/data/uploads/clips/u1/a.wav", store.detections[0].ClipPath)
}

func TestRunIsNoOpWhenAllPathsAlreadyAbsolute(t *testing.T) {
	store := &fakeStore{
		segments: []datastore.AudioSegment{{ID: 1, UserID: "u1", FilePath: "/abs/a.ogg"}},
	}
	result, err := Run(t.Context(), store, "/data/uploads", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.SegmentsRewritten)
}
