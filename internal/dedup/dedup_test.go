package dedup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokedbloke/gigglepipe/internal/datastore"
)

// fakeStore is a minimal in-memory stand-in for datastore.Interface,
// enough to exercise the L1/L2 decision logic without a real DB.
type fakeStore struct {
	rows   []datastore.LaughterDetection
	nextID uint
}

func (f *fakeStore) Open() error    { return nil }
func (f *fakeStore) Close() error   { return nil }
func (f *fakeStore) Migrate() error { return nil }

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*datastore.User, error) {
	return nil, datastore.ErrUserNotFound
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*datastore.User, error) {
	return nil, datastore.ErrUserNotFound
}
func (f *fakeStore) ListActiveUsers(ctx context.Context) ([]datastore.User, error) { return nil, nil }
func (f *fakeStore) ActiveUpstreamKey(ctx context.Context, userID string) (*datastore.UpstreamKey, error) {
	return nil, datastore.ErrActiveKeyNotFound
}

func (f *fakeStore) SegmentOverlapsProcessed(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	return false, nil
}
func (f *fakeStore) InsertSegment(ctx context.Context, seg *datastore.AudioSegment) error { return nil }
func (f *fakeStore) MarkSegmentProcessed(ctx context.Context, segmentID uint, at time.Time) error {
	return nil
}

func (f *fakeStore) DetectionsNear(ctx context.Context, userID string, ts time.Time, window time.Duration) ([]datastore.LaughterDetection, error) {
	var out []datastore.LaughterDetection
	lo, hi := ts.Add(-window), ts.Add(window)
	for _, r := range f.rows {
		if r.UserID == userID && !r.TimestampUTC.Before(lo) && r.TimestampUTC.Before(hi) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) DetectionByClipPath(ctx context.Context, clipPath string) (*datastore.LaughterDetection, error) {
	for i := range f.rows {
		if f.rows[i].ClipPath == clipPath {
			r := f.rows[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertDetection(ctx context.Context, d *datastore.LaughterDetection) error {
	f.nextID++
	d.ID = f.nextID
	f.rows = append(f.rows, *d)
	return nil
}

func (f *fakeStore) UpdateDetection(ctx context.Context, d *datastore.LaughterDetection) error {
	for i := range f.rows {
		if f.rows[i].ID == d.ID {
			f.rows[i] = *d
			return nil
		}
	}
	return nil
}

// The Tx variants have nowhere to route a transaction handle in this
// fake, so they just delegate to the non-Tx logic above; the fake's
// Transaction below already ignores the tx it hands resolveLocked.
func (f *fakeStore) DetectionsNearTx(ctx context.Context, tx *gorm.DB, userID string, ts time.Time, window time.Duration) ([]datastore.LaughterDetection, error) {
	return f.DetectionsNear(ctx, userID, ts, window)
}
func (f *fakeStore) DetectionByClipPathTx(ctx context.Context, tx *gorm.DB, clipPath string) (*datastore.LaughterDetection, error) {
	return f.DetectionByClipPath(ctx, clipPath)
}
func (f *fakeStore) InsertDetectionTx(ctx context.Context, tx *gorm.DB, d *datastore.LaughterDetection) error {
	return f.InsertDetection(ctx, d)
}
func (f *fakeStore) UpdateDetectionTx(ctx context.Context, tx *gorm.DB, d *datastore.LaughterDetection) error {
	return f.UpdateDetection(ctx, d)
}

func (f *fakeStore) DetectionsForUserDate(ctx context.Context, userID, dateLocal string) ([]datastore.LaughterDetection, error) {
	return nil, nil
}
func (f *fakeStore) AllClipPaths(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) ListSegmentFiles(ctx context.Context, userID string) ([]datastore.SegmentFile, error) {
	return nil, nil
}
func (f *fakeStore) LatestSegmentEnd(ctx context.Context, userID, dateLocal string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (f *fakeStore) SegmentsForDate(ctx context.Context, userID, dateLocal string) ([]datastore.AudioSegment, error) {
	return nil, nil
}
func (f *fakeStore) DeleteSegmentsForDate(ctx context.Context, userID, dateLocal string) error {
	return nil
}
func (f *fakeStore) ListAllSegments(ctx context.Context, userID string) ([]datastore.AudioSegment, error) {
	return nil, nil
}
func (f *fakeStore) UpdateSegmentPath(ctx context.Context, segmentID uint, path string) error {
	return nil
}
func (f *fakeStore) ListAllDetections(ctx context.Context, userID string) ([]datastore.LaughterDetection, error) {
	return f.rows, nil
}
func (f *fakeStore) UpdateDetectionClipPath(ctx context.Context, detectionID uint, path string) error {
	return nil
}
func (f *fakeStore) DeleteDetectionsForDate(ctx context.Context, userID, dateLocal string) error {
	return nil
}
func (f *fakeStore) UpsertProcessingLog(ctx context.Context, row *datastore.ProcessingLog) error {
	return nil
}
func (f *fakeStore) GetProcessingLog(ctx context.Context, userID, dateLocal string) (*datastore.ProcessingLog, error) {
	return nil, datastore.ErrProcessingLogAbsent
}

func (f *fakeStore) Transaction(ctx context.Context, fc func(tx *gorm.DB) error) error {
	return fc(nil)
}

var _ datastore.Interface = (*fakeStore)(nil)

type harness struct {
	store    *fakeStore
	resolver *Resolver
}

func newFakeResolver(t *testing.T) *harness {
	t.Helper()
	s := &fakeStore{}
	return &harness{store: s, resolver: New(s)}
}

func TestResolveInsertsFreshDetection(t *testing.T) {
	h := newFakeResolver(t)
	dir := t.TempDir()
	clip := writeFile(t, dir, "a.wav")

	d, err := h.resolver.Resolve(t.Context(), Candidate{
		UserID: "u1", TimestampUTC: time.Now(), ClassID: 13, ClipPath: clip, DateLocal: "2026-07-30",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionInsert, d.Kind)
}

func TestResolveSkipsTrueTimeWindowDuplicate(t *testing.T) {
	h := newFakeResolver(t)
	dir := t.TempDir()
	existingClip := writeFile(t, dir, "existing.wav")
	newClip := writeFile(t, dir, "new.wav")

	ts := time.Now()
	h.store.rows = append(h.store.rows, datastore.LaughterDetection{
		ID: 1, UserID: "u1", TimestampUTC: ts, ClassID: 13, ClipPath: existingClip,
	})
	h.store.nextID = 1

	d, err := h.resolver.Resolve(t.Context(), Candidate{
		UserID: "u1", TimestampUTC: ts.Add(2 * time.Second), ClassID: 13, ClipPath: newClip, DateLocal: "2026-07-30",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipTimeWindow, d.Kind)
	assert.Equal(t, uint(1), d.ExistingID)
}

func TestResolveSkipsTrueClipPathDuplicate(t *testing.T) {
	h := newFakeResolver(t)
	dir := t.TempDir()
	clip := writeFile(t, dir, "shared.wav")

	h.store.rows = append(h.store.rows, datastore.LaughterDetection{
		ID: 1, UserID: "u1", TimestampUTC: time.Now().Add(-time.Hour), ClassID: 13, ClipPath: clip,
	})
	h.store.nextID = 1

	d, err := h.resolver.Resolve(t.Context(), Candidate{
		UserID: "u1", TimestampUTC: time.Now(), ClassID: 13, ClipPath: clip, DateLocal: "2026-07-30",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipClipPath, d.Kind)
	assert.Equal(t, uint(1), d.ExistingID)
}

func TestResolveSkipsMissingFileGuardWhenClipVanishesBeforeInsert(t *testing.T) {
	h := newFakeResolver(t)
	dir := t.TempDir()
	clip := filepath.Join(dir, "gone-before-insert.wav") // never created

	d, err := h.resolver.Resolve(t.Context(), Candidate{
		UserID: "u1", TimestampUTC: time.Now(), ClassID: 13, ClipPath: clip, DateLocal: "2026-07-30",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipMissingFile, d.Kind)
	assert.Empty(t, h.store.rows)
}

func TestResolveDifferentClassIDNotADuplicate(t *testing.T) {
	h := newFakeResolver(t)
	dir := t.TempDir()
	existingClip := writeFile(t, dir, "existing.wav")
	newClip := writeFile(t, dir, "new.wav")

	ts := time.Now()
	h.store.rows = append(h.store.rows, datastore.LaughterDetection{
		ID: 1, UserID: "u1", TimestampUTC: ts, ClassID: 13, ClipPath: existingClip,
	})
	h.store.nextID = 1

	d, err := h.resolver.Resolve(t.Context(), Candidate{
		UserID: "u1", TimestampUTC: ts.Add(time.Second), ClassID: 15, ClipPath: newClip, DateLocal: "2026-07-30",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionInsert, d.Kind)
}

func TestResolveOrphanRecoveryRewritesMissingFile(t *testing.T) {
	h := newFakeResolver(t)
	dir := t.TempDir()
	newClip := writeFile(t, dir, "new.wav")
	missingClip := filepath.Join(dir, "gone.wav") // never created

	ts := time.Now()
	h.store.rows = append(h.store.rows, datastore.LaughterDetection{
		ID: 1, UserID: "u1", TimestampUTC: ts, ClassID: 13, ClipPath: missingClip, Probability: 0.4,
	})
	h.store.nextID = 1

	d, err := h.resolver.Resolve(t.Context(), Candidate{
		UserID: "u1", TimestampUTC: ts.Add(time.Second), ClassID: 13, ClipPath: newClip,
		Probability: 0.9, DateLocal: "2026-07-30",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, d.Kind)
	assert.Equal(t, uint(1), d.ExistingID)
	assert.Equal(t, newClip, h.store.rows[0].ClipPath)
}

func TestResolveSkipsMissingFileWhenClipPathEmpty(t *testing.T) {
	h := newFakeResolver(t)
	d, err := h.resolver.Resolve(t.Context(), Candidate{UserID: "u1", TimestampUTC: time.Now(), ClassID: 13})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipMissingFile, d.Kind)
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}
