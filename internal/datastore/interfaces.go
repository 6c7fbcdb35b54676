package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/stokedbloke/gigglepipe/internal/errors"
)

// Sentinel not-found errors, one per lookup the pipeline performs.
var (
	ErrUserNotFound        = errors.Newf("user not found").Component("datastore").Category(errors.CategoryNotFound).Build()
	ErrActiveKeyNotFound   = errors.Newf("no active upstream key for user").Component("datastore").Category(errors.CategoryNotFound).Build()
	ErrProcessingLogAbsent = errors.Newf("no processing log row for user/date").Component("datastore").Category(errors.CategoryNotFound).Build()
)

// SegmentFile is the minimal projection of an AudioSegment row the
// reconciler (C10) needs: where the file lives and whether it should
// already be gone.
type SegmentFile struct {
	FilePath  string
	Processed bool
}

// Interface abstracts the underlying SQL dialect (sqlite or mysql) behind
// the operations the pipeline's components (C3, C6, C7) need. A single
// implementation (Store) backs both dialects; only the gorm.Open driver
// differs, selected by conf.Settings.Database.URL's scheme.
type Interface interface {
	Open() error
	Close() error
	Migrate() error

	// Users and credentials.
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListActiveUsers(ctx context.Context) ([]User, error)
	ActiveUpstreamKey(ctx context.Context, userID string) (*UpstreamKey, error)

	// C3: segment store.
	SegmentOverlapsProcessed(ctx context.Context, userID string, start, end time.Time) (bool, error)
	InsertSegment(ctx context.Context, seg *AudioSegment) error
	MarkSegmentProcessed(ctx context.Context, segmentID uint, at time.Time) error
	// LatestSegmentEnd returns the greatest EndUTC among a user's
	// segments for dateLocal, used to compute C8's update-today resume
	// point. ok is false if the user has no segments for that date yet.
	LatestSegmentEnd(ctx context.Context, userID, dateLocal string) (end time.Time, ok bool, err error)
	// SegmentsForDate and DeleteSegmentsForDate/DeleteDetectionsForDate
	// back C8's reprocess path, which deletes files (read from the rows
	// returned here) before deleting the rows themselves.
	SegmentsForDate(ctx context.Context, userID, dateLocal string) ([]AudioSegment, error)
	DeleteSegmentsForDate(ctx context.Context, userID, dateLocal string) error
	DeleteDetectionsForDate(ctx context.Context, userID, dateLocal string) error
	// ListAllSegments/ListAllDetections and the UpdatePath pair back
	// migrate-paths's one-time relative-to-absolute rewrite sweep.
	ListAllSegments(ctx context.Context, userID string) ([]AudioSegment, error)
	UpdateSegmentPath(ctx context.Context, segmentID uint, path string) error

	// C6: detection store (dedup decisions are made in internal/dedup;
	// this interface exposes only the raw reads/writes they compose).
	DetectionsNear(ctx context.Context, userID string, ts time.Time, window time.Duration) ([]LaughterDetection, error)
	DetectionByClipPath(ctx context.Context, clipPath string) (*LaughterDetection, error)
	InsertDetection(ctx context.Context, d *LaughterDetection) error
	UpdateDetection(ctx context.Context, d *LaughterDetection) error
	// The Tx variants run the same query against an in-flight
	// transaction handle (from Transaction below) instead of the
	// store's own connection, so internal/dedup's read-decide-write
	// sequence is actually atomic against concurrent writers.
	DetectionsNearTx(ctx context.Context, tx *gorm.DB, userID string, ts time.Time, window time.Duration) ([]LaughterDetection, error)
	DetectionByClipPathTx(ctx context.Context, tx *gorm.DB, clipPath string) (*LaughterDetection, error)
	InsertDetectionTx(ctx context.Context, tx *gorm.DB, d *LaughterDetection) error
	UpdateDetectionTx(ctx context.Context, tx *gorm.DB, d *LaughterDetection) error
	DetectionsForUserDate(ctx context.Context, userID, dateLocal string) ([]LaughterDetection, error)
	AllClipPaths(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListAllDetections(ctx context.Context, userID string) ([]LaughterDetection, error)
	UpdateDetectionClipPath(ctx context.Context, detectionID uint, path string) error

	// C10: segment file inventory, for cross-checking on-disk audio
	// against the DB (known_audio, plus which are already processed).
	ListSegmentFiles(ctx context.Context, userID string) ([]SegmentFile, error)

	// C7: processing log upsert.
	UpsertProcessingLog(ctx context.Context, row *ProcessingLog) error
	GetProcessingLog(ctx context.Context, userID, dateLocal string) (*ProcessingLog, error)

	// Transaction runs fc inside a single DB transaction; used by
	// internal/dedup to make the read-decide-write sequence atomic.
	Transaction(ctx context.Context, fc func(tx *gorm.DB) error) error
}
