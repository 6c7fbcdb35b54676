package datastore

import (
	"context"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stokedbloke/gigglepipe/internal/errors"
	"github.com/stokedbloke/gigglepipe/internal/logging"
)

// Dialect names, matched against conf.Settings.Database.URL's prefix.
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

// Store is the dialect-agnostic implementation of Interface. The
// underlying *gorm.DB is opened with either the sqlite or mysql driver
// depending on the DSN scheme, mirroring the teacher's SQLiteStore/
// MySQLStore split but kept as one type since this domain's query set
// is small enough not to warrant separate structs per dialect.
type Store struct {
	db      *gorm.DB
	dialect string
	dsn     string
}

// New resolves the dialect from dsn's shape: a DSN containing "@tcp(" or
// "@unix(" is treated as MySQL; anything else is treated as a sqlite
// file path.
func New(dsn string) *Store {
	dialect := DialectSQLite
	if strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix(") {
		dialect = DialectMySQL
	}
	return &Store{dsn: dsn, dialect: dialect}
}

func (s *Store) Open() error {
	var dialector gorm.Dialector
	switch s.dialect {
	case DialectMySQL:
		dialector = mysql.Open(s.dsn)
	default:
		dialector = sqlite.Open(s.dsn)
	}

	gl := gormlogger.New(
		logAdapter{},
		gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gl})
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("dialect", s.dialect).Build()
	}
	s.db = db
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return sqlDB.Close()
}

func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(&User{}, &UpstreamKey{}, &AudioSegment{}, &LaughterDetection{}, &ProcessingLog{})
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("operation", "migrate").Build()
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("user_id", userID).Build()
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("email", email).Build()
	}
	return &u, nil
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Joins("JOIN upstream_keys ON upstream_keys.user_id = users.id AND upstream_keys.is_active = true").
		Find(&users).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return users, nil
}

func (s *Store) ActiveUpstreamKey(ctx context.Context, userID string) (*UpstreamKey, error) {
	var k UpstreamKey
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&k).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrActiveKeyNotFound
	}
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("user_id", userID).Build()
	}
	return &k, nil
}

func (s *Store) SegmentOverlapsProcessed(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	var count int64
	// Overlap predicate per the resolved dedup convention: a.start < b.end && b.start < a.end.
	err := s.db.WithContext(ctx).Model(&AudioSegment{}).
		Where("user_id = ? AND processed = ? AND start_utc < ? AND end_utc > ?", userID, true, end, start).
		Count(&count).Error
	if err != nil {
		return false, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return count > 0, nil
}

func (s *Store) InsertSegment(ctx context.Context, seg *AudioSegment) error {
	if err := s.db.WithContext(ctx).Create(seg).Error; err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategorySegmentStore).
			Context("user_id", seg.UserID).Build()
	}
	return nil
}

func (s *Store) MarkSegmentProcessed(ctx context.Context, segmentID uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&AudioSegment{}).
		Where("id = ?", segmentID).
		Updates(map[string]any{"processed": true, "processed_at": at}).Error
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategorySegmentStore).
			Context("segment_id", segmentID).Build()
	}
	return nil
}

// ListAllSegments returns every segment row for userID regardless of
// date, for migrate-paths's full-history path rewrite sweep.
func (s *Store) ListAllSegments(ctx context.Context, userID string) ([]AudioSegment, error) {
	var rows []AudioSegment
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategorySegmentStore).Build()
	}
	return rows, nil
}

// UpdateSegmentPath rewrites one segment's file_path in place, used
// only by migrate-paths to turn a relative path absolute.
func (s *Store) UpdateSegmentPath(ctx context.Context, segmentID uint, path string) error {
	err := s.db.WithContext(ctx).Model(&AudioSegment{}).
		Where("id = ?", segmentID).Update("file_path", path).Error
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategorySegmentStore).
			Context("segment_id", segmentID).Build()
	}
	return nil
}

func (s *Store) LatestSegmentEnd(ctx context.Context, userID, dateLocal string) (time.Time, bool, error) {
	var seg AudioSegment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date_local = ?", userID, dateLocal).
		Order("end_utc desc").First(&seg).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.New(err).Component("datastore").Category(errors.CategorySegmentStore).Build()
	}
	return seg.EndUTC, true, nil
}

func (s *Store) SegmentsForDate(ctx context.Context, userID, dateLocal string) ([]AudioSegment, error) {
	var rows []AudioSegment
	err := s.db.WithContext(ctx).Where("user_id = ? AND date_local = ?", userID, dateLocal).Find(&rows).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategorySegmentStore).Build()
	}
	return rows, nil
}

func (s *Store) DeleteSegmentsForDate(ctx context.Context, userID, dateLocal string) error {
	err := s.db.WithContext(ctx).Where("user_id = ? AND date_local = ?", userID, dateLocal).Delete(&AudioSegment{}).Error
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategorySegmentStore).Build()
	}
	return nil
}

func (s *Store) DeleteDetectionsForDate(ctx context.Context, userID, dateLocal string) error {
	err := s.db.WithContext(ctx).Where("user_id = ? AND date_local = ?", userID, dateLocal).Delete(&LaughterDetection{}).Error
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDedup).Build()
	}
	return nil
}

func (s *Store) DetectionsNear(ctx context.Context, userID string, ts time.Time, window time.Duration) ([]LaughterDetection, error) {
	return detectionsNear(s.db.WithContext(ctx), userID, ts, window)
}

// DetectionsNearTx is DetectionsNear run against tx instead of the
// store's own connection; see Interface's Tx-variant doc.
func (s *Store) DetectionsNearTx(ctx context.Context, tx *gorm.DB, userID string, ts time.Time, window time.Duration) ([]LaughterDetection, error) {
	return detectionsNear(tx.WithContext(ctx), userID, ts, window)
}

func detectionsNear(db *gorm.DB, userID string, ts time.Time, window time.Duration) ([]LaughterDetection, error) {
	var rows []LaughterDetection
	lo := ts.Add(-window)
	hi := ts.Add(window)
	// Half-open [lo, hi) per the resolved boundary convention.
	err := db.Where("user_id = ? AND timestamp_utc >= ? AND timestamp_utc < ?", userID, lo, hi).
		Find(&rows).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDedup).Build()
	}
	return rows, nil
}

func (s *Store) DetectionByClipPath(ctx context.Context, clipPath string) (*LaughterDetection, error) {
	return detectionByClipPath(s.db.WithContext(ctx), clipPath)
}

func (s *Store) DetectionByClipPathTx(ctx context.Context, tx *gorm.DB, clipPath string) (*LaughterDetection, error) {
	return detectionByClipPath(tx.WithContext(ctx), clipPath)
}

func detectionByClipPath(db *gorm.DB, clipPath string) (*LaughterDetection, error) {
	var d LaughterDetection
	err := db.Where("clip_path = ?", clipPath).First(&d).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDedup).Build()
	}
	return &d, nil
}

func (s *Store) InsertDetection(ctx context.Context, d *LaughterDetection) error {
	return insertDetection(s.db.WithContext(ctx), d)
}

func (s *Store) InsertDetectionTx(ctx context.Context, tx *gorm.DB, d *LaughterDetection) error {
	return insertDetection(tx.WithContext(ctx), d)
}

func insertDetection(db *gorm.DB, d *LaughterDetection) error {
	if err := db.Create(d).Error; err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDedup).
			Context("user_id", d.UserID).Context("clip_path", d.ClipPath).Build()
	}
	return nil
}

func (s *Store) UpdateDetection(ctx context.Context, d *LaughterDetection) error {
	return updateDetection(s.db.WithContext(ctx), d)
}

func (s *Store) UpdateDetectionTx(ctx context.Context, tx *gorm.DB, d *LaughterDetection) error {
	return updateDetection(tx.WithContext(ctx), d)
}

func updateDetection(db *gorm.DB, d *LaughterDetection) error {
	if err := db.Save(d).Error; err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDedup).
			Context("detection_id", d.ID).Build()
	}
	return nil
}

func (s *Store) DetectionsForUserDate(ctx context.Context, userID, dateLocal string) ([]LaughterDetection, error) {
	var rows []LaughterDetection
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date_local = ?", userID, dateLocal).
		Order("timestamp_utc asc").
		Find(&rows).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return rows, nil
}

// ListAllDetections returns every detection row for userID regardless
// of date, for migrate-paths's full-history path rewrite sweep.
func (s *Store) ListAllDetections(ctx context.Context, userID string) ([]LaughterDetection, error) {
	var rows []LaughterDetection
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return rows, nil
}

// UpdateDetectionClipPath rewrites one detection's clip_path in place,
// used only by migrate-paths.
func (s *Store) UpdateDetectionClipPath(ctx context.Context, detectionID uint, path string) error {
	err := s.db.WithContext(ctx).Model(&LaughterDetection{}).
		Where("id = ?", detectionID).Update("clip_path", path).Error
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDedup).
			Context("detection_id", detectionID).Build()
	}
	return nil
}

func (s *Store) AllClipPaths(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	var paths []string
	err := s.db.WithContext(ctx).Model(&LaughterDetection{}).
		Where("user_id = ?", userID).
		Order("id asc").
		Limit(pageSize).Offset(page * pageSize).
		Pluck("clip_path", &paths).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryReconcile).Build()
	}
	return paths, nil
}

func (s *Store) ListSegmentFiles(ctx context.Context, userID string) ([]SegmentFile, error) {
	var rows []AudioSegment
	err := s.db.WithContext(ctx).Select("file_path", "processed").
		Where("user_id = ?", userID).Find(&rows).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryReconcile).
			Context("user_id", userID).Build()
	}
	out := make([]SegmentFile, len(rows))
	for i, r := range rows {
		out[i] = SegmentFile{FilePath: r.FilePath, Processed: r.Processed}
	}
	return out, nil
}

func (s *Store) UpsertProcessingLog(ctx context.Context, row *ProcessingLog) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date_local = ?", row.UserID, row.DateLocal).
		Assign(row).
		FirstOrCreate(row).Error
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryProcessingLog).
			Context("user_id", row.UserID).Context("date_local", row.DateLocal).Build()
	}
	return nil
}

func (s *Store) GetProcessingLog(ctx context.Context, userID, dateLocal string) (*ProcessingLog, error) {
	var row ProcessingLog
	err := s.db.WithContext(ctx).Where("user_id = ? AND date_local = ?", userID, dateLocal).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrProcessingLogAbsent
	}
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryProcessingLog).Build()
	}
	return &row, nil
}

func (s *Store) Transaction(ctx context.Context, fc func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fc)
}

// logAdapter routes gorm's internal logging through this project's slog
// setup instead of gorm's default stdlib-log writer.
type logAdapter struct{}

func (logAdapter) Printf(format string, args ...any) {
	logging.Structured().Debug("gorm", "msg", trimNewline(format), "args", args)
}

func trimNewline(s string) string { return strings.TrimRight(s, "\n") }

var _ gormlogger.Writer = logAdapter{}
