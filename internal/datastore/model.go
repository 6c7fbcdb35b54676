// Package datastore defines gigglepipe's persisted models and the
// store interface (C3/C6/C7 backing store) that wraps them behind a
// dialect-agnostic API.
package datastore

import (
	"time"
)

// User is a tenant of the pipeline. One row per pendant wearer.
type User struct {
	ID        string `gorm:"primaryKey;size:64"`
	Email     string `gorm:"size:255;uniqueIndex"`
	Timezone  string `gorm:"size:64;not null"` // IANA name, e.g. "America/Los_Angeles"
	CreatedAt time.Time
	UpdatedAt time.Time

	UpstreamKeys       []UpstreamKey       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	AudioSegments      []AudioSegment      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	LaughterDetections []LaughterDetection `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ProcessingLogs     []ProcessingLog     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// UpstreamKey is a credential used to fetch a user's pendant recordings
// from the upstream service. Only one key may be active per user at a
// time; enforced by a partial unique index in the migration.
type UpstreamKey struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	UserID        string `gorm:"size:64;not null;index"`
	EncryptedKey  string `gorm:"not null"` // ciphertext; see conf.Settings.Service.EncryptionKey
	IsActive      bool   `gorm:"not null;default:true"`
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// AudioSegment records one fetched window of pendant audio: the chunk
// requested from upstream, the file it was written to, and whether the
// classifier has run over it yet.
type AudioSegment struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	UserID      string    `gorm:"size:64;not null;index:idx_segment_user_window"`
	DateLocal   string    `gorm:"size:10;not null;index"` // local-timezone date containing StartUTC
	StartUTC    time.Time `gorm:"not null;index:idx_segment_user_window"`
	EndUTC      time.Time `gorm:"not null"`
	FilePath    string    `gorm:"not null"` // absolute path under uploads/audio/{user_id}/
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
	CreatedAt   time.Time

	LaughterDetections []LaughterDetection `gorm:"foreignKey:SegmentID"`
}

// LaughterDetection is one classifier event that cleared the laughter
// threshold, with its extracted clip. The two unique indexes below are
// the dedup layer's final backstop (L3); see internal/dedup.
type LaughterDetection struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	UserID       string    `gorm:"size:64;not null;index:idx_detection_user_date;uniqueIndex:uq_user_ts_class,priority:1"`
	SegmentID    uint      `gorm:"not null;index"`
	TimestampUTC time.Time `gorm:"not null;uniqueIndex:uq_user_ts_class,priority:2"`
	ClassID      int       `gorm:"not null;uniqueIndex:uq_user_ts_class,priority:3"`
	ClassName    string    `gorm:"size:64;not null"`
	Probability  float64   `gorm:"not null"`
	ClipPath     string    `gorm:"not null;uniqueIndex:uq_clip_path"` // absolute path
	DateLocal    string    `gorm:"size:10;not null;index:idx_detection_user_date"` // YYYY-MM-DD in user's timezone
	Notes        string    `gorm:"type:text"`
	CreatedAt    time.Time
}

// TableName pins the table name explicitly instead of leaving it to
// gorm's naming strategy.
func (LaughterDetection) TableName() string { return "laughter_detections" }

// ProcessingLog is the per-user, per-local-day accounting row: one
// upsert target per run (update-today, nightly, reprocess all write
// into the same row for a given day). See internal/proclog.
type ProcessingLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:uq_user_date,priority:1"`
	DateLocal string `gorm:"size:10;not null;uniqueIndex:uq_user_date,priority:2"`

	FilesDownloaded int `gorm:"not null;default:0"`
	EventsFound     int `gorm:"not null;default:0"`
	EventsInserted  int `gorm:"not null;default:0"`
	EventsUpdated   int `gorm:"not null;default:0"`

	// DuplicatesSkipped is the derived sum of the three skip counters
	// below, persisted alongside them for query convenience.
	DuplicatesSkipped  int `gorm:"not null;default:0"`
	SkippedTimeWindow  int `gorm:"not null;default:0"` // L1 time-window dup, or L3's (user_id,timestamp_utc,class_id) hit
	SkippedClipPath    int `gorm:"not null;default:0"` // L2 exact clip_path dup
	SkippedMissingFile int `gorm:"not null;default:0"` // pre-insert existence guard, or no clip to insert

	APICalls      string    `gorm:"type:text"` // JSON array of {at,url,status_code,duration_ms,outcome}
	LastRunUTC    time.Time `gorm:"not null"`
	LastRunStatus string    `gorm:"size:16;not null"` // "ok" | "partial" | "failed"
	LastError     string    `gorm:"type:text"`
}

func (ProcessingLog) TableName() string { return "processing_logs" }
