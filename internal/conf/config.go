// Package conf loads and validates gigglepipe's runtime configuration.
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings is the fully resolved configuration for a pipeline run. Fields
// mirror the env vars named in the spec (§6); viper binds each one and CLI
// flags (see cmd/root.go) can override them.
type Settings struct {
	Debug       bool
	VerboseLogs bool

	Upstream struct {
		BaseURL string        // UPSTREAM_BASE_URL
		Timeout time.Duration // fixed at 5 minutes per §4.C2, not user-configurable
	}

	Database struct {
		URL string // DB_URL, a gorm-style DSN; sqlite path or mysql DSN
	}

	Service struct {
		Key           string // SERVICE_KEY, used for internal service auth (external collaborator)
		EncryptionKey string // ENCRYPTION_KEY, 32-byte hex; owned by the external encrypt/decrypt collaborator
	}

	Storage struct {
		UploadDir string // UPLOAD_DIR, root of uploads/audio and uploads/clips
	}

	Detection struct {
		Threshold    float64       // LAUGHTER_THRESHOLD, default 0.3
		ClipDuration time.Duration // CLIP_DURATION, default 4s (split 2s/2s around the event)
		ChunkSize    time.Duration // CHUNK_MINUTES, default 30m
		ModelPath    string        // MODEL_PATH, the on-disk .tflite file the classifier loads once per process
	}

	Nightly struct {
		LocalTime string // NIGHTLY_UTC, HH:MM, default "09:00" (despite the name, a wall-clock local time per §6)
	}
}

// Default values, used both as viper defaults and as the fallback when a
// Settings value is constructed directly in tests.
const (
	DefaultThreshold    = 0.3
	DefaultClipDuration = 4 * time.Second
	DefaultChunkSize    = 30 * time.Minute
	DefaultNightlyTime  = "09:00"
	DefaultUploadDir    = "uploads"
	UpstreamTimeout     = 5 * time.Minute
	MaxUpstreamWindow   = 2 * time.Hour
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream_base_url", "")
	v.SetDefault("db_url", "gigglepipe.db")
	v.SetDefault("service_key", "")
	v.SetDefault("encryption_key", "")
	v.SetDefault("upload_dir", DefaultUploadDir)
	v.SetDefault("laughter_threshold", DefaultThreshold)
	v.SetDefault("clip_duration", DefaultClipDuration.Seconds())
	v.SetDefault("chunk_minutes", int(DefaultChunkSize.Minutes()))
	v.SetDefault("model_path", "model.tflite")
	v.SetDefault("nightly_utc", DefaultNightlyTime)
	v.SetDefault("verbose_logs", false)
	v.SetDefault("debug", false)
}

// Load builds Settings from environment variables (and, if present, a
// gigglepipe.yaml in the working directory), applying defaults and
// then validating the result.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("gigglepipe")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	setDefaults(v)

	v.SetEnvKeyReplacer(nil)
	v.AutomaticEnv()
	for _, key := range []string{
		"upstream_base_url", "db_url", "service_key", "encryption_key",
		"upload_dir", "laughter_threshold", "clip_duration", "chunk_minutes", "model_path",
		"nightly_utc", "verbose_logs", "debug",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	s := &Settings{}
	s.Debug = v.GetBool("debug")
	s.VerboseLogs = v.GetBool("verbose_logs")
	s.Upstream.BaseURL = v.GetString("upstream_base_url")
	s.Upstream.Timeout = UpstreamTimeout
	s.Database.URL = v.GetString("db_url")
	s.Service.Key = v.GetString("service_key")
	s.Service.EncryptionKey = v.GetString("encryption_key")
	s.Storage.UploadDir = v.GetString("upload_dir")
	s.Detection.Threshold = v.GetFloat64("laughter_threshold")
	s.Detection.ClipDuration = time.Duration(v.GetFloat64("clip_duration") * float64(time.Second))
	s.Detection.ChunkSize = time.Duration(v.GetInt("chunk_minutes")) * time.Minute
	s.Detection.ModelPath = v.GetString("model_path")
	s.Nightly.LocalTime = v.GetString("nightly_utc")

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks invariants the rest of the pipeline assumes hold.
func Validate(s *Settings) error {
	if s.Detection.ChunkSize <= 0 {
		return fmt.Errorf("chunk_minutes must be positive, got %s", s.Detection.ChunkSize)
	}
	if s.Detection.ChunkSize > MaxUpstreamWindow {
		return fmt.Errorf("chunk_minutes (%s) exceeds the upstream's %s request cap", s.Detection.ChunkSize, MaxUpstreamWindow)
	}
	if s.Detection.Threshold < 0 || s.Detection.Threshold > 1 {
		return fmt.Errorf("laughter_threshold must be in [0,1], got %f", s.Detection.Threshold)
	}
	if s.Detection.ClipDuration <= 0 {
		return fmt.Errorf("clip_duration must be positive, got %s", s.Detection.ClipDuration)
	}
	if _, _, err := parseNightlyTime(s.Nightly.LocalTime); err != nil {
		return fmt.Errorf("nightly_utc: %w", err)
	}
	if s.Storage.UploadDir == "" {
		return fmt.Errorf("upload_dir must not be empty")
	}
	if s.Detection.ModelPath == "" {
		return fmt.Errorf("model_path must not be empty")
	}
	return nil
}

// parseNightlyTime parses the "HH:MM" wall-clock configuration value.
func parseNightlyTime(hhmm string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid HH:MM value %q: %w", hhmm, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NightlyHourMinute exposes the parsed nightly trigger time.
func (s *Settings) NightlyHourMinute() (hour, minute int) {
	hour, minute, _ = parseNightlyTime(s.Nightly.LocalTime)
	return hour, minute
}
