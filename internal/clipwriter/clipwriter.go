// Package clipwriter extracts a short WAV clip around a detected
// laughter event (C5) from the decoded segment samples.
package clipwriter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/stokedbloke/gigglepipe/internal/errors"
)

const bitDepth = 16

// Cut extracts the window [eventOffset-before, eventOffset+after),
// clamped to [0, len(samples)/sampleRate), from samples (mono float32
// at sampleRate) and writes it as a 16-bit PCM WAV file at outPath.
// outPath's parent directory is created if missing. No partial file
// is left behind on any failure.
func Cut(samples []float32, sampleRate int, eventOffset, before, after time.Duration, outPath string) error {
	total := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))

	startOffset := eventOffset - before
	if startOffset < 0 {
		startOffset = 0
	}
	endOffset := eventOffset + after
	if endOffset > total {
		endOffset = total
	}
	if endOffset <= startOffset {
		return errors.Newf("clip window collapsed to zero width for event at %s", eventOffset).
			Component("clipwriter").Category(errors.CategoryClipWrite).Build()
	}

	startSample := int(startOffset.Seconds() * float64(sampleRate))
	endSample := int(endOffset.Seconds() * float64(sampleRate))
	if endSample > len(samples) {
		endSample = len(samples)
	}
	if startSample < 0 {
		startSample = 0
	}
	if startSample >= endSample {
		return errors.Newf("clip sample range invalid [%d,%d) of %d", startSample, endSample, len(samples)).
			Component("clipwriter").Category(errors.CategoryClipWrite).Build()
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errors.New(err).Component("clipwriter").Category(errors.CategoryClipWrite).
			Context("out_path", outPath).Build()
	}

	tmpPath := outPath + ".tmp"
	if err := writeWAV(samples[startSample:endSample], sampleRate, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(err).Component("clipwriter").Category(errors.CategoryClipWrite).
			Context("out_path", outPath).Build()
	}
	return nil
}

func writeWAV(samples []float32, sampleRate int, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.New(err).Component("clipwriter").Category(errors.CategoryClipWrite).
			Context("path", path).Build()
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)
	intData := make([]int, len(samples))
	for i, s := range samples {
		intData[i] = int(math.Round(float64(s) * 32767))
	}
	buf := &audio.IntBuffer{
		Data:           intData,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).Component("clipwriter").Category(errors.CategoryClipWrite).
			Context("path", path).Build()
	}
	if err := enc.Close(); err != nil {
		return errors.New(err).Component("clipwriter").Category(errors.CategoryClipWrite).
			Context("path", path).Build()
	}
	return nil
}

// FileName builds the clip filename per the original format:
// {segment_stem}_laughter_{ts_with_dot_as_dash}_{class_id}.wav, where
// ts_with_dot_as_dash is the event's segment-relative offset in
// seconds, formatted to two decimal places with '.' replaced by '-'
// so it is safe inside a filename (e.g. offset 2708.64s -> "2708-64").
func FileName(segmentStem string, timestampRelSeconds float64, classID int) string {
	ts := strings.ReplaceAll(fmt.Sprintf("%.2f", timestampRelSeconds), ".", "-")
	return fmt.Sprintf("%s_laughter_%s_%d.wav", segmentStem, ts, classID)
}
