// Package classifier wraps the pretrained acoustic patch classifier
// (C4): a YAMNet-shaped TensorFlow Lite model that scores 0.96s audio
// patches, hopped every 0.48s, against a fixed class taxonomy. Only
// the five laughter-adjacent classes are ever returned to callers.
package classifier

import (
	_ "embed"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/tphakala/go-tflite"

	"github.com/stokedbloke/gigglepipe/internal/errors"
	"github.com/stokedbloke/gigglepipe/internal/logging"
)

// Patch timing, fixed by the model architecture (YAMNet): a 0.96s
// analysis window hopped every 0.48s, so patches overlap by half.
const (
	PatchDurationSeconds = 0.96
	PatchHopSeconds      = 0.48
	SampleRate           = 16000
)

// ClassID is a YAMNet AudioSet class index.
type ClassID int

// Laughter-adjacent classes, the only ones this pipeline ever surfaces.
const (
	ClassLaughter      ClassID = 13
	ClassBabyLaughter  ClassID = 14
	ClassGiggle        ClassID = 15
	ClassBellyLaugh    ClassID = 17
	ClassChuckle       ClassID = 18
)

var classNames = map[ClassID]string{
	ClassLaughter:     "Laughter",
	ClassBabyLaughter: "Baby laughter",
	ClassGiggle:       "Giggle",
	ClassBellyLaugh:   "Belly laugh",
	ClassChuckle:      "Chuckle",
}

// LaughterClasses lists the class IDs scored against the threshold, in
// a stable order for deterministic iteration.
var LaughterClasses = []ClassID{ClassLaughter, ClassBabyLaughter, ClassGiggle, ClassBellyLaugh, ClassChuckle}

// Event is one patch that cleared the threshold for one laughter class.
type Event struct {
	TimestampRelSeconds float64
	Probability         float64
	ClassID             int
	ClassName           string
}

// Classifier owns the loaded TFLite interpreter. Construct one per
// process via New. go-tflite's interpreter is not safe for concurrent
// use, so Classify holds mu for the whole patch loop; concurrent
// Classify calls run one after another.
type Classifier struct {
	modelPath string
	mu        sync.Mutex
	model     *tflite.Model
	interp    *tflite.Interpreter
	once      sync.Once
	initErr   error
}

// New returns a Classifier that lazily loads modelPath on first use.
// modelPath points to an external .tflite file (ambient, not embedded,
// since this model ships separately from the binary per deployment).
func New(modelPath string) *Classifier {
	return &Classifier{modelPath: modelPath}
}

func (c *Classifier) ensureLoaded() error {
	c.once.Do(func() {
		c.initErr = c.load(false)
	})
	return c.initErr
}

// load reads modelPath and builds the interpreter. If the model fails
// to parse, the file is read and parsed once more; no cache is cleared
// before that second attempt. A second parse failure is returned as an
// error, and ensureLoaded keeps returning it for the rest of the process.
func (c *Classifier) load(isRetry bool) error {
	data, err := os.ReadFile(c.modelPath)
	if err != nil {
		return errors.New(err).Component("classifier").Category(errors.CategoryClassifier).
			Context("model_path", c.modelPath).Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		if !isRetry {
			logging.With("component", "classifier").Warn(
				"model file failed to parse, retrying once", "model_path", c.modelPath)
			return c.load(true)
		}
		return errors.Newf("classifier model at %s is corrupt after retry", c.modelPath).
			Component("classifier").Category(errors.CategoryClassifier).Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(1, runtime.NumCPU()-1))
	options.SetErrorReporter(func(msg string, _ any) {
		logging.With("component", "classifier").Warn("tflite runtime message", "msg", msg)
	}, nil)

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		return errors.Newf("cannot create classifier interpreter").
			Component("classifier").Category(errors.CategoryClassifier).Build()
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		return errors.Newf("classifier tensor allocation failed: %v", status).
			Component("classifier").Category(errors.CategoryClassifier).Build()
	}

	c.model = model
	c.interp = interp
	return nil
}

// Classify scores every patch of samples (mono float32 at SampleRate)
// against the laughter classes and returns the events clearing
// threshold. Event.TimestampRelSeconds is the patch index times
// PatchHopSeconds, i.e. relative to the first sample of samples.
func (c *Classifier) Classify(samples []float32, threshold float64) ([]Event, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	patchLen := int(PatchDurationSeconds * SampleRate)
	hopLen := int(PatchHopSeconds * SampleRate)
	if len(samples) < patchLen {
		return nil, nil
	}

	var events []Event
	inputTensor := c.interp.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.Newf("classifier input tensor unavailable").
			Component("classifier").Category(errors.CategoryClassifier).Build()
	}

	for patchIdx, start := 0, 0; start+patchLen <= len(samples); patchIdx, start = patchIdx+1, start+hopLen {
		patch := samples[start : start+patchLen]

		input := inputTensor.Float32s()
		if len(input) != len(patch) {
			return nil, errors.Newf("classifier input tensor size %d does not match patch size %d",
				len(input), len(patch)).Component("classifier").Category(errors.CategoryClassifier).Build()
		}
		copy(input, patch)

		if status := c.interp.Invoke(); status != tflite.OK {
			return nil, errors.Newf("classifier invoke failed: %v", status).
				Component("classifier").Category(errors.CategoryClassifier).
				Context("patch_index", patchIdx).Build()
		}

		outputTensor := c.interp.GetOutputTensor(0)
		if outputTensor == nil {
			return nil, errors.Newf("classifier output tensor unavailable").
				Component("classifier").Category(errors.CategoryClassifier).Build()
		}
		scores := outputTensor.Float32s()

		patchTimestamp := float64(patchIdx) * PatchHopSeconds
		for _, classID := range LaughterClasses {
			if int(classID) >= len(scores) {
				continue
			}
			score := float64(scores[classID])
			if score > threshold {
				events = append(events, Event{
					TimestampRelSeconds: patchTimestamp,
					Probability:         score,
					ClassID:             int(classID),
					ClassName:           classNames[classID],
				})
			}
		}
	}

	return events, nil
}

// ReleaseSegmentMemory is called between users/segments to return
// interpreter scratch memory to the OS, matching the fleet orchestrator's
// (C9) per-user memory discipline.
func ReleaseSegmentMemory() {
	debug.FreeOSMemory()
}
