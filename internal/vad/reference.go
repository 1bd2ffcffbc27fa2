package vad

import "math"

// ReferenceThresholdMultiplier sets the speech-detection threshold as a
// multiple of the calibrated noise floor's RMS amplitude.
const ReferenceThresholdMultiplier = 2.5

// referenceNoiseFloorEpsilon prevents a near-silent calibration window
// from producing a threshold of (near) zero, which would classify any
// noise as speech.
const referenceNoiseFloorEpsilon = 8.0

// ReferenceEngine is a deterministic, dependency-free energy-threshold
// VAD, grounded on sphinxbase's cont_ad_t: it calibrates against an
// ambient-noise window, then classifies each subsequent frame as speech
// or silence by comparing RMS amplitude against noiseFloor *
// ReferenceThresholdMultiplier. It exists so the pipeline is fully
// testable without a native detector; production deployments bind a real
// Engine implementation behind the same interface.
type ReferenceEngine struct {
	src SampleSource

	requiredSamples int
	frameSamples    int

	noiseFloor float64
	threshold  float64

	ts int64
}

// NewReferenceEngine creates a ReferenceEngine. requiredSamples is the
// ambient-noise calibration window size; frameSamples is the frame
// granularity at which speech/silence decisions are made (typically
// rate/frame_rate samples).
func NewReferenceEngine(requiredSamples, frameSamples int) *ReferenceEngine {
	if frameSamples <= 0 {
		frameSamples = 160
	}
	if requiredSamples <= 0 {
		requiredSamples = frameSamples * 50
	}
	return &ReferenceEngine{
		requiredSamples: requiredSamples,
		frameSamples:    frameSamples,
	}
}

func (e *ReferenceEngine) RequiredSamples() int { return e.requiredSamples }

func (e *ReferenceEngine) Bind(src SampleSource) { e.src = src }

// Calibrate drains exactly RequiredSamples samples from the bound source
// and sets the noise floor to their RMS amplitude.
func (e *ReferenceEngine) Calibrate() error {
	need := e.requiredSamples * 2
	if e.src == nil || e.src.Len() < need {
		return ErrCalibrationFailed
	}

	buf := make([]byte, need)
	n := e.src.Pull(buf, need)
	if n != need {
		return ErrCalibrationFailed
	}

	samples := decodeS16LE(buf)
	rms := rmsAmplitude(samples)
	if rms <= 0 {
		rms = 0
	}

	e.noiseFloor = rms
	e.threshold = math.Max(rms*ReferenceThresholdMultiplier, referenceNoiseFloorEpsilon)
	e.ts = 0
	return nil
}

// Read classifies frame-sized windows from the bound source, copying
// speech frames into dst and silently dropping silence frames, while
// advancing the read timestamp for every frame consumed regardless of
// classification.
func (e *ReferenceEngine) Read(dst []int16) int {
	if e.src == nil {
		return 0
	}

	frameBytes := e.frameSamples * 2
	copied := 0
	frame := make([]byte, frameBytes)

	for copied+e.frameSamples <= len(dst) {
		if e.src.Len() < frameBytes {
			break
		}

		n := e.src.Pull(frame, frameBytes)
		if n < frameBytes {
			break
		}

		samples := decodeS16LE(frame)
		e.ts += int64(e.frameSamples)

		if rmsAmplitude(samples) >= e.threshold {
			copy(dst[copied:], samples)
			copied += len(samples)
		}
	}

	return copied
}

func (e *ReferenceEngine) ReadTimestamp() int64 { return e.ts }

// Reset keeps no transient detection state to clear in this engine:
// calibration coefficients (noise floor, threshold) and the read
// timestamp all survive a Reset — the coefficients are re-derived and
// the timestamp restarted only by a fresh Calibrate call.
func (e *ReferenceEngine) Reset() {}

func decodeS16LE(buf []byte) []int16 {
	n := len(buf) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
	}
	return out
}

func rmsAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
