package vad

import "log/slog"

// Calibrator owns a VAD Engine and tracks whether it has completed its
// one-time calibration against ambient noise. The VADFilter (Engine) is
// owned by it.
type Calibrator struct {
	log    *slog.Logger
	engine Engine

	calibrated bool
	baselineTS int64
}

// NewCalibrator wraps engine, binding it to src for both calibration and
// steady-state reads.
func NewCalibrator(log *slog.Logger, engine Engine, src SampleSource) *Calibrator {
	if log == nil {
		log = slog.Default()
	}
	engine.Bind(src)
	return &Calibrator{
		log:    log.With("component", "vad"),
		engine: engine,
	}
}

// RequiredSamples returns the engine's calibration window size.
func (c *Calibrator) RequiredSamples() int { return c.engine.RequiredSamples() }

// Calibrated reports whether calibration has completed successfully.
func (c *Calibrator) Calibrated() bool { return c.calibrated }

// Attempt runs one calibration attempt. On success it marks the
// calibrator calibrated and snapshots the engine's read timestamp as the
// baseline. On failure it returns the engine's error; the caller is
// expected to reset the capture buffer and retry on the next push.
func (c *Calibrator) Attempt() error {
	if err := c.engine.Calibrate(); err != nil {
		c.log.Warn("calibration attempt failed, will retry", "error", err)
		return err
	}

	c.calibrated = true
	c.baselineTS = c.engine.ReadTimestamp()
	c.log.Info("calibration succeeded", "baseline_timestamp", c.baselineTS)
	return nil
}

// Read delegates to the engine, yielding only detected-speech samples.
func (c *Calibrator) Read(dst []int16) int { return c.engine.Read(dst) }

// ReadTimestamp returns the engine's current read timestamp, in samples
// since calibration.
func (c *Calibrator) ReadTimestamp() int64 { return c.engine.ReadTimestamp() }

// Reset clears the engine's transient detection state, preserving
// calibration coefficients. Called at end-of-utterance.
func (c *Calibrator) Reset() { c.engine.Reset() }

// Invalidate forgets calibration entirely, forcing the calibration
// window to be re-accumulated from scratch. Not used in steady-state
// operation; exposed for teardown/reconnect paths.
func (c *Calibrator) Invalidate() {
	c.calibrated = false
	c.baselineTS = 0
}
