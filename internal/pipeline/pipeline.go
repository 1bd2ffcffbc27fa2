// Package pipeline wires the capture, vad, utterance, decoder and
// postprocess packages into the end-to-end dataflow and control plane.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/speechpipe/enginecore/internal/capture"
	"github.com/speechpipe/enginecore/internal/decoder"
	"github.com/speechpipe/enginecore/internal/postprocess"
	"github.com/speechpipe/enginecore/internal/utterance"
	"github.com/speechpipe/enginecore/internal/vad"
	"github.com/speechpipe/enginecore/pkg/speechresult"
)

// ErrNoCurrentDecoder is returned by operations that require a current
// decoder when the DecoderSet is empty.
var ErrNoCurrentDecoder = errors.New("pipeline: no current decoder")

// Params bundles the buffer sizing a Pipeline is built with, all in
// samples unless noted.
type Params struct {
	CaptureCapacityBytes int
	CaptureMinReqBytes   int

	FrameSamples int // frlen
	MaxSamples   int // UtteranceBuffer.max
	HWMSamples   int // UtteranceBuffer.hwm
	SilenSamples int // UtteranceBuffer.silen

	VADEngine vad.Engine
	Decoders  *decoder.Set
	Sink      speechresult.Sink
	Recorder  utterance.Recorder
}

// Pipeline is a single-threaded cooperative engine: one event loop, no
// internal thread owns pipeline state.
type Pipeline struct {
	log *slog.Logger

	// StreamID correlates this pipeline instance's log lines and
	// diagnostics across a connected source session.
	StreamID xid.ID

	capture    *capture.Buffer
	calibrator *vad.Calibrator
	utter      *utterance.Buffer
	decoders   *decoder.Set
	sink       speechresult.Sink

	active bool
	corked bool

	firstFlush bool
}

// New builds a Pipeline from p. The pipeline starts deactivated; call
// Activate to begin accepting audio.
func New(log *slog.Logger, p Params) *Pipeline {
	if log == nil {
		log = slog.Default()
	}

	streamID := xid.New()
	log = log.With("component", "pipeline", "stream_id", streamID.String())

	cb := capture.New(log, p.CaptureCapacityBytes, p.CaptureMinReqBytes)
	calibrator := vad.NewCalibrator(log, p.VADEngine, cb)
	utter := utterance.New(log, p.MaxSamples, p.HWMSamples, p.FrameSamples, p.SilenSamples, p.Recorder)

	return &Pipeline{
		log:        log,
		StreamID:   streamID,
		capture:    cb,
		calibrator: calibrator,
		utter:      utter,
		decoders:   p.Decoders,
		sink:       p.Sink,
	}
}

// Activate enables the pipeline. Before activation, Push drops all
// incoming audio at the VAD input boundary.
func (p *Pipeline) Activate() { p.active = true }

// Deactivate disables the pipeline, preserving buffered state (a soft
// cancellation — buffered audio and decoder state survive).
func (p *Pipeline) Deactivate() { p.active = false }

// Active reports whether the pipeline is currently enabled.
func (p *Pipeline) Active() bool { return p.active }

// Cork propagates a cork request: while corked, pushed audio is
// accepted into CaptureBuffer but not processed.
func (p *Pipeline) Cork(corked bool) { p.corked = corked }

// Corked reports the current cork state.
func (p *Pipeline) Corked() bool { return p.corked }

// Push accepts a chunk of raw PCM from the source. It is the single
// entry point driving the calibration protocol and the steady-state
// read/append/flush loop.
func (p *Pipeline) Push(data []byte) error {
	if !p.active {
		return nil
	}

	p.capture.Push(data)
	if p.corked {
		return nil
	}

	return p.process()
}

func (p *Pipeline) process() error {
	minReq := p.capture.MinRequired(p.calibrator.RequiredSamples())
	if p.capture.Len() < minReq {
		return nil
	}

	if !p.calibrator.Calibrated() {
		if err := p.calibrator.Attempt(); err != nil {
			p.capture.Reset()
			return nil
		}
		p.capture.SetCalibrated(true)
		p.utter.Purge(0)
	}

	return p.steadyState()
}

func (p *Pipeline) steadyState() error {
	dec := p.decoders.Current()
	if dec == nil {
		return ErrNoCurrentDecoder
	}

	anyData := false
	for {
		if p.utter.Room() <= 0 {
			break
		}
		n := p.utter.AppendFromVAD(p.calibrator)
		if n == 0 {
			break
		}
		anyData = true

		if !dec.InUtterance() {
			if err := dec.Begin(); err != nil {
				return err
			}
			p.firstFlush = true
		}

		if p.utter.AtOrAboveHWM() {
			if err := p.flush(dec, false); err != nil {
				p.log.Error("partial flush failed", "error", err)
			}
			// The decoder engine digests flushed samples into its own
			// internal observation sequence, so the UtteranceBuffer does
			// not need to retain them. Reclaim the
			// space (behind fresh injected-silence context) so a long
			// utterance keeps making room up to max instead of
			// latching permanently at the high-water mark.
			p.utter.Purge(0)
		}
	}

	if !anyData && dec.InUtterance() {
		if p.calibrator.ReadTimestamp()-p.utter.Timestamp() > int64(p.utter.SilenceWindow()) {
			return p.finishUtterance(dec)
		}
	}

	return nil
}

func (p *Pipeline) flush(dec *decoder.Decoder, full bool) error {
	searchStart := p.firstFlush
	p.firstFlush = false

	return p.utter.Flush(func(samples []int16, full bool) error {
		return dec.ProcessRaw(samples, searchStart, full)
	}, full)
}

func (p *Pipeline) finishUtterance(dec *decoder.Decoder) error {
	if err := p.flush(dec, true); err != nil {
		p.log.Error("final flush failed", "error", err)
	}

	p.calibrator.Reset()

	length := int32(p.utter.Len())
	utteranceID := dec.UtteranceID()

	if err := dec.End(); err != nil {
		p.log.Error("decoder process error, abandoning utterance", "error", err, "samples", length)
		return err
	}

	result, err := postprocess.Process(dec.Engine(), dec.Kind(), utteranceID)
	if err != nil {
		p.log.Error("postprocess failed", "error", err)
		return err
	}
	if result.Length == 0 {
		result.Length = length
	}

	purgeLength := p.sink.OnUtterance(result)
	p.utter.Purge(keepTailFromPurge(length, purgeLength))
	return nil
}

// keepTailFromPurge translates the sink's purge_length contract (length
// consumes verbatim, a smaller positive number preserves a tail, -1
// drops everything) into the keep_tail_samples argument
// UtteranceBuffer.Purge expects. Purge(N) drops N+1 samples from the
// front, so a positive purge length p is passed as p-1 and exactly
// length-p samples are kept; a purge length of 0 or 1 is passed as 0,
// which drops nothing. Out-of-range values are clamped to [0, length],
// except the -1 sentinel.
func keepTailFromPurge(length, purgeLength int32) int {
	if purgeLength == -1 {
		return -1
	}
	if purgeLength < 0 {
		purgeLength = 0
	}
	if purgeLength > length {
		purgeLength = length
	}

	if purgeLength <= 0 {
		return 0
	}
	return int(purgeLength) - 1
}

// Flush implements the control-plane flush(start, end) operation: a
// reset if the range covers the whole buffer, otherwise a logged
// no-op, since this design does not index by absolute sample
// timestamp.
func (p *Pipeline) Flush(start, end int32) {
	if start <= 0 && int(end) >= p.utter.Len() {
		p.utter.Purge(-1)
		return
	}
	p.log.Warn("flush with a partial range is not supported, ignoring", "start", start, "end", end)
}

// Rescan is reserved for future replay support; it is a no-op that
// always succeeds.
func (p *Pipeline) Rescan(start, end int32) error { return nil }

// SelectDecoder switches the current decoder by name.
func (p *Pipeline) SelectDecoder(name string) error {
	if err := p.decoders.Select(name); err != nil {
		return fmt.Errorf("pipeline: select decoder: %w", err)
	}
	return nil
}

// CheckDecoder reports whether a decoder named name has been added.
func (p *Pipeline) CheckDecoder(name string) bool { return p.decoders.Contains(name) }

// CurrentDecoderName returns the name of the currently selected
// decoder.
func (p *Pipeline) CurrentDecoderName() string { return p.decoders.CurrentName() }
