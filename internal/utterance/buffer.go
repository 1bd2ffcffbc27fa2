// Package utterance implements the sample-aligned buffer that accumulates
// detected speech between a calibrated VAD filter and the decoder engine.
package utterance

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
)

// InjectedSilence is the number of frames of zero-valued padding injected
// at the head of the buffer after a purge, giving the decoder leading
// context. Matches INJECTED_SILENCE in the original filter-buffer.c.
const InjectedSilence = 10

// Reader is the subset of vad.Calibrator the buffer pulls detected speech
// from. Kept minimal (rather than importing the vad package) to avoid a
// dependency cycle between utterance and vad.
type Reader interface {
	Read(dst []int16) int
	ReadTimestamp() int64
}

// Recorder is the optional append-only debug sink for flushed PCM.
// *os.File satisfies it.
type Recorder interface {
	Write([]byte) (int, error)
}

// Buffer accumulates active speech samples until a high-water mark or an
// end-of-utterance boundary is reached.
type Buffer struct {
	log *slog.Logger

	storage []int16 // capacity: max + InjectedSilence*frlen
	length  int

	max   int
	hwm   int
	frlen int
	silen int

	ts int64

	recorder Recorder
}

// New creates a Buffer. max and hwm are rounded up to the nearest
// multiple of frlen, matching filter_buffer_initialize's rounding.
func New(log *slog.Logger, max, hwm, frlen, silen int, recorder Recorder) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	if frlen <= 0 {
		frlen = 1
	}
	max = roundUp(max, frlen)
	hwm = roundUp(hwm, frlen)

	return &Buffer{
		log:      log.With("component", "utterance"),
		storage:  make([]int16, max+InjectedSilence*frlen),
		max:      max,
		hwm:      hwm,
		frlen:    frlen,
		silen:    silen,
		recorder: recorder,
	}
}

func roundUp(v, mult int) int {
	if mult <= 0 {
		return v
	}
	return (v + mult - 1) / mult * mult
}

// Len returns the number of samples currently buffered.
func (b *Buffer) Len() int { return b.length }

// Max returns the buffer's sample capacity (excluding injected-silence
// padding space).
func (b *Buffer) Max() int { return b.max }

// HWM returns the high-water mark, in samples.
func (b *Buffer) HWM() int { return b.hwm }

// FrameLen returns the configured frame length, in samples.
func (b *Buffer) FrameLen() int { return b.frlen }

// SilenceWindow returns the configured end-of-utterance silence window,
// in samples.
func (b *Buffer) SilenceWindow() int { return b.silen }

// Timestamp returns the timestamp of the last successful append.
func (b *Buffer) Timestamp() int64 { return b.ts }

// Room reports how many more samples can be appended before the
// buffer's total capacity is reached. The high-water mark does not cap
// appending by itself — it only triggers an immediate partial flush
// (see AtOrAboveHWM) so a long utterance keeps accumulating toward max
// while its already-buffered prefix is handed to the decoder as it
// goes.
func (b *Buffer) Room() int {
	if r := b.max - b.length; r > 0 {
		return r
	}
	return 0
}

// IsEmpty reports whether the buffer currently holds no samples.
func (b *Buffer) IsEmpty() bool { return b.length == 0 }

// AtOrAboveHWM reports whether the buffer has reached its high-water
// mark and should be partially flushed to bound decoder latency.
func (b *Buffer) AtOrAboveHWM() bool { return b.length >= b.hwm }

// AppendFromVAD pulls detected-speech samples from r into the buffer's
// tail, bounded by Room(), and updates the last-advance timestamp. It
// returns the number of samples appended; zero means the VAD yielded no
// speech this cycle.
func (b *Buffer) AppendFromVAD(r Reader) int {
	room := b.Room()
	if room <= 0 {
		return 0
	}

	dst := b.storage[b.length : b.length+room]
	n := r.Read(dst)
	if n > 0 {
		b.length += n
		b.ts = r.ReadTimestamp()
	}
	return n
}

// Flush hands the buffered samples to process for decoding. It never
// clears the buffer's length itself — Purge, driven by the
// postprocessor's sink response, owns that. If a debug recorder is
// configured, the raw PCM is appended to it first; write errors are
// logged and do not interrupt the flush, except for EINTR which is
// retried.
func (b *Buffer) Flush(process func(samples []int16, full bool) error, full bool) error {
	if b.length == 0 {
		return nil
	}

	if b.recorder != nil {
		if err := b.writeRecording(b.storage[:b.length]); err != nil {
			b.log.Error("debug recording write failed", "error", err)
		}
	}

	return process(b.storage[:b.length], full)
}

func (b *Buffer) writeRecording(samples []int16) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[2*i] = byte(uint16(s))
		buf[2*i+1] = byte(uint16(s) >> 8)
	}

	for {
		_, err := b.recorder.Write(buf)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return err
	}
}

// Purge discards consumed samples, optionally preserving a trailing
// window for the utterance that straddled the high-water mark.
//
// keepTailSamples > 0: drop keepTailSamples+1 samples from the front
// (matching filter_buffer_purge's `length++` bias, which advances the
// drop point one extra sample past the purge boundary) and preserve
// the remainder, shifted behind fresh injected-silence padding.
// keepTailSamples == 0: drop nothing; every buffered sample is shifted
// behind fresh injected-silence padding, so the length grows by
// InjectedSilence*frlen (an empty buffer stays empty).
// keepTailSamples < 0: hard reset — the buffer becomes fully empty, with
// no padding.
func (b *Buffer) Purge(keepTailSamples int) {
	var keep int
	switch {
	case keepTailSamples > 0:
		keep = keepTailSamples + 1
	case keepTailSamples < 0:
		keep = b.length
	default:
		keep = 0
	}

	if keep >= b.length {
		b.length = 0
		return
	}

	sillen := InjectedSilence * b.frlen
	origLen := b.length
	kept := origLen - keep

	copy(b.storage[sillen:], b.storage[keep:origLen])
	for i := 0; i < sillen; i++ {
		b.storage[i] = 0
	}

	b.length = kept + sillen
}

// Dup returns a copy of samples [start, end), or an error if the range
// is invalid.
func (b *Buffer) Dup(start, end int) ([]int16, error) {
	if start < 0 || end < 0 || start >= end || start >= b.length {
		return nil, fmt.Errorf("utterance: invalid dup range [%d, %d) over length %d", start, end, b.length)
	}
	if end > b.length {
		end = b.length
	}
	out := make([]int16, end-start)
	copy(out, b.storage[start:end])
	return out, nil
}
