// Package capture implements the fixed-capacity byte ring that absorbs raw
// PCM bursts from the audio source before the VAD filter ever sees them.
package capture

import (
	"fmt"
	"log/slog"
)

// Buffer is a sample-aligned byte ring. It never blocks and never fails
// after construction: under overload it drops the oldest bytes, biasing
// the pipeline toward the freshest audio rather than toward reliability.
//
// Buffer is not safe for concurrent use; the pipeline owns it and drives
// it from a single goroutine (see the scheduling model in the Pipeline
// type doc).
type Buffer struct {
	log *slog.Logger

	buf []byte
	len int

	minReqBytes int
	calibrated  bool
}

// New creates a Buffer with the given byte capacity. minReqBytes is the
// threshold used once the buffer is calibrated; while uncalibrated,
// MinRequired uses the reqSamples argument it is given instead.
func New(log *slog.Logger, capBytes, minReqBytes int) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	if capBytes <= 0 {
		capBytes = 1
	}
	return &Buffer{
		log:         log.With("component", "capture"),
		buf:         make([]byte, capBytes),
		minReqBytes: minReqBytes,
	}
}

// Reshape resizes the buffer, discarding any buffered bytes. Called once
// the source's own buffer attributes are known at stream connect.
func (b *Buffer) Reshape(capBytes, minReqBytes int) {
	if capBytes <= 0 {
		capBytes = 1
	}
	b.buf = make([]byte, capBytes)
	b.len = 0
	b.minReqBytes = minReqBytes
}

// Len reports the number of buffered bytes.
func (b *Buffer) Len() int { return b.len }

// Cap reports the buffer's byte capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Calibrated reports whether the buffer's owner has finished calibration.
func (b *Buffer) Calibrated() bool { return b.calibrated }

// SetCalibrated flips the calibration flag.
func (b *Buffer) SetCalibrated(v bool) { b.calibrated = v }

// Reset discards all buffered bytes.
func (b *Buffer) Reset() { b.len = 0 }

// Push appends raw PCM. It never fails; on overflow it drops the oldest
// bytes first, per spec: if extra > cap, the oldest portion of the
// incoming data itself is discarded before appending. A trailing odd
// byte is dropped so the buffer stays sample-aligned.
func (b *Buffer) Push(data []byte) {
	if len(data)%2 != 0 {
		b.log.Warn("odd-length push, dropping trailing byte", "incoming_bytes", len(data))
		data = data[:len(data)-1]
	}
	capBytes := len(b.buf)
	total := len(data) + b.len

	if total > capBytes {
		extra := total - capBytes

		if extra > capBytes {
			drop := len(data) - (len(data) % capBytes)
			b.log.Warn("capture buffer overflow, dropping incoming data",
				"dropped_bytes", drop, "incoming_bytes", len(data))
			data = data[drop:]
			extra = len(data) + b.len - capBytes
		}
		if extra > b.len {
			data = data[extra-b.len:]
			extra = b.len
		}
		if extra > 0 {
			b.log.Warn("capture buffer overflow, dropping oldest data",
				"dropped_bytes", extra, "buffered_bytes", b.len)
			copy(b.buf, b.buf[extra:b.len])
			b.len -= extra
		}
	}

	n := copy(b.buf[b.len:], data)
	b.len += n
	b.assertAligned()
}

// Pull drains up to n bytes into dst, returning the actual count. n is
// rounded down to a multiple of 2 so that residue data stays sample
// aligned; returns 0 when the buffer is empty.
func (b *Buffer) Pull(dst []byte, n int) int {
	n &^= 1 // round down to even
	if n > b.len {
		n = b.len
	}
	if n > len(dst) {
		n = len(dst) &^ 1
	}
	if n <= 0 {
		return 0
	}

	copy(dst, b.buf[:n])
	copy(b.buf, b.buf[n:b.len])
	b.len -= n

	b.assertAligned()
	return n
}

// MinRequired returns the push threshold below which downstream
// processing must not be invoked: reqSamples*2 while uncalibrated
// (reqSamples comes from the calibrator), else the configured
// min-request byte count.
func (b *Buffer) MinRequired(reqSamples int) int {
	if !b.calibrated {
		return reqSamples * 2
	}
	return b.minReqBytes
}

// Ready reports whether enough data has accumulated to invoke downstream
// processing, per MinRequired.
func (b *Buffer) Ready(reqSamples int) bool {
	return b.len >= b.MinRequired(reqSamples)
}

// assertAligned enforces the sample-alignment invariant: the buffer's
// length must always be an even number of bytes. An odd internal length
// is a bug, not a degraded condition, and is reported as fatal.
func (b *Buffer) assertAligned() {
	if b.len%2 != 0 {
		panic(fmt.Sprintf("capture: buffer length %d is not sample-aligned", b.len))
	}
}
