package pipeline

import (
	"testing"

	"github.com/speechpipe/enginecore/internal/decoder"
	"github.com/speechpipe/enginecore/internal/vad"
	"github.com/speechpipe/enginecore/pkg/speechresult"
)

func silentPCM(samples int) []byte { return make([]byte, samples*2) }

func loudPCM(samples int, amp int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[2*i] = byte(uint16(amp))
		buf[2*i+1] = byte(uint16(amp) >> 8)
	}
	return buf
}

// recordingEngine wraps decoder.ReferenceEngine to count ProcessRaw
// calls by their full flag, for asserting the HWM partial-flush
// cadence (scenario S4).
type recordingEngine struct {
	*decoder.ReferenceEngine
	partialCalls int
	fullCalls    int
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{ReferenceEngine: decoder.NewReferenceEngine()}
}

func (e *recordingEngine) ProcessRaw(samples []int16, searchStart, full bool) error {
	if full {
		e.fullCalls++
	} else {
		e.partialCalls++
	}
	return e.ReferenceEngine.ProcessRaw(samples, searchStart, full)
}

type capturingSink struct {
	utterances []speechresult.Utterance
	purge      int32
}

func (s *capturingSink) OnUtterance(u speechresult.Utterance) int32 {
	s.utterances = append(s.utterances, u)
	return s.purge
}

func acousticDecoderConfig() decoder.Config {
	return decoder.Config{HMM: "/models/hmm", LM: "/models/lm", Dict: "/models/dict", TopN: 12, SampleRate: 16000}
}

func newTestPipeline(t *testing.T, requiredSamples, frameSamples, maxSamples, hwmSamples, silenSamples int, engines []decoder.Engine, sink speechresult.Sink) *Pipeline {
	t.Helper()

	idx := 0
	set := decoder.NewSet(nil, func() decoder.Engine {
		e := engines[idx]
		idx++
		return e
	})
	if err := set.Add("default", acousticDecoderConfig()); err != nil {
		t.Fatal(err)
	}

	return New(nil, Params{
		CaptureCapacityBytes: 16384,
		CaptureMinReqBytes:   frameSamples * 2,
		FrameSamples:         frameSamples,
		MaxSamples:           maxSamples,
		HWMSamples:           hwmSamples,
		SilenSamples:         silenSamples,
		VADEngine:            vad.NewReferenceEngine(requiredSamples, frameSamples),
		Decoders:             set,
		Sink:                 sink,
	})
}

func TestCalibrationThenSilenceEmitsNoUtterance(t *testing.T) {
	// Scenario S1.
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 100, 10, 1000, 500, 200, []decoder.Engine{eng}, sink)
	p.Activate()

	if err := p.Push(silentPCM(100)); err != nil {
		t.Fatal(err)
	}

	if !p.calibrator.Calibrated() {
		t.Fatal("expected calibration to succeed on a pure-silence window")
	}
	if len(sink.utterances) != 0 {
		t.Fatalf("expected no utterance emitted, got %d", len(sink.utterances))
	}
	if p.capture.Len() != 0 {
		t.Fatalf("capture.Len() = %d, want 0 at quiescence", p.capture.Len())
	}
}

func TestInactivePipelineDropsPushedAudio(t *testing.T) {
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 100, 10, 1000, 500, 200, []decoder.Engine{eng}, sink)
	// Not activated.

	if err := p.Push(silentPCM(100)); err != nil {
		t.Fatal(err)
	}
	if p.capture.Len() != 0 {
		t.Fatalf("capture.Len() = %d, want 0 (inactive pipeline must drop pushes)", p.capture.Len())
	}
}

func TestCorkedPipelineAcceptsButDoesNotProcess(t *testing.T) {
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 100, 10, 1000, 500, 200, []decoder.Engine{eng}, sink)
	p.Activate()
	p.Cork(true)

	if err := p.Push(silentPCM(100)); err != nil {
		t.Fatal(err)
	}
	if p.capture.Len() == 0 {
		t.Fatal("expected corked push to still be accepted into the capture buffer")
	}
	if p.calibrator.Calibrated() {
		t.Fatal("expected corked pipeline to not process (calibrate)")
	}
}

func TestHWMTriggersPartialFlushesBeforeFinalFlush(t *testing.T) {
	// Scenario S4 (scaled down): continuous loud audio well past the
	// high-water mark should produce multiple partial flushes before a
	// single terminal flush at end-of-utterance.
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 50, 10, 150, 100, 60, []decoder.Engine{eng}, sink)
	p.Activate()

	if err := p.Push(silentPCM(50)); err != nil { // calibrate
		t.Fatal(err)
	}
	if !p.calibrator.Calibrated() {
		t.Fatal("expected calibration to succeed")
	}

	if err := p.Push(loudPCM(300, 20000)); err != nil {
		t.Fatal(err)
	}
	// End the utterance with enough trailing silence.
	if err := p.Push(silentPCM(200)); err != nil {
		t.Fatal(err)
	}

	if eng.partialCalls < 2 {
		t.Fatalf("partialCalls = %d, want >= 2", eng.partialCalls)
	}
	if eng.fullCalls != 1 {
		t.Fatalf("fullCalls = %d, want exactly 1", eng.fullCalls)
	}
	if len(sink.utterances) != 1 {
		t.Fatalf("len(sink.utterances) = %d, want 1", len(sink.utterances))
	}
}

func TestSinkPartialPurgePreservesTailWithPadding(t *testing.T) {
	// Scenario S5.
	frameSamples := 10
	sink := &capturingSink{purge: 0} // set per-case below
	eng := newRecordingEngine()
	p := newTestPipeline(t, 50, frameSamples, 2000, 1000, 60, []decoder.Engine{eng}, sink)
	p.Activate()

	if err := p.Push(silentPCM(50)); err != nil { // calibrate
		t.Fatal(err)
	}

	speechSamples := 400
	if err := p.Push(loudPCM(speechSamples, 20000)); err != nil {
		t.Fatal(err)
	}

	keep := 80
	sink.purge = int32(speechSamples - keep)

	if err := p.Push(silentPCM(200)); err != nil { // trigger silence -> finish utterance
		t.Fatal(err)
	}

	if len(sink.utterances) != 1 {
		t.Fatalf("len(sink.utterances) = %d, want 1", len(sink.utterances))
	}

	wantLen := keep + utteranceInjectedSilence(frameSamples)
	if p.utter.Len() != wantLen {
		t.Fatalf("utter.Len() = %d, want %d", p.utter.Len(), wantLen)
	}
}

func utteranceInjectedSilence(frameSamples int) int {
	const injectedSilence = 10
	return injectedSilence * frameSamples
}

func TestSelectDecoderSwitchesCurrent(t *testing.T) {
	sink := &capturingSink{}
	eng1 := newRecordingEngine()
	eng2 := newRecordingEngine()
	p := newTestPipeline(t, 100, 10, 1000, 500, 200, []decoder.Engine{eng1, eng2}, sink)
	if err := p.decoders.Add("music", acousticDecoderConfig()); err != nil {
		t.Fatal(err)
	}

	if err := p.SelectDecoder("music"); err != nil {
		t.Fatal(err)
	}
	if p.CurrentDecoderName() != "music" {
		t.Fatalf("CurrentDecoderName() = %q, want %q", p.CurrentDecoderName(), "music")
	}
}

func TestSelectUnknownDecoderFails(t *testing.T) {
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 100, 10, 1000, 500, 200, []decoder.Engine{eng}, sink)
	if err := p.SelectDecoder("nope"); err == nil {
		t.Fatal("expected error selecting an unknown decoder")
	}
}

func TestCheckDecoder(t *testing.T) {
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 100, 10, 1000, 500, 200, []decoder.Engine{eng}, sink)
	if !p.CheckDecoder("default") {
		t.Fatal("expected CheckDecoder(\"default\") to be true")
	}
	if p.CheckDecoder("nope") {
		t.Fatal("expected CheckDecoder(\"nope\") to be false")
	}
}

func TestFlushFullRangeResetsBuffer(t *testing.T) {
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 50, 10, 1000, 500, 10000, []decoder.Engine{eng}, sink)
	p.Activate()
	p.Push(silentPCM(50)) // calibrate
	p.Push(loudPCM(60, 20000))

	if p.utter.Len() == 0 {
		t.Fatal("expected some buffered samples before flush")
	}

	p.Flush(0, int32(p.utter.Len()))
	if p.utter.Len() != 0 {
		t.Fatalf("utter.Len() after full-range Flush = %d, want 0", p.utter.Len())
	}
}

func TestRescanIsNoop(t *testing.T) {
	sink := &capturingSink{}
	eng := newRecordingEngine()
	p := newTestPipeline(t, 50, 10, 1000, 500, 10000, []decoder.Engine{eng}, sink)
	if err := p.Rescan(0, 100); err != nil {
		t.Fatal(err)
	}
}

func TestKeepTailFromPurgeVerbatimConsumed(t *testing.T) {
	// Purge(999) drops 999+1 samples, i.e. all 1000.
	if got := keepTailFromPurge(1000, 1000); got != 999 {
		t.Fatalf("keepTailFromPurge(1000, 1000) = %d, want 999", got)
	}
}

func TestKeepTailFromPurgeDropEverythingSentinel(t *testing.T) {
	if got := keepTailFromPurge(1000, -1); got != -1 {
		t.Fatalf("keepTailFromPurge(1000, -1) = %d, want -1", got)
	}
}

func TestKeepTailFromPurgePreservesTail(t *testing.T) {
	// Scenario S5: purge_length = len - 8000 should keep 8000 samples.
	// Buffer.Purge drops its argument plus one, so the argument is
	// (20000 - 8000) - 1.
	got := keepTailFromPurge(20000, 20000-8000)
	if got != 12000-1 {
		t.Fatalf("keepTailFromPurge = %d, want %d", got, 12000-1)
	}
}

func TestKeepTailFromPurgeClampsOutOfRange(t *testing.T) {
	if got := keepTailFromPurge(1000, 5000); got != 999 {
		t.Fatalf("keepTailFromPurge with purgeLength > length = %d, want 999 (clamped to length)", got)
	}
}
