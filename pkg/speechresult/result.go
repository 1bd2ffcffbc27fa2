// Package speechresult defines the types an engine emits to its
// upstream dispatcher.
package speechresult

// Word is one recognized word (or grammar token) within a Candidate,
// with its frame-aligned span.
type Word struct {
	Text  string
	Start int32
	End   int32
}

// Candidate is one ranked word-sequence hypothesis for an utterance.
type Candidate struct {
	// Quality is in (0, 1].
	Quality float64
	Words   []Word
}

// Utterance is the result record handed to a Sink after the decoder's
// utterance_end and the postprocessor finish.
type Utterance struct {
	// ID is the printable identifier assigned at utterance_start,
	// formatted "%07d-%s" with the decoder name.
	ID string
	// Quality is the utterance's overall quality, in (0, 1].
	Quality float64
	// Length is the utterance's length in samples.
	Length int32
	// Cands is ranked in non-increasing quality order, with
	// duplicates (under word-sequence equality) collapsed. Bounded by
	// CandidateMax.
	Cands []Candidate
}

// Sink is the dispatcher-facing interface an engine delivers finalized
// utterances to. The returned purge length tells the engine how much of
// the utterance buffer to discard: Length if the utterance was consumed
// verbatim, a smaller positive count to preserve a trailing tail, or -1
// to drop everything.
type Sink interface {
	OnUtterance(Utterance) (purgeSamples int32)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Utterance) int32

// OnUtterance calls f(u).
func (f SinkFunc) OnUtterance(u Utterance) int32 { return f(u) }
