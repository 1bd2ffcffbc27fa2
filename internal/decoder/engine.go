// Package decoder wraps the underlying acoustic/language-model decoder
// library behind a narrow opaque-engine contract, and implements the
// DecoderSet registry that lets multiple configurations coexist and be
// selected at runtime.
package decoder

import "errors"

// ErrNoFSGModels is returned by Engine.Init when a grammar file was
// configured but the engine could not enumerate any finite-state grammar
// models from it.
var ErrNoFSGModels = errors.New("decoder: grammar file contains no fsg models")

// Segment is one word (or control token) in an acoustic-path hypothesis
// segment sequence, as walked by the postprocessor.
type Segment struct {
	Word  string
	Start int32
	End   int32
}

// LatticeEdge is one edge in the topological traversal of an FSG
// hypothesis lattice, as walked by the postprocessor.
type LatticeEdge struct {
	Word             string
	FirstEndFrameAvg int32
	FirstEndFrame    int32
}

// NBest iterates ranked alternative hypotheses for one utterance.
type NBest interface {
	// Next advances to the next hypothesis, returning false when
	// exhausted.
	Next() bool
	// Score is the current hypothesis's raw (unnormalized) log score.
	Score() int32
	// Segments returns the current hypothesis's segment sequence.
	Segments() []Segment
}

// Lattice is a decoded utterance's word-hypothesis graph.
type Lattice interface {
	// Edges returns the lattice's edges in topological order.
	Edges() []LatticeEdge
	// FrameCount is the total number of frames spanned by the lattice.
	FrameCount() int32
}

// Engine is the opaque decoder-engine collaborator consumed by a
// Decoder. Implementations wrap a real acoustic/language-model decoder
// library; ReferenceEngine in this package is a deterministic
// implementation usable in tests and as a fallback when no native
// decoder is linked in.
type Engine interface {
	// Init configures the engine from the given model paths. hmm is the
	// acoustic model directory, lm the language model file, dict the
	// pronunciation dictionary, fsg an optional grammar file path. topn
	// sets N-best breadth. Returns the enumerated grammar model names
	// (diagnostics only) when fsg is non-empty, or ErrNoFSGModels if none
	// were found.
	Init(hmm, lm, dict, fsg string, sampleRate float64, topn int) ([]string, error)

	// ProcessRaw digests raw samples into the engine's internal
	// observation sequence. searchStart requests the engine (re)start
	// its search at this call; full indicates this is the terminal flush
	// of the utterance.
	ProcessRaw(samples []int16, searchStart, full bool) error

	// Begin starts a new utterance tagged with id.
	Begin(id string) error

	// End closes the current utterance and finalizes the search.
	End() error

	// Hypothesis returns the engine's best overall hypothesis: text,
	// raw log score, and the utterance id it was computed for.
	Hypothesis() (text string, score int32, id string, err error)

	// NBestIter returns an iterator over ranked alternative hypotheses
	// for the utterance just ended. Used by the acoustic postprocessing
	// path.
	NBestIter() (NBest, error)

	// Lattice returns the hypothesis lattice for the utterance just
	// ended. Used by the FSG postprocessing path.
	Lattice() (Lattice, error)

	// LogmathExp converts a raw log score into a normalized probability
	// in [0, 1].
	LogmathExp(score int32) float64

	// Free releases engine resources. The Engine must not be used after
	// Free returns.
	Free()
}
