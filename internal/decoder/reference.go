package decoder

import "math"

// ReferenceEngine is a deterministic, dependency-free Engine
// implementation. It performs no real acoustic decoding: callers
// preload the hypotheses it should report via NBestHypotheses and
// LatticeResult, then exercise it through the normal Engine contract.
// It exists so the decoder and postprocess packages are fully testable
// without a native speech-decoder library, and doubles as the engine
// behind a "null" decoder configuration in deployments that only need
// the FSG path wired.
type ReferenceEngine struct {
	fsgModels []string

	digested int
	utid     string

	// NBestHypotheses seeds the result of NBestIter, in rank order
	// (highest score first), for the acoustic postprocessing path.
	NBestHypotheses []ReferenceHypothesis

	// LatticeResult seeds the result of Lattice, for the FSG
	// postprocessing path.
	LatticeResult ReferenceLattice

	// BestScore seeds the result of Hypothesis.
	BestScore int32
	BestText  string
}

// ReferenceHypothesis is one canned N-best alternative.
type ReferenceHypothesis struct {
	Score    int32
	Segments []Segment
}

// ReferenceLattice is a canned lattice.
type ReferenceLattice struct {
	LatticeEdges []LatticeEdge
	Frames       int32
}

// NewReferenceEngine creates a ReferenceEngine with no preloaded
// hypotheses; the caller populates NBestHypotheses/LatticeResult before
// the engine is exercised.
func NewReferenceEngine() *ReferenceEngine {
	return &ReferenceEngine{}
}

func (e *ReferenceEngine) Init(hmm, lm, dict, fsg string, sampleRate float64, topn int) ([]string, error) {
	if fsg == "" {
		return nil, nil
	}
	if len(e.fsgModels) == 0 {
		e.fsgModels = []string{"default"}
	}
	return e.fsgModels, nil
}

func (e *ReferenceEngine) ProcessRaw(samples []int16, searchStart, full bool) error {
	e.digested += len(samples)
	return nil
}

func (e *ReferenceEngine) Begin(id string) error {
	e.utid = id
	e.digested = 0
	return nil
}

func (e *ReferenceEngine) End() error { return nil }

func (e *ReferenceEngine) Hypothesis() (string, int32, string, error) {
	return e.BestText, e.BestScore, e.utid, nil
}

func (e *ReferenceEngine) NBestIter() (NBest, error) {
	return &referenceNBest{hyps: e.NBestHypotheses, idx: -1}, nil
}

func (e *ReferenceEngine) Lattice() (Lattice, error) {
	return &referenceLattice{result: e.LatticeResult}, nil
}

// LogmathExp mirrors sphinxbase's logmath_exp: exp of the raw log score
// scaled by a fixed logarithm base, clamped into (0, 1].
func (e *ReferenceEngine) LogmathExp(score int32) float64 {
	if score >= 0 {
		return 1.0
	}
	const logBase = 1.0001
	p := math.Pow(logBase, float64(score))
	if p > 1.0 {
		p = 1.0
	}
	return p
}

func (e *ReferenceEngine) Free() {}

type referenceNBest struct {
	hyps []ReferenceHypothesis
	idx  int
}

func (n *referenceNBest) Next() bool {
	n.idx++
	return n.idx < len(n.hyps)
}

func (n *referenceNBest) Score() int32 {
	if n.idx < 0 || n.idx >= len(n.hyps) {
		return 0
	}
	return n.hyps[n.idx].Score
}

func (n *referenceNBest) Segments() []Segment {
	if n.idx < 0 || n.idx >= len(n.hyps) {
		return nil
	}
	return n.hyps[n.idx].Segments
}

type referenceLattice struct {
	result ReferenceLattice
}

func (l *referenceLattice) Edges() []LatticeEdge { return l.result.LatticeEdges }

func (l *referenceLattice) FrameCount() int32 { return l.result.Frames }
