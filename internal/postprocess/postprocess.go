// Package postprocess turns a decoder's hypothesis output — either an
// N-best enumeration (acoustic path) or a word lattice (FSG path) —
// into the ranked, deduplicated Utterance result defined in
// pkg/speechresult.
package postprocess

import (
	"strings"

	"github.com/speechpipe/enginecore/internal/decoder"
	"github.com/speechpipe/enginecore/pkg/speechresult"
)

// CandidateMax bounds the number of ranked candidates kept for an
// utterance. The source repository carries two divergent constants (5
// and 1000) across two copies of utterance.h; this engine uses the one
// from the copy actually wired into the integrated decoder-set/utterance
// pipeline.
const CandidateMax = 1000

// CandidateWordMax bounds the number of words kept per candidate.
const CandidateWordMax = 50

const (
	startOfSentence = "<s>"
	endOfSentence   = "</s>"
	silenceToken    = "<sil>"

	// unterminatedPenalty is applied to a candidate's quality when its
	// segment walk never reached an explicit end-of-sentence marker.
	unterminatedPenalty = 0.9

	// minAcousticP is the floor applied to the best hypothesis's
	// normalized probability before it is used as a quality denominator.
	minAcousticP = 1e-8

	// minFSGQuality is the floor applied to an FSG utterance's overall
	// quality.
	minFSGQuality = 1e-5
)

type candidateBuild struct {
	quality float64
	words   []speechresult.Word
	length  int32
}

// Process converts the engine's hypothesis output for the utterance
// just ended into a ranked Utterance result, dispatching on kind.
func Process(eng decoder.Engine, kind decoder.ProcessorKind, utteranceID string) (speechresult.Utterance, error) {
	if kind == decoder.ProcessorFSG {
		return processFSG(eng, utteranceID)
	}
	return processAcoustic(eng, utteranceID)
}

func processAcoustic(eng decoder.Engine, utteranceID string) (speechresult.Utterance, error) {
	_, bestScore, _, err := eng.Hypothesis()
	if err != nil {
		return speechresult.Utterance{}, err
	}

	pBest := eng.LogmathExp(bestScore)
	if pBest < minAcousticP {
		pBest = minAcousticP
	}

	nbest, err := eng.NBestIter()
	if err != nil {
		return speechresult.Utterance{}, err
	}

	var builds []candidateBuild
	for i := 0; i < CandidateMax-1 && nbest.Next(); i++ {
		build, ok := walkAcousticSegments(nbest.Segments())
		if !ok {
			continue
		}
		build.quality *= eng.LogmathExp(nbest.Score()) / pBest
		builds = append(builds, build)
	}

	sorted := candidateSort(builds)

	u := speechresult.Utterance{ID: utteranceID}
	u.Cands = make([]speechresult.Candidate, len(sorted))
	for i, b := range sorted {
		u.Cands[i] = speechresult.Candidate{Quality: b.quality, Words: b.words}
	}
	if len(sorted) > 0 {
		u.Quality = sorted[0].quality
		u.Length = sorted[0].length
	} else {
		u.Quality = pBest
	}
	return u, nil
}

// walkAcousticSegments walks one N-best hypothesis's segment sequence,
// returning ok=false if no start-of-sentence marker was found.
func walkAcousticSegments(segments []Segment) (candidateBuild, bool) {
	i := 0
	for i < len(segments) && segments[i].Word != startOfSentence {
		i++
	}
	if i >= len(segments) {
		return candidateBuild{}, false
	}
	i++ // consume <s>

	var build candidateBuild
	closed := false
	for ; i < len(segments); i++ {
		seg := segments[i]
		switch seg.Word {
		case endOfSentence:
			build.length = seg.End
			closed = true
		case silenceToken:
			continue
		default:
			if len(build.words) < CandidateWordMax {
				build.words = append(build.words, speechresult.Word{
					Text: seg.Word, Start: seg.Start, End: seg.End,
				})
			}
			build.length = seg.End
			continue
		}
		break
	}

	if !closed {
		build.quality = unterminatedPenalty
	} else {
		build.quality = 1
	}
	return build, true
}

// Segment aliases decoder.Segment so postprocess's acoustic-path helper
// signature reads naturally; both are the plain (word, start, end)
// triple a decoded segment carries.
type Segment = decoder.Segment

func processFSG(eng decoder.Engine, utteranceID string) (speechresult.Utterance, error) {
	_, bestScore, _, err := eng.Hypothesis()
	if err != nil {
		return speechresult.Utterance{}, err
	}
	pBest := eng.LogmathExp(bestScore)

	lat, err := eng.Lattice()
	if err != nil {
		return speechresult.Utterance{}, err
	}

	var words []speechresult.Word
	var prevEnd int32
	havePrev := false

	for _, edge := range lat.Edges() {
		if strings.HasPrefix(edge.Word, "<") {
			continue
		}
		if havePrev && edge.FirstEndFrameAvg < prevEnd {
			break // take one path only
		}

		if !(len(words) > 0 && wdeq(words[len(words)-1].Text, edge.Word)) {
			words = append(words, speechresult.Word{
				Text:  edge.Word,
				Start: edge.FirstEndFrameAvg,
				End:   edge.FirstEndFrame,
			})
		}

		prevEnd = edge.FirstEndFrame
		havePrev = true
	}

	quality := pBest
	if quality < minFSGQuality {
		quality = minFSGQuality
	}

	u := speechresult.Utterance{
		ID:      utteranceID,
		Quality: quality,
		Length:  lat.FrameCount(),
		Cands:   []speechresult.Candidate{{Quality: 1.0, Words: words}},
	}
	return u, nil
}

// candidateSort ranks candidates by insertion with equality collapse:
// non-increasing quality (equal qualities keep input order), duplicates
// under wdeq collapsed to whichever instance has higher quality.
func candidateSort(in []candidateBuild) []candidateBuild {
	var out []candidateBuild

	for _, c := range in {
		placed := false
		for s := 0; s < len(out); s++ {
			if equalCandidates(c.words, out[s].words) {
				if c.quality > out[s].quality {
					out[s] = c
				}
				placed = true
				break
			}
			if c.quality > out[s].quality {
				for d := s + 1; d < len(out); d++ {
					if equalCandidates(c.words, out[d].words) {
						out = append(out[:d], out[d+1:]...)
						break
					}
				}
				out = append(out, candidateBuild{})
				copy(out[s+1:], out[s:len(out)-1])
				out[s] = c
				placed = true
				break
			}
		}
		if !placed {
			out = append(out, c)
		}
	}

	return out
}

func equalCandidates(a, b []speechresult.Word) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !wdeq(a[i].Text, b[i].Text) {
			return false
		}
	}
	return true
}

// wdeq reports whether two words are equal: exactly equal, or equal in
// their prefixes before a parenthesized suffix marker ("color" ==
// "color(2)").
func wdeq(a, b string) bool {
	if a == b {
		return true
	}
	return wordPrefix(a) == wordPrefix(b)
}

func wordPrefix(w string) string {
	if i := strings.IndexByte(w, '('); i >= 0 {
		return w[:i]
	}
	return w
}
