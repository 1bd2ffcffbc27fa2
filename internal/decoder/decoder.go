package decoder

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ProcessorKind classifies which postprocessing path a Decoder's
// hypotheses must be walked with.
type ProcessorKind int

const (
	// ProcessorAcoustic is used when no grammar was loaded: hypotheses
	// come from N-best enumeration over the acoustic/language model.
	ProcessorAcoustic ProcessorKind = iota
	// ProcessorFSG is used when one or more finite-state grammars were
	// loaded: hypotheses come from lattice traversal.
	ProcessorFSG
)

func (k ProcessorKind) String() string {
	if k == ProcessorFSG {
		return "fsg"
	}
	return "acoustic"
}

// Config is the set of model paths and tuning parameters a Decoder is
// built from, corresponding to the `engine.*` configuration surface.
type Config struct {
	HMM        string
	LM         string
	Dict       string
	FSG        string
	TopN       int
	SampleRate float64
}

// Decoder is one named member of a DecoderSet: a configuration bound to
// an Engine instance, tracking the in-progress utterance (if any).
type Decoder struct {
	log *slog.Logger

	Name   string
	Config Config

	// Handle is an opaque correlation token for this decoder's engine
	// instance, useful for cross-referencing log lines and diagnostics
	// without exposing the Engine itself.
	Handle uuid.UUID

	engine Engine
	fsgs   []string // enumerated grammar model names, diagnostics only
	kind   ProcessorKind

	utid        uint32
	inUtterance bool
	utteranceID string
}

// newDecoder builds a Decoder around a freshly Init'd engine. Callers
// use DecoderSet.Add rather than calling this directly.
func newDecoder(log *slog.Logger, name string, cfg Config, engine Engine) (*Decoder, error) {
	fsgs, err := engine.Init(cfg.HMM, cfg.LM, cfg.Dict, cfg.FSG, cfg.SampleRate, cfg.TopN)
	if err != nil {
		return nil, fmt.Errorf("decoder %q: init failed: %w", name, err)
	}

	kind := ProcessorAcoustic
	if len(fsgs) > 0 {
		kind = ProcessorFSG
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "decoder", "decoder_name", name)

	if cfg.FSG != "" {
		log.Info("found fsg models", "models", fsgs)
	}

	return &Decoder{
		log:    log,
		Name:   name,
		Config: cfg,
		Handle: uuid.New(),
		engine: engine,
		fsgs:   fsgs,
		kind:   kind,
		utid:   1,
	}, nil
}

// Kind reports which postprocessing path this decoder's hypotheses
// require.
func (d *Decoder) Kind() ProcessorKind { return d.kind }

// Grammars returns the enumerated finite-state grammar model names, or
// nil for an acoustic-path decoder.
func (d *Decoder) Grammars() []string { return d.fsgs }

// InUtterance reports whether an utterance is currently open.
func (d *Decoder) InUtterance() bool { return d.inUtterance }

// UtteranceID returns the id of the currently open utterance, or "" if
// none is open.
func (d *Decoder) UtteranceID() string { return d.utteranceID }

// Begin starts a new utterance, generating an id of the form
// "%07d-%s" with the decoder name. It is idempotent: a second call
// while an utterance is already open is a no-op.
func (d *Decoder) Begin() error {
	if d.inUtterance {
		return nil
	}

	id := fmt.Sprintf("%07d-%s", d.utid, d.Name)
	d.utid++

	if err := d.engine.Begin(id); err != nil {
		return fmt.Errorf("decoder %q: begin utterance: %w", d.Name, err)
	}

	d.inUtterance = true
	d.utteranceID = id
	d.log.Debug("utterance started", "utterance_id", id)
	return nil
}

// ProcessRaw hands samples to the engine for digestion. searchStart is
// true only for the first call of an utterance.
func (d *Decoder) ProcessRaw(samples []int16, searchStart, full bool) error {
	if err := d.engine.ProcessRaw(samples, searchStart, full); err != nil {
		return fmt.Errorf("decoder %q: process raw: %w", d.Name, err)
	}
	return nil
}

// End closes the current utterance. Calling End when no utterance is
// open is a no-op.
func (d *Decoder) End() error {
	if !d.inUtterance {
		return nil
	}

	id := d.utteranceID
	d.inUtterance = false
	d.utteranceID = ""

	if err := d.engine.End(); err != nil {
		return fmt.Errorf("decoder %q: end utterance: %w", d.Name, err)
	}

	d.log.Debug("utterance ended", "utterance_id", id)
	return nil
}

// Engine exposes the underlying opaque engine for the postprocessor,
// which needs it to pull N-best hypotheses or the lattice.
func (d *Decoder) Engine() Engine { return d.engine }

// Free releases the decoder's engine resources.
func (d *Decoder) Free() { d.engine.Free() }
