package decoder

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Select when no decoder with the given name
// has been added.
var ErrNotFound = errors.New("decoder: not found")

// EngineFactory constructs a fresh Engine for a newly added decoder.
// Grouping construction behind a factory (rather than the caller
// passing a ready-made Engine) mirrors decoder_set_add building its own
// ps_decoder_t from the supplied Config.
type EngineFactory func() Engine

// Set is the insertion-ordered registry of Decoders with a distinguished
// current selection, grounded on decoder-set.c's decoder_set_t: once a
// decoder has been added, current is always a member of the set.
// NewSet adds no decoder itself; the caller adds the "default" one.
type Set struct {
	log *slog.Logger

	order []string
	decs  map[string]*Decoder
	cur   string

	newEngine EngineFactory
}

// NewSet creates an empty Set. newEngine is invoked once per Add call to
// obtain the Engine the new decoder's Config is bound to.
func NewSet(log *slog.Logger, newEngine EngineFactory) *Set {
	if log == nil {
		log = slog.Default()
	}
	return &Set{
		log:       log.With("component", "decoder_set"),
		decs:      make(map[string]*Decoder),
		newEngine: newEngine,
	}
}

// Add builds and registers a new Decoder under name. A decoder
// declaration without both lm and dict is rejected. The first decoder
// ever added becomes current.
func (s *Set) Add(name string, cfg Config) error {
	if cfg.LM == "" || cfg.Dict == "" {
		return fmt.Errorf("decoder %q: lm and dict are both required", name)
	}

	dec, err := newDecoder(s.log, name, cfg, s.newEngine())
	if err != nil {
		return err
	}

	if _, exists := s.decs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.decs[name] = dec

	if s.cur == "" {
		s.cur = name
	}

	s.log.Info("decoder added", "name", name, "processor_kind", dec.Kind().String())
	return nil
}

// Contains reports whether a decoder named name has been added.
func (s *Set) Contains(name string) bool {
	_, ok := s.decs[name]
	return ok
}

// Select switches the current decoder to name. If the previous current
// decoder has an utterance open, it is closed first and the implicit
// closure is logged, so switching mid-utterance is never left undefined.
func (s *Set) Select(name string) error {
	if _, ok := s.decs[name]; !ok {
		return fmt.Errorf("decoder %q: %w", name, ErrNotFound)
	}

	if prev, ok := s.decs[s.cur]; ok && prev.InUtterance() {
		s.log.Warn("closing open utterance due to decoder switch",
			"from", s.cur, "to", name, "utterance_id", prev.UtteranceID())
		if err := prev.End(); err != nil {
			s.log.Error("failed to close utterance during decoder switch", "error", err)
		}
	}

	s.cur = name
	return nil
}

// Current returns the currently selected Decoder, or nil if the set is
// empty.
func (s *Set) Current() *Decoder {
	return s.decs[s.cur]
}

// CurrentName returns the name of the currently selected decoder, or ""
// if the set is empty.
func (s *Set) CurrentName() string { return s.cur }

// Names returns decoder names in insertion order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Close releases every decoder's engine resources.
func (s *Set) Close() {
	for _, name := range s.order {
		if dec := s.decs[name]; dec != nil {
			dec.Free()
		}
	}
}
