package decoder

import "testing"

func acousticConfig() Config {
	return Config{HMM: "/models/hmm", LM: "/models/lm", Dict: "/models/dict", TopN: 12, SampleRate: 16000}
}

func TestAddRejectsMissingLMOrDict(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })

	if err := s.Add("bad", Config{HMM: "/models/hmm"}); err == nil {
		t.Fatal("expected error for a decoder missing both lm and dict")
	}
	if err := s.Add("bad2", Config{HMM: "/models/hmm", LM: "/models/lm"}); err == nil {
		t.Fatal("expected error for a decoder missing dict")
	}
}

func TestFirstAddedDecoderBecomesCurrent(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	if err := s.Add("default", acousticConfig()); err != nil {
		t.Fatal(err)
	}
	if s.CurrentName() != "default" {
		t.Fatalf("CurrentName() = %q, want %q", s.CurrentName(), "default")
	}
	if s.Current() == nil {
		t.Fatal("Current() = nil")
	}
}

func TestAddFSGSetsProcessorKind(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	cfg := acousticConfig()
	cfg.FSG = "/models/music.fsg"
	if err := s.Add("music", cfg); err != nil {
		t.Fatal(err)
	}
	if s.decs["music"].Kind() != ProcessorFSG {
		t.Fatalf("Kind() = %v, want ProcessorFSG", s.decs["music"].Kind())
	}
}

func TestAddAcousticSetsProcessorKind(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	if err := s.Add("default", acousticConfig()); err != nil {
		t.Fatal(err)
	}
	if s.decs["default"].Kind() != ProcessorAcoustic {
		t.Fatalf("Kind() = %v, want ProcessorAcoustic", s.decs["default"].Kind())
	}
}

func TestSelectUnknownReturnsNotFound(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	s.Add("default", acousticConfig())
	if err := s.Select("nope"); err == nil {
		t.Fatal("expected ErrNotFound")
	}
}

func TestSelectSwitchesCurrent(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	s.Add("default", acousticConfig())
	s.Add("music", acousticConfig())

	if err := s.Select("music"); err != nil {
		t.Fatal(err)
	}
	if s.CurrentName() != "music" {
		t.Fatalf("CurrentName() = %q, want %q", s.CurrentName(), "music")
	}
}

func TestSelectClosesOpenUtteranceOnPreviousDecoder(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	s.Add("default", acousticConfig())
	s.Add("music", acousticConfig())

	dec := s.Current()
	if err := dec.Begin(); err != nil {
		t.Fatal(err)
	}
	if !dec.InUtterance() {
		t.Fatal("expected utterance to be open")
	}

	if err := s.Select("music"); err != nil {
		t.Fatal(err)
	}
	if dec.InUtterance() {
		t.Fatal("expected previous decoder's utterance to be closed by Select")
	}
}

func TestContains(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	s.Add("default", acousticConfig())
	if !s.Contains("default") {
		t.Fatal("Contains(\"default\") = false, want true")
	}
	if s.Contains("nope") {
		t.Fatal("Contains(\"nope\") = true, want false")
	}
}

func TestNamesPreservesInsertionOrder(t *testing.T) {
	s := NewSet(nil, func() Engine { return NewReferenceEngine() })
	s.Add("default", acousticConfig())
	s.Add("music", acousticConfig())
	s.Add("news", acousticConfig())

	names := s.Names()
	want := []string{"default", "music", "news"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("Names()[%d] = %q, want %q", i, names[i], n)
		}
	}
}
