package config

import "fmt"

const (
	DefaultListenAddr  = "localhost:50071"
	DefaultLogLevel    = "info"
	DefaultTopN        = 12
	DefaultSampleRate  = 16000
	MinSampleRate      = 8000
	MaxSampleRate      = 48000
	MinTopN            = 1
	MaxTopN            = 100
	DefaultDecoderName = "default"
)

// DecoderConfig is one entry of the `engine.*` configuration surface's
// decoder declarations: the acoustic model directory, language model,
// dictionary and optional grammar a Decoder is built from.
type DecoderConfig struct {
	HMM  string `json:"hmm" yaml:"hmm"`
	LM   string `json:"lm" yaml:"lm"`
	Dict string `json:"dict" yaml:"dict"`
	FSG  string `json:"fsg" yaml:"fsg"`
}

// Config holds the engine configuration: the ambient surface (listen
// address, log level) plus the domain surface — a default decoder's
// model paths and tuning, plus any number of additionally declared
// decoders.
type Config struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	HMM        string  `json:"hmm" yaml:"hmm"`
	LM         string  `json:"lm" yaml:"lm"`
	Dict       string  `json:"dict" yaml:"dict"`
	FSG        string  `json:"fsg" yaml:"fsg"`
	TopN       int     `json:"topn" yaml:"topn"`
	SampleRate float64 `json:"samplerate" yaml:"samplerate"`
	PulseSrc   string  `json:"pulsesrc" yaml:"pulsesrc"`
	Record     string  `json:"record" yaml:"record"`

	// Decoders holds additionally declared decoders, keyed by name, on
	// top of the implicit "default" decoder built from the fields
	// above.
	Decoders map[string]DecoderConfig `json:"decoders" yaml:"decoders"`
}

// DefaultDecoder returns the implicit decoder declaration built from
// the top-level hmm/lm/dict/fsg fields.
func (c Config) DefaultDecoder() DecoderConfig {
	return DecoderConfig{HMM: c.HMM, LM: c.LM, Dict: c.Dict, FSG: c.FSG}
}

// Validate checks the configuration for conditions that make it
// invalid: bad sample rate, a decoder declaration missing lm or dict,
// or an out-of-range topn.
func (c Config) Validate() error {
	if c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate {
		return fmt.Errorf("config: samplerate %v out of range [%d, %d]", c.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.TopN < MinTopN || c.TopN > MaxTopN {
		return fmt.Errorf("config: topn %d out of range [%d, %d]", c.TopN, MinTopN, MaxTopN)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}

	if err := validateDecoder(DefaultDecoderName, c.DefaultDecoder()); err != nil {
		return err
	}
	for name, dec := range c.Decoders {
		if err := validateDecoder(name, dec); err != nil {
			return err
		}
	}
	return nil
}

func validateDecoder(name string, dec DecoderConfig) error {
	if dec.LM == "" || dec.Dict == "" {
		return fmt.Errorf("config: decoder %q: both lm and dict are required", name)
	}
	return nil
}

// Summary renders the decoder roster for the startup log, grounded on
// the original plugin's print_decoders diagnostic.
func (c Config) Summary() string {
	s := fmt.Sprintf("default(hmm=%s, lm=%s, dict=%s", c.HMM, c.LM, c.Dict)
	if c.FSG != "" {
		s += fmt.Sprintf(", fsg=%s", c.FSG)
	}
	s += ")"

	for _, name := range sortedKeys(c.Decoders) {
		dec := c.Decoders[name]
		s += fmt.Sprintf(", %s(hmm=%s, lm=%s, dict=%s", name, dec.HMM, dec.LM, dec.Dict)
		if dec.FSG != "" {
			s += fmt.Sprintf(", fsg=%s", dec.FSG)
		}
		s += ")"
	}
	return s
}

func sortedKeys(m map[string]DecoderConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
