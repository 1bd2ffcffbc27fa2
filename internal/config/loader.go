package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads engine configuration in ascending priority order: a YAML
// file (lowest priority base layer), an ENGINE_CONFIG environment
// variable holding a JSON blob, then individual environment variable
// overrides, then whatever the caller applies programmatically after
// Load returns. Tests can override Lookup and ReadFile to inject
// deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)

	// YAMLPath is the path to the base configuration file. Empty skips
	// the YAML layer entirely.
	YAMLPath string
}

// Load produces a validated Config.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Config{
		ListenAddr: DefaultListenAddr,
		LogLevel:   DefaultLogLevel,
		TopN:       DefaultTopN,
		SampleRate: DefaultSampleRate,
		Decoders:   map[string]DecoderConfig{},
	}

	if l.YAMLPath != "" {
		raw, err := l.ReadFile(l.YAMLPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", l.YAMLPath, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", l.YAMLPath, err)
		}
	}

	if raw, ok := l.Lookup("ENGINE_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, "ENGINE_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "ENGINE_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "ENGINE_HMM", &cfg.HMM)
	overrideString(l.Lookup, "ENGINE_LM", &cfg.LM)
	overrideString(l.Lookup, "ENGINE_DICT", &cfg.Dict)
	overrideString(l.Lookup, "ENGINE_FSG", &cfg.FSG)
	overrideString(l.Lookup, "ENGINE_PULSESRC", &cfg.PulseSrc)
	overrideString(l.Lookup, "ENGINE_RECORD", &cfg.Record)
	if err := overrideInt(l.Lookup, "ENGINE_TOPN", &cfg.TopN); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(l.Lookup, "ENGINE_SAMPLERATE", &cfg.SampleRate); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyJSON(raw string, cfg *Config) error {
	var payload struct {
		ListenAddr *string                  `json:"listen_addr"`
		LogLevel   *string                  `json:"log_level"`
		HMM        *string                  `json:"hmm"`
		LM         *string                  `json:"lm"`
		Dict       *string                  `json:"dict"`
		FSG        *string                  `json:"fsg"`
		TopN       *int                     `json:"topn"`
		SampleRate *float64                 `json:"samplerate"`
		PulseSrc   *string                  `json:"pulsesrc"`
		Record     *string                  `json:"record"`
		Decoders   map[string]DecoderConfig `json:"decoders"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("config: decode ENGINE_CONFIG: %w", err)
	}

	setString(&cfg.ListenAddr, payload.ListenAddr)
	setString(&cfg.LogLevel, payload.LogLevel)
	setString(&cfg.HMM, payload.HMM)
	setString(&cfg.LM, payload.LM)
	setString(&cfg.Dict, payload.Dict)
	setString(&cfg.FSG, payload.FSG)
	setString(&cfg.PulseSrc, payload.PulseSrc)
	setString(&cfg.Record, payload.Record)
	if payload.TopN != nil {
		cfg.TopN = *payload.TopN
	}
	if payload.SampleRate != nil {
		cfg.SampleRate = *payload.SampleRate
	}
	for name, dec := range payload.Decoders {
		if cfg.Decoders == nil {
			cfg.Decoders = map[string]DecoderConfig{}
		}
		cfg.Decoders[name] = dec
	}
	return nil
}

func setString(target *string, value *string) {
	if value != nil && *value != "" {
		*target = *value
	}
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}
