package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ErrMultipleDocuments is returned when a config file holds more than one
// YAML document.
var ErrMultipleDocuments = errors.New("config holds more than one YAML document")

// Parse decodes data over DefaultConfig, so omitted fields keep their
// defaults. Unknown fields and type mismatches are errors.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	switch err := dec.Decode(cfg); {
	case errors.Is(err, io.EOF):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", ErrMultipleDocuments)
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML with the two-space indent the template uses.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf.Bytes(), nil
}
