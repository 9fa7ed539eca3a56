package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	dErrors "throttleguard/pkg/domain-errors"
)

// Load returns the reference policy overlaid with the YAML file at path.
// An empty path yields the reference policy. Any read, parse or validation
// failure is a configuration error.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "read throttle policy file")
	}
	return Parse(raw)
}

// Parse overlays a YAML policy document on the reference policy.
// Unknown keys are rejected so typos cannot silently disable a limit.
func Parse(raw []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "parse throttle policy: "+err.Error())
	}

	cfg.inheritGlobal()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
