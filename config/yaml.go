package config

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func parseYaml(out interface{}, blob []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(blob))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("can't parse yaml: %w", err)
	}
	return nil
}

// Duration decodes yaml values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("can't decode duration: %w", err)
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("can't parse duration %q: %w", raw, err)
	}
	*d = Duration(dur)
	return nil
}

// Address decodes a checksummed or lowercase hex contract address.
type Address common.Address

func (a *Address) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("can't decode address: %w", err)
	}
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid hex address %q", raw)
	}
	*a = Address(common.HexToAddress(raw))
	return nil
}

func (a Address) Addr() common.Address {
	return common.Address(a)
}

// Level decodes a logrus logging level name.
type Level logrus.Level

func (l *Level) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("can't decode log level: %w", err)
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return fmt.Errorf("can't parse log level: %w", err)
	}
	*l = Level(level)
	return nil
}
