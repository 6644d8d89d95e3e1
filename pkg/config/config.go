// Package config holds the serve command's configuration, loadable from an
// optional YAML file with flags layered on top.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chatwire/chatwire/pkg/redisstream"
)

// Duration parses YAML duration strings like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Wrap(err, "duration must be a string like \"5m\"")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Addr           string               `yaml:"addr"`
	SessionsDir    string               `yaml:"sessionsDir"`
	PairingWindow  Duration             `yaml:"pairingWindow"`
	WebhookTimeout Duration             `yaml:"webhookTimeout"`
	MessageLogDB   string               `yaml:"messageLogDb"`
	LogLevel       string               `yaml:"logLevel"`
	SimAutoPair    Duration             `yaml:"simAutoPair"`
	Redis          redisstream.Settings `yaml:"redis"`
}

func Default() Config {
	return Config{
		Addr:           ":3000",
		SessionsDir:    "./sessions",
		PairingWindow:  Duration(5 * time.Minute),
		WebhookTimeout: Duration(10 * time.Second),
		LogLevel:       "info",
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %q", path)
	}
	return cfg, nil
}
