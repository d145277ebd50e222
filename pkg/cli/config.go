package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form of Options. Unset keys keep the flag
// defaults.
type fileConfig struct {
	Fix         *bool   `yaml:"fix"`
	Interactive *bool   `yaml:"interactive"`
	Verbose     *bool   `yaml:"verbose"`
	SkipPrereq  *bool   `yaml:"skip-prereq"`
	ScratchDir  *string `yaml:"scratch-dir"`
	StateLog    *string `yaml:"state-log"`
	HistoryDB   *string `yaml:"history-db"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig fills opts from the file named by --config. Flags given on
// the command line always win over the file.
func applyConfig(flags *pflag.FlagSet, opts *Options) error {
	if opts.ConfigFile == "" {
		return nil
	}
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}

	fromFile(flags, "fix", &opts.Fix, cfg.Fix)
	fromFile(flags, "interactive", &opts.Interactive, cfg.Interactive)
	fromFile(flags, "verbose", &opts.Verbose, cfg.Verbose)
	fromFile(flags, "skip-prereq", &opts.SkipPrereq, cfg.SkipPrereq)
	fromFile(flags, "scratch-dir", &opts.ScratchDir, cfg.ScratchDir)
	fromFile(flags, "state-log", &opts.StateLog, cfg.StateLog)
	fromFile(flags, "history-db", &opts.HistoryDB, cfg.HistoryDB)
	return nil
}

func fromFile[T any](flags *pflag.FlagSet, name string, dst, v *T) {
	if v != nil && !flags.Changed(name) {
		*dst = *v
	}
}
