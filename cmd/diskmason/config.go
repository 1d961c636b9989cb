package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/diskmason/diskmason/internal/assembler"
)

type toolConfig struct {
	// Workers bounds concurrent partition staging.
	Workers int `toml:"workers"`
	// ScratchDir is the parent directory for scratch workspaces.
	ScratchDir string `toml:"scratch_dir"`
	// PreserveScratch keeps the scratch workspace of failed builds.
	PreserveScratch bool `toml:"preserve_scratch"`
	// MinSlack is the extra capacity in bytes reserved when the image
	// grows to fit its partitions.
	MinSlack uint64 `toml:"min_slack"`
}

func parseConfig(file string) (*toolConfig, error) {
	// set defaults
	config := toolConfig{
		Workers: assembler.DefaultWorkers,
	}

	_, err := toml.DecodeFile(file, &config)
	if err != nil {
		// A non-existing config isn't an error, use defaults in this case.
		if !os.IsNotExist(err) {
			return nil, err
		}
		logrus.Debug("Configuration file not found, using defaults")
	}

	if config.Workers <= 0 {
		return nil, fmt.Errorf("invalid worker count: %d", config.Workers)
	}
	return &config, nil
}
